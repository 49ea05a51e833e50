package policy

import (
	"context"
	"testing"
	"time"

	"entryminder/internal/reminder"
	"entryminder/internal/storage"
)

func TestExpireSweep(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()

	day := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	put := func(entity string, typ reminder.Type, firing time.Time) {
		t.Helper()
		rec := reminder.Record{
			Schema: 1, ID: entity + "-r", EntityID: entity, Type: typ,
			OSScheduleID: entity + "-os", FiringTime: firing,
			Status: reminder.StatusScheduled,
		}
		if err := st.PutSeries(ctx, entity, typ, []reminder.Record{rec}); err != nil {
			t.Fatal(err)
		}
	}

	put("a", reminder.TypeWindowOpen, day.Add(10*time.Hour))      // fired at 10:00
	put("b", reminder.TypeDeadlineRepeat, day.Add(20*time.Hour))  // deadline 20:00
	put("c", reminder.TypeUrgent, day.AddDate(0, 0, 2))           // still future

	// 23:00 the same day: the single-shot is past its firing time, the
	// deadline record still has its day of grace.
	now := day.Add(23 * time.Hour)
	n, err := ExpireSweep(ctx, st, time.UTC, now, nil, logNop())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}
	recs, _ := st.GetSeries(ctx, "a", reminder.TypeWindowOpen)
	if recs[0].Status != reminder.StatusExpired {
		t.Fatalf("window record status = %q", recs[0].Status)
	}
	recs, _ = st.GetSeries(ctx, "b", reminder.TypeDeadlineRepeat)
	if recs[0].Status != reminder.StatusScheduled {
		t.Fatalf("deadline expired within its grace day: %q", recs[0].Status)
	}

	// Past midnight the grace is spent.
	now = day.AddDate(0, 0, 1).Add(time.Hour)
	n, err = ExpireSweep(ctx, st, time.UTC, now, nil, logNop())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("second sweep expired %d, want 1", n)
	}
	recs, _ = st.GetSeries(ctx, "b", reminder.TypeDeadlineRepeat)
	if recs[0].Status != reminder.StatusExpired {
		t.Fatalf("deadline record status = %q", recs[0].Status)
	}

	// The future record is untouched throughout.
	recs, _ = st.GetSeries(ctx, "c", reminder.TypeUrgent)
	if recs[0].Status != reminder.StatusScheduled {
		t.Fatalf("future record status = %q", recs[0].Status)
	}
}
