package policy

import (
	"context"
	"testing"
	"time"

	"entryminder/internal/osched"
	"entryminder/internal/reminder"
	"entryminder/internal/storage"
	logx "entryminder/pkg/logx"
)

func logNop() logx.Logger { return logx.Nop() }

func testDeps(t *testing.T, now time.Time) (Deps, storage.Store, *osched.Local) {
	t.Helper()
	st := storage.NewMemory()
	ad := osched.NewLocal(osched.Config{}, logNop())
	deps := Deps{
		Store:   st,
		Adapter: ad,
		Clock:   func() time.Time { return now },
	}
	return deps, st, ad
}

func testConfig() Config {
	return Config{Location: time.UTC}
}

func TestWindowOpenSchedule(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	deps, _, ad := testDeps(t, now)
	p := NewWindowOpen(testConfig(), deps)
	ctx := context.Background()

	arrival := time.Date(2026, 9, 20, 12, 0, 0, 0, time.UTC)
	recs, err := p.Schedule(ctx, Request{EntityID: "trip-1", Arrival: arrival, Destination: "JP"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if want := arrival.AddDate(0, 0, -7); !recs[0].FiringTime.Equal(want) {
		t.Fatalf("firing = %v, want %v", recs[0].FiringTime, want)
	}
	if recs[0].Status != reminder.StatusScheduled {
		t.Fatalf("status = %q", recs[0].Status)
	}

	live, _ := ad.ListScheduled(ctx)
	if len(live) != 1 {
		t.Fatalf("os entries = %d, want 1", len(live))
	}

	// Idempotent: a second call returns the same record, schedules nothing new.
	again, err := p.Schedule(ctx, Request{EntityID: "trip-1", Arrival: arrival})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if len(again) != 1 || again[0].ID != recs[0].ID {
		t.Fatalf("second schedule did not return the existing record")
	}
	live, _ = ad.ListScheduled(ctx)
	if len(live) != 1 {
		t.Fatalf("os entries after repeat = %d, want 1", len(live))
	}
}

func TestScheduleValidation(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	deps, _, _ := testDeps(t, now)
	p := NewWindowOpen(testConfig(), deps)
	ctx := context.Background()

	if _, err := p.Schedule(ctx, Request{Arrival: now.AddDate(0, 0, 30)}); err != reminder.ErrMissingEntityID {
		t.Fatalf("missing entity: got %v", err)
	}
	if _, err := p.Schedule(ctx, Request{EntityID: "trip-1"}); err != reminder.ErrMissingArrival {
		t.Fatalf("missing arrival: got %v", err)
	}
}

func TestPastFiringTimeIsSilentSkip(t *testing.T) {
	now := time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC)
	deps, st, ad := testDeps(t, now)
	p := NewWindowOpen(testConfig(), deps)
	ctx := context.Background()

	// Arrival in 2 days: the 7-day lead is already in the past.
	recs, err := p.Schedule(ctx, Request{EntityID: "trip-1", Arrival: now.AddDate(0, 0, 2)})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if recs != nil {
		t.Fatalf("got records %v, want none", recs)
	}
	stored, _ := st.GetSeries(ctx, "trip-1", reminder.TypeWindowOpen)
	if len(stored) != 0 {
		t.Fatalf("stored %d records, want 0", len(stored))
	}
	live, _ := ad.ListScheduled(ctx)
	if len(live) != 0 {
		t.Fatalf("os entries = %d, want 0", len(live))
	}
}

func TestCancelNoopReturnsFalse(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	deps, _, _ := testDeps(t, now)
	p := NewUrgent(testConfig(), deps)

	ok, err := p.Cancel(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if ok {
		t.Fatal("cancel of nothing reported true")
	}
}

func TestSubmissionConfirmedCancel(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	deps, st, _ := testDeps(t, now)
	p := NewUrgent(testConfig(), deps)
	ctx := context.Background()

	arrival := now.AddDate(0, 0, 10)
	if _, err := p.Schedule(ctx, Request{EntityID: "trip-1", Arrival: arrival}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// Empty confirmation code: never cancels.
	ok, err := p.OnSubmissionConfirmed(ctx, "trip-1", reminder.SubmissionProof{ConfirmationCode: "  "})
	if err != nil {
		t.Fatalf("invalid proof: %v", err)
	}
	if ok {
		t.Fatal("invalid proof cancelled the reminder")
	}
	active, _ := p.Active(ctx, "trip-1")
	if len(active) != 1 {
		t.Fatalf("active after invalid proof = %d, want 1", len(active))
	}

	ok, err = p.OnSubmissionConfirmed(ctx, "trip-1", reminder.SubmissionProof{ConfirmationCode: "ABC123"})
	if err != nil {
		t.Fatalf("valid proof: %v", err)
	}
	if !ok {
		t.Fatal("valid proof did not cancel")
	}
	recs, _ := st.GetSeries(ctx, "trip-1", reminder.TypeUrgent)
	if len(recs) != 1 || recs[0].Status != reminder.StatusCancelled {
		t.Fatalf("record not cancelled: %+v", recs)
	}
}

func TestOnArrivalChangedAlwaysReschedules(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	deps, st, _ := testDeps(t, now)
	p := NewWindowOpen(testConfig(), deps)
	ctx := context.Background()

	arrival := now.AddDate(0, 0, 20)
	first, err := p.Schedule(ctx, Request{EntityID: "trip-1", Arrival: arrival})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// Same arrival: the contract is cancel-then-reschedule, unconditionally.
	second, err := p.OnArrivalChanged(ctx, Request{EntityID: "trip-1", Arrival: arrival})
	if err != nil {
		t.Fatalf("arrival changed: %v", err)
	}
	if len(second) != 1 || second[0].ID == first[0].ID {
		t.Fatalf("expected a fresh record, got %+v", second)
	}

	recs, _ := st.GetSeries(ctx, "trip-1", reminder.TypeWindowOpen)
	cancelled, scheduled := 0, 0
	for _, r := range recs {
		switch r.Status {
		case reminder.StatusCancelled:
			cancelled++
		case reminder.StatusScheduled:
			scheduled++
		}
	}
	if cancelled != 1 || scheduled != 1 {
		t.Fatalf("cancelled=%d scheduled=%d, want 1/1", cancelled, scheduled)
	}
}

func TestUrgentFrequencyGuard(t *testing.T) {
	base := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	now := base
	st := storage.NewMemory()
	deps := Deps{
		Store:   st,
		Adapter: osched.NewLocal(osched.Config{}, logNop()),
		Clock:   func() time.Time { return now },
	}
	p := NewUrgent(testConfig(), deps)
	ctx := context.Background()

	ok, err := p.AllowSend(ctx, "trip-1")
	if err != nil || !ok {
		t.Fatalf("first send: ok=%v err=%v", ok, err)
	}
	if err := p.MarkSent(ctx, "trip-1"); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	now = base.Add(30 * time.Minute)
	if ok, _ := p.AllowSend(ctx, "trip-1"); ok {
		t.Fatal("send allowed 30m after previous; guard gap is 1h")
	}

	now = base.Add(90 * time.Minute)
	if ok, _ := p.AllowSend(ctx, "trip-1"); !ok {
		t.Fatal("send rejected 90m after previous")
	}

	// AllowSend alone must not move the guard.
	last, found, _ := st.GetGuard(ctx, "trip-1", reminder.TypeUrgent)
	if !found || !last.Equal(base) {
		t.Fatalf("guard = %v found=%v, want %v", last, found, base)
	}
}

func TestDeadlineScheduleSeries(t *testing.T) {
	now := time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC)
	deps, st, _ := testDeps(t, now)
	p := NewDeadline(testConfig(), deps)
	ctx := context.Background()

	arrival := time.Date(2026, 12, 1, 10, 0, 0, 0, time.UTC)
	recs, err := p.Schedule(ctx, Request{EntityID: "trip-1", Arrival: arrival, Destination: "SG"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("series length = %d, want 4", len(recs))
	}
	for i, r := range recs {
		if r.RepeatIndex != i {
			t.Fatalf("record %d repeat index = %d", i, r.RepeatIndex)
		}
		if r.MaxRepeats != reminder.MaxRepeats {
			t.Fatalf("record %d max repeats = %d", i, r.MaxRepeats)
		}
		if len(r.SeriesIDs) != 4 {
			t.Fatalf("record %d series ids = %v", i, r.SeriesIDs)
		}
		if r.SeriesIDs[i] != r.OSScheduleID {
			t.Fatalf("record %d series ids out of firing order", i)
		}
	}

	stored, _ := st.GetSeries(ctx, "trip-1", reminder.TypeDeadlineRepeat)
	if len(stored) != 4 {
		t.Fatalf("stored %d, want 4", len(stored))
	}
}

func TestDeadlinePartiallyPastSeries(t *testing.T) {
	// It's already 10:30 on the arrival day: 08:00 is gone, the rest schedule.
	now := time.Date(2026, 12, 1, 10, 30, 0, 0, time.UTC)
	deps, _, _ := testDeps(t, now)
	p := NewDeadline(testConfig(), deps)

	arrival := time.Date(2026, 12, 1, 23, 0, 0, 0, time.UTC)
	recs, err := p.Schedule(context.Background(), Request{EntityID: "trip-1", Arrival: arrival})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("series length = %d, want 3 future members", len(recs))
	}
	if recs[0].FiringTime.Hour() != 12 {
		t.Fatalf("first future member at %v, want 12:00", recs[0].FiringTime)
	}
	// Grid positions survive the filtering.
	if recs[0].RepeatIndex != 1 || recs[2].RepeatIndex != 3 {
		t.Fatalf("repeat indexes = %d..%d, want 1..3", recs[0].RepeatIndex, recs[2].RepeatIndex)
	}
}

func TestDeadlineRemindLater(t *testing.T) {
	now := time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC)
	deps, st, _ := testDeps(t, now)
	p := NewDeadline(testConfig(), deps)
	ctx := context.Background()

	// Seed a short series so there is repeat budget left.
	seed := []reminder.Record{
		{Schema: 1, ID: "r0", EntityID: "trip-1", Type: reminder.TypeDeadlineRepeat,
			OSScheduleID: "os0", Status: reminder.StatusFired, RepeatIndex: 0, MaxRepeats: reminder.MaxRepeats},
		{Schema: 1, ID: "r1", EntityID: "trip-1", Type: reminder.TypeDeadlineRepeat,
			OSScheduleID: "os1", Status: reminder.StatusFired, RepeatIndex: 1, MaxRepeats: reminder.MaxRepeats},
	}
	if err := st.PutSeries(ctx, "trip-1", reminder.TypeDeadlineRepeat, seed); err != nil {
		t.Fatal(err)
	}

	asked := time.Date(2026, 12, 1, 9, 0, 0, 0, time.UTC)
	rec, err := p.RemindLater(ctx, "trip-1", asked, 10*time.Minute)
	if err != nil {
		t.Fatalf("remind later: %v", err)
	}
	if rec == nil {
		t.Fatal("remind later refused with budget left")
	}
	if rec.RepeatIndex != 2 {
		t.Fatalf("repeat index = %d, want 2", rec.RepeatIndex)
	}
	// The policy's own 4-hour step wins over the caller's delay.
	if want := asked.Add(4 * time.Hour); !rec.FiringTime.Equal(want) {
		t.Fatalf("firing = %v, want %v", rec.FiringTime, want)
	}

	// Push the series to the cap, then ask again.
	rec2, err := p.RemindLater(ctx, "trip-1", asked, 0)
	if err != nil || rec2 == nil || rec2.RepeatIndex != 3 {
		t.Fatalf("third repeat: rec=%+v err=%v", rec2, err)
	}
	capped, err := p.RemindLater(ctx, "trip-1", asked, 0)
	if err != nil {
		t.Fatalf("capped remind later errored: %v", err)
	}
	if capped != nil {
		t.Fatalf("capped series produced a record: %+v", capped)
	}
}

func TestExpiryWarningSchedule(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	deps, _, _ := testDeps(t, now)
	cfg := testConfig()
	cfg.ExpiryOffsets = map[string][]time.Duration{
		"JP": {14 * 24 * time.Hour, 3 * 24 * time.Hour},
	}
	p := NewExpiryWarning(cfg, deps)
	ctx := context.Background()

	if _, err := p.Schedule(ctx, Request{EntityID: "doc-1"}); err != reminder.ErrMissingExpiry {
		t.Fatalf("missing expiry: got %v", err)
	}

	expiry := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	recs, err := p.Schedule(ctx, Request{EntityID: "doc-1", Destination: "JP", Expiry: expiry})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2 (destination offsets)", len(recs))
	}
	if want := expiry.AddDate(0, 0, -14); !recs[0].FiringTime.Equal(want) {
		t.Fatalf("first firing = %v, want %v", recs[0].FiringTime, want)
	}

	// Unknown destination falls back to the default offsets; the 30-day one is
	// already past, leaving 7d and 1d.
	recs, err = p.Schedule(ctx, Request{EntityID: "doc-2", Destination: "XX", Expiry: expiry})
	if err != nil {
		t.Fatalf("default offsets: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("default offsets produced %d records, want 2", len(recs))
	}
}

func TestExpiryWarningStatusChange(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	deps, _, _ := testDeps(t, now)
	p := NewExpiryWarning(testConfig(), deps)
	ctx := context.Background()

	expiry := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	if _, err := p.Schedule(ctx, Request{EntityID: "doc-1", Expiry: expiry}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// Submission does not resolve document expiry.
	ok, err := p.OnSubmissionConfirmed(ctx, "doc-1", reminder.SubmissionProof{ConfirmationCode: "OK"})
	if err != nil || ok {
		t.Fatalf("submission cancelled expiry warnings: ok=%v err=%v", ok, err)
	}

	ok, err = p.OnStatusChanged(ctx, "doc-1", "in_review")
	if err != nil || ok {
		t.Fatalf("non-terminal status cancelled: ok=%v err=%v", ok, err)
	}

	ok, err = p.OnStatusChanged(ctx, "doc-1", "Approved")
	if err != nil {
		t.Fatalf("status changed: %v", err)
	}
	if !ok {
		t.Fatal("terminal status did not cancel")
	}
	active, _ := p.Active(ctx, "doc-1")
	if len(active) != 0 {
		t.Fatalf("active after terminal status = %d", len(active))
	}
}
