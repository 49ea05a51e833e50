package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"entryminder/internal/osched"
	"entryminder/internal/policy"
	"entryminder/internal/reminder"
	"entryminder/internal/storage"
	logx "entryminder/pkg/logx"
)

// faultStore fails reads for one reminder type, leaving the rest healthy.
type faultStore struct {
	storage.Store
	failType reminder.Type
}

var errInjected = errors.New("injected store failure")

func (f *faultStore) GetSeries(ctx context.Context, entityID string, t reminder.Type) ([]reminder.Record, error) {
	if t == f.failType {
		return nil, errInjected
	}
	return f.Store.GetSeries(ctx, entityID, t)
}

func newTestCoordinator(st storage.Store, now time.Time) *Coordinator {
	cfg := policy.Config{Location: time.UTC}
	deps := policy.Deps{
		Store:   st,
		Adapter: osched.NewLocal(osched.Config{}, logx.Nop()),
		Clock:   func() time.Time { return now },
	}
	return New(
		policy.NewWindowOpen(cfg, deps),
		policy.NewUrgent(cfg, deps),
		policy.NewDeadline(cfg, deps),
		policy.NewExpiryWarning(cfg, deps),
		logx.Nop(),
	)
}

func TestScheduleAllFansOut(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	c := newTestCoordinator(storage.NewMemory(), now)

	req := policy.Request{
		EntityID:    "trip-1",
		Arrival:     now.AddDate(0, 0, 20),
		Destination: "JP",
		Expiry:      now.AddDate(0, 1, 0),
	}
	m := c.ScheduleAll(context.Background(), req)
	if !m.OK() {
		t.Fatalf("fan-out failed: %+v", m)
	}
	if len(m) != 4 {
		t.Fatalf("results = %d, want one per type", len(m))
	}
	if got := len(m[reminder.TypeDeadlineRepeat].Records); got != 4 {
		t.Fatalf("deadline records = %d, want 4", got)
	}
	if got := len(m[reminder.TypeWindowOpen].Records); got != 1 {
		t.Fatalf("window records = %d, want 1", got)
	}
}

func TestFanOutIsolatesFailures(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	st := &faultStore{Store: storage.NewMemory(), failType: reminder.TypeUrgent}
	c := newTestCoordinator(st, now)

	req := policy.Request{
		EntityID: "trip-1",
		Arrival:  now.AddDate(0, 0, 20),
		Expiry:   now.AddDate(0, 1, 0),
	}
	m := c.ScheduleAll(context.Background(), req)
	if m.OK() {
		t.Fatal("expected one module to fail")
	}
	if !errors.Is(m[reminder.TypeUrgent].Err, errInjected) {
		t.Fatalf("urgent err = %v", m[reminder.TypeUrgent].Err)
	}
	// The other three still completed.
	for _, typ := range []reminder.Type{reminder.TypeWindowOpen, reminder.TypeDeadlineRepeat, reminder.TypeExpiryWarning} {
		if m[typ].Err != nil {
			t.Fatalf("%s failed alongside: %v", typ, m[typ].Err)
		}
		if len(m[typ].Records) == 0 {
			t.Fatalf("%s scheduled nothing", typ)
		}
	}
}

func TestSubmissionExcludesExpiryWarning(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	c := newTestCoordinator(storage.NewMemory(), now)
	ctx := context.Background()

	req := policy.Request{
		EntityID: "trip-1",
		Arrival:  now.AddDate(0, 0, 20),
		Expiry:   now.AddDate(0, 1, 0),
	}
	if m := c.ScheduleAll(ctx, req); !m.OK() {
		t.Fatalf("schedule: %+v", m)
	}

	m := c.OnSubmissionConfirmed(ctx, "trip-1", reminder.SubmissionProof{ConfirmationCode: "OK"})
	if !m.OK() {
		t.Fatalf("submission: %+v", m)
	}
	if _, present := m[reminder.TypeExpiryWarning]; present {
		t.Fatal("expiry warning was included in submission fan-out")
	}

	st, err := c.GetStatus(ctx, "trip-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if _, ok := st.Active[reminder.TypeExpiryWarning]; !ok {
		t.Fatal("expiry warnings were cancelled by submission")
	}
	for _, typ := range []reminder.Type{reminder.TypeWindowOpen, reminder.TypeUrgent, reminder.TypeDeadlineRepeat} {
		if _, ok := st.Active[typ]; ok {
			t.Fatalf("%s still active after submission", typ)
		}
	}
}

func TestGetStatusNextFiring(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	c := newTestCoordinator(storage.NewMemory(), now)
	ctx := context.Background()

	arrival := now.AddDate(0, 0, 20)
	m := c.ScheduleAll(ctx, policy.Request{EntityID: "trip-1", Arrival: arrival, Expiry: now.AddDate(0, 1, 0)})
	if !m.OK() {
		t.Fatalf("schedule: %+v", m)
	}

	st, err := c.GetStatus(ctx, "trip-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.NextFiring == nil {
		t.Fatal("no next firing")
	}
	// Window open (arrival - 7d) is the earliest of the scheduled instants.
	if want := arrival.AddDate(0, 0, -7); !st.NextFiring.Equal(want) {
		t.Fatalf("next firing = %v, want %v", st.NextFiring, want)
	}
}

func TestCancelAll(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	c := newTestCoordinator(storage.NewMemory(), now)
	ctx := context.Background()

	m := c.ScheduleAll(ctx, policy.Request{
		EntityID: "trip-1",
		Arrival:  now.AddDate(0, 0, 20),
		Expiry:   now.AddDate(0, 1, 0),
	})
	if !m.OK() {
		t.Fatalf("schedule: %+v", m)
	}

	m = c.CancelAll(ctx, "trip-1")
	if !m.OK() {
		t.Fatalf("cancel: %+v", m)
	}
	for typ, res := range m {
		if !res.Cancelled {
			t.Fatalf("%s reported nothing to cancel", typ)
		}
	}

	st, err := c.GetStatus(ctx, "trip-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(st.Active) != 0 {
		t.Fatalf("still active after cancel all: %v", st.Active)
	}
}
