package actions

import (
	"context"
	"testing"
	"time"

	"entryminder/internal/policy"
	"entryminder/internal/reminder"
	logx "entryminder/pkg/logx"
)

// stubPolicy records RemindLater calls and hands back a canned result.
type stubPolicy struct {
	typ       reminder.Type
	gotDelay  time.Duration
	gotNow    time.Time
	laterRec  *reminder.Record
	laterErr  error
}

func (s *stubPolicy) Type() reminder.Type { return s.typ }
func (s *stubPolicy) Schedule(context.Context, policy.Request) ([]reminder.Record, error) {
	return nil, nil
}
func (s *stubPolicy) Cancel(context.Context, string) (bool, error) { return false, nil }
func (s *stubPolicy) OnArrivalChanged(context.Context, policy.Request) ([]reminder.Record, error) {
	return nil, nil
}
func (s *stubPolicy) OnSubmissionConfirmed(context.Context, string, reminder.SubmissionProof) (bool, error) {
	return false, nil
}
func (s *stubPolicy) RemindLater(_ context.Context, _ string, now time.Time, delay time.Duration) (*reminder.Record, error) {
	s.gotNow = now
	s.gotDelay = delay
	return s.laterRec, s.laterErr
}
func (s *stubPolicy) Active(context.Context, string) ([]reminder.Record, error) { return nil, nil }

func newTestRouter(stub *stubPolicy) *Router {
	lookup := func(t reminder.Type) policy.Policy {
		if stub != nil && t == stub.typ {
			return stub
		}
		return nil
	}
	return New(Config{}, lookup, nil, nil, logx.Nop())
}

func TestHandleNavigation(t *testing.T) {
	p := Payload{EntityID: "trip-1", ReminderType: reminder.TypeUrgent, Destination: "JP"}

	tests := []struct {
		action     string
		target     string
		wantMode   string
	}{
		{ActionSubmit, "document-submission", ""},
		{ActionResubmit, "document-submission", "resubmit"},
		{ActionContinue, "document-submission", "continue"},
		{ActionView, "submission-status", ""},
		{ActionGuide, "entry-guide", ""},
		{ActionItinerary, "itinerary", ""},
	}
	r := newTestRouter(nil)
	for _, tc := range tests {
		out, err := r.Handle(context.Background(), tc.action, p)
		if err != nil {
			t.Fatalf("%s: %v", tc.action, err)
		}
		nav := out.Navigation
		if nav == nil || nav.Target != tc.target {
			t.Fatalf("%s: navigation = %+v, want target %q", tc.action, nav, tc.target)
		}
		if nav.Params["entity_id"] != "trip-1" || nav.Params["destination"] != "JP" {
			t.Fatalf("%s: params = %v", tc.action, nav.Params)
		}
		if nav.Params["mode"] != tc.wantMode {
			t.Fatalf("%s: mode = %q, want %q", tc.action, nav.Params["mode"], tc.wantMode)
		}
	}
}

func TestHandleLater(t *testing.T) {
	rec := &reminder.Record{ID: "new"}
	stub := &stubPolicy{typ: reminder.TypeWindowOpen, laterRec: rec}
	r := newTestRouter(stub)

	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return now })

	out, err := r.Handle(context.Background(), ActionLater,
		Payload{EntityID: "trip-1", ReminderType: reminder.TypeWindowOpen})
	if err != nil {
		t.Fatalf("later: %v", err)
	}
	if out.Navigation != nil {
		t.Fatal("remind later navigated")
	}
	if out.NewRecord != rec {
		t.Fatalf("new record = %+v", out.NewRecord)
	}
	if stub.gotDelay != DefaultRemindLaterDelay {
		t.Fatalf("delay = %v, want default %v", stub.gotDelay, DefaultRemindLaterDelay)
	}
	if !stub.gotNow.Equal(now) {
		t.Fatalf("now = %v, want pinned clock", stub.gotNow)
	}
}

func TestHandleLaterCappedSeries(t *testing.T) {
	// A bounded series refusing (nil, nil) is a quiet no-op for the router.
	stub := &stubPolicy{typ: reminder.TypeDeadlineRepeat}
	r := newTestRouter(stub)

	out, err := r.Handle(context.Background(), ActionLater,
		Payload{EntityID: "trip-1", ReminderType: reminder.TypeDeadlineRepeat})
	if err != nil {
		t.Fatalf("capped later: %v", err)
	}
	if out.NewRecord != nil || out.Navigation != nil || out.SuggestDisable {
		t.Fatalf("capped later outcome = %+v, want empty", out)
	}
}

func TestHandleIgnoreEscalates(t *testing.T) {
	r := newTestRouter(nil)
	p := Payload{EntityID: "trip-1", ReminderType: reminder.TypeUrgent}
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		out, err := r.Handle(ctx, ActionIgnore, p)
		if err != nil {
			t.Fatalf("ignore %d: %v", i, err)
		}
		if out.SuggestDisable {
			t.Fatalf("escalated after %d ignores", i)
		}
	}

	out, err := r.Handle(ctx, ActionIgnore, p)
	if err != nil {
		t.Fatalf("third ignore: %v", err)
	}
	if !out.SuggestDisable {
		t.Fatal("no escalation on the third ignore")
	}
	if r.IgnoreCount(reminder.TypeUrgent) != 3 {
		t.Fatalf("ignore count = %d", r.IgnoreCount(reminder.TypeUrgent))
	}

	// Counters are per category.
	if r.IgnoreCount(reminder.TypeWindowOpen) != 0 {
		t.Fatal("ignores leaked across categories")
	}
}

func TestHandleUnknownAction(t *testing.T) {
	r := newTestRouter(nil)
	out, err := r.Handle(context.Background(), "frobnicate",
		Payload{EntityID: "trip-1", ReminderType: reminder.TypeUrgent})
	if err != nil {
		t.Fatalf("unknown action errored: %v", err)
	}
	if out.Navigation != nil || out.NewRecord != nil || out.SuggestDisable {
		t.Fatalf("unknown action outcome = %+v, want empty", out)
	}
}

func TestHandleDismiss(t *testing.T) {
	r := newTestRouter(nil)
	out, err := r.Handle(context.Background(), "Dismiss ",
		Payload{EntityID: "trip-1", ReminderType: reminder.TypeUrgent})
	if err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if out.Navigation != nil || out.SuggestDisable {
		t.Fatalf("dismiss outcome = %+v", out)
	}
}
