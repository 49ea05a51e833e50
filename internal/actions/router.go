package actions

import (
	"context"
	"strings"
	"sync"
	"time"

	"entryminder/internal/eventbus"
	"entryminder/internal/events"
	"entryminder/internal/policy"
	"entryminder/internal/reminder"
	logx "entryminder/pkg/logx"
)

// Recognized action-button identifiers.
const (
	ActionSubmit    = "submit"
	ActionResubmit  = "resubmit"
	ActionContinue  = "continue"
	ActionView      = "view"
	ActionGuide     = "guide"
	ActionItinerary = "itinerary"
	ActionLater     = "later"
	ActionIgnore    = "ignore"
	ActionDismiss   = "dismiss"
	ActionArchive   = "archive"
)

// ignoreEscalateAt is how many ignores of one category trigger the
// suggest-disable signal.
const ignoreEscalateAt = 3

// DefaultRemindLaterDelay applies to general reminders; DeadlineRepeat's own
// 4-hour rule overrides it inside that policy.
const DefaultRemindLaterDelay = 60 * time.Minute

// Payload is the original metadata carried by the fired notification.
type Payload struct {
	EntityID     string
	ReminderType reminder.Type
	Destination  string
}

// Navigation is a pure routing product: target screen plus parameters.
type Navigation struct {
	Target string
	Params map[string]string
}

// Outcome is what one Handle call produced.
type Outcome struct {
	Navigation     *Navigation
	NewRecord      *reminder.Record
	SuggestDisable bool
}

type Config struct {
	RemindLaterDelay time.Duration
}

// Router maps a fired notification's action button to its next step.
type Router struct {
	cfg    Config
	lookup func(reminder.Type) policy.Policy
	evlog  *events.Log
	bus    eventbus.Bus
	log    logx.Logger
	clock  func() time.Time

	mu      sync.Mutex
	ignores map[reminder.Type]int
}

func New(cfg Config, lookup func(reminder.Type) policy.Policy, evlog *events.Log, bus eventbus.Bus, log logx.Logger) *Router {
	if cfg.RemindLaterDelay <= 0 {
		cfg.RemindLaterDelay = DefaultRemindLaterDelay
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cfg:     cfg,
		lookup:  lookup,
		evlog:   evlog,
		bus:     bus,
		log:     log,
		clock:   time.Now,
		ignores: map[reminder.Type]int{},
	}
}

// SetClock overrides the time source. Tests only.
func (r *Router) SetClock(now func() time.Time) { r.clock = now }

// Handle dispatches one action identifier.
func (r *Router) Handle(ctx context.Context, actionID string, p Payload) (Outcome, error) {
	actionID = strings.ToLower(strings.TrimSpace(actionID))
	ref := events.Ref{EntityID: p.EntityID, ReminderType: p.ReminderType, ActionID: actionID}

	switch actionID {
	case ActionSubmit, ActionResubmit, ActionContinue, ActionView, ActionGuide, ActionItinerary:
		r.logEvent(ctx, reminder.EventActionClicked, ref)
		return Outcome{Navigation: navigationFor(actionID, p)}, nil

	case ActionLater:
		return r.handleLater(ctx, p, ref)

	case ActionIgnore:
		return r.handleIgnore(ctx, p, ref)

	case ActionDismiss:
		r.logEvent(ctx, reminder.EventDismissed, ref)
		return Outcome{}, nil

	case ActionArchive:
		// Archival itself belongs to the document store; just signal it.
		r.logEvent(ctx, reminder.EventDismissed, ref)
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Type: "action.archive", Data: p})
		}
		return Outcome{}, nil

	default:
		r.log.Debug("unrecognized action", logx.String("action", actionID))
		return Outcome{}, nil
	}
}

// navigationFor is a pure function from action to screen target.
func navigationFor(actionID string, p Payload) *Navigation {
	params := map[string]string{"entity_id": p.EntityID}
	if p.Destination != "" {
		params["destination"] = p.Destination
	}
	nav := &Navigation{Params: params}
	switch actionID {
	case ActionSubmit:
		nav.Target = "document-submission"
	case ActionResubmit:
		nav.Target = "document-submission"
		params["mode"] = "resubmit"
	case ActionContinue:
		nav.Target = "document-submission"
		params["mode"] = "continue"
	case ActionView:
		nav.Target = "submission-status"
	case ActionGuide:
		nav.Target = "entry-guide"
	case ActionItinerary:
		nav.Target = "itinerary"
	}
	return nav
}

// handleLater never navigates. Each invocation legitimately produces a new
// record; asking twice means two future reminders, by design.
func (r *Router) handleLater(ctx context.Context, p Payload, ref events.Ref) (Outcome, error) {
	r.logEvent(ctx, reminder.EventActionClicked, ref)

	pol := r.lookup(p.ReminderType)
	if pol == nil {
		r.log.Warn("remind later for unknown type", logx.String("type", string(p.ReminderType)))
		return Outcome{}, nil
	}
	rec, err := pol.RemindLater(ctx, p.EntityID, r.clock(), r.cfg.RemindLaterDelay)
	if err != nil {
		return Outcome{}, err
	}
	// rec is nil when a bounded series refused (repeat budget exhausted).
	return Outcome{NewRecord: rec}, nil
}

func (r *Router) handleIgnore(ctx context.Context, p Payload, ref events.Ref) (Outcome, error) {
	r.logEvent(ctx, reminder.EventIgnored, ref)

	r.mu.Lock()
	r.ignores[p.ReminderType]++
	n := r.ignores[p.ReminderType]
	r.mu.Unlock()

	if n < ignoreEscalateAt {
		return Outcome{}, nil
	}

	r.logEvent(ctx, reminder.EventSuggestDisable, ref)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{
			Type: eventbus.SignalSuggestDisable,
			Data: map[string]string{"reminder_type": string(p.ReminderType)},
		})
	}
	return Outcome{SuggestDisable: true}, nil
}

// IgnoreCount reports the running per-category ignore counter.
func (r *Router) IgnoreCount(t reminder.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ignores[t]
}

func (r *Router) logEvent(ctx context.Context, t reminder.EventType, ref events.Ref) {
	if r.evlog == nil {
		return
	}
	if err := r.evlog.LogEvent(ctx, t, ref, events.Meta{Foreground: true}); err != nil {
		r.log.Warn("event append failed", logx.Err(err))
	}
}
