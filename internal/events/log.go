package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"entryminder/internal/eventbus"
	"entryminder/internal/reminder"
	"entryminder/internal/storage"
	logx "entryminder/pkg/logx"
)

// DefaultRetention is the event-log retention horizon used when the config
// does not override it.
const DefaultRetention = 30 * 24 * time.Hour

// Ref identifies the reminder an event belongs to.
type Ref struct {
	EntityID     string
	ReminderType reminder.Type
	ActionID     string
}

// Meta carries context captured at the moment the event happened.
type Meta struct {
	At         time.Time // zero means "now"
	Foreground bool
}

// Log is the append-only interaction log plus its incrementally maintained
// analytics aggregate.
//
// Append-then-aggregate is a strict sequence inside LogEvent: the aggregate is
// never updated for an event that failed to append.
type Log struct {
	mu    sync.Mutex
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
	clock func() time.Time

	agg reminder.Aggregate
}

// NewLog loads the persisted aggregate (or starts fresh) and returns the log.
func NewLog(ctx context.Context, st storage.Store, bus eventbus.Bus, log logx.Logger) (*Log, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Log{store: st, bus: bus, log: log, clock: time.Now, agg: reminder.NewAggregate()}
	if st != nil {
		agg, ok, err := st.GetAggregate(ctx)
		if err != nil {
			return nil, &reminder.StoreError{Op: "get aggregate", Err: err}
		}
		if ok {
			l.agg = agg
		}
	}
	return l, nil
}

// SetClock overrides the time source. Tests only.
func (l *Log) SetClock(now func() time.Time) { l.clock = now }

// LogEvent appends one event and, for interaction-class types, folds it into
// the aggregate.
func (l *Log) LogEvent(ctx context.Context, typ reminder.EventType, ref Ref, meta Meta) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	at := meta.At
	if at.IsZero() {
		at = l.clock()
	}
	ev := reminder.Event{
		Schema:       reminder.SchemaVersion,
		ID:           uuid.NewString(),
		Type:         typ,
		ReminderType: ref.ReminderType,
		EntityID:     ref.EntityID,
		ActionID:     ref.ActionID,
		At:           at,
		HourOfDay:    at.Hour(),
		DayOfWeek:    int(at.Weekday()),
		Foreground:   meta.Foreground,
	}

	if l.store != nil {
		if err := l.store.AppendEvent(ctx, ev); err != nil {
			return &reminder.StoreError{Op: "append event", Err: err}
		}
	}

	l.applyLocked(ev)

	if l.store != nil {
		if err := l.store.PutAggregate(ctx, l.agg); err != nil {
			return &reminder.StoreError{Op: "put aggregate", Err: err}
		}
	}
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: "event." + string(typ), Time: at, Data: ev})
	}
	return nil
}

// applyLocked increments counters for every event type; rate fields and the
// time-of-day histograms only move on interaction-class events.
func (l *Log) applyLocked(ev reminder.Event) {
	st := l.agg.Stats(ev.ReminderType)
	switch ev.Type {
	case reminder.EventScheduled:
		st.Scheduled++
	case reminder.EventSent:
		st.Sent++
	case reminder.EventReceived:
		st.Received++
	case reminder.EventClicked:
		st.Clicked++
	case reminder.EventActionClicked:
		st.ActionClicked++
	case reminder.EventIgnored:
		st.Ignored++
	case reminder.EventDismissed:
		st.Dismissed++
	}

	if !ev.Type.Interaction() {
		l.agg.UpdatedAt = ev.At
		return
	}

	st.ClickRate = formatRate(st.Clicked, st.Sent)
	st.ActionRate = formatRate(st.ActionClicked, st.Sent)

	if ev.Type == reminder.EventClicked || ev.Type == reminder.EventActionClicked {
		if ev.HourOfDay >= 0 && ev.HourOfDay < 24 {
			l.agg.Hourly[ev.HourOfDay]++
		}
		if ev.DayOfWeek >= 0 && ev.DayOfWeek < 7 {
			l.agg.Daily[ev.DayOfWeek]++
		}
		l.agg.BestHour = argMax(l.agg.Hourly[:])
		l.agg.BestDay = argMax(l.agg.Daily[:])
	}
	l.agg.UpdatedAt = ev.At
}

// argMax returns the lowest index holding the maximum value, or -1 for an
// all-zero histogram.
func argMax(buckets []int) int {
	best := -1
	bestV := 0
	for i, v := range buckets {
		if v > bestV {
			best = i
			bestV = v
		}
	}
	return best
}

// Prune removes events older than the horizon. It never runs implicitly.
func (l *Log) Prune(ctx context.Context, horizon time.Duration) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	if horizon <= 0 {
		horizon = DefaultRetention
	}
	n, err := l.store.PruneEvents(ctx, l.clock().Add(-horizon))
	if err != nil {
		return 0, &reminder.StoreError{Op: "prune events", Err: err}
	}
	if n > 0 {
		l.log.Debug("event log pruned", logx.Int("removed", n))
	}
	return n, nil
}
