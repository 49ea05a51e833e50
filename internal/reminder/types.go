package reminder

import (
	"strings"
	"time"
)

// SchemaVersion tags persisted payloads so storage migrations stay explicit.
const SchemaVersion = 1

// Type identifies one of the four reminder categories.
type Type string

const (
	TypeWindowOpen     Type = "window_open"
	TypeUrgent         Type = "urgent"
	TypeDeadlineRepeat Type = "deadline_repeat"
	TypeExpiryWarning  Type = "expiry_warning"
)

// AllTypes lists types in fan-out order.
var AllTypes = []Type{TypeWindowOpen, TypeUrgent, TypeDeadlineRepeat, TypeExpiryWarning}

func (t Type) Valid() bool {
	switch t {
	case TypeWindowOpen, TypeUrgent, TypeDeadlineRepeat, TypeExpiryWarning:
		return true
	}
	return false
}

// Status is the lifecycle state of a single record.
//
// Scheduled -> {Cancelled | Fired | Expired}. Fired and Expired are terminal.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusFired     Status = "fired"
	StatusExpired   Status = "expired"
)

// MaxRepeats bounds how many extra firings a deadline series may grow beyond
// the initial one (remind-later included).
const MaxRepeats = 3

// Record is one scheduled reminder instance.
//
// Single-shot types keep at most one active record per (entity, type).
// DeadlineRepeat keeps a bounded series that is cancelled as a unit; every
// member carries the shared SeriesIDs in firing order.
type Record struct {
	Schema       int       `json:"schema"`
	ID           string    `json:"id"`
	EntityID     string    `json:"entity_id"`
	Type         Type      `json:"type"`
	OSScheduleID string    `json:"os_schedule_id"`
	FiringTime   time.Time `json:"firing_time"`
	Status       Status    `json:"status"`

	// Series fields, deadline_repeat only.
	SeriesIDs   []string `json:"series_ids,omitempty"`
	RepeatIndex int      `json:"repeat_index,omitempty"`
	MaxRepeats  int      `json:"max_repeats,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r Record) Active() bool { return r.Status == StatusScheduled }

// Key is the storage key for the record table: entityId|reminderType.
func Key(entityID string, t Type) string { return entityID + "|" + string(t) }

// Guard is the frequency-guard timestamp for throttled types.
type Guard struct {
	Schema     int       `json:"schema"`
	EntityID   string    `json:"entity_id"`
	Type       Type      `json:"type"`
	LastSentAt time.Time `json:"last_sent_at"`
}

// SubmissionProof is the caller-supplied submission-validity signal.
// A proof with an empty confirmation code never cancels anything.
type SubmissionProof struct {
	ConfirmationCode string    `json:"confirmation_code"`
	SubmittedAt      time.Time `json:"submitted_at,omitempty"`
}

func (p SubmissionProof) Valid() bool { return strings.TrimSpace(p.ConfirmationCode) != "" }

// EventType enumerates interaction-log event kinds.
type EventType string

const (
	EventScheduled      EventType = "scheduled"
	EventSent           EventType = "sent"
	EventReceived       EventType = "received"
	EventClicked        EventType = "clicked"
	EventActionClicked  EventType = "action_clicked"
	EventIgnored        EventType = "ignored"
	EventDismissed      EventType = "dismissed"
	EventCancelled      EventType = "cancelled"
	EventSuggestDisable EventType = "suggest_disable"
)

// Interaction reports whether the event type updates the analytics aggregate.
func (t EventType) Interaction() bool {
	switch t {
	case EventClicked, EventActionClicked, EventIgnored, EventDismissed:
		return true
	}
	return false
}

// Event is one append-only interaction-log entry. Never mutated after append,
// only pruned by age.
type Event struct {
	Schema       int       `json:"schema"`
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	ReminderType Type      `json:"reminder_type"`
	EntityID     string    `json:"entity_id"`
	ActionID     string    `json:"action_id,omitempty"`
	At           time.Time `json:"at"`

	// Context captured at append time.
	HourOfDay  int  `json:"hour_of_day"`
	DayOfWeek  int  `json:"day_of_week"` // 0 = Sunday
	Foreground bool `json:"foreground"`
}

// TypeStats holds per-reminder-type counters and derived rates.
// Rates are decimal strings rounded to two places; "0" when Sent == 0.
type TypeStats struct {
	Scheduled     int `json:"scheduled"`
	Sent          int `json:"sent"`
	Received      int `json:"received"`
	Clicked       int `json:"clicked"`
	ActionClicked int `json:"action_clicked"`
	Ignored       int `json:"ignored"`
	Dismissed     int `json:"dismissed"`

	ClickRate  string `json:"click_rate"`
	ActionRate string `json:"action_rate"`
}

// Aggregate is the singleton analytics record, rebuilt incrementally on each
// interaction-class event append.
type Aggregate struct {
	Schema  int                 `json:"schema"`
	PerType map[Type]*TypeStats `json:"per_type"`

	Hourly [24]int `json:"hourly"`
	Daily  [7]int  `json:"daily"`

	// Arg-max of the histograms; ties resolve to the lowest index.
	// -1 until the first click lands.
	BestHour int `json:"best_hour"`
	BestDay  int `json:"best_day"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewAggregate returns an empty aggregate with all type buckets allocated.
func NewAggregate() Aggregate {
	per := make(map[Type]*TypeStats, len(AllTypes))
	for _, t := range AllTypes {
		per[t] = &TypeStats{ClickRate: "0", ActionRate: "0"}
	}
	return Aggregate{Schema: SchemaVersion, PerType: per, BestHour: -1, BestDay: -1}
}

// Stats returns the bucket for t, allocating it for forward-compatible types.
func (a *Aggregate) Stats(t Type) *TypeStats {
	if a.PerType == nil {
		a.PerType = map[Type]*TypeStats{}
	}
	st, ok := a.PerType[t]
	if !ok {
		st = &TypeStats{ClickRate: "0", ActionRate: "0"}
		a.PerType[t] = st
	}
	return st
}
