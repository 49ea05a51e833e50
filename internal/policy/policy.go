package policy

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"entryminder/internal/events"
	"entryminder/internal/osched"
	"entryminder/internal/reminder"
	"entryminder/internal/storage"
	logx "entryminder/pkg/logx"
)

// Request carries everything a policy may need to schedule for one entity.
// Arrival drives the three arrival-relative types; Expiry drives ExpiryWarning.
type Request struct {
	EntityID    string
	Arrival     time.Time
	Destination string
	Expiry      time.Time
}

// Policy is one reminder category's scheduling brain.
//
// Schedule is idempotent: an existing active record (or series) is returned
// unchanged. A computed firing time that is not strictly in the future is a
// silent skip, never an error and never a stored record.
type Policy interface {
	Type() reminder.Type

	Schedule(ctx context.Context, req Request) ([]reminder.Record, error)
	Cancel(ctx context.Context, entityID string) (bool, error)

	// OnArrivalChanged cancels then reschedules unconditionally, even when the
	// new arrival resolves to the same instants.
	OnArrivalChanged(ctx context.Context, req Request) ([]reminder.Record, error)

	// OnSubmissionConfirmed cancels iff the proof carries a non-empty
	// confirmation code. Returns false for invalid proof or nothing to cancel.
	OnSubmissionConfirmed(ctx context.Context, entityID string, proof reminder.SubmissionProof) (bool, error)

	// RemindLater appends one new Scheduled record at now+delay. Policies with
	// a bounded series may refuse (nil, nil) once the series is capped.
	RemindLater(ctx context.Context, entityID string, now time.Time, delay time.Duration) (*reminder.Record, error)

	Active(ctx context.Context, entityID string) ([]reminder.Record, error)
}

// Config tunes policy behavior shared across modules.
type Config struct {
	// Location anchors DeadlineRepeat's 08:00 local firing. Defaults to
	// time.Local.
	Location *time.Location

	// MinSendGap is the urgent-reminder frequency-guard gap. Default 1h.
	MinSendGap time.Duration

	// RemindLaterStep is DeadlineRepeat's remind-later offset. Default 4h.
	RemindLaterStep time.Duration

	// ExpiryOffsets maps destination label to the ordered offsets-before-expiry
	// list. DefaultExpiryOffsets applies when a destination has no entry.
	ExpiryOffsets        map[string][]time.Duration
	DefaultExpiryOffsets []time.Duration
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.MinSendGap <= 0 {
		c.MinSendGap = time.Hour
	}
	if c.RemindLaterStep <= 0 {
		c.RemindLaterStep = 4 * time.Hour
	}
	if len(c.DefaultExpiryOffsets) == 0 {
		c.DefaultExpiryOffsets = []time.Duration{
			30 * 24 * time.Hour,
			7 * 24 * time.Hour,
			24 * time.Hour,
		}
	}
	return c
}

// Deps are the injected collaborators every policy shares.
type Deps struct {
	Store   storage.Store
	Adapter osched.Adapter
	Events  *events.Log // optional
	Log     logx.Logger
	Clock   func() time.Time // optional; tests pin it
}

func (d Deps) withDefaults() Deps {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}

// base carries shared plumbing for the four modules.
type base struct {
	typ reminder.Type
	cfg Config
	Deps
}

func newBase(typ reminder.Type, cfg Config, deps Deps) base {
	return base{typ: typ, cfg: cfg.withDefaults(), Deps: deps.withDefaults()}
}

func (b *base) Type() reminder.Type { return b.typ }

func (b *base) validateEntity(entityID string) error {
	if strings.TrimSpace(entityID) == "" {
		return reminder.ErrMissingEntityID
	}
	return nil
}

func (b *base) loadSeries(ctx context.Context, entityID string) ([]reminder.Record, error) {
	recs, err := b.Store.GetSeries(ctx, entityID, b.typ)
	if err != nil {
		return nil, &reminder.StoreError{Op: "get series", Err: err}
	}
	return recs, nil
}

func activeOf(recs []reminder.Record) []reminder.Record {
	var out []reminder.Record
	for _, r := range recs {
		if r.Active() {
			out = append(out, r)
		}
	}
	return out
}

// scheduleOne registers one notification with the OS and returns its record.
// The record is not persisted here; callers batch the series write.
func (b *base) scheduleOne(ctx context.Context, req Request, firing time.Time, title, body string) (reminder.Record, error) {
	now := b.Clock()
	osID, err := b.Adapter.ScheduleAt(ctx, osched.Request{
		Title:      title,
		Body:       body,
		FiringTime: firing,
		Payload: map[string]string{
			"entity_id":     req.EntityID,
			"reminder_type": string(b.typ),
			"destination":   req.Destination,
		},
	})
	if err != nil {
		return reminder.Record{}, &reminder.AdapterError{Op: "schedule", Err: err}
	}
	return reminder.Record{
		Schema:       reminder.SchemaVersion,
		ID:           uuid.NewString(),
		EntityID:     req.EntityID,
		Type:         b.typ,
		OSScheduleID: osID,
		FiringTime:   firing,
		Status:       reminder.StatusScheduled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// persist appends fresh records to whatever history the key already holds and
// logs one Scheduled event per record.
func (b *base) persist(ctx context.Context, entityID string, fresh []reminder.Record) error {
	if len(fresh) == 0 {
		return nil
	}
	existing, err := b.loadSeries(ctx, entityID)
	if err != nil {
		return err
	}
	all := append(existing, fresh...)
	if err := b.Store.PutSeries(ctx, entityID, b.typ, all); err != nil {
		return &reminder.StoreError{Op: "put series", Err: err}
	}
	if b.Events != nil {
		for range fresh {
			_ = b.Events.LogEvent(ctx, reminder.EventScheduled,
				events.Ref{EntityID: entityID, ReminderType: b.typ}, events.Meta{})
		}
	}
	return nil
}

// cancelActive marks every active record cancelled and tells the OS to drop
// its schedule. Returns false when nothing was active (a no-op, not an error).
func (b *base) cancelActive(ctx context.Context, entityID string) (bool, error) {
	if err := b.validateEntity(entityID); err != nil {
		return false, err
	}
	recs, err := b.loadSeries(ctx, entityID)
	if err != nil {
		return false, err
	}
	now := b.Clock()
	cancelled := 0
	for i := range recs {
		if !recs[i].Active() {
			continue
		}
		// A missing OS entry is fine: the OS may have dropped it already.
		if _, err := b.Adapter.Cancel(ctx, recs[i].OSScheduleID); err != nil {
			return false, &reminder.AdapterError{Op: "cancel", Err: err}
		}
		recs[i].Status = reminder.StatusCancelled
		recs[i].UpdatedAt = now
		cancelled++
	}
	if cancelled == 0 {
		return false, nil
	}
	if err := b.Store.PutSeries(ctx, entityID, b.typ, recs); err != nil {
		return false, &reminder.StoreError{Op: "put series", Err: err}
	}
	if b.Events != nil {
		_ = b.Events.LogEvent(ctx, reminder.EventCancelled,
			events.Ref{EntityID: entityID, ReminderType: b.typ}, events.Meta{})
	}
	b.Log.Debug("reminders cancelled",
		logx.String("entity", entityID),
		logx.String("type", string(b.typ)),
		logx.Int("count", cancelled))
	return true, nil
}

func (b *base) active(ctx context.Context, entityID string) ([]reminder.Record, error) {
	if err := b.validateEntity(entityID); err != nil {
		return nil, err
	}
	recs, err := b.loadSeries(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return activeOf(recs), nil
}

// submissionCancel implements the shared auto-cancel rule: a valid proof
// cancels, anything else leaves the schedule untouched.
func (b *base) submissionCancel(ctx context.Context, entityID string, proof reminder.SubmissionProof) (bool, error) {
	if err := b.validateEntity(entityID); err != nil {
		return false, err
	}
	if !proof.Valid() {
		return false, nil
	}
	return b.cancelActive(ctx, entityID)
}

// remindLaterSingle creates one extra record at now+delay carrying an
// incremented remind-later count. No dedup: asking twice yields two records.
func (b *base) remindLaterSingle(ctx context.Context, req Request, now time.Time, delay time.Duration) (*reminder.Record, error) {
	if err := b.validateEntity(req.EntityID); err != nil {
		return nil, err
	}
	recs, err := b.loadSeries(ctx, req.EntityID)
	if err != nil {
		return nil, err
	}
	count := 0
	for _, r := range recs {
		if r.RepeatIndex >= count {
			count = r.RepeatIndex + 1
		}
	}
	rec, err := b.scheduleOne(ctx, req, now.Add(delay), remindLaterTitle, remindLaterBody)
	if err != nil {
		return nil, err
	}
	rec.RepeatIndex = count
	if err := b.persist(ctx, req.EntityID, []reminder.Record{rec}); err != nil {
		return nil, err
	}
	return &rec, nil
}

const (
	remindLaterTitle = "Reminder"
	remindLaterBody  = "You asked to be reminded again about your entry submission."
)
