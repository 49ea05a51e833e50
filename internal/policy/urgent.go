package policy

import (
	"context"
	"fmt"
	"time"

	"entryminder/internal/events"
	"entryminder/internal/reminder"
	logx "entryminder/pkg/logx"
)

// Urgent is the 24-hours-before-arrival nudge. Single-shot, but its send path
// is throttled: the OS schedules ahead of time, so the frequency guard is
// re-checked at the point of triggering logic (foreground re-evaluation,
// delivery callback), not at scheduling.
type Urgent struct {
	base
}

func NewUrgent(cfg Config, deps Deps) *Urgent {
	return &Urgent{base: newBase(reminder.TypeUrgent, cfg, deps)}
}

func (p *Urgent) Schedule(ctx context.Context, req Request) ([]reminder.Record, error) {
	if err := p.validateEntity(req.EntityID); err != nil {
		return nil, err
	}
	if req.Arrival.IsZero() {
		return nil, reminder.ErrMissingArrival
	}

	existing, err := p.active(ctx, req.EntityID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	firing := UrgentTime(req.Arrival)
	if !firing.After(p.Clock()) {
		return nil, nil
	}

	rec, err := p.scheduleOne(ctx, req, firing,
		"24 hours to arrival",
		fmt.Sprintf("Your entry documents for %s are due. Submit them now.", req.Destination))
	if err != nil {
		return nil, err
	}
	if err := p.persist(ctx, req.EntityID, []reminder.Record{rec}); err != nil {
		return nil, err
	}
	return []reminder.Record{rec}, nil
}

// AllowSend consults the frequency guard: a send within MinSendGap of the
// previous one is rejected. It does not mutate the guard; call MarkSent after
// the send actually succeeds.
func (p *Urgent) AllowSend(ctx context.Context, entityID string) (bool, error) {
	if err := p.validateEntity(entityID); err != nil {
		return false, err
	}
	last, ok, err := p.Store.GetGuard(ctx, entityID, p.typ)
	if err != nil {
		return false, &reminder.StoreError{Op: "get guard", Err: err}
	}
	if !ok {
		return true, nil
	}
	if p.Clock().Sub(last) < p.cfg.MinSendGap {
		p.Log.Debug("urgent send throttled",
			logx.String("entity", entityID),
			logx.Time("last_sent", last))
		return false, nil
	}
	return true, nil
}

// MarkSent records a successful send in the frequency guard.
func (p *Urgent) MarkSent(ctx context.Context, entityID string) error {
	if err := p.validateEntity(entityID); err != nil {
		return err
	}
	if err := p.Store.PutGuard(ctx, entityID, p.typ, p.Clock()); err != nil {
		return &reminder.StoreError{Op: "put guard", Err: err}
	}
	if p.Events != nil {
		_ = p.Events.LogEvent(ctx, reminder.EventSent,
			events.Ref{EntityID: entityID, ReminderType: p.typ}, events.Meta{})
	}
	return nil
}

func (p *Urgent) Cancel(ctx context.Context, entityID string) (bool, error) {
	return p.cancelActive(ctx, entityID)
}

func (p *Urgent) OnArrivalChanged(ctx context.Context, req Request) ([]reminder.Record, error) {
	if _, err := p.cancelActive(ctx, req.EntityID); err != nil {
		return nil, err
	}
	return p.Schedule(ctx, req)
}

func (p *Urgent) OnSubmissionConfirmed(ctx context.Context, entityID string, proof reminder.SubmissionProof) (bool, error) {
	return p.submissionCancel(ctx, entityID, proof)
}

func (p *Urgent) RemindLater(ctx context.Context, entityID string, now time.Time, delay time.Duration) (*reminder.Record, error) {
	return p.remindLaterSingle(ctx, Request{EntityID: entityID}, now, delay)
}

func (p *Urgent) Active(ctx context.Context, entityID string) ([]reminder.Record, error) {
	return p.active(ctx, entityID)
}
