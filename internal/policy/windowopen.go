package policy

import (
	"context"
	"fmt"
	"time"

	"entryminder/internal/reminder"
)

// WindowOpen tells the traveler their submission window just opened,
// seven days before arrival. Single-shot.
type WindowOpen struct {
	base
}

func NewWindowOpen(cfg Config, deps Deps) *WindowOpen {
	return &WindowOpen{base: newBase(reminder.TypeWindowOpen, cfg, deps)}
}

func (p *WindowOpen) Schedule(ctx context.Context, req Request) ([]reminder.Record, error) {
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

	firing := WindowOpenTime(req.Arrival)
	if !firing.After(p.Clock()) {
		// Window already open (or past); nothing to remind about.
		return nil, nil
	}

	rec, err := p.scheduleOne(ctx, req, firing,
		"Submission window open",
		fmt.Sprintf("You can now submit your entry documents for %s.", req.Destination))
	if err != nil {
		return nil, err
	}
	if err := p.persist(ctx, req.EntityID, []reminder.Record{rec}); err != nil {
		return nil, err
	}
	return []reminder.Record{rec}, nil
}

func (p *WindowOpen) Cancel(ctx context.Context, entityID string) (bool, error) {
	return p.cancelActive(ctx, entityID)
}

func (p *WindowOpen) OnArrivalChanged(ctx context.Context, req Request) ([]reminder.Record, error) {
	if _, err := p.cancelActive(ctx, req.EntityID); err != nil {
		return nil, err
	}
	return p.Schedule(ctx, req)
}

func (p *WindowOpen) OnSubmissionConfirmed(ctx context.Context, entityID string, proof reminder.SubmissionProof) (bool, error) {
	return p.submissionCancel(ctx, entityID, proof)
}

func (p *WindowOpen) RemindLater(ctx context.Context, entityID string, now time.Time, delay time.Duration) (*reminder.Record, error) {
	return p.remindLaterSingle(ctx, Request{EntityID: entityID}, now, delay)
}

func (p *WindowOpen) Active(ctx context.Context, entityID string) ([]reminder.Record, error) {
	return p.active(ctx, entityID)
}
