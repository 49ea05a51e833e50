package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"entryminder/internal/reminder"
)

// ExpiryWarning warns about the entry document itself running out, relative to
// a caller-supplied expiry instant. Cardinality and offsets come from
// per-destination configuration; the engine treats the offsets list as opaque
// and produces one record per offset.
//
// It cancels on an entity *status* change, not on submission: expiry concerns
// the document, not the submission.
type ExpiryWarning struct {
	base
}

func NewExpiryWarning(cfg Config, deps Deps) *ExpiryWarning {
	return &ExpiryWarning{base: newBase(reminder.TypeExpiryWarning, cfg, deps)}
}

func (p *ExpiryWarning) offsetsFor(destination string) []time.Duration {
	if offs, ok := p.cfg.ExpiryOffsets[destination]; ok && len(offs) > 0 {
		return offs
	}
	return p.cfg.DefaultExpiryOffsets
}

func (p *ExpiryWarning) Schedule(ctx context.Context, req Request) ([]reminder.Record, error) {
	if err := p.validateEntity(req.EntityID); err != nil {
		return nil, err
	}
	if req.Expiry.IsZero() {
		return nil, reminder.ErrMissingExpiry
	}

	existing, err := p.active(ctx, req.EntityID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	now := p.Clock()
	var fresh []reminder.Record
	for _, ft := range ExpiryTimes(req.Expiry, p.offsetsFor(req.Destination)) {
		if !ft.After(now) {
			continue
		}
		rec, err := p.scheduleOne(ctx, req, ft,
			"Document expiry approaching",
			fmt.Sprintf("A document needed for %s expires on %s.",
				req.Destination, req.Expiry.Format("2006-01-02")))
		if err != nil {
			if perr := p.persist(ctx, req.EntityID, fresh); perr != nil {
				return nil, perr
			}
			return nil, err
		}
		fresh = append(fresh, rec)
	}
	if len(fresh) == 0 {
		return nil, nil
	}
	if err := p.persist(ctx, req.EntityID, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (p *ExpiryWarning) Cancel(ctx context.Context, entityID string) (bool, error) {
	return p.cancelActive(ctx, entityID)
}

// OnArrivalChanged reschedules against the unchanged expiry instant. The
// cancel-then-reschedule contract still applies so the destination's offsets
// configuration is re-read.
func (p *ExpiryWarning) OnArrivalChanged(ctx context.Context, req Request) ([]reminder.Record, error) {
	if _, err := p.cancelActive(ctx, req.EntityID); err != nil {
		return nil, err
	}
	if req.Expiry.IsZero() {
		// No expiry signal provided; nothing to rebuild.
		return nil, nil
	}
	return p.Schedule(ctx, req)
}

// OnSubmissionConfirmed is deliberately a no-op: submission does not resolve
// document expiry.
func (p *ExpiryWarning) OnSubmissionConfirmed(ctx context.Context, entityID string, proof reminder.SubmissionProof) (bool, error) {
	_ = ctx
	_ = entityID
	_ = proof
	return false, nil
}

// OnStatusChanged cancels the warnings once the entity reaches a terminal
// status. Non-terminal statuses leave the schedule alone.
func (p *ExpiryWarning) OnStatusChanged(ctx context.Context, entityID, status string) (bool, error) {
	if !terminalStatus(status) {
		return false, nil
	}
	return p.cancelActive(ctx, entityID)
}

func terminalStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved", "rejected", "cancelled", "withdrawn", "expired", "archived":
		return true
	}
	return false
}

func (p *ExpiryWarning) RemindLater(ctx context.Context, entityID string, now time.Time, delay time.Duration) (*reminder.Record, error) {
	return p.remindLaterSingle(ctx, Request{EntityID: entityID}, now, delay)
}

func (p *ExpiryWarning) Active(ctx context.Context, entityID string) ([]reminder.Record, error) {
	return p.active(ctx, entityID)
}
