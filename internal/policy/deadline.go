package policy

import (
	"context"
	"fmt"
	"time"

	"entryminder/internal/events"
	"entryminder/internal/reminder"
	logx "entryminder/pkg/logx"
)

// Deadline drives the arrival-day escalation: 08:00 local, then 12:00, 16:00,
// 20:00. The four records form one logical series and are cancelled as a unit.
// A "remind later" action may append one more firing while the series has
// repeat budget left.
type Deadline struct {
	base
}

func NewDeadline(cfg Config, deps Deps) *Deadline {
	return &Deadline{base: newBase(reminder.TypeDeadlineRepeat, cfg, deps)}
}

func (p *Deadline) Schedule(ctx context.Context, req Request) ([]reminder.Record, error) {
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

	now := p.Clock()
	times := DeadlineTimes(req.Arrival, p.cfg.Location)

	var fresh []reminder.Record
	for i, ft := range times {
		if !ft.After(now) {
			// A partially-past series still schedules its future members.
			continue
		}
		rec, err := p.scheduleOne(ctx, req, ft,
			"Submission deadline today",
			fmt.Sprintf("Entry documents for %s must be submitted before you arrive.", req.Destination))
		if err != nil {
			// Keep what the OS already accepted, then surface the failure.
			stampSeriesIDs(fresh)
			if perr := p.persistSeries(ctx, req.EntityID, fresh); perr != nil {
				p.Log.Error("deadline partial persist failed", logx.Err(perr))
			}
			return nil, err
		}
		rec.RepeatIndex = i
		rec.MaxRepeats = reminder.MaxRepeats
		fresh = append(fresh, rec)
	}
	if len(fresh) == 0 {
		return nil, nil
	}
	stampSeriesIDs(fresh)
	if err := p.persistSeries(ctx, req.EntityID, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// persistSeries appends fresh members to the stored series and logs them.
func (p *Deadline) persistSeries(ctx context.Context, entityID string, fresh []reminder.Record) error {
	return p.persist(ctx, entityID, fresh)
}

// RemindLater appends one more firing RemindLaterStep after the triggering
// action, but only while repeat budget remains. The delay argument is
// ignored: this policy's 4-hour rule overrides the user's general preference.
func (p *Deadline) RemindLater(ctx context.Context, entityID string, now time.Time, _ time.Duration) (*reminder.Record, error) {
	if err := p.validateEntity(entityID); err != nil {
		return nil, err
	}
	recs, err := p.loadSeries(ctx, entityID)
	if err != nil {
		return nil, err
	}

	maxIdx := -1
	for _, r := range recs {
		if r.RepeatIndex > maxIdx {
			maxIdx = r.RepeatIndex
		}
	}
	if maxIdx >= reminder.MaxRepeats {
		// Series is capped; the user has been reminded enough today.
		return nil, nil
	}

	rec, err := p.scheduleOne(ctx, Request{EntityID: entityID}, now.Add(p.cfg.RemindLaterStep),
		"Submission deadline today",
		"You asked to be reminded again before arrival.")
	if err != nil {
		return nil, err
	}
	rec.RepeatIndex = maxIdx + 1
	rec.MaxRepeats = reminder.MaxRepeats

	recs = append(recs, rec)
	stampSeriesIDs(recs)
	if err := p.Store.PutSeries(ctx, entityID, p.typ, recs); err != nil {
		return nil, &reminder.StoreError{Op: "put series", Err: err}
	}
	if p.Events != nil {
		_ = p.Events.LogEvent(ctx, reminder.EventScheduled,
			events.Ref{EntityID: entityID, ReminderType: p.typ}, events.Meta{})
	}
	// Re-read the stamped copy so SeriesIDs includes the new member.
	out := recs[len(recs)-1]
	return &out, nil
}

// stampSeriesIDs rewrites every member's ordered series-id list so the series
// can be cancelled as a unit even if members were appended later.
func stampSeriesIDs(recs []reminder.Record) {
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.OSScheduleID)
	}
	for i := range recs {
		recs[i].SeriesIDs = ids
	}
}

func (p *Deadline) Cancel(ctx context.Context, entityID string) (bool, error) {
	return p.cancelActive(ctx, entityID)
}

func (p *Deadline) OnArrivalChanged(ctx context.Context, req Request) ([]reminder.Record, error) {
	if _, err := p.cancelActive(ctx, req.EntityID); err != nil {
		return nil, err
	}
	return p.Schedule(ctx, req)
}

func (p *Deadline) OnSubmissionConfirmed(ctx context.Context, entityID string, proof reminder.SubmissionProof) (bool, error) {
	return p.submissionCancel(ctx, entityID, proof)
}

func (p *Deadline) Active(ctx context.Context, entityID string) ([]reminder.Record, error) {
	return p.active(ctx, entityID)
}
