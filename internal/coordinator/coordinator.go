package coordinator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"entryminder/internal/policy"
	"entryminder/internal/reminder"
	logx "entryminder/pkg/logx"
)

// Result is one policy module's outcome inside a fan-out.
type Result struct {
	Records   []reminder.Record
	Cancelled bool
	Err       error
}

// ResultMap is keyed by reminder type; every fan-out returns all four keys.
type ResultMap map[reminder.Type]Result

// OK reports whether no module failed.
func (m ResultMap) OK() bool {
	for _, r := range m {
		if r.Err != nil {
			return false
		}
	}
	return true
}

// Status is the per-entity snapshot the surrounding application renders.
type Status struct {
	EntityID   string
	Active     map[reminder.Type][]reminder.Record
	NextFiring *time.Time
}

// Coordinator fans lifecycle operations out across the four policy modules.
//
// Modules run concurrently (they touch disjoint storage keys) and
// independently: one module failing never prevents the others from running.
// Callers serialize operations per entity by awaiting each call before
// issuing the next; the coordinator does no internal queuing.
type Coordinator struct {
	log logx.Logger

	window   *policy.WindowOpen
	urgent   *policy.Urgent
	deadline *policy.Deadline
	expiry   *policy.ExpiryWarning
}

func New(w *policy.WindowOpen, u *policy.Urgent, d *policy.Deadline, e *policy.ExpiryWarning, log logx.Logger) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{log: log, window: w, urgent: u, deadline: d, expiry: e}
}

// Policy returns the module for t, or nil for an unknown type. The action
// router uses this for remind-later dispatch.
func (c *Coordinator) Policy(t reminder.Type) policy.Policy {
	switch t {
	case reminder.TypeWindowOpen:
		return c.window
	case reminder.TypeUrgent:
		return c.urgent
	case reminder.TypeDeadlineRepeat:
		return c.deadline
	case reminder.TypeExpiryWarning:
		return c.expiry
	}
	return nil
}

// Urgent exposes the throttled module for send-time guard checks.
func (c *Coordinator) Urgent() *policy.Urgent { return c.urgent }

func (c *Coordinator) all() []policy.Policy {
	return []policy.Policy{c.window, c.urgent, c.deadline, c.expiry}
}

// fanOut runs fn per policy concurrently and gathers one Result per type.
func (c *Coordinator) fanOut(pols []policy.Policy, fn func(p policy.Policy) Result) ResultMap {
	out := make(ResultMap, len(pols))
	var mu sync.Mutex
	var g errgroup.Group
	for _, p := range pols {
		p := p
		g.Go(func() error {
			res := fn(p)
			mu.Lock()
			out[p.Type()] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ScheduleAll schedules every reminder type for the entity.
func (c *Coordinator) ScheduleAll(ctx context.Context, req policy.Request) ResultMap {
	m := c.fanOut(c.all(), func(p policy.Policy) Result {
		recs, err := p.Schedule(ctx, req)
		return Result{Records: recs, Err: err}
	})
	c.logFailures("schedule all", req.EntityID, m)
	return m
}

// CancelAll cancels every reminder type for the entity.
func (c *Coordinator) CancelAll(ctx context.Context, entityID string) ResultMap {
	m := c.fanOut(c.all(), func(p policy.Policy) Result {
		ok, err := p.Cancel(ctx, entityID)
		return Result{Cancelled: ok, Err: err}
	})
	c.logFailures("cancel all", entityID, m)
	return m
}

// OnArrivalChanged propagates a date edit to all four modules
// (cancel-then-reschedule, unconditionally).
func (c *Coordinator) OnArrivalChanged(ctx context.Context, req policy.Request) ResultMap {
	m := c.fanOut(c.all(), func(p policy.Policy) Result {
		recs, err := p.OnArrivalChanged(ctx, req)
		return Result{Records: recs, Err: err}
	})
	c.logFailures("arrival changed", req.EntityID, m)
	return m
}

// OnSubmissionConfirmed propagates a submission proof to the three
// submission-bound types. ExpiryWarning is excluded: expiry concerns the
// document, not the submission, and cancels on a status change instead.
func (c *Coordinator) OnSubmissionConfirmed(ctx context.Context, entityID string, proof reminder.SubmissionProof) ResultMap {
	pols := []policy.Policy{c.window, c.urgent, c.deadline}
	m := c.fanOut(pols, func(p policy.Policy) Result {
		ok, err := p.OnSubmissionConfirmed(ctx, entityID, proof)
		return Result{Cancelled: ok, Err: err}
	})
	c.logFailures("submission confirmed", entityID, m)
	return m
}

// OnStatusChanged forwards the entity-status signal to ExpiryWarning only.
func (c *Coordinator) OnStatusChanged(ctx context.Context, entityID, status string) (bool, error) {
	return c.expiry.OnStatusChanged(ctx, entityID, status)
}

// GetStatus composes a snapshot of every module's active records.
func (c *Coordinator) GetStatus(ctx context.Context, entityID string) (Status, error) {
	m := c.fanOut(c.all(), func(p policy.Policy) Result {
		recs, err := p.Active(ctx, entityID)
		return Result{Records: recs, Err: err}
	})

	st := Status{EntityID: entityID, Active: map[reminder.Type][]reminder.Record{}}
	var firstErr error
	for t, r := range m {
		if r.Err != nil && firstErr == nil {
			firstErr = r.Err
		}
		if len(r.Records) == 0 {
			continue
		}
		st.Active[t] = r.Records
		for _, rec := range r.Records {
			if st.NextFiring == nil || rec.FiringTime.Before(*st.NextFiring) {
				ft := rec.FiringTime
				st.NextFiring = &ft
			}
		}
	}
	return st, firstErr
}

func (c *Coordinator) logFailures(op, entityID string, m ResultMap) {
	for t, r := range m {
		if r.Err != nil {
			c.log.Warn("policy fan-out failure",
				logx.String("op", op),
				logx.String("entity", entityID),
				logx.String("type", string(t)),
				logx.Err(r.Err))
		}
	}
}
