package osched

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	logx "entryminder/pkg/logx"
)

// Config controls the local adapter.
type Config struct {
	// RatePerSec limits delivery dispatch so a burst of due timers doesn't
	// flood the delivery handler. Defaults to 3.
	RatePerSec int
}

// Delivery is handed to the Deliver callback when a scheduled entry fires.
type Delivery struct {
	Entry
	Title string
	Body  string
	At    time.Time
}

// Local is an in-process Adapter backed by one timer per entry.
//
// It exists so the engine can run as a plain process (and in tests) without a
// platform notification service. Entries do not survive restarts, matching
// the "OS schedule can drift from the store" model.
type Local struct {
	mu sync.Mutex

	log     logx.Logger
	cfg     Config
	limiter *rate.Limiter

	// Deliver is invoked from a timer goroutine for each due entry.
	// Set it before Start. May be nil (entries fire into the void, which is
	// exactly what a platform scheduler does when the app isn't listening).
	Deliver func(d Delivery)

	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	entries map[string]*localEntry
}

type localEntry struct {
	req   Request
	timer *time.Timer
}

func NewLocal(cfg Config, log logx.Logger) *Local {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Local{
		log:     log,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		entries: map[string]*localEntry{},
	}
}

// Start arms timers for future entries. Idempotent.
func (l *Local) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	l.ctx, l.cancel = context.WithCancel(ctx)
	for id, e := range l.entries {
		l.armLocked(id, e)
	}
}

// Stop disarms all timers and waits for in-flight deliveries.
func (l *Local) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	cancel := l.cancel
	l.cancel = nil
	for _, e := range l.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

func (l *Local) ScheduleAt(ctx context.Context, req Request) (string, error) {
	_ = ctx
	id := uuid.NewString()
	e := &localEntry{req: req}

	l.mu.Lock()
	l.entries[id] = e
	if l.started {
		l.armLocked(id, e)
	}
	l.mu.Unlock()

	l.log.Debug("os schedule",
		logx.String("id", id),
		logx.Time("firing", req.FiringTime),
		logx.String("title", req.Title))
	return id, nil
}

func (l *Local) armLocked(id string, e *localEntry) {
	d := time.Until(e.req.FiringTime)
	if d < 0 {
		d = 0
	}
	e.timer = time.AfterFunc(d, func() { l.fire(id) })
}

func (l *Local) fire(id string) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if ok {
		delete(l.entries, id)
	}
	deliver := l.Deliver
	ctx := l.ctx
	l.mu.Unlock()
	if !ok || deliver == nil || ctx == nil {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.limiter.Wait(ctx); err != nil {
			return
		}
		deliver(Delivery{
			Entry: Entry{ID: id, FiringTime: e.req.FiringTime, Payload: e.req.Payload},
			Title: e.req.Title,
			Body:  e.req.Body,
			At:    time.Now(),
		})
	}()
}

func (l *Local) Cancel(ctx context.Context, id string) (bool, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return false, nil
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(l.entries, id)
	return true, nil
}

func (l *Local) CancelAll(ctx context.Context) (bool, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, e := range l.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(l.entries, id)
	}
	return true, nil
}

func (l *Local) ListScheduled(ctx context.Context) ([]Entry, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.entries))
	for id, e := range l.entries {
		out = append(out, Entry{ID: id, FiringTime: e.req.FiringTime, Payload: e.req.Payload})
	}
	return out, nil
}

// Drop removes an entry without treating it as a cancellation, simulating the
// platform silently losing a schedule. Used by consistency tests.
func (l *Local) Drop(id string) {
	l.mu.Lock()
	if e, ok := l.entries[id]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(l.entries, id)
	}
	l.mu.Unlock()
}
