package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"entryminder/internal/actions"
	"entryminder/internal/config"
	"entryminder/internal/coordinator"
	"entryminder/internal/eventbus"
	"entryminder/internal/events"
	"entryminder/internal/osched"
	"entryminder/internal/policy"
	"entryminder/internal/reminder"
	"entryminder/internal/storage"
	"entryminder/internal/sweep"
	"entryminder/internal/validator"
	logx "entryminder/pkg/logx"
)

// App wires the engine together: config, storage, the local notification
// scheduler, the four policies, coordinator, validator, event log, action
// router, and the maintenance sweeps.
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus     eventbus.Bus
	store   storage.Store
	adapter *osched.Local
	evlog   *events.Log

	coord  *coordinator.Coordinator
	valid  *validator.Validator
	router *actions.Router
	sweeps *sweep.Service

	retention time.Duration
	policyLoc *time.Location

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(loggingConfig(cfg.Logging))
	mgr.SetLogger(log.With(logx.String("comp", "config")))
	mgr.SetValidator(func(_ context.Context, c *config.Config) error {
		_, err := buildPolicyConfig(c.Policy)
		return err
	})

	a := &App{cfgMgr: mgr, logSvc: logSvc, log: log, bus: eventbus.New()}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	st, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if st == nil {
		// The engine is stateful by nature; run on the memory driver rather
		// than half-blind with no record of what was scheduled.
		a.log.Warn("storage disabled; falling back to memory driver")
		st = storage.NewMemory()
	}
	a.store = st

	a.adapter = osched.NewLocal(osched.Config{RatePerSec: cfg.Notifier.RatePerSec},
		a.log.With(logx.String("comp", "osched")))
	a.adapter.Deliver = a.handleDelivery

	evlog, err := events.NewLog(context.Background(), st, a.bus,
		a.log.With(logx.String("comp", "events")))
	if err != nil {
		return err
	}
	a.evlog = evlog

	polCfg, err := buildPolicyConfig(cfg.Policy)
	if err != nil {
		return err
	}
	a.policyLoc = polCfg.Location
	if a.policyLoc == nil {
		a.policyLoc = time.Local
	}
	deps := policy.Deps{
		Store:   st,
		Adapter: a.adapter,
		Events:  evlog,
		Log:     a.log.With(logx.String("comp", "policy")),
	}
	a.coord = coordinator.New(
		policy.NewWindowOpen(polCfg, deps),
		policy.NewUrgent(polCfg, deps),
		policy.NewDeadline(polCfg, deps),
		policy.NewExpiryWarning(polCfg, deps),
		a.log.With(logx.String("comp", "coordinator")),
	)

	a.valid = validator.New(st, a.adapter, a.bus, a.log.With(logx.String("comp", "validator")))

	laterDelay, err := config.ParseDurationOrDefault("actions.remind_later_delay",
		cfg.Actions.RemindLaterDelay, actions.DefaultRemindLaterDelay)
	if err != nil {
		return err
	}
	a.router = actions.New(actions.Config{RemindLaterDelay: laterDelay},
		a.coord.Policy, evlog, a.bus, a.log.With(logx.String("comp", "actions")))

	a.retention = events.DefaultRetention
	if cfg.Analytics.RetentionDays > 0 {
		a.retention = time.Duration(cfg.Analytics.RetentionDays) * 24 * time.Hour
	}

	a.sweeps = sweep.New(sweepConfig(cfg.Sweep), sweep.Jobs{
		Expire: func(ctx context.Context) error {
			_, err := policy.ExpireSweep(ctx, a.store, a.policyLoc, time.Now(), a.bus,
				a.log.With(logx.String("comp", "sweep")))
			return err
		},
		Prune: func(ctx context.Context) error {
			_, err := a.evlog.Prune(ctx, a.retention)
			return err
		},
		Validate: func(ctx context.Context) error {
			_, err := a.valid.Validate(ctx)
			return err
		},
	}, a.log.With(logx.String("comp", "sweep")))
	return nil
}

// Start launches background services and the config watcher. Idempotent.
func (a *App) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	a.started = true

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.adapter.Start(runCtx)
	a.sweeps.Start(runCtx)

	updates := a.cfgMgr.Subscribe(2)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		defer a.cfgMgr.Unsubscribe(updates)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	a.log.Info("entryminder started")
	return nil
}

// applyConfig handles a hot reload. Only the dynamically-adjustable pieces
// move: log level and sinks, sweep cadences, retention horizon. Storage and
// policy construction stay fixed for the process lifetime.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logSvc.Apply(loggingConfig(cfg.Logging))
	a.sweeps.Apply(sweepConfig(cfg.Sweep))
	if cfg.Analytics.RetentionDays > 0 {
		a.retention = time.Duration(cfg.Analytics.RetentionDays) * 24 * time.Hour
	}
	a.log.Info("config reloaded")
}

// handleDelivery runs when a locally-scheduled notification fires. The urgent
// frequency guard is consulted here, at trigger time, not at scheduling time.
func (a *App) handleDelivery(d osched.Delivery) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCtx()

	entityID := d.Payload["entity_id"]
	typ := reminder.Type(d.Payload["reminder_type"])
	if entityID == "" || !typ.Valid() {
		a.log.Warn("delivery with unknown payload", logx.String("id", d.ID))
		return
	}

	a.markFired(ctx, entityID, typ, d.ID)

	if typ == reminder.TypeUrgent {
		allowed, err := a.coord.Urgent().AllowSend(ctx, entityID)
		if err != nil {
			a.log.Warn("frequency guard check failed", logx.Err(err))
			return
		}
		if !allowed {
			a.log.Debug("urgent send suppressed by frequency guard",
				logx.String("entity", entityID))
			return
		}
		if err := a.coord.Urgent().MarkSent(ctx, entityID); err != nil {
			a.log.Warn("frequency guard update failed", logx.Err(err))
		}
	} else {
		_ = a.evlog.LogEvent(ctx, reminder.EventSent,
			events.Ref{EntityID: entityID, ReminderType: typ}, events.Meta{At: d.At})
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.SignalDelivered, Data: d})
}

// markFired transitions the delivered record out of Scheduled.
func (a *App) markFired(ctx context.Context, entityID string, typ reminder.Type, osID string) {
	recs, err := a.store.GetSeries(ctx, entityID, typ)
	if err != nil {
		a.log.Warn("mark fired load failed", logx.Err(err))
		return
	}
	changed := false
	for i := range recs {
		if recs[i].OSScheduleID == osID && recs[i].Active() {
			recs[i].Status = reminder.StatusFired
			recs[i].UpdatedAt = time.Now()
			changed = true
		}
	}
	if !changed {
		return
	}
	if err := a.store.PutSeries(ctx, entityID, typ, recs); err != nil {
		a.log.Warn("mark fired save failed", logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	a.sweeps.Stop()
	a.adapter.Stop()
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logSvc.Close()
	return nil
}

// Accessors for the surrounding application.
func (a *App) Coordinator() *coordinator.Coordinator { return a.coord }
func (a *App) Router() *actions.Router               { return a.router }
func (a *App) EventLog() *events.Log                 { return a.evlog }
func (a *App) Validator() *validator.Validator       { return a.valid }
func (a *App) Bus() eventbus.Bus                     { return a.bus }

// ---- config translation ----

func loggingConfig(c config.LoggingConfig) logx.Config {
	console := true
	if c.Console != nil {
		console = *c.Console
	}
	return logx.Config{
		Level:   c.Level,
		Console: console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func sweepConfig(c config.SweepConfig) sweep.Config {
	enabled := true
	if c.Enabled != nil {
		enabled = *c.Enabled
	}
	return sweep.Config{
		Enabled:      enabled,
		ExpireSpec:   c.ExpireSpec,
		PruneSpec:    c.PruneSpec,
		ValidateSpec: c.ValidateSpec,
		Timezone:     c.Timezone,
	}
}

func buildPolicyConfig(c config.PolicyConfig) (policy.Config, error) {
	out := policy.Config{}

	if tz := c.Timezone; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return out, fmt.Errorf("policy.timezone: %w", err)
		}
		out.Location = loc
	}

	var err error
	if out.MinSendGap, err = config.ParseDurationField("policy.min_send_gap", c.MinSendGap); err != nil {
		return out, err
	}
	if out.RemindLaterStep, err = config.ParseDurationField("policy.remind_later_step", c.RemindLaterStep); err != nil {
		return out, err
	}
	if out.DefaultExpiryOffsets, err = config.ParseDurationList("policy.default_expiry_offsets", c.DefaultExpiryOffsets); err != nil {
		return out, err
	}
	if len(c.ExpiryOffsets) > 0 {
		out.ExpiryOffsets = make(map[string][]time.Duration, len(c.ExpiryOffsets))
		for dest, raw := range c.ExpiryOffsets {
			offs, err := config.ParseDurationList("policy.expiry_offsets."+dest, raw)
			if err != nil {
				return out, err
			}
			out.ExpiryOffsets[dest] = offs
		}
	}
	return out, nil
}
