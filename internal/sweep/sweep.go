package sweep

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "entryminder/pkg/logx"
)

// Config controls the maintenance cron service.
//
// Specs are standard five-field cron expressions or descriptors
// ("@hourly", "@every 15m").
type Config struct {
	Enabled      bool
	ExpireSpec   string // default "@every 15m"
	PruneSpec    string // default "@daily"
	ValidateSpec string // default "@hourly"
	Timezone     string // IANA TZ; empty means local
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.ExpireSpec) == "" {
		c.ExpireSpec = "@every 15m"
	}
	if strings.TrimSpace(c.PruneSpec) == "" {
		c.PruneSpec = "@daily"
	}
	if strings.TrimSpace(c.ValidateSpec) == "" {
		c.ValidateSpec = "@hourly"
	}
	return c
}

// Jobs are the engine maintenance passes the service drives. Each is invoked
// on its own cadence; all are explicit sweeps, never triggered by reads.
type Jobs struct {
	Expire   func(ctx context.Context) error
	Prune    func(ctx context.Context) error
	Validate func(ctx context.Context) error
}

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

const historySize = 50

// Service schedules the expiry sweep, event-log retention prune, and
// consistency validation on cron cadences.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	jobs   Jobs
	parser cron.Parser
	loc    *time.Location

	c       *cron.Cron
	baseCtx context.Context

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, jobs Jobs, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		cfg:    cfg.withDefaults(),
		jobs:   jobs,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the cadence config; a running service restarts its cron.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.withDefaults()
	if s.c != nil {
		s.stopLocked()
		s.startLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	s.baseCtx = ctx
	s.startLocked()
}

func (s *Service) startLocked() {
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			s.log.Warn("invalid sweep timezone", logx.String("tz", tz), logx.Err(err))
		}
	}
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	s.register("expire", s.cfg.ExpireSpec, s.jobs.Expire)
	s.register("prune", s.cfg.PruneSpec, s.jobs.Prune)
	s.register("validate", s.cfg.ValidateSpec, s.jobs.Validate)

	s.c.Start()
}

func (s *Service) register(name, spec string, job func(ctx context.Context) error) {
	if job == nil {
		return
	}
	_, err := s.c.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		s.log.Error("sweep register failed",
			logx.String("name", name),
			logx.String("spec", spec),
			logx.Err(err))
		return
	}
	s.log.Debug("sweep registered", logx.String("name", name), logx.String("spec", spec))
}

func (s *Service) run(name string, job func(ctx context.Context) error) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	started := time.Now()
	var runErr error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				runErr = fmt.Errorf("panic: %v", rec)
				s.log.Error("sweep panicked",
					logx.String("name", name),
					logx.Any("panic", rec),
					logx.Stack(logx.StackTrace(3, 16)))
			}
		}()
		runErr = job(ctx)
	}()

	item := HistoryItem{Name: name, Started: started, Duration: time.Since(started)}
	if runErr != nil {
		item.Error = runErr.Error()
		s.log.Warn("sweep failed", logx.String("name", name), logx.Err(runErr))
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

// History returns recent runs, newest last.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if s.c == nil {
		return
	}
	stopCtx := s.c.Stop()
	s.c = nil
	// Give in-flight jobs a moment; they also honor baseCtx.
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
	}
}
