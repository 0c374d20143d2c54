package scheduler

import (
	"context"
	"strings"
	"time"

	"flowup/internal/clock"
	"flowup/internal/eventbus"
	"flowup/internal/task/engine"
	logx "flowup/pkg/logx"

	"github.com/robfig/cron/v3"
)

// New creates the trigger service. A nil clk uses the system clock; a nil eng
// runs jobs inline on the timer goroutine.
func New(cfg Config, clk clock.Clock, eng *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.Component("scheduler")),
		bus:    bus,
		clock:  clk,
		engine: eng,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		once:        map[string]*onceDef{},
		onceVer:     map[string]uint64{},
		lastEnqWarn: map[string]time.Time{},
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.c != nil && oldTZ != newTZ {
		s.restartCronLocked()
	}
}

// Start starts cron triggering and arms every pending one-shot definition.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopped = false
	s.runCtx, s.cancel = context.WithCancel(ctx)

	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.String("spec", s.defs[i].spec), logx.Err(err))
		}
	}
	s.c.Start()

	armed := s.rebuildOnceTimers()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)), logx.Int("once", armed))
}

// Stop stops cron triggering and all runtime timers. One-shot definitions
// stay so they resume on the next Start; Arm fails until then.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.cancel
	s.started = false
	s.stopped = true
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if cancel != nil {
		cancel()
	}

	s.tmu.Lock()
	for _, d := range s.once {
		if d.timer != nil {
			_ = d.timer.Stop()
			d.timer = nil
		}
	}
	s.tmu.Unlock()

	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// dispatch hands a job to the engine, or runs it inline when there is none.
func (s *Service) dispatch(name string, timeout time.Duration, job Job, done func()) {
	s.mu.Lock()
	ctx := s.runCtx
	if timeout <= 0 {
		timeout = s.cfg.FireTimeout
	}
	eng := s.engine
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	run := func(c context.Context) error {
		if done != nil {
			defer done()
		}
		return job(c)
	}

	if eng != nil && eng.Enabled() {
		err := eng.Submit(ctx, engine.Task{Name: name, Timeout: timeout, Run: run})
		if err == nil {
			return
		}
		if done != nil {
			done()
		}
		s.reportEnqueueError(name, err)
		return
	}

	rc := context.WithoutCancel(ctx)
	cancel := func() {}
	if timeout > 0 {
		rc, cancel = context.WithTimeout(rc, timeout)
	}
	defer cancel()
	if err := run(rc); err != nil {
		s.log.Warn("job failed", logx.String("job", name), logx.Err(err))
	}
}

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(name string, err error) {
	now := time.Now()
	// Throttle per job family ("reminder:42" -> "reminder").
	family, _, _ := strings.Cut(name, ":")
	s.enqMu.Lock()
	last := s.lastEnqWarn[family]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[family] = now
	s.enqMu.Unlock()

	s.log.Warn("failed to enqueue task", logx.String("job", name), logx.Err(err))
	eventbus.Publish(s.bus, "task.dropped", engine.TaskEvent{Name: name, Started: now, Error: err.Error()})
}
