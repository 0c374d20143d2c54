package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"flowup/internal/activity"
	"flowup/internal/clock"
	"flowup/internal/config"
	"flowup/internal/eventbus"
	"flowup/internal/notifier"
	"flowup/internal/observability/debug"
	"flowup/internal/reminder"
	"flowup/internal/runtime/supervisor"
	"flowup/internal/storage"
	"flowup/internal/task/engine"
	"flowup/internal/task/scheduler"
	logx "flowup/pkg/logx"
)

const reconcileJob = "reminders:reconcile"

// App owns every long-lived component. CLI commands use it without Start;
// serve calls Start to run timers, the worker pool and the background loops.
type App struct {
	cfgm    *config.ConfigManager
	secrets config.Secrets

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	sup  *supervisor.Supervisor

	store      storage.Store
	db         *gorm.DB
	engine     *engine.Service
	sched      *scheduler.Service
	notif      *notifier.Service
	reminders  *reminder.Scheduler
	activities *activity.Service
	debug      *debug.Service
}

func New(cfgPath string) (*App, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	secrets := config.SecretsFromEnv()

	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.Component("app"))
	bus := eventbus.New()

	a := &App{cfgm: cfgm, secrets: secrets, log: appLog, logs: logSvc, bus: bus}
	if err := a.build(cfg, log); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if sc.Driver == "file" {
		a.log.Warn("file storage is single-process; CLI edits while serve runs need storage.driver=sqlite")
	}
	a.store, err = storage.Open(sc, log.With(logx.Component("storage")))
	if err != nil {
		return err
	}

	a.db, err = activity.OpenDB(mapActivityDBConfig(cfg), log)
	if err != nil {
		return err
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return err
	}
	a.engine = engine.New(engCfg, log.With(logx.Component("taskengine")), a.bus)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	a.sched = scheduler.New(schedCfg, clock.Real{}, a.engine, log.With(logx.Component("scheduler")), a.bus)

	ncfg, err := mapNotifierConfig(cfg, a.secrets)
	if err != nil {
		return err
	}
	a.notif, err = notifier.New(ncfg, log, a.bus)
	if err != nil {
		return err
	}

	a.reminders = reminder.New(a.store, a.sched, a.notif, clock.Real{}, log, a.bus)
	a.activities = activity.NewService(activity.NewRepository(a.db, a.bus), a.reminders, log)

	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		return err
	}
	a.debug = debug.New(dcfg, a.health, log)
	return nil
}

func (a *App) Logger() logx.Logger            { return a.log }
func (a *App) Activities() *activity.Service  { return a.activities }
func (a *App) Reminders() *reminder.Scheduler { return a.reminders }
func (a *App) Bus() eventbus.Bus              { return a.bus }
func (a *App) Config() *config.Config         { return a.cfgm.Get() }

// Location is the zone for due dates given without one.
func (a *App) Location() *time.Location { return a.cfgm.Get().Reminders.Location() }

// Done is closed when the app supervisor stops (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the daemon side: worker pool, timers, restore of persisted
// reminders, the reconcile sweep, config hot reload and the debug server.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapTaskEngineConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg, a.secrets); err != nil {
			return err
		}
		_, err := mapDebugConfig(cfg)
		return err
	})

	if a.engine.Enabled() {
		a.engine.Start(runCtx)
	}
	a.sched.Start(runCtx)

	n, err := a.reminders.Restore(runCtx)
	if err != nil {
		return fmt.Errorf("restore reminders: %w", err)
	}
	a.log.Info("pending reminders armed", logx.Int("count", n))

	if err := a.applyReconcile(a.cfgm.Get()); err != nil {
		return err
	}
	a.debug.Start(runCtx)

	a.startEventLog()
	a.startConfigReload()
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Any("sinks", a.notif.SinkNames()))
	return nil
}

func (a *App) applyReconcile(cfg *config.Config) error {
	a.sched.Remove(reconcileJob)
	spec := strings.TrimSpace(cfg.Reminders.ReconcileEvery)
	if spec == "" {
		return nil
	}
	return a.sched.AddSchedule(reconcileJob, spec, 0, func(ctx context.Context) error {
		_, err := a.reminders.Reconcile(ctx)
		return err
	})
}

// startEventLog mirrors bus events into the debug log.
func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	log := a.log.With(logx.Component("events"))
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})
}

func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	for _, s := range sections {
		if s == "storage" || s == "activities" {
			a.log.Warn("database config changed; restart required", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogConfig(next))

	if ec, err := mapTaskEngineConfig(next); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.engine.Enabled()
		a.engine.Apply(ctx, ec)
		if !wasEnabled && ec.Enabled {
			a.engine.Start(ctx)
		} else if wasEnabled && !ec.Enabled {
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.engine.Stop(stopCtx)
			cancel()
		}
	}
	if sc, err := mapSchedulerConfig(next); err != nil {
		a.log.Warn("invalid reminders config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
	}
	if prev.Reminders.ReconcileEvery != next.Reminders.ReconcileEvery {
		if err := a.applyReconcile(next); err != nil {
			a.log.Warn("reconcile schedule rejected", logx.Err(err))
		}
	}
	if nc, err := mapNotifierConfig(next, a.secrets); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else if err := a.notif.Apply(nc); err != nil {
		a.log.Warn("notifier reconfigure failed; keeping previous", logx.Err(err))
	}
	if dc, err := mapDebugConfig(next); err == nil {
		a.debug.Reconfigure(ctx, dc)
	}

	eventbus.Publish(a.bus, eventbus.ConfigReloaded, sections)
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Health is the /healthz payload.
type Health struct {
	Status     string              `json:"status"`
	Pending    int                 `json:"pending_reminders"`
	Reminders  reminder.Stats      `json:"reminders"`
	Scheduler  scheduler.Snapshot  `json:"scheduler"`
	Engine     engine.Snapshot     `json:"engine"`
	Sinks      []string            `json:"sinks"`
	Supervisor supervisor.Counters `json:"supervisor"`
	DroppedBus uint64              `json:"dropped_events"`
	StoreError string              `json:"store_error,omitempty"`
}

func (a *App) health(ctx context.Context) any {
	h := Health{
		Status:     "ok",
		Reminders:  a.reminders.Stats(),
		Scheduler:  a.sched.Snapshot(),
		Engine:     a.engine.Snapshot(),
		Sinks:      a.notif.SinkNames(),
		DroppedBus: eventbus.Dropped(a.bus),
	}
	if a.sup != nil {
		h.Supervisor = a.sup.Counters()
	}
	rows, err := a.reminders.Pending(ctx)
	if err != nil {
		h.Status = "degraded"
		h.StoreError = err.Error()
	}
	h.Pending = len(rows)
	return h
}

// Stop shuts the daemon side down in dependency order, each step bounded.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context)) {
		start := time.Now()
		c, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn(c)
		}()
		select {
		case <-done:
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-c.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Timers first so no new fire is queued while workers drain.
	step("scheduler", 2*time.Second, a.sched.Stop)
	step("taskengine", 3*time.Second, a.engine.Stop)
	step("debug", time.Second, a.debug.Stop)
	step("supervisor", 2*time.Second, func(c context.Context) { _ = a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.Close()
}

// Close releases databases and log sinks. Safe to call after a failed New.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
		a.db = nil
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
		a.logs = nil
	}
	return errors.Join(errs...)
}
