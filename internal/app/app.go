package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"jobsched/internal/config"
	"jobsched/internal/eventbus"
	"jobsched/internal/jobs"
	"jobsched/internal/metrics"
	rtsup "jobsched/internal/runtime/supervisor"
	"jobsched/internal/storage"
	"jobsched/internal/task/engine"
	"jobsched/internal/task/scheduler"
	logx "jobsched/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine  *engine.Service
	sched   *scheduler.Service
	builder *jobs.Builder
	persist *persister

	collector *metrics.Collector
	metricsrv *metrics.Server

	watch bool
}

// Option customizes New.
type Option func(*options)

type options struct {
	out   io.Writer
	watch bool
}

// WithOutput sets where echo jobs print. Defaults to stdout.
func WithOutput(w io.Writer) Option { return func(o *options) { o.out = w } }

// WithWatch enables or disables config hot-reload. Enabled by default.
func WithWatch(enabled bool) Option { return func(o *options) { o.watch = enabled } }

// New loads the config file and builds every component without starting them.
func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{watch: true}
	for _, fn := range opts {
		fn(&o)
	}
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	logSvc, log, err := logx.New(cfg.Logging.LogConfig())
	appLog := log.With(logx.String("comp", "app"))
	if err != nil {
		appLog.Warn("log file disabled", logx.Err(err))
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}

	var store storage.Store
	if sc, enabled := mapStorageConfig(cfg); enabled {
		store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		appLog.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	bus := eventbus.New()
	eng := engine.New(mapEngineConfig(cfg), log.With(logx.String("comp", "runner")))
	sched := scheduler.New(mapSchedulerConfig(cfg), eng, log.With(logx.String("comp", "scheduler")), bus)

	col := metrics.New(func() (int, int) {
		s := eng.Snapshot()
		return s.QueueLen, s.QueueCap
	})

	a := &App{
		cfgm:      cfgm,
		log:       appLog,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		engine:    eng,
		sched:     sched,
		builder:   &jobs.Builder{Log: log.With(logx.String("comp", "jobs")), Out: o.out, Loc: loc},
		collector: col,
		metricsrv: metrics.NewServer(col, log.With(logx.String("comp", "metrics"))),
		watch:     o.watch,
	}
	if store != nil {
		a.persist = newPersister(store, sched, log.With(logx.String("comp", "persist")), cfg.Storage.SaveDebounceDuration())
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	return a, nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Runner() *engine.Service { return a.engine }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Logger() logx.Logger { return a.log }

// Store returns the persistence backend, nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the runner and dispatch loop, registers configured jobs, restores
// saved state and starts the background subscribers.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.engine.Start(runCtx)
	a.sup.Go("scheduler.loop", a.sched.Serve)

	for _, jc := range cfg.Jobs {
		job, err := a.builder.Job(jc)
		if err == nil {
			err = a.sched.Register(runCtx, job)
		}
		if err != nil {
			a.sup.Cancel()
			return fmt.Errorf("register %s: %w", jc.Key(), err)
		}
	}
	a.log.Info("jobs registered", logx.Int("count", len(cfg.Jobs)))

	if err := a.restore(runCtx); err != nil {
		a.log.Warn("state restore failed; starting fresh", logx.Err(err))
	}

	if a.persist != nil {
		events, unsub := a.bus.Subscribe(256)
		a.sup.Go0("persist", func(c context.Context) {
			defer unsub()
			a.persist.run(c, events)
		})
	}

	a.sup.Go("metrics.collect", func(c context.Context) error {
		return a.collector.Run(c, a.bus)
	})
	a.metricsrv.Reconfigure(runCtx, mapMetricsConfig(cfg))

	if a.watch {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	mode, _ := a.sched.Mode(runCtx)
	a.log.Info("app started", logx.String("mode", mode.String()))
	return nil
}

func (a *App) restore(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	st, ok, err := a.store.LoadState(ctx)
	if err != nil || !ok {
		return err
	}
	n, err := a.sched.Restore(ctx, st, true)
	if err != nil {
		return err
	}
	if skipped := len(st.Jobs) - n; skipped > 0 {
		a.log.Info("saved state for unknown jobs ignored", logx.Int("count", skipped))
	}
	return nil
}

// Stop shuts down in dependency order. The saved mode is the one in effect
// when Stop was called, even though the scheduler is put in standby while
// the runner drains.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	var mode *scheduler.Mode
	if a.persist != nil {
		a.persist.freeze()
	}
	step("scheduler.standby", 2*time.Second, func(c context.Context) error {
		m, err := a.sched.Mode(c)
		if err != nil {
			return err
		}
		mode = &m
		return a.sched.Standby(c)
	})
	step("runner", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	if a.persist != nil {
		step("state.save", 2*time.Second, func(c context.Context) error {
			if mode == nil {
				return errors.New("mode unknown; skipping final save")
			}
			return a.persist.save(c, mode)
		})
	}

	a.sup.Cancel()
	step("metrics", time.Second, func(c context.Context) error { a.metricsrv.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	if a.store != nil {
		step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
