package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"reportd/internal/config"
	"reportd/internal/eventbus"
	"reportd/internal/job"
	"reportd/internal/notifier"
	"reportd/internal/observability/status"
	"reportd/internal/runstate"
	rtsup "reportd/internal/runtime/supervisor"
	"reportd/internal/schedule"
	kit "reportd/internal/transport"
	"reportd/internal/transport/telegram"
	logx "reportd/pkg/logx"
	"reportd/pkg/systemd"
)

// Options override collaborators, mostly for tests.
type Options struct {
	Version string
	// Clock replaces the wall clock in the configured time zone.
	Clock schedule.Clock
	// Sender replaces the Telegram client built from notify.telegram.
	Sender kit.Sender
}

type App struct {
	cfgm *config.ConfigManager
	opts Options

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  runstate.Store
	inv    *job.Invoker
	sched  *schedule.Scheduler
	status *status.Service
	sd     *systemd.Notifier

	notifMu sync.Mutex
	notif   *notifier.Service
	tgKey   string

	sup *rtsup.Supervisor
}

// New loads the configuration through cfgm and builds every component. Nothing
// runs until Start.
func New(cfgm *config.ConfigManager, opts Options) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	fail := func(err error) (*App, error) {
		log.Error("startup failed", logx.Err(err))
		_ = logSvc.Close()
		return nil, err
	}

	sc, loc, err := mapScheduleConfig(cfg)
	if err != nil {
		return fail(err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = schedule.SystemClock{Location: loc}
	}

	jc, err := mapJobConfig(cfg)
	if err != nil {
		return fail(err)
	}
	inv, err := job.New(jc, log.With(logx.String("comp", "job")))
	if err != nil {
		return fail(err)
	}

	stc, err := mapStateConfig(cfg)
	if err != nil {
		return fail(err)
	}
	store, err := runstate.Open(stc, log.With(logx.String("comp", "runstate")))
	if err != nil {
		return fail(err)
	}

	bus := eventbus.New()
	sched, err := schedule.New(sc, schedule.Deps{
		Clock:   clock,
		Store:   store,
		Invoker: inv,
		Log:     log.With(logx.String("comp", "scheduler")),
		Bus:     bus,
	})
	if err != nil {
		_ = store.Close()
		return fail(err)
	}

	a := &App{
		cfgm:  cfgm,
		opts:  opts,
		log:   log.With(logx.String("comp", "app")),
		logs:  logSvc,
		bus:   bus,
		store: store,
		inv:   inv,
		sched: sched,
		sd:    systemd.New(log.With(logx.String("comp", "systemd"))),
	}

	notif, err := a.buildNotifier(cfg)
	if err != nil {
		_ = store.Close()
		return fail(err)
	}
	a.notif = notif
	a.tgKey = telegramKey(cfg)

	a.status = status.New(mapStatusConfig(cfg), status.Sources{
		Version:  opts.Version,
		Schedule: sched.Snapshot,
		Notifier: func() notifier.Stats { return a.notifier().Stats() },
		Supervisor: func() rtsup.Snapshot {
			if a.sup == nil {
				return rtsup.Snapshot{}
			}
			return a.sup.Snapshot()
		},
	}, log.With(logx.String("comp", "status")))

	a.log.Info("configured",
		logx.String("config", cfgm.Path()),
		logx.Strings("slots", schedule.IDs(sc.Slots)),
		logx.Strings("command", inv.Command()),
		logx.String("state_driver", stc.Driver),
		logx.String("state_dir", stc.Dir),
		logx.String("tz", clock.Now().Location().String()),
		logx.Strings("env_overrides", config.EnvOverridesSet()),
	)
	return a, nil
}

func (a *App) buildNotifier(cfg *config.Config) (*notifier.Service, error) {
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	log := a.log.With(logx.String("comp", "notifier"))
	sender := a.opts.Sender
	if sender == nil && ncfg.Enabled {
		tg, err := telegram.New(telegram.Config{Token: cfg.Notify.Telegram.Token, Timeout: ncfg.SendTimeout}, log)
		if err != nil {
			return nil, fmt.Errorf("notify.telegram: %w", err)
		}
		sender = tg
	}
	return notifier.New(ncfg, sender, log, a.bus), nil
}

func (a *App) notifier() *notifier.Service {
	a.notifMu.Lock()
	defer a.notifMu.Unlock()
	return a.notif
}

// Scheduler exposes the scheduler for status queries.
func (a *App) Scheduler() *schedule.Scheduler { return a.sched }

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

// Start launches the scheduler loop and the supporting goroutines. It returns
// at once; READY is reported to systemd after the catch-up pass.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.notifier().Start(a.sup.Context())
	a.status.Start(a.sup.Context())

	a.sup.Go("scheduler", func(c context.Context) error {
		a.sched.Init(c)
		if n := a.sched.CatchUp(c); n > 0 {
			a.log.Info("missed runs caught up", logx.Int("count", n))
		}
		a.sd.Ready()
		a.sd.Status(a.sched.Snapshot().StatusLine())
		return a.sched.Run(c)
	})

	a.sup.Go0("status.line", a.statusLineLoop)

	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return a.sd.RunWatchdog(c, func() bool { return c.Err() == nil })
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// statusLineLoop keeps the systemd STATUS line current and logs bus events at debug.
func (a *App) statusLineLoop(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64)
	defer unsub()
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			if e.Type == eventbus.TypeJobStarted {
				if st, ok := e.Data.(eventbus.JobStarted); ok {
					a.sd.Status("running " + st.Slot + " (" + st.Trigger + ")")
				}
				continue
			}
			a.sd.Status(a.sched.Snapshot().StatusLine())
		case <-t.C:
			a.sd.Status(a.sched.Snapshot().StatusLine())
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel first: this kills a running job and wakes the scheduler from its sleep.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// The scheduler persists its record on the way out, so wait for it before closing the store.
	step("supervisor", 15*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("notifier", 3*time.Second, func(c context.Context) error { a.notifier().Stop(c); return nil })
	step("status", 2*time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	step("runstate", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.String("status", a.sched.Snapshot().StatusLine()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
