// Package app wires configuration, state, transport, detection and
// scheduling into one daemon lifecycle.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"ipwatch/internal/commands"
	"ipwatch/internal/config"
	"ipwatch/internal/detector"
	"ipwatch/internal/metrics"
	"ipwatch/internal/notify"
	rtsup "ipwatch/internal/runtime/supervisor"
	"ipwatch/internal/scheduler"
	"ipwatch/internal/state"
	"ipwatch/internal/subscription"
	"ipwatch/internal/target"
	"ipwatch/internal/transport/telegram"
	logx "ipwatch/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	root logx.Logger
	log  logx.Logger

	mu  sync.Mutex
	cur *config.Config

	store   state.Store
	state   *state.Manager
	bot     *telegram.Bot
	det     *detector.Detector
	sched   *scheduler.Scheduler
	metrics *metrics.Metrics

	sup     *rtsup.Supervisor
	updates chan *config.Config
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(LoggingConfig(cfg.Logging), nil)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, logs: logs, root: root, log: log, cur: cfg}
	if err := a.build(ctx, cfg); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config) error {
	comp := func(name string) logx.Logger { return a.root.With(logx.String("comp", name)) }

	store, mgr, err := OpenState(ctx, cfg.State, comp("state"))
	if err != nil {
		return err
	}
	a.store, a.state = store, mgr
	if err := mgr.SeedTargets(ctx, cfg.DNS.Records); err != nil {
		return err
	}

	bot, err := telegram.New(TelegramConfig(cfg.Telegram), comp("telegram"))
	if err != nil {
		return err
	}
	a.bot = bot
	if cfg.Logging.Telegram.Enabled {
		a.logs.SetSink(bot)
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}
	a.metrics.SetSubscribers(len(mgr.Subscribers()))

	var applier target.Applier = target.Nop{}
	cf, err := NewCloudflare(cfg.DNS, comp("dns"))
	if err != nil {
		return err
	}
	if cf != nil {
		applier = cf
	}

	reg := subscription.New(mgr, comp("subscription"))
	var channel notify.ChannelSink
	if cfg.Telegram.Channel != "" {
		channel = bot
	}
	fan := notify.NewFanout(notify.Config{
		Timeout:    cfg.Notify.TimeoutOrDefault(),
		RatePerSec: cfg.Notify.RatePerSec,
	}, bot, channel, reg, comp("notify"))

	res := NewResolver(cfg.Resolver)
	a.det = detector.New(detector.Config{
		Label:             cfg.Watch.Label,
		ResolveRetries:    cfg.Watch.ResolveRetries,
		ResolveRetryDelay: cfg.Watch.RetryDelayOrDefault(),
		TargetTimeout:     cfg.DNS.TimeoutOrDefault(),
	}, detector.Deps{
		Resolver: res,
		State:    mgr,
		Fanout:   fan,
		Applier:  applier,
		Metrics:  a.metrics,
		Log:      comp("detector"),
	})
	a.sched = scheduler.New(scheduler.Config{
		Interval:     cfg.Watch.IntervalOrDefault(),
		CycleTimeout: cfg.Watch.CycleTimeoutOrDefault(),
	}, func(ctx context.Context) { a.det.RunCycle(ctx) }, a.metrics, comp("scheduler"))

	bot.Handle(commands.New(commands.Deps{
		Resolver: res,
		State:    mgr,
		Registry: reg,
		Direct:   bot,
		Dir:      bot,
		Pinger:   bot,
		Label:    cfg.Watch.Label,
		Log:      comp("commands"),
	}))
	return nil
}

// Start launches polling, the scheduler, the config watcher and the
// optional metrics endpoint, then reports readiness to systemd.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.root.With(logx.String("comp", "supervisor"))),
		rtsup.WithCancelOnError(true),
	)
	sctx := a.sup.Context()

	a.bot.Start(sctx)
	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.bot.UpdateMenuCommands(mctx, commands.Menu); err != nil {
			a.log.Warn("menu commands not updated", logx.Err(err))
		}
	})

	if err := a.sched.Start(sctx); err != nil {
		return err
	}

	a.updates = a.cfgm.Subscribe(1)
	a.sup.GoRestart("config.watch", a.cfgm.Watch, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	a.sup.Go0("config.apply", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-a.updates:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})

	if a.metrics != nil {
		addr := a.cur.Metrics.Addr
		if addr == "" {
			addr = config.DefaultMetricsAddr
		}
		withPprof := a.cur.Metrics.Pprof
		mlog := a.root.With(logx.String("comp", "metrics"))
		a.sup.GoRestart("metrics.http", func(c context.Context) error {
			return metrics.Serve(c, addr, a.metrics, withPprof, mlog)
		}, rtsup.WithRestartBackoff(time.Second, time.Minute))
	}

	a.sup.Go0("systemd.watchdog", func(c context.Context) { runWatchdog(c, a.log) })
	sdNotify(a.log, daemon.SdNotifyReady)

	snap := a.state.Snapshot()
	a.log.Info("started",
		logx.String("last_value", snap.LastValue),
		logx.Int("subscribers", len(snap.Subscribers)),
		logx.Int("targets", len(snap.Targets)),
	)
	return nil
}

// applyConfig applies the live sections of a reload and reports the rest.
func (a *App) applyConfig(cfg *config.Config) {
	a.mu.Lock()
	prev := a.cur
	a.cur = cfg
	a.mu.Unlock()

	changed, fields := config.SummarizeChange(prev, cfg)
	if len(changed) == 0 {
		return
	}
	a.log.Info("config changed", append(fields, logx.Strings("sections", changed))...)

	var pending []string
	for _, s := range changed {
		switch s {
		case "logging":
			a.logs.Apply(LoggingConfig(cfg.Logging))
			if cfg.Logging.Telegram.Enabled {
				a.logs.SetSink(a.bot)
			}
		case "watch":
			err := a.sched.Reschedule(scheduler.Config{
				Interval:     cfg.Watch.IntervalOrDefault(),
				CycleTimeout: cfg.Watch.CycleTimeoutOrDefault(),
			})
			if err != nil {
				a.log.Warn("reschedule failed", logx.Err(err))
			}
		}
		if !config.LiveSections[s] {
			pending = append(pending, s)
		}
	}
	if len(pending) > 0 {
		a.log.Warn("config sections need a restart to take effect", logx.Strings("sections", pending))
	}
}

// Done is closed when the app stops or a fatal error cancels it.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Stop waits for the running cycle up to watch.shutdown_grace, then stops
// every component.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.mu.Lock()
	grace := a.cur.Watch.ShutdownGraceOrDefault()
	a.mu.Unlock()
	a.log.Info("stopping", logx.String("reason", string(reason)), logx.Duration("grace", grace))

	gctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	var errs []error
	if err := a.sched.Stop(gctx); err != nil {
		errs = append(errs, err)
	}
	_ = a.bot.Stop(gctx)
	if a.sup != nil {
		a.sup.Cancel()
		if err := a.sup.Wait(gctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			a.log.Debug("supervisor stopped with error", logx.Err(err))
		}
	}
	a.cfgm.Unsubscribe(a.updates)
	a.log.Info("stopped")
	a.close()
	return errors.Join(errs...)
}

func (a *App) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
}

// Run starts the app and blocks until ctx is cancelled or a fatal error.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), StopFatalError)
		return err
	}
	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	reason := StopFatalError
	if ctx.Err() != nil {
		reason = StopSignal
	}
	fatal := a.Err()
	if err := a.Stop(context.Background(), reason); err != nil {
		a.log.Warn("shutdown incomplete", logx.Err(err))
	}
	return fatal
}
