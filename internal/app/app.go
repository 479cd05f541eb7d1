// Package app assembles the market watcher: config, logging, bots, the
// poll pipeline, the command router and their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"

	"marketwatch/internal/broadcast"
	"marketwatch/internal/config"
	"marketwatch/internal/eventbus"
	"marketwatch/internal/market"
	"marketwatch/internal/render"
	"marketwatch/internal/runtime/supervisor"
	"marketwatch/internal/storage"
	"marketwatch/internal/task/scheduler"
	"marketwatch/internal/transport"
	"marketwatch/internal/transport/telegram/router"
	"marketwatch/internal/watch"
	"marketwatch/pkg/logx"
	"marketwatch/pkg/systemd"
)

const pollSchedule = "market-poll"

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger // comp=app
	root  logx.Logger // handed to components, which add their own comp
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	bots     *transport.Registry
	renderer *render.Renderer
	watcher  *watch.Watcher
	sched    *scheduler.Service
	router   *router.Router

	updates chan transport.Update
}

// Options tweak New for tests and tools.
type Options struct {
	// Fs backs dir sinks; nil means the OS filesystem.
	Fs afero.Fs
	// Fetcher replaces the HTTP market client.
	Fetcher watch.Fetcher
}

func New(cfgPath string) (*App, error) { return NewWithOptions(cfgPath, Options{}) }

func NewWithOptions(cfgPath string, opt Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath, logx.NewConsole("info"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(context.Background(), cfg); err != nil {
		return nil, err
	}

	// Bootstrap with operator forwarding off; the target is only known once
	// the bots exist.
	bootCfg := logConfig(cfg)
	bootCfg.Operator.Enabled = false
	logs, root := logx.New(bootCfg)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root)
	cfgm.SetValidator(validate)

	bots, err := buildBots(cfg, opt.Fs, root)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	applyOperatorTarget(logs, bots, cfg)
	logs.Apply(logConfig(cfg))

	store, err := OpenStore(cfg, root)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		root:    root,
		logs:    logs,
		bus:     eventbus.New(),
		store:   store,
		bots:    bots,
		updates: make(chan transport.Update, 256),
	}
	if err := a.buildPipeline(cfg, opt, root); err != nil {
		a.closeStore()
		_ = logs.Close()
		return nil, err
	}
	for _, r := range cfg.UnboundRules() {
		log.Warn("broadcast rule names an unknown bot; it will be skipped",
			logx.String("platform", r.Platform), logx.String("bot", r.BotID), logx.String("channel", string(r.ChannelID)))
	}
	return a, nil
}

func (a *App) buildPipeline(cfg *config.Config, opt Options, root logx.Logger) error {
	delay, err := config.Duration("broadcast.delay", cfg.Broadcast.Delay, 0)
	if err != nil {
		return err
	}
	sendTimeout, err := config.Duration("broadcast.send_timeout", cfg.Broadcast.SendTimeout, 30*time.Second)
	if err != nil {
		return err
	}
	fetchTimeout, err := config.Duration("market.fetch_timeout", cfg.Market.FetchTimeout, 30*time.Second)
	if err != nil {
		return err
	}

	dopts := []broadcast.Option{
		broadcast.WithBus(a.bus),
		broadcast.WithLogger(root),
	}
	if a.store != nil {
		dopts = append(dopts, broadcast.WithAudit(a.store))
	}
	disp := broadcast.New(broadcast.Config{Delay: delay, SendTimeout: sendTimeout}, a.bots, dopts...)

	a.renderer, err = NewRenderer(cfg, root)
	if err != nil {
		return err
	}

	fetcher := opt.Fetcher
	if fetcher == nil {
		fetcher = market.NewClient(cfg.Market.Endpoint, fetchTimeout)
	}
	a.watcher = watch.New(watch.Config{
		ShowHidden:   cfg.Market.ShowHidden,
		Diff:         diffOptions(cfg),
		Destinations: destinations(cfg),
	}, fetcher, a.renderer, disp, a.bus, root)

	a.sched = scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, root)
	// Bounds a whole tick: fetch, render and the paced sweep.
	tickTimeout := fetchTimeout + 2*time.Minute + time.Duration(len(cfg.Broadcast.Rules))*(delay+sendTimeout)
	if err := a.sched.AddSchedule(pollSchedule, string(cfg.Market.Interval), tickTimeout, a.poll); err != nil {
		return fmt.Errorf("market.interval: %w", err)
	}

	a.router = router.New(router.Config{Owners: owners(cfg)}, a.bots, root)
	a.router.SetCommands(router.MarketCommands(a.watcher, a.renderer, render.DemoChanges))
	return nil
}

// poll is the scheduled job. An overlapping tick is not an error.
func (a *App) poll(ctx context.Context) error {
	res := a.watcher.Tick(ctx)
	if res.Skipped {
		return nil
	}
	if res.Report != nil && res.Report.Failed > 0 {
		_, _ = systemd.Status(fmt.Sprintf("last broadcast: %d/%d failed", res.Report.Failed, res.Report.Total))
	}
	return res.Err
}

// Watcher exposes the poll loop for commands and tests.
func (a *App) Watcher() *watch.Watcher { return a.watcher }

// Done is closed when the supervisor context ends (fatal error or Stop).
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

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()

	if err := a.bots.Start(c, a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go("eventbus.log", func(c context.Context) error {
		eventbus.Log(c, a.bus, a.root)
		return nil
	})

	// A failed first fetch is not fatal: the first tick sets the baseline.
	_ = a.watcher.Init(c)
	if err := a.sched.Start(c); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return systemd.Watchdog(c, a.log)
	})

	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started",
		logx.String("interval", string(a.cfgm.Get().Market.Interval)),
		logx.Int("bots", len(a.bots.All())),
	)
	return nil
}

// reloadLoop applies live sections of reloaded configs and warns about the
// rest.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			next = cfg
		}
		// Coalesce bursts: keep only the latest.
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					next = newer
				}
			default:
				break drain
			}
		}

		sections, attrs := config.SummarizeConfigChange(last, next)
		last = next
		if len(sections) == 0 {
			a.log.Info("config reloaded (no changes)")
			continue
		}

		applyOperatorTarget(a.logs, a.bots, next)
		a.logs.Apply(logConfig(next))
		a.router.SetOwners(owners(next))

		var restart []string
		for _, s := range sections {
			if !config.LiveSections[s] {
				restart = append(restart, s)
			}
		}
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
		if len(restart) > 0 {
			a.log.Warn("config changed; restart required for changes to take effect",
				logx.String("sections", strings.Join(restart, ",")))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// Scheduler first so no tick starts mid-shutdown, then the supervised
	// loops, then the bots they were feeding.
	step(ctx, a.log, "scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step(ctx, a.log, "supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Stop(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step(ctx, a.log, "bots", 3*time.Second, func(c context.Context) error { return a.bots.Stop(c) })
	step(ctx, a.log, "storage", time.Second, func(context.Context) error {
		a.closeStore()
		return nil
	})

	a.log.Info("stopped", logx.Uint64("events_dropped", a.bus.Dropped()))
	return a.logs.Close()
}

func (a *App) closeStore() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.store = nil
}
