package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"clanwatch/internal/config"
	"clanwatch/internal/dispatch"
	"clanwatch/internal/eventbus"
	"clanwatch/internal/gamedata"
	"clanwatch/internal/scheduler"
	"clanwatch/internal/store"
	"clanwatch/internal/transport"
	"clanwatch/internal/transport/telegram"
	logx "clanwatch/pkg/logx"
)

// App wires the whole engine together: config, logging, transport, storage,
// cycle resolution, scheduling, and dispatch. Construction fails fast on bad
// config; Start only launches background loops.
type App struct {
	cfgPath string
	cfgm    *config.Manager

	logs *logx.Service
	log  logx.Logger

	adapter  *telegram.Adapter
	st       *store.Store
	resolver *gamedata.Resolver
	bus      eventbus.Bus
	disp     *dispatch.Service
	sched    *scheduler.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(logxConfig(cfg), nil)
	log = log.With(logx.String("comp", "app"))

	adapter, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	logs.SetSender(adapter)
	if cfg.Telegram.OpsChatID != 0 {
		logs.SetOpsTarget(transport.ChannelRef{ChatID: cfg.Telegram.OpsChatID, ThreadID: cfg.Telegram.OpsThreadID})
	}

	stCfg, err := storeConfig(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	st, err := store.Open(stCfg, log.With(logx.String("comp", "store")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	apiCfg, resCfg, err := gamedataConfigs(cfg)
	if err != nil {
		_ = st.Close()
		_ = logs.Close()
		return nil, err
	}
	client, err := gamedata.NewAPIClient(apiCfg, log.With(logx.String("comp", "gamedata")))
	if err != nil {
		_ = st.Close()
		_ = logs.Close()
		return nil, err
	}
	resolver := gamedata.NewResolver(client, resCfg, log.With(logx.String("comp", "gamedata")))

	bus := eventbus.New()

	dCfg, err := dispatchConfig(cfg)
	if err != nil {
		_ = st.Close()
		_ = logs.Close()
		return nil, err
	}
	disp := dispatch.New(dCfg, adapter, st, bus, log.With(logx.String("comp", "dispatch")))

	sCfg, err := schedulerConfig(cfg)
	if err != nil {
		_ = st.Close()
		_ = logs.Close()
		return nil, err
	}
	sched := scheduler.New(sCfg, st, st, resolver, disp, bus, log.With(logx.String("comp", "scheduler")))

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		logs:     logs,
		log:      log,
		adapter:  adapter,
		st:       st,
		resolver: resolver,
		bus:      bus,
		disp:     disp,
		sched:    sched,
	}, nil
}

// Store exposes the persistence layer for command surfaces built on top of
// the engine.
func (a *App) Store() *store.Store { return a.st }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// Materializing exercises every duration, weekday, and id parse;
		// a config that fails any of them never reaches the services.
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token is required")
		}
		if _, err := storeConfig(cfg); err != nil {
			return err
		}
		if _, _, err := gamedataConfigs(cfg); err != nil {
			return err
		}
		if _, err := dispatchConfig(cfg); err != nil {
			return err
		}
		_, err := schedulerConfig(cfg)
		return err
	})

	if a.disp.Enabled() {
		a.disp.Start(runCtx)
	}
	if a.sched.Enabled() {
		a.sched.Start(runCtx)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reloadLoop(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.eventLoop(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.watchdogLoop(runCtx)
	}()

	a.log.Info("started", logx.Bool("scheduler", a.sched.Enabled()), logx.Bool("dispatch", a.disp.Enabled()))
	notifyReady()
	return nil
}

// Stop unwinds in dependency order: the scheduler stops producing before the
// dispatch queue drains, and the transport outlives both so in-flight sends
// and the ops log sink can finish.
func (a *App) Stop(ctx context.Context) error {
	notifyStopping()
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step failed", logx.String("step", name), logx.Err(err))
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("dispatch", 10*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("telegram", 5*time.Second, a.adapter.Stop)
	step("store", 5*time.Second, func(context.Context) error { return a.st.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// reloadLoop applies validated config updates to the live services.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}

			changed := config.ChangedSections(last, cfg)
			last = cfg
			if len(changed) == 0 {
				continue
			}
			a.log.Info("applying config update", logx.String("changed", strings.Join(changed, ",")))
			a.applyConfig(ctx, cfg)
		}
	}
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logxConfig(cfg))
	if cfg.Telegram.OpsChatID != 0 {
		a.logs.SetOpsTarget(transport.ChannelRef{ChatID: cfg.Telegram.OpsChatID, ThreadID: cfg.Telegram.OpsThreadID})
	} else {
		a.logs.SetOpsTarget(transport.ChannelRef{})
	}

	if _, resCfg, err := gamedataConfigs(cfg); err == nil {
		a.resolver.Apply(resCfg)
	}
	if dCfg, err := dispatchConfig(cfg); err == nil {
		dispWasEnabled := a.disp.Enabled()
		a.disp.Apply(dCfg)
		switch {
		case dispWasEnabled && !dCfg.Enabled:
			a.log.Info("dispatcher disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.disp.Stop(stopCtx)
			cancel()
		case !dispWasEnabled && dCfg.Enabled:
			a.log.Info("dispatcher enabled via config")
			a.disp.Start(ctx)
		}
	}

	sCfg, err := schedulerConfig(cfg)
	if err != nil {
		// Validator already vetted this config; a failure here is a bug.
		a.log.Error("scheduler config materialize failed", logx.Err(err))
		return
	}
	wasEnabled := a.sched.Enabled()
	a.sched.Apply(sCfg)
	switch {
	case wasEnabled && !sCfg.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !wasEnabled && sCfg.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}
}

// eventLoop turns bus events into log lines so every dispatch outcome is
// visible without a debugger attached.
func (a *App) eventLoop(ctx context.Context) {
	events, unsubscribe := a.bus.Subscribe(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			res, ok := e.(dispatch.Result)
			if !ok {
				continue
			}
			switch res.Outcome {
			case dispatch.OutcomeDelivered:
				a.logResult(res, "reminder delivered", false)
			case dispatch.OutcomeDenied:
				a.logResult(res, "reminder delivery denied, marked fired", true)
			case dispatch.OutcomeRolledBack:
				a.logResult(res, "reminder delivery failed, claim rolled back", true)
			}
		}
	}
}

func (a *App) logResult(res dispatch.Result, msg string, warn bool) {
	fields := []logx.Field{
		logx.String("reminder", res.ReminderID),
		logx.String("cycle", res.CycleID),
		logx.String("channel", res.Channel.String()),
	}
	if warn {
		a.log.Warn(msg, fields...)
		return
	}
	a.log.Info(msg, fields...)
}
