package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"timerbot/internal/activity"
	"timerbot/internal/bot"
	"timerbot/internal/clock"
	"timerbot/internal/config"
	"timerbot/internal/cooldown"
	"timerbot/internal/eventbus"
	"timerbot/internal/httpapi"
	"timerbot/internal/notifier"
	"timerbot/internal/profile"
	rtsup "timerbot/internal/runtime/supervisor"
	"timerbot/internal/stats"
	"timerbot/internal/storage"
	"timerbot/internal/task/scheduler"
	kit "timerbot/internal/transport"
	telegram "timerbot/internal/transport/telegram/adapter"
	"timerbot/internal/transport/telegram/router"
	logx "timerbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgl *config.Loader
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	engine *cooldown.Engine
	stats  *stats.Service
	notif  *notifier.Service
	fanout *notifier.Fanout
	sched  *scheduler.Service
	http   *httpapi.Service
	cmdm   *router.CommandManager
	jobs   *dailyJobs

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO")
	if err := config.LoadDotEnv(cfgPath); err != nil {
		bootLog.Warn("failed to load .env", logx.Err(err))
	}

	cfgl := config.NewLoader(cfgPath)
	cfg, err := cfgl.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	pollTimeout, err := config.DurationOr("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with chat logging off, set the target, then apply the final
	// config so Apply() doesn't warn about a missing chat.
	logCfg := mapLoggingConfig(cfg)
	baseLogCfg := logCfg
	baseLogCfg.Chat.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	logSvc.SetLogChat(cfg.Telegram.LogChatID, cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	clk := clock.Real()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}
	if store == nil {
		store = storage.NewMemory()
		log.Warn("storage disabled; profiles and timers are kept in memory only")
	}

	overrides, err := mapActivityOverrides(cfg)
	if err != nil {
		return nil, err
	}
	reg, err := activity.Load(overrides)
	if err != nil {
		return nil, err
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedSvc := scheduler.New(schedCfg, log, bus)

	profiles := profile.New(store, clk, log)
	agg := stats.NewAggregate(clk.Now())
	statsSvc, err := stats.New(stats.Deps{
		Aggregate: agg,
		Store:     store,
		Profiles:  profiles,
		Clock:     clk,
		Logger:    log,
		Bus:       bus,
		Location:  schedSvc.Location(),
	})
	if err != nil {
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notifier.New(ncfg, ad, log, bus)
	fanout := notifier.NewFanout(notifSvc, log)

	eng, err := cooldown.New(cooldown.Deps{
		Registry:  reg,
		Profiles:  profiles,
		Notifier:  bot.NewReadyNotifier(notifSvc, profiles, log),
		Clock:     clk,
		Logger:    log,
		Bus:       bus,
		Directory: ad,
		Usage:     agg,
	})
	if err != nil {
		return nil, err
	}

	b, err := bot.New(bot.Deps{
		Engine:   eng,
		Profiles: profiles,
		Stats:    statsSvc,
		Audit:    store,
		Clock:    clk,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	ropt, err := mapRouterOptions(cfg, ad.Username())
	if err != nil {
		return nil, err
	}
	cmdm := router.NewCommandManager(log, ad, cfg.Telegram.AdminIDs, ropt)
	cmdm.SetRegistry(b.Commands())

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	var a *App
	httpSvc := httpapi.New(hcfg, httpapi.Deps{
		Engine:    eng,
		Profiles:  profiles,
		Stats:     statsSvc,
		Scheduler: schedSvc,
		Notifier:  notifSvc,
		Runtime:   func() map[string]rtsup.Counters { return a.runtimeCounters() },
	}, log)

	jobs := &dailyJobs{
		stats:  statsSvc,
		bot:    b,
		reg:    reg,
		notif:  notifSvc,
		fanout: fanout,
		clk:    clk,
		log:    log.With(logx.String("comp", "jobs")),
	}
	jobs.recipient.Store(cfg.Stats.RecipientChatID)
	if err := jobs.register(schedSvc, cfg.Scheduler); err != nil {
		return nil, err
	}

	log.Info("activities loaded", logx.Int("count", reg.Len()), logx.String("ids", strings.Join(reg.IDs(), ",")))

	a = &App{
		cfgPath: cfgPath,
		cfgl:    cfgl,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		engine:  eng,
		stats:   statsSvc,
		notif:   notifSvc,
		fanout:  fanout,
		sched:   schedSvc,
		http:    httpSvc,
		cmdm:    cmdm,
		jobs:    jobs,
		updates: make(chan kit.Update, 256),
	}
	return a, nil
}

// runtimeCounters collects goroutine counters of the running components.
func (a *App) runtimeCounters() map[string]rtsup.Counters {
	return map[string]rtsup.Counters{
		"app":      a.sup.Counters(),
		"telegram": a.adapter.Supervisor().Counters(),
		"commands": a.cmdm.Supervisor().Counters(),
		"fanout":   a.fanout.Supervisor().Counters(),
		"http":     a.http.Supervisor().Counters(),
	}
}

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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// a reloaded config is committed only if every mapper accepts it
	a.cfgl.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgl.SetValidator(func(cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapHTTPConfig(cfg); err != nil {
			return err
		}
		_, err := mapRouterOptions(cfg, "")
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.fanout.Start(a.sup.Context())

	rep, err := a.engine.Recover(ctx)
	if err != nil {
		a.log.Warn("timer recovery incomplete", logx.Err(err))
	}
	a.log.Info("timers recovered",
		logx.Int("profiles", rep.Profiles),
		logx.Int("seeded", rep.Seeded),
		logx.Int("armed", rep.Armed),
		logx.Int("expired", rep.Expired),
	)

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	if err := a.http.Start(a.sup.Context()); err != nil {
		a.log.Error("http api disabled", logx.Err(err))
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if err := a.jobs.sendStartupNotices(ctx); err != nil {
		a.log.Warn("startup notices not sent", logx.Err(err))
	}

	a.sup.Go0("config.reload", func(c context.Context) {
		applied := a.cfgl.Current()
		for {
			select {
			case <-c.Done():
				return
			case next := <-a.cfgl.Updates():
				a.applyConfig(c, applied, next)
				applied = next
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgl.Watch,
		rtsup.WithRestartBackoff(250*time.Millisecond, 5*time.Second),
		rtsup.WithStopOnCleanExit(true),
	)

	a.log.Info("app started", logx.String("bot", a.adapter.Username()))
	return nil
}

// applyConfig pushes the live-reloadable parts of newCfg into the running
// components.
func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(rr, ",")))
	}

	a.logs.SetLogChat(newCfg.Telegram.LogChatID, newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLoggingConfig(newCfg))

	a.cmdm.SetAdmins(newCfg.Telegram.AdminIDs)

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
		a.fanout.Apply(ncfg)
	}

	a.jobs.recipient.Store(newCfg.Stats.RecipientChatID)

	if scfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.sched.Enabled()
		a.sched.Apply(scfg)
		if err := a.jobs.register(a.sched, newCfg.Scheduler); err != nil {
			a.log.Warn("daily jobs not rescheduled", logx.Err(err))
		}
		switch {
		case wasEnabled && !scfg.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !wasEnabled && scfg.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(c)
		}
	}

	if hcfg, err := mapHTTPConfig(newCfg); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else if err := a.http.Reconfigure(c, hcfg); err != nil {
		a.log.Error("http api not restarted", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step runs one shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("timers", 5*time.Second, a.engine.Close)
	step("fanout", 2*time.Second, func(c context.Context) error { a.fanout.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, command dispatcher).
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped", logx.Uint64("events_dropped", a.bus.Dropped()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
