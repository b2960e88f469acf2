// Package app wires config, transport, storage, the task runtime, the
// command dispatcher and the push schedulers into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kibot/internal/bot"
	"kibot/internal/calendar"
	"kibot/internal/config"
	"kibot/internal/eventbus"
	"kibot/internal/notifier"
	"kibot/internal/push"
	"kibot/internal/runtime/supervisor"
	"kibot/internal/storage"
	"kibot/internal/task/engine"
	"kibot/internal/task/scheduler"
	kit "kibot/internal/transport"
	logx "kibot/pkg/logx"
	"kibot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service

	stores  stores
	clients clients
	botCfg  bot.Config

	weather  *push.Weather
	anime    *push.Anime
	creator  *push.Creator
	calendar *push.Calendar

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The chat sink needs the adapter, which needs a logger; attach it after.
	logSvc, log := logx.New(mapLoggingConfig(cfg), nil)
	log = log.With(logx.String("comp", "app"))

	ad, err := newAdapter(cfg, log)
	if err != nil {
		return nil, err
	}
	logSvc.SetSender(ad)

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)
	schedSvc := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, engineSvc, log.With(logx.String("comp", "scheduler")))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus)

	botCfg, err := mapBotConfig(cfg)
	if err != nil {
		return nil, err
	}
	cl, err := newClients(cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		cfg:     cfg,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		engine:  engineSvc,
		sched:   schedSvc,
		notif:   notifSvc,
		stores:  newStores(store, log),
		clients: cl,
		botCfg:  botCfg,
		updates: make(chan kit.Update, 256),
	}
	if err := a.buildPush(); err != nil {
		return nil, err
	}
	return a, nil
}

// buildPush creates the schedulers of the enabled features.
func (a *App) buildPush() error {
	deps := push.Deps{
		Sender: a.notif,
		Bus:    a.bus,
		Log:    a.log.With(logx.String("comp", "push")),
		Now:    a.now,
	}
	if a.clients.weather != nil {
		wcfg, err := mapWeatherPush(a.cfg)
		if err != nil {
			return err
		}
		a.weather = push.NewWeather(wcfg, a.stores.weather, a.stores.warnings, a.clients.weather, deps)
	}
	if a.clients.bangumi != nil {
		a.anime = push.NewAnime(mapAnimePush(a.cfg), a.stores.anime, a.clients.bangumi, deps)
	}
	if a.clients.bilibili != nil {
		ccfg, err := mapCreatorPush(a.cfg)
		if err != nil {
			return err
		}
		a.creator = push.NewCreator(ccfg, a.stores.creators, a.stores.baselines, a.clients.bilibili, a.clients.shots, a.engine, deps)
	}
	if a.cfg.Calendar.Enabled {
		calCfg, err := mapCalendarPush(a.cfg)
		if err != nil {
			return err
		}
		var greeter push.Greeter
		if a.clients.llm != nil {
			greeter = a.clients.llm
		}
		cal := calendar.New(a.sched.Location(), nil)
		a.calendar = push.NewCalendar(calCfg, a.stores.calendar, a.stores.specials, a.stores.greetings, cal, greeter, nil, deps)
	}
	return nil
}

// now returns wall time in the scheduler timezone.
func (a *App) now() time.Time { return time.Now().In(a.sched.Location()) }

// botDeps leaves a service nil when its feature is off, which turns the
// matching commands into a "disabled" reply.
func (a *App) botDeps() bot.Deps {
	d := bot.Deps{
		Sender: a.notif,
		Log:    a.log.With(logx.String("comp", "bot")),
		Now:    a.now,
	}
	if a.clients.llm != nil {
		d.Chat = a.clients.llm
	}
	if a.weather != nil {
		d.Weather = a.clients.weather
		d.WeatherSubs = a.stores.weather
		d.WeatherPurge = a.weather
	}
	if a.anime != nil {
		d.Anime = a.clients.bangumi
		d.AnimeSubs = a.stores.anime
	}
	if a.creator != nil {
		d.Creators = a.creator
		d.CreatorSubs = a.stores.creators
	}
	if a.calendar != nil {
		d.CalendarSubs = a.stores.calendar
		d.Specials = a.stores.specials
	}
	return d
}

func (a *App) pushers() []push.Registrar {
	var out []push.Registrar
	if a.weather != nil {
		out = append(out, a.weather)
	}
	if a.anime != nil {
		out = append(out, a.anime)
	}
	if a.creator != nil {
		out = append(out, a.creator)
	}
	if a.calendar != nil {
		out = append(out, a.calendar)
	}
	return out
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
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	runCtx := a.sup.Context()

	if err := a.stores.load(runCtx); err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}

	if a.engine.Enabled() {
		a.engine.Start(runCtx)
	}
	if a.sched.Enabled() {
		a.sched.Start(runCtx)
	} else if len(a.pushers()) > 0 {
		a.log.Warn("scheduler disabled; push features will not fire")
	}

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	selfCtx, cancel := context.WithTimeout(runCtx, 15*time.Second)
	self, err := a.adapter.Self(selfCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("resolve bot identity: %w", err)
	}
	router, err := bot.NewRouter(self.Mention, bot.WithUnescape(self.Unescape))
	if err != nil {
		return err
	}
	disp := bot.New(a.botCfg, router, a.botDeps())

	for _, p := range a.pushers() {
		if err := p.Register(a.sched); err != nil {
			return err
		}
	}
	for _, it := range a.sched.Schedules() {
		a.log.Debug("schedule", logx.String("name", it.Name), logx.String("spec", it.Spec), logx.Time("next", it.Next))
	}
	if a.weather != nil {
		if n := a.weather.Purge(runCtx); n > 0 {
			a.log.Info("expired warning tokens purged", logx.Int("count", n))
		}
	}
	if a.calendar != nil {
		a.sup.Go("calendar.plan.startup", func(c context.Context) error {
			if err := a.calendar.Plan(c); err != nil {
				a.log.Warn("startup calendar plan failed", logx.Err(err))
			}
			return nil
		})
	}

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return disp.Run(c, a.updates)
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfg
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, newCfg)
				last = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", systemd.Watchdog)

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	_, _ = systemd.Status("serving as " + self.ID)
	a.log.Info("app started",
		logx.String("self", self.ID),
		logx.String("transport", config.TransportDriver(a.cfg)),
		logx.Int("push_features", len(a.pushers())),
	)
	return nil
}

// applyConfig applies the live sections of a reloaded config and reports
// the rest.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLoggingConfig(newCfg))
	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
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
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
