package app

import (
	"errors"
	"time"

	"kibot/internal/bot"
	"kibot/internal/config"
	"kibot/internal/notifier"
	"kibot/internal/push"
	"kibot/internal/service/bangumi"
	"kibot/internal/service/bilibili"
	"kibot/internal/service/llm"
	"kibot/internal/service/screenshot"
	"kibot/internal/service/weather"
	"kibot/internal/task/engine"
	kit "kibot/internal/transport"
	"kibot/internal/transport/napcat"
	"kibot/internal/transport/telegram"
	logx "kibot/pkg/logx"
)

// durs parses a run of duration fields and keeps the first error.
type durs struct{ err error }

func (d *durs) get(path, raw string, def time.Duration) time.Duration {
	v, err := config.ParseDurationOrDefault(path, raw, def)
	if err != nil && d.err == nil {
		d.err = err
	}
	return v
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			GroupID:    l.Chat.GroupID,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := config.TaskEngineConfig{}
	if cfg.TaskEngine != nil {
		te = *cfg.TaskEngine
	}
	enabled := cfg.Scheduler.Enabled
	if te.Enabled != nil {
		enabled = *te.Enabled
	}
	if cfg.Scheduler.Enabled && !enabled {
		return engine.Config{}, errors.New("task_engine.enabled cannot be false while scheduler.enabled is true")
	}
	var d durs
	out := engine.Config{
		Enabled:        enabled,
		Workers:        max(te.Workers, 0),
		QueueSize:      max(te.QueueSize, 0),
		DefaultTimeout: d.get("task_engine.default_timeout", te.DefaultTimeout, 0),
		MaxQueueDelay:  d.get("task_engine.max_queue_delay", te.MaxQueueDelay, 0),
		RetryMax:       te.RetryMax,
	}
	if out.Workers == 0 {
		out.Workers = 2
	}
	if out.QueueSize == 0 {
		out.QueueSize = 256
	}
	if out.RetryMax <= 0 {
		out.RetryMax = 3
	}
	return out, d.err
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := config.NotifierConfig{}
	if cfg.Notifier != nil {
		n = *cfg.Notifier
	}
	var d durs
	out := notifier.Config{
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     d.get("notifier.retry_base", n.RetryBase, 0),
		RetryMaxDelay: d.get("notifier.retry_max_delay", n.RetryMaxDelay, 0),
		CallTimeout:   d.get("notifier.call_timeout", n.CallTimeout, 0),
	}
	return out, d.err
}

func mapBotConfig(cfg *config.Config) (bot.Config, error) {
	var d durs
	out := bot.Config{
		Workers:   cfg.Bot.Workers,
		QueueSize: cfg.Bot.QueueSize,
		Timeout:   d.get("bot.timeout", cfg.Bot.Timeout, 0),
	}
	return out, d.err
}

// newAdapter builds the transport named by transport.driver.
func newAdapter(cfg *config.Config, log logx.Logger) (kit.Adapter, error) {
	var d durs
	switch config.TransportDriver(cfg) {
	case "telegram":
		tc := cfg.Transport.Telegram
		poll := d.get("transport.telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
		if d.err != nil {
			return nil, d.err
		}
		return telegram.New(telegram.Config{Token: tc.Token, PollTimeout: poll}, log.With(logx.String("comp", "telegram")))
	default:
		nc := cfg.Transport.NapCat
		ncfg := napcat.Config{
			WSURL:        nc.WSURL,
			HTTPURL:      nc.HTTPURL,
			AccessToken:  nc.AccessToken,
			Timeout:      d.get("transport.napcat.timeout", nc.Timeout, 0),
			ReconnectMax: d.get("transport.napcat.reconnect_max", nc.ReconnectMax, 0),
		}
		if d.err != nil {
			return nil, d.err
		}
		return napcat.New(ncfg, nil, log.With(logx.String("comp", "napcat")))
	}
}

// clients are the upstream services; a nil field means the feature is off.
type clients struct {
	weather  *weather.Client
	bangumi  *bangumi.Client
	bilibili *bilibili.Client
	llm      *llm.Client
	shots    *screenshot.ExecCapturer
}

func newClients(cfg *config.Config, log logx.Logger) (clients, error) {
	var (
		c clients
		d durs
	)
	if w := cfg.Weather; w.Enabled {
		c.weather = weather.New(weather.Config{
			Host:    w.Host,
			APIKey:  w.APIKey,
			Timeout: d.get("weather.timeout", w.Timeout, 10*time.Second),
		}, nil)
	}
	if a := cfg.Anime; a.Enabled {
		c.bangumi = bangumi.New(bangumi.Config{
			BaseURL:   a.BaseURL,
			UserAgent: a.UserAgent,
			Timeout:   d.get("anime.timeout", a.Timeout, 10*time.Second),
		}, nil)
	}
	if b := cfg.Bilibili; b.Enabled {
		guest := true
		if b.GuestCookie != nil {
			guest = *b.GuestCookie
		}
		c.bilibili = bilibili.New(bilibili.Config{
			UserAgent:   b.UserAgent,
			Cookie:      b.Cookie,
			CookieFile:  b.CookieFile,
			GuestCookie: guest,
			Timeout:     d.get("bilibili.timeout", b.Timeout, 10*time.Second),
		}, nil, log.With(logx.String("comp", "bilibili")))
		c.shots = screenshot.NewExec(screenshot.Config{
			Command:  b.Capture.Command,
			CacheDir: b.Capture.CacheDir,
			Keep:     b.Capture.Keep,
			Timeout:  d.get("bilibili.screenshot.timeout", b.Capture.Timeout, 0),
		}, log.With(logx.String("comp", "screenshot")))
	}
	if l := cfg.LLM; l.Enabled {
		c.llm = llm.New(llm.Config{
			BaseURL:        l.BaseURL,
			APIKey:         l.APIKey,
			Model:          l.Model,
			MaxTokens:      l.MaxTokens,
			Temperature:    l.Temperature,
			Timeout:        d.get("llm.timeout", l.Timeout, 0),
			MaxRetries:     l.MaxRetries,
			SystemPrompt:   l.SystemPrompt,
			GreetingPrompt: l.GreetingPrompt,
		}, nil)
	}
	return c, d.err
}

// Tick budgets. Per-request timeouts come from each service section.
const (
	weatherTickTimeout  = 5 * time.Minute
	animeTickTimeout    = 2 * time.Minute
	creatorTickTimeout  = 10 * time.Minute
	calendarTickTimeout = 2 * time.Minute
)

func mapWeatherPush(cfg *config.Config) (push.WeatherConfig, error) {
	var d durs
	w := cfg.Weather
	out := push.WeatherConfig{
		ForecastAt: w.ForecastAt,
		AlertCron:  w.AlertCron,
		PurgeEvery: d.get("weather.purge_every", w.PurgeEvery, time.Hour),
		Timeout:    weatherTickTimeout,
	}
	return out, d.err
}

func mapAnimePush(cfg *config.Config) push.AnimeConfig {
	return push.AnimeConfig{At: cfg.Anime.At, Timeout: animeTickTimeout}
}

func mapCreatorPush(cfg *config.Config) (push.CreatorConfig, error) {
	var d durs
	out := push.CreatorConfig{
		Every:   d.get("bilibili.poll_every", cfg.Bilibili.PollEvery, 30*time.Minute),
		Timeout: creatorTickTimeout,
	}
	return out, d.err
}

func mapCalendarPush(cfg *config.Config) (push.CalendarConfig, error) {
	var d durs
	c := cfg.Calendar
	prob := 0.2
	if c.Probability != nil {
		prob = *c.Probability
	}
	out := push.CalendarConfig{
		PlanAt:      c.PlanAt,
		WindowStart: c.WindowStart,
		Window:      d.get("calendar.window", c.Window, 14*time.Hour),
		Probability: prob,
		Timeout:     d.get("calendar.timeout", c.Timeout, calendarTickTimeout),
	}
	return out, d.err
}
