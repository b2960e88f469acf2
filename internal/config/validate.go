package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate rejects configs the app cannot start with. Manager.Watch runs it
// before publishing a reload.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch TransportDriver(cfg) {
	case "napcat":
		if strings.TrimSpace(cfg.Transport.NapCat.WSURL) == "" || strings.TrimSpace(cfg.Transport.NapCat.HTTPURL) == "" {
			add(errors.New("transport.napcat: ws_url and http_url are required"))
		}
		add(durations(
			"transport.napcat.timeout", cfg.Transport.NapCat.Timeout,
			"transport.napcat.reconnect_max", cfg.Transport.NapCat.ReconnectMax,
		))
	case "telegram":
		if strings.TrimSpace(cfg.Transport.Telegram.Token) == "" {
			add(errors.New("transport.telegram.token is required"))
		}
		add(durations("transport.telegram.poll_timeout", cfg.Transport.Telegram.PollTimeout))
	default:
		add(fmt.Errorf("transport.driver: unknown driver %q", cfg.Transport.Driver))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if te := cfg.TaskEngine; te != nil {
		add(durations(
			"task_engine.default_timeout", te.DefaultTimeout,
			"task_engine.max_queue_delay", te.MaxQueueDelay,
		))
	}
	if n := cfg.Notifier; n != nil {
		add(durations(
			"notifier.retry_base", n.RetryBase,
			"notifier.retry_max_delay", n.RetryMaxDelay,
			"notifier.call_timeout", n.CallTimeout,
		))
	}
	if s := cfg.Storage; s != nil {
		add(durations("storage.busy_timeout", s.BusyTimeout))
	}
	add(durations("bot.timeout", cfg.Bot.Timeout, "llm.timeout", cfg.LLM.Timeout))

	if cfg.Weather.Enabled {
		if strings.TrimSpace(cfg.Weather.Host) == "" || strings.TrimSpace(cfg.Weather.APIKey) == "" {
			add(errors.New("weather: host and api_key are required when enabled"))
		}
		add(clock("weather.forecast_at", cfg.Weather.ForecastAt))
		add(durations("weather.purge_every", cfg.Weather.PurgeEvery, "weather.timeout", cfg.Weather.Timeout))
	}
	if cfg.Anime.Enabled {
		add(clock("anime.at", cfg.Anime.At))
		add(durations("anime.timeout", cfg.Anime.Timeout))
	}
	if cfg.Bilibili.Enabled {
		add(durations(
			"bilibili.poll_every", cfg.Bilibili.PollEvery,
			"bilibili.timeout", cfg.Bilibili.Timeout,
			"bilibili.screenshot.timeout", cfg.Bilibili.Capture.Timeout,
		))
	}
	if cfg.Calendar.Enabled {
		add(clock("calendar.plan_at", cfg.Calendar.PlanAt))
		add(clock("calendar.window_start", cfg.Calendar.WindowStart))
		add(durations("calendar.window", cfg.Calendar.Window, "calendar.timeout", cfg.Calendar.Timeout))
		if p := cfg.Calendar.Probability; p != nil && (*p < 0 || *p > 1) {
			add(fmt.Errorf("calendar.probability must be within [0, 1], got %v", *p))
		}
		if d, _ := ParseDurationField("calendar.window", cfg.Calendar.Window); d > 24*time.Hour {
			add(errors.New("calendar.window must not exceed 24h"))
		}
	}
	return errors.Join(errs...)
}

// TransportDriver returns the normalized driver name; empty means napcat.
func TransportDriver(cfg *Config) string {
	d := strings.ToLower(strings.TrimSpace(cfg.Transport.Driver))
	if d == "" {
		return "napcat"
	}
	return d
}

// durations validates (path, raw) pairs.
func durations(pairs ...string) error {
	var errs []error
	for i := 0; i+1 < len(pairs); i += 2 {
		if _, err := ParseDurationField(pairs[i], pairs[i+1]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// clock accepts an empty value (default applies) or "HH:MM".
func clock(path, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if _, err := time.Parse("15:04", raw); err != nil {
		return fmt.Errorf("%s: want HH:MM, got %q", path, raw)
	}
	return nil
}
