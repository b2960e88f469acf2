package push

import (
	"context"
	"strings"
	"time"

	"kibot/internal/dedup"
	"kibot/internal/service/weather"
	"kibot/internal/subscription"
	kit "kibot/internal/transport"
	logx "kibot/pkg/logx"
)

type WeatherConfig struct {
	ForecastAt string
	AlertCron  string
	// PurgeEvery adds a standalone token purge; 0 purges only inside alert ticks.
	PurgeEvery time.Duration
	Timeout    time.Duration
}

func (c WeatherConfig) withDefaults() WeatherConfig {
	if strings.TrimSpace(c.ForecastAt) == "" {
		c.ForecastAt = "08:00"
	}
	if strings.TrimSpace(c.AlertCron) == "" {
		c.AlertCron = "0 7-22/3 * * *"
	}
	return c
}

type WeatherSource interface {
	Lookup(ctx context.Context, city string) (weather.Location, error)
	Today(ctx context.Context, locationID string) (weather.Daily, error)
	Alerts(ctx context.Context, locationID string) ([]weather.Alert, error)
}

// Weather pushes the daily forecast and new warnings to subscribed groups.
type Weather struct {
	base
	cfg    WeatherConfig
	subs   *subscription.ListStore
	tokens *dedup.WarningTokens
	src    WeatherSource
}

func NewWeather(cfg WeatherConfig, subs *subscription.ListStore, tokens *dedup.WarningTokens, src WeatherSource, d Deps) *Weather {
	return &Weather{
		base:   newBase("weather", d),
		cfg:    cfg.withDefaults(),
		subs:   subs,
		tokens: tokens,
		src:    src,
	}
}

func (w *Weather) Register(s Scheduler) error {
	if _, err := s.AddDaily("weather.forecast", w.cfg.ForecastAt, w.cfg.Timeout, w.ForecastTick); err != nil {
		return err
	}
	if _, err := s.AddCron("weather.alerts", w.cfg.AlertCron, w.cfg.Timeout, w.AlertTick); err != nil {
		return err
	}
	if w.cfg.PurgeEvery > 0 {
		_, err := s.AddInterval("weather.purge", w.cfg.PurgeEvery, w.cfg.Timeout, func(ctx context.Context) error {
			w.Purge(ctx)
			return nil
		})
		return err
	}
	return nil
}

// ForecastTick sends one composed forecast per group. A city that cannot be
// fetched degrades to a failure line.
func (w *Weather) ForecastTick(ctx context.Context) error {
	w.reload(ctx)
	now := w.now()
	locs := map[string]weather.Location{}
	var t tally
	for _, g := range w.subs.Groups() {
		if ctx.Err() != nil {
			return t.stopped(ctx.Err())
		}
		blocks := []string{weather.ForecastHeader(now)}
		for _, city := range w.subs.Targets(g) {
			blocks = append(blocks, w.forecastBlock(ctx, locs, city))
		}
		err := w.deliver(ctx, g, kit.Content{Text: strings.Join(blocks, "\n\n")}, "forecast")
		if err != nil {
			w.log.Warn("forecast send failed", logx.String("group", g), logx.Err(err))
		}
		t.record(err)
	}
	return t.err()
}

func (w *Weather) forecastBlock(ctx context.Context, locs map[string]weather.Location, city string) string {
	loc, err := w.lookup(ctx, locs, city)
	if err == nil {
		var d weather.Daily
		if d, err = w.src.Today(ctx, loc.ID); err == nil {
			return weather.FormatForecastBlock(loc, d)
		}
	}
	w.log.Warn("forecast fetch failed", logx.String("city", city), logx.Err(err))
	return weather.FailedBlock(city)
}

// AlertTick purges expired tokens, then sends every warning a group has not
// seen yet. Dedup is per group.
func (w *Weather) AlertTick(ctx context.Context) error {
	w.reload(ctx)
	now := w.now()
	if n := w.tokens.Purge(now); n > 0 {
		w.log.Debug("expired warning tokens purged", logx.Int("n", n))
	}
	defer w.tokens.Save(ctx)

	locs := map[string]weather.Location{}
	alerts := map[string][]weather.Alert{}
	var t tally
	for _, g := range w.subs.Groups() {
		for _, city := range w.subs.Targets(g) {
			if ctx.Err() != nil {
				return t.stopped(ctx.Err())
			}
			list, err := w.alertsFor(ctx, locs, alerts, city)
			if err != nil {
				w.log.Warn("alert fetch failed", logx.String("group", g), logx.String("city", city), logx.Err(err))
				continue
			}
			for _, a := range list {
				tok := dedup.Token(a.ID, w.expiry(a, now))
				if w.tokens.Has(g, tok) {
					continue
				}
				err := w.deliver(ctx, g, kit.Content{Text: weather.FormatAlert(city, a)}, tok)
				t.record(err)
				if err != nil {
					w.log.Warn("alert send failed", logx.String("group", g), logx.String("city", city), logx.String("alert", a.ID), logx.Err(err))
					continue
				}
				w.tokens.Add(g, tok)
			}
		}
	}
	return t.err()
}

// Purge drops expired warning tokens and persists the set.
func (w *Weather) Purge(ctx context.Context) int {
	n := w.tokens.Purge(w.now())
	w.tokens.Save(ctx)
	return n
}

func (w *Weather) alertsFor(ctx context.Context, locs map[string]weather.Location, cache map[string][]weather.Alert, city string) ([]weather.Alert, error) {
	if list, ok := cache[city]; ok {
		return list, nil
	}
	loc, err := w.lookup(ctx, locs, city)
	if err != nil {
		return nil, err
	}
	list, err := w.src.Alerts(ctx, loc.ID)
	if err != nil {
		return nil, err
	}
	cache[city] = list
	return list, nil
}

func (w *Weather) lookup(ctx context.Context, locs map[string]weather.Location, city string) (weather.Location, error) {
	if loc, ok := locs[city]; ok {
		return loc, nil
	}
	loc, err := w.src.Lookup(ctx, city)
	if err != nil {
		return weather.Location{}, err
	}
	locs[city] = loc
	return loc, nil
}

// expiry falls back to the end of tomorrow for an alert without usable
// times, so it is re-sent at most once a day.
func (w *Weather) expiry(a weather.Alert, now time.Time) time.Time {
	if t, ok := a.Expiry(); ok {
		return t
	}
	w.log.Warn("alert has no usable times", logx.String("alert", a.ID))
	y, m, d := now.Date()
	return time.Date(y, m, d+2, 0, 0, 0, 0, now.Location())
}

func (w *Weather) reload(ctx context.Context) {
	if err := w.subs.Reload(ctx); err != nil {
		w.log.Warn("subscription reload failed; using cached state", logx.Err(err))
	}
}
