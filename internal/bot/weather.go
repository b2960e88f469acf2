package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kibot/internal/service"
	"kibot/internal/service/weather"
	logx "kibot/pkg/logx"
)

func (d *Dispatcher) registerWeather() {
	d.container("天气", usageWeather, "weather")
	d.register(Command{Route: "天气", Handle: d.weatherNow})
	d.register(Command{Route: "天气 预警", Aliases: []string{"alert"}, Handle: d.weatherAlerts})
	d.register(Command{Route: "天气 台风", Aliases: []string{"typhoon"}, Handle: d.weatherStorms})
	d.register(Command{Route: "天气 订阅", Aliases: []string{"subscribe"}, Handle: d.weatherSubscribe})
	d.register(Command{Route: "天气 取消订阅", Aliases: []string{"unsubscribe"}, Handle: d.weatherUnsubscribe})
	d.register(Command{Route: "天气 查看订阅", Aliases: []string{"list"}, Handle: d.weatherList})
}

// weatherNow treats the first argument as a city name.
func (d *Dispatcher) weatherNow(ctx context.Context, req *Request) (string, error) {
	city := req.Arg(0)
	if city == "" {
		return usageWeather, nil
	}
	if d.deps.Weather == nil {
		return replyDisabled, nil
	}
	loc, err := d.deps.Weather.Lookup(ctx, city)
	if errors.Is(err, service.ErrNotFound) {
		return replyCityNotFound(city), nil
	}
	if err != nil {
		return "", err
	}
	now, err := d.deps.Weather.Now(ctx, loc.ID)
	if err != nil {
		return "", err
	}
	return weather.FormatNow(loc, now), nil
}

func (d *Dispatcher) weatherAlerts(ctx context.Context, req *Request) (string, error) {
	cities := dedupeArgs(req.Args)
	if len(cities) == 0 {
		return usageAlertCity, nil
	}
	if d.deps.Weather == nil {
		return replyDisabled, nil
	}
	var (
		blocks []string
		failed int
		last   error
	)
	for _, city := range cities {
		block, err := d.cityAlerts(ctx, city)
		if err != nil {
			req.Log.Warn("alert fetch failed", logx.String("city", city), logx.Err(err))
			failed++
			last = err
			block = weather.FailedBlock(city)
		}
		blocks = append(blocks, block)
	}
	if failed == len(cities) {
		return "", last
	}
	return strings.Join(blocks, "\n\n"), nil
}

func (d *Dispatcher) cityAlerts(ctx context.Context, city string) (string, error) {
	loc, err := d.deps.Weather.Lookup(ctx, city)
	if errors.Is(err, service.ErrNotFound) {
		return replyCityNotFound(city), nil
	}
	if err != nil {
		return "", err
	}
	alerts, err := d.deps.Weather.Alerts(ctx, loc.ID)
	if err != nil {
		return "", err
	}
	if len(alerts) == 0 {
		return weather.NoAlerts(city), nil
	}
	out := make([]string, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, weather.FormatAlert(city, a))
	}
	return strings.Join(out, "\n\n"), nil
}

func (d *Dispatcher) weatherStorms(ctx context.Context, _ *Request) (string, error) {
	if d.deps.Weather == nil {
		return replyDisabled, nil
	}
	storms, err := d.deps.Weather.ActiveStorms(ctx)
	if err != nil {
		return "", err
	}
	return weather.FormatStorms(storms), nil
}

// weatherSubscribe commits only when every city resolves.
func (d *Dispatcher) weatherSubscribe(ctx context.Context, req *Request) (string, error) {
	cities := dedupeArgs(req.Args)
	if len(cities) == 0 {
		return usageSubCity, nil
	}
	if d.deps.Weather == nil || d.deps.WeatherSubs == nil {
		return replyDisabled, nil
	}
	var missing []string
	for _, city := range cities {
		_, err := d.deps.Weather.Lookup(ctx, city)
		switch {
		case errors.Is(err, service.ErrNotFound):
			missing = append(missing, city)
		case err != nil:
			return "", err
		}
	}
	if len(missing) > 0 {
		return replyCityNotFound(missing...) + "\n订阅未生效", nil
	}

	added := d.deps.WeatherSubs.Add(ctx, req.Group, cities...)
	if d.deps.WeatherPurge != nil {
		if n := d.deps.WeatherPurge.Purge(ctx); n > 0 {
			req.Log.Debug("expired warning tokens purged", logx.Int("n", n))
		}
	}
	if len(added) == 0 {
		return fmt.Sprintf("ℹ️ 已订阅过：%s", joinCities(cities)), nil
	}
	reply := fmt.Sprintf("✅ 已订阅天气：%s", joinCities(added))
	if skipped := without(cities, added); len(skipped) > 0 {
		reply += fmt.Sprintf("\nℹ️ 已订阅过：%s", joinCities(skipped))
	}
	return reply, nil
}

func (d *Dispatcher) weatherUnsubscribe(ctx context.Context, req *Request) (string, error) {
	cities := dedupeArgs(req.Args)
	if len(cities) == 0 {
		return usageSubCity, nil
	}
	if d.deps.WeatherSubs == nil {
		return replyDisabled, nil
	}
	removed := d.deps.WeatherSubs.Remove(ctx, req.Group, cities...)
	if len(removed) == 0 {
		return fmt.Sprintf("ℹ️ 未订阅：%s", joinCities(cities)), nil
	}
	return fmt.Sprintf("✅ 已取消订阅天气：%s", joinCities(removed)), nil
}

func (d *Dispatcher) weatherList(_ context.Context, req *Request) (string, error) {
	if d.deps.WeatherSubs == nil {
		return replyDisabled, nil
	}
	cities := d.deps.WeatherSubs.Targets(req.Group)
	if len(cities) == 0 {
		return "ℹ️ 本群尚未订阅天气", nil
	}
	return fmt.Sprintf("🌤️ 本群订阅的城市：%s", joinCities(cities)), nil
}

func dedupeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	seen := map[string]bool{}
	for _, a := range args {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

func without(all, drop []string) []string {
	skip := make(map[string]bool, len(drop))
	for _, v := range drop {
		skip[v] = true
	}
	var out []string
	for _, v := range all {
		if !skip[v] {
			out = append(out, v)
		}
	}
	return out
}
