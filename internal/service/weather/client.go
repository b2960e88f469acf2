// Package weather is a QWeather client: city lookup, current conditions,
// daily forecast, active warnings and tropical storms.
package weather

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"kibot/internal/service"
)

const okCode = "200"

type Config struct {
	// Host is the per-account API host, e.g. "abc.re.qweatherapi.com".
	// A value with a scheme is used as is.
	Host    string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	base   string
	header http.Header
	hc     *http.Client
	now    func() time.Time
}

func New(cfg Config, hc *http.Client) *Client {
	if hc == nil {
		hc = service.DefaultHTTPClient(cfg.Timeout)
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &Client{
		base:   base,
		header: http.Header{"X-QW-Api-Key": {cfg.APIKey}},
		hc:     hc,
		now:    time.Now,
	}
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	return service.GetJSON(ctx, c.hc, c.base+path+"?"+q.Encode(), c.header, out)
}

func codeErr(code, what string) error {
	if code == "404" {
		return service.NotFound("%s: code 404", what)
	}
	return service.Unavailable(nil, "%s: code %s", what, code)
}

// Lookup resolves a city name to its best-match location.
func (c *Client) Lookup(ctx context.Context, city string) (Location, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return Location{}, service.NotFound("empty city")
	}
	var r geoResponse
	if err := c.get(ctx, "/geo/v2/city/lookup", url.Values{"location": {city}}, &r); err != nil {
		return Location{}, err
	}
	if r.Code != okCode {
		return Location{}, codeErr(r.Code, "lookup "+city)
	}
	if len(r.Location) == 0 || r.Location[0].ID == "" {
		return Location{}, service.NotFound("city %q", city)
	}
	return r.Location[0], nil
}

func (c *Client) Now(ctx context.Context, locationID string) (Now, error) {
	var r nowResponse
	if err := c.get(ctx, "/v7/weather/now", url.Values{"location": {locationID}}, &r); err != nil {
		return Now{}, err
	}
	if r.Code != okCode {
		return Now{}, codeErr(r.Code, "now")
	}
	if r.Now == nil {
		return Now{}, service.Malformed(nil, "now: missing body")
	}
	return *r.Now, nil
}

// Today returns the first day of the 7-day forecast.
func (c *Client) Today(ctx context.Context, locationID string) (Daily, error) {
	var r dailyResponse
	if err := c.get(ctx, "/v7/weather/7d", url.Values{"location": {locationID}}, &r); err != nil {
		return Daily{}, err
	}
	if r.Code != okCode {
		return Daily{}, codeErr(r.Code, "forecast")
	}
	if len(r.Daily) == 0 {
		return Daily{}, service.Malformed(nil, "forecast: no days")
	}
	return r.Daily[0], nil
}

// Alerts returns the active warnings for a location. An empty slice means
// none are active.
func (c *Client) Alerts(ctx context.Context, locationID string) ([]Alert, error) {
	var r warningResponse
	if err := c.get(ctx, "/v7/warning/now", url.Values{"location": {locationID}, "lang": {"zh"}}, &r); err != nil {
		return nil, err
	}
	if r.Code != okCode {
		return nil, codeErr(r.Code, "warning")
	}
	out := make([]Alert, 0, len(r.Warning))
	for _, a := range r.Warning {
		if strings.TrimSpace(a.ID) == "" {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ActiveStorms lists this year's active storms in the north-west Pacific
// with their latest track point. Track failures for a single storm leave
// its position empty.
func (c *Client) ActiveStorms(ctx context.Context) ([]Storm, error) {
	year := strconv.Itoa(c.now().Year())
	var r stormListResponse
	if err := c.get(ctx, "/v7/tropical/storm-list", url.Values{"basin": {"NP"}, "year": {year}}, &r); err != nil {
		return nil, err
	}
	if r.Code != okCode {
		return nil, codeErr(r.Code, "storm list")
	}
	var out []Storm
	for _, s := range r.Storm {
		if s.IsActive != "1" {
			continue
		}
		st := Storm{ID: s.ID, Name: s.Name, Year: s.Year, Active: true}
		var tr stormTrackResponse
		if err := c.get(ctx, "/v7/tropical/storm-track", url.Values{"stormid": {s.ID}}, &tr); err == nil && tr.Code == okCode && tr.Now != nil {
			st.PubTime = tr.Now.PubTime
			st.Lat, st.Lon = tr.Now.Lat, tr.Now.Lon
			st.Type = tr.Now.Type
			st.Pressure = tr.Now.Pressure
			st.WindSpeed = tr.Now.WindSpeed
			st.MoveDir, st.MoveSpeed = tr.Now.MoveDir, tr.Now.MoveSpeed
		}
		out = append(out, st)
	}
	return out, nil
}
