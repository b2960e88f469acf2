package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kibot/internal/service"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(Config{Host: srv.URL, APIKey: "k"}, srv.Client())
	c.now = func() time.Time { return time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC) }
	return c
}

func TestLookup(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-QW-Api-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Query().Get("location") {
		case "北京":
			_, _ = w.Write([]byte(`{"code":"200","location":[{"id":"101010100","name":"北京","adm1":"北京市","country":"中国"}]}`))
		case "火星":
			_, _ = w.Write([]byte(`{"code":"404"}`))
		default:
			_, _ = w.Write([]byte(`{"code":"200","location":[]}`))
		}
	})
	ctx := context.Background()
	loc, err := c.Lookup(ctx, "北京")
	if err != nil || loc.ID != "101010100" {
		t.Fatalf("Lookup = %+v, %v", loc, err)
	}
	if _, err := c.Lookup(ctx, "火星"); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("code 404 err = %v", err)
	}
	if _, err := c.Lookup(ctx, "无名"); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("empty list err = %v", err)
	}
	if _, err := c.Lookup(ctx, "  "); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("blank err = %v", err)
	}
}

func TestAlertsAndUnavailableCode(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("location") == "bad" {
			_, _ = w.Write([]byte(`{"code":"500"}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":"200","warning":[{"id":"W1","title":"高温橙色预警","severityColor":"Orange","startTime":"2026-07-01T08:00+08:00"},{"id":""}]}`))
	})
	ctx := context.Background()
	alerts, err := c.Alerts(ctx, "101010100")
	if err != nil || len(alerts) != 1 || alerts[0].ID != "W1" {
		t.Fatalf("Alerts = %+v, %v", alerts, err)
	}
	if _, err := c.Alerts(ctx, "bad"); !errors.Is(err, service.ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestActiveStorms(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v7/tropical/storm-list":
			if r.URL.Query().Get("year") != "2026" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"code":"200","storm":[{"id":"NP_2601","name":"蝴蝶","isActive":"1"},{"id":"NP_2600","name":"旧","isActive":"0"}]}`))
		case "/v7/tropical/storm-track":
			_, _ = w.Write([]byte(`{"code":"200","isActive":"1","now":{"lat":"20.1","lon":"125.3","pressure":"985","windSpeed":"30","moveDir":"NW","moveSpeed":"15"}}`))
		}
	})
	storms, err := c.ActiveStorms(context.Background())
	if err != nil || len(storms) != 1 {
		t.Fatalf("ActiveStorms = %+v, %v", storms, err)
	}
	if storms[0].Lat != "20.1" || storms[0].Name != "蝴蝶" {
		t.Fatalf("storm = %+v", storms[0])
	}
	if !strings.Contains(FormatStorms(storms), "蝴蝶") {
		t.Fatal("storm name missing from text")
	}
	if FormatStorms(nil) != NoStorms {
		t.Fatal("empty storm text")
	}
}

func TestAlertExpiry(t *testing.T) {
	t.Parallel()
	withEnd := Alert{StartTime: "2026-07-01T08:00+08:00", EndTime: "2026-07-02T08:00+08:00"}
	exp, ok := withEnd.Expiry()
	if !ok || !exp.Equal(time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expiry = %s %v", exp, ok)
	}
	noEnd := Alert{StartTime: "2026-07-01T08:00+08:00"}
	exp, ok = noEnd.Expiry()
	if !ok || !exp.Equal(time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start+24h = %s %v", exp, ok)
	}
	if _, ok := (Alert{StartTime: "yesterday"}).Expiry(); ok {
		t.Fatal("unparsable times should not yield an expiry")
	}
}

func TestFormatting(t *testing.T) {
	t.Parallel()
	if got := NoAlerts("北京"); got != "⚠️ 暂无「北京」的预警信息" {
		t.Fatalf("NoAlerts = %q", got)
	}
	if Emoji("多云转晴") != "☀️" {
		// "晴" is checked before "多云".
		t.Fatalf("Emoji = %q", Emoji("多云转晴"))
	}
	if Emoji("冰雹") != "🌈" {
		t.Fatal("default emoji")
	}
	red := FormatAlert("北京", Alert{SeverityColor: "Red", Title: "暴雨红色预警"})
	if !strings.HasPrefix(red, "🔴 北京红色预警") {
		t.Fatalf("red = %q", red)
	}
	other := FormatAlert("北京", Alert{SeverityColor: "White"})
	if !strings.HasPrefix(other, "⚠️ 北京预警") {
		t.Fatalf("other = %q", other)
	}
	day := time.Date(2026, 3, 9, 7, 0, 0, 0, time.UTC)
	if ForecastHeader(day) != "📅 今日天气播报 3月9日" {
		t.Fatalf("header = %q", ForecastHeader(day))
	}
}
