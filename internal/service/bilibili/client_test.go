package bilibili

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"kibot/internal/service"
	logx "kibot/pkg/logx"
)

const feedJSON = `{"code":0,"data":{"items":[
 {"id_str":"900","type":"DYNAMIC_TYPE_DRAW","modules":{"module_author":{"mid":123,"name":"up","pub_ts":1},"module_tag":{"text":"置顶"}}},
 {"id_str":"1001","type":"DYNAMIC_TYPE_AV","modules":{"module_author":{"mid":123,"name":"up","pub_ts":2},"module_dynamic":{"desc":{"text":"hello"}}}},
 {"id_str":"1000","type":"DYNAMIC_TYPE_WORD","modules":{"module_author":{"mid":123,"name":"up","pub_ts":3}}}
]}}`

func TestLatestSkipsPinned(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("host_mid") != "123" || r.Header.Get("Referer") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("Cookie") != "SESSDATA=x" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(feedJSON))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Cookie: "SESSDATA=x"}, srv.Client(), logx.Nop())
	d, err := c.Latest(context.Background(), "123")
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != "1001" || d.Text != "hello" || d.Pinned {
		t.Fatalf("Latest = %+v", d)
	}
	if d.URL() != "https://t.bilibili.com/1001" {
		t.Fatalf("URL = %s", d.URL())
	}
}

func TestLatestEmptyFeedIsNotFound(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{"items":[]}}`))
	}))
	defer srv.Close()
	_, err := New(Config{BaseURL: srv.URL}, srv.Client(), logx.Nop()).Latest(context.Background(), "5")
	if !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestRiskControlDropsGuestCookie(t *testing.T) {
	t.Parallel()
	var spiCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/x/frontend/finger/spi" {
			spiCalls.Add(1)
			_, _ = w.Write([]byte(`{"code":0,"data":{"b_3":"B3","b_4":"B4"}}`))
			return
		}
		if r.Header.Get("Cookie") != "buvid3=B3; buvid4=B4" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"code":-352,"message":"risk"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, GuestCookie: true}, srv.Client(), logx.Nop())
	for range 2 {
		if _, err := c.Feed(context.Background(), "1"); !errors.Is(err, service.ErrUnavailable) {
			t.Fatalf("err = %v", err)
		}
	}
	if got := spiCalls.Load(); got != 2 {
		t.Fatalf("spi calls = %d, want a refetch after -352", got)
	}
}

func TestCookieFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cookie.txt")
	if err := os.WriteFile(path, []byte("SESSDATA=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c := New(Config{CookieFile: path}, nil, logx.Nop())
	if got := c.cookie(context.Background()); got != "SESSDATA=file" {
		t.Fatalf("cookie = %q", got)
	}
}
