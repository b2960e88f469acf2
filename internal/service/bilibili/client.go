// Package bilibili polls a creator's space dynamic feed.
package bilibili

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"kibot/internal/service"
	logx "kibot/pkg/logx"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36"
	referer          = "https://www.bilibili.com/"

	// Risk control: the request was refused, usually for a missing or stale cookie.
	codeRiskControl = -352
)

type Config struct {
	BaseURL   string
	UserAgent string

	// Cookie is sent verbatim. When empty, CookieFile is read on every
	// request so a refreshed login is picked up without a restart.
	Cookie     string
	CookieFile string

	// GuestCookie fetches an anonymous buvid cookie when no login cookie is
	// configured.
	GuestCookie bool
	Timeout     time.Duration
}

type Client struct {
	cfg  Config
	base string
	hc   *http.Client
	log  logx.Logger

	mu    sync.Mutex
	guest string
}

func New(cfg Config, hc *http.Client, log logx.Logger) *Client {
	if hc == nil {
		hc = service.DefaultHTTPClient(cfg.Timeout)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.bilibili.com"
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &Client{cfg: cfg, base: base, hc: hc, log: log.With(logx.String("comp", "bilibili"))}
}

// Latest returns the newest non-pinned dynamic of uid. A creator with no
// posts yields ErrNotFound.
func (c *Client) Latest(ctx context.Context, uid string) (Dynamic, error) {
	items, err := c.Feed(ctx, uid)
	if err != nil {
		return Dynamic{}, err
	}
	for _, d := range items {
		if !d.Pinned && d.ID != "" {
			return d, nil
		}
	}
	return Dynamic{}, service.NotFound("uid %s: no dynamics", uid)
}

// Feed returns the first page of uid's space feed in upstream order.
func (c *Client) Feed(ctx context.Context, uid string) ([]Dynamic, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, service.NotFound("empty uid")
	}
	var r feedResponse
	u := c.base + "/x/polymer/web-dynamic/v1/feed/space?" + url.Values{"host_mid": {uid}}.Encode()
	if err := service.GetJSON(ctx, c.hc, u, c.header(ctx), &r); err != nil {
		return nil, err
	}
	if r.Code != 0 {
		if r.Code == codeRiskControl {
			c.log.Warn("feed refused by risk control; check the cookie", logx.String("uid", uid))
			c.dropGuest()
		}
		return nil, service.Unavailable(nil, "feed %s: code %d %s", uid, r.Code, r.Message)
	}
	out := make([]Dynamic, 0, len(r.Data.Items))
	for _, it := range r.Data.Items {
		out = append(out, it.dynamic())
	}
	return out, nil
}

func (c *Client) header(ctx context.Context) http.Header {
	h := http.Header{
		"User-Agent": {c.cfg.UserAgent},
		"Referer":    {referer},
	}
	if ck := c.cookie(ctx); ck != "" {
		h.Set("Cookie", ck)
	}
	return h
}

func (c *Client) cookie(ctx context.Context) string {
	if ck := strings.TrimSpace(c.cfg.Cookie); ck != "" {
		return ck
	}
	if p := strings.TrimSpace(c.cfg.CookieFile); p != "" {
		b, err := os.ReadFile(p)
		switch {
		case err == nil && strings.TrimSpace(string(b)) != "":
			return strings.TrimSpace(string(b))
		case err != nil && !errors.Is(err, os.ErrNotExist):
			c.log.Warn("cookie file unreadable", logx.String("path", p), logx.Err(err))
		}
	}
	if !c.cfg.GuestCookie {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.guest != "" {
		return c.guest
	}
	ck, err := c.fetchGuest(ctx)
	if err != nil {
		c.log.Warn("guest cookie unavailable", logx.Err(err))
		return ""
	}
	c.guest = ck
	return ck
}

func (c *Client) dropGuest() {
	c.mu.Lock()
	c.guest = ""
	c.mu.Unlock()
}

func (c *Client) fetchGuest(ctx context.Context) (string, error) {
	var r spiResponse
	h := http.Header{"User-Agent": {c.cfg.UserAgent}, "Referer": {referer}}
	if err := service.GetJSON(ctx, c.hc, c.base+"/x/frontend/finger/spi", h, &r); err != nil {
		return "", err
	}
	if r.Code != 0 || r.Data.Buvid3 == "" {
		return "", service.Unavailable(nil, "spi: code %d %s", r.Code, r.Message)
	}
	parts := []string{"buvid3=" + r.Data.Buvid3}
	if r.Data.Buvid4 != "" {
		parts = append(parts, "buvid4="+r.Data.Buvid4)
	}
	return strings.Join(parts, "; "), nil
}
