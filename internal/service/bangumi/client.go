// Package bangumi reads the weekly airing calendar from bgm.tv.
package bangumi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"kibot/internal/service"
)

// bgm.tv rejects requests without a descriptive User-Agent.
const defaultUserAgent = "KiBot/1.0 (https://github.com/Limpid-8818/KiBot)"

const typeAnime = 2

type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Subject is one airing program.
type Subject struct {
	ID     int64   `json:"id"`
	URL    string  `json:"url"`
	Type   int     `json:"type"`
	Name   string  `json:"name"`
	NameCN string  `json:"name_cn"`
	Rating *Rating `json:"rating"`
}

type Rating struct {
	Total int     `json:"total"`
	Score float64 `json:"score"`
}

// DisplayName prefers the Chinese title.
func (s Subject) DisplayName() string {
	if n := strings.TrimSpace(s.NameCN); n != "" {
		return n
	}
	return s.Name
}

// Score returns 0 when the subject is unrated.
func (s Subject) Score() float64 {
	if s.Rating == nil {
		return 0
	}
	return s.Rating.Score
}

type calendarDay struct {
	Weekday struct {
		ID int `json:"id"`
	} `json:"weekday"`
	Items []Subject `json:"items"`
}

type Client struct {
	base   string
	header http.Header
	hc     *http.Client
}

func New(cfg Config, hc *http.Client) *Client {
	if hc == nil {
		hc = service.DefaultHTTPClient(cfg.Timeout)
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.bgm.tv"
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{
		base:   base,
		header: http.Header{"User-Agent": {ua}, "Accept": {"application/json"}},
		hc:     hc,
	}
}

// Airing returns the anime airing on weekday. An empty result is not an error.
func (c *Client) Airing(ctx context.Context, weekday time.Weekday) ([]Subject, error) {
	var days []calendarDay
	if err := service.GetJSON(ctx, c.hc, c.base+"/calendar", c.header, &days); err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, service.Malformed(nil, "calendar: no days")
	}
	want := weekdayID(weekday)
	for _, d := range days {
		if d.Weekday.ID != want {
			continue
		}
		out := make([]Subject, 0, len(d.Items))
		for _, s := range d.Items {
			if s.Type == typeAnime && s.ID != 0 {
				out = append(out, s)
			}
		}
		return out, nil
	}
	return nil, nil
}

// weekdayID maps Go's Sunday=0 to bgm.tv's Monday=1..Sunday=7.
func weekdayID(w time.Weekday) int {
	if w == time.Sunday {
		return 7
	}
	return int(w)
}

// FormatDaily renders the daily push for day.
func FormatDaily(day time.Time, list []Subject) string {
	date := fmt.Sprintf("%d月%d日", int(day.Month()), day.Day())
	if len(list) == 0 {
		return fmt.Sprintf("📺 今日(%s)\n\n暂无动画放送信息", date)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📺 今日(%s)番剧放送：\n", date)
	for _, s := range list {
		b.WriteString("\n🎬 ")
		b.WriteString(s.DisplayName())
		if score := s.Score(); score > 0 {
			fmt.Fprintf(&b, " 🌟 %.1f", score)
		}
		b.WriteString("\n🔗 ")
		b.WriteString(s.URL)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
