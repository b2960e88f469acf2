package push

import (
	"context"
	"strings"
	"time"

	"kibot/internal/service/bangumi"
	"kibot/internal/subscription"
	kit "kibot/internal/transport"
	logx "kibot/pkg/logx"
)

type AnimeConfig struct {
	At      string
	Timeout time.Duration
}

type AnimeSource interface {
	Airing(ctx context.Context, weekday time.Weekday) ([]bangumi.Subject, error)
}

// Anime pushes today's airing list to opted-in groups.
type Anime struct {
	base
	cfg  AnimeConfig
	subs *subscription.FlagStore
	src  AnimeSource
}

func NewAnime(cfg AnimeConfig, subs *subscription.FlagStore, src AnimeSource, d Deps) *Anime {
	if strings.TrimSpace(cfg.At) == "" {
		cfg.At = "08:00"
	}
	return &Anime{base: newBase("anime", d), cfg: cfg, subs: subs, src: src}
}

func (a *Anime) Register(s Scheduler) error {
	_, err := s.AddDaily("anime.daily", a.cfg.At, a.cfg.Timeout, a.Tick)
	return err
}

// Tick fetches the catalog once and sends it to every opted-in group. An
// empty catalog still produces the "nothing airing" message.
func (a *Anime) Tick(ctx context.Context) error {
	if err := a.subs.Reload(ctx); err != nil {
		a.log.Warn("subscription reload failed; using cached state", logx.Err(err))
	}
	groups := a.subs.Groups()
	if len(groups) == 0 {
		return nil
	}
	now := a.now()
	list, err := a.src.Airing(ctx, now.Weekday())
	if err != nil {
		return err
	}
	text := bangumi.FormatDaily(now, list)
	var t tally
	for _, g := range groups {
		if ctx.Err() != nil {
			return t.stopped(ctx.Err())
		}
		err := a.deliver(ctx, g, kit.Content{Text: text}, now.Format(time.DateOnly))
		if err != nil {
			a.log.Warn("anime send failed", logx.String("group", g), logx.Err(err))
		}
		t.record(err)
	}
	return t.err()
}
