package bot

import (
	"context"

	"kibot/internal/service/bangumi"
)

func (d *Dispatcher) registerAnime() {
	d.container("番剧", usageAnime, "anime")
	d.register(Command{Route: "番剧 今日放送", Aliases: []string{"今日", "today"}, Handle: d.animeToday})
	d.register(Command{Route: "番剧 订阅", Aliases: []string{"subscribe"}, Handle: d.animeSubscribe})
	d.register(Command{Route: "番剧 取消订阅", Aliases: []string{"unsubscribe"}, Handle: d.animeUnsubscribe})
}

func (d *Dispatcher) animeToday(ctx context.Context, _ *Request) (string, error) {
	if d.deps.Anime == nil {
		return replyDisabled, nil
	}
	today := d.now()
	list, err := d.deps.Anime.Airing(ctx, today.Weekday())
	if err != nil {
		return "", err
	}
	return bangumi.FormatDaily(today, list), nil
}

func (d *Dispatcher) animeSubscribe(ctx context.Context, req *Request) (string, error) {
	if d.deps.AnimeSubs == nil {
		return replyDisabled, nil
	}
	if !d.deps.AnimeSubs.Set(ctx, req.Group, true) {
		return "ℹ️ 本群已订阅每日番剧放送", nil
	}
	return "✅ 已订阅每日番剧放送", nil
}

func (d *Dispatcher) animeUnsubscribe(ctx context.Context, req *Request) (string, error) {
	if d.deps.AnimeSubs == nil {
		return replyDisabled, nil
	}
	if !d.deps.AnimeSubs.Set(ctx, req.Group, false) {
		return "ℹ️ 本群未订阅每日番剧放送", nil
	}
	return "✅ 已取消订阅每日番剧放送", nil
}
