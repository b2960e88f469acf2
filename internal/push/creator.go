package push

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"kibot/internal/dedup"
	"kibot/internal/service/bilibili"
	"kibot/internal/service/screenshot"
	"kibot/internal/subscription"
	"kibot/internal/task/engine"
	kit "kibot/internal/transport"
	logx "kibot/pkg/logx"
)

const creatorNotice = "📢 Ki酱提醒您：您关注的UP主动态更新啦"

type CreatorConfig struct {
	Every   time.Duration
	Timeout time.Duration
}

type CreatorSource interface {
	Latest(ctx context.Context, uid string) (bilibili.Dynamic, error)
}

// TaskQueue runs seeding work off the request path.
type TaskQueue interface {
	Enqueue(t engine.Task) error
}

// Creator polls every distinct followed creator once per tick and notifies
// the groups following it when the latest dynamic changes.
type Creator struct {
	base
	cfg       CreatorConfig
	subs      *subscription.ListStore
	baselines *dedup.Baselines
	src       CreatorSource
	shots     screenshot.Capturer
	queue     TaskQueue

	// mu serializes checks so a manual check and a tick never both
	// announce the same dynamic.
	mu sync.Mutex
}

func NewCreator(cfg CreatorConfig, subs *subscription.ListStore, baselines *dedup.Baselines, src CreatorSource, shots screenshot.Capturer, queue TaskQueue, d Deps) *Creator {
	if cfg.Every <= 0 {
		cfg.Every = 30 * time.Minute
	}
	return &Creator{
		base:      newBase("creator", d),
		cfg:       cfg,
		subs:      subs,
		baselines: baselines,
		src:       src,
		shots:     shots,
		queue:     queue,
	}
}

func (c *Creator) Register(s Scheduler) error {
	_, err := s.AddInterval("creator.poll", c.cfg.Every, c.cfg.Timeout, c.Tick)
	return err
}

func (c *Creator) Tick(ctx context.Context) error {
	if err := c.subs.Reload(ctx); err != nil {
		c.log.Warn("subscription reload failed; using cached state", logx.Err(err))
	}
	var t tally
	for _, uid := range c.subs.Distinct() {
		if ctx.Err() != nil {
			return t.stopped(ctx.Err())
		}
		if _, err := c.check(ctx, uid, "", &t); err != nil {
			c.log.Warn("creator fetch failed", logx.String("uid", uid), logx.Err(err))
		}
	}
	return t.err()
}

// Check runs one on-demand comparison for uid. A new dynamic goes to the
// requesting group and to every other subscriber, since the baseline moves on
// for all of them; others counts the latter.
func (c *Creator) Check(ctx context.Context, uid string, group string) (found bool, others int, err error) {
	var t tally
	groups, err := c.check(ctx, uid, group, &t)
	if err != nil {
		return false, 0, err
	}
	if t.failed > 0 && t.sent == 0 {
		return true, 0, t.last
	}
	for _, g := range groups {
		if g != group {
			others++
		}
	}
	return groups != nil, others, nil
}

// check returns the groups a new dynamic was sent to, or nil when the
// baseline is current.
func (c *Creator) check(ctx context.Context, uid string, requester string, t *tally) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.src.Latest(ctx, uid)
	if err != nil {
		return nil, err
	}
	if prev, ok := c.baselines.Get(uid); ok && prev == d.ID {
		return nil, nil
	}

	content := c.render(ctx, d)
	groups := c.subs.Subscribers(uid)
	if requester != "" && !slices.Contains(groups, requester) {
		groups = append(groups, requester)
	}
	for _, g := range groups {
		err := c.deliver(ctx, g, content, d.ID)
		if err != nil {
			c.log.Warn("creator send failed", logx.String("group", g), logx.String("uid", uid), logx.Err(err))
		}
		t.record(err)
	}
	c.baselines.Set(ctx, uid, d.ID)
	c.log.Info("new dynamic", logx.String("uid", uid), logx.String("id", d.ID), logx.Int("groups", len(groups)))
	if groups == nil {
		groups = []string{}
	}
	return groups, nil
}

// render attaches a screenshot, falling back to the dynamic's link.
func (c *Creator) render(ctx context.Context, d bilibili.Dynamic) kit.Content {
	if c.shots != nil {
		path, err := c.shots.Capture(ctx, d.ID, d.URL())
		if err == nil {
			return kit.Content{Text: creatorNotice, Image: path}
		}
		if !errors.Is(err, screenshot.ErrDisabled) {
			c.log.Warn("screenshot failed; sending link", logx.String("id", d.ID), logx.Err(err))
		}
	}
	return kit.Content{Text: creatorNotice + "\n" + d.URL()}
}

// Seed records uid's current latest dynamic as its baseline unless one
// exists, so content posted before the subscription is never announced.
func (c *Creator) Seed(ctx context.Context, uid string) error {
	d, err := c.src.Latest(ctx, uid)
	if err != nil {
		return err
	}
	if c.baselines.SetIfAbsent(ctx, uid, d.ID) {
		c.log.Info("baseline seeded", logx.String("uid", uid), logx.String("id", d.ID))
	}
	return nil
}

// SeedAsync queues Seed on the task engine.
func (c *Creator) SeedAsync(uid string) {
	task := engine.Task{
		Name:    "creator.seed." + uid,
		Timeout: c.cfg.Timeout,
		Run:     func(ctx context.Context) error { return c.Seed(ctx, uid) },
	}
	if c.queue == nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := task.Run(ctx); err != nil {
				c.log.Warn("baseline seed failed", logx.String("uid", uid), logx.Err(err))
			}
		}()
		return
	}
	if err := c.queue.Enqueue(task); err != nil {
		c.log.Warn("baseline seed not queued", logx.String("uid", uid), logx.Err(err))
	}
}
