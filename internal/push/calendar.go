package push

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"kibot/internal/calendar"
	"kibot/internal/dedup"
	"kibot/internal/subscription"
	kit "kibot/internal/transport"
	logx "kibot/pkg/logx"
)

type CalendarConfig struct {
	PlanAt      string
	WindowStart string
	Window      time.Duration
	// Probability of greeting on a day with nothing notable.
	Probability float64
	Timeout     time.Duration
}

func (c CalendarConfig) withDefaults() CalendarConfig {
	if strings.TrimSpace(c.PlanAt) == "" {
		c.PlanAt = "00:30"
	}
	if strings.TrimSpace(c.WindowStart) == "" {
		c.WindowStart = "08:00"
	}
	if c.Window <= 0 {
		c.Window = 14 * time.Hour
	}
	if c.Probability < 0 {
		c.Probability = 0
	}
	if c.Probability > 1 {
		c.Probability = 1
	}
	return c
}

type Greeter interface {
	Greeting(ctx context.Context, lines []string) (string, error)
}

// Calendar plans one deferred greeting per opted-in group per day.
type Calendar struct {
	base
	cfg      CalendarConfig
	subs     *subscription.FlagStore
	specials *subscription.SpecialDays
	cal      *calendar.Calendar
	llm      Greeter
	sched    Scheduler
	// marks holds each group's plan for the day, keyed by group.
	marks    *dedup.Baselines

	rmu sync.Mutex
	rng *rand.Rand
}

// NewCalendar uses rng for the send decision and time; nil seeds one randomly.
// marks persists the day's decision per group so a restart re-arms the same
// greeting instead of rolling again.
func NewCalendar(cfg CalendarConfig, subs *subscription.FlagStore, specials *subscription.SpecialDays, marks *dedup.Baselines, cal *calendar.Calendar, llm Greeter, rng *rand.Rand, d Deps) *Calendar {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Calendar{
		base:     newBase("calendar", d),
		cfg:      cfg.withDefaults(),
		subs:     subs,
		specials: specials,
		marks:    marks,
		cal:      cal,
		llm:      llm,
		rng:      rng,
	}
}

// Register adds the daily planning job. One-shot greetings are registered
// on the same scheduler.
func (c *Calendar) Register(s Scheduler) error {
	c.sched = s
	_, err := s.AddDaily("calendar.plan", c.cfg.PlanAt, c.cfg.Timeout, c.Plan)
	return err
}

// Planned describes one registered greeting.
type Planned struct {
	Group string
	At    time.Time
	Name  string
}

// Plan computes today's metadata and registers a greeting for each group
// that passes the send decision. Run after the window opened it only uses
// what is left of the window. A group already decided for the date keeps
// that decision, so planning again after a restart sends at most once.
func (c *Calendar) Plan(ctx context.Context) error {
	_, err := c.plan(ctx)
	return err
}

func (c *Calendar) plan(ctx context.Context) ([]Planned, error) {
	if c.sched == nil {
		return nil, fmt.Errorf("calendar: not registered")
	}
	if err := c.subs.Reload(ctx); err != nil {
		c.log.Warn("subscription reload failed; using cached state", logx.Err(err))
	}
	if err := c.specials.Reload(ctx); err != nil {
		c.log.Warn("special days reload failed; using cached state", logx.Err(err))
	}

	now := c.now()
	day := c.cal.On(now)
	start, err := atClock(day.Date, c.cfg.WindowStart)
	if err != nil {
		return nil, err
	}
	end := start.Add(c.cfg.Window)
	lo := start
	if now.After(lo) {
		lo = now
	}
	if !lo.Before(end) {
		c.log.Info("greeting window already closed", logx.Time("end", end))
		return nil, nil
	}

	var out []Planned
	date := day.Date.Format(time.DateOnly)
	for _, g := range c.subs.Groups() {
		d := day.Clone()
		d.AddSpecial(c.specials.On(g, day.Date)...)

		var at time.Time
		if m, ok := c.mark(g); ok && m.date == date {
			if m.sent || m.at.IsZero() {
				c.log.Debug("greeting already decided", logx.String("group", g), logx.String("mark", m.String()))
				continue
			}
			// Re-arm the same time; one missed while down goes out now.
			at = m.at
			if at.Before(lo) {
				at = lo
			}
		} else {
			if !c.shouldSend(d) {
				c.marks.Set(ctx, g, greetMark{date: date}.String())
				c.log.Debug("no greeting today", logx.String("group", g))
				continue
			}
			at = lo.Add(c.offset(end.Sub(lo)))
		}

		name := fmt.Sprintf("calendar.greet.%s.%s", g, date)
		group := g
		if _, err := c.sched.AddOnce(name, at, c.cfg.Timeout, func(ctx context.Context) error {
			return c.greet(ctx, group, d)
		}); err != nil {
			c.log.Warn("greeting not scheduled", logx.String("group", g), logx.Err(err))
			continue
		}
		c.marks.Set(ctx, g, greetMark{date: date, at: at}.String())
		c.log.Info("greeting scheduled", logx.String("group", g), logx.Time("at", at))
		out = append(out, Planned{Group: g, At: at, Name: name})
	}
	return out, nil
}

func (c *Calendar) mark(group string) (greetMark, bool) {
	raw, ok := c.marks.Get(group)
	if !ok {
		return greetMark{}, false
	}
	m, ok := parseGreetMark(raw)
	if !ok {
		c.log.Warn("unreadable greeting mark ignored", logx.String("group", group), logx.String("mark", raw))
	}
	return m, ok
}

// shouldSend always greets on a notable day and rolls for a plain one.
func (c *Calendar) shouldSend(d calendar.Day) bool {
	if d.Notable() {
		return true
	}
	c.rmu.Lock()
	defer c.rmu.Unlock()
	return c.rng.Float64() < c.cfg.Probability
}

func (c *Calendar) offset(span time.Duration) time.Duration {
	if span <= 0 {
		return 0
	}
	c.rmu.Lock()
	defer c.rmu.Unlock()
	return time.Duration(c.rng.Int64N(int64(span/time.Second)+1)) * time.Second
}

// greet renders d and lets the LLM rephrase it; the plain lines go out when
// the LLM fails.
func (c *Calendar) greet(ctx context.Context, group string, d calendar.Day) error {
	lines := d.Lines(c.now())
	text := strings.Join(lines, "\n")
	if c.llm != nil {
		out, err := c.llm.Greeting(ctx, lines)
		if err != nil {
			c.log.Warn("greeting rephrase failed; sending plain text", logx.String("group", group), logx.Err(err))
		} else {
			text = out
		}
	}
	date := d.Date.Format(time.DateOnly)
	if err := c.deliver(ctx, group, kit.Content{Text: text}, date); err != nil {
		return err
	}
	c.marks.Set(ctx, group, greetMark{date: date, sent: true}.String())
	return nil
}

// greetMark is one group's plan for one date: skipped (zero at), pending at
// a time, or sent. Persisted as "2006-01-02 skip|sent|at <RFC3339>".
type greetMark struct {
	date string
	at   time.Time
	sent bool
}

func (m greetMark) String() string {
	switch {
	case m.sent:
		return m.date + " sent"
	case m.at.IsZero():
		return m.date + " skip"
	}
	return m.date + " at " + m.at.Format(time.RFC3339)
}

func parseGreetMark(raw string) (greetMark, bool) {
	date, rest, ok := strings.Cut(strings.TrimSpace(raw), " ")
	if !ok {
		return greetMark{}, false
	}
	m := greetMark{date: date}
	switch {
	case rest == "sent":
		m.sent = true
	case rest == "skip":
	case strings.HasPrefix(rest, "at "):
		t, err := time.Parse(time.RFC3339, strings.TrimPrefix(rest, "at "))
		if err != nil {
			return greetMark{}, false
		}
		m.at = t
	default:
		return greetMark{}, false
	}
	return m, true
}

func atClock(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return time.Time{}, fmt.Errorf("calendar: bad time %q: %w", hhmm, err)
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}
