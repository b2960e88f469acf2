package push

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"kibot/internal/calendar"
	"kibot/internal/dedup"
	"kibot/internal/storage"
	"kibot/internal/subscription"
	logx "kibot/pkg/logx"
)

func noStatutory(int, time.Month, int) (calendar.Statutory, bool) { return calendar.Statutory{}, false }

type calendarFixture struct {
	st       storage.Store
	c        *Calendar
	sched    *fakeScheduler
	snd      *fakeSender
	llm      *fakeGreeter
	clk      *clock
	subs     *subscription.FlagStore
	specials *subscription.SpecialDays
}

func newCalendarFixture(t *testing.T, prob float64, seed uint64) *calendarFixture {
	t.Helper()
	st := storage.NewMemory()
	f := &calendarFixture{
		st:       st,
		sched:    newFakeScheduler(),
		snd:      &fakeSender{},
		llm:      &fakeGreeter{},
		// Tuesday 2026-10-13 is an ordinary workday.
		clk:      &clock{t: time.Date(2026, 10, 13, 0, 30, 0, 0, time.UTC)},
		subs:     subscription.NewFlagStore("calendar_subscriptions", st, logx.Nop()),
		specials: subscription.NewSpecialDays("calendar_special_days", st, logx.Nop()),
	}
	f.restart(t, prob, seed)
	return f
}

// restart builds a fresh Calendar over the same documents and scheduler, as
// after a process restart.
func (f *calendarFixture) restart(t *testing.T, prob float64, seed uint64) {
	t.Helper()
	marks := dedup.NewBaselines("calendar_greetings", f.st, logx.Nop())
	if err := marks.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.c = NewCalendar(CalendarConfig{Probability: prob}, f.subs, f.specials, marks,
		calendar.New(time.UTC, noStatutory), f.llm, rand.New(rand.NewPCG(seed, seed+1)),
		Deps{Sender: f.snd, Now: f.clk.Now})
	if err := f.c.Register(f.sched); err != nil {
		t.Fatal(err)
	}
}

func TestCalendarNotableDayAlwaysPlanned(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newCalendarFixture(t, 0, 1)
	f.subs.Set(ctx, "1", true)
	f.subs.Set(ctx, "2", true)
	if err := f.specials.Add(ctx, "1", "10-13", "建群纪念日"); err != nil {
		t.Fatal(err)
	}

	planned, err := f.c.plan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(planned) != 1 || planned[0].Group != "1" {
		t.Fatalf("planned = %+v", planned)
	}
	p := planned[0]
	if p.Name != "calendar.greet.1.2026-10-13" {
		t.Fatalf("name = %s", p.Name)
	}
	start := time.Date(2026, 10, 13, 8, 0, 0, 0, time.UTC)
	if p.At.Before(start) || p.At.After(start.Add(14*time.Hour)) {
		t.Fatalf("at = %v outside window", p.At)
	}
	if f.sched.specs["calendar.plan"] != "daily 00:30" {
		t.Fatalf("specs = %v", f.sched.specs)
	}

	job := f.sched.once[p.Name].job
	f.clk.Set(p.At)
	if err := job(ctx); err != nil {
		t.Fatal(err)
	}
	if got := f.snd.to(1); len(got) != 1 || got[0].Text != "早上好呀" {
		t.Fatalf("sent = %+v", got)
	}
	if !strings.Contains(strings.Join(f.llm.lines, "\n"), "建群纪念日") {
		t.Fatalf("lines = %v", f.llm.lines)
	}
}

func TestCalendarPlainDayProbability(t *testing.T) {
	t.Parallel()
	f := newCalendarFixture(t, 0.2, 42)
	day := calendar.Day{Date: time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC), Workday: true}
	const trials = 20000
	hits := 0
	for range trials {
		if f.c.shouldSend(day) {
			hits++
		}
	}
	ratio := float64(hits) / trials
	if ratio < 0.18 || ratio > 0.22 {
		t.Fatalf("ratio = %.3f, want about 0.2", ratio)
	}
	day.Festivals = []string{"春节"}
	for range 100 {
		if !f.c.shouldSend(day) {
			t.Fatal("a festival day must always be sent")
		}
	}
}

func TestCalendarPlanLateUsesRemainingWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newCalendarFixture(t, 1, 7)
	f.subs.Set(ctx, "1", true)

	now := time.Date(2026, 10, 13, 20, 0, 0, 0, time.UTC)
	f.clk.Set(now)
	planned, err := f.c.plan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(planned) != 1 || planned[0].At.Before(now) || planned[0].At.After(now.Add(2*time.Hour)) {
		t.Fatalf("planned = %+v", planned)
	}

	f.clk.Set(time.Date(2026, 10, 13, 22, 30, 0, 0, time.UTC))
	if planned, _ := f.c.plan(ctx); len(planned) != 0 {
		t.Fatalf("planned after window = %+v", planned)
	}
}

func TestCalendarGreetFallsBackToPlainLines(t *testing.T) {
	t.Parallel()
	f := newCalendarFixture(t, 1, 3)
	f.llm.err = errors.New("llm down")
	d := calendar.Day{Date: time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC), Lunar: "九月初三", Workday: true}
	f.clk.Set(time.Date(2026, 10, 13, 9, 15, 0, 0, time.UTC))
	if err := f.c.greet(context.Background(), "1", d); err != nil {
		t.Fatal(err)
	}
	want := "今天是2026-10-13, 农历九月初三。\n现在是09:15。\n今天是工作日。"
	if got := f.snd.to(1); len(got) != 1 || got[0].Text != want {
		t.Fatalf("sent = %+v", got)
	}
}

func TestCalendarRestartKeepsPlannedTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newCalendarFixture(t, 1, 5)
	f.subs.Set(ctx, "1", true)

	first, err := f.c.plan(ctx)
	if err != nil || len(first) != 1 {
		t.Fatalf("plan = %+v, %v", first, err)
	}
	at := first[0].At

	// Restarted inside the window with a different seed.
	f.clk.Set(time.Date(2026, 10, 13, 8, 0, 0, 0, time.UTC))
	f.restart(t, 1, 99)
	again, err := f.c.plan(ctx)
	if err != nil || len(again) != 1 || !again[0].At.Equal(at) {
		t.Fatalf("replanned = %+v, %v; want same time %v", again, err, at)
	}

	f.clk.Set(at)
	if err := f.sched.once[again[0].Name].job(ctx); err != nil {
		t.Fatal(err)
	}
	f.restart(t, 1, 123)
	if planned, _ := f.c.plan(ctx); len(planned) != 0 {
		t.Fatalf("planned after send = %+v", planned)
	}
	if n := len(f.snd.to(1)); n != 1 {
		t.Fatalf("greetings sent = %d, want 1", n)
	}
}

func TestCalendarRestartKeepsSkipDecision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newCalendarFixture(t, 0, 5)
	f.subs.Set(ctx, "1", true)
	if planned, _ := f.c.plan(ctx); len(planned) != 0 {
		t.Fatalf("planned = %+v", planned)
	}

	f.clk.Set(time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC))
	f.restart(t, 1, 6)
	if planned, _ := f.c.plan(ctx); len(planned) != 0 {
		t.Fatalf("restart rolled again: %+v", planned)
	}

	// The next day is decided afresh.
	f.clk.Set(time.Date(2026, 10, 14, 0, 30, 0, 0, time.UTC))
	if planned, _ := f.c.plan(ctx); len(planned) != 1 {
		t.Fatalf("next day planned = %+v", planned)
	}
}

func TestGreetMarkRoundTrip(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 10, 13, 15, 4, 5, 0, time.UTC)
	for _, m := range []greetMark{{date: "2026-10-13"}, {date: "2026-10-13", sent: true}, {date: "2026-10-13", at: at}} {
		got, ok := parseGreetMark(m.String())
		if !ok || got.date != m.date || got.sent != m.sent || !got.at.Equal(m.at) {
			t.Fatalf("parse(%q) = %+v, %v", m.String(), got, ok)
		}
	}
	for _, raw := range []string{"", "2026-10-13", "2026-10-13 at soon", "2026-10-13 maybe"} {
		if _, ok := parseGreetMark(raw); ok {
			t.Fatalf("parse(%q) should fail", raw)
		}
	}
}
