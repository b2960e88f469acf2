package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"kibot/internal/task/engine"
	logx "kibot/pkg/logx"
)

func newRunning(t *testing.T) *Service {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 2}, logx.Nop(), nil)
	eng.Start(context.Background())
	s := New(Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})
	return s
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	if h, m, err := parseHHMM("07:05"); err != nil || h != 7 || m != 5 {
		t.Fatalf("parseHHMM = %d %d %v", h, m, err)
	}
	for _, bad := range []string{"24:00", "7", "07:60", "aa:bb"} {
		if _, _, err := parseHHMM(bad); err == nil {
			t.Fatalf("parseHHMM(%q) expected error", bad)
		}
	}
}

func TestAddDailyUpsertsByName(t *testing.T) {
	t.Parallel()
	s := newRunning(t)
	job := func(context.Context) error { return nil }
	if _, err := s.AddDaily("weather.forecast", "07:00", time.Minute, job); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddDaily("weather.forecast", "08:30", time.Minute, job); err != nil {
		t.Fatal(err)
	}
	got := s.Schedules()
	if len(got) != 1 || got[0].Spec != "30 8 * * *" {
		t.Fatalf("Schedules = %+v", got)
	}
	if got[0].Next.IsZero() {
		t.Fatal("next trigger not computed")
	}
}

func TestAddOnceFiresAndCanBeReplaced(t *testing.T) {
	t.Parallel()
	s := newRunning(t)

	fired := make(chan string, 2)
	_, _ = s.AddOnce("calendar.greet.G1", time.Now().Add(time.Hour), 0, func(context.Context) error {
		fired <- "old"
		return nil
	})
	_, _ = s.AddOnce("calendar.greet.G1", time.Now().Add(20*time.Millisecond), 0, func(context.Context) error {
		fired <- "new"
		return nil
	})
	select {
	case got := <-fired:
		if got != "new" {
			t.Fatalf("fired %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("once job never fired")
	}
}

func TestRemoveCancelsOnce(t *testing.T) {
	t.Parallel()
	s := newRunning(t)
	fired := make(chan struct{}, 1)
	_, _ = s.AddOnce("calendar.greet.G2", time.Now().Add(50*time.Millisecond), 0, func(context.Context) error {
		fired <- struct{}{}
		return nil
	})
	if !s.Remove("calendar.greet.G2") {
		t.Fatal("Remove reported nothing removed")
	}
	select {
	case <-fired:
		t.Fatal("removed job fired")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRegistrationValidation(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, nil, logx.Nop())
	job := func(context.Context) error { return nil }
	if _, err := s.AddCron("bad", "every tuesday", 0, job); err == nil {
		t.Fatal("bad cron spec accepted")
	}
	if _, err := s.AddInterval("zero", 0, 0, job); err == nil {
		t.Fatal("zero interval accepted")
	}
	if _, err := s.AddDaily(" ", "07:00", 0, job); err == nil {
		t.Fatal("blank name accepted")
	}
	if _, err := s.AddOnce("nil", time.Now(), 0, nil); err == nil {
		t.Fatal("nil job accepted")
	}
}

func TestSchedulesBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, nil, logx.Nop())
	job := func(context.Context) error { return nil }
	at := time.Now().Add(time.Hour)
	_, _ = s.AddDaily("weather.forecast", "19:00", 0, job)
	_, _ = s.AddInterval("creator.poll", 30*time.Minute, 0, job)
	_, _ = s.AddOnce("calendar.greet.7", at, 0, job)
	// A recurring registration replaces a pending one-shot of the same name.
	_, _ = s.AddDaily("calendar.greet.7", "09:00", 0, job)

	got := s.Schedules()
	if len(got) != 3 {
		t.Fatalf("Schedules = %+v", got)
	}
	want := []string{"calendar.greet.7", "creator.poll", "weather.forecast"}
	for i, it := range got {
		if it.Name != want[i] || !it.Next.IsZero() {
			t.Fatalf("Schedules[%d] = %+v", i, it)
		}
	}
	if got[0].Spec != "0 9 * * *" || got[1].Spec != "@every 30m0s" {
		t.Fatalf("specs = %q %q", got[0].Spec, got[1].Spec)
	}
	if !s.Remove("creator.poll") || s.Remove("creator.poll") {
		t.Fatal("Remove should report only the first removal")
	}
}

func TestStaggerDelaysFirstRun(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, offset := stagger(cron.Every(time.Minute), now)
	if offset < 0 || offset >= maxStagger {
		t.Fatalf("offset = %s", offset)
	}
	first := sched.Next(now)
	if !first.Equal(now.Add(time.Minute + offset)) {
		t.Fatalf("first = %s", first)
	}
	if got := sched.Next(first); got.Before(first.Add(time.Minute - time.Second)) {
		t.Fatalf("second = %s", got)
	}
}
