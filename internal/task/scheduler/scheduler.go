package scheduler

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"kibot/internal/task/engine"
	logx "kibot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA name; empty is the host zone
}

type Job = func(ctx context.Context) error

// Enqueuer is the engine side the scheduler feeds.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

// entry is a recurring registration. Entries survive Stop; Start re-arms them.
type entry struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	state   *engine.RunState
	id      cron.EntryID
}

type once struct {
	at      time.Time
	timeout time.Duration
	job     Job
	timer   *time.Timer
}

type Service struct {
	log    logx.Logger
	eng    Enqueuer
	parser cron.Parser

	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	cron    *cron.Cron // nil while stopped
	entries map[string]*entry
	onces   map[string]*once

	warnMu sync.Mutex
	warn   map[string]*rate.Sometimes
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
}

func New(cfg Config, eng Enqueuer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log: log,
		eng: eng,
		// Five fields, an optional leading seconds field, or @descriptors.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cfg:     cfg,
		entries: map[string]*entry{},
		onces:   map[string]*once{},
		warn:    map[string]*rate.Sometimes{},
	}
	s.loc = time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			log.Warn("unknown timezone, using host zone", logx.String("tz", tz), logx.Err(err))
		} else {
			s.loc = loc
		}
	}
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Location is the zone daily and cron schedules are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Start arms every registration. Registrations added later are armed
// immediately.
func (s *Service) Start(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil || !s.cfg.Enabled {
		return
	}
	s.cron = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, e := range s.entries {
		s.armLocked(e)
	}
	s.cron.Start()
	for name, o := range s.onces {
		s.armOnceLocked(name, o)
	}
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.entries)), logx.Int("once", len(s.onces)))
}

// Stop disarms everything but keeps the registrations.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	for _, e := range s.entries {
		e.id = 0
	}
	for _, o := range s.onces {
		if o.timer != nil {
			o.timer.Stop()
			o.timer = nil
		}
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out", logx.Err(ctx.Err()))
	}
}

// Schedules lists every registration by name. Next is zero while stopped.
func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.entries)+len(s.onces))
	for _, e := range s.entries {
		it := ScheduleInfo{Name: e.name, Spec: e.spec, Timeout: e.timeout}
		if s.cron != nil && e.id != 0 {
			it.Next = s.cron.Entry(e.id).Next
		}
		out = append(out, it)
	}
	for name, o := range s.onces {
		out = append(out, ScheduleInfo{Name: name, Spec: "once", Timeout: o.timeout, Next: o.at})
	}
	slices.SortFunc(out, func(a, b ScheduleInfo) int { return cmp.Compare(a.Name, b.Name) })
	return out
}
