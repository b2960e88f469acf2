package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"kibot/internal/task/engine"
	logx "kibot/pkg/logx"
)

const enqueueWarnEvery = 5 * time.Second

// AddCron registers job under name, replacing any registration (recurring
// or one-shot) with the same name.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if err := check(name, job); err != nil {
		return "", err
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("schedule %q: %w", name, err)
	}
	e := &entry{name: name, spec: spec, timeout: timeout, job: job, state: &engine.RunState{}}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(name)
	s.entries[name] = e
	if s.cron != nil {
		s.armLocked(e)
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout))
	return name, nil
}

// AddInterval runs job every period. The first run is staggered.
func (s *Service) AddInterval(name string, every, timeout time.Duration, job Job) (string, error) {
	if every <= 0 {
		return "", fmt.Errorf("schedule %q: interval must be positive", name)
	}
	return s.AddCron(name, "@every "+every.String(), timeout, job)
}

// AddDaily runs job every day at HH:MM in the scheduler's zone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job Job) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", fmt.Errorf("schedule %q: %w", name, err)
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

// AddOnce runs job at the given instant, immediately if it has passed.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if err := check(name, job); err != nil {
		return "", err
	}
	if at.IsZero() {
		return "", fmt.Errorf("schedule %q: time required", name)
	}
	o := &once{at: at, timeout: timeout, job: job}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(name)
	s.onces[name] = o
	if s.cron != nil {
		s.armOnceLocked(name, o)
	}
	s.log.Debug("once registered", logx.String("name", name), logx.Time("at", at))
	return name, nil
}

// Remove drops the registration under name and reports whether one existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.dropLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func check(name string, job Job) error {
	if name == "" {
		return errors.New("schedule name required")
	}
	if job == nil {
		return fmt.Errorf("schedule %q: job required", name)
	}
	return nil
}

func (s *Service) dropLocked(name string) bool {
	removed := false
	if e, ok := s.entries[name]; ok {
		if s.cron != nil && e.id != 0 {
			s.cron.Remove(e.id)
		}
		delete(s.entries, name)
		removed = true
	}
	if o, ok := s.onces[name]; ok {
		if o.timer != nil {
			o.timer.Stop()
		}
		delete(s.onces, name)
		removed = true
	}
	return removed
}

func (s *Service) armLocked(e *entry) {
	sched, err := s.parser.Parse(e.spec)
	if err != nil {
		s.log.Error("schedule not armed", logx.String("name", e.name), logx.String("spec", e.spec), logx.Err(err))
		return
	}
	if every, ok := sched.(cron.ConstantDelaySchedule); ok {
		var offset time.Duration
		sched, offset = stagger(every, time.Now().In(s.loc))
		s.log.Debug("interval staggered", logx.String("name", e.name), logx.Duration("offset", offset))
	}
	task := engine.Task{Name: e.name, Timeout: e.timeout, Run: e.job, State: e.state}
	e.id = s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(task) }))
}

func (s *Service) armOnceLocked(name string, o *once) {
	o.timer = time.AfterFunc(max(time.Until(o.at), 0), func() {
		s.mu.Lock()
		// Replaced or removed since this timer was armed.
		if s.onces[name] != o {
			s.mu.Unlock()
			return
		}
		delete(s.onces, name)
		s.mu.Unlock()
		s.fire(engine.Task{Name: name, Timeout: o.timeout, Run: o.job, State: &engine.RunState{}})
	})
}

// fire hands t to the engine. A run still in flight is a normal skip;
// other rejections are logged at most once per enqueueWarnEvery per name.
func (s *Service) fire(t engine.Task) {
	if s.eng == nil {
		return
	}
	err := s.eng.Enqueue(t)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrOverlapSkip):
		s.log.Debug("schedule skipped, previous run pending", logx.String("name", t.Name))
	default:
		s.warnMu.Lock()
		sm := s.warn[t.Name]
		if sm == nil {
			sm = &rate.Sometimes{Interval: enqueueWarnEvery}
			s.warn[t.Name] = sm
		}
		s.warnMu.Unlock()
		sm.Do(func() {
			s.log.Warn("schedule not enqueued", logx.String("name", t.Name), logx.Err(err))
		})
	}
}

func parseHHMM(v string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", v)
	}
	return t.Hour(), t.Minute(), nil
}
