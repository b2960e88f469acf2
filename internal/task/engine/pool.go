package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"kibot/internal/eventbus"
	rtsup "kibot/internal/runtime/supervisor"
	logx "kibot/pkg/logx"
)

const dropWarnEvery = 5 * time.Second

// Service owns the worker pool. Start and Stop may be called repeatedly;
// each Start builds a fresh queue.
type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu  sync.Mutex
	cfg Config
	cur *pool

	states sync.Map // task name -> *RunState
	seq    atomic.Uint64

	dropped   atomic.Uint64
	warnFull  rate.Sometimes
	warnStale rate.Sometimes
}

type pool struct {
	queue chan job
	quit  chan struct{}
	sup   *rtsup.Supervisor
}

type job struct {
	task    Task
	queued  time.Time
	timeout time.Duration
	opt     TaskOptions
	state   *RunState // nil unless overlap-gated
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		warnFull:  rate.Sometimes{Interval: dropWarnEvery},
		warnStale: rate.Sometimes{Interval: dropWarnEvery},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start launches the workers under a supervisor that restarts a worker
// which died, without canceling the rest of the bot.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.cur != nil {
		return
	}
	p := &pool{
		queue: make(chan job, s.cfg.QueueSize),
		quit:  make(chan struct{}),
		sup: rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(s.log.With(logx.String("comp", "taskengine"))),
			rtsup.WithCancelOnError(false),
		),
	}
	for i := range s.cfg.Workers {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.work(c, p)
			if c.Err() != nil {
				return c.Err()
			}
			if closed(p.quit) {
				return nil
			}
			return errors.New("worker exited")
		}, rtsup.WithPublishFirstError(true))
	}
	s.cur = p
	s.log.Info("task engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop rejects new work and waits for running tasks until ctx is done.
// Queued tasks that have not started are abandoned.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	p := s.cur
	s.cur = nil
	s.mu.Unlock()
	if p == nil {
		return
	}
	close(p.quit)
	p.sup.Cancel()
	if err := p.sup.Wait(ctx); ctx.Err() != nil {
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
		return
	} else if err != nil {
		s.log.Warn("task engine stopped after worker failure", logx.Err(err))
		return
	}
	s.log.Info("task engine stopped")
}

// Enqueue hands t to the pool without blocking.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return errors.New("task run is nil")
	}
	if t.Name = strings.TrimSpace(t.Name); t.Name == "" {
		return errors.New("task name is required")
	}
	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = fmt.Sprintf("t%x.%d", now.UnixNano(), s.seq.Add(1))
	}

	s.mu.Lock()
	cfg, p := s.cfg, s.cur
	s.mu.Unlock()
	switch {
	case !cfg.Enabled:
		return ErrDisabled
	case p == nil:
		return ErrStopped
	case closed(p.quit):
		return ErrStopping
	}

	j := job{task: t, queued: now, timeout: t.Timeout, opt: t.Opt.resolve(cfg)}
	if j.timeout <= 0 {
		j.timeout = cfg.DefaultTimeout
	}
	if j.opt.Overlap == OverlapSkipIfRunning {
		j.state = t.State
		if j.state == nil {
			v, _ := s.states.LoadOrStore(t.Name, &RunState{})
			j.state = v.(*RunState)
		}
		if !j.state.acquire() {
			s.emit(eventbus.TypeTaskSkipped, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "overlap_skip"})
			return ErrOverlapSkip
		}
	}

	select {
	case p.queue <- j:
		return nil
	default:
	}
	j.state.release()
	s.dropped.Add(1)
	s.emit(eventbus.TypeTaskDropped, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "queue_full"})
	s.warnFull.Do(func() {
		s.log.Warn("task dropped: queue full", logx.String("task", t.Name), logx.Int("queue_cap", cap(p.queue)), logx.Uint64("dropped", s.dropped.Load()))
	})
	return ErrQueueFull
}

func (s *Service) emit(typ string, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
	}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
