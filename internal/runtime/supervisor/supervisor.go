// Package supervisor runs named goroutines on a shared context. Panics are
// recovered and reported as errors; long-running loops can be restarted
// with backoff.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	logx "kibot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	wg       sync.WaitGroup
	mu       sync.Mutex
	firstErr error
	done     chan struct{}
}

type SupervisorOption func(*Supervisor)

func WithLogger(log logx.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first failure.
func WithCancelOnError(enabled bool) SupervisorOption {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func NewSupervisor(parent context.Context, opts ...SupervisorOption) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first failure recorded, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
	if s.cancelOnErr {
		s.cancel()
	}
}

// protect runs fn and turns a panic into an error.
func (s *Supervisor) protect(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

// Go runs fn once. A non-nil error other than cancellation is recorded.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Debug("goroutine started", logx.String("name", name))
		if err := s.protect(name, fn); err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

type RestartOption func(*restartCfg)

type restartCfg struct {
	min, max     time.Duration
	publishErr   bool
	stopOnNilErr bool
}

// WithRestartBackoff bounds the exponential delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.min = min
		}
		if max > 0 {
			c.max = max
		}
	}
}

// WithPublishFirstError records the first restart cause as the supervisor
// error. The context is never canceled by a restartable goroutine.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(c *restartCfg) { c.publishErr = enabled }
}

// WithStopOnCleanExit ends the loop when fn returns nil (the default).
// Disabled, a nil return restarts like an error.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(c *restartCfg) { c.stopOnNilErr = enabled }
}

// healthyRun resets the backoff after a run this long.
const healthyRun = 30 * time.Second

// GoRestart runs fn until the context ends, restarting it after errors and
// panics. Used for websocket readers, pollers and worker loops.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{min: 250 * time.Millisecond, max: 30 * time.Second, stopOnNilErr: true}
	for _, o := range opts {
		o(&cfg)
	}
	cfg.max = max(cfg.max, cfg.min)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		delay := cfg.min
		for s.ctx.Err() == nil {
			started := time.Now()
			err := s.protect(name, fn)
			if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				if cfg.stopOnNilErr {
					return
				}
				err = errors.New("exited")
			}
			if cfg.publishErr {
				s.mu.Lock()
				if s.firstErr == nil {
					s.firstErr = fmt.Errorf("%s: %w", name, err)
				}
				s.mu.Unlock()
			}

			if time.Since(started) >= healthyRun {
				delay = cfg.min
			}
			wait := delay + jitter(delay)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			delay = min(delay*2, cfg.max)
		}
	}()
}

// jitter adds up to 20%.
func jitter(d time.Duration) time.Duration {
	if j := int64(d) / 5; j > 0 {
		return time.Duration(rand.Int64N(j + 1))
	}
	return 0
}

// Wait blocks until every goroutine returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.done == nil {
		s.done = make(chan struct{})
		go func(ch chan struct{}) {
			s.wg.Wait()
			close(ch)
		}(s.done)
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return s.Err()
	}
}
