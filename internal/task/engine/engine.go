// Package engine executes tasks on a bounded worker pool. The scheduler and
// ad hoc callers such as baseline seeding enqueue work here; timeouts,
// retries and overlap gating are applied per task.
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped: previous run still pending")
)

// Config is mapped from the task_engine config section.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout applies to tasks without their own.
	DefaultTimeout time.Duration
	// MaxQueueDelay drops tasks that waited longer than this. 0 keeps them.
	MaxQueueDelay time.Duration

	RetryMax int
}

type OverlapPolicy int

const (
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

type TaskOptions struct {
	Overlap OverlapPolicy
	// RetryMax < 0 disables retries; 0 takes Config.RetryMax.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64
}

func (o TaskOptions) resolve(cfg Config) TaskOptions {
	switch {
	case o.RetryMax < 0:
		o.RetryMax = 0
	case o.RetryMax == 0:
		o.RetryMax = max(cfg.RetryMax, 0)
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	if o.Overlap != OverlapAllow {
		o.Overlap = OverlapSkipIfRunning
	}
	return o
}

// RunState gates OverlapSkipIfRunning: a task counts as busy from the moment
// it is queued until its last attempt returns. A nil RunState never blocks.
type RunState struct {
	busy atomic.Bool
}

func (r *RunState) acquire() bool { return r == nil || r.busy.CompareAndSwap(false, true) }

func (r *RunState) release() {
	if r != nil {
		r.busy.Store(false)
	}
}

// Task is one unit of work. Tasks with the same Name share a RunState
// unless State is set.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
	State   *RunState
}

// TaskEvent is the Data of task.* bus events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

type noRetry struct{ err error }

func (e noRetry) Error() string { return e.err.Error() }
func (e noRetry) Unwrap() error { return e.err }

// NoRetry makes the engine give up on the task after this attempt. Push
// ticks use it once a message went out, so a retry never re-sends.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetry{err: err}
}

func IsNoRetry(err error) bool {
	var nr noRetry
	return errors.As(err, &nr)
}

// retryHinter is implemented by errors that know how long to back off,
// for example an HTTP 429 with Retry-After.
type retryHinter interface {
	RetryAfter() time.Duration
}
