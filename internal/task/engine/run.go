package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"kibot/internal/eventbus"
	logx "kibot/pkg/logx"
)

// slowTask is the duration above which completions are logged at info.
const slowTask = 750 * time.Millisecond

func (s *Service) work(ctx context.Context, p *pool) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case j := <-p.queue:
			if closed(p.quit) {
				j.state.release()
				return
			}
			s.exec(ctx, p.quit, j)
		}
	}
}

func (s *Service) exec(ctx context.Context, quit <-chan struct{}, j job) {
	defer j.state.release()

	start := time.Now()
	ev := TaskEvent{ID: j.task.ID, Name: j.task.Name, Started: start, QueueDelay: max(start.Sub(j.queued), 0)}

	s.mu.Lock()
	staleAfter := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if staleAfter > 0 && ev.QueueDelay > staleAfter {
		s.dropped.Add(1)
		ev.Error = "stale_queue_delay"
		s.emit(eventbus.TypeTaskDropped, ev)
		s.warnStale.Do(func() {
			s.log.Warn("task dropped: waited too long", logx.String("task", j.task.Name), logx.Duration("queue_delay", ev.QueueDelay))
		})
		return
	}
	s.emit(eventbus.TypeTaskStarted, ev)

	var err error
	for ev.Attempts = 1; ; ev.Attempts++ {
		if err = s.attempt(ctx, j); err == nil {
			break
		}
		var nr noRetry
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if ev.Attempts > j.opt.RetryMax {
			break
		}
		delay := retryDelay(j.opt, ev.Attempts, err)
		s.log.Debug("task retry", logx.String("task", j.task.Name), logx.Int("attempt", ev.Attempts+1), logx.Duration("delay", delay), logx.Err(err))
		if werr := pause(ctx, quit, delay); werr != nil {
			err = werr
			break
		}
	}

	ev.Duration = time.Since(start)
	log := s.log.With(logx.String("task", j.task.Name), logx.Duration("dur", ev.Duration), logx.Int("attempts", ev.Attempts))
	switch {
	case err != nil:
		ev.Error = err.Error()
		log.Warn("task failed", logx.Err(err))
		s.emit(eventbus.TypeTaskFailed, ev)
		return
	case ev.Duration >= slowTask:
		log.Info("task completed")
	default:
		log.Debug("task completed")
	}
	s.emit(eventbus.TypeTaskFinished, ev)
}

// attempt runs the task once. A panic is reported as a NoRetry error.
func (s *Service) attempt(ctx context.Context, j job) (err error) {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked", logx.String("task", j.task.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = NoRetry(fmt.Errorf("panic: %v", r))
		}
	}()
	return j.task.Run(ctx)
}

// retryDelay doubles from RetryBase per failed attempt, or follows the
// error's own hint, capped at RetryMaxDelay either way.
func retryDelay(opt TaskOptions, attempt int, err error) time.Duration {
	d := opt.RetryBase
	for i := 1; i < attempt && d < opt.RetryMaxDelay; i++ {
		d *= 2
	}
	var h retryHinter
	if errors.As(err, &h) {
		d = max(h.RetryAfter(), 0)
	}
	d = min(d, opt.RetryMaxDelay)
	if opt.RetryJitter > 0 && d > 0 {
		d = time.Duration(float64(d) * (1 + (rand.Float64()*2-1)*opt.RetryJitter))
	}
	return min(max(d, 0), opt.RetryMaxDelay)
}

func pause(ctx context.Context, quit <-chan struct{}, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-quit:
		return ErrStopping
	case <-t.C:
		return nil
	}
}
