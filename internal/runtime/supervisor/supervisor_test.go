package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecoversPanicAndRecordsError(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	s.Go("boom", func(ctx context.Context) error { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatal("expected panic to surface as error")
	}
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go("fail", func(ctx context.Context) error { return errors.New("bad") })
	s.Go("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || err.Error() != "fail: bad" {
		t.Fatalf("Wait() = %v, want fail: bad", err)
	}
}

func TestGoRestartRestartsUntilSuccess(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	var runs int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.Wait(ctx)
	if got := atomic.LoadInt32(&runs); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
}

func TestGoRestartRecoversPanicWithoutCanceling(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	var runs int32
	s.GoRestart("panicky", func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			panic("first run")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithPublishFirstError(true))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || err.Error() != "panicky: panic: first run" {
		t.Fatalf("Wait() = %v", err)
	}
	if s.Context().Err() != nil {
		t.Fatal("restartable goroutine must not cancel the supervisor")
	}
	if got := atomic.LoadInt32(&runs); got != 2 {
		t.Fatalf("runs = %d, want 2", got)
	}
}
