// Package push holds the proactive schedulers: daily weather forecast and
// warning polling, the daily anime schedule, creator dynamic polling and the
// calendar greeting. Each owns its registrations on a Scheduler, reads its
// subscription store and sends through a Sender.
package push

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"kibot/internal/eventbus"
	"kibot/internal/task/engine"
	kit "kibot/internal/transport"
	logx "kibot/pkg/logx"
)

// Scheduler is the subset of the task scheduler the push jobs register on.
type Scheduler interface {
	AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddOnce(name string, at time.Time, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
}

// Registrar is implemented by every push scheduler.
type Registrar interface {
	Register(s Scheduler) error
}

type Sender interface {
	Send(ctx context.Context, to kit.ChatTarget, c kit.Content) error
}

// Deps are the collaborators every push scheduler shares.
type Deps struct {
	Sender Sender
	Bus    eventbus.Bus
	Log    logx.Logger
	// Now must return time in the scheduler's timezone.
	Now func() time.Time
}

type base struct {
	category string
	send     Sender
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time
}

func newBase(category string, d Deps) base {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return base{
		category: category,
		send:     d.Sender,
		bus:      d.Bus,
		log:      log.With(logx.String("push", category)),
		now:      now,
	}
}

// deliver sends c to group and announces the delivery on the bus.
func (b *base) deliver(ctx context.Context, group string, c kit.Content, key string) error {
	id, err := ParseGroup(group)
	if err != nil {
		return err
	}
	if err := b.send.Send(ctx, kit.ChatTarget{ChatID: id}, c); err != nil {
		return err
	}
	if b.bus != nil {
		b.bus.Publish(eventbus.Event{
			Type: eventbus.TypePushDelivered,
			Time: time.Now(),
			Data: eventbus.PushDelivered{Category: b.category, GroupID: id, Key: key},
		})
	}
	return nil
}

// ParseGroup converts a stored group key to a chat id.
func ParseGroup(group string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(group), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("group %q is not a numeric chat id", group)
	}
	return id, nil
}

// tally counts sends within one tick. A tick that already delivered
// something must not be retried wholesale, so its error is marked NoRetry.
type tally struct {
	sent   int
	failed int
	last   error
}

func (t *tally) record(err error) {
	if err != nil {
		t.failed++
		t.last = err
		return
	}
	t.sent++
}

func (t *tally) err() error {
	if t.failed == 0 {
		return nil
	}
	err := fmt.Errorf("%d of %d sends failed: %w", t.failed, t.sent+t.failed, t.last)
	if t.sent > 0 {
		return engine.NoRetry(err)
	}
	return err
}

// stopped ends a tick whose context is done. Deliveries already made stand,
// so the tick is retried only when nothing went out.
func (t *tally) stopped(cause error) error {
	err := fmt.Errorf("tick stopped after %d sends: %w", t.sent, cause)
	if t.sent > 0 {
		return engine.NoRetry(err)
	}
	return err
}
