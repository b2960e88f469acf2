// Package eventbus is an in-process fanout of small events between
// components that should not import each other: the task engine, the
// notifier, the push jobs and the app's event log.
package eventbus

import (
	"sync"
	"time"
)

// Event.Type values published inside kibot.
const (
	TypeMessageSent   = "notifier.sent"
	TypeMessageFailed = "notifier.failed"
	TypeTaskStarted   = "task.started"
	TypeTaskFinished  = "task.finished"
	TypeTaskFailed    = "task.failed"
	TypeTaskSkipped   = "task.skipped"
	TypeTaskDropped   = "task.dropped"
	TypePushDelivered = "push.delivered"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// PushDelivered is the Data of a TypePushDelivered event.
type PushDelivered struct {
	Category string `json:"category"`
	GroupID  int64  `json:"group_id"`
	Key      string `json:"key,omitempty"`
}

// Bus never blocks a publisher: a subscriber whose buffer is full misses
// the event.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus { return &fanout{} }

type fanout struct {
	mu   sync.RWMutex
	subs []chan Event
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Unsubscribe closes under the write lock, so no send races a close.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, c := range b.subs {
				if c == ch {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
}
