package scheduler

import (
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStagger = 30 * time.Second

// staggered pushes the first run of an interval schedule back by a random
// offset, so pollers registered in the same second do not fire together.
type staggered struct {
	every cron.ConstantDelaySchedule
	first time.Time
}

func (s staggered) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.every.Next(t)
}

func stagger(every cron.ConstantDelaySchedule, now time.Time) (cron.Schedule, time.Duration) {
	window := min(every.Delay, maxStagger)
	if window <= 0 {
		return every, 0
	}
	offset := rand.N(window)
	return staggered{every: every, first: now.Add(every.Delay + offset)}, offset
}
