package notifier

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"kibot/internal/eventbus"
	kit "kibot/internal/transport"
	logx "kibot/pkg/logx"
)

var ErrNoAdapter = errors.New("notifier: no adapter")

// Config is mapped from the notifier section and may change at runtime.
type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	CallTimeout   time.Duration // per adapter call
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	return c
}

// NotificationEvent is the Data of notifier.sent and notifier.failed events.
type NotificationEvent struct {
	ChatID   int64     `json:"chat_id"`
	Attempts int       `json:"attempts"`
	Image    bool      `json:"image,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

type Service struct {
	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log, bus: bus}
	s.Apply(cfg)
	return s
}

// Apply replaces limits and retry settings. Sends in flight keep the old ones.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	// Burst equals the per-second rate so a short reply burst is not delayed.
	lim := rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Lock()
	s.cfg, s.limiter = cfg, lim
	s.mu.Unlock()
}

// Send delivers c to the chat. Blank content is a successful no-op. The
// error is the last adapter error once every attempt failed.
func (s *Service) Send(ctx context.Context, to kit.ChatTarget, c kit.Content) error {
	if strings.TrimSpace(c.Text) == "" && c.Image == "" {
		return nil
	}
	if s.adapter == nil {
		return ErrNoAdapter
	}
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	ev := NotificationEvent{ChatID: to.ChatID, Image: c.Image != ""}
	var err error
	for ev.Attempts = 1; ; ev.Attempts++ {
		if err = lim.Wait(ctx); err != nil {
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		err = s.adapter.Send(callCtx, to, c)
		cancel()
		if err == nil {
			s.emit(eventbus.TypeMessageSent, ev)
			return nil
		}
		s.log.Debug("send attempt failed", logx.Int64("chat_id", to.ChatID), logx.Int("attempt", ev.Attempts), logx.Err(err))
		if ev.Attempts > cfg.RetryMax {
			break
		}
		if werr := sleep(ctx, retryDelay(cfg, ev.Attempts)); werr != nil {
			err = werr
			break
		}
	}

	s.log.Warn("send failed", logx.Int64("chat_id", to.ChatID), logx.Int("attempts", ev.Attempts), logx.Err(err))
	ev.Error = err.Error()
	s.emit(eventbus.TypeMessageFailed, ev)
	return err
}

func (s *Service) emit(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	ev.At = time.Now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// retryDelay is the wait after the given failed attempt: doubling from
// RetryBase, scaled by a random 0.7 to 1.3, never above RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(min(d, cfg.RetryMaxDelay)) * (0.7 + 0.6*rand.Float64()))
	return min(max(d, 0), cfg.RetryMaxDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
