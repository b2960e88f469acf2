package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "kibot/internal/transport"
)

// Sender is the outbound half of a transport adapter.
type Sender interface {
	Send(ctx context.Context, to kit.ChatTarget, c kit.Content) error
}

const (
	chatQueue    = 256
	chatTimeout  = 10 * time.Second
	chatMaxLen   = 3500
	chatFieldMax = 600
	chatStackMax = 900
)

// chatSink is a zerolog LevelWriter that hands records to a background
// goroutine. A full queue or an exhausted rate drops the record; logging
// never waits on the network.
type chatSink struct {
	mu      sync.Mutex
	sender  Sender
	group   int64
	min     zerolog.Level
	limiter *rate.Limiter

	queue   chan chatRecord
	startMu sync.Once
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type chatRecord struct {
	to   kit.ChatTarget
	text string
}

func newChatSink(sender Sender) *chatSink {
	return &chatSink{sender: sender, queue: make(chan chatRecord, chatQueue), min: zerolog.WarnLevel}
}

func (c *chatSink) setSender(s Sender) {
	c.mu.Lock()
	c.sender = s
	c.mu.Unlock()
}

func (c *chatSink) configure(cfg ChatConfig) {
	perSec := max(cfg.RatePerSec, 1)
	c.mu.Lock()
	c.group = cfg.GroupID
	c.min = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	c.mu.Unlock()
	if cfg.Enabled {
		c.startMu.Do(c.start)
	}
}

func (c *chatSink) start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-c.queue:
				c.mu.Lock()
				sender := c.sender
				c.mu.Unlock()
				if sender == nil {
					continue
				}
				sctx, done := context.WithTimeout(ctx, chatTimeout)
				_ = sender.Send(sctx, r.to, kit.Content{Text: r.text})
				done()
			}
		}
	}()
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.NoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	group, lim, ready := c.group, c.limiter, c.sender != nil
	pass := level >= c.min && level != zerolog.NoLevel
	c.mu.Unlock()

	if !pass || !ready || group == 0 || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	if text := formatChatJSON(p); text != "" {
		select {
		case c.queue <- chatRecord{to: kit.ChatTarget{ChatID: group}, text: text}:
		default:
		}
	}
	return len(p), nil
}

// formatChatJSON renders one zerolog JSON line as "[LEVEL] message" followed
// by "- key=value" lines in key order.
func formatChatJSON(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(strings.TrimSpace(string(p)), chatMaxLen)
	}
	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)
	for _, k := range slices.Sorted(maps.Keys(m)) {
		switch k {
		case "time", "level", zerolog.MessageFieldName:
		case "stack":
			b.WriteString("\n- stack=\n" + clip(fmt.Sprint(m[k]), chatStackMax))
		default:
			b.WriteString("\n- " + k + "=" + clip(fmt.Sprint(m[k]), chatFieldMax))
		}
	}
	return clip(b.String(), chatMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
