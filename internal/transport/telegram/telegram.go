// Package telegram is the alternate transport: long-polls Telegram with
// telebot and maps group text messages and sends onto the transport boundary.
package telegram

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "kibot/internal/runtime/supervisor"
	kit "kibot/internal/transport"
	logx "kibot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	// out is nil while stopped; updates arriving then are discarded.
	out      atomic.Pointer[chan<- kit.Update]
	dropped  atomic.Uint64
	dropWarn rate.Sometimes

	mu  sync.Mutex
	sup *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	// NewBot resolves the account with getMe, so a bad token fails here.
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telebot: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b, dropWarn: rate.Sometimes{Interval: 5 * time.Second}}
	b.Handle(tele.OnText, a.onText)
	return a, nil
}

// onText forwards group text messages. Private chats carry no
// subscriptions and are ignored.
func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil || m.Sender == nil {
		return nil
	}
	if m.Chat.Type != tele.ChatGroup && m.Chat.Type != tele.ChatSuperGroup {
		return nil
	}
	name := cmp.Or(m.Sender.Username, m.Sender.FirstName)
	out := a.out.Load()
	if out == nil {
		return nil
	}
	select {
	case *out <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID:       int64(m.ID),
		ChatID:   m.Chat.ID,
		FromID:   m.Sender.ID,
		FromName: name,
		Text:     m.Text,
	}}:
	default:
		n := a.dropped.Add(1)
		a.dropWarn.Do(func() {
			a.log.Warn("incoming update dropped, consumer behind", logx.Uint64("dropped_total", n))
		})
	}
	return nil
}

// Self reports the bot account; the mention token is "@username".
func (a *Adapter) Self(context.Context) (kit.Identity, error) {
	me := a.bot.Me
	if me == nil || me.Username == "" {
		return kit.Identity{}, errors.New("telegram identity unavailable")
	}
	return kit.Identity{ID: strconv.FormatInt(me.ID, 10), Mention: "@" + me.Username}, nil
}

// Start begins long polling under a supervisor. telebot's poll loop can
// return on its own; it is restarted with backoff while ctx lives.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.out.Store(&out)
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	a.sup.GoRestart("telebot.poll", func(context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop waits at most two seconds for the poller: a pending getUpdates
// only returns when its long-poll timeout expires.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.mu.Unlock()
	a.out.Store(nil)
	if sup == nil {
		return nil
	}
	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && wctx.Err() != nil {
		a.log.Warn("telegram stop timed out", logx.Err(err))
	}
	return nil
}

const textLimit = 4000

// Send posts c to the chat. An image goes as a photo with the text as its
// caption; long text is split into chunks.
func (a *Adapter) Send(ctx context.Context, to kit.ChatTarget, c kit.Content) error {
	chat := &tele.Chat{ID: to.ChatID}
	if c.Image != "" {
		photo := &tele.Photo{File: tele.FromDisk(c.Image), Caption: c.Text}
		_, err := a.bot.Send(chat, photo)
		return err
	}
	for _, chunk := range splitText(c.Text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(chat, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return err
		}
	}
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
