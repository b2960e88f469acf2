// Package bot turns inbound group messages into replies: the Router filters
// for mentions and the Dispatcher parses the command grammar, runs the
// matching handler and sends its reply.
package bot

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kibot/internal/runtime/supervisor"
	"kibot/internal/service/bangumi"
	"kibot/internal/service/weather"
	"kibot/internal/subscription"
	kit "kibot/internal/transport"
	logx "kibot/pkg/logx"
)

type Config struct {
	Workers   int
	QueueSize int
	// Timeout bounds one handler, upstream calls included.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

type Sender interface {
	Send(ctx context.Context, to kit.ChatTarget, c kit.Content) error
}

type Chatter interface {
	Chat(ctx context.Context, text string) (string, error)
}

type WeatherAPI interface {
	Lookup(ctx context.Context, city string) (weather.Location, error)
	Now(ctx context.Context, locationID string) (weather.Now, error)
	Alerts(ctx context.Context, locationID string) ([]weather.Alert, error)
	ActiveStorms(ctx context.Context) ([]weather.Storm, error)
}

// WeatherPurger drops expired warning tokens; called after a subscribe.
type WeatherPurger interface {
	Purge(ctx context.Context) int
}

type AnimeAPI interface {
	Airing(ctx context.Context, weekday time.Weekday) ([]bangumi.Subject, error)
}

type CreatorChecker interface {
	Check(ctx context.Context, uid, group string) (found bool, others int, err error)
	SeedAsync(uid string)
}

// Deps are the collaborators of the dispatcher. A nil service disables the
// commands that need it.
type Deps struct {
	Sender Sender
	Chat   Chatter

	Weather      WeatherAPI
	WeatherSubs  *subscription.ListStore
	WeatherPurge WeatherPurger

	Anime     AnimeAPI
	AnimeSubs *subscription.FlagStore

	Creators    CreatorChecker
	CreatorSubs *subscription.ListStore

	CalendarSubs *subscription.FlagStore
	Specials     *subscription.SpecialDays

	Log logx.Logger
	Now func() time.Time
}

type Dispatcher struct {
	cfg    Config
	router *Router
	deps   Deps
	log    logx.Logger
	now    func() time.Time

	root *node
	chat Command

	// jobs is closed when Run returns, so a Dispatcher runs once.
	runMu   sync.Mutex
	running bool
	jobs    chan func()
}

func New(cfg Config, router *Router, deps Deps) *Dispatcher {
	cfg = cfg.withDefaults()
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	d := &Dispatcher{
		cfg:    cfg,
		router: router,
		deps:   deps,
		log:    log.With(logx.String("comp", "bot")),
		now:    now,
		root:   newNode(),
		jobs:   make(chan func(), cfg.QueueSize),
	}
	d.chat = Command{Route: "chat", Handle: d.handleChat}
	d.registerWeather()
	d.registerAnime()
	d.registerCreator()
	d.registerCalendar()
	return d
}

// container declares a command prefix that answers with usage when no
// sub-command follows. Extra names resolve to the same node.
func (d *Dispatcher) container(route, usage string, aliases ...string) {
	n := d.root.ensure(splitRoute(route))
	n.usage = usage
	for _, a := range aliases {
		d.root.link(a, n)
	}
}

func (d *Dispatcher) register(c Command) {
	d.root.add(splitRoute(c.Route), &c)
}

// resolve walks the command tree along the message tokens. Text whose first
// token is not a known prefix is chat.
func (d *Dispatcher) resolve(text string) (cmd *Command, usage string, args []string) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil, helpText(), nil
	}
	if first := foldKey(tokens[0]); first == "帮助" || first == "help" {
		return nil, helpText(), nil
	}
	cur, ok := d.root.child(tokens[0])
	if !ok {
		return &d.chat, "", tokens
	}
	args = tokens[1:]
	for len(args) > 0 {
		nxt, ok := cur.child(args[0])
		if !ok {
			break
		}
		cur = nxt
		args = args[1:]
	}
	if cur.cmd == nil {
		return nil, cur.usage, args
	}
	return cur.cmd, "", args
}

// Reply computes the answer to msg without sending it. ok is false when
// the message does not address the bot.
func (d *Dispatcher) Reply(ctx context.Context, msg *kit.Message) (reply string, ok bool) {
	if msg == nil || d.router == nil {
		return "", false
	}
	text, ok := d.router.Clean(msg.Text)
	if !ok {
		return "", false
	}
	cmd, usage, args := d.resolve(text)
	if cmd == nil {
		return usage, true
	}

	rid := uuid.NewString()
	group := strconv.FormatInt(msg.ChatID, 10)
	req := &Request{
		ID:       rid,
		GroupID:  msg.ChatID,
		Group:    group,
		UserID:   msg.FromID,
		UserName: msg.FromName,
		Text:     text,
		Command:  cmd.Route,
		Args:     args,
		Log: d.log.With(
			logx.String("rid", rid),
			logx.Int64("group_id", msg.ChatID),
			logx.Int64("user_id", msg.FromID),
		),
	}
	h := Chain(cmd.Handle,
		MWPanicRecover(),
		MWRequestLog(),
		MWTimeout(d.cfg.Timeout),
	)
	reply, err := h(ctx, req)
	if err != nil {
		return replyUnavailable, true
	}
	return reply, true
}

// Handle answers msg in its group. Messages that do not mention the bot are
// ignored.
func (d *Dispatcher) Handle(ctx context.Context, msg *kit.Message) {
	reply, ok := d.Reply(ctx, msg)
	if !ok || strings.TrimSpace(reply) == "" {
		return
	}
	d.send(ctx, msg.ChatID, reply)
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, text string) {
	if d.deps.Sender == nil {
		return
	}
	// The reply belongs to a request that already ran; let it out even if
	// the handler deadline has passed.
	ctx = context.WithoutCancel(ctx)
	if err := d.deps.Sender.Send(ctx, kit.ChatTarget{ChatID: chatID}, kit.Content{Text: text}); err != nil {
		d.log.Warn("reply send failed", logx.Int64("group_id", chatID), logx.Err(err))
	}
}

func (d *Dispatcher) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case d.jobs <- fn:
		return true
	default:
		return false
	}
}

// Run consumes updates until ctx is done or the channel closes. Messages
// are handled on a bounded worker pool; when the queue is full the group
// is told to retry.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan kit.Update) error {
	d.runMu.Lock()
	if d.running {
		d.runMu.Unlock()
		return errors.New("dispatcher already started")
	}
	d.running = true
	d.runMu.Unlock()

	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(d.log),
		supervisor.WithCancelOnError(false),
	)
	d.log.Info("dispatcher started", logx.Int("workers", d.cfg.Workers), logx.Int("queue_cap", cap(d.jobs)))

	for i := range d.cfg.Workers {
		idx := i
		sup.GoRestart("bot.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-d.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								d.log.Error("panic in dispatch job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		close(d.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		d.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			msg := up.Message
			if !d.tryEnqueue(func() { d.Handle(ctx, msg) }) {
				if _, addressed := d.router.Clean(msg.Text); addressed {
					d.send(ctx, msg.ChatID, replyBusy)
				}
			}
		}
	}
}

func (d *Dispatcher) handleChat(ctx context.Context, req *Request) (string, error) {
	if d.deps.Chat == nil {
		return replyDisabled, nil
	}
	return d.deps.Chat.Chat(ctx, req.Text)
}
