// Package napcat speaks OneBot v11 to a NapCat instance: push events arrive
// over a websocket and actions go out over HTTP.
package napcat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	rtsup "kibot/internal/runtime/supervisor"
	"kibot/internal/service"
	kit "kibot/internal/transport"
	logx "kibot/pkg/logx"
)

type Config struct {
	// WSURL is the forward websocket endpoint, e.g. ws://127.0.0.1:3001.
	WSURL string
	// HTTPURL is the HTTP action endpoint, e.g. http://127.0.0.1:3000.
	HTTPURL     string
	AccessToken string
	Timeout     time.Duration

	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func (c Config) withDefaults() Config {
	c.WSURL = strings.TrimSpace(c.WSURL)
	c.HTTPURL = strings.TrimRight(strings.TrimSpace(c.HTTPURL), "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = time.Second
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = 30 * time.Second
	}
	return c
}

type Adapter struct {
	cfg  Config
	http *http.Client
	log  logx.Logger

	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	droppedUpdates uint64
}

func New(cfg Config, hc *http.Client, log logx.Logger) (*Adapter, error) {
	cfg = cfg.withDefaults()
	if cfg.WSURL == "" || cfg.HTTPURL == "" {
		return nil, errors.New("napcat ws_url and http_url are required")
	}
	if hc == nil {
		hc = service.DefaultHTTPClient(cfg.Timeout)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, http: hc, log: log.With(logx.String("comp", "napcat"))}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	return a, nil
}

func (a *Adapter) header() http.Header {
	h := http.Header{}
	if a.cfg.AccessToken != "" {
		h.Set("Authorization", "Bearer "+a.cfg.AccessToken)
	}
	return h
}

// Self asks NapCat which account it is logged in as.
func (a *Adapter) Self(ctx context.Context) (kit.Identity, error) {
	var resp actionResponse[loginInfo]
	if err := service.GetJSON(ctx, a.http, a.cfg.HTTPURL+"/get_login_info", a.header(), &resp); err != nil {
		return kit.Identity{}, err
	}
	if !resp.ok() || resp.Data.UserID == 0 {
		return kit.Identity{}, service.Unavailable(nil, "get_login_info: %s", resp.describe())
	}
	id := strconv.FormatInt(resp.Data.UserID, 10)
	a.log.Info("logged in", logx.String("self_id", id), logx.String("nickname", resp.Data.Nickname))
	return kit.Identity{ID: id, Mention: MentionToken(id), Unescape: UnescapeText}, nil
}

// Send posts a group message. Text is CQ-escaped; an image is appended as
// a file segment on its own line.
func (a *Adapter) Send(ctx context.Context, to kit.ChatTarget, c kit.Content) error {
	msg := escapeText(c.Text)
	if c.Image != "" {
		seg, err := imageSegment(c.Image)
		if err != nil {
			return fmt.Errorf("image path: %w", err)
		}
		if msg != "" {
			msg += "\n"
		}
		msg += seg
	}
	var resp actionResponse[sentMessage]
	body := sendGroupMsg{GroupID: to.ChatID, Message: msg}
	if err := service.PostJSON(ctx, a.http, a.cfg.HTTPURL+"/send_group_msg", a.header(), body, &resp); err != nil {
		return err
	}
	if !resp.ok() {
		return service.Unavailable(nil, "send_group_msg to %d: %s", to.ChatID, resp.describe())
	}
	return nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})

	// A dropped connection returns an error and is redialled with backoff.
	sup.GoRestart("napcat.ws", a.consume,
		rtsup.WithRestartBackoff(a.cfg.ReconnectMin, a.cfg.ReconnectMax),
		rtsup.WithStopOnCleanExit(true),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("napcat stop", logx.Err(err))
	}
	return nil
}

// consume holds one websocket session. It returns nil only when ctx ends.
func (a *Adapter) consume(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = a.cfg.Timeout
	conn, _, err := dialer.DialContext(ctx, a.cfg.WSURL, a.header())
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("dial %s: %w", a.cfg.WSURL, err)
	}
	defer conn.Close()
	a.log.Info("websocket connected", logx.String("url", a.cfg.WSURL))

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.log.Warn("websocket read failed", logx.Err(err))
			return fmt.Errorf("read: %w", err)
		}
		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			a.log.Debug("undecodable event", logx.Err(err))
			continue
		}
		if !ev.isGroupMessage() {
			continue
		}
		a.emit(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:       ev.MessageID,
				ChatID:   ev.GroupID,
				FromID:   ev.UserID,
				FromName: ev.senderName(),
				Text:     ev.RawMessage,
			},
		})
	}
}

func (a *Adapter) emit(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}
