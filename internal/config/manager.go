package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "kibot/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	validateTimeout = 5 * time.Second
	watchRetryMin   = 250 * time.Millisecond
	watchRetryMax   = 5 * time.Second
)

// ConfigManager owns the config file: strict parsing, the env overlay for
// secrets and hot reload through fsnotify.
type ConfigManager struct {
	path string

	mu   sync.RWMutex
	cfg  *Config
	hash uint64

	// subsMu is held while publishing so Unsubscribe never closes a channel
	// mid-send.
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path:      path,
		log:       logx.Nop(),
		validator: func(_ context.Context, cfg *Config) error { return Validate(cfg) },
	}
}

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

// SetValidator replaces the check a reloaded config must pass before it is
// committed and published.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads and decodes the file without validating or committing it.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return decode(m.path, b)
}

// Load parses and validates the file and commits it as current.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.commit(cfg, hashConfig(cfg))
	return cfg, nil
}

func (m *ConfigManager) commit(cfg *Config, h uint64) {
	m.mu.Lock()
	m.cfg, m.hash = cfg, h
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel that receives every published config. A slow
// subscriber loses older configs, never the newest.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	n := len(m.subs)
	m.subs = slices.DeleteFunc(m.subs, func(c chan *Config) bool { return c == ch })
	if len(m.subs) != n {
		close(ch)
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				// Full: drop the oldest and try again.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// reload runs after a debounced change: parse, skip if unchanged, validate,
// then commit and publish. A bad file keeps the current config.
func (m *ConfigManager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed; keeping current", logx.String("path", m.path), logx.Err(err))
		return
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	same := h != 0 && h == m.hash
	m.mu.RUnlock()
	if same {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}
	m.commit(cfg, h)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%x", h)))
}

// Watch reloads the file on change until ctx is done. The directory is
// watched rather than the file so editors that replace it by rename are
// seen. A broken watcher is recreated with backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	delay := watchRetryMin
	for ctx.Err() == nil {
		started := time.Now()
		err := m.watchOnce(ctx)
		if err == nil {
			return nil
		}
		if time.Since(started) > time.Minute {
			delay = watchRetryMin
		}
		m.log.Warn("config watcher failed", logx.Err(err), logx.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, watchRetryMax)
	}
	return nil
}

// watchOnce returns nil only when ctx is done.
func (m *ConfigManager) watchOnce(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watcher events closed")
			}
			if !strings.EqualFold(filepath.Base(ev.Name), name) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
			} else {
				debounce.Reset(reloadDebounce)
			}
			fire = debounce.C
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watcher errors closed")
			}
			m.log.Warn("config watcher error", logx.Err(err))
		case <-fire:
			fire = nil
			m.reload(ctx)
		}
	}
}
