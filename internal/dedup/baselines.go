// Package dedup holds the persisted markers that keep pushes from repeating:
// the last seen update per creator and the warning tokens already delivered
// per group.
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"kibot/internal/storage"
	logx "kibot/pkg/logx"
)

// Baselines maps a creator id to the id of the newest update already pushed.
// Persisted as {"<uid>": "<dynamic id>"}.
type Baselines struct {
	name  string
	store storage.Store
	log   logx.Logger

	mu  sync.RWMutex
	ids map[string]string
	wmu sync.Mutex
}

func NewBaselines(name string, st storage.Store, log logx.Logger) *Baselines {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Baselines{name: name, store: st, log: log.With(logx.String("doc", name)), ids: map[string]string{}}
}

func (b *Baselines) Load(ctx context.Context) error {
	var raw map[string]string
	if err := loadJSON(ctx, b.store, b.name, b.log, &raw); err != nil {
		return err
	}
	ids := make(map[string]string, len(raw))
	for uid, id := range raw {
		uid, id = strings.TrimSpace(uid), strings.TrimSpace(id)
		if uid != "" && id != "" {
			ids[uid] = id
		}
	}
	b.mu.Lock()
	b.ids = ids
	b.mu.Unlock()
	return nil
}

// Get returns the stored marker for uid and whether one exists.
func (b *Baselines) Get(uid string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.ids[strings.TrimSpace(uid)]
	return id, ok
}

// Set stores id as uid's marker and persists.
func (b *Baselines) Set(ctx context.Context, uid, id string) {
	uid, id = strings.TrimSpace(uid), strings.TrimSpace(id)
	if uid == "" || id == "" {
		return
	}
	b.mu.Lock()
	if b.ids[uid] == id {
		b.mu.Unlock()
		return
	}
	b.ids[uid] = id
	b.mu.Unlock()
	b.save(ctx)
}

// SetIfAbsent stores id only when uid has no marker yet. It reports whether
// the marker was written.
func (b *Baselines) SetIfAbsent(ctx context.Context, uid, id string) bool {
	uid, id = strings.TrimSpace(uid), strings.TrimSpace(id)
	if uid == "" || id == "" {
		return false
	}
	b.mu.Lock()
	if _, ok := b.ids[uid]; ok {
		b.mu.Unlock()
		return false
	}
	b.ids[uid] = id
	b.mu.Unlock()
	b.save(ctx)
	return true
}

func (b *Baselines) save(ctx context.Context) {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	b.mu.RLock()
	snap := make(map[string]string, len(b.ids))
	for k, v := range b.ids {
		snap[k] = v
	}
	b.mu.RUnlock()
	saveJSON(ctx, b.store, b.name, b.log, snap)
}

func loadJSON(ctx context.Context, st storage.Store, name string, log logx.Logger, v any) error {
	if st == nil {
		return nil
	}
	raw, err := st.Load(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		log.Warn("document load failed", logx.Err(err))
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		log.Warn("document corrupt; treating as empty", logx.Err(err), logx.Int("bytes", len(raw)))
		return nil
	}
	return nil
}

func saveJSON(ctx context.Context, st storage.Store, name string, log logx.Logger, v any) {
	if st == nil {
		return
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Error("document encode failed", logx.Err(err))
		return
	}
	if err := st.Save(context.WithoutCancel(ctx), name, raw); err != nil {
		log.Warn("document save failed; keeping in-memory state", logx.Err(err))
	}
}
