package dedup

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"kibot/internal/storage"
	logx "kibot/pkg/logx"
)

// WarningTokens is the per-group set of delivered alert tokens.
// Persisted as {"<group>": ["<alert id>@<RFC3339 expiry>", ...]}.
type WarningTokens struct {
	name  string
	store storage.Store
	log   logx.Logger

	mu     sync.Mutex
	groups map[string]map[string]struct{}
	dirty  bool
	wmu    sync.Mutex
}

func NewWarningTokens(name string, st storage.Store, log logx.Logger) *WarningTokens {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &WarningTokens{
		name:   name,
		store:  st,
		log:    log.With(logx.String("doc", name)),
		groups: map[string]map[string]struct{}{},
	}
}

// Token builds the dedup key for one alert instance. Upstream reuses alert
// ids, so the expiry is part of the key.
func Token(id string, expiry time.Time) string {
	return strings.TrimSpace(id) + "@" + expiry.UTC().Format(time.RFC3339)
}

// tokenExpiry parses the part after the last "@".
func tokenExpiry(tok string) (time.Time, bool) {
	i := strings.LastIndex(tok, "@")
	if i < 0 {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, tok[i+1:])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (w *WarningTokens) Load(ctx context.Context) error {
	var raw map[string][]string
	if err := loadJSON(ctx, w.store, w.name, w.log, &raw); err != nil {
		return err
	}
	groups := make(map[string]map[string]struct{}, len(raw))
	for g, toks := range raw {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		set := map[string]struct{}{}
		for _, t := range toks {
			if t = strings.TrimSpace(t); t != "" {
				set[t] = struct{}{}
			}
		}
		if len(set) > 0 {
			groups[g] = set
		}
	}
	w.mu.Lock()
	w.groups = groups
	w.dirty = false
	w.mu.Unlock()
	return nil
}

func (w *WarningTokens) Has(group, token string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.groups[group][token]
	return ok
}

// Add marks token delivered for group. The change is kept in memory until Save.
func (w *WarningTokens) Add(group, token string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	set := w.groups[group]
	if set == nil {
		set = map[string]struct{}{}
		w.groups[group] = set
	}
	if _, ok := set[token]; !ok {
		set[token] = struct{}{}
		w.dirty = true
	}
}

// Purge drops tokens whose expiry is before now, and tokens whose expiry
// cannot be parsed. It returns the number removed.
func (w *WarningTokens) Purge(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for g, set := range w.groups {
		for tok := range set {
			exp, ok := tokenExpiry(tok)
			if ok && !exp.Before(now) {
				continue
			}
			delete(set, tok)
			n++
		}
		if len(set) == 0 {
			delete(w.groups, g)
		}
	}
	if n > 0 {
		w.dirty = true
	}
	return n
}

// Save persists the set if anything changed since the last load or save.
func (w *WarningTokens) Save(ctx context.Context) {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	w.mu.Lock()
	if !w.dirty {
		w.mu.Unlock()
		return
	}
	snap := make(map[string][]string, len(w.groups))
	for g, set := range w.groups {
		toks := make([]string, 0, len(set))
		for t := range set {
			toks = append(toks, t)
		}
		sort.Strings(toks)
		snap[g] = toks
	}
	w.dirty = false
	w.mu.Unlock()
	saveJSON(ctx, w.store, w.name, w.log, snap)
}

// Len returns the number of tokens held for group.
func (w *WarningTokens) Len(group string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.groups[group])
}
