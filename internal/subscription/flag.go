package subscription

import (
	"context"
	"sort"
	"strings"
	"sync"

	"kibot/internal/storage"
	logx "kibot/pkg/logx"
)

// FlagStore records an opt-in flag per group (anime schedule, calendar).
// Persisted as {"<group>": true}.
type FlagStore struct {
	doc *document[map[string]bool]

	mu    sync.RWMutex
	flags map[string]bool
}

func NewFlagStore(name string, st storage.Store, log logx.Logger) *FlagStore {
	return &FlagStore{
		doc:   newDocument[map[string]bool](name, st, log),
		flags: map[string]bool{},
	}
}

func (s *FlagStore) Load(ctx context.Context) error {
	raw, err := s.doc.load(ctx)
	if err != nil {
		return err
	}
	s.replace(raw)
	return nil
}

// Reload picks up out-of-band edits; see ListStore.Reload.
func (s *FlagStore) Reload(ctx context.Context) error {
	raw, fresh, err := s.doc.refresh(ctx, s.snapshot)
	if fresh {
		s.replace(raw)
	}
	return err
}

func (s *FlagStore) replace(raw map[string]bool) {
	flags := make(map[string]bool, len(raw))
	for g, on := range raw {
		if g = strings.TrimSpace(g); g != "" && on {
			flags[g] = true
		}
	}
	s.mu.Lock()
	s.flags = flags
	s.mu.Unlock()
}

func (s *FlagStore) Enabled(group string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[strings.TrimSpace(group)]
}

// Set turns the flag on or off and persists. It reports whether the state changed.
func (s *FlagStore) Set(ctx context.Context, group string, on bool) bool {
	group = strings.TrimSpace(group)
	if group == "" {
		return false
	}
	s.mu.Lock()
	changed := s.flags[group] != on
	if on {
		s.flags[group] = true
	} else {
		delete(s.flags, group)
	}
	s.mu.Unlock()

	if changed {
		_ = s.doc.save(ctx, s.snapshot)
	}
	return changed
}

// Groups returns every opted-in group, sorted.
func (s *FlagStore) Groups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.flags))
	for g := range s.flags {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func (s *FlagStore) snapshot() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.flags))
	for g, on := range s.flags {
		out[g] = on
	}
	return out
}
