package subscription

import (
	"context"
	"sort"
	"strings"
	"sync"

	"kibot/internal/storage"
	logx "kibot/pkg/logx"
)

// ListStore maps a group to a duplicate-free, ordered list of targets
// (weather cities, creator ids). Persisted as {"<group>": ["t1", "t2"]}.
type ListStore struct {
	doc *document[map[string][]string]

	mu     sync.RWMutex
	groups map[string][]string
}

func NewListStore(name string, st storage.Store, log logx.Logger) *ListStore {
	return &ListStore{
		doc:    newDocument[map[string][]string](name, st, log),
		groups: map[string][]string{},
	}
}

// Load replaces the in-memory state with the persisted document. On storage
// failure the current state is kept and the error returned.
func (s *ListStore) Load(ctx context.Context) error {
	raw, err := s.doc.load(ctx)
	if err != nil {
		return err
	}
	s.replace(raw)
	return nil
}

// Reload re-reads the document so out-of-band edits are picked up before a
// tick. After a failed write it retries the write instead, and a document
// that no longer decodes leaves the in-memory state untouched.
func (s *ListStore) Reload(ctx context.Context) error {
	raw, fresh, err := s.doc.refresh(ctx, s.Snapshot)
	if fresh {
		s.replace(raw)
	}
	return err
}

func (s *ListStore) replace(raw map[string][]string) {
	groups := make(map[string][]string, len(raw))
	for g, targets := range raw {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		clean := dedupe(targets)
		if len(clean) == 0 {
			continue
		}
		groups[g] = dedupe(append(groups[g], clean...))
	}
	s.mu.Lock()
	s.groups = groups
	s.mu.Unlock()
}

// Add appends targets not yet present for group and persists. It returns the
// targets that were actually added, in input order.
func (s *ListStore) Add(ctx context.Context, group string, targets ...string) []string {
	group = strings.TrimSpace(group)
	if group == "" {
		return nil
	}
	var added []string
	s.mu.Lock()
	cur := s.groups[group]
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" || contains(cur, t) {
			continue
		}
		cur = append(cur, t)
		added = append(added, t)
	}
	if len(added) > 0 {
		s.groups[group] = cur
	}
	s.mu.Unlock()

	if len(added) > 0 {
		_ = s.doc.save(ctx, s.Snapshot)
	}
	return added
}

// Remove deletes targets from group and persists. It returns the targets that
// were present. A group left with no targets is dropped.
func (s *ListStore) Remove(ctx context.Context, group string, targets ...string) []string {
	group = strings.TrimSpace(group)
	var removed []string
	s.mu.Lock()
	cur := s.groups[group]
	for _, t := range targets {
		t = strings.TrimSpace(t)
		idx := indexOf(cur, t)
		if idx < 0 {
			continue
		}
		cur = append(cur[:idx:idx], cur[idx+1:]...)
		removed = append(removed, t)
	}
	if len(removed) > 0 {
		if len(cur) == 0 {
			delete(s.groups, group)
		} else {
			s.groups[group] = cur
		}
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		_ = s.doc.save(ctx, s.Snapshot)
	}
	return removed
}

func (s *ListStore) Has(group, target string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return contains(s.groups[strings.TrimSpace(group)], strings.TrimSpace(target))
}

// Targets returns a copy of group's targets.
func (s *ListStore) Targets(group string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.groups[strings.TrimSpace(group)]...)
}

// Groups returns every group with at least one target, sorted.
func (s *ListStore) Groups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Subscribers returns the groups following target, sorted.
func (s *ListStore) Subscribers(target string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for g, targets := range s.groups {
		if contains(targets, target) {
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return out
}

// Distinct returns the union of all groups' targets without duplicates.
// Order is stable: groups sorted, then each group's own order.
func (s *ListStore) Distinct() []string {
	groups := s.Groups()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []string
	for _, g := range groups {
		all = append(all, s.groups[g]...)
	}
	return dedupe(all)
}

// Snapshot returns a deep copy of the whole mapping.
func (s *ListStore) Snapshot() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(s.groups))
	for g, targets := range s.groups {
		out[g] = append([]string(nil), targets...)
	}
	return out
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func contains(list []string, v string) bool { return indexOf(list, v) >= 0 }

func indexOf(list []string, v string) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}
