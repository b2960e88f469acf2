package subscription

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"kibot/internal/storage"
	logx "kibot/pkg/logx"
)

// SpecialDay is a user-defined annotation for a group. Date is either
// "YYYY-MM-DD" (one day) or "MM-DD" (every year).
type SpecialDay struct {
	Date string
	Text string
}

// SpecialDays stores per-group special dates.
// Persisted as {"<group>": [["MM-DD", "text"], ...]}.
type SpecialDays struct {
	doc *document[map[string][][2]string]

	mu   sync.RWMutex
	days map[string][]SpecialDay
}

func NewSpecialDays(name string, st storage.Store, log logx.Logger) *SpecialDays {
	return &SpecialDays{
		doc:  newDocument[map[string][][2]string](name, st, log),
		days: map[string][]SpecialDay{},
	}
}

func (s *SpecialDays) Load(ctx context.Context) error {
	raw, err := s.doc.load(ctx)
	if err != nil {
		return err
	}
	s.replace(raw)
	return nil
}

// Reload picks up out-of-band edits; see ListStore.Reload.
func (s *SpecialDays) Reload(ctx context.Context) error {
	raw, fresh, err := s.doc.refresh(ctx, s.snapshot)
	if fresh {
		s.replace(raw)
	}
	return err
}

func (s *SpecialDays) replace(raw map[string][][2]string) {
	days := make(map[string][]SpecialDay, len(raw))
	for g, pairs := range raw {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		for _, p := range pairs {
			days[g] = append(days[g], SpecialDay{Date: strings.TrimSpace(p[0]), Text: p[1]})
		}
	}
	s.mu.Lock()
	s.days = days
	s.mu.Unlock()
}

// Add validates date and appends an annotation for group.
func (s *SpecialDays) Add(ctx context.Context, group, date, text string) error {
	group = strings.TrimSpace(group)
	date = strings.TrimSpace(date)
	text = strings.TrimSpace(text)
	if _, _, _, err := ParseSpecialDate(date); err != nil {
		return err
	}
	if text == "" {
		return fmt.Errorf("special day text required")
	}
	s.mu.Lock()
	s.days[group] = append(s.days[group], SpecialDay{Date: date, Text: text})
	s.mu.Unlock()
	_ = s.doc.save(ctx, s.snapshot)
	return nil
}

// Remove deletes all of group's annotations on date and returns how many were removed.
func (s *SpecialDays) Remove(ctx context.Context, group, date string) int {
	group = strings.TrimSpace(group)
	date = strings.TrimSpace(date)
	s.mu.Lock()
	cur := s.days[group]
	kept := make([]SpecialDay, 0, len(cur))
	for _, d := range cur {
		if d.Date != date {
			kept = append(kept, d)
		}
	}
	n := len(cur) - len(kept)
	if n > 0 {
		if len(kept) == 0 {
			delete(s.days, group)
		} else {
			s.days[group] = kept
		}
	}
	s.mu.Unlock()
	if n > 0 {
		_ = s.doc.save(ctx, s.snapshot)
	}
	return n
}

func (s *SpecialDays) List(group string) []SpecialDay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SpecialDay(nil), s.days[strings.TrimSpace(group)]...)
}

// On returns the texts of group's annotations that fall on day. Malformed
// dates are skipped.
func (s *SpecialDays) On(group string, day time.Time) []string {
	var out []string
	for _, d := range s.List(group) {
		y, m, dd, err := ParseSpecialDate(d.Date)
		if err != nil {
			continue
		}
		if y != 0 && y != day.Year() {
			continue
		}
		if m == day.Month() && dd == day.Day() {
			out = append(out, d.Text)
		}
	}
	return out
}

// ParseSpecialDate accepts "YYYY-MM-DD" or "MM-DD". Year is 0 for the
// recurring form.
func ParseSpecialDate(raw string) (year int, month time.Month, day int, err error) {
	raw = strings.TrimSpace(raw)
	switch len(raw) {
	case len("2006-01-02"):
		t, perr := time.Parse("2006-01-02", raw)
		if perr != nil {
			return 0, 0, 0, fmt.Errorf("invalid date %q: %w", raw, perr)
		}
		return t.Year(), t.Month(), t.Day(), nil
	case len("01-02"):
		// Parse against a leap year so 02-29 is accepted.
		t, perr := time.Parse("2006-01-02", "2000-"+raw)
		if perr != nil {
			return 0, 0, 0, fmt.Errorf("invalid date %q: %w", raw, perr)
		}
		return 0, t.Month(), t.Day(), nil
	default:
		return 0, 0, 0, fmt.Errorf("invalid date %q: want YYYY-MM-DD or MM-DD", raw)
	}
}

func (s *SpecialDays) snapshot() map[string][][2]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][][2]string, len(s.days))
	for g, days := range s.days {
		pairs := make([][2]string, 0, len(days))
		for _, d := range days {
			pairs = append(pairs, [2]string{d.Date, d.Text})
		}
		out[g] = pairs
	}
	return out
}
