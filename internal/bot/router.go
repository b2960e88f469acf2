package bot

import (
	"errors"
	"regexp"
	"strings"
)

// Router decides whether a message addresses the bot.
type Router struct {
	mention  *regexp.Regexp
	unescape func(string) string
}

type RouterOption func(*Router)

// WithUnescape converts the cleaned text to plain text. It runs after the
// mention is removed, so an escaped token typed by a user never counts.
func WithUnescape(fn func(string) string) RouterOption {
	return func(r *Router) { r.unescape = fn }
}

// NewRouter matches the literal mention token, e.g. "[CQ:at,qq=123]".
func NewRouter(mention string, opts ...RouterOption) (*Router, error) {
	if strings.TrimSpace(mention) == "" {
		return nil, errors.New("mention token required")
	}
	r := &Router{mention: regexp.MustCompile(regexp.QuoteMeta(mention))}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Clean reports whether text mentions the bot and returns it with every
// mention removed and the result trimmed.
func (r *Router) Clean(text string) (string, bool) {
	if !r.mention.MatchString(text) {
		return "", false
	}
	text = r.mention.ReplaceAllLiteralString(text, "")
	if r.unescape != nil {
		text = r.unescape(text)
	}
	return strings.TrimSpace(text), true
}
