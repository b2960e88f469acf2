// Package service holds what the upstream clients share: the error kinds
// every call site is classified into, and a small JSON-over-HTTP helper.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error kinds. Clients wrap their failures so callers can branch with
// errors.Is instead of inspecting upstream payloads.
var (
	// ErrNotFound: the upstream answered but the thing asked for does not exist
	// (unknown city, unknown creator).
	ErrNotFound = errors.New("not found")
	// ErrUnavailable: timeout, transport failure, non-success status or code.
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrMalformed: the payload did not match the expected shape.
	ErrMalformed = errors.New("malformed upstream response")
)

type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindUnavailable
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "unavailable"
	case KindMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindOf classifies err. Context cancellation and deadline errors count as
// unavailable; unknown errors too.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrMalformed):
		return KindMalformed
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindUnavailable
	default:
		return KindUnavailable
	}
}

// NotFound, Unavailable and Malformed wrap a cause under the given kind.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Unavailable(cause error, format string, args ...any) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, fmt.Sprintf(format, args...), cause)
}

func Malformed(cause error, format string, args ...any) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("%w: %s: %w", ErrMalformed, fmt.Sprintf(format, args...), cause)
}

// Throttled is an unavailable error for an upstream that asked us to back
// off (HTTP 429). The task engine reads RetryAfter to pace its retry.
type Throttled struct {
	Path  string
	After time.Duration
}

func (e *Throttled) Error() string {
	return fmt.Sprintf("%s: throttled, retry after %s", e.Path, e.After)
}

func (e *Throttled) Unwrap() error             { return ErrUnavailable }
func (e *Throttled) RetryAfter() time.Duration { return e.After }
