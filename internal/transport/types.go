package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an inbound group message. Text is the raw text as delivered by
// the platform, mention tokens included.
type Message struct {
	ID       int64
	ChatID   int64
	FromID   int64
	FromName string
	Text     string
}

type ChatTarget struct {
	ChatID int64
}

// Content is an outbound message. Image is an optional local file path that
// adapters attach inline (NapCat CQ image segment, Telegram photo).
type Content struct {
	Text  string
	Image string
}

// Identity describes the bot account the adapter is logged in as.
type Identity struct {
	ID string
	// Mention is the literal token that addresses the bot inside message text.
	Mention string
	// Unescape turns raw message text into plain text. It runs after mention
	// tokens are removed; nil means the text is already plain.
	Unescape func(string) string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// Self resolves the bot identity. Failure here is fatal at startup.
	Self(ctx context.Context) (Identity, error)
	Send(ctx context.Context, to ChatTarget, c Content) error
}
