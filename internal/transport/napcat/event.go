package napcat

import (
	"fmt"
	"path/filepath"
	"strings"
)

// event is the subset of a OneBot v11 push event the bot reads.
type event struct {
	PostType    string `json:"post_type"`
	MessageType string `json:"message_type"`
	SubType     string `json:"sub_type"`
	MessageID   int64  `json:"message_id"`
	GroupID     int64  `json:"group_id"`
	UserID      int64  `json:"user_id"`
	SelfID      int64  `json:"self_id"`
	RawMessage  string `json:"raw_message"`
	Sender      struct {
		UserID   int64  `json:"user_id"`
		Nickname string `json:"nickname"`
		Card     string `json:"card"`
	} `json:"sender"`
}

func (e event) isGroupMessage() bool {
	return e.PostType == "message" && e.MessageType == "group" && e.GroupID != 0
}

// senderName prefers the group card over the account nickname.
func (e event) senderName() string {
	if e.Sender.Card != "" {
		return e.Sender.Card
	}
	return e.Sender.Nickname
}

// actionResponse wraps every HTTP action reply.
type actionResponse[T any] struct {
	Status  string `json:"status"`
	RetCode int    `json:"retcode"`
	Message string `json:"message"`
	Wording string `json:"wording"`
	Data    T      `json:"data"`
}

func (r actionResponse[T]) ok() bool { return r.Status == "ok" && r.RetCode == 0 }

func (r actionResponse[T]) describe() string {
	msg := r.Wording
	if msg == "" {
		msg = r.Message
	}
	return fmt.Sprintf("status=%s retcode=%d %s", r.Status, r.RetCode, msg)
}

type loginInfo struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
}

type sendGroupMsg struct {
	GroupID int64  `json:"group_id"`
	Message string `json:"message"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

// MentionToken is the CQ code that addresses the account id.
func MentionToken(id string) string { return "[CQ:at,qq=" + id + "]" }

var cqEscaper = strings.NewReplacer("&", "&amp;", "[", "&#91;", "]", "&#93;")

var cqUnescaper = strings.NewReplacer("&#91;", "[", "&#93;", "]", "&amp;", "&")

// escapeText keeps plain text from being parsed as CQ codes.
func escapeText(s string) string { return cqEscaper.Replace(s) }

// UnescapeText reverses escapeText on inbound raw_message text.
func UnescapeText(s string) string { return cqUnescaper.Replace(s) }

// imageSegment references a local file by absolute path.
func imageSegment(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return "[CQ:image,file=file://" + filepath.ToSlash(abs) + "]", nil
}
