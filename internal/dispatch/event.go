// Package dispatch turns inbound chat events into roleplay operations and
// renders the replies through a Transport.
package dispatch

import (
	"context"
	"strings"

	"github.com/ashureev/rolecall/internal/domain"
)

// Kind classifies an inbound event.
type Kind string

const (
	KindCommand  Kind = "command"
	KindCallback Kind = "callback"
	KindMessage  Kind = "message"
)

// ChatPrivate is the chat type of one-to-one conversations.
const ChatPrivate = "private"

// Event is one inbound chat occurrence.
type Event struct {
	Kind      Kind           `json:"kind" validate:"required,oneof=command callback message"`
	ChatID    int64          `json:"chat_id" validate:"required"`
	ChatType  string         `json:"chat_type,omitempty"`
	ChatTitle string         `json:"chat_title,omitempty"`
	UserID    int64          `json:"user_id" validate:"required"`
	Profile   domain.Profile `json:"profile"`
	// Text is the command line, the callback data or the message body.
	Text    string `json:"text,omitempty" validate:"max=4096"`
	Caption string `json:"caption,omitempty" validate:"max=1024"`
	// MessageID is the message a callback button belongs to.
	MessageID int64 `json:"message_id,omitempty"`
}

// IsPrivate reports whether the event came from a one-to-one chat.
func (e Event) IsPrivate() bool {
	return e.ChatType == ChatPrivate
}

// Command splits "/name@bot arg1 arg2" into its lowercased name and the
// trimmed argument string.
func (e Event) Command() (name, args string) {
	text := strings.TrimSpace(e.Text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	return strings.ToLower(head), strings.TrimSpace(rest)
}

// Button is one role-selector option.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Transport delivers bot output to a chat. Message ids returned by Send
// calls identify the message for later edits and pins.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) (int64, error)
	SendSelector(ctx context.Context, chatID int64, text string, buttons []Button) (int64, error)
	EditSelector(ctx context.Context, chatID, messageID int64, text string, buttons []Button) error
	Pin(ctx context.Context, chatID, messageID int64) error
	Unpin(ctx context.Context, chatID, messageID int64) error
	// Answer replies to a callback privately.
	Answer(ctx context.Context, chatID, userID int64, text string) error
	// Leave detaches the bot from a chat.
	Leave(ctx context.Context, chatID int64) error
}
