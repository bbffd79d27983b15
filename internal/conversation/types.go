// Package conversation persists chats and their turns in PostgreSQL.
//
// A Turn is one message in a chat: the user's input or the assistant's
// response together with the ordered record of tool invocations that
// produced it. Turns are immutable once persisted; the stream pipeline
// writes a turn exactly once, after the event sequence closes.
package conversation

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Roles stored in the turns table. Values match genkit's ai.Role wire
// strings so history folds straight into model messages.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// TitleMaxLength caps generated and fallback chat titles, in runes.
const TitleMaxLength = 50

// ErrChatNotFound indicates the chat does not exist.
var ErrChatNotFound = errors.New("chat not found")

// Chat is one conversation thread.
type Chat struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToolInvocation records one completed tool call within a turn. Failed
// calls keep their error text; timed-out calls set TimedOut as well.
type ToolInvocation struct {
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	Result    string         `json:"result,omitempty"`
	Err       string         `json:"error,omitempty"`
	TimedOut  bool           `json:"timed_out,omitempty"`
	ElapsedMs int64          `json:"elapsed_ms"`
}

// Turn is one persisted message. Seq orders turns within a chat and is
// assigned by the store at persist time.
type Turn struct {
	ID          uuid.UUID        `json:"id"`
	ChatID      uuid.UUID        `json:"chat_id"`
	Seq         int32            `json:"seq"`
	Role        string           `json:"role"`
	Text        string           `json:"text"`
	Invocations []ToolInvocation `json:"invocations,omitempty"`
	Incomplete  bool             `json:"incomplete,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// FallbackTitle derives a chat title from the first message when no
// generated title is available: the first TitleMaxLength runes, with an
// ellipsis when truncated.
func FallbackTitle(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= TitleMaxLength {
		return text
	}
	return string(runes[:TitleMaxLength]) + "…"
}
