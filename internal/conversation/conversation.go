// Package conversation persists chat transcripts.
//
// The transcript is append-only: turns are written once and never updated.
// Reads return oldest-first so a transcript replays in the order it happened.
// The only destructive operation is Purge, which removes a whole chat and is
// idempotent.
package conversation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Turn roles. Only end users and the model write to a transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrInvalidRole indicates a role outside user/assistant.
	ErrInvalidRole = errors.New("invalid turn role")

	// ErrEmptyContent indicates an empty turn body.
	ErrEmptyContent = errors.New("empty turn content")

	// ErrEmptyChatID indicates a missing chat identifier.
	ErrEmptyChatID = errors.New("empty chat id")
)

// Turn is a single utterance in a chat transcript.
type Turn struct {
	ID          uuid.UUID
	ChatID      string    // opaque client-chosen conversation key
	BotID       uuid.UUID // bot that served the turn; uuid.Nil when unknown
	UserID      string    // identity subject of the chat owner
	Role        string    // RoleUser or RoleAssistant
	Content     string
	ModelID     string // model that produced an assistant turn, empty for user turns
	ContextUsed bool   // whether retrieval context augmented this turn
	CreatedAt   time.Time
}

// validate checks the fields callers control before a write.
func (t *Turn) validate() error {
	if t.ChatID == "" {
		return ErrEmptyChatID
	}
	if t.Role != RoleUser && t.Role != RoleAssistant {
		return ErrInvalidRole
	}
	if t.Content == "" {
		return ErrEmptyContent
	}
	return nil
}
