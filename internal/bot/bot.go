// Package bot manages bot configurations: the named, user-owned model
// personas that chats run against.
package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the bot does not exist or is not visible to the
	// caller. The two cases are indistinguishable on purpose.
	ErrNotFound = errors.New("bot not found")

	// ErrInvalidBot indicates a bot configuration failing validation.
	ErrInvalidBot = errors.New("invalid bot configuration")

	// ErrRAGRequiresKnowledgeBase indicates rag_enabled without a knowledge
	// base to retrieve from.
	ErrRAGRequiresKnowledgeBase = errors.New("rag_enabled requires a knowledge base")
)

// Bot is a configured conversational persona.
type Bot struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Instructions string    `json:"instructions"` // system prompt
	ModelID      string    `json:"model_id"`
	Temperature  int       `json:"temperature"` // 0-100, scaled to the provider's range at call time
	MaxTokens    int       `json:"max_tokens"`
	RAGEnabled   bool      `json:"rag_enabled"`
	// KnowledgeBaseID names the retrieval corpus; empty means none.
	KnowledgeBaseID string    `json:"knowledge_base_id,omitempty"`
	OwnerID         string    `json:"owner_id"`
	IsPublic        bool      `json:"is_public"`
	IsMarketplace   bool      `json:"is_marketplace"`
	IsActive        bool      `json:"is_active"`
	Tags            []string  `json:"tags"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Validate checks a bot configuration before a write.
func (b *Bot) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidBot)
	}
	if strings.TrimSpace(b.ModelID) == "" {
		return fmt.Errorf("%w: model_id is required", ErrInvalidBot)
	}
	if b.Temperature < 0 || b.Temperature > 100 {
		return fmt.Errorf("%w: temperature must be in [0,100], got %d", ErrInvalidBot, b.Temperature)
	}
	if b.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive, got %d", ErrInvalidBot, b.MaxTokens)
	}
	if b.RAGEnabled && b.KnowledgeBaseID == "" {
		return ErrRAGRequiresKnowledgeBase
	}
	return nil
}

// TemperatureScaled converts the stored 0-100 temperature to the 0.0-1.0
// range the model provider expects.
func (b *Bot) TemperatureScaled() float32 {
	return float32(b.Temperature) / 100
}
