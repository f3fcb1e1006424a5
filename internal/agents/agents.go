// Package agents manages the marketplace catalog of curated agents.
//
// Unlike bots, catalog entries are platform-managed: everyone can browse
// public entries, only administrators mutate the catalog.
package agents

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the agent does not exist or is not public.
	ErrNotFound = errors.New("agent not found")

	// ErrInvalidAgent indicates a catalog entry failing validation.
	ErrInvalidAgent = errors.New("invalid agent")

	// ErrDuplicateName indicates the unique agent name is already taken.
	ErrDuplicateName = errors.New("agent name already exists")
)

// Agent statuses.
const (
	StatusActive     = "active"
	StatusDeprecated = "deprecated"
)

// Agent is one marketplace catalog entry.
type Agent struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"` // unique machine name
	DisplayName  string    `json:"display_name"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	AgentType    string    `json:"agent_type"`
	Capabilities []string  `json:"capabilities"`
	Status       string    `json:"status"`
	IsPublic     bool      `json:"is_public"`
	Tags         []string  `json:"tags"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks a catalog entry before a write.
func (a *Agent) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAgent)
	}
	if strings.TrimSpace(a.DisplayName) == "" {
		return fmt.Errorf("%w: display_name is required", ErrInvalidAgent)
	}
	if a.Status != StatusActive && a.Status != StatusDeprecated {
		return fmt.Errorf("%w: status must be %q or %q", ErrInvalidAgent, StatusActive, StatusDeprecated)
	}
	return nil
}
