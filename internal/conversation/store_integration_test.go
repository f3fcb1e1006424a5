//go:build integration
// +build integration

package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/mangoo-ai/mangoo/internal/log"
	"github.com/mangoo-ai/mangoo/internal/testutil"
)

func TestStoreAppendAndList(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(db.Pool, log.NewNop())
	botID := uuid.New()

	user, err := store.Append(ctx, Turn{
		ChatID: "chat-1", BotID: botID, UserID: "sub-1",
		Role: RoleUser, Content: "hello",
	})
	if err != nil {
		t.Fatalf("Append(user) error: %v", err)
	}
	if user.ID == uuid.Nil || user.CreatedAt.IsZero() {
		t.Fatal("Append did not fill id/timestamp")
	}

	if _, err := store.Append(ctx, Turn{
		ChatID: "chat-1", BotID: botID, UserID: "sub-1",
		Role: RoleAssistant, Content: "hi there", ModelID: "gemini-2.5-flash", ContextUsed: true,
	}); err != nil {
		t.Fatalf("Append(assistant) error: %v", err)
	}

	turns, err := store.List(ctx, "chat-1")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("List() returned %d turns, want 2", len(turns))
	}
	if turns[0].Role != RoleUser || turns[1].Role != RoleAssistant {
		t.Errorf("turns not oldest-first: %q then %q", turns[0].Role, turns[1].Role)
	}
	if turns[1].ModelID != "gemini-2.5-flash" {
		t.Errorf("ModelID = %q", turns[1].ModelID)
	}
	if !turns[1].ContextUsed {
		t.Error("ContextUsed not round-tripped")
	}
}

func TestStoreListRecent(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(db.Pool, log.NewNop())

	for i := range 6 {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if _, err := store.Append(ctx, Turn{
			ChatID: "chat-recent", UserID: "sub-1", Role: role,
			Content: fmt.Sprintf("turn %d", i),
		}); err != nil {
			t.Fatalf("Append(%d) error: %v", i, err)
		}
	}

	recent, err := store.ListRecent(ctx, "chat-recent", 4)
	if err != nil {
		t.Fatalf("ListRecent() error: %v", err)
	}
	if len(recent) != 4 {
		t.Fatalf("ListRecent() returned %d turns, want 4", len(recent))
	}
	// Last 4 turns, replayed oldest first
	if recent[0].Content != "turn 2" || recent[3].Content != "turn 5" {
		t.Errorf("ListRecent window wrong: first %q last %q", recent[0].Content, recent[3].Content)
	}
}

func TestStorePurgeIdempotent(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(db.Pool, log.NewNop())

	for range 3 {
		if _, err := store.Append(ctx, Turn{
			ChatID: "chat-purge", UserID: "sub-1", Role: RoleUser, Content: "x",
		}); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	deleted, err := store.Purge(ctx, "chat-purge")
	if err != nil {
		t.Fatalf("Purge() error: %v", err)
	}
	if deleted != 3 {
		t.Errorf("Purge() deleted %d, want 3", deleted)
	}

	// Second purge of the same chat is a no-op, not an error
	deleted, err = store.Purge(ctx, "chat-purge")
	if err != nil {
		t.Fatalf("second Purge() error: %v", err)
	}
	if deleted != 0 {
		t.Errorf("second Purge() deleted %d, want 0", deleted)
	}

	turns, err := store.List(ctx, "chat-purge")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("List() after purge returned %d turns", len(turns))
	}
}

func TestStoreValidation(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(db.Pool, log.NewNop())

	tests := []struct {
		name string
		turn Turn
		want error
	}{
		{"missing chat id", Turn{UserID: "s", Role: RoleUser, Content: "x"}, ErrEmptyChatID},
		{"bad role", Turn{ChatID: "c", UserID: "s", Role: "system", Content: "x"}, ErrInvalidRole},
		{"empty content", Turn{ChatID: "c", UserID: "s", Role: RoleUser}, ErrEmptyContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Append(ctx, tt.turn); !errors.Is(err, tt.want) {
				t.Fatalf("Append() = %v, want %v", err, tt.want)
			}
		})
	}
}
