package conversation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/mangoo-ai/mangoo/internal/log"
)

// DB is the subset of pgxpool.Pool the store uses. Defined here, by the
// consumer, so tests can substitute a lighter implementation.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists conversation turns in PostgreSQL.
// Safe for concurrent use.
type Store struct {
	db     DB
	logger log.Logger
}

// NewStore creates a conversation store.
func NewStore(db DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Append writes a turn to the transcript and returns it with the
// database-assigned id and timestamp filled in.
func (s *Store) Append(ctx context.Context, turn Turn) (Turn, error) {
	if err := turn.validate(); err != nil {
		return Turn{}, err
	}

	turn.ID = uuid.New()

	botID := pgtype.UUID{Bytes: turn.BotID, Valid: turn.BotID != uuid.Nil}
	modelID := pgtype.Text{String: turn.ModelID, Valid: turn.ModelID != ""}

	err := s.db.QueryRow(ctx, `
		INSERT INTO messages (id, chat_id, bot_id, user_id, role, content, model_id, context_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		turn.ID, turn.ChatID, botID, turn.UserID, turn.Role, turn.Content, modelID, turn.ContextUsed,
	).Scan(&turn.CreatedAt)
	if err != nil {
		return Turn{}, fmt.Errorf("appending turn to chat %q: %w", turn.ChatID, err)
	}

	s.logger.Debug("turn appended", "chat_id", turn.ChatID, "role", turn.Role, "id", turn.ID)
	return turn, nil
}

// List returns the full transcript of a chat, oldest first.
// An unknown chat id yields an empty slice, not an error.
func (s *Store) List(ctx context.Context, chatID string) ([]Turn, error) {
	if chatID == "" {
		return nil, ErrEmptyChatID
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, chat_id, bot_id, user_id, role, content, model_id, context_used, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at ASC, id ASC`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing chat %q: %w", chatID, err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

// ListRecent returns the last limit turns of a chat, still oldest first,
// for use as completion context.
func (s *Store) ListRecent(ctx context.Context, chatID string, limit int) ([]Turn, error) {
	if chatID == "" {
		return nil, ErrEmptyChatID
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, chat_id, bot_id, user_id, role, content, model_id, context_used, created_at
		FROM (
			SELECT id, chat_id, bot_id, user_id, role, content, model_id, context_used, created_at
			FROM messages
			WHERE chat_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC`,
		chatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recent turns of chat %q: %w", chatID, err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

// Purge deletes every turn of a chat and returns the number removed.
// Purging an unknown chat returns 0, nil.
func (s *Store) Purge(ctx context.Context, chatID string) (int64, error) {
	if chatID == "" {
		return 0, ErrEmptyChatID
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM messages WHERE chat_id = $1`, chatID)
	if err != nil {
		return 0, fmt.Errorf("purging chat %q: %w", chatID, err)
	}

	deleted := tag.RowsAffected()
	if deleted > 0 {
		s.logger.Debug("chat purged", "chat_id", chatID, "deleted", deleted)
	}
	return deleted, nil
}

// scanTurns drains rows into Turn values.
func scanTurns(rows pgx.Rows) ([]Turn, error) {
	turns := make([]Turn, 0, 16)
	for rows.Next() {
		var (
			t       Turn
			botID   pgtype.UUID
			modelID pgtype.Text
		)
		if err := rows.Scan(&t.ID, &t.ChatID, &botID, &t.UserID, &t.Role,
			&t.Content, &modelID, &t.ContextUsed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		if botID.Valid {
			t.BotID = botID.Bytes
		}
		if modelID.Valid {
			t.ModelID = modelID.String
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading turns: %w", err)
	}
	return turns, nil
}
