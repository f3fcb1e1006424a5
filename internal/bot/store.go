package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/mangoo-ai/mangoo/internal/log"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists bot configurations in PostgreSQL.
// Safe for concurrent use.
type Store struct {
	db     DB
	logger log.Logger
}

// NewStore creates a bot store.
func NewStore(db DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger}
}

const botColumns = `id, name, description, instructions, model_id, temperature, max_tokens,
	rag_enabled, knowledge_base_id, owner_id, is_public, is_marketplace, is_active, tags,
	created_at, updated_at`

// Create persists a new bot owned by b.OwnerID.
func (s *Store) Create(ctx context.Context, b Bot) (Bot, error) {
	if err := b.Validate(); err != nil {
		return Bot{}, err
	}
	if b.OwnerID == "" {
		return Bot{}, fmt.Errorf("%w: owner is required", ErrInvalidBot)
	}

	b.ID = uuid.New()
	if b.Tags == nil {
		b.Tags = []string{}
	}

	err := s.db.QueryRow(ctx, `
		INSERT INTO bots (id, name, description, instructions, model_id, temperature, max_tokens,
			rag_enabled, knowledge_base_id, owner_id, is_public, is_marketplace, is_active, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`,
		b.ID, b.Name, b.Description, b.Instructions, b.ModelID, b.Temperature, b.MaxTokens,
		b.RAGEnabled, nullText(b.KnowledgeBaseID), b.OwnerID, b.IsPublic, b.IsMarketplace,
		b.IsActive, b.Tags,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Bot{}, fmt.Errorf("creating bot %q: %w", b.Name, err)
	}

	s.logger.Debug("bot created", "id", b.ID, "name", b.Name, "owner", b.OwnerID)
	return b, nil
}

// Get returns a bot by id regardless of visibility. Internal use only;
// handlers should prefer GetVisible.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Bot, error) {
	row := s.db.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id)
	return scanBot(row)
}

// GetVisible returns a bot the given caller may use: their own, or any
// public or marketplace bot. Missing and invisible both yield ErrNotFound.
func (s *Store) GetVisible(ctx context.Context, id uuid.UUID, callerID string) (Bot, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+botColumns+`
		FROM bots
		WHERE id = $1 AND (owner_id = $2 OR is_public OR is_marketplace)`,
		id, callerID)
	return scanBot(row)
}

// List returns the caller's bots plus all public and marketplace bots,
// newest first.
func (s *Store) List(ctx context.Context, callerID string) ([]Bot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+botColumns+`
		FROM bots
		WHERE owner_id = $1 OR is_public OR is_marketplace
		ORDER BY created_at DESC`,
		callerID)
	if err != nil {
		return nil, fmt.Errorf("listing bots: %w", err)
	}
	defer rows.Close()

	bots := make([]Bot, 0, 16)
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading bots: %w", err)
	}
	return bots, nil
}

// Update rewrites a bot's mutable fields. Only the owner may update;
// anyone else sees ErrNotFound.
func (s *Store) Update(ctx context.Context, b Bot) (Bot, error) {
	if err := b.Validate(); err != nil {
		return Bot{}, err
	}

	err := s.db.QueryRow(ctx, `
		UPDATE bots
		SET name = $3, description = $4, instructions = $5, model_id = $6, temperature = $7,
			max_tokens = $8, rag_enabled = $9, knowledge_base_id = $10, is_public = $11,
			is_marketplace = $12, is_active = $13, tags = $14, updated_at = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING created_at, updated_at`,
		b.ID, b.OwnerID, b.Name, b.Description, b.Instructions, b.ModelID, b.Temperature,
		b.MaxTokens, b.RAGEnabled, nullText(b.KnowledgeBaseID), b.IsPublic, b.IsMarketplace,
		b.IsActive, b.Tags,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bot{}, ErrNotFound
	}
	if err != nil {
		return Bot{}, fmt.Errorf("updating bot %s: %w", b.ID, err)
	}

	s.logger.Debug("bot updated", "id", b.ID)
	return b, nil
}

// Delete removes a bot owned by callerID. Deleting someone else's bot or a
// missing bot yields ErrNotFound.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, callerID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM bots WHERE id = $1 AND owner_id = $2`, id, callerID)
	if err != nil {
		return fmt.Errorf("deleting bot %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Debug("bot deleted", "id", id)
	return nil
}

// nullText maps "" to SQL NULL.
func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

// scanBot reads one bot row.
func scanBot(row pgx.Row) (Bot, error) {
	var (
		b  Bot
		kb pgtype.Text
	)
	err := row.Scan(&b.ID, &b.Name, &b.Description, &b.Instructions, &b.ModelID,
		&b.Temperature, &b.MaxTokens, &b.RAGEnabled, &kb, &b.OwnerID,
		&b.IsPublic, &b.IsMarketplace, &b.IsActive, &b.Tags, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bot{}, ErrNotFound
	}
	if err != nil {
		return Bot{}, fmt.Errorf("scanning bot: %w", err)
	}
	if kb.Valid {
		b.KnowledgeBaseID = kb.String
	}
	return b, nil
}
