package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mangoo-ai/mangoo/internal/log"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists marketplace agents in PostgreSQL.
// Safe for concurrent use.
type Store struct {
	db     DB
	logger log.Logger
}

// NewStore creates an agent store.
func NewStore(db DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger}
}

const agentColumns = `id, name, display_name, description, category, agent_type,
	capabilities, status, is_public, tags, created_at, updated_at`

// uniqueViolation is the PostgreSQL error code for unique constraint breaks.
const uniqueViolation = "23505"

// Create persists a new catalog entry.
func (s *Store) Create(ctx context.Context, a Agent) (Agent, error) {
	if err := a.Validate(); err != nil {
		return Agent{}, err
	}

	a.ID = uuid.New()
	if a.Capabilities == nil {
		a.Capabilities = []string{}
	}
	if a.Tags == nil {
		a.Tags = []string{}
	}

	err := s.db.QueryRow(ctx, `
		INSERT INTO agents (id, name, display_name, description, category, agent_type,
			capabilities, status, is_public, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		a.ID, a.Name, a.DisplayName, a.Description, a.Category, a.AgentType,
		a.Capabilities, a.Status, a.IsPublic, a.Tags,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Agent{}, fmt.Errorf("%w: %q", ErrDuplicateName, a.Name)
		}
		return Agent{}, fmt.Errorf("creating agent %q: %w", a.Name, err)
	}

	s.logger.Debug("agent created", "id", a.ID, "name", a.Name)
	return a, nil
}

// Get returns a public catalog entry by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Agent, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1 AND is_public`, id)
	return scanAgent(row)
}

// List returns all public catalog entries, optionally filtered by category,
// newest first.
func (s *Store) List(ctx context.Context, category string) ([]Agent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+agentColumns+`
		FROM agents
		WHERE is_public AND ($1 = '' OR category = $1)
		ORDER BY created_at DESC`,
		category)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	list := make([]Agent, 0, 16)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading agents: %w", err)
	}
	return list, nil
}

// Update rewrites a catalog entry's mutable fields.
func (s *Store) Update(ctx context.Context, a Agent) (Agent, error) {
	if err := a.Validate(); err != nil {
		return Agent{}, err
	}

	err := s.db.QueryRow(ctx, `
		UPDATE agents
		SET display_name = $2, description = $3, category = $4, agent_type = $5,
			capabilities = $6, status = $7, is_public = $8, tags = $9, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		a.ID, a.DisplayName, a.Description, a.Category, a.AgentType,
		a.Capabilities, a.Status, a.IsPublic, a.Tags,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("updating agent %s: %w", a.ID, err)
	}

	s.logger.Debug("agent updated", "id", a.ID)
	return a, nil
}

// Delete removes a catalog entry. Deleting a missing entry yields ErrNotFound.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting agent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Debug("agent deleted", "id", id)
	return nil
}

// scanAgent reads one agent row.
func scanAgent(row pgx.Row) (Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.Name, &a.DisplayName, &a.Description, &a.Category,
		&a.AgentType, &a.Capabilities, &a.Status, &a.IsPublic, &a.Tags,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("scanning agent: %w", err)
	}
	return a, nil
}
