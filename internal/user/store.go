package user

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

// Store persists user profiles in PostgreSQL.
// Safe for concurrent use.
type Store struct {
	db     DB
	logger log.Logger
}

// NewStore creates a user store.
func NewStore(db DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Upsert creates the profile for a subject on first sight, or refreshes
// email/username on later calls. Returns the stored profile either way.
func (s *Store) Upsert(ctx context.Context, subject, email, username string) (User, error) {
	if subject == "" {
		return User{}, errors.New("empty subject")
	}

	u := User{Subject: subject, Email: email, Username: username}
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (id, subject, email, username)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject) DO UPDATE
		SET email = EXCLUDED.email, username = EXCLUDED.username, updated_at = now()
		RETURNING id, created_at, updated_at`,
		uuid.New(), subject, email, username,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("upserting user %q: %w", subject, err)
	}

	return u, nil
}

// GetBySubject returns the profile for an identity provider subject.
func (s *Store) GetBySubject(ctx context.Context, subject string) (User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, subject, email, username, created_at, updated_at
		FROM users WHERE subject = $1`,
		subject,
	).Scan(&u.ID, &u.Subject, &u.Email, &u.Username, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("getting user %q: %w", subject, err)
	}
	return u, nil
}
