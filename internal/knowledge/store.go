package knowledge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/mangoo-ai/mangoo/internal/log"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists knowledge chunks in PostgreSQL with pgvector.
// Safe for concurrent use.
type Store struct {
	db     DB
	logger log.Logger
}

// NewStore creates a knowledge store.
func NewStore(db DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Insert writes one chunk with its embedding.
func (s *Store) Insert(ctx context.Context, chunk Chunk) error {
	metadata := chunk.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshaling chunk metadata: %w", err)
	}

	embedding := pgvector.NewVector(chunk.Embedding)
	_, err = s.db.Exec(ctx, `
		INSERT INTO knowledge_chunks (id, knowledge_base_id, content, embedding,
			source_type, source_uri, chunk_index, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		chunk.ID, chunk.KnowledgeBaseID, chunk.Content, embedding,
		chunk.SourceType, chunk.SourceURI, chunk.ChunkIndex, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting chunk %s: %w", chunk.ID, err)
	}

	s.logger.Debug("chunk inserted", "id", chunk.ID, "kb", chunk.KnowledgeBaseID)
	return nil
}

// SearchSimilar returns the chunks of a knowledge base whose cosine
// similarity to the query embedding is at least threshold, ordered most
// similar first. Equal-distance chunks tie-break by creation order so
// results are stable. An empty or unknown base yields an empty slice.
func (s *Store) SearchSimilar(ctx context.Context, kbID string, embedding []float32, topK int, threshold float64) ([]Result, error) {
	query := pgvector.NewVector(embedding)

	// <=> is cosine distance; similarity = 1 - distance
	rows, err := s.db.Query(ctx, `
		SELECT id, knowledge_base_id, content, source_type, source_uri, chunk_index,
			metadata, created_at, 1 - (embedding <=> $2) AS similarity
		FROM knowledge_chunks
		WHERE knowledge_base_id = $1 AND 1 - (embedding <=> $2) >= $3
		ORDER BY embedding <=> $2 ASC, created_at ASC, id ASC
		LIMIT $4`,
		kbID, query, threshold, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("searching knowledge base %q: %w", kbID, err)
	}
	defer rows.Close()

	results := make([]Result, 0, topK)
	for rows.Next() {
		var (
			r            Result
			metadataJSON []byte
		)
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.KnowledgeBaseID, &r.Chunk.Content,
			&r.Chunk.SourceType, &r.Chunk.SourceURI, &r.Chunk.ChunkIndex,
			&metadataJSON, &r.Chunk.CreatedAt, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &r.Chunk.Metadata); err != nil {
			s.logger.Warn("unparseable chunk metadata", "chunk_id", r.Chunk.ID, "error", err)
			r.Chunk.Metadata = map[string]string{}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search results: %w", err)
	}
	return results, nil
}

// DeleteBase removes every chunk of a knowledge base and returns the count.
// Deleting an unknown base returns 0, nil.
func (s *Store) DeleteBase(ctx context.Context, kbID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM knowledge_chunks WHERE knowledge_base_id = $1`, kbID)
	if err != nil {
		return 0, fmt.Errorf("deleting knowledge base %q: %w", kbID, err)
	}

	deleted := tag.RowsAffected()
	if deleted > 0 {
		s.logger.Debug("knowledge base deleted", "kb", kbID, "chunks", deleted)
	}
	return deleted, nil
}

// CountBase returns the number of chunks in a knowledge base.
func (s *Store) CountBase(ctx context.Context, kbID string) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM knowledge_chunks WHERE knowledge_base_id = $1`, kbID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting knowledge base %q: %w", kbID, err)
	}
	return count, nil
}
