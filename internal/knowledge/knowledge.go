// Package knowledge implements the retrieval side of RAG: ingesting text
// chunks with their embeddings and searching them by cosine similarity.
//
// A knowledge base is a named corpus of chunks; bots reference one by id.
// Ingestion tolerates partial failure (each chunk embeds independently),
// search is read-only and never mutates state.
package knowledge

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRetrievalUnavailable indicates the embedding provider or vector
	// store cannot serve a search right now. Chat degrades gracefully on it;
	// direct search calls surface it.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrEmptyKnowledgeBase indicates a missing knowledge base id.
	ErrEmptyKnowledgeBase = errors.New("empty knowledge base id")

	// ErrEmptyQuery indicates an empty search query.
	ErrEmptyQuery = errors.New("empty search query")

	// ErrInvalidSearchParams indicates top_k or threshold out of range.
	ErrInvalidSearchParams = errors.New("invalid search parameters")
)

// Source type constants for ingested chunks.
const (
	SourceTypeText = "text"
	SourceTypeFile = "file"
	SourceTypeURL  = "url"
)

// Chunk is one stored unit of knowledge with its embedding.
type Chunk struct {
	ID              uuid.UUID
	KnowledgeBaseID string
	Content         string
	Embedding       []float32
	SourceType      string
	SourceURI       string
	ChunkIndex      int
	Metadata        map[string]string
	CreatedAt       time.Time
}

// Result is a search hit: a chunk and its cosine similarity to the query,
// in [0,1] where 1 is identical direction.
type Result struct {
	Chunk      Chunk
	Similarity float64
}

// Source describes where ingested chunks came from.
type Source struct {
	Type string // SourceTypeText, SourceTypeFile, SourceTypeURL
	URI  string // file path or URL, empty for raw text
}

// IngestFailure records one chunk that could not be ingested.
type IngestFailure struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// IngestReport summarizes an ingestion: ids of stored chunks plus per-item
// failures. Successes persist even when siblings fail.
type IngestReport struct {
	ChunkIDs []uuid.UUID     `json:"chunk_ids"`
	Failed   []IngestFailure `json:"failed,omitempty"`
}
