package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/mangoo-ai/mangoo/internal/log"
)

// Storer is the persistence the engine needs, defined here by the consumer.
// *Store satisfies it; tests substitute fakes.
type Storer interface {
	Insert(ctx context.Context, chunk Chunk) error
	SearchSimilar(ctx context.Context, kbID string, embedding []float32, topK int, threshold float64) ([]Result, error)
	DeleteBase(ctx context.Context, kbID string) (int64, error)
}

// Config configures an Engine.
type Config struct {
	Store     Storer      // Required
	Embedder  ai.Embedder // Required
	Dimension int         // Required: expected embedding dimensionality
	Logger    log.Logger  // Optional: nil uses a nop logger
}

func (c *Config) validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Embedder == nil {
		return errors.New("embedder is required")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", c.Dimension)
	}
	return nil
}

// Engine turns text into embeddings and embeddings into search results.
// Safe for concurrent use.
type Engine struct {
	store     Storer
	embedder  ai.Embedder
	dimension int
	logger    log.Logger
}

// NewEngine creates a retrieval engine from the given configuration.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{
		store:     cfg.Store,
		embedder:  cfg.Embedder,
		dimension: cfg.Dimension,
		logger:    logger,
	}, nil
}

// Ingest embeds and stores the given texts in a knowledge base.
//
// Each text is processed independently: an embedding or storage failure for
// one records a per-item failure in the report without touching its
// siblings. Only a malformed request (empty kb id, no texts) fails as a
// whole. Already-stored chunks are never rolled back.
func (e *Engine) Ingest(ctx context.Context, kbID string, texts []string, source Source) (IngestReport, error) {
	if kbID == "" {
		return IngestReport{}, ErrEmptyKnowledgeBase
	}
	if len(texts) == 0 {
		return IngestReport{}, errors.New("no texts to ingest")
	}
	if source.Type == "" {
		source.Type = SourceTypeText
	}

	report := IngestReport{ChunkIDs: make([]uuid.UUID, 0, len(texts))}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			report.Failed = append(report.Failed, IngestFailure{Index: i, Reason: "empty text"})
			continue
		}

		embedding, err := e.embedText(ctx, text)
		if err != nil {
			e.logger.Warn("chunk embedding failed", "kb", kbID, "index", i, "error", err)
			report.Failed = append(report.Failed, IngestFailure{Index: i, Reason: fmt.Sprintf("embedding failed: %v", err)})
			continue
		}

		chunk := Chunk{
			ID:              uuid.New(),
			KnowledgeBaseID: kbID,
			Content:         text,
			Embedding:       embedding,
			SourceType:      source.Type,
			SourceURI:       source.URI,
			ChunkIndex:      i,
		}
		if err := e.store.Insert(ctx, chunk); err != nil {
			e.logger.Warn("chunk insert failed", "kb", kbID, "index", i, "error", err)
			report.Failed = append(report.Failed, IngestFailure{Index: i, Reason: fmt.Sprintf("storage failed: %v", err)})
			continue
		}

		report.ChunkIDs = append(report.ChunkIDs, chunk.ID)
	}

	e.logger.Info("ingestion finished",
		"kb", kbID, "stored", len(report.ChunkIDs), "failed", len(report.Failed))
	return report, nil
}

// Search embeds the query and returns the topK most similar chunks of the
// knowledge base with similarity >= threshold, most similar first.
//
// An empty or unknown base yields an empty result with nil error. Embedder
// or store failures surface as ErrRetrievalUnavailable so callers can
// degrade instead of failing the user request.
func (e *Engine) Search(ctx context.Context, kbID, query string, topK int, threshold float64) ([]Result, error) {
	if kbID == "" {
		return nil, ErrEmptyKnowledgeBase
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK < 1 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidSearchParams, topK)
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold must be in [0,1], got %g", ErrInvalidSearchParams, threshold)
	}

	embedding, err := e.embedText(ctx, query)
	if err != nil {
		e.logger.Error("query embedding failed", "kb", kbID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}

	results, err := e.store.SearchSimilar(ctx, kbID, embedding, topK, threshold)
	if err != nil {
		e.logger.Error("vector search failed", "kb", kbID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}

	e.logger.Debug("search finished", "kb", kbID, "hits", len(results))
	return results, nil
}

// DeleteBase removes an entire knowledge base. Idempotent.
func (e *Engine) DeleteBase(ctx context.Context, kbID string) (int64, error) {
	if kbID == "" {
		return 0, ErrEmptyKnowledgeBase
	}
	return e.store.DeleteBase(ctx, kbID)
}

// embedText runs one text through the embedder and validates the result.
// OutputDimensionality pins the provider to the schema's vector width;
// gemini embedders default to a larger dimension.
func (e *Engine) embedText(ctx context.Context, text string) ([]float32, error) {
	dim := int32(e.dimension)
	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("embedder returned no embedding")
	}

	embedding := resp.Embeddings[0].Embedding
	if len(embedding) != e.dimension {
		return nil, fmt.Errorf("embedding dimension %d, expected %d", len(embedding), e.dimension)
	}
	return embedding, nil
}
