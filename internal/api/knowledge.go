package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/mangoo-ai/mangoo/internal/knowledge"
	"github.com/mangoo-ai/mangoo/internal/log"
)

// KnowledgeService ingests and searches knowledge chunks. Implemented by
// knowledge.Engine.
type KnowledgeService interface {
	Ingest(ctx context.Context, kbID string, texts []string, source knowledge.Source) (knowledge.IngestReport, error)
	Search(ctx context.Context, kbID, query string, topK int, threshold float64) ([]knowledge.Result, error)
	DeleteBase(ctx context.Context, kbID string) (int64, error)
}

type knowledgeHandler struct {
	engine KnowledgeService
	logger log.Logger

	// Defaults applied when the request omits search parameters.
	topK      int
	threshold float64
}

type ingestRequest struct {
	KnowledgeBaseID string   `json:"knowledge_base_id"`
	Texts           []string `json:"texts"`
	SourceType      string   `json:"source_type,omitempty"`
	SourceURI       string   `json:"source_uri,omitempty"`
}

// add handles POST /api/v1/knowledge.
//
// Ingestion is per-item: the report lists successes and failures side by
// side, and a partial failure still returns 200 with the failures named.
func (h *knowledgeHandler) add(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	r.Body = http.MaxBytesReader(w, r.Body, 10*1024*1024)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	source := knowledge.Source{Type: req.SourceType, URI: req.SourceURI}
	report, err := h.engine.Ingest(r.Context(), req.KnowledgeBaseID, req.Texts, source)
	if err != nil {
		switch {
		case errors.Is(err, knowledge.ErrEmptyKnowledgeBase), errors.Is(err, knowledge.ErrInvalidSearchParams):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		default:
			h.logger.Error("ingesting knowledge", "knowledge_base", req.KnowledgeBaseID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		}
		return
	}

	ids := report.ChunkIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	writeJSON(w, http.StatusOK, ingestResponse{
		ChunksAdded: len(ids),
		ChunkIDs:    ids,
		Failed:      report.Failed,
	}, h.logger)
}

type ingestResponse struct {
	ChunksAdded int                       `json:"chunks_added"`
	ChunkIDs    []uuid.UUID               `json:"chunk_ids"`
	Failed      []knowledge.IngestFailure `json:"failed,omitempty"`
}

type searchRequest struct {
	KnowledgeBaseID string   `json:"knowledge_base_id"`
	Query           string   `json:"query"`
	TopK            *int     `json:"top_k,omitempty"`
	Threshold       *float64 `json:"threshold,omitempty"`
}

// searchResult is the wire shape of one hit: flat, and without the stored
// embedding vector.
type searchResult struct {
	ID         uuid.UUID         `json:"id"`
	Text       string            `json:"text"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

// search handles POST /api/v1/knowledge/search.
func (h *knowledgeHandler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	topK := h.topK
	if req.TopK != nil {
		topK = *req.TopK
	}
	threshold := h.threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	results, err := h.engine.Search(r.Context(), req.KnowledgeBaseID, req.Query, topK, threshold)
	if err != nil {
		switch {
		case errors.Is(err, knowledge.ErrRetrievalUnavailable):
			writeError(w, http.StatusServiceUnavailable, "retrieval_unavailable", "retrieval backend unavailable", h.logger)
		case errors.Is(err, knowledge.ErrEmptyKnowledgeBase),
			errors.Is(err, knowledge.ErrEmptyQuery),
			errors.Is(err, knowledge.ErrInvalidSearchParams):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		default:
			h.logger.Error("searching knowledge", "knowledge_base", req.KnowledgeBaseID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		}
		return
	}
	hits := make([]searchResult, 0, len(results))
	for _, res := range results {
		hits = append(hits, searchResult{
			ID:         res.Chunk.ID,
			Text:       res.Chunk.Content,
			Similarity: res.Similarity,
			Metadata:   res.Chunk.Metadata,
		})
	}

	writeJSON(w, http.StatusOK, searchResponse{Results: hits}, h.logger)
}

type deleteBaseResponse struct {
	KnowledgeBaseID string `json:"knowledge_base_id"`
	Deleted         int64  `json:"chunks_deleted"`
}

// deleteBase handles DELETE /api/v1/knowledge/{kb_id}.
// Deleting an unknown base reports zero deletions.
func (h *knowledgeHandler) deleteBase(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("kb_id")
	if kbID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "kb_id is required", h.logger)
		return
	}

	deleted, err := h.engine.DeleteBase(r.Context(), kbID)
	if err != nil {
		h.logger.Error("deleting knowledge base", "knowledge_base", kbID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, deleteBaseResponse{KnowledgeBaseID: kbID, Deleted: deleted}, h.logger)
}
