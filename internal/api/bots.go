package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/mangoo-ai/mangoo/internal/bot"
	"github.com/mangoo-ai/mangoo/internal/log"
)

// BotStore persists bot configurations. Implemented by bot.Store.
type BotStore interface {
	Create(ctx context.Context, b bot.Bot) (bot.Bot, error)
	GetVisible(ctx context.Context, id uuid.UUID, callerID string) (bot.Bot, error)
	List(ctx context.Context, callerID string) ([]bot.Bot, error)
	Update(ctx context.Context, b bot.Bot) (bot.Bot, error)
	Delete(ctx context.Context, id uuid.UUID, callerID string) error
}

type botHandler struct {
	store  BotStore
	logger log.Logger
}

// create handles POST /api/v1/bots. The owner is always the caller.
func (h *botHandler) create(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_identity", "authentication required", h.logger)
		return
	}

	var b bot.Bot
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	b.OwnerID = id.Subject

	created, err := h.store.Create(r.Context(), b)
	if err != nil {
		if errors.Is(err, bot.ErrInvalidBot) || errors.Is(err, bot.ErrRAGRequiresKnowledgeBase) {
			writeError(w, http.StatusBadRequest, "invalid_bot", err.Error(), h.logger)
			return
		}
		h.logger.Error("creating bot", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, created, h.logger)
}

// list handles GET /api/v1/bots: the caller's own bots plus public and
// marketplace ones.
func (h *botHandler) list(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_identity", "authentication required", h.logger)
		return
	}

	bots, err := h.store.List(r.Context(), id.Subject)
	if err != nil {
		h.logger.Error("listing bots", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}
	if bots == nil {
		bots = []bot.Bot{}
	}

	writeJSON(w, http.StatusOK, bots, h.logger)
}

// get handles GET /api/v1/bots/{id}.
func (h *botHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_identity", "authentication required", h.logger)
		return
	}

	botID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid bot id", h.logger)
		return
	}

	b, err := h.store.GetVisible(r.Context(), botID, id.Subject)
	if err != nil {
		if errors.Is(err, bot.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bot_not_found", "bot not found", h.logger)
			return
		}
		h.logger.Error("getting bot", "bot_id", botID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, b, h.logger)
}

// update handles PUT /api/v1/bots/{id}. Only the owner can update; a bot
// owned by someone else looks like a missing bot.
func (h *botHandler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_identity", "authentication required", h.logger)
		return
	}

	botID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid bot id", h.logger)
		return
	}

	var b bot.Bot
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	b.ID = botID
	b.OwnerID = id.Subject

	updated, err := h.store.Update(r.Context(), b)
	if err != nil {
		switch {
		case errors.Is(err, bot.ErrNotFound):
			writeError(w, http.StatusNotFound, "bot_not_found", "bot not found", h.logger)
		case errors.Is(err, bot.ErrInvalidBot), errors.Is(err, bot.ErrRAGRequiresKnowledgeBase):
			writeError(w, http.StatusBadRequest, "invalid_bot", err.Error(), h.logger)
		default:
			h.logger.Error("updating bot", "bot_id", botID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		}
		return
	}

	writeJSON(w, http.StatusOK, updated, h.logger)
}

// delete handles DELETE /api/v1/bots/{id}.
func (h *botHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_identity", "authentication required", h.logger)
		return
	}

	botID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid bot id", h.logger)
		return
	}

	if err := h.store.Delete(r.Context(), botID, id.Subject); err != nil {
		if errors.Is(err, bot.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bot_not_found", "bot not found", h.logger)
			return
		}
		h.logger.Error("deleting bot", "bot_id", botID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
