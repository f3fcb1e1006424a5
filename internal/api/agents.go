package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/mangoo-ai/mangoo/internal/agents"
	"github.com/mangoo-ai/mangoo/internal/log"
)

// AgentStore persists the marketplace catalog. Implemented by agents.Store.
type AgentStore interface {
	Create(ctx context.Context, a agents.Agent) (agents.Agent, error)
	Get(ctx context.Context, id uuid.UUID) (agents.Agent, error)
	List(ctx context.Context, category string) ([]agents.Agent, error)
	Update(ctx context.Context, a agents.Agent) (agents.Agent, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// agentHandler serves the marketplace catalog. Reads are open to every
// authenticated user; mutations are admin-only (gated in the router).
type agentHandler struct {
	store  AgentStore
	logger log.Logger
}

// list handles GET /api/v1/agents?category=x.
func (h *agentHandler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.logger.Error("listing agents", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}
	if list == nil {
		list = []agents.Agent{}
	}
	writeJSON(w, http.StatusOK, list, h.logger)
}

// get handles GET /api/v1/agents/{id}.
func (h *agentHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid agent id", h.logger)
		return
	}

	a, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, agents.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent_not_found", "agent not found", h.logger)
			return
		}
		h.logger.Error("getting agent", "agent_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, a, h.logger)
}

// create handles POST /api/v1/agents (admin only).
func (h *agentHandler) create(w http.ResponseWriter, r *http.Request) {
	var a agents.Agent
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	created, err := h.store.Create(r.Context(), a)
	if err != nil {
		switch {
		case errors.Is(err, agents.ErrInvalidAgent):
			writeError(w, http.StatusBadRequest, "invalid_agent", err.Error(), h.logger)
		case errors.Is(err, agents.ErrDuplicateName):
			writeError(w, http.StatusConflict, "duplicate_name", err.Error(), h.logger)
		default:
			h.logger.Error("creating agent", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		}
		return
	}

	writeJSON(w, http.StatusCreated, created, h.logger)
}

// update handles PUT /api/v1/agents/{id} (admin only).
func (h *agentHandler) update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid agent id", h.logger)
		return
	}

	var a agents.Agent
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	a.ID = id

	updated, err := h.store.Update(r.Context(), a)
	if err != nil {
		switch {
		case errors.Is(err, agents.ErrNotFound):
			writeError(w, http.StatusNotFound, "agent_not_found", "agent not found", h.logger)
		case errors.Is(err, agents.ErrInvalidAgent):
			writeError(w, http.StatusBadRequest, "invalid_agent", err.Error(), h.logger)
		default:
			h.logger.Error("updating agent", "agent_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		}
		return
	}

	writeJSON(w, http.StatusOK, updated, h.logger)
}

// delete handles DELETE /api/v1/agents/{id} (admin only).
func (h *agentHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid agent id", h.logger)
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, agents.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent_not_found", "agent not found", h.logger)
			return
		}
		h.logger.Error("deleting agent", "agent_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
