package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mangoo-ai/mangoo/internal/auth"
	"github.com/mangoo-ai/mangoo/internal/bot"
	"github.com/mangoo-ai/mangoo/internal/chat"
	"github.com/mangoo-ai/mangoo/internal/conversation"
	"github.com/mangoo-ai/mangoo/internal/log"
)

// ChatService runs streamed conversations. Implemented by chat.Orchestrator.
type ChatService interface {
	Stream(ctx context.Context, req chat.Request, id auth.Identity) (<-chan chat.Event, error)
	History(ctx context.Context, chatID string) ([]conversation.Turn, error)
	Purge(ctx context.Context, chatID string) (int64, error)
}

// chatHandler serves the streaming chat endpoint and conversation history.
type chatHandler struct {
	service ChatService
	logger  log.Logger
}

// SSE event names. The "message" event carries response deltas.
const (
	sseEventStart   = "start"
	sseEventMessage = "message"
	sseEventDone    = "done"
	sseEventError   = "error"
)

type streamRequest struct {
	BotID   uuid.UUID `json:"bot_id"`
	Message string    `json:"message"`
	ChatID  string    `json:"chat_id,omitempty"`
	UseRAG  bool      `json:"use_rag,omitempty"`
}

type startPayload struct {
	ChatID string `json:"chat_id"`
	Type   string `json:"type"`
}

type contentPayload struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

type donePayload struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

type errorPayload struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// stream handles POST /api/v1/chat/stream.
//
// Pre-flight failures (bad input, unknown bot) are plain JSON errors; the
// response only commits to text/event-stream once the orchestrator accepts
// the request. After that every outcome, including failure, is an SSE event.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_identity", "authentication required", h.logger)
		return
	}

	var req streamRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	events, err := h.service.Stream(r.Context(), chat.Request{
		BotID:   req.BotID,
		Message: req.Message,
		ChatID:  req.ChatID,
		UseRAG:  req.UseRAG,
	}, id)
	if err != nil {
		switch {
		case errors.Is(err, bot.ErrNotFound):
			writeError(w, http.StatusNotFound, "bot_not_found", "bot not found", h.logger)
		case errors.Is(err, chat.ErrMissingBot), errors.Is(err, chat.ErrEmptyMessage):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		default:
			h.logger.Error("starting chat stream", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		// Drain so the producer can exit; no way to stream to this client.
		for range events {
		}
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	for ev := range events {
		var writeErr error
		switch ev.Type {
		case chat.EventStart:
			writeErr = writeEvent(w, flusher, sseEventStart, startPayload{ChatID: ev.ChatID, Type: "start"})
		case chat.EventContent:
			writeErr = writeEvent(w, flusher, sseEventMessage, contentPayload{Content: ev.Content, Type: "content"})
		case chat.EventDone:
			writeErr = writeEvent(w, flusher, sseEventDone, donePayload{Type: "done", ChatID: ev.ChatID})
		case chat.EventError:
			msg := "stream failed"
			if ev.Err != nil {
				msg = ev.Err.Error()
			}
			writeErr = writeEvent(w, flusher, sseEventError, errorPayload{Error: msg, Type: "error"})
		}
		if writeErr != nil {
			// Write failure usually means the connection closed; the request
			// context cancels and the producer stops on its own.
			h.logger.Debug("writing SSE event", "error", writeErr)
			for range events {
			}
			return
		}
	}
}

// turnResponse is the wire shape of one transcript turn. Storage-side
// fields (bot id, user id, retrieval flag) stay server-side.
type turnResponse struct {
	ID        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ModelID   string    `json:"model_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type historyResponse struct {
	ChatID   string         `json:"chat_id"`
	Messages []turnResponse `json:"messages"`
}

// history handles GET /api/v1/chat/history/{chat_id}.
// Unknown chat ids yield an empty message list, not 404.
func (h *chatHandler) history(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chat_id")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "chat_id is required", h.logger)
		return
	}

	turns, err := h.service.History(r.Context(), chatID)
	if err != nil {
		h.logger.Error("loading history", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	messages := make([]turnResponse, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, turnResponse{
			ID:        t.ID,
			Role:      t.Role,
			Content:   t.Content,
			ModelID:   t.ModelID,
			CreatedAt: t.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, historyResponse{ChatID: chatID, Messages: messages}, h.logger)
}

type purgeResponse struct {
	ChatID  string `json:"chat_id"`
	Deleted int64  `json:"deleted_count"`
}

// purge handles DELETE /api/v1/chat/history/{chat_id}.
// Purging an unknown chat id reports zero deletions.
func (h *chatHandler) purge(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chat_id")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "chat_id is required", h.logger)
		return
	}

	deleted, err := h.service.Purge(r.Context(), chatID)
	if err != nil {
		h.logger.Error("purging conversation", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, purgeResponse{ChatID: chatID, Deleted: deleted}, h.logger)
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
