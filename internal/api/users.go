package api

import (
	"context"
	"net/http"

	"github.com/mangoo-ai/mangoo/internal/log"
	"github.com/mangoo-ai/mangoo/internal/user"
)

// UserStore provisions and reads user profiles. Implemented by user.Store.
type UserStore interface {
	Upsert(ctx context.Context, subject, email, username string) (user.User, error)
}

type userHandler struct {
	store  UserStore
	logger log.Logger
}

// me handles GET /api/v1/users/me. Profiles are provisioned lazily: the
// upsert creates the row on first sight and refreshes email/username after
// that, so the handler never distinguishes new from returning users.
func (h *userHandler) me(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_identity", "authentication required", h.logger)
		return
	}

	u, err := h.store.Upsert(r.Context(), id.Subject, id.Email, id.Username)
	if err != nil {
		h.logger.Error("upserting user profile", "subject", id.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, u, h.logger)
}
