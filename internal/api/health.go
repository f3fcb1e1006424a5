package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mangoo-ai/mangoo/internal/log"
)

// healthHandler serves liveness and readiness probes. Probes sit outside the
// middleware stack so load balancers are never rate limited or asked for a
// token.
type healthHandler struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// liveness reports that the process is alive.
func (h *healthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness reports whether dependencies are reachable by pinging the
// database.
func (h *healthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil {
		http.Error(w, "database pool not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.pool.Ping(r.Context()); err != nil {
		h.logger.Error("readiness check failed", "error", err)
		http.Error(w, "database not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
