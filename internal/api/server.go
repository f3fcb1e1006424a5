// Package api exposes the platform over HTTP: a server-sent-events chat
// stream, knowledge ingestion and search, bot and marketplace CRUD, and the
// user profile endpoint. All /api/v1 routes require a verified bearer token;
// health probes bypass the middleware stack entirely.
package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mangoo-ai/mangoo/internal/auth"
	"github.com/mangoo-ai/mangoo/internal/log"
)

// ServerConfig assembles the API server.
type ServerConfig struct {
	Logger log.Logger

	Chat      ChatService      // required
	Knowledge KnowledgeService // required
	Bots      BotStore         // required
	Agents    AgentStore       // required
	Users     UserStore        // required
	Verifier  TokenVerifier    // required

	Pool *pgxpool.Pool // optional: nil degrades /ready to 503

	// Search defaults applied when requests omit parameters.
	SearchTopK      int
	SearchThreshold float64

	CORSOrigins []string
	TrustProxy  bool
	RateBurst   int // per-IP burst size, 0 = default 60
}

// Server is the JSON/SSE API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer wires handlers, routes, and the middleware stack.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.Chat == nil:
		return nil, errors.New("chat service is required")
	case cfg.Knowledge == nil:
		return nil, errors.New("knowledge service is required")
	case cfg.Bots == nil:
		return nil, errors.New("bot store is required")
	case cfg.Agents == nil:
		return nil, errors.New("agent store is required")
	case cfg.Users == nil:
		return nil, errors.New("user store is required")
	case cfg.Verifier == nil:
		return nil, errors.New("token verifier is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{service: cfg.Chat, logger: logger}
	kh := &knowledgeHandler{
		engine:    cfg.Knowledge,
		logger:    logger,
		topK:      cfg.SearchTopK,
		threshold: cfg.SearchThreshold,
	}
	bh := &botHandler{store: cfg.Bots, logger: logger}
	ah := &agentHandler{store: cfg.Agents, logger: logger}
	uh := &userHandler{store: cfg.Users, logger: logger}

	mux := http.NewServeMux()

	// Chat
	mux.HandleFunc("POST /api/v1/chat/stream", ch.stream)
	mux.HandleFunc("GET /api/v1/chat/history/{chat_id}", ch.history)
	mux.HandleFunc("DELETE /api/v1/chat/history/{chat_id}", ch.purge)

	// Knowledge
	mux.HandleFunc("POST /api/v1/knowledge/add", kh.add)
	mux.HandleFunc("POST /api/v1/knowledge/search", kh.search)
	mux.HandleFunc("DELETE /api/v1/knowledge/{kb_id}", kh.deleteBase)

	// Bots
	mux.HandleFunc("POST /api/v1/bots", bh.create)
	mux.HandleFunc("GET /api/v1/bots", bh.list)
	mux.HandleFunc("GET /api/v1/bots/{id}", bh.get)
	mux.HandleFunc("PUT /api/v1/bots/{id}", bh.update)
	mux.HandleFunc("DELETE /api/v1/bots/{id}", bh.delete)

	// Marketplace catalog: open reads, admin mutations
	mux.HandleFunc("GET /api/v1/agents", ah.list)
	mux.HandleFunc("GET /api/v1/agents/{id}", ah.get)
	mux.HandleFunc("POST /api/v1/agents", requireRole(auth.AdminGroup, logger, ah.create))
	mux.HandleFunc("PUT /api/v1/agents/{id}", requireRole(auth.AdminGroup, logger, ah.update))
	mux.HandleFunc("DELETE /api/v1/agents/{id}", requireRole(auth.AdminGroup, logger, ah.delete))

	// Users
	mux.HandleFunc("GET /api/v1/users/me", uh.me)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Auth → Routes
	// RequestID precedes Logging so request_id is available in log attributes.
	// CORS precedes RateLimit so preflight OPTIONS gets proper CORS headers.
	var handler http.Handler = mux
	handler = authMiddleware(cfg.Verifier, logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Top-level mux keeps health probes outside the middleware stack.
	hh := &healthHandler{pool: cfg.Pool, logger: logger}
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", hh.liveness)
	topMux.HandleFunc("GET /ready", hh.readiness)
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
