package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mangoo-ai/mangoo/db"
	"github.com/mangoo-ai/mangoo/internal/agents"
	"github.com/mangoo-ai/mangoo/internal/api"
	"github.com/mangoo-ai/mangoo/internal/auth"
	"github.com/mangoo-ai/mangoo/internal/bot"
	"github.com/mangoo-ai/mangoo/internal/chat"
	"github.com/mangoo-ai/mangoo/internal/config"
	"github.com/mangoo-ai/mangoo/internal/conversation"
	"github.com/mangoo-ai/mangoo/internal/knowledge"
	"github.com/mangoo-ai/mangoo/internal/llm"
	"github.com/mangoo-ai/mangoo/internal/log"
	"github.com/mangoo-ai/mangoo/internal/user"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // SSE streaming needs the long timeout
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// newLogger builds the process logger. Level comes from MANGOO_LOG_LEVEL
// (debug/info/warn/error); output is JSON for log aggregation.
func newLogger() log.Logger {
	level := slog.LevelInfo
	switch os.Getenv("MANGOO_LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return log.New(log.Config{Level: level, JSON: true})
}

// runServe loads configuration, runs migrations, wires the application, and
// serves HTTP until SIGINT/SIGTERM.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	logger.Info("starting mangoo backend", "version", AppVersion, "config", cfg)

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	provider, err := llm.New(ctx, llm.Config{
		EmbedderModel: cfg.EmbedderModel,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("initializing llm provider: %w", err)
	}

	engine, err := knowledge.NewEngine(knowledge.Config{
		Store:     knowledge.NewStore(pool, logger),
		Embedder:  provider.Embedder(),
		Dimension: config.VectorDimension,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating retrieval engine: %w", err)
	}

	turns := conversation.NewStore(pool, logger)
	bots := bot.NewStore(pool, logger)
	catalog := agents.NewStore(pool, logger)
	users := user.NewStore(pool, logger)

	orchestrator, err := chat.New(chat.Config{
		Bots:         bots,
		Turns:        turns,
		Search:       engine,
		Completer:    provider,
		TopK:         cfg.SearchTopK,
		Threshold:    cfg.SearchThreshold,
		HistoryLimit: cfg.HistoryLimit,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("creating chat orchestrator: %w", err)
	}

	verifier, err := auth.NewVerifier(auth.Config{
		Issuer:      cfg.AuthIssuer,
		Audience:    cfg.AuthAudience,
		JWKSURL:     cfg.JWKSURL(),
		GroupsClaim: cfg.AuthGroupsClaim,
		KeyTTL:      time.Duration(cfg.AuthJWKSTTLMin) * time.Minute,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("creating token verifier: %w", err)
	}

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:          logger,
		Chat:            orchestrator,
		Knowledge:       engine,
		Bots:            bots,
		Agents:          catalog,
		Users:           users,
		Verifier:        verifier,
		Pool:            pool,
		SearchTopK:      cfg.SearchTopK,
		SearchThreshold: cfg.SearchThreshold,
		CORSOrigins:     cfg.CORSOrigins,
		TrustProxy:      cfg.TrustProxy,
		RateBurst:       cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", cfg.Addr(),
		"api", "/api/v1/*",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}
