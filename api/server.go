// Package api exposes the conversational backend over HTTP.
//
// Endpoints:
//
//	GET  /health                     liveness probe with session counters
//	GET  /ready                      readiness probe (pings the database)
//	GET  /api/sessions               list sessions
//	POST /api/sessions               create a session
//	GET  /api/sessions/{id}/history  session transcript
//	POST /api/chat                   blocking question answering
//	POST /api/chat/stream            streaming question answering (SSE)
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: logging and panic recovery
//   - health.go: liveness and readiness probes
//   - session.go: session management endpoints
//   - chat.go: blocking and streaming chat endpoints
//   - response.go: JSON response helpers
package api

import (
	"context"
	"iter"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zhiwen0/zhiwen/internal/log"
	"github.com/zhiwen0/zhiwen/internal/memory"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout protects against Slowloris-style clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing a response.
	// Streaming responses can run long; generation itself is bounded by
	// the model's token limit.
	WriteTimeout = 5 * time.Minute

	// IdleTimeout applies to keep-alive connections between requests.
	IdleTimeout = 120 * time.Second
)

// ChatEngine is the slice of the orchestrator the HTTP layer needs.
type ChatEngine interface {
	Ask(ctx context.Context, question, sessionID string) (string, []string, error)
	AskStream(ctx context.Context, question, sessionID string) iter.Seq2[string, error]
}

// SessionStore is the slice of the conversation store the HTTP layer needs.
type SessionStore interface {
	CreateSession(ctx context.Context, userID string, metadata map[string]string) (string, error)
	SessionExists(ctx context.Context, sessionID string) (bool, error)
	GetHistory(ctx context.Context, sessionID string, limit int) ([]memory.Message, error)
	GetSessionCount(ctx context.Context) (int, error)
	ListSessions(ctx context.Context) ([]memory.SessionSummary, error)
}

// Server is the HTTP server for the REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health  *HealthHandler
	session *SessionHandler
	chat    *ChatHandler
}

// NewServer creates a server with all routes registered.
func NewServer(engine ChatEngine, store SessionStore, pool *pgxpool.Pool, logger log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:     mux,
		logger:  logger,
		health:  NewHealthHandler(pool, store, logger),
		session: NewSessionHandler(store, logger),
		chat:    NewChatHandler(engine, store, logger),
	}

	s.health.RegisterRoutes(mux)
	s.session.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)

	return s
}

// Handler returns the handler with middleware applied.
// Order: recovery → logging → routes.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
	)
}

// Run starts the server and blocks until the context is canceled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
