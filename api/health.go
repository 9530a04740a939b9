package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zhiwen0/zhiwen/internal/log"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	pool   *pgxpool.Pool
	store  SessionStore
	logger log.Logger
}

// NewHealthHandler creates a health handler. The pool backs the readiness
// check; the store provides the session counter on /health.
func NewHealthHandler(pool *pgxpool.Pool, store SessionStore, logger log.Logger) *HealthHandler {
	return &HealthHandler{pool: pool, store: store, logger: logger}
}

// RegisterRoutes registers health routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readiness)
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// liveness reports the process is alive, with a session counter when the
// store is reachable. A counting failure does not fail the probe.
func (h *HealthHandler) liveness(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.store != nil {
		count, err := h.store.GetSessionCount(r.Context())
		if err != nil {
			h.logger.Warn("counting sessions for health check", "error", err)
		} else {
			resp.Sessions = count
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// readiness reports whether dependencies are ready, by pinging the
// database.
func (h *HealthHandler) readiness(w http.ResponseWriter, r *http.Request) {
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
