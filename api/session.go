package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/zhiwen0/zhiwen/internal/log"
	"github.com/zhiwen0/zhiwen/internal/memory"
)

// Session endpoint validation constants.
const (
	MaxUserIDLength     = 100
	MaxMetadataEntries  = 20
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// SessionHandler serves the session management endpoints.
type SessionHandler struct {
	store  SessionStore
	logger log.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(store SessionStore, logger log.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("POST /api/sessions", h.create)
	mux.HandleFunc("GET /api/sessions/{id}/history", h.history)
}

// list returns all sessions, most recently updated first.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		h.logger.Error("listing sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// CreateSessionRequest is the request body for creating a session.
type CreateSessionRequest struct {
	UserID   string            `json:"user_id"`
	Metadata map[string]string `json:"metadata"`
}

// CreateSessionResponse is the response body for a created session.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// create creates a new empty session.
func (h *SessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if len(req.UserID) > MaxUserIDLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id too long (max 100 characters)")
		return
	}
	if len(req.Metadata) > MaxMetadataEntries {
		writeError(w, http.StatusBadRequest, "invalid_request", "too many metadata entries (max 20)")
		return
	}

	id, err := h.store.CreateSession(r.Context(), req.UserID, req.Metadata)
	if err != nil {
		h.logger.Error("creating session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, CreateSessionResponse{SessionID: id})
}

// HistoryResponse is the response body for a session transcript.
type HistoryResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []memory.Message `json:"messages"`
}

// history returns a session's transcript in chronological order.
// Query parameter limit caps the number of messages (default 50, max 500).
func (h *SessionHandler) history(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	limit := parseIntParam(r, "limit", DefaultHistoryLimit, 1, MaxHistoryLimit)

	msgs, err := h.store.GetHistory(r.Context(), sessionID, limit)
	if err != nil {
		if errors.Is(err, memory.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found", "session does not exist")
			return
		}
		h.logger.Error("loading history", "error", err, "session_id", sessionID)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load history")
		return
	}
	if msgs == nil {
		msgs = []memory.Message{}
	}

	writeJSON(w, http.StatusOK, HistoryResponse{SessionID: sessionID, Messages: msgs})
}

// parseIntParam parses an integer query parameter with bounds clamping.
func parseIntParam(r *http.Request, name string, defaultVal, minVal, maxVal int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}
