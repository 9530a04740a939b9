package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/zhiwen0/zhiwen/internal/log"
	"github.com/zhiwen0/zhiwen/internal/memory"
)

// MaxQuestionLength bounds the question body.
const MaxQuestionLength = 8000

// ChatHandler serves the blocking and streaming chat endpoints.
//
// Both accept the same body. When session_id is omitted, a fresh session is
// created and its id returned with the answer, so a client's first message
// needs no separate session call.
type ChatHandler struct {
	engine ChatEngine
	store  SessionStore
	logger log.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(engine ChatEngine, store SessionStore, logger log.Logger) *ChatHandler {
	return &ChatHandler{engine: engine, store: store, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.ask)
	mux.HandleFunc("POST /api/chat/stream", h.askStream)
}

// ChatRequest is the request body for both chat endpoints.
type ChatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// ChatResponse is the blocking endpoint's response body.
type ChatResponse struct {
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources"`
	SessionID string   `json:"session_id"`
}

// resolveSession validates the request and returns the session id to use,
// creating a session when none was supplied.
func (h *ChatHandler) resolveSession(ctx context.Context, req *ChatRequest) (string, int, error) {
	if req.Question == "" {
		return "", http.StatusBadRequest, errors.New("question is required")
	}
	if len(req.Question) > MaxQuestionLength {
		return "", http.StatusBadRequest, fmt.Errorf("question too long (max %d bytes)", MaxQuestionLength)
	}

	if req.SessionID == "" {
		id, err := h.store.CreateSession(ctx, req.UserID, nil)
		if err != nil {
			return "", http.StatusInternalServerError, fmt.Errorf("creating session: %w", err)
		}
		return id, 0, nil
	}

	exists, err := h.store.SessionExists(ctx, req.SessionID)
	if err != nil {
		return "", http.StatusInternalServerError, fmt.Errorf("checking session: %w", err)
	}
	if !exists {
		return "", http.StatusNotFound, errors.New("session does not exist")
	}
	return req.SessionID, 0, nil
}

// ask handles the blocking chat endpoint.
func (h *ChatHandler) ask(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	sessionID, status, err := h.resolveSession(r.Context(), &req)
	if err != nil {
		if status == http.StatusInternalServerError {
			h.logger.Error("resolving session", "error", err)
			writeError(w, status, "internal_error", "internal server error")
			return
		}
		writeError(w, status, errorCode(status), err.Error())
		return
	}

	answer, sources, err := h.engine.Ask(r.Context(), req.Question, sessionID)
	if err != nil {
		if errors.Is(err, memory.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found", "session does not exist")
			return
		}
		h.logger.Error("answering question", "error", err, "session_id", sessionID)
		writeError(w, http.StatusBadGateway, "generation_failed", "failed to answer question")
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Answer:    answer,
		Sources:   sources,
		SessionID: sessionID,
	})
}

func errorCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return "session_not_found"
	case http.StatusBadRequest:
		return "invalid_request"
	default:
		return "internal_error"
	}
}

// SSE event payloads. Event names: session, content, done, error.
type (
	// SSESessionData opens the stream and carries the session id, which
	// the client needs when it let the server create the session.
	SSESessionData struct {
		SessionID string `json:"session_id"`
	}

	// SSEContentData carries one text increment.
	SSEContentData struct {
		Text string `json:"text"`
	}

	// SSEDoneData closes a successful stream.
	SSEDoneData struct {
		SessionID string `json:"session_id"`
	}

	// SSEErrorData closes a failed stream.
	SSEErrorData struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

// askStream handles the SSE streaming endpoint.
//
// Events:
//   - session: {"session_id": "..."} sent first
//   - content: {"text": "..."} one per text increment
//   - done:    {"session_id": "..."} after successful persistence
//   - error:   {"code": "...", "message": "..."} terminal failure
//
// A client disconnect cancels the request context, which aborts generation;
// the exchange is not persisted in that case.
func (h *ChatHandler) askStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported by response writer")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeSSEError(w, flusher, "invalid_request", "invalid request body")
		return
	}

	ctx := r.Context()
	sessionID, status, err := h.resolveSession(ctx, &req)
	if err != nil {
		if status == http.StatusInternalServerError {
			h.logger.Error("resolving session", "error", err)
			h.writeSSEError(w, flusher, "internal_error", "internal server error")
			return
		}
		h.writeSSEError(w, flusher, errorCode(status), err.Error())
		return
	}

	h.writeSSEEvent(w, flusher, "session", SSESessionData{SessionID: sessionID})
	h.logger.Info("stream started", "session_id", sessionID)

	for fragment, err := range h.engine.AskStream(ctx, req.Question, sessionID) {
		if err != nil {
			h.logger.Error("stream failed", "error", err, "session_id", sessionID)
			h.writeSSEError(w, flusher, "generation_failed", err.Error())
			return
		}
		select {
		case <-ctx.Done():
			// Client disconnected; stopping iteration aborts generation.
			h.logger.Info("client disconnected", "session_id", sessionID)
			return
		default:
		}
		h.writeSSEEvent(w, flusher, "content", SSEContentData{Text: fragment})
	}
	if ctx.Err() != nil {
		return
	}

	h.writeSSEEvent(w, flusher, "done", SSEDoneData{SessionID: sessionID})
	h.logger.Info("stream completed", "session_id", sessionID)
}

func (h *ChatHandler) writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encoding SSE payload", "error", err, "event", event)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

func (h *ChatHandler) writeSSEError(w http.ResponseWriter, flusher http.Flusher, code, message string) {
	h.writeSSEEvent(w, flusher, "error", SSEErrorData{Code: code, Message: message})
}
