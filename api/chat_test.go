package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zhiwen0/zhiwen/internal/log"
)

func newTestServer(engine ChatEngine, store SessionStore) *httptest.Server {
	s := NewServer(engine, store, nil, log.NewNop())
	return httptest.NewServer(s.Handler())
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func TestChatBlocking(t *testing.T) {
	engine := &fakeEngine{answer: "42", sources: []string{"[a.md] content..."}}
	store := newFakeSessions()
	sessionID := store.seed()

	srv := newTestServer(engine, store)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/chat",
		`{"question": "meaning of life?", "session_id": "`+sessionID+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	body := decodeJSON[ChatResponse](t, resp)
	if body.Answer != "42" || body.SessionID != sessionID {
		t.Errorf("body = %+v", body)
	}
	if len(body.Sources) != 1 {
		t.Errorf("sources = %v", body.Sources)
	}
	if engine.lastQuestion != "meaning of life?" {
		t.Errorf("engine received %q", engine.lastQuestion)
	}
}

func TestChatAutoCreatesSession(t *testing.T) {
	engine := &fakeEngine{answer: "hello"}
	store := newFakeSessions()

	srv := newTestServer(engine, store)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/chat", `{"question": "hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	body := decodeJSON[ChatResponse](t, resp)
	if body.SessionID == "" {
		t.Fatal("expected an auto-created session id")
	}
	exists, _ := store.SessionExists(t.Context(), body.SessionID)
	if !exists {
		t.Error("session was not created in the store")
	}
}

func TestChatValidation(t *testing.T) {
	engine := &fakeEngine{answer: "x"}
	store := newFakeSessions()

	srv := newTestServer(engine, store)
	defer srv.Close()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"empty question", `{"question": ""}`, http.StatusBadRequest},
		{"oversized question", `{"question": "` + strings.Repeat("a", MaxQuestionLength+1) + `"}`, http.StatusBadRequest},
		{"unknown session", `{"question": "q", "session_id": "nope"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/chat", tt.body)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestChatEngineFailure(t *testing.T) {
	engine := &fakeEngine{err: errBoom}
	store := newFakeSessions()
	sessionID := store.seed()

	srv := newTestServer(engine, store)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/chat",
		`{"question": "q", "session_id": "`+sessionID+`"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	Event string
	Data  string
}

func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	defer resp.Body.Close()

	var events []sseEvent
	var cur sseEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.Event != "" {
				events = append(events, cur)
				cur = sseEvent{}
			}
		}
	}
	return events
}

func TestChatStream(t *testing.T) {
	engine := &fakeEngine{fragments: []string{"The ", "answer."}}
	store := newFakeSessions()
	sessionID := store.seed()

	srv := newTestServer(engine, store)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/chat/stream",
		`{"question": "q", "session_id": "`+sessionID+`"}`)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	events := readSSE(t, resp)
	if len(events) != 4 {
		t.Fatalf("got %d events (%v), want 4", len(events), events)
	}
	if events[0].Event != "session" {
		t.Errorf("first event = %q, want session", events[0].Event)
	}
	var opened SSESessionData
	if err := json.Unmarshal([]byte(events[0].Data), &opened); err != nil || opened.SessionID != sessionID {
		t.Errorf("session event data = %q", events[0].Data)
	}
	var text strings.Builder
	for _, ev := range events[1:3] {
		if ev.Event != "content" {
			t.Errorf("event = %q, want content", ev.Event)
		}
		var chunk SSEContentData
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			t.Fatalf("parsing content data: %v", err)
		}
		text.WriteString(chunk.Text)
	}
	if text.String() != "The answer." {
		t.Errorf("streamed text = %q", text.String())
	}
	if events[3].Event != "done" {
		t.Errorf("last event = %q, want done", events[3].Event)
	}
}

func TestChatStreamError(t *testing.T) {
	engine := &fakeEngine{err: errBoom}
	store := newFakeSessions()
	sessionID := store.seed()

	srv := newTestServer(engine, store)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/chat/stream",
		`{"question": "q", "session_id": "`+sessionID+`"}`)
	events := readSSE(t, resp)

	last := events[len(events)-1]
	if last.Event != "error" {
		t.Errorf("last event = %q, want error", last.Event)
	}
}

func TestChatStreamUnknownSession(t *testing.T) {
	srv := newTestServer(&fakeEngine{}, newFakeSessions())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/chat/stream",
		`{"question": "q", "session_id": "missing"}`)
	events := readSSE(t, resp)
	if len(events) != 1 || events[0].Event != "error" {
		t.Fatalf("events = %v, want single error", events)
	}
	var data SSEErrorData
	if err := json.Unmarshal([]byte(events[0].Data), &data); err != nil {
		t.Fatalf("parsing error data: %v", err)
	}
	if data.Code != "session_not_found" {
		t.Errorf("code = %q", data.Code)
	}
}
