package api

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/google/uuid"

	"github.com/zhiwen0/zhiwen/internal/memory"
)

// fakeEngine implements ChatEngine with canned answers.
type fakeEngine struct {
	answer    string
	sources   []string
	fragments []string
	err       error

	mu           sync.Mutex
	lastQuestion string
	lastSession  string
}

func (e *fakeEngine) Ask(_ context.Context, question, sessionID string) (string, []string, error) {
	e.mu.Lock()
	e.lastQuestion, e.lastSession = question, sessionID
	e.mu.Unlock()
	if e.err != nil {
		return "", nil, e.err
	}
	return e.answer, e.sources, nil
}

func (e *fakeEngine) AskStream(_ context.Context, question, sessionID string) iter.Seq2[string, error] {
	e.mu.Lock()
	e.lastQuestion, e.lastSession = question, sessionID
	e.mu.Unlock()
	return func(yield func(string, error) bool) {
		if e.err != nil {
			yield("", e.err)
			return
		}
		for _, f := range e.fragments {
			if !yield(f, nil) {
				return
			}
		}
	}
}

// fakeSessions implements SessionStore in memory.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string][]memory.Message
	err      error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string][]memory.Message)}
}

func (s *fakeSessions) CreateSession(context.Context, string, map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	id := uuid.NewString()
	s.sessions[id] = nil
	return id, nil
}

func (s *fakeSessions) SessionExists(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	_, ok := s.sessions[sessionID]
	return ok, nil
}

func (s *fakeSessions) GetHistory(_ context.Context, sessionID string, limit int) ([]memory.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	msgs, ok := s.sessions[sessionID]
	if !ok {
		return nil, memory.ErrSessionNotFound
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *fakeSessions) GetSessionCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return len(s.sessions), nil
}

func (s *fakeSessions) ListSessions(context.Context) ([]memory.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	summaries := make([]memory.SessionSummary, 0, len(s.sessions))
	for id, msgs := range s.sessions {
		summaries = append(summaries, memory.SessionSummary{ID: id, MessageCount: len(msgs)})
	}
	return summaries, nil
}

func (s *fakeSessions) seed(msgs ...memory.Message) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	for i := range msgs {
		msgs[i].SessionID = id
		msgs[i].Sequence = i + 1
	}
	s.sessions[id] = msgs
	return id
}

var errBoom = errors.New("boom")
