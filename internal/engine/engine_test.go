package engine

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/zhiwen0/zhiwen/internal/log"
	"github.com/zhiwen0/zhiwen/internal/memory"
	"github.com/zhiwen0/zhiwen/internal/prompt"
	"github.com/zhiwen0/zhiwen/internal/retrieval"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStore is an in-memory MemoryStore that assigns sequence numbers the
// way the real store does: per session, starting at 1, incremented by one.
type fakeStore struct {
	mu        sync.Mutex
	messages  map[string][]memory.Message
	appendErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[string][]memory.Message)}
}

func (s *fakeStore) AppendMessage(_ context.Context, sessionID string, role memory.Role, content string) (*memory.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	msg := memory.Message{
		ID:        int64(len(s.messages[sessionID]) + 1),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Sequence:  len(s.messages[sessionID]) + 1,
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	return &msg, nil
}

func (s *fakeStore) GetRecent(_ context.Context, sessionID string, maxTurns int) ([]memory.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[sessionID]
	limit := maxTurns * 2
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]memory.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *fakeStore) all(sessionID string) []memory.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]memory.Message, len(s.messages[sessionID]))
	copy(out, s.messages[sessionID])
	return out
}

// stubRetriever returns fixed chunks or a fixed error.
type stubRetriever struct {
	chunks []retrieval.Chunk
	err    error
}

func (r *stubRetriever) Retrieve(context.Context, string) ([]retrieval.Chunk, error) {
	return r.chunks, r.err
}

// stubModel records the prompt it received and replays canned output.
type stubModel struct {
	mu         sync.Mutex
	lastPrompt string

	answer    string
	fragments []string
	err       error
	// streamErrAfter injects err after yielding that many fragments.
	streamErrAfter int
}

func (m *stubModel) Generate(_ context.Context, promptText string, _ Params) (string, error) {
	m.mu.Lock()
	m.lastPrompt = promptText
	m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	return m.answer, nil
}

func (m *stubModel) GenerateStream(_ context.Context, promptText string, _ Params) iter.Seq2[string, error] {
	m.mu.Lock()
	m.lastPrompt = promptText
	m.mu.Unlock()
	return func(yield func(string, error) bool) {
		for i, f := range m.fragments {
			if m.err != nil && i == m.streamErrAfter {
				yield("", m.err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

func (m *stubModel) prompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPrompt
}

func newTestEngine(t *testing.T, store MemoryStore, ret Retriever, model Model) *Engine {
	t.Helper()
	e, err := New(Config{
		Memory:    store,
		Retriever: ret,
		Model:     model,
		Assembler: prompt.New(prompt.Persona{Name: "Zhiwen", Owner: "Zhiwen Labs"}),
		Logger:    log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestAskPersistsHumanThenAssistant(t *testing.T) {
	store := newFakeStore()
	model := &stubModel{answer: "Paris is the capital of France."}
	ret := &stubRetriever{chunks: []retrieval.Chunk{
		{Content: "France's capital is Paris.", Source: "geo.md", Score: 0.9},
	}}
	e := newTestEngine(t, store, ret, model)

	answer, sources, err := e.Ask(context.Background(), "What is the capital of France?", "s1")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer != "Paris is the capital of France." {
		t.Errorf("answer = %q", answer)
	}
	if len(sources) != 1 || !strings.HasPrefix(sources[0], "[geo.md] ") {
		t.Errorf("sources = %v", sources)
	}

	msgs := store.all("s1")
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != memory.RoleHuman || msgs[0].Sequence != 1 {
		t.Errorf("first message = %+v, want human seq 1", msgs[0])
	}
	if msgs[1].Role != memory.RoleAssistant || msgs[1].Sequence != 2 {
		t.Errorf("second message = %+v, want assistant seq 2", msgs[1])
	}
	if msgs[1].Content != answer {
		t.Errorf("assistant content = %q, want answer", msgs[1].Content)
	}
}

func TestAskEmptyKnowledgeBase(t *testing.T) {
	store := newFakeStore()
	model := &stubModel{answer: "I don't have information about that."}
	e := newTestEngine(t, store, &stubRetriever{}, model)

	answer, sources, err := e.Ask(context.Background(), "anything", "s1")
	if err != nil {
		t.Fatalf("Ask with empty knowledge base: %v", err)
	}
	if answer == "" {
		t.Error("expected an answer")
	}
	if sources == nil {
		t.Error("sources must be non-nil even when empty")
	}
	if len(sources) != 0 {
		t.Errorf("sources = %v, want empty", sources)
	}
	// The context section is present even with nothing retrieved.
	if !strings.Contains(model.prompt(), "[Knowledge Base]:") {
		t.Error("prompt missing knowledge base section")
	}
	if len(store.all("s1")) != 2 {
		t.Error("exchange should still be persisted")
	}
}

func TestAskRetrievalNotReadyDegrades(t *testing.T) {
	store := newFakeStore()
	model := &stubModel{answer: "answer"}
	e := newTestEngine(t, store, &stubRetriever{err: retrieval.ErrIndexNotReady}, model)

	answer, sources, err := e.Ask(context.Background(), "q", "s1")
	if err != nil {
		t.Fatalf("Ask should degrade, got %v", err)
	}
	if answer != "answer" || len(sources) != 0 {
		t.Errorf("answer = %q, sources = %v", answer, sources)
	}
}

func TestAskRetrievalErrorFails(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store, &stubRetriever{err: errors.New("connection refused")}, &stubModel{})

	if _, _, err := e.Ask(context.Background(), "q", "s1"); err == nil {
		t.Fatal("expected error")
	}
	if len(store.all("s1")) != 0 {
		t.Error("nothing should be persisted on retrieval failure")
	}
}

func TestAskGenerationFailureDoesNotPersist(t *testing.T) {
	store := newFakeStore()
	model := &stubModel{err: errors.New("model unavailable")}
	e := newTestEngine(t, store, &stubRetriever{}, model)

	_, _, err := e.Ask(context.Background(), "q", "s1")
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", err)
	}
	if len(store.all("s1")) != 0 {
		t.Error("no messages should be persisted when generation fails")
	}
}

func TestAskUnknownSession(t *testing.T) {
	store := newFakeStore()
	store.appendErr = memory.ErrSessionNotFound
	e := newTestEngine(t, store, &stubRetriever{}, &stubModel{answer: "a"})

	_, _, err := e.Ask(context.Background(), "q", "missing")
	if !errors.Is(err, memory.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestAskIncludesHistory(t *testing.T) {
	store := newFakeStore()
	store.messages["s1"] = []memory.Message{
		{SessionID: "s1", Role: memory.RoleHuman, Content: "hello", Sequence: 1},
		{SessionID: "s1", Role: memory.RoleAssistant, Content: "hi there", Sequence: 2},
	}
	model := &stubModel{answer: "a"}
	e := newTestEngine(t, store, &stubRetriever{}, model)

	if _, _, err := e.Ask(context.Background(), "next question", "s1"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !strings.Contains(model.prompt(), "Human: hello") {
		t.Error("prompt missing prior human message")
	}
	if !strings.Contains(model.prompt(), "Assistant: hi there") {
		t.Error("prompt missing prior assistant message")
	}
}

func TestAskStreamAccumulatesAndPersists(t *testing.T) {
	store := newFakeStore()
	model := &stubModel{fragments: []string{"The ", "answer ", "is 42."}}
	e := newTestEngine(t, store, &stubRetriever{}, model)

	var got strings.Builder
	for fragment, err := range e.AskStream(context.Background(), "q", "s1") {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		got.WriteString(fragment)
	}
	if got.String() != "The answer is 42." {
		t.Errorf("streamed = %q", got.String())
	}

	msgs := store.all("s1")
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
	if msgs[1].Content != "The answer is 42." {
		t.Errorf("assistant content = %q, want the accumulated answer", msgs[1].Content)
	}
}

func TestAskStreamConsumerAbort(t *testing.T) {
	store := newFakeStore()
	model := &stubModel{fragments: []string{"a", "b", "c", "d", "e"}}
	e := newTestEngine(t, store, &stubRetriever{}, model)

	seen := 0
	for _, err := range e.AskStream(context.Background(), "q", "s1") {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Fatalf("consumed %d fragments, want 2", seen)
	}
	if n := len(store.all("s1")); n != 0 {
		t.Errorf("abandoned stream persisted %d messages, want 0", n)
	}

	// The session must be usable immediately afterwards.
	blocking := &stubModel{answer: "fresh"}
	e2 := newTestEngine(t, store, &stubRetriever{}, blocking)
	if _, _, err := e2.Ask(context.Background(), "q2", "s1"); err != nil {
		t.Fatalf("Ask after abort: %v", err)
	}
	msgs := store.all("s1")
	if len(msgs) != 2 || msgs[0].Sequence != 1 {
		t.Errorf("messages after abort = %+v", msgs)
	}
}

func TestAskStreamModelErrorDoesNotPersist(t *testing.T) {
	store := newFakeStore()
	model := &stubModel{fragments: []string{"par", "tial"}, err: errors.New("stream cut"), streamErrAfter: 1}
	e := newTestEngine(t, store, &stubRetriever{}, model)

	var streamErr error
	for _, err := range e.AskStream(context.Background(), "q", "s1") {
		if err != nil {
			streamErr = err
			break
		}
	}
	if !errors.Is(streamErr, ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", streamErr)
	}
	if n := len(store.all("s1")); n != 0 {
		t.Errorf("failed stream persisted %d messages, want 0", n)
	}
}

func TestAskStreamCancelledAtEndSurfacesError(t *testing.T) {
	store := newFakeStore()
	model := &stubModel{fragments: []string{"a", "b"}}
	e := newTestEngine(t, store, &stubRetriever{}, model)

	// Cancel mid-stream but keep consuming: the model drains its fragments
	// regardless, and the consumer must still see the failure at the end.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var streamErr error
	for _, err := range e.AskStream(ctx, "q", "s1") {
		if err != nil {
			streamErr = err
			break
		}
		cancel()
	}
	if !errors.Is(streamErr, ErrGenerationFailed) || !errors.Is(streamErr, context.Canceled) {
		t.Fatalf("err = %v, want ErrGenerationFailed wrapping context.Canceled", streamErr)
	}
	if n := len(store.all("s1")); n != 0 {
		t.Errorf("cancelled stream persisted %d messages, want 0", n)
	}
}

func TestConcurrentAsksSameSession(t *testing.T) {
	store := newFakeStore()
	model := &stubModel{answer: "a"}
	e := newTestEngine(t, store, &stubRetriever{}, model)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := e.Ask(context.Background(), "q", "shared"); err != nil {
				t.Errorf("Ask: %v", err)
			}
		}()
	}
	wg.Wait()

	msgs := store.all("shared")
	if len(msgs) != 4 {
		t.Fatalf("persisted %d messages, want 4", len(msgs))
	}
	for i, msg := range msgs {
		if msg.Sequence != i+1 {
			t.Errorf("message %d sequence = %d, want %d", i, msg.Sequence, i+1)
		}
	}
	// Each exchange is an adjacent human/assistant pair.
	for i := 0; i < len(msgs); i += 2 {
		if msgs[i].Role != memory.RoleHuman || msgs[i+1].Role != memory.RoleAssistant {
			t.Errorf("pair at %d = %s/%s, want human/assistant", i, msgs[i].Role, msgs[i+1].Role)
		}
	}
}

func TestFormatSources(t *testing.T) {
	long := strings.Repeat("界", 100)
	chunks := []retrieval.Chunk{
		{Content: "short", Source: "a.md"},
		{Content: long, Source: "b.md"},
		{Content: "x", Source: "c.md"},
		{Content: "dropped", Source: "d.md"},
	}
	sources := formatSources(chunks)
	if len(sources) != 3 {
		t.Fatalf("len = %d, want 3", len(sources))
	}
	if sources[0] != "[a.md] short..." {
		t.Errorf("sources[0] = %q", sources[0])
	}
	want := "[b.md] " + strings.Repeat("界", 80) + "..."
	if sources[1] != want {
		t.Errorf("long content not truncated to 80 runes: %q", sources[1])
	}
}

func TestNewValidation(t *testing.T) {
	base := func() Config {
		return Config{
			Memory:    newFakeStore(),
			Retriever: &stubRetriever{},
			Model:     &stubModel{},
			Assembler: prompt.New(prompt.Persona{Name: "n", Owner: "o"}),
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing memory", func(c *Config) { c.Memory = nil }},
		{"missing retriever", func(c *Config) { c.Retriever = nil }},
		{"missing model", func(c *Config) { c.Model = nil }},
		{"missing assembler", func(c *Config) { c.Assembler = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Error("expected error")
			}
		})
	}

	e, err := New(base())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.maxHistoryTurns != DefaultMaxHistoryTurns || e.windowChars != DefaultWindowChars {
		t.Error("defaults not applied")
	}
	if e.params.MaxOutputTokens != DefaultMaxOutputTokens {
		t.Error("max output tokens default not applied")
	}
	// A zero temperature means deterministic output, not "use the default".
	if e.params.Temperature != 0 {
		t.Errorf("temperature = %v, want 0 preserved", e.params.Temperature)
	}
}

func TestNewRejectsNegativeTemperature(t *testing.T) {
	_, err := New(Config{
		Memory:    newFakeStore(),
		Retriever: &stubRetriever{},
		Model:     &stubModel{},
		Assembler: prompt.New(prompt.Persona{Name: "Zhiwen", Owner: "Zhiwen Labs"}),
		Params:    Params{Temperature: -1},
	})
	if err == nil {
		t.Fatal("expected error")
	}
}
