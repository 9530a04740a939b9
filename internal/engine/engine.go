// Package engine orchestrates the question answering pipeline: bounded
// history, retrieval, prompt assembly, generation, and persistence.
//
// Each request runs a small state machine
//
//	IDLE → RETRIEVING → PROMPTING → GENERATING → PERSISTING → DONE | FAILED
//
// with no automatic retries: a failure in any state surfaces directly to the
// caller. Requests on different sessions run concurrently; requests on the
// same session serialize, because sequence assignment and history rendering
// are not safe under interleaving.
package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/zhiwen0/zhiwen/internal/memory"
	"github.com/zhiwen0/zhiwen/internal/prompt"
	"github.com/zhiwen0/zhiwen/internal/retrieval"
)

// Default pipeline parameters. DefaultTemperature and DefaultMaxOutputTokens
// seed the configuration defaults; New applies only the history and token
// fallbacks itself, since a zero temperature is a meaningful setting.
const (
	DefaultMaxHistoryTurns = 10
	DefaultWindowChars     = 2000
	DefaultTemperature     = 0.7
	DefaultMaxOutputTokens = 1024

	// maxSources bounds the number of citations attached to an answer.
	maxSources = 3

	// sourcePreviewRunes is how much chunk content a citation shows.
	sourcePreviewRunes = 80
)

// chunkSeparator joins retrieved chunk contents inside the prompt.
const chunkSeparator = "\n\n---\n\n"

// Params are the generation parameters passed to the model.
type Params struct {
	Temperature     float32
	MaxOutputTokens int32
}

// Model is the generative model contract. Both calls are side-effect-free
// with respect to engine state. GenerateStream yields text fragments lazily;
// the producer suspends until the consumer requests the next element.
type Model interface {
	Generate(ctx context.Context, promptText string, params Params) (string, error)
	GenerateStream(ctx context.Context, promptText string, params Params) iter.Seq2[string, error]
}

// MemoryStore is the slice of the conversation store the engine needs.
type MemoryStore interface {
	AppendMessage(ctx context.Context, sessionID string, role memory.Role, content string) (*memory.Message, error)
	GetRecent(ctx context.Context, sessionID string, maxTurns int) ([]memory.Message, error)
}

// Retriever produces relevance-and-diversity balanced chunks for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]retrieval.Chunk, error)
}

// Config assembles an Engine's collaborators and tuning values. All
// collaborators are injected once at construction; the engine never reaches
// for global state.
type Config struct {
	Memory    MemoryStore
	Retriever Retriever
	Model     Model
	Assembler *prompt.Assembler
	Logger    *slog.Logger

	Params          Params
	MaxHistoryTurns int
	WindowChars     int

	// RateLimiter, when set, gates model calls proactively.
	RateLimiter *rate.Limiter
}

// Engine coordinates one conversational exchange per call.
//
// Engine is safe for concurrent use by multiple goroutines.
type Engine struct {
	memory    MemoryStore
	retriever Retriever
	model     Model
	assembler *prompt.Assembler
	logger    *slog.Logger
	tracer    trace.Tracer

	params          Params
	maxHistoryTurns int
	windowChars     int
	limiter         *rate.Limiter

	locks *sessionLocks
}

// New creates an Engine from the given configuration.
func New(cfg Config) (*Engine, error) {
	if cfg.Memory == nil {
		return nil, errors.New("memory store is required")
	}
	if cfg.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if cfg.Model == nil {
		return nil, errors.New("model is required")
	}
	if cfg.Assembler == nil {
		return nil, errors.New("prompt assembler is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = DefaultMaxHistoryTurns
	}
	if cfg.WindowChars <= 0 {
		cfg.WindowChars = DefaultWindowChars
	}
	// Temperature 0 is a valid request for deterministic output, so the
	// value passes through untouched; the configured default is applied by
	// the config layer, not here.
	if cfg.Params.Temperature < 0 {
		return nil, errors.New("temperature must not be negative")
	}
	if cfg.Params.MaxOutputTokens == 0 {
		cfg.Params.MaxOutputTokens = DefaultMaxOutputTokens
	}

	return &Engine{
		memory:          cfg.Memory,
		retriever:       cfg.Retriever,
		model:           cfg.Model,
		assembler:       cfg.Assembler,
		logger:          cfg.Logger,
		tracer:          otel.Tracer("github.com/zhiwen0/zhiwen/internal/engine"),
		params:          cfg.Params,
		maxHistoryTurns: cfg.MaxHistoryTurns,
		windowChars:     cfg.WindowChars,
		limiter:         cfg.RateLimiter,
		locks:           newSessionLocks(),
	}, nil
}

// Ask answers a question in blocking mode and persists the exchange: the
// human message first, then the assistant message, with consecutive sequence
// numbers. Citations cover at most the top three retrieved chunks.
func (e *Engine) Ask(ctx context.Context, question, sessionID string) (string, []string, error) {
	unlock := e.locks.acquire(sessionID)
	defer unlock()

	ctx, span := e.tracer.Start(ctx, "engine.Ask",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	r := newRun(sessionID, e.logger, span)

	promptText, chunks, err := e.prepare(ctx, r, question, sessionID)
	if err != nil {
		return "", nil, r.fail(err)
	}

	r.to(StateGenerating)
	answer, err := e.generate(ctx, promptText)
	if err != nil {
		return "", nil, r.fail(fmt.Errorf("%w: %w", ErrGenerationFailed, err))
	}

	r.to(StatePersisting)
	if err := e.persistTurn(ctx, sessionID, question, answer); err != nil {
		return "", nil, r.fail(err)
	}

	r.to(StateDone)
	return answer, formatSources(chunks), nil
}

// prepare runs the RETRIEVING and PROMPTING states shared by Ask and
// AskStream: bounded history, chunk retrieval, prompt assembly.
func (e *Engine) prepare(ctx context.Context, r *run, question, sessionID string) (string, []retrieval.Chunk, error) {
	r.to(StateRetrieving)

	recent, err := e.memory.GetRecent(ctx, sessionID, e.maxHistoryTurns)
	if err != nil {
		return "", nil, fmt.Errorf("loading history: %w", err)
	}
	historyText := memory.RenderWindow(recent, e.windowChars)

	chunks, err := e.retriever.Retrieve(ctx, question)
	if err != nil {
		// An uninitialized index is a recognized degraded mode, not a
		// failure: generation proceeds with persona-only context.
		if errors.Is(err, retrieval.ErrIndexNotReady) {
			e.logger.Warn("retrieval unavailable, answering without context",
				"session_id", sessionID)
			chunks = nil
		} else {
			return "", nil, fmt.Errorf("retrieving context: %w", err)
		}
	}

	r.to(StatePrompting)
	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}
	promptText := e.assembler.Build(historyText, strings.Join(contents, chunkSeparator), question)

	return promptText, chunks, nil
}

// generate invokes the model in blocking mode, honoring the rate limiter.
func (e *Engine) generate(ctx context.Context, promptText string) (string, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return e.model.Generate(ctx, promptText, e.params)
}

// persistTurn appends the human message then the assistant message. The two
// writes share the session lock held by the caller, so the pair receives
// consecutive sequence numbers.
func (e *Engine) persistTurn(ctx context.Context, sessionID, question, answer string) error {
	if _, err := e.memory.AppendMessage(ctx, sessionID, memory.RoleHuman, question); err != nil {
		if errors.Is(err, memory.ErrSessionNotFound) {
			return err
		}
		return fmt.Errorf("%w: persisting question: %w", ErrPersistenceFailed, err)
	}
	if _, err := e.memory.AppendMessage(ctx, sessionID, memory.RoleAssistant, answer); err != nil {
		return fmt.Errorf("%w: persisting answer: %w", ErrPersistenceFailed, err)
	}
	return nil
}

// formatSources renders citations as "[source] <content preview>..." for at
// most the top maxSources chunks. Always returns a non-nil slice.
func formatSources(chunks []retrieval.Chunk) []string {
	n := len(chunks)
	if n > maxSources {
		n = maxSources
	}
	sources := make([]string, 0, n)
	for _, c := range chunks[:n] {
		preview := []rune(c.Content)
		if len(preview) > sourcePreviewRunes {
			preview = preview[:sourcePreviewRunes]
		}
		sources = append(sources, fmt.Sprintf("[%s] %s...", c.Source, string(preview)))
	}
	return sources
}
