package engine

import (
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State names a phase of the request pipeline. Every request starts at
// StateIdle and terminates at StateDone or StateFailed.
type State string

const (
	StateIdle       State = "IDLE"
	StateRetrieving State = "RETRIEVING"
	StatePrompting  State = "PROMPTING"
	StateGenerating State = "GENERATING"
	StatePersisting State = "PERSISTING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// run tracks one request's progress through the state machine, logging each
// transition and mirroring it onto the request span.
type run struct {
	sessionID string
	state     State
	logger    *slog.Logger
	span      trace.Span
}

func newRun(sessionID string, logger *slog.Logger, span trace.Span) *run {
	return &run{
		sessionID: sessionID,
		state:     StateIdle,
		logger:    logger,
		span:      span,
	}
}

// to advances the state machine.
func (r *run) to(next State) {
	r.logger.Debug("state transition",
		"session_id", r.sessionID, "from", string(r.state), "to", string(next))
	r.span.AddEvent("state", trace.WithAttributes(attribute.String("state", string(next))))
	r.state = next
}

// fail moves the run to StateFailed and returns err for the caller to
// propagate. No state is retried.
func (r *run) fail(err error) error {
	r.to(StateFailed)
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	r.logger.Error("request failed",
		"session_id", r.sessionID, "error", err)
	return err
}
