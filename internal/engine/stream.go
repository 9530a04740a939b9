package engine

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AskStream answers a question in streaming mode. It returns a lazy,
// single-consumer, forward-only sequence of text increments; the producer
// suspends between increments and resumes when the consumer requests the
// next one.
//
// Persistence timing: the human and the accumulated assistant message are
// written only after the stream completes. A consumer that stops iterating
// early — or a cancelled context — aborts generation and persists nothing:
// text already emitted is not retracted, but the store remains as if the turn
// never happened, so persisted turns are always complete pairs.
//
// The session lock is held for the lifetime of the iteration, so a second
// request on the same session waits for the stream to finish or abort.
func (e *Engine) AskStream(ctx context.Context, question, sessionID string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		unlock := e.locks.acquire(sessionID)
		defer unlock()

		ctx, span := e.tracer.Start(ctx, "engine.AskStream",
			trace.WithAttributes(attribute.String("session.id", sessionID)))
		defer span.End()

		r := newRun(sessionID, e.logger, span)

		promptText, _, err := e.prepare(ctx, r, question, sessionID)
		if err != nil {
			yield("", r.fail(err))
			return
		}

		r.to(StateGenerating)
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				yield("", r.fail(fmt.Errorf("%w: rate limit wait: %w", ErrGenerationFailed, err)))
				return
			}
		}

		var answer strings.Builder
		for fragment, err := range e.model.GenerateStream(ctx, promptText, e.params) {
			if err != nil {
				yield("", r.fail(fmt.Errorf("%w: %w", ErrGenerationFailed, err)))
				return
			}
			answer.WriteString(fragment)
			if !yield(fragment, nil) {
				// Consumer abandoned the stream mid-generation. Abort
				// without persisting either message.
				r.fail(context.Canceled)
				return
			}
		}
		// The model may drain its stream before noticing cancellation; the
		// consumer is still attached here, so it gets the error explicitly.
		if err := ctx.Err(); err != nil {
			yield("", r.fail(fmt.Errorf("%w: %w", ErrGenerationFailed, err)))
			return
		}

		r.to(StatePersisting)
		if err := e.persistTurn(ctx, sessionID, question, answer.String()); err != nil {
			yield("", r.fail(err))
			return
		}

		r.to(StateDone)
	}
}
