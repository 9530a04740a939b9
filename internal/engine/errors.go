package engine

import "errors"

// Sentinel errors for pipeline failures, checked with errors.Is(). Session
// lookup failures surface as memory.ErrSessionNotFound; an uninitialized
// vector index is a degraded mode, not an error.
var (
	// ErrGenerationFailed indicates the generative model call failed or
	// timed out. Terminal; never retried; nothing is persisted.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrPersistenceFailed indicates a store write failed after a successful
	// generation. For streams the delivered text cannot be un-sent; this is
	// an acknowledged consistency gap.
	ErrPersistenceFailed = errors.New("persistence failed")
)
