package memory

import "errors"

// Sentinel errors for store operations, checked with errors.Is().
var (
	// ErrSessionNotFound indicates the referenced session does not exist.
	// Surfaced to the caller, never retried locally.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidRole indicates a message role outside human/assistant.
	ErrInvalidRole = errors.New("invalid message role")
)
