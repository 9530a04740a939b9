package memory

import "time"

// Role identifies the author of a message.
type Role string

// Valid message roles. A conversational turn is one human message followed by
// its paired assistant message; the store does not enforce alternation, so a
// human message without a matching assistant message (a failed generation) is
// a valid state.
const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleHuman || r == RoleAssistant
}

// Label returns the display label used when rendering a prompt window.
func (r Role) Label() string {
	if r == RoleHuman {
		return "Human"
	}
	return "Assistant"
}

// Session is a conversation container. Sessions are never deleted by this
// package; deletion is an external concern.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  map[string]string
}

// Message is one entry in a session's append-only log. Messages are immutable
// once created. Sequence is assigned by the store and increases strictly by
// one per message within a session, starting at 1.
type Message struct {
	ID        int64
	SessionID string
	Role      Role
	Content   string
	CreatedAt time.Time
	Sequence  int
}

// SessionSummary describes a session for listing purposes.
type SessionSummary struct {
	ID           string    `json:"session_id"`
	UserID       string    `json:"user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}
