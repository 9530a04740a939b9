// Package memory implements the durable, session-scoped conversation log and
// its bounded-size rendering for prompting.
//
// Messages form an append-only, totally ordered log per session. Sequence
// numbers are assigned by the store inside a transaction that locks the
// session row, so two concurrent appends on the same session can never
// receive colliding numbers.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store manages sessions and messages backed by PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a conversation memory store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// CreateSession creates a new session and returns its id. The id is a random
// UUID; collision probability is treated as zero, so there is no retry logic.
func (s *Store) CreateSession(ctx context.Context, userID string, metadata map[string]string) (string, error) {
	id := uuid.NewString()

	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshaling session metadata: %w", err)
	}

	var userIDPtr *string
	if userID != "" {
		userIDPtr = &userID
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, created_at, updated_at, metadata)
		 VALUES ($1, $2, $3, $3, $4)`,
		id, userIDPtr, now, metadataJSON,
	)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("created session", "session_id", id, "user_id", userID)
	return id, nil
}

// AppendMessage appends a message to a session's log and returns the stored
// message with its assigned sequence number.
//
// Sequence assignment and the session's updated_at refresh happen in one
// transaction. The session row is locked first so concurrent appends on the
// same session serialize instead of racing on MAX(sequence).
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role Role, content string) (*Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	// Lock the session row. Also serves as the existence check.
	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("locking session: %w", err)
	}

	now := time.Now().UTC()
	msg := &Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO messages (session_id, role, content, created_at, sequence)
		 VALUES ($1, $2, $3, $4,
		         COALESCE((SELECT MAX(sequence) FROM messages WHERE session_id = $1), 0) + 1)
		 RETURNING id, sequence`,
		sessionID, string(role), content, now,
	).Scan(&msg.ID, &msg.Sequence)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET updated_at = $1 WHERE id = $2`, now, sessionID,
	); err != nil {
		return nil, fmt.Errorf("updating session timestamp: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing message append: %w", err)
	}

	s.logger.Debug("appended message",
		"session_id", sessionID, "role", role, "sequence", msg.Sequence)
	return msg, nil
}

// GetRecent returns the most recent turns of a session, oldest first. At most
// maxTurns turns (2*maxTurns messages) are returned; recency is assumed more
// relevant than distant history, and the bound keeps prompt size and latency
// predictable.
func (s *Store) GetRecent(ctx context.Context, sessionID string, maxTurns int) ([]Message, error) {
	if maxTurns <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, created_at, sequence
		 FROM messages
		 WHERE session_id = $1
		 ORDER BY sequence DESC
		 LIMIT $2`,
		sessionID, maxTurns*2,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	defer rows.Close()

	var newestFirst []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.CreatedAt, &m.Sequence); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = Role(role)
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading recent messages: %w", err)
	}

	// Reverse into oldest-first order.
	for i, j := 0, len(newestFirst)-1; i < j; i, j = i+1, j-1 {
		newestFirst[i], newestFirst[j] = newestFirst[j], newestFirst[i]
	}
	return newestFirst, nil
}

// GetHistory returns up to limit messages of a session, oldest first.
// Used by the history API endpoint.
func (s *Store) GetHistory(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	exists, err := s.SessionExists(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	msgs, err := s.GetRecent(ctx, sessionID, (limit+1)/2)
	if err != nil {
		return nil, err
	}
	// GetRecent works in whole turns; trim the oldest message when an odd
	// limit rounds up.
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// SessionExists reports whether a session id is present in the store.
func (s *Store) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM sessions WHERE id = $1`, sessionID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking session existence: %w", err)
	}
	return true, nil
}

// GetSessionCount returns the total number of sessions.
func (s *Store) GetSessionCount(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return count, nil
}

// ListSessions returns summaries of all sessions with their message counts,
// most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, COALESCE(s.user_id, ''), s.created_at, s.updated_at, COUNT(m.id)
		 FROM sessions s
		 LEFT JOIN messages m ON m.session_id = s.id
		 GROUP BY s.id
		 ORDER BY s.updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	summaries := make([]SessionSummary, 0)
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ID, &sum.UserID, &sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning session summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading session summaries: %w", err)
	}
	return summaries, nil
}
