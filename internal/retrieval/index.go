package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// undefinedTable is the PostgreSQL error code raised when the chunks table
// does not exist, i.e. the index was never initialized.
const undefinedTable = "42P01"

// PgIndex is a vector index backed by PostgreSQL + pgvector. It holds the
// single logical knowledge base collection in the chunks table.
//
// PgIndex is safe for concurrent use by multiple goroutines.
type PgIndex struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPgIndex creates a pgvector-backed index over the given pool.
func NewPgIndex(pool *pgxpool.Pool, logger *slog.Logger) (*PgIndex, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PgIndex{pool: pool, logger: logger}, nil
}

// Search returns the k nearest neighbors of vector by cosine similarity,
// best first, with their stored embeddings.
func (x *PgIndex) Search(ctx context.Context, vector []float32, k int) ([]Candidate, error) {
	if k <= 0 {
		return nil, nil
	}

	queryVec := pgvector.NewVector(vector)
	rows, err := x.pool.Query(ctx,
		`SELECT content, source, embedding, 1 - (embedding <=> $1) AS similarity
		 FROM chunks
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		queryVec, k,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
			return nil, fmt.Errorf("chunks table missing: %w", ErrIndexNotReady)
		}
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		var emb pgvector.Vector
		if err := rows.Scan(&c.Content, &c.Source, &emb, &c.Score); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		c.Embedding = emb.Slice()
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunks: %w", err)
	}
	return candidates, nil
}

// Add embeds content and stores it as a chunk in the knowledge base.
// The chunk id is derived from source and content, so re-indexing the same
// document is idempotent.
func (x *PgIndex) Add(ctx context.Context, embedder Embedder, content, source string) error {
	vector, err := embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embedding chunk: %w", err)
	}

	id := chunkID(source, content)
	_, err = x.pool.Exec(ctx,
		`INSERT INTO chunks (id, content, source, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET content = EXCLUDED.content, source = EXCLUDED.source,
		     embedding = EXCLUDED.embedding`,
		id, content, source, pgvector.NewVector(vector), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting chunk: %w", err)
	}

	x.logger.Debug("added chunk", "source", source, "content_length", len(content))
	return nil
}

// chunkID derives a stable chunk identifier from source and content.
func chunkID(source, content string) string {
	sum := sha256.Sum256([]byte(source + "\x00" + content))
	return hex.EncodeToString(sum[:])
}

// Count returns the number of indexed chunks. An uninitialized index counts
// as zero rather than failing, so health checks stay cheap.
func (x *PgIndex) Count(ctx context.Context) (int, error) {
	var count int
	err := x.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
			return 0, nil
		}
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}
