// Package retrieval turns a natural-language query into a ranked, diversified
// set of knowledge chunks.
//
// Retrieval is two-stage: fetch the FetchK nearest neighbors of the query
// embedding by similarity, then select TopK of them by maximal marginal
// relevance, trading relevance against redundancy among the already-selected
// chunks.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
)

// Config holds retriever tuning parameters. TopK and FetchK fall back to the
// package defaults when zero. Lambda is taken as given: 1 is pure relevance,
// 0 is pure diversity, and out-of-range values are rejected. Callers wanting
// the default balance pass DefaultLambda explicitly.
type Config struct {
	TopK   int     // chunks returned (k)
	FetchK int     // neighbors fetched before re-ranking
	Lambda float64 // relevance/diversity balance in [0,1]
}

// Retriever performs diversity-aware semantic search over a vector index.
//
// Retriever is safe for concurrent use by multiple goroutines.
type Retriever struct {
	embedder Embedder
	index    Index
	topK     int
	fetchK   int
	lambda   float64
	logger   *slog.Logger
}

// NewRetriever creates a Retriever over the given embedder and index.
func NewRetriever(embedder Embedder, index Index, cfg Config, logger *slog.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.FetchK <= 0 {
		cfg.FetchK = DefaultFetchK
	}
	if cfg.Lambda < 0 || cfg.Lambda > 1 {
		return nil, fmt.Errorf("lambda must be within [0, 1], got %v", cfg.Lambda)
	}
	if cfg.FetchK < cfg.TopK {
		cfg.FetchK = cfg.TopK
	}

	return &Retriever{
		embedder: embedder,
		index:    index,
		topK:     cfg.TopK,
		fetchK:   cfg.FetchK,
		lambda:   cfg.Lambda,
		logger:   logger,
	}, nil
}

// Retrieve returns at most TopK chunks relevant to the query, best first.
//
// An empty index yields an empty result. An uninitialized index surfaces
// ErrIndexNotReady; deciding whether that is fatal is the caller's call.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Chunk, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	candidates, err := r.index.Search(ctx, vector, r.fetchK)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	selected := mmrSelect(candidates, r.topK, r.lambda)

	chunks := make([]Chunk, len(selected))
	for i, c := range selected {
		chunks[i] = c.Chunk
	}

	r.logger.Debug("retrieved chunks",
		"fetched", len(candidates), "selected", len(chunks))
	return chunks, nil
}
