package retrieval

import (
	"context"
	"errors"
)

// VectorDimension is the embedding width stored in the chunks table. The
// Gemini embedder is configured to truncate its output to this size.
const VectorDimension int32 = 768

// Default operating parameters for retrieval.
const (
	// DefaultTopK is the number of chunks returned to the caller.
	DefaultTopK = 5

	// DefaultFetchK is the number of nearest neighbors fetched before
	// diversity re-ranking.
	DefaultFetchK = 20

	// DefaultLambda balances relevance against diversity in re-ranking.
	// 1.0 is pure relevance, 0.0 is pure diversity.
	DefaultLambda = 0.7
)

// ErrIndexNotReady indicates the vector index has not been initialized.
// Distinct from an initialized-but-empty index, which yields zero results.
var ErrIndexNotReady = errors.New("vector index not ready")

// Chunk is one retrieved span of knowledge. Chunks are ephemeral: produced
// per query, never persisted by the retriever.
type Chunk struct {
	Content string  // chunk text
	Source  string  // originating document identifier
	Score   float64 // similarity to the query (higher is better)
}

// Candidate is a search hit with its embedding, as returned by an Index.
// The embedding is needed for diversity re-ranking.
type Candidate struct {
	Chunk
	Embedding []float32
}

// Embedder converts text into a fixed-length vector. Deterministic for a
// fixed model version.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the external vector index contract. Search returns the k nearest
// neighbors of the query vector by similarity, best first. An uninitialized
// index reports ErrIndexNotReady; an empty index returns zero candidates.
type Index interface {
	Search(ctx context.Context, vector []float32, k int) ([]Candidate, error)
}
