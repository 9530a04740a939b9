package testutil

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/zhiwen0/zhiwen/internal/retrieval"
)

// MockEmbedder produces deterministic unit vectors: the same text always
// embeds to the same vector, and different texts rarely collide. Useful for
// exercising similarity search without a real embedding model.
type MockEmbedder struct {
	// Err, when set, fails every call.
	Err error
}

func (e *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return DeterministicVector(text), nil
}

// DeterministicVector hashes text into a normalized vector of the retrieval
// dimension.
func DeterministicVector(text string) []float32 {
	vec := make([]float32, retrieval.VectorDimension)
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	var norm float64
	for i := range vec {
		// xorshift keeps the sequence cheap and reproducible.
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		v := float32(int64(seed%2000)-1000) / 1000
		vec[i] = v
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
