// Package mock provides a deterministic embedder for tests.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Embedder generates deterministic embeddings without a model backend.
// Texts sharing words produce correlated vectors, which is enough for
// exercising similarity search in tests.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with the given dimensionality.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &Embedder{dimensions: dimensions}
}

// Embed produces a unit vector derived from the text's words. Each word
// contributes a hash-seeded pseudo-random component, so overlapping
// vocabularies yield higher cosine similarity.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embedding := make([]float32, m.dimensions)

	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		words = []string{""}
	}
	for _, word := range words {
		h := fnv.New64a()
		h.Write([]byte(word))
		seed := h.Sum64()
		for i := 0; i < m.dimensions; i++ {
			// Simple LCG keyed by the word hash.
			seed = seed*6364136223846793005 + 1442695040888963407
			embedding[i] += float32(int64(seed)) / float32(math.MaxInt64)
		}
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
