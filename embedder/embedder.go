// Package embedder converts text to vector embeddings for similarity
// search. The index manager and the long-term memory store never talk to
// an embedding backend directly; they only see this interface.
package embedder

import "context"

// Embedder converts text to vector embeddings.
// Implementations: openai.Client (API-based), mock.Embedder (testing).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
