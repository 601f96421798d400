// Package embed abstracts the embedding service behind a small interface with
// two implementations: an OpenAI-backed embedder and a zero-vector embedder
// used in demo mode and as a degradation target when the provider fails.
package embed

import "context"

// Embedder converts texts into fixed-dimension vectors.
//
// Implementations must return exactly one vector per input text, each of
// Dimension() length, or an error.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension produced by this embedder.
	Dimension() int
}

// ZeroVector returns an all-zero vector of the given dimension.
// Used as a placeholder when embedding degrades so content stays queryable.
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}
