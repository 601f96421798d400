package embed

import "context"

// Zero is the demo-mode embedder. Every text maps to the same zero vector, so
// ranking is meaningless but the rest of the pipeline stays exercisable
// without provider credentials.
type Zero struct {
	dim int
}

// NewZero creates a zero-vector embedder of the given dimension.
// Dimensions < 1 fall back to AdaDimension so stored vectors stay compatible
// with a later switch to the real embedder.
func NewZero(dim int) *Zero {
	if dim < 1 {
		dim = AdaDimension
	}
	return &Zero{dim: dim}
}

// Embed returns one zero vector per input text. It never fails.
func (z *Zero) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = ZeroVector(z.dim)
	}
	return vectors, nil
}

// Dimension returns the configured vector dimension.
func (z *Zero) Dimension() int {
	return z.dim
}
