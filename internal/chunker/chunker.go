// Package chunker splits long text into overlapping fixed-size windows for
// embedding. Chunk boundaries are byte offsets into the original text, so
// concatenating the chunks with the overlaps removed reconstructs the input.
package chunker

// Default chunking parameters, matching the sizes used for indexed content.
const (
	// DefaultSize is the target chunk size in bytes.
	DefaultSize = 1000

	// DefaultOverlap is the number of bytes shared between adjacent chunks.
	DefaultOverlap = 100
)

// Option configures chunking behavior using the functional options pattern.
type Option func(*config)

type config struct {
	size    int
	overlap int
}

// WithSize sets the target chunk size. Values < 1 fall back to DefaultSize.
func WithSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithOverlap sets the overlap between adjacent chunks.
// Negative values fall back to DefaultOverlap; the overlap is clamped below
// the chunk size so the window always advances.
func WithOverlap(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// Split divides text into ordered, overlapping chunks of at most the target
// size. Text no longer than the target yields a single chunk. Empty text
// yields no chunks. Split is pure: it has no side effects and the same input
// always produces the same output.
func Split(text string, opts ...Option) []string {
	cfg := &config{
		size:    DefaultSize,
		overlap: DefaultOverlap,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	// The window must advance by at least one byte per chunk.
	if cfg.overlap >= cfg.size {
		cfg.overlap = cfg.size - 1
	}

	if text == "" {
		return nil
	}
	if len(text) <= cfg.size {
		return []string{text}
	}

	step := cfg.size - cfg.overlap
	chunks := make([]string, 0, (len(text)+step-1)/step)
	for start := 0; start < len(text); start += step {
		end := start + cfg.size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}
	return chunks
}
