// Package testutil provides deterministic test doubles for the embedding
// service and the chat completion provider, plus small helpers shared across
// package tests.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
)

// MockEmbedder provides deterministic embedding vectors for testing.
//
// By default it generates a deterministic vector from content using SHA-256.
// Explicit mappings can be added for precise cosine similarity control.
//
// Thread-safe for concurrent use.
type MockEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	dim     int
	fail    error
	calls   int
}

// NewMockEmbedder creates a mock embedder with the given vector dimension.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{
		vectors: make(map[string][]float32),
		dim:     dim,
	}
}

// SetVector registers an explicit vector for a given content string.
// Use this to control exact cosine similarity between test inputs.
func (e *MockEmbedder) SetVector(content string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[content] = vec
}

// FailWith makes every subsequent Embed call return err.
// Pass nil to restore normal behavior.
func (e *MockEmbedder) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = err
}

// Calls returns the number of Embed invocations.
func (e *MockEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Embed returns one vector per input text.
func (e *MockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	fail := e.fail
	e.mu.Unlock()
	if fail != nil {
		return nil, fail
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.vectorFor(text)
	}
	return vectors, nil
}

// Dimension returns the configured vector dimension.
func (e *MockEmbedder) Dimension() int {
	return e.dim
}

// vectorFor returns the vector for a given content string.
// Uses explicit mapping if available, otherwise generates deterministically
// from a hash of the content.
func (e *MockEmbedder) vectorFor(content string) []float32 {
	e.mu.Lock()
	if v, ok := e.vectors[content]; ok {
		e.mu.Unlock()
		return v
	}
	e.mu.Unlock()

	return deterministicVector(content, e.dim)
}

// deterministicVector derives a unit vector from a SHA-256 hash of content.
// The same content always yields the same vector.
func deterministicVector(content string, dim int) []float32 {
	sum := sha256.Sum256([]byte(content))
	vec := make([]float32, dim)

	var norm float64
	for i := range vec {
		// Cycle through the hash, four bytes per component.
		off := (i * 4) % (len(sum) - 3)
		bits := binary.BigEndian.Uint32(sum[off : off+4])
		// Map to [-1, 1) and perturb by index so cycled components differ.
		v := float64(int32(bits))/float64(math.MaxInt32) + float64(i)*1e-3
		vec[i] = float32(v)
		norm += v * v
	}

	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
