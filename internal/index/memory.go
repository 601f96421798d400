package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/Cirilcetra/agentbackend/internal/embed"
)

// Memory is an in-process Index implementation: brute-force cosine distance
// over a map of records. Used in demo mode, as the fallback when PostgreSQL is
// unreachable, and in tests.
//
// Safe for concurrent use.
type Memory struct {
	embedder embed.Embedder

	mu      sync.RWMutex
	records map[string]Record
	order   map[string]int // insertion order for deterministic ties
	next    int
}

// NewMemory creates an empty in-memory index backed by the given embedder.
func NewMemory(embedder embed.Embedder) *Memory {
	return &Memory{
		embedder: embedder,
		records:  make(map[string]Record),
		order:    make(map[string]int),
	}
}

// Upsert inserts or replaces records by stable ID.
func (m *Memory) Upsert(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		id := r.ID()
		if _, exists := m.records[id]; !exists {
			m.order[id] = m.next
			m.next++
		}
		m.records[id] = r
	}
	return nil
}

// Query embeds the query text and returns the k nearest matching records.
func (m *Memory) Query(ctx context.Context, query string, k int, f Filter) ([]Result, error) {
	if f.TenantID == "" {
		return nil, fmt.Errorf("query requires tenant id")
	}
	if k < 1 {
		return nil, nil
	}

	vectors, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	qv := vectors[0]

	type scored struct {
		res   Result
		order int
	}

	m.mu.RLock()
	matches := make([]scored, 0, len(m.records))
	for id, r := range m.records {
		if !f.matches(r) {
			continue
		}
		matches = append(matches, scored{
			res: Result{
				ID:       id,
				Content:  r.Content,
				Metadata: cloneMetadata(r.Metadata),
				Distance: cosineDistance(qv, r.Vector),
			},
			order: m.order[id],
		})
	}
	m.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].res.Distance != matches[j].res.Distance {
			return matches[i].res.Distance < matches[j].res.Distance
		}
		return matches[i].order < matches[j].order
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	results := make([]Result, len(matches))
	for i, s := range matches {
		results[i] = s.res
	}
	return results, nil
}

// Delete removes all records matching the filter.
func (m *Memory) Delete(_ context.Context, f Filter) error {
	if f.TenantID == "" {
		return fmt.Errorf("delete requires tenant id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.records {
		if f.matches(r) {
			delete(m.records, id)
			delete(m.order, id)
		}
	}
	return nil
}

// Count returns the number of records matching the filter.
func (m *Memory) Count(_ context.Context, f Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records {
		if f.matches(r) {
			n++
		}
	}
	return n, nil
}

// matches reports whether record r satisfies the filter.
func (f Filter) matches(r Record) bool {
	if r.TenantID != f.TenantID {
		return false
	}
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.SourceID != "" && r.SourceID != f.SourceID {
		return false
	}
	if f.VisitorID != "" && r.VisitorID != f.VisitorID {
		return false
	}
	return true
}

// cosineDistance returns 1 - cosine similarity, matching pgvector's <=>
// operator. Zero-norm vectors (demo mode placeholders) yield distance 1 so
// they sort after any real match.
func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

// cloneMetadata copies a metadata map so callers cannot mutate stored state.
func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
