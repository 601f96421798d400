// Package index provides the per-tenant semantic index: a uniform interface
// over an embedding call plus a vector collection, with a PostgreSQL/pgvector
// implementation and an in-memory implementation for demo mode and tests.
//
// Chunk identity is (tenant_id, category, source_id, chunk_index). The
// identity is stable across re-ingestion, so upserting the same source twice
// replaces its chunks instead of duplicating them.
package index

import (
	"context"
	"fmt"
)

// Categories of indexed content. Retrieval issues one query per category so a
// large category cannot starve a sparse one.
const (
	CategoryProfile      = "profile"
	CategoryProject      = "project"
	CategoryDocument     = "document"
	CategoryNote         = "note"
	CategoryConversation = "conversation"
)

// VectorDimension is the dimension of stored embeddings.
// Matches text-embedding-ada-002 and the vector(1536) column in db/migrations.
const VectorDimension = 1536

// Record is one indexed chunk with its embedding and tags.
type Record struct {
	TenantID    string
	Category    string
	Subcategory string
	SourceID    string
	ChunkIndex  int
	TotalChunks int
	VisitorID   string // set only for conversation records
	Content     string
	Vector      []float32
	Metadata    map[string]string
}

// ID returns the stable chunk identifier.
// Re-ingesting a source produces the same IDs, enabling upsert-as-replace.
func (r Record) ID() string {
	return fmt.Sprintf("%s/%s/%s/%d", r.TenantID, r.Category, r.SourceID, r.ChunkIndex)
}

// Result is a single nearest-neighbor match.
// Distance is cosine distance: lower is closer.
type Result struct {
	ID       string
	Content  string
	Metadata map[string]string
	Distance float32
}

// Filter restricts queries and deletes. TenantID is always required;
// the remaining fields narrow the match when non-empty.
type Filter struct {
	TenantID  string
	Category  string
	SourceID  string
	VisitorID string
}

// Index is the vector index abstraction consumed by ingestion and retrieval.
//
// Implementations must be safe for concurrent use.
type Index interface {
	// Upsert inserts or replaces records by their stable ID.
	Upsert(ctx context.Context, records []Record) error

	// Query embeds the query text and returns up to k nearest records
	// matching the filter, ordered by ascending distance.
	Query(ctx context.Context, query string, k int, f Filter) ([]Result, error)

	// Delete removes all records matching the filter.
	Delete(ctx context.Context, f Filter) error

	// Count returns the number of records matching the filter.
	Count(ctx context.Context, f Filter) (int, error)
}
