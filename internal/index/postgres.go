package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/Cirilcetra/agentbackend/internal/embed"
	"github.com/Cirilcetra/agentbackend/internal/log"
)

// Postgres is the durable Index implementation backed by pgvector.
// Records live in the index_chunks table (see db/migrations); tenancy is
// enforced by the tenant_id column filter on every statement.
//
// Safe for concurrent use.
type Postgres struct {
	pool     *pgxpool.Pool
	embedder embed.Embedder
	logger   log.Logger
}

// NewPostgres creates a pgvector-backed index.
// The pool must have pgvector types registered (see storage.OpenPool).
func NewPostgres(pool *pgxpool.Pool, embedder embed.Embedder, logger log.Logger) *Postgres {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Postgres{pool: pool, embedder: embedder, logger: logger}
}

const upsertChunkSQL = `
INSERT INTO index_chunks
	(id, tenant_id, category, subcategory, source_id, chunk_index, total_chunks, visitor_id, content, embedding, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
	subcategory = EXCLUDED.subcategory,
	total_chunks = EXCLUDED.total_chunks,
	visitor_id = EXCLUDED.visitor_id,
	content = EXCLUDED.content,
	embedding = EXCLUDED.embedding,
	metadata = EXCLUDED.metadata`

// Upsert inserts or replaces records by stable ID in a single batch.
func (p *Postgres) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		metadataJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for %q: %w", r.ID(), err)
		}
		vec := pgvector.NewVector(r.Vector)
		batch.Queue(upsertChunkSQL,
			r.ID(), r.TenantID, r.Category, nullable(r.Subcategory), r.SourceID,
			r.ChunkIndex, r.TotalChunks, nullable(r.VisitorID), r.Content, vec, metadataJSON)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer func() {
		if err := results.Close(); err != nil {
			p.logger.Warn("closing upsert batch", "error", err)
		}
	}()

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting chunk batch: %w", err)
		}
	}
	return nil
}

const queryChunksSQL = `
SELECT id, content, metadata, embedding <=> $1 AS distance
FROM index_chunks
WHERE tenant_id = $2
	AND ($3 = '' OR category = $3)
	AND ($4 = '' OR source_id = $4)
	AND ($5 = '' OR visitor_id = $5)
ORDER BY embedding <=> $1, created_at
LIMIT $6`

// Query embeds the query text and returns the k nearest matching records.
func (p *Postgres) Query(ctx context.Context, query string, k int, f Filter) ([]Result, error) {
	if f.TenantID == "" {
		return nil, fmt.Errorf("query requires tenant id")
	}
	if k < 1 {
		return nil, nil
	}

	vectors, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	qv := pgvector.NewVector(vectors[0])

	rows, err := p.pool.Query(ctx, queryChunksSQL,
		qv, f.TenantID, f.Category, f.SourceID, f.VisitorID, k)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r            Result
			metadataJSON []byte
			distance     float64
		)
		if err := rows.Scan(&r.ID, &r.Content, &metadataJSON, &distance); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		r.Distance = float32(distance)
		if err := json.Unmarshal(metadataJSON, &r.Metadata); err != nil {
			p.logger.Warn("failed to parse chunk metadata", "chunk_id", r.ID, "error", err)
			r.Metadata = map[string]string{}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunk rows: %w", err)
	}
	return results, nil
}

const deleteChunksSQL = `
DELETE FROM index_chunks
WHERE tenant_id = $1
	AND ($2 = '' OR category = $2)
	AND ($3 = '' OR source_id = $3)
	AND ($4 = '' OR visitor_id = $4)`

// Delete removes all records matching the filter.
func (p *Postgres) Delete(ctx context.Context, f Filter) error {
	if f.TenantID == "" {
		return fmt.Errorf("delete requires tenant id")
	}
	tag, err := p.pool.Exec(ctx, deleteChunksSQL, f.TenantID, f.Category, f.SourceID, f.VisitorID)
	if err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	p.logger.Debug("deleted chunks",
		"tenant_id", f.TenantID,
		"category", f.Category,
		"source_id", f.SourceID,
		"count", tag.RowsAffected())
	return nil
}

const countChunksSQL = `
SELECT count(*) FROM index_chunks
WHERE tenant_id = $1
	AND ($2 = '' OR category = $2)
	AND ($3 = '' OR source_id = $3)
	AND ($4 = '' OR visitor_id = $4)`

// Count returns the number of records matching the filter.
func (p *Postgres) Count(ctx context.Context, f Filter) (int, error) {
	var n int64
	err := p.pool.QueryRow(ctx, countChunksSQL, f.TenantID, f.Category, f.SourceID, f.VisitorID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return int(n), nil
}

// nullable converts an empty string to a SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
