// Package ingest projects tenant content into the semantic index. Each
// source (profile field, project, document, note, conversation turn) is
// reindexed with delete-then-insert so stale chunks from a previous, longer
// version never survive an update.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/Cirilcetra/agentbackend/internal/chunker"
	"github.com/Cirilcetra/agentbackend/internal/embed"
	"github.com/Cirilcetra/agentbackend/internal/index"
	"github.com/Cirilcetra/agentbackend/internal/log"
	"github.com/Cirilcetra/agentbackend/internal/storage"
)

// ContentSource is the storage surface full-tenant reindexing reads from.
type ContentSource interface {
	GetProfile(ctx context.Context, tenantID string) (*storage.Profile, error)
	ListProjects(ctx context.Context, tenantID string) ([]storage.Project, error)
	ListDocuments(ctx context.Context, tenantID string) ([]storage.Document, error)
	ListNotes(ctx context.Context, tenantID string) ([]storage.Note, error)
}

// Pipeline turns content into embedded chunks in the semantic index.
type Pipeline struct {
	index    index.Index
	embedder embed.Embedder
	logger   log.Logger
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(idx index.Index, embedder embed.Embedder, logger log.Logger) *Pipeline {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pipeline{index: idx, embedder: embedder, logger: logger}
}

// ReindexProfile replaces the tenant's profile chunks. Each non-empty field
// becomes its own chunk keyed by the field name, so field-level updates and
// retrieval both work at field granularity.
func (p *Pipeline) ReindexProfile(ctx context.Context, profile *storage.Profile) error {
	p.deleteSource(ctx, index.Filter{
		TenantID: profile.TenantID,
		Category: index.CategoryProfile,
	})

	fields := profile.Fields()
	var records []index.Record
	for _, field := range storage.FieldOrder {
		value, ok := fields[field]
		if !ok {
			continue
		}
		records = append(records, index.Record{
			TenantID:    profile.TenantID,
			Category:    index.CategoryProfile,
			Subcategory: field,
			SourceID:    field,
			ChunkIndex:  0,
			TotalChunks: 1,
			Content:     fmt.Sprintf("%s: %s", fieldLabel(field), value),
		})
	}
	return p.embedAndUpsert(ctx, records)
}

// ReindexProject replaces a project's chunks: one summary chunk plus the
// chunked long-form content.
func (p *Pipeline) ReindexProject(ctx context.Context, project *storage.Project) error {
	sourceID := project.ID.String()
	p.deleteSource(ctx, index.Filter{
		TenantID: project.TenantID,
		Category: index.CategoryProject,
		SourceID: sourceID,
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "Project: %s", project.Title)
	if project.Description != "" {
		fmt.Fprintf(&sb, "\nDescription: %s", project.Description)
	}
	if project.Category != "" {
		fmt.Fprintf(&sb, "\nCategory: %s", project.Category)
	}
	if project.Details != "" {
		fmt.Fprintf(&sb, "\nDetails: %s", project.Details)
	}

	texts := []string{sb.String()}
	texts = append(texts, chunker.Split(project.Content)...)

	records := make([]index.Record, 0, len(texts))
	for i, text := range texts {
		records = append(records, index.Record{
			TenantID:    project.TenantID,
			Category:    index.CategoryProject,
			Subcategory: project.Category,
			SourceID:    sourceID,
			ChunkIndex:  i,
			TotalChunks: len(texts),
			Content:     text,
			Metadata:    map[string]string{"title": project.Title},
		})
	}
	return p.embedAndUpsert(ctx, records)
}

// DeleteProject removes a project's chunks without reinserting.
func (p *Pipeline) DeleteProject(ctx context.Context, tenantID string, projectID uuid.UUID) error {
	return p.index.Delete(ctx, index.Filter{
		TenantID: tenantID,
		Category: index.CategoryProject,
		SourceID: projectID.String(),
	})
}

// ReindexDocument replaces a document's chunks. Long documents are split so
// retrieval can surface the relevant passage rather than the whole file.
func (p *Pipeline) ReindexDocument(ctx context.Context, doc *storage.Document) error {
	sourceID := doc.ID.String()
	p.deleteSource(ctx, index.Filter{
		TenantID: doc.TenantID,
		Category: index.CategoryDocument,
		SourceID: sourceID,
	})

	texts := chunker.Split(doc.Content)
	records := make([]index.Record, 0, len(texts))
	for i, text := range texts {
		if doc.Title != "" {
			text = fmt.Sprintf("Document: %s\n%s", doc.Title, text)
		}
		records = append(records, index.Record{
			TenantID:    doc.TenantID,
			Category:    index.CategoryDocument,
			SourceID:    sourceID,
			ChunkIndex:  i,
			TotalChunks: len(texts),
			Content:     text,
			Metadata:    map[string]string{"title": doc.Title},
		})
	}
	return p.embedAndUpsert(ctx, records)
}

// ReindexNote replaces a note's chunks.
func (p *Pipeline) ReindexNote(ctx context.Context, note *storage.Note) error {
	sourceID := note.ID.String()
	p.deleteSource(ctx, index.Filter{
		TenantID: note.TenantID,
		Category: index.CategoryNote,
		SourceID: sourceID,
	})

	texts := chunker.Split(note.Content)
	records := make([]index.Record, 0, len(texts))
	for i, text := range texts {
		records = append(records, index.Record{
			TenantID:    note.TenantID,
			Category:    index.CategoryNote,
			SourceID:    sourceID,
			ChunkIndex:  i,
			TotalChunks: len(texts),
			Content:     text,
		})
	}
	return p.embedAndUpsert(ctx, records)
}

// ReindexTurn indexes one completed conversation turn, scoped to the visitor
// so retrieval never leaks one visitor's conversation to another. The turn is
// indexed as a single chunk; turns are short by construction.
func (p *Pipeline) ReindexTurn(ctx context.Context, tenantID string, visitorID, messageID uuid.UUID, userText, reply string) error {
	record := index.Record{
		TenantID:    tenantID,
		Category:    index.CategoryConversation,
		SourceID:    messageID.String(),
		ChunkIndex:  0,
		TotalChunks: 1,
		VisitorID:   visitorID.String(),
		Content:     fmt.Sprintf("User: %s\nAI: %s", userText, reply),
	}
	return p.embedAndUpsert(ctx, []index.Record{record})
}

// DeleteVisitorTurns removes all of a visitor's indexed conversation chunks,
// used when their conversation is deleted.
func (p *Pipeline) DeleteVisitorTurns(ctx context.Context, tenantID string, visitorID uuid.UUID) error {
	return p.index.Delete(ctx, index.Filter{
		TenantID:  tenantID,
		Category:  index.CategoryConversation,
		VisitorID: visitorID.String(),
	})
}

// ReindexTenant rebuilds the full index for a tenant from the relational
// store. A missing profile is skipped, not an error.
func (p *Pipeline) ReindexTenant(ctx context.Context, tenantID string, src ContentSource) error {
	profile, err := src.GetProfile(ctx, tenantID)
	switch {
	case err == nil:
		if err := p.ReindexProfile(ctx, profile); err != nil {
			return fmt.Errorf("reindexing profile: %w", err)
		}
	case !errors.Is(err, storage.ErrNotFound):
		p.logger.Warn("failed to load profile for reindex", "tenant_id", tenantID, "error", err)
	}

	projects, err := src.ListProjects(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("listing projects for reindex: %w", err)
	}
	for i := range projects {
		if err := p.ReindexProject(ctx, &projects[i]); err != nil {
			return fmt.Errorf("reindexing project %s: %w", projects[i].ID, err)
		}
	}

	docs, err := src.ListDocuments(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("listing documents for reindex: %w", err)
	}
	for i := range docs {
		if err := p.ReindexDocument(ctx, &docs[i]); err != nil {
			return fmt.Errorf("reindexing document %s: %w", docs[i].ID, err)
		}
	}

	notes, err := src.ListNotes(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("listing notes for reindex: %w", err)
	}
	for i := range notes {
		if err := p.ReindexNote(ctx, &notes[i]); err != nil {
			return fmt.Errorf("reindexing note %s: %w", notes[i].ID, err)
		}
	}

	p.logger.Info("tenant reindexed",
		"tenant_id", tenantID,
		"projects", len(projects),
		"documents", len(docs),
		"notes", len(notes))
	return nil
}

// fieldLabel renders a profile field name as a prompt-friendly label.
func fieldLabel(field string) string {
	if field == "" {
		return field
	}
	r := []rune(field)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// deleteSource clears previous chunks for a source. Failure is logged and
// ignored: the upsert that follows overwrites matching ids anyway, so the
// worst case is a stale tail chunk, not a failed reindex.
func (p *Pipeline) deleteSource(ctx context.Context, f index.Filter) {
	if err := p.index.Delete(ctx, f); err != nil {
		p.logger.Warn("failed to clear previous chunks",
			"tenant_id", f.TenantID,
			"category", f.Category,
			"source_id", f.SourceID,
			"error", err)
	}
}

// embedAndUpsert embeds all record contents in one batch and writes them to
// the index. If embedding fails the records are written with zero vectors so
// content survives provider outages; they sort last in similarity queries and
// get real vectors on the next reindex.
func (p *Pipeline) embedAndUpsert(ctx context.Context, records []index.Record) error {
	if len(records) == 0 {
		return nil
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Content
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil || len(vectors) != len(records) {
		p.logger.Warn("embedding failed, indexing with placeholder vectors",
			"records", len(records), "error", err)
		vectors = make([][]float32, len(records))
		for i := range vectors {
			vectors[i] = embed.ZeroVector(p.embedder.Dimension())
		}
	}

	for i := range records {
		records[i].Vector = vectors[i]
	}
	if err := p.index.Upsert(ctx, records); err != nil {
		return fmt.Errorf("upserting %d chunks: %w", len(records), err)
	}
	return nil
}
