package index

import (
	"context"
	"testing"

	"github.com/Cirilcetra/agentbackend/internal/testutil"
)

func testRecord(tenant, category, sourceID string, chunkIndex int, content string) Record {
	return Record{
		TenantID:    tenant,
		Category:    category,
		SourceID:    sourceID,
		ChunkIndex:  chunkIndex,
		TotalChunks: 1,
		Content:     content,
		Metadata:    map[string]string{"category": category},
	}
}

func TestMemory_UpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	embedder := testutil.NewMockEmbedder(4)
	idx := NewMemory(embedder)

	r := testRecord("t1", CategoryProfile, "profile", 0, "old bio")
	r.Vector = []float32{1, 0, 0, 0}
	if err := idx.Upsert(ctx, []Record{r}); err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	r.Content = "new bio"
	if err := idx.Upsert(ctx, []Record{r}); err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	n, err := idx.Count(ctx, Filter{TenantID: "t1"})
	if err != nil {
		t.Fatalf("Count() = %v", err)
	}
	if n != 1 {
		t.Fatalf("Count() = %d after double upsert, want 1", n)
	}

	results, err := idx.Query(ctx, "bio", 5, Filter{TenantID: "t1"})
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if len(results) != 1 || results[0].Content != "new bio" {
		t.Errorf("Query() = %+v, want single result with updated content", results)
	}
}

func TestMemory_QueryOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	embedder := testutil.NewMockEmbedder(4)
	embedder.SetVector("skills query", []float32{1, 0, 0, 0})
	idx := NewMemory(embedder)

	skills := testRecord("t1", CategoryProfile, "profile", 0, "Go, SQL, distributed systems")
	skills.Subcategory = "skills"
	skills.Vector = []float32{0.9, 0.1, 0, 0}

	bio := testRecord("t1", CategoryProfile, "profile", 1, "I grew up near the coast")
	bio.Subcategory = "bio"
	bio.Vector = []float32{0, 1, 0, 0}

	if err := idx.Upsert(ctx, []Record{bio, skills}); err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	results, err := idx.Query(ctx, "skills query", 5, Filter{TenantID: "t1"})
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Query() returned %d results, want 2", len(results))
	}
	if results[0].Content != skills.Content {
		t.Errorf("closest result = %q, want skills content", results[0].Content)
	}
	if results[0].Distance > results[1].Distance {
		t.Errorf("results not ordered by distance: %v then %v", results[0].Distance, results[1].Distance)
	}
}

func TestMemory_QueryRespectsTenantAndCategory(t *testing.T) {
	ctx := context.Background()
	embedder := testutil.NewMockEmbedder(4)
	idx := NewMemory(embedder)

	a := testRecord("t1", CategoryNote, "n1", 0, "tenant one note")
	a.Vector = []float32{1, 0, 0, 0}
	b := testRecord("t2", CategoryNote, "n2", 0, "tenant two note")
	b.Vector = []float32{1, 0, 0, 0}
	c := testRecord("t1", CategoryDocument, "d1", 0, "tenant one document")
	c.Vector = []float32{1, 0, 0, 0}

	if err := idx.Upsert(ctx, []Record{a, b, c}); err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	results, err := idx.Query(ctx, "note", 10, Filter{TenantID: "t1", Category: CategoryNote})
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Query() returned %d results, want 1", len(results))
	}
	if results[0].Content != "tenant one note" {
		t.Errorf("got %q, want tenant one note", results[0].Content)
	}
}

func TestMemory_QueryVisitorScope(t *testing.T) {
	ctx := context.Background()
	embedder := testutil.NewMockEmbedder(4)
	idx := NewMemory(embedder)

	turn := testRecord("t1", CategoryConversation, "m1", 0, "User: hi\nAI: hello")
	turn.VisitorID = "v1"
	turn.Vector = []float32{1, 0, 0, 0}
	other := testRecord("t1", CategoryConversation, "m2", 0, "User: hey\nAI: hey there")
	other.VisitorID = "v2"
	other.Vector = []float32{1, 0, 0, 0}

	if err := idx.Upsert(ctx, []Record{turn, other}); err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	results, err := idx.Query(ctx, "greeting", 10, Filter{
		TenantID:  "t1",
		Category:  CategoryConversation,
		VisitorID: "v1",
	})
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if len(results) != 1 || results[0].Content != turn.Content {
		t.Errorf("visitor scoping failed: %+v", results)
	}
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	embedder := testutil.NewMockEmbedder(4)
	idx := NewMemory(embedder)

	records := []Record{
		testRecord("t1", CategoryNote, "n1", 0, "chunk one"),
		testRecord("t1", CategoryNote, "n1", 1, "chunk two"),
		testRecord("t1", CategoryNote, "n2", 0, "other note"),
	}
	for i := range records {
		records[i].Vector = []float32{1, 0, 0, 0}
	}
	if err := idx.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	if err := idx.Delete(ctx, Filter{TenantID: "t1", Category: CategoryNote, SourceID: "n1"}); err != nil {
		t.Fatalf("Delete() = %v", err)
	}

	n, err := idx.Count(ctx, Filter{TenantID: "t1"})
	if err != nil {
		t.Fatalf("Count() = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d after delete, want 1", n)
	}
}

func TestMemory_DeleteRequiresTenant(t *testing.T) {
	idx := NewMemory(testutil.NewMockEmbedder(4))
	if err := idx.Delete(context.Background(), Filter{}); err == nil {
		t.Fatal("Delete() without tenant id should fail")
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 1},
		{"dimension mismatch", []float32{1}, []float32{1, 0}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineDistance(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-6 || diff < -1e-6 {
				t.Errorf("cosineDistance() = %v, want %v", got, tt.want)
			}
		})
	}
}
