package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/Cirilcetra/agentbackend/internal/index"
	"github.com/Cirilcetra/agentbackend/internal/log"
	"github.com/Cirilcetra/agentbackend/internal/testutil"
)

func seedIndex(t *testing.T, idx *index.Memory, records []index.Record) {
	t.Helper()
	if err := idx.Upsert(context.Background(), records); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
}

func TestRankMergesAcrossCategories(t *testing.T) {
	embedder := testutil.NewMockEmbedder(4)
	idx := index.NewMemory(embedder)
	ranker := NewRanker(idx, DefaultBudgets(), log.NewNop())

	embedder.SetVector("go skills", []float32{1, 0, 0, 0})
	seedIndex(t, idx, []index.Record{
		{TenantID: "default", Category: index.CategoryProfile, SourceID: "skills", Content: "Skills: Go", Vector: []float32{1, 0, 0, 0}},
		{TenantID: "default", Category: index.CategoryProject, SourceID: "p1", Content: "Project: CLI tool", Vector: []float32{0.9, 0.1, 0, 0}},
		{TenantID: "default", Category: index.CategoryNote, SourceID: "n1", Content: "unrelated note", Vector: []float32{0, 0, 1, 0}},
	})

	got := ranker.Rank(context.Background(), "default", "", "go skills")
	if len(got) != 3 {
		t.Fatalf("Rank() returned %d snippets, want 3", len(got))
	}
	if got[0].Content != "Skills: Go" {
		t.Errorf("closest snippet = %q, want the exact match", got[0].Content)
	}
	if got[0].Category != index.CategoryProfile {
		t.Errorf("closest category = %q, want profile", got[0].Category)
	}
	if got[2].Content != "unrelated note" {
		t.Errorf("furthest snippet = %q, want the unrelated note", got[2].Content)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Distance < got[i-1].Distance {
			t.Errorf("snippets out of order at %d: %v then %v", i, got[i-1].Distance, got[i].Distance)
		}
	}
}

func TestRankRespectsTotalBudget(t *testing.T) {
	embedder := testutil.NewMockEmbedder(4)
	idx := index.NewMemory(embedder)
	budgets := DefaultBudgets()
	budgets.Total = 2
	ranker := NewRanker(idx, budgets, log.NewNop())

	var records []index.Record
	for i, c := range []string{"alpha", "beta", "gamma", "delta"} {
		records = append(records, index.Record{
			TenantID: "default",
			Category: index.CategoryNote,
			SourceID: c,
			Content:  c,
			Vector:   []float32{float32(i), 1, 0, 0},
		})
	}
	seedIndex(t, idx, records)

	got := ranker.Rank(context.Background(), "default", "", "anything")
	if len(got) != 2 {
		t.Fatalf("Rank() returned %d snippets, want total budget of 2", len(got))
	}
}

func TestRankConversationRequiresVisitor(t *testing.T) {
	embedder := testutil.NewMockEmbedder(4)
	idx := index.NewMemory(embedder)
	ranker := NewRanker(idx, DefaultBudgets(), log.NewNop())

	seedIndex(t, idx, []index.Record{
		{TenantID: "default", Category: index.CategoryConversation, SourceID: "m1", VisitorID: "visitor-a", Content: "User: hi\nAI: hello", Vector: []float32{1, 0, 0, 0}},
	})

	// No visitor id: conversation category is skipped entirely.
	got := ranker.Rank(context.Background(), "default", "", "hi")
	if len(got) != 0 {
		t.Fatalf("Rank() without visitor returned %d snippets, want 0", len(got))
	}

	// The owning visitor sees the turn.
	got = ranker.Rank(context.Background(), "default", "visitor-a", "hi")
	if len(got) != 1 {
		t.Fatalf("Rank() for owner returned %d snippets, want 1", len(got))
	}

	// A different visitor does not.
	got = ranker.Rank(context.Background(), "default", "visitor-b", "hi")
	if len(got) != 0 {
		t.Fatalf("Rank() for stranger returned %d snippets, want 0", len(got))
	}
}

// failingIndex fails queries for one category and delegates the rest.
type failingIndex struct {
	index.Index
	failCategory string
}

func (f *failingIndex) Query(ctx context.Context, query string, k int, filter index.Filter) ([]index.Result, error) {
	if filter.Category == f.failCategory {
		return nil, errors.New("backend down")
	}
	return f.Index.Query(ctx, query, k, filter)
}

func TestRankSkipsFailedCategory(t *testing.T) {
	embedder := testutil.NewMockEmbedder(4)
	mem := index.NewMemory(embedder)
	seedIndex(t, mem, []index.Record{
		{TenantID: "default", Category: index.CategoryProfile, SourceID: "bio", Content: "Bio: engineer", Vector: []float32{1, 0, 0, 0}},
		{TenantID: "default", Category: index.CategoryNote, SourceID: "n1", Content: "a note", Vector: []float32{0, 1, 0, 0}},
	})
	ranker := NewRanker(&failingIndex{Index: mem, failCategory: index.CategoryNote}, DefaultBudgets(), log.NewNop())

	got := ranker.Rank(context.Background(), "default", "", "engineer")
	if len(got) != 1 {
		t.Fatalf("Rank() with one failing category returned %d snippets, want 1", len(got))
	}
	if got[0].Category != index.CategoryProfile {
		t.Errorf("surviving snippet category = %q, want profile", got[0].Category)
	}
}

func TestByCategoryGroupsInRankedOrder(t *testing.T) {
	snippets := []Snippet{
		{ID: "1", Category: index.CategoryProfile, Distance: 0.1},
		{ID: "2", Category: index.CategoryNote, Distance: 0.2},
		{ID: "3", Category: index.CategoryProfile, Distance: 0.3},
	}
	grouped := ByCategory(snippets)
	if len(grouped[index.CategoryProfile]) != 2 {
		t.Fatalf("profile group = %d, want 2", len(grouped[index.CategoryProfile]))
	}
	if grouped[index.CategoryProfile][0].ID != "1" || grouped[index.CategoryProfile][1].ID != "3" {
		t.Errorf("profile group order wrong: %+v", grouped[index.CategoryProfile])
	}
}
