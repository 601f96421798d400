// Package retrieval ranks indexed content against a visitor's message. Each
// category is queried independently with its own budget, so a tenant with
// hundreds of document chunks cannot starve profile facts out of the prompt.
package retrieval

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Cirilcetra/agentbackend/internal/index"
	"github.com/Cirilcetra/agentbackend/internal/log"
)

// Budgets caps how many chunks each category may contribute, plus the
// overall total after merging.
type Budgets struct {
	Profile      int
	Project      int
	Document     int
	Note         int
	Conversation int
	Total        int
}

// DefaultBudgets returns the standard retrieval budgets.
func DefaultBudgets() Budgets {
	return Budgets{
		Profile:      3,
		Project:      3,
		Document:     5,
		Note:         5,
		Conversation: 2,
		Total:        8,
	}
}

// Snippet is one retrieved chunk, tagged with its category for prompt
// assembly.
type Snippet struct {
	ID       string
	Category string
	Content  string
	Metadata map[string]string
	Distance float32
}

// Ranker retrieves and merges relevant chunks across categories.
type Ranker struct {
	index   index.Index
	budgets Budgets
	logger  log.Logger
}

// NewRanker creates a ranker over the given index.
func NewRanker(idx index.Index, budgets Budgets, logger log.Logger) *Ranker {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Ranker{index: idx, budgets: budgets, logger: logger}
}

// categoryOrder fixes merge order for deterministic tie-breaking.
var categoryOrder = []string{
	index.CategoryProfile,
	index.CategoryProject,
	index.CategoryDocument,
	index.CategoryNote,
	index.CategoryConversation,
}

// Rank queries every category concurrently and merges the results by
// ascending distance, deduplicated by chunk id and truncated to the total
// budget. Retrieval is best-effort: a failed category is logged and skipped,
// never surfaced, so the turn proceeds with whatever context was found.
func (r *Ranker) Rank(ctx context.Context, tenantID, visitorID, query string) []Snippet {
	budgetFor := map[string]int{
		index.CategoryProfile:      r.budgets.Profile,
		index.CategoryProject:      r.budgets.Project,
		index.CategoryDocument:     r.budgets.Document,
		index.CategoryNote:         r.budgets.Note,
		index.CategoryConversation: r.budgets.Conversation,
	}

	var mu sync.Mutex
	byCategory := make(map[string][]index.Result, len(categoryOrder))

	g, ctx := errgroup.WithContext(ctx)
	for _, category := range categoryOrder {
		k := budgetFor[category]
		if k < 1 {
			continue
		}
		f := index.Filter{TenantID: tenantID, Category: category}
		if category == index.CategoryConversation {
			// Conversation recall is private to the visitor.
			if visitorID == "" {
				continue
			}
			f.VisitorID = visitorID
		}

		category := category
		g.Go(func() error {
			results, err := r.index.Query(ctx, query, k, f)
			if err != nil {
				r.logger.Warn("category retrieval failed",
					"tenant_id", tenantID,
					"category", category,
					"error", err)
				return nil
			}
			mu.Lock()
			byCategory[category] = results
			mu.Unlock()
			return nil
		})
	}
	// Goroutines swallow errors, so Wait only synchronizes.
	_ = g.Wait()

	seen := make(map[string]bool)
	var merged []Snippet
	for _, category := range categoryOrder {
		for _, res := range byCategory[category] {
			if seen[res.ID] {
				continue
			}
			seen[res.ID] = true
			merged = append(merged, Snippet{
				ID:       res.ID,
				Category: category,
				Content:  res.Content,
				Metadata: res.Metadata,
				Distance: res.Distance,
			})
		}
	}

	// Stable sort preserves category order for equal distances.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Distance < merged[j].Distance
	})

	if r.budgets.Total > 0 && len(merged) > r.budgets.Total {
		merged = merged[:r.budgets.Total]
	}
	return merged
}

// ByCategory groups snippets by category, preserving their ranked order
// within each group.
func ByCategory(snippets []Snippet) map[string][]Snippet {
	grouped := make(map[string][]Snippet)
	for _, s := range snippets {
		grouped[s.Category] = append(grouped[s.Category], s)
	}
	return grouped
}
