package drr

import (
	"context"

	"github.com/axiomme/axiomme/internal/filter"
	"github.com/axiomme/axiomme/internal/indexstore"
)

// Embedder produces a query embedding for the vector side of a hybrid
// search. When no embedder is configured, Plan leaves the plan's
// Embedding nil and the engine scores every candidate set as lex-only
// (vec_norm collapses to a constant, so alpha dominates).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Plan builds a TypedQueryPlan from free-text query, an index snapshot,
// and an optional filter: normalized lexical terms, an optional
// embedding, and the set of scope roots that pass the filter.
func Plan(ctx context.Context, store *indexstore.Store, queryText string, f filter.SearchFilter, embedder Embedder) (TypedQueryPlan, error) {
	plan := TypedQueryPlan{
		LexicalTerms: indexstore.Tokenize(queryText),
		Filter:       f,
	}

	if embedder != nil {
		embedding, err := embedder.Embed(ctx, queryText)
		if err != nil {
			return TypedQueryPlan{}, err
		}
		plan.Embedding = embedding
	}

	cache := make(map[string]bool)
	for _, rec := range store.Roots() {
		if nodeMatchesFilter(store, rec.URI, f, cache) {
			plan.EntryRoots = append(plan.EntryRoots, rec.URI)
		}
	}

	return plan, nil
}
