package drr_test

import (
	"context"
	"testing"
	"time"

	"github.com/axiomme/axiomme/internal/drr"
	"github.com/axiomme/axiomme/internal/filter"
	"github.com/axiomme/axiomme/internal/indexstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTwoLeafStore(t *testing.T) *indexstore.Store {
	t.Helper()
	s := indexstore.New()
	s.Upsert(indexstore.IndexRecord{
		URI:    "axiom://resources/docs",
		IsLeaf: false,
	})
	s.Upsert(indexstore.IndexRecord{
		URI:       "axiom://resources/docs/a.md",
		ParentURI: "axiom://resources/docs",
		IsLeaf:    true,
		Content:   "alpha alpha alpha",
		UpdatedAt: time.Unix(100, 0),
	})
	s.Upsert(indexstore.IndexRecord{
		URI:       "axiom://resources/docs/b.md",
		ParentURI: "axiom://resources/docs",
		IsLeaf:    true,
		Content:   "alpha",
		UpdatedAt: time.Unix(200, 0),
	})
	return s
}

func TestSearchPureLexicalPrefersHigherTermFrequency(t *testing.T) {
	s := buildTwoLeafStore(t)
	cfg := drr.Config{Alpha: 1.0, GlobalTopK: 1, MaxConvergenceRounds: 3, MaxDepth: 5, MaxNodes: 256}
	e := drr.New(s, cfg)

	plan, err := drr.Plan(context.Background(), s, "alpha", filter.SearchFilter{}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, plan.EntryRoots)

	trace := e.Search(plan, drr.SearchBudget{})
	require.Len(t, trace.Hits, 1)
	assert.Equal(t, "axiom://resources/docs/a.md", trace.Hits[0].URI)
	assert.Equal(t, drr.TerminationFilled, trace.TerminationReason)
}

func TestSearchIsDeterministicAcrossRuns(t *testing.T) {
	s := buildTwoLeafStore(t)
	cfg := drr.DefaultConfig()
	e := drr.New(s, cfg)

	plan, err := drr.Plan(context.Background(), s, "alpha", filter.SearchFilter{}, nil)
	require.NoError(t, err)

	first := e.Search(plan, drr.SearchBudget{})
	second := e.Search(plan, drr.SearchBudget{})
	assert.Equal(t, first.Hits, second.Hits)
	assert.Equal(t, first.TerminationReason, second.TerminationReason)
}

func TestSearchNoRootsWhenFilterExcludesEverything(t *testing.T) {
	s := buildTwoLeafStore(t)
	e := drr.New(s, drr.DefaultConfig())

	plan, err := drr.Plan(context.Background(), s, "alpha", filter.SearchFilter{Tags: []string{"nonexistent"}}, nil)
	require.NoError(t, err)
	assert.Empty(t, plan.EntryRoots)

	trace := e.Search(plan, drr.SearchBudget{})
	assert.Equal(t, drr.TerminationNoRoots, trace.TerminationReason)
}

func TestSearchTieBreakByUpdatedAtThenURI(t *testing.T) {
	s := indexstore.New()
	s.Upsert(indexstore.IndexRecord{URI: "axiom://resources/docs", IsLeaf: false})
	s.Upsert(indexstore.IndexRecord{
		URI: "axiom://resources/docs/a.md", ParentURI: "axiom://resources/docs",
		IsLeaf: true, Content: "alpha", UpdatedAt: time.Unix(100, 0),
	})
	s.Upsert(indexstore.IndexRecord{
		URI: "axiom://resources/docs/b.md", ParentURI: "axiom://resources/docs",
		IsLeaf: true, Content: "alpha", UpdatedAt: time.Unix(100, 0),
	})

	cfg := drr.Config{Alpha: 1.0, GlobalTopK: 1, MaxConvergenceRounds: 1, MaxDepth: 5, MaxNodes: 256}
	e := drr.New(s, cfg)
	plan, err := drr.Plan(context.Background(), s, "alpha", filter.SearchFilter{}, nil)
	require.NoError(t, err)

	trace := e.Search(plan, drr.SearchBudget{})
	require.Len(t, trace.Hits, 1)
	assert.Equal(t, "axiom://resources/docs/a.md", trace.Hits[0].URI, "equal scores and updated_at break tie toward smaller URI")
}

func TestSearchRespectsMaxDepthBudget(t *testing.T) {
	s := indexstore.New()
	s.Upsert(indexstore.IndexRecord{URI: "axiom://resources/a", IsLeaf: false})
	s.Upsert(indexstore.IndexRecord{URI: "axiom://resources/a/b", ParentURI: "axiom://resources/a", IsLeaf: false})
	s.Upsert(indexstore.IndexRecord{
		URI: "axiom://resources/a/b/c.md", ParentURI: "axiom://resources/a/b",
		IsLeaf: true, Content: "alpha",
	})

	cfg := drr.Config{Alpha: 1.0, GlobalTopK: 1, MaxConvergenceRounds: 0, MaxDepth: 1, MaxNodes: 256}
	e := drr.New(s, cfg)
	plan, err := drr.Plan(context.Background(), s, "alpha", filter.SearchFilter{}, nil)
	require.NoError(t, err)

	trace := e.Search(plan, drr.SearchBudget{})
	assert.Empty(t, trace.Hits, "leaf beyond max_depth is never reached")
}
