package filter_test

import (
	"testing"

	"github.com/axiomme/axiomme/internal/filter"
	"github.com/axiomme/axiomme/internal/indexstore"
	"github.com/stretchr/testify/assert"
)

func TestIsEmpty(t *testing.T) {
	assert.True(t, filter.SearchFilter{}.IsEmpty())
	assert.False(t, filter.SearchFilter{Tags: []string{"x"}}.IsEmpty())
	assert.True(t, filter.SearchFilter{Tags: []string{"  "}}.IsEmpty())
}

func TestInferMime(t *testing.T) {
	cases := map[string]string{
		"a.md":       "text/markdown",
		"a.markdown": "text/markdown",
		"a.txt":      "text/plain",
		"a.log":      "text/plain",
		"a.json":     "application/json",
		"a.rs":       "text/rust",
		"a.bin":      "",
		"noext":      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, filter.InferMime(in), in)
	}
}

func TestLeafMatchesTags(t *testing.T) {
	rec := indexstore.IndexRecord{URI: "axiom://resources/docs/a.md", Tags: []string{"Work", "Urgent"}}
	assert.True(t, filter.LeafMatches(rec, filter.SearchFilter{Tags: []string{"work"}}))
	assert.False(t, filter.LeafMatches(rec, filter.SearchFilter{Tags: []string{"personal"}}))
	assert.True(t, filter.LeafMatches(rec, filter.SearchFilter{Tags: []string{"work", "urgent"}}))
}

func TestLeafMatchesMime(t *testing.T) {
	rec := indexstore.IndexRecord{URI: "axiom://resources/docs/a.md"}
	assert.True(t, filter.LeafMatches(rec, filter.SearchFilter{Mime: "text/markdown"}))
	assert.False(t, filter.LeafMatches(rec, filter.SearchFilter{Mime: "application/json"}))
}

func TestHasMatchingDescendantMonotonicity(t *testing.T) {
	f := filter.SearchFilter{Tags: []string{"work"}}
	leaves := []indexstore.IndexRecord{
		{URI: "axiom://resources/docs/a.md", Tags: []string{"personal"}},
		{URI: "axiom://resources/docs/b.md", Tags: []string{"work"}},
	}
	matches := func(uri string) bool {
		for _, l := range leaves {
			if l.URI == uri {
				return filter.LeafMatches(l, f)
			}
		}
		return false
	}

	uris := []string{leaves[0].URI, leaves[1].URI}
	require := assert.New(t)
	require.True(filter.HasMatchingDescendant(uris, matches))

	// if it matched, at least one descendant leaf independently matches
	foundIndependently := false
	for _, l := range leaves {
		if filter.LeafMatches(l, f) {
			foundIndependently = true
		}
	}
	require.True(foundIndependently)
}

func TestHasMatchingDescendantNoMatch(t *testing.T) {
	matches := func(string) bool { return false }
	assert.False(t, filter.HasMatchingDescendant([]string{"a", "b"}, matches))
}
