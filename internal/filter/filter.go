// Package filter normalizes and applies tag/mime search filters, with
// descendant-propagation for non-leaf nodes.
package filter

import (
	"strings"

	"github.com/axiomme/axiomme/internal/indexstore"
)

// SearchFilter is the user-facing filter input.
type SearchFilter struct {
	Tags []string
	Mime string // empty means unset
}

// normalized is a SearchFilter with trimmed, lower-cased fields.
type normalized struct {
	tags map[string]bool
	mime string
}

// IsEmpty reports whether f has no effective constraints.
func (f SearchFilter) IsEmpty() bool {
	n := normalize(f)
	return len(n.tags) == 0 && n.mime == ""
}

func normalize(f SearchFilter) normalized {
	n := normalized{tags: make(map[string]bool)}
	for _, tag := range f.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			n.tags[tag] = true
		}
	}
	n.mime = strings.ToLower(strings.TrimSpace(f.Mime))
	return n
}

// mimeByExtension maps a trailing filename extension to its inferred mime
// type; records with no recognized extension have no inferred mime.
var mimeByExtension = map[string]string{
	"md":       "text/markdown",
	"markdown": "text/markdown",
	"txt":      "text/plain",
	"log":      "text/plain",
	"json":     "application/json",
	"rs":       "text/rust",
}

// InferMime infers a record's mime type from the trailing extension of its
// last URI segment (or Name, if that's what the caller has on hand).
func InferMime(lastSegment string) string {
	idx := strings.LastIndex(lastSegment, ".")
	if idx < 0 || idx == len(lastSegment)-1 {
		return ""
	}
	ext := strings.ToLower(lastSegment[idx+1:])
	return mimeByExtension[ext]
}

// LeafMatches reports whether a leaf record matches f: all wanted tags are
// present (case-insensitive) and, if mime is set, the record's inferred
// mime equals the wanted mime.
func LeafMatches(rec indexstore.IndexRecord, f SearchFilter) bool {
	n := normalize(f)

	if len(n.tags) > 0 {
		have := make(map[string]bool, len(rec.Tags))
		for _, tag := range rec.Tags {
			have[strings.ToLower(strings.TrimSpace(tag))] = true
		}
		for tag := range n.tags {
			if !have[tag] {
				return false
			}
		}
	}

	if n.mime != "" {
		if InferMime(lastSegment(rec.URI)) != n.mime {
			return false
		}
	}

	return true
}

func lastSegment(uriStr string) string {
	idx := strings.LastIndex(uriStr, "/")
	if idx < 0 {
		return uriStr
	}
	return uriStr[idx+1:]
}

// DescendantMatcher resolves whether a given child URI (leaf or non-leaf
// subtree) matches the filter; HasMatchingDescendant uses it to lazily
// decide whether a parent node should be considered a match during DRR
// descent, without needing the full subtree materialized up front.
type DescendantMatcher func(childURI string) bool

// HasMatchingDescendant reports whether any uri in uris matches, using
// matches to test each one. A caller descending a tree passes a matches
// closure that recurses for non-leaf children and bottoms out at
// LeafMatches for actual leaves, so a single call here covers an entire
// subtree under filter monotonicity: a non-leaf matches iff at least one
// descendant leaf matches under LeafMatches with the identical
// normalized filter.
func HasMatchingDescendant(uris []string, matches DescendantMatcher) bool {
	for _, uriStr := range uris {
		if matches(uriStr) {
			return true
		}
	}
	return false
}
