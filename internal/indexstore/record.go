// Package indexstore holds the in-memory index of IndexRecords, the
// incremental BM25 lexical statistics, and the bucket-based approximate
// vector index used by the DRR retrieval engine.
package indexstore

import "time"

// ContextType classifies an IndexRecord's content.
type ContextType string

const (
	ContextTypeResource ContextType = "resource"
	ContextTypeMemory   ContextType = "memory"
	ContextTypeOther    ContextType = "other"
)

// IndexRecord is a single addressable node in the index.
type IndexRecord struct {
	ID           string
	URI          string
	ParentURI    string // empty when the record has no parent
	IsLeaf       bool
	ContextType  ContextType
	Name         string
	AbstractText string
	Content      string
	Tags         []string
	UpdatedAt    time.Time
	Depth        int
}

// AssembledText builds the text tokenized for lexical indexing:
// name + " " + abstract_text + " " + content + " " + tags.join(" ").
func (r IndexRecord) AssembledText() string {
	text := r.Name + " " + r.AbstractText + " " + r.Content
	if len(r.Tags) > 0 {
		text += " "
		for i, tag := range r.Tags {
			if i > 0 {
				text += " "
			}
			text += tag
		}
	}
	return text
}

// ChildIndexEntry is the lightweight value stored under children_by_parent;
// it avoids holding a second copy of the full record.
type ChildIndexEntry struct {
	URI       string
	IsLeaf    bool
	UpdatedAt time.Time
}

// VectorRow is an optional (uri, embedding) pair. D (embedding dimension)
// is fixed per installation; rows with mismatched length are rejected by
// the store.
type VectorRow struct {
	URI       string
	Embedding []float32
}
