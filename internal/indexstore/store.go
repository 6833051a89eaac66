package indexstore

import (
	"sync"

	"github.com/axiomme/axiomme/internal/apierr"
)

// Store is the in-memory index: records, the parent→children side-index,
// incremental BM25 lexical statistics, and the optional vector index. It
// is safe for concurrent readers; upserts and removes take the write lock
// (§5 concurrency model — parallel reader threads share the index under a
// read-write lock, writers take the write lock).
type Store struct {
	mu sync.RWMutex

	records          map[string]IndexRecord            // uri -> record
	childrenByParent map[string]map[string]ChildIndexEntry // parent uri -> child uri -> entry

	lexical *lexicalStats
	vectors *vectorIndex
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		records:          make(map[string]IndexRecord),
		childrenByParent: make(map[string]map[string]ChildIndexEntry),
		lexical:          newLexicalStats(),
		vectors:          newVectorIndex(),
	}
}

// Upsert replaces the record by URI, recomputing lexical stats exactly
// (old contribution removed, new one added) and updating the
// parent→children side-index.
func (s *Store) Upsert(record IndexRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.records[record.URI]; ok {
		s.unlinkFromParentLocked(old)
	}

	s.records[record.URI] = record
	s.lexical.Upsert(record.URI, Tokenize(record.AssembledText()))

	if record.ParentURI != "" {
		if s.childrenByParent[record.ParentURI] == nil {
			s.childrenByParent[record.ParentURI] = make(map[string]ChildIndexEntry)
		}
		s.childrenByParent[record.ParentURI][record.URI] = ChildIndexEntry{
			URI:       record.URI,
			IsLeaf:    record.IsLeaf,
			UpdatedAt: record.UpdatedAt,
		}
	}
}

// UpsertVector indexes an embedding for a URI alongside the record.
func (s *Store) UpsertVector(uriStr string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vectors.Upsert(uriStr, embedding)
}

// Remove purges the record, its lexical stats, its vector, and its
// child-entry in its parent's index. If the URI was itself a parent, its
// children remain in childrenByParent and become orphans: the filter
// engine treats them as roots of their own subtree. Removing a URI that
// was never indexed is a no-op, not an error (§7 idempotency).
func (s *Store) Remove(uriStr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.records[uriStr]
	if !ok {
		return
	}
	s.unlinkFromParentLocked(old)
	delete(s.records, uriStr)
	s.lexical.Remove(uriStr)
	s.vectors.Remove(uriStr)
}

func (s *Store) unlinkFromParentLocked(old IndexRecord) {
	if old.ParentURI == "" {
		return
	}
	if siblings, ok := s.childrenByParent[old.ParentURI]; ok {
		delete(siblings, old.URI)
		if len(siblings) == 0 {
			delete(s.childrenByParent, old.ParentURI)
		}
	}
}

// Get returns the record addressed by uri.
func (s *Store) Get(uriStr string) (IndexRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[uriStr]
	if !ok {
		return IndexRecord{}, apierr.NotFound("get", uriStr)
	}
	return rec, nil
}

// Children returns the direct children of parentURI, order unspecified.
func (s *Store) Children(parentURI string) []ChildIndexEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	children := s.childrenByParent[parentURI]
	out := make([]ChildIndexEntry, 0, len(children))
	for _, c := range children {
		out = append(out, c)
	}
	return out
}

// Roots returns every record with no parent_uri, plus any orphaned
// sub-roots left behind by a Remove of an ancestor.
func (s *Store) Roots() []IndexRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]IndexRecord, 0)
	for _, rec := range s.records {
		if rec.ParentURI == "" {
			out = append(out, rec)
			continue
		}
		if _, ok := s.records[rec.ParentURI]; !ok {
			out = append(out, rec) // orphan: parent was removed
		}
	}
	return out
}

// All returns every indexed record, order unspecified.
func (s *Store) All() []IndexRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]IndexRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}

// LexicalScore computes the BM25 score of uri against queryTokens.
func (s *Store) LexicalScore(uriStr string, queryTokens []string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lexical.Score(uriStr, queryTokens)
}

// VectorScore computes the cosine similarity of uri's embedding against a
// query embedding; 0 if uri has no indexed embedding.
func (s *Store) VectorScore(uriStr string, queryEmbedding []float32) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emb, ok := s.vectors.Get(uriStr)
	if !ok {
		return 0
	}
	return CosineSimilarity(emb, queryEmbedding)
}

// VectorCandidates returns the approximate-neighbor candidate URIs for a
// query embedding (bucket + Hamming-adjacent buckets).
func (s *Store) VectorCandidates(queryEmbedding []float32) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectors.Candidates(queryEmbedding)
}

// NumDocs returns the number of lexically indexed documents, used by
// BM25 stat exactness tests.
func (s *Store) NumDocs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lexical.NumDocs()
}
