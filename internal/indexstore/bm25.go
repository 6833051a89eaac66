package indexstore

import "math"

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// lexicalStats maintains the incremental BM25 bookkeeping described in the
// data model: per-URI term-frequency maps, a per-URI token set implied by
// termFreq's keys, per-URI document length, a global document-frequency
// counter, and the global total document length. Every method call keeps
// the invariant Σ docLength == totalDocLength and, for every token, df
// equals the number of URIs whose term_freq contains it.
type lexicalStats struct {
	termFreq       map[string]map[string]int // uri -> token -> count
	docLength      map[string]int            // uri -> token count
	docFreq        map[string]int            // token -> number of URIs containing it
	totalDocLength int
}

func newLexicalStats() *lexicalStats {
	return &lexicalStats{
		termFreq:  make(map[string]map[string]int),
		docLength: make(map[string]int),
		docFreq:   make(map[string]int),
	}
}

// Upsert replaces the stats for uri given its assembled text's tokens.
// It is equivalent to Remove(uri) followed by an add, computed in one pass
// so that no stale value is ever observable in between.
func (s *lexicalStats) Upsert(uriStr string, tokens []string) {
	s.Remove(uriStr)

	if len(tokens) == 0 {
		return
	}

	freq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}

	s.termFreq[uriStr] = freq
	s.docLength[uriStr] = len(tokens)
	s.totalDocLength += len(tokens)
	for tok := range freq {
		s.docFreq[tok]++
	}
}

// Remove purges uri's contribution from every stat table. Removing a URI
// that was never indexed is a no-op.
func (s *lexicalStats) Remove(uriStr string) {
	freq, ok := s.termFreq[uriStr]
	if !ok {
		return
	}
	for tok := range freq {
		s.docFreq[tok]--
		if s.docFreq[tok] <= 0 {
			delete(s.docFreq, tok)
		}
	}
	s.totalDocLength -= s.docLength[uriStr]
	delete(s.termFreq, uriStr)
	delete(s.docLength, uriStr)
}

// NumDocs returns the number of indexed documents.
func (s *lexicalStats) NumDocs() int {
	return len(s.termFreq)
}

// AvgDocLength returns the mean document length, or 0 when no documents
// are indexed.
func (s *lexicalStats) AvgDocLength() float64 {
	n := s.NumDocs()
	if n == 0 {
		return 0
	}
	return float64(s.totalDocLength) / float64(n)
}

// Score computes the BM25 score of uri against the given (already
// tokenized) query terms. Returns 0 for a URI with no indexed text.
func (s *lexicalStats) Score(uriStr string, queryTokens []string) float64 {
	freq, ok := s.termFreq[uriStr]
	if !ok {
		return 0
	}
	docLen := float64(s.docLength[uriStr])
	avgdl := s.AvgDocLength()
	n := float64(s.NumDocs())

	var score float64
	seen := make(map[string]bool, len(queryTokens))
	for _, term := range queryTokens {
		if seen[term] {
			continue
		}
		seen[term] = true

		tf := float64(freq[term])
		if tf == 0 {
			continue
		}
		df := float64(s.docFreq[term])
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)

		denom := tf + bm25K1*(1-bm25B+bm25B*docLen/nonZero(avgdl))
		score += idf * (tf * (bm25K1 + 1)) / denom
	}
	return score
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}
