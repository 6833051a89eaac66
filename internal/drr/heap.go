package drr

import (
	"sort"
	"time"
)

// pqItem is one entry on the traversal frontier.
type pqItem struct {
	uri       string
	lex       float64
	vec       float64
	hybrid    float64
	updatedAt time.Time
	depth     int
}

// priorityQueue is a max-heap over pqItem ordered by hybrid score, with
// ties broken by higher updated_at then lexicographically smaller URI —
// the same rule used for the final top-K ordering, so the visit order is
// fully deterministic regardless of map iteration order upstream.
type priorityQueue []pqItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	a, b := pq[i], pq[j]
	if a.hybrid != b.hybrid {
		return a.hybrid > b.hybrid
	}
	if !a.updatedAt.Equal(b.updatedAt) {
		return a.updatedAt.After(b.updatedAt)
	}
	return a.uri < b.uri
}

func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x any) {
	*pq = append(*pq, x.(pqItem))
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// topKHeapType accumulates matched hits within one round; kept sorted and
// truncated to topK on every insert since rounds rarely match more than a
// handful of leaves.
type topKHeapType []ContextHit

func pushTopK(h *topKHeapType, hit ContextHit, topK int) {
	*h = append(*h, hit)
	sortHits(*h)
	if len(*h) > topK {
		*h = (*h)[:topK]
	}
}

func sortedHits(h topKHeapType) []ContextHit {
	return []ContextHit(h)
}

// sortHits applies the canonical ranking: higher hybrid score first, ties
// broken by higher updated_at, then lexicographically smaller URI.
func sortHits(hits []ContextHit) {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.ScoreHybrid != b.ScoreHybrid {
			return a.ScoreHybrid > b.ScoreHybrid
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.URI < b.URI
	})
}
