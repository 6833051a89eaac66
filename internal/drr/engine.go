package drr

import (
	"container/heap"
	"time"

	"github.com/axiomme/axiomme/internal/filter"
	"github.com/axiomme/axiomme/internal/indexstore"
	"github.com/axiomme/axiomme/internal/logging"
)

// Engine runs DRR queries against a single index Store.
type Engine struct {
	store *indexstore.Store
	cfg   Config
}

// New constructs an Engine over store with the given default Config.
func New(store *indexstore.Store, cfg Config) *Engine {
	return &Engine{store: store, cfg: cfg}
}

// Search runs the budgeted best-first descent with alpha-relaxing
// convergence rounds, returning a RetrievalTrace that is byte-identical
// for identical (index snapshot, query, config, budget) — concurrent
// mutation of the index during a single query is the caller's
// responsibility to exclude (§5).
func (e *Engine) Search(plan TypedQueryPlan, budget SearchBudget) RetrievalTrace {
	defer logging.Global().Trace("drr.Search")()
	r := resolve(e.cfg, budget)

	roots := plan.EntryRoots
	if len(roots) == 0 {
		return RetrievalTrace{TerminationReason: TerminationNoRoots}
	}

	deadline := time.Time{}
	if r.maxMs > 0 {
		deadline = time.Now().Add(time.Duration(r.maxMs) * time.Millisecond)
	}

	var allSteps []RetrievalStep
	var allHits []ContextHit
	totalVisited := 0
	originalMaxNodes := r.maxNodes
	alpha := r.alpha
	maxNodes := r.maxNodes
	round := 0
	reason := TerminationRounds

	for {
		hits, steps, visited, roundReason := e.runRound(plan, roots, alpha, maxNodes, r.maxDepth, r.topK, deadline)
		allSteps = append(allSteps, steps...)
		allHits = mergeTopK(allHits, hits, r.topK)
		totalVisited += visited
		round++

		if len(allHits) >= r.topK {
			reason = TerminationFilled
			break
		}
		if roundReason == TerminationBudget {
			reason = TerminationBudget
			break
		}
		if round >= e.cfg.MaxConvergenceRounds {
			reason = TerminationRounds
			break
		}

		// Convergence: relax alpha toward 0, widen the node budget.
		alpha = alpha * (1 - 1/(float64(round)+2))
		maxNodes = maxNodes * 2
		if budget.MaxNodes != nil && maxNodes > originalMaxNodes {
			maxNodes = originalMaxNodes
		}
	}

	return RetrievalTrace{
		Hits:              allHits,
		Steps:             allSteps,
		NodesVisited:      totalVisited,
		Rounds:            round,
		TerminationReason: reason,
	}
}

func (e *Engine) runRound(
	plan TypedQueryPlan,
	roots []string,
	alpha float64,
	maxNodes, maxDepth, topK int,
	deadline time.Time,
) (hits []ContextHit, steps []RetrievalStep, visited int, reason TerminationReason) {
	pq := &priorityQueue{}
	heap.Init(pq)
	for _, item := range e.scoreSet(plan, roots, alpha) {
		heap.Push(pq, withDepth(item, 0))
	}

	descendantCache := make(map[string]bool)
	var topKHeap topKHeapType

	for pq.Len() > 0 {
		if !deadline.IsZero() && time.Now().After(deadline) {
			reason = TerminationBudget
			break
		}
		if visited >= maxNodes {
			reason = TerminationBudget
			break
		}

		node := heap.Pop(pq).(pqItem)
		visited++

		rec, err := e.store.Get(node.uri)
		if err != nil {
			steps = append(steps, RetrievalStep{NodeURI: node.uri, Action: StepPruned})
			continue
		}

		if rec.IsLeaf {
			if filter.LeafMatches(rec, plan.Filter) || plan.Filter.IsEmpty() {
				steps = append(steps, RetrievalStep{
					NodeURI: node.uri, ScoreLex: node.lex, ScoreVec: node.vec,
					ScoreHybrid: node.hybrid, Action: StepMatched,
				})
				pushTopK(&topKHeap, ContextHit{
					URI: node.uri, ScoreLex: node.lex, ScoreVec: node.vec,
					ScoreHybrid: node.hybrid, UpdatedAt: rec.UpdatedAt,
				}, topK)
			} else {
				steps = append(steps, RetrievalStep{NodeURI: node.uri, Action: StepPruned})
			}
			continue
		}

		if node.depth >= maxDepth {
			steps = append(steps, RetrievalStep{NodeURI: node.uri, Action: StepPruned})
			continue
		}

		children := e.store.Children(node.uri)
		childURIs := make([]string, 0, len(children))
		for _, c := range children {
			if nodeMatchesFilter(e.store, c.URI, plan.Filter, descendantCache) {
				childURIs = append(childURIs, c.URI)
			}
		}

		if len(childURIs) == 0 {
			steps = append(steps, RetrievalStep{NodeURI: node.uri, Action: StepPruned})
			continue
		}

		steps = append(steps, RetrievalStep{
			NodeURI: node.uri, ScoreLex: node.lex, ScoreVec: node.vec,
			ScoreHybrid: node.hybrid, Action: StepExpanded,
		})
		for _, scored := range e.scoreSet(plan, childURIs, alpha) {
			heap.Push(pq, withDepth(scored, node.depth+1))
		}
	}

	if reason == "" {
		reason = TerminationFilled
	}

	return sortedHits(topKHeap), steps, visited, reason
}

// scoreSet computes raw lexical/vector scores for uris, then min-max
// normalizes each dimension over that candidate set before combining
// into the hybrid score.
func (e *Engine) scoreSet(plan TypedQueryPlan, uris []string, alpha float64) []pqItem {
	lex := make([]float64, len(uris))
	vec := make([]float64, len(uris))
	for i, uriStr := range uris {
		lex[i] = e.store.LexicalScore(uriStr, plan.LexicalTerms)
		if plan.Embedding != nil {
			vec[i] = e.store.VectorScore(uriStr, plan.Embedding)
		}
	}

	lexNorm := minMaxNormalize(lex)
	vecNorm := minMaxNormalize(vec)

	out := make([]pqItem, len(uris))
	for i, uriStr := range uris {
		rec, _ := e.store.Get(uriStr)
		hybrid := alpha*lexNorm[i] + (1-alpha)*vecNorm[i]
		out[i] = pqItem{
			uri:       uriStr,
			lex:       lex[i],
			vec:       vec[i],
			hybrid:    hybrid,
			updatedAt: rec.UpdatedAt,
		}
	}
	return out
}

func minMaxNormalize(vals []float64) []float64 {
	out := make([]float64, len(vals))
	if len(vals) == 0 {
		return out
	}
	min, max := vals[0], vals[0]
	for _, v := range vals {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, v := range vals {
		out[i] = (v - min) / (max - min)
	}
	return out
}

// nodeMatchesFilter lazily computes, and memoizes, whether uri (leaf or
// non-leaf) matches f: a leaf matches directly; a non-leaf matches iff at
// least one descendant leaf matches.
func nodeMatchesFilter(store *indexstore.Store, uriStr string, f filter.SearchFilter, cache map[string]bool) bool {
	if f.IsEmpty() {
		return true
	}
	if v, ok := cache[uriStr]; ok {
		return v
	}

	rec, err := store.Get(uriStr)
	if err != nil {
		cache[uriStr] = false
		return false
	}

	var result bool
	if rec.IsLeaf {
		result = filter.LeafMatches(rec, f)
	} else {
		children := store.Children(uriStr)
		childURIs := make([]string, len(children))
		for i, c := range children {
			childURIs[i] = c.URI
		}
		result = filter.HasMatchingDescendant(childURIs, func(child string) bool {
			return nodeMatchesFilter(store, child, f, cache)
		})
	}
	cache[uriStr] = result
	return result
}

func withDepth(item pqItem, depth int) pqItem {
	item.depth = depth
	return item
}

// mergeTopK combines hits accumulated across convergence rounds and
// re-applies the tie-break rule, keeping at most topK.
func mergeTopK(existing, fresh []ContextHit, topK int) []ContextHit {
	seen := make(map[string]bool, len(existing))
	merged := make([]ContextHit, 0, len(existing)+len(fresh))
	for _, h := range existing {
		if !seen[h.URI] {
			seen[h.URI] = true
			merged = append(merged, h)
		}
	}
	for _, h := range fresh {
		if !seen[h.URI] {
			seen[h.URI] = true
			merged = append(merged, h)
		}
	}
	sortHits(merged)
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}
