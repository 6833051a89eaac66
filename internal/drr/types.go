// Package drr implements the hybrid retrieval engine ("deep relevance
// retrieval"): a budgeted, best-first tree descent over the in-memory
// index combining BM25 lexical scoring with vector similarity, with
// alpha-relaxing convergence rounds when too few leaves are found.
package drr

import (
	"time"

	"github.com/axiomme/axiomme/internal/filter"
)

// Config holds the engine's default budgets and scoring weight.
type Config struct {
	Alpha                float64
	GlobalTopK           int
	MaxConvergenceRounds int
	MaxDepth             int
	MaxNodes             int
}

// DefaultConfig matches the resolved defaults.
func DefaultConfig() Config {
	return Config{
		Alpha:                0.5,
		GlobalTopK:           3,
		MaxConvergenceRounds: 3,
		MaxDepth:             5,
		MaxNodes:             256,
	}
}

// SearchBudget is a per-query override of the engine's default budgets.
// Each set value is clamped to ≥1 by resolve.
type SearchBudget struct {
	MaxMs    *int64
	MaxNodes *int
	MaxDepth *int
}

// resolved holds the effective, clamped budget for one query.
type resolved struct {
	alpha    float64
	topK     int
	maxNodes int
	maxDepth int
	maxMs    int64 // 0 means unbounded
}

func resolve(cfg Config, budget SearchBudget) resolved {
	r := resolved{
		alpha:    cfg.Alpha,
		topK:     cfg.GlobalTopK,
		maxNodes: cfg.MaxNodes,
		maxDepth: cfg.MaxDepth,
	}
	if budget.MaxNodes != nil {
		r.maxNodes = clampMin1(*budget.MaxNodes)
	}
	if budget.MaxDepth != nil {
		r.maxDepth = clampMin1(*budget.MaxDepth)
	}
	if budget.MaxMs != nil {
		ms := *budget.MaxMs
		if ms < 1 {
			ms = 1
		}
		r.maxMs = ms
	}
	return r
}

func clampMin1(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// TerminationReason explains why a traversal round stopped.
type TerminationReason string

const (
	TerminationFilled  TerminationReason = "filled"
	TerminationBudget  TerminationReason = "budget"
	TerminationRounds  TerminationReason = "rounds_exhausted"
	TerminationNoRoots TerminationReason = "no_roots"
)

// StepAction classifies a single RetrievalStep.
type StepAction string

const (
	StepExpanded StepAction = "expanded"
	StepMatched  StepAction = "matched"
	StepPruned   StepAction = "pruned"
	StepBudget   StepAction = "budget"
)

// RetrievalStep is one node visit recorded in the trace.
type RetrievalStep struct {
	NodeURI     string
	ScoreLex    float64
	ScoreVec    float64
	ScoreHybrid float64
	Action      StepAction
}

// ContextHit is a single ranked leaf result.
type ContextHit struct {
	URI         string
	ScoreLex    float64
	ScoreVec    float64
	ScoreHybrid float64
	UpdatedAt   time.Time
}

// RetrievalTrace is the full, deterministic output of a query.
type RetrievalTrace struct {
	Hits             []ContextHit
	Steps            []RetrievalStep
	NodesVisited     int
	Rounds           int
	TerminationReason TerminationReason
}

// TypedQueryPlan is the planner's output: normalized lexical terms, an
// optional query embedding, and the entry roots for traversal.
type TypedQueryPlan struct {
	LexicalTerms []string
	Embedding    []float32 // nil when no embedder is configured
	EntryRoots   []string
	Filter       filter.SearchFilter
}
