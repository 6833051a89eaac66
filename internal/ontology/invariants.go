package ontology

import "github.com/axiomme/axiomme/internal/apierr"

// InvariantStatus is the outcome of evaluating one invariant.
type InvariantStatus string

const (
	InvariantOK       InvariantStatus = "ok"
	InvariantViolated InvariantStatus = "violated"
	InvariantSkipped  InvariantStatus = "skipped"
)

// InvariantResult is one invariant's evaluation outcome.
type InvariantResult struct {
	ID           string
	Status       InvariantStatus
	FailureKind  string // empty unless Status == InvariantViolated
}

// InvariantCheckReport aggregates every invariant's result for one snapshot.
type InvariantCheckReport struct {
	Results []InvariantResult
}

// Violated reports whether any invariant in the report is violated.
func (r InvariantCheckReport) Violated() bool {
	for _, res := range r.Results {
		if res.Status == InvariantViolated {
			return true
		}
	}
	return false
}

// Predicate evaluates one invariant over a caller-supplied snapshot. It
// returns ok=true when the invariant holds, and a failureKind describing
// the violation otherwise. A predicate with no registered entry is
// reported as skipped rather than assumed to pass.
type Predicate func(snapshot any) (ok bool, failureKind string)

// EvaluateInvariants runs every invariant the schema declares against
// snapshot, using registry to look up each invariant's predicate by id.
// In enforce mode, the first violation short-circuits evaluation and is
// returned as an *apierr.Error; otherwise every invariant runs and the
// full report is returned.
func EvaluateInvariants(schema *Compiled, snapshot any, registry map[string]Predicate, enforce bool) (InvariantCheckReport, error) {
	report := InvariantCheckReport{Results: make([]InvariantResult, 0, len(schema.Schema.Invariants))}

	for _, inv := range schema.Schema.Invariants {
		pred, ok := registry[inv.ID]
		if !ok {
			report.Results = append(report.Results, InvariantResult{ID: inv.ID, Status: InvariantSkipped})
			continue
		}
		passed, failureKind := pred(snapshot)
		if passed {
			report.Results = append(report.Results, InvariantResult{ID: inv.ID, Status: InvariantOK})
			continue
		}
		result := InvariantResult{ID: inv.ID, Status: InvariantViolated, FailureKind: failureKind}
		report.Results = append(report.Results, result)
		if enforce {
			return report, apierr.New(apierr.KindOntologyViolation, "evaluate_invariants", "invariant "+inv.ID+" violated: "+failureKind)
		}
	}

	return report, nil
}
