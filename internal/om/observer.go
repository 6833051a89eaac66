package om

import (
	"sort"
	"strings"
	"time"

	"github.com/axiomme/axiomme/internal/config"
)

// ObserverInput is everything DecideObserver needs to evaluate the five
// steps of §4.6 "Observer decision".
type ObserverInput struct {
	Pending        []Message
	ActiveTokens   int
	LastObservedBy map[string]time.Time // per-thread cursor
	HasBuffered    bool
	Budget         config.OMTokenBudget
}

// ObserverDecision is the result of evaluating §4.6's five observer steps.
type ObserverDecision struct {
	Candidates                  []Message
	PendingTokens                int
	ThresholdReached             bool
	ShouldRunObserver            bool
	ShouldActivateAfterObserver  bool
}

// DecideObserver evaluates the observer's run/activate decision without
// performing any synthesis or I/O.
func DecideObserver(in ObserverInput) ObserverDecision {
	candidates := filterUnobserved(in.Pending, in.LastObservedBy)

	pendingTokens := 0
	for _, m := range candidates {
		pendingTokens += m.TokenCount
	}

	threshold := in.Budget.BufferActivation * float64(in.Budget.MessageTokens)
	projected := in.ActiveTokens + pendingTokens
	thresholdReached := float64(projected) >= threshold

	blockAfter := in.Budget.BlockAfter()
	shouldRun := pendingTokens > 0 && (blockAfter <= 0 || float64(in.ActiveTokens) < blockAfter)

	shouldActivate := in.HasBuffered && thresholdReached

	return ObserverDecision{
		Candidates:                  candidates,
		PendingTokens:                pendingTokens,
		ThresholdReached:             thresholdReached,
		ShouldRunObserver:            shouldRun,
		ShouldActivateAfterObserver:  shouldActivate,
	}
}

// filterUnobserved keeps messages whose CreatedAt is strictly after their
// thread's cursor (or unconditionally, for threads with no cursor yet).
func filterUnobserved(pending []Message, cursors map[string]time.Time) []Message {
	out := make([]Message, 0, len(pending))
	for _, m := range pending {
		cursor, ok := cursors[m.ThreadID]
		if ok && !m.CreatedAt.After(cursor) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SynthesizeObservations builds "[role] text" lines from candidates,
// whitespace-normalized and deduplicated against existing, capping total
// output at maxChars. If every candidate dedupes away, the forward-progress
// invariant emits the first non-empty candidate anyway.
func SynthesizeObservations(candidates []Message, existing string, maxChars int) string {
	seen := make(map[string]bool)
	for _, line := range strings.Split(existing, "\n") {
		norm := normalizeLine(line)
		if norm != "" {
			seen[norm] = true
		}
	}

	var lines []string
	var firstNonEmpty string
	total := 0
	for _, m := range candidates {
		line := formatLine(m)
		norm := normalizeLine(line)
		if norm == "" {
			continue
		}
		if firstNonEmpty == "" {
			firstNonEmpty = line
		}
		if seen[norm] {
			continue
		}
		seen[norm] = true
		if maxChars > 0 && total+len(line)+1 > maxChars {
			break
		}
		lines = append(lines, line)
		total += len(line) + 1
	}

	if len(lines) == 0 && firstNonEmpty != "" {
		lines = append(lines, firstNonEmpty)
	}

	return strings.Join(lines, "\n")
}

func formatLine(m Message) string {
	return "[" + m.Role + "] " + strings.Join(strings.Fields(m.Text), " ")
}

func normalizeLine(line string) string {
	return strings.ToLower(strings.Join(strings.Fields(line), " "))
}
