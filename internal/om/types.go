// Package om implements the observation/reflection pipeline: pure decision
// functions over an OmRecord's buffered observations, plus the scope-key
// state-machine plumbing that wires them into session append.
//
// The decision functions are pure by design: the ticker-driven
// observer/reflector agents this is modeled on ran threshold checks
// (CompressNow/ReflectNow) inline with their side effects, which made the
// threshold logic itself hard to exercise in isolation. Splitting the
// decision from the I/O keeps the former testable without a fake clock or
// a fake compressor backend.
package om

import (
	"strings"
	"time"

	"github.com/axiomme/axiomme/internal/apierr"
)

// ScopeKind is the closed set of OM scope kinds.
type ScopeKind string

const (
	ScopeSession  ScopeKind = "session"
	ScopeThread   ScopeKind = "thread"
	ScopeResource ScopeKind = "resource"
)

// MissingScopeIdentifierError reports that BuildScopeKey was called with a
// blank identifier for its required field.
type MissingScopeIdentifierError struct {
	Field string
}

func (e *MissingScopeIdentifierError) Error() string {
	return "missing scope identifier: " + e.Field
}

// BuildScopeKey builds the opaque "<kind>:<id>" scope key, trimming
// whitespace from identifier. An empty (or whitespace-only) identifier
// fails fast with MissingScopeIdentifierError and no other field is
// consulted to supply it (§8 "OM scope key").
func BuildScopeKey(kind ScopeKind, identifier string) (string, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return "", &MissingScopeIdentifierError{Field: string(kind)}
	}
	return string(kind) + ":" + trimmed, nil
}

// Message is one conversational message considered by the observer.
type Message struct {
	ID         string
	ThreadID   string
	Role       string
	Text       string
	TokenCount int
	CreatedAt  time.Time
}

// ReflectionState tracks whether a reflection is outstanding for a scope.
type ReflectionState string

const (
	ReflectionIdle    ReflectionState = "idle"
	ReflectionPending ReflectionState = "pending"
)

// OmObservationChunk is one observer-produced unit of compressed text,
// held in the buffer until activated into ActiveObservations.
type OmObservationChunk struct {
	ID             string
	RecordID       string
	Seq            int
	CycleID        string
	Observations   string
	TokenCount     int
	MessageTokens  int
	MessageIDs     []string
	LastObservedAt time.Time
	CreatedAt      time.Time
}

// OmRecord is the per-scope-key persisted OM state.
type OmRecord struct {
	ScopeKey               string
	Generation             int
	ActiveObservations     string
	BufferedChunks         []OmObservationChunk
	LastObservedByThread   map[string]time.Time
	UnsavedMessageCount    int
	ReflectionState        ReflectionState
}

// NewOmRecord returns a zero-value record for a fresh scope key.
func NewOmRecord(scopeKey string) *OmRecord {
	return &OmRecord{
		ScopeKey:             scopeKey,
		LastObservedByThread: make(map[string]time.Time),
		ReflectionState:      ReflectionIdle,
	}
}

// nextSeq returns the next strictly-increasing chunk sequence number.
func (r *OmRecord) nextSeq() int {
	seq := 0
	for _, c := range r.BufferedChunks {
		if c.Seq >= seq {
			seq = c.Seq + 1
		}
	}
	return seq
}

// ErrForwardProgress describes an observation synthesis that produced no
// observation line. Nothing in this package returns it: SynthesizeObservations
// returns a string and, when every candidate dedupes away, falls back to the
// first non-empty candidate (the forward-progress invariant in §4.6).
var ErrForwardProgress = apierr.New(apierr.KindInternal, "synthesize_observations", "no candidate produced any observation line")
