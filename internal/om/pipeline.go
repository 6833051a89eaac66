package om

import (
	"time"

	"github.com/axiomme/axiomme/internal/apierr"
)

// ReflectionCommandType is the closed set of commands a reflection
// decision can emit.
type ReflectionCommandType string

const (
	CommandBufferRequested  ReflectionCommandType = "BufferRequested"
	CommandReflectRequested ReflectionCommandType = "ReflectRequested"
)

// ReflectionCommand is the queued instruction produced by a reflection
// decision; it is only applied if ExpectedGeneration still equals the
// record's current generation at apply time (§4.6 optimistic concurrency).
type ReflectionCommand struct {
	CommandType       ReflectionCommandType
	ScopeKey          string
	ExpectedGeneration int
	RequestedAt       time.Time
}

// PlanInput bundles everything plan_process_input_step needs.
type PlanInput struct {
	ReadOnly        bool
	IsInitialStep   bool
	HasBuffered     bool
	BufferTokensSet bool // true iff the stage's buffer_tokens is configured
	ThresholdReached bool
	Observer        ObserverDecision
	Reflector       ReflectorDecision
	Record          *OmRecord
}

// Plan is the four-boolean-plus-optional-command output of
// plan_process_input_step (§4.6).
type Plan struct {
	ShouldActivateBufferedBeforeObserver bool
	ShouldRunObserver                    bool
	ShouldActivateBufferedAfterObserver  bool
	ReflectionDecision                   *ReflectionCommand
}

// PlanProcessInputStep evaluates §4.6's four pipeline booleans plus the
// optional reflection decision for one step of session append.
func PlanProcessInputStep(in PlanInput, now time.Time) Plan {
	plan := Plan{}

	if !in.ReadOnly {
		plan.ShouldActivateBufferedBeforeObserver = in.IsInitialStep && in.HasBuffered &&
			in.BufferTokensSet && in.ThresholdReached
		plan.ShouldRunObserver = in.Observer.ShouldRunObserver
		plan.ShouldActivateBufferedAfterObserver = in.Observer.ShouldActivateAfterObserver

		cmdType := CommandBufferRequested
		if in.Reflector.Triggered {
			cmdType = CommandReflectRequested
		}
		plan.ReflectionDecision = &ReflectionCommand{
			CommandType:        cmdType,
			ScopeKey:           in.Record.ScopeKey,
			ExpectedGeneration: in.Record.Generation,
			RequestedAt:        now,
		}
	}

	return plan
}

// AcceptReflectionCommand applies cmd to record iff cmd.ExpectedGeneration
// still equals record.Generation, incrementing Generation by exactly one
// on acceptance (§8 "OM generation monotonicity"). A stale command (one
// whose expected generation has fallen behind a concurrent observer
// write) is rejected without mutating the record.
func AcceptReflectionCommand(record *OmRecord, cmd ReflectionCommand) error {
	if cmd.ExpectedGeneration != record.Generation {
		return apierr.New(apierr.KindConflict, "accept_reflection_command",
			"stale generation: expected current generation to match the command")
	}
	record.Generation++
	switch cmd.CommandType {
	case CommandReflectRequested:
		record.ReflectionState = ReflectionPending
	case CommandBufferRequested:
		// No state transition beyond the generation bump; buffering is
		// driven by the activation functions, not the reflection state.
	}
	return nil
}

// RecordObserverWrite appends a freshly-synthesized chunk to record's
// buffer, advances the per-thread cursors, and bumps the generation. Every
// observer write is totally ordered by generation (§5 "Ordering
// guarantees").
func RecordObserverWrite(record *OmRecord, chunk OmObservationChunk, observedThrough map[string]time.Time) {
	chunk.Seq = record.nextSeq()
	record.BufferedChunks = append(record.BufferedChunks, chunk)
	if record.LastObservedByThread == nil {
		record.LastObservedByThread = make(map[string]time.Time)
	}
	for thread, ts := range observedThrough {
		record.LastObservedByThread[thread] = ts
	}
	record.UnsavedMessageCount = 0
	record.Generation++
}
