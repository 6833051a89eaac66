package om

import (
	"context"
	"errors"
	"fmt"

	"github.com/axiomme/axiomme/internal/apierr"
	"github.com/axiomme/axiomme/internal/config"
	"github.com/axiomme/axiomme/internal/store"
)

// DeadLetterRecorder is the subset of internal/store's dead-letter API
// RunReflection needs to record a failed compression attempt as a
// fallback trace instead of silently losing it. Satisfied by *store.DB.
type DeadLetterRecorder interface {
	EnqueueDeadLetter(ctx context.Context, lane store.Lane, eventType, targetURI, payload, lastError string) (string, error)
}

// temporary is implemented by Compressor errors that know whether they're
// retryable (HTTP 5xx/429, timeouts) versus terminal, mirroring the
// standard library's net.Error.Temporary() convention.
type temporary interface {
	Temporary() bool
}

// classifyInferenceFailure maps a Compressor error to the transient/fatal
// distinction callers need to decide whether to retry. Errors that don't
// self-report via the temporary interface are treated as fatal.
func classifyInferenceFailure(err error) apierr.InferenceFailureKind {
	var te temporary
	if errors.As(err, &te) && te.Temporary() {
		return apierr.InferenceTransient
	}
	return apierr.InferenceFatal
}

// ReflectorInput is what DecideReflector needs to evaluate whether a
// reflection should trigger.
type ReflectorInput struct {
	ActiveObservationTokens int
	Budget                  config.OMTokenBudget
}

// ReflectorDecision reports whether active observation tokens have
// crossed the reflector's activation threshold.
type ReflectorDecision struct {
	Triggered bool
	Threshold int
}

// DecideReflector evaluates §4.6 "Reflector decision": triggered when
// active tokens >= reflector.buffer_activation * observation_tokens.
func DecideReflector(in ReflectorInput) ReflectorDecision {
	threshold := int(in.Budget.BufferActivation * float64(in.Budget.MessageTokens))
	return ReflectorDecision{
		Triggered: in.ActiveObservationTokens >= threshold,
		Threshold: threshold,
	}
}

// ReflectionDraft is one candidate compression of the active observation
// stream, at a given guidance level.
type ReflectionDraft struct {
	Reflection               string
	ReflectionTokenCount     int
	ReflectedObservationLineCount int
	ReflectionInputTokens    int
	GuidanceLevel            int
}

// compressionGuidance holds the textual guidance strings, part of the
// external contract (§6): level 0 is the initial attempt with no extra
// guidance, level 1 asks for tighter compression, level 2 is aggressive.
var compressionGuidance = [3]string{
	"",
	"The previous reflection was not compressed enough. Compress further: drop low-priority detail, merge redundant observations, and favor terse phrasing.",
	"Aggressively compress. Keep only decisions, blockers, and task state; discard everything else, even at the cost of detail.",
}

// Compressor is the thin LLM-calling shell RunReflection wraps. Implementers
// call out to a model with the active observations and a guidance string
// and return a draft reflection plus its token accounting.
type Compressor interface {
	Compress(ctx context.Context, activeObservations, guidance string) (reflection string, tokenCount int, err error)
}

// RunReflection executes the compression-retry ladder from §4.6: run at
// guidance level 0, and if the draft's token count is not below target,
// retry at level 1 then level 2; after level 2 the best (lowest-token)
// draft is accepted regardless of whether it cleared the target.
//
// A Compress failure gives up the whole ladder immediately (no partial
// credit for lower guidance levels already tried) and, when dlq is
// non-nil, records the failure as a dead-lettered fallback trace keyed
// to scopeKey so the lost reflection isn't silently dropped.
func RunReflection(ctx context.Context, compressor Compressor, dlq DeadLetterRecorder, scopeKey string, activeObservations string, lineCount, inputTokens, targetTokens int) (ReflectionDraft, error) {
	var best ReflectionDraft
	haveBest := false

	for level := 0; level < len(compressionGuidance); level++ {
		text, tokens, err := compressor.Compress(ctx, activeObservations, compressionGuidance[level])
		if err != nil {
			if dlq != nil {
				payload := fmt.Sprintf(`{"scope_key":%q,"guidance_level":%d,"error":%q}`, scopeKey, level, err.Error())
				_, _ = dlq.EnqueueDeadLetter(ctx, store.LaneSemantic, "om_reflection_failed", scopeKey, payload, err.Error())
			}
			return ReflectionDraft{}, apierr.New(apierr.KindOmInference, "run_reflection", err.Error()).
				WithCause(err).
				WithInference(apierr.InferenceSourceReflector, classifyInferenceFailure(err))
		}
		draft := ReflectionDraft{
			Reflection:                     text,
			ReflectionTokenCount:           tokens,
			ReflectedObservationLineCount:  lineCount,
			ReflectionInputTokens:          inputTokens,
			GuidanceLevel:                  level,
		}
		if !haveBest || draft.ReflectionTokenCount < best.ReflectionTokenCount {
			best = draft
			haveBest = true
		}
		if draft.ReflectionTokenCount < targetTokens {
			return draft, nil
		}
	}

	return best, nil
}
