// Package apierr defines AxiomMe's error-kind taxonomy and the wire
// payload shape all external-facing operations return on failure.
package apierr

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Kind is the error-kind taxonomy shared across every AxiomMe subsystem.
type Kind string

const (
	KindInvalidURI        Kind = "invalid_uri"
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation"
	KindOntologyViolation Kind = "ontology_violation"
	KindOmInference       Kind = "om_inference"
	KindIo                Kind = "io"
	KindConflict          Kind = "conflict"
	KindBudgetExceeded    Kind = "budget_exceeded"
	KindInternal          Kind = "internal"
)

// InferenceSource identifies which OM stage produced an OmInference error.
type InferenceSource string

const (
	InferenceSourceObserver  InferenceSource = "observer"
	InferenceSourceReflector InferenceSource = "reflector"
)

// InferenceFailureKind distinguishes retryable from terminal OM failures.
type InferenceFailureKind string

const (
	InferenceTransient InferenceFailureKind = "transient"
	InferenceFatal     InferenceFailureKind = "fatal"
)

// Error is AxiomMe's concrete error type: a Kind, human message, and the
// operation/target context needed to build a wire Payload.
type Error struct {
	Kind      Kind
	Message   string
	Operation string
	TargetURI string // empty when not applicable

	// OM-specific detail, set only when Kind == KindOmInference.
	InferenceSource InferenceSource
	InferenceKind   InferenceFailureKind

	// Details holds arbitrary additional structured context, omitted
	// from the payload when empty.
	Details map[string]any

	// Cause is the wrapped underlying error, if any (e.g. for KindIo).
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind for the given operation.
func New(kind Kind, operation, message string) *Error {
	return &Error{Kind: kind, Operation: operation, Message: message}
}

// NotFound constructs a KindNotFound error against a target URI.
func NotFound(operation, targetURI string) *Error {
	return &Error{
		Kind:      KindNotFound,
		Operation: operation,
		TargetURI: targetURI,
		Message:   "not found: " + targetURI,
	}
}

// WithTarget attaches a target URI to an error (copy-on-write).
func (e *Error) WithTarget(targetURI string) *Error {
	cp := *e
	cp.TargetURI = targetURI
	return &cp
}

// WithDetails attaches structured details to an error (copy-on-write).
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause attaches an underlying cause (copy-on-write).
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// WithInference attaches the OM inference-failure sub-fields (copy-on-write).
// Only meaningful when Kind == KindOmInference.
func (e *Error) WithInference(source InferenceSource, kind InferenceFailureKind) *Error {
	cp := *e
	cp.InferenceSource = source
	cp.InferenceKind = kind
	return &cp
}

// Payload is the wire shape every external-facing operation returns on
// failure: {code, message, operation, target_uri?, trace_id, details?}.
type Payload struct {
	Code      Kind           `json:"code"`
	Message   string         `json:"message"`
	Operation string         `json:"operation"`
	TargetURI string         `json:"target_uri,omitempty"`
	TraceID   string         `json:"trace_id"`
	Details   map[string]any `json:"details,omitempty"`
}

// ToPayload converts an *Error (or any error) into the wire payload shape,
// minting a fresh UUID v4 trace_id. Non-*Error inputs are wrapped as
// KindInternal.
func ToPayload(operation string, targetURI string, err error) Payload {
	apiErr, ok := err.(*Error)
	if !ok {
		apiErr = &Error{
			Kind:      KindInternal,
			Operation: operation,
			TargetURI: targetURI,
			Message:   err.Error(),
		}
	}

	p := Payload{
		Code:      apiErr.Kind,
		Message:   apiErr.Message,
		Operation: operation,
		TargetURI: targetURI,
		TraceID:   uuid.New().String(),
	}
	if apiErr.TargetURI != "" {
		p.TargetURI = apiErr.TargetURI
	}
	if len(apiErr.Details) > 0 {
		p.Details = apiErr.Details
	}
	if apiErr.Kind == KindOmInference {
		details := map[string]any{}
		for k, v := range apiErr.Details {
			details[k] = v
		}
		if apiErr.InferenceSource != "" {
			details["inference_source"] = apiErr.InferenceSource
		}
		if apiErr.InferenceKind != "" {
			details["kind"] = apiErr.InferenceKind
		}
		if len(details) > 0 {
			p.Details = details
		}
	}
	return p
}

// MarshalJSON round-trips through Payload so json.Marshal(err) on a raw
// *Error still produces the wire shape (without target_uri context that
// only ToPayload's caller knows).
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToPayload(e.Operation, e.TargetURI, e))
}
