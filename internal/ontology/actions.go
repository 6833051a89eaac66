package ontology

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/axiomme/axiomme/internal/apierr"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/internal/uri"
)

// ActionValidationReport is the result of a successful action validation
// (§4.7 step 5). ValidateAction returns an *apierr.Error instead of a report on
// any failed step.
type ActionValidationReport struct {
	ActionID        string
	QueueEventType  string
	MatchedObjectType string // empty when the action has no target URI
}

// ValidateAction runs the five validation steps from §4.7 against a
// candidate action invocation. input is the decoded JSON payload (nil for
// an absent/null payload); target is the zero URI when the action has no
// addressable subject.
func ValidateAction(schema *Compiled, actionID, queueEventType string, input any, target uri.URI) (ActionValidationReport, error) {
	action, ok := schema.ActionType(actionID)
	if !ok {
		return ActionValidationReport{}, apierr.New(apierr.KindOntologyViolation, "enqueue_ontology_action", "unknown action "+actionID)
	}
	if action.QueueEventType != queueEventType {
		return ActionValidationReport{}, apierr.New(apierr.KindOntologyViolation, "enqueue_ontology_action",
			"queue_event_type mismatch: schema declares "+action.QueueEventType+", got "+queueEventType)
	}
	if err := validateInputContract(action.InputContract, input); err != nil {
		return ActionValidationReport{}, err
	}

	report := ActionValidationReport{ActionID: actionID, QueueEventType: queueEventType}
	if target.IsZero() {
		return report, nil
	}
	ot, ok := schema.MatchObjectType(target)
	if !ok {
		return ActionValidationReport{}, apierr.New(apierr.KindOntologyViolation, "enqueue_ontology_action",
			"no object_type permits target uri "+target.String())
	}
	report.MatchedObjectType = ot.ID
	return report, nil
}

func validateInputContract(contract InputContract, input any) error {
	switch contract {
	case ContractNone:
		if input != nil {
			return apierr.New(apierr.KindOntologyViolation, "enqueue_ontology_action", "input_contract none requires absent/null input")
		}
		return nil
	case ContractJSONAny:
		return nil
	case ContractJSONObject:
		if input == nil {
			return apierr.New(apierr.KindOntologyViolation, "enqueue_ontology_action", "input_contract json-object requires an object, got null")
		}
		if _, ok := input.(map[string]any); !ok {
			return apierr.New(apierr.KindOntologyViolation, "enqueue_ontology_action", "input_contract json-object requires a JSON object")
		}
		return nil
	default:
		return apierr.New(apierr.KindOntologyViolation, "enqueue_ontology_action", "unknown input_contract "+string(contract))
	}
}

// Enqueuer is the subset of internal/store's outbox API
// EnqueueOntologyAction needs to persist a validated action. Satisfied by
// *store.DB.
type Enqueuer interface {
	Enqueue(ctx context.Context, lane store.Lane, eventType, targetURI, payload string) (string, error)
}

// actionEventPayload is the wire shape of an enqueued ontology action's
// outbox payload.
type actionEventPayload struct {
	SchemaVersion int    `json:"schema_version"`
	ActionID      string `json:"action_id"`
	Input         any    `json:"input"`
}

// EnqueueOntologyAction validates a candidate action invocation against
// schema and, on success, persists it as an outbox event whose lane is
// derived from queueEventType and whose payload carries the schema
// version, action id, and decoded input. targetURI may be empty for an
// action with no addressable subject.
func EnqueueOntologyAction(ctx context.Context, enqueuer Enqueuer, schema *Compiled, targetURI, actionID, queueEventType string, input any) (string, error) {
	var target uri.URI
	if targetURI != "" {
		var err error
		target, err = uri.Parse(targetURI)
		if err != nil {
			return "", apierr.New(apierr.KindValidation, "enqueue_ontology_action", err.Error()).WithCause(err)
		}
	}

	if _, err := ValidateAction(schema, actionID, queueEventType, input, target); err != nil {
		return "", err
	}

	payload, err := json.Marshal(actionEventPayload{SchemaVersion: 1, ActionID: actionID, Input: input})
	if err != nil {
		return "", apierr.New(apierr.KindValidation, "enqueue_ontology_action", fmt.Sprintf("encode payload: %v", err)).WithCause(err)
	}

	lane := store.LaneForEventType(queueEventType)
	id, err := enqueuer.Enqueue(ctx, lane, queueEventType, targetURI, string(payload))
	if err != nil {
		return "", apierr.New(apierr.KindInternal, "enqueue_ontology_action", err.Error()).WithCause(err)
	}
	return id, nil
}

// DecodeInput unmarshals a raw JSON payload the way enqueue_ontology_action
// callers typically receive it (e.g. from an HTTP body or CLI arg), so
// ValidateAction can be called with a plain Go value.
func DecodeInput(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, apierr.New(apierr.KindValidation, "decode_action_input", err.Error())
	}
	return v, nil
}
