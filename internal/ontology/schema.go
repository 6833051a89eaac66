// Package ontology compiles AxiomMe's v1 action/invariant schema and
// validates ontology actions and invariants against it (§4.7, §6).
package ontology

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/axiomme/axiomme/internal/apierr"
	"github.com/axiomme/axiomme/internal/uri"
)

// InputContract is the accepted shape of an action's input payload.
type InputContract string

const (
	ContractJSONObject InputContract = "json-object"
	ContractJSONAny    InputContract = "json-any"
	ContractNone       InputContract = "none"
)

// ObjectType declares a class of addressable resource: which URI prefixes
// it covers and which scopes it is allowed to live in.
type ObjectType struct {
	ID            string      `json:"id"`
	URIPrefixes   []string    `json:"uri_prefixes"`
	AllowedScopes []uri.Scope `json:"allowed_scopes"`
}

// LinkType declares a named relation between two object types. AxiomMe
// does not interpret link semantics itself; the schema only carries them
// through compile and serialization so downstream collaborators can.
type LinkType struct {
	ID       string `json:"id"`
	FromType string `json:"from_type"`
	ToType   string `json:"to_type"`
}

// ActionType declares one schema-defined operation: its input contract and
// the outbox event type it enqueues when invoked.
type ActionType struct {
	ID             string        `json:"id"`
	InputContract  InputContract `json:"input_contract"`
	Effects        []string      `json:"effects"`
	QueueEventType string        `json:"queue_event_type"`
}

// Invariant names a predicate the caller registers and evaluates over a
// snapshot; the schema only carries the declaration, not the predicate
// body (§4.7's predicates are provided by the caller, not serialized).
type Invariant struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

// Schema is the strict, version-1 ontology document persisted at
// agent/ontology/schema.v1.json.
type Schema struct {
	Version     int          `json:"version"`
	ObjectTypes []ObjectType `json:"object_types"`
	LinkTypes   []LinkType   `json:"link_types"`
	ActionTypes []ActionType `json:"action_types"`
	Invariants  []Invariant  `json:"invariants"`
}

// Compiled is a Schema indexed for O(1)/O(prefix-length) lookups.
type Compiled struct {
	Schema        Schema
	byActionID    map[string]ActionType
	byObjectTypeID map[string]ObjectType
	byInvariantID map[string]Invariant
	// prefixIndex maps every object type's URI prefixes to that type,
	// longest-prefix-first so MatchObjectType picks the most specific.
	prefixIndex []prefixEntry
}

type prefixEntry struct {
	prefix string
	typ    ObjectType
}

// Compile parses raw strictly (rejecting unknown top-level fields per §3's
// "Serialization rejects unknown top-level fields") and builds the
// compiled indexes.
func Compile(raw []byte) (*Compiled, error) {
	var schema Schema
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&schema); err != nil {
		return nil, apierr.New(apierr.KindOntologyViolation, "compile_schema", fmt.Sprintf("schema decode: %v", err))
	}
	if schema.Version != 1 {
		return nil, apierr.New(apierr.KindOntologyViolation, "compile_schema", fmt.Sprintf("unsupported schema version %d", schema.Version))
	}

	c := &Compiled{
		Schema:         schema,
		byActionID:     make(map[string]ActionType, len(schema.ActionTypes)),
		byObjectTypeID: make(map[string]ObjectType, len(schema.ObjectTypes)),
		byInvariantID:  make(map[string]Invariant, len(schema.Invariants)),
	}
	for _, a := range schema.ActionTypes {
		if _, dup := c.byActionID[a.ID]; dup {
			return nil, apierr.New(apierr.KindOntologyViolation, "compile_schema", "duplicate action_type id "+a.ID)
		}
		c.byActionID[a.ID] = a
	}
	for _, ot := range schema.ObjectTypes {
		if _, dup := c.byObjectTypeID[ot.ID]; dup {
			return nil, apierr.New(apierr.KindOntologyViolation, "compile_schema", "duplicate object_type id "+ot.ID)
		}
		c.byObjectTypeID[ot.ID] = ot
		for _, p := range ot.URIPrefixes {
			c.prefixIndex = append(c.prefixIndex, prefixEntry{prefix: p, typ: ot})
		}
	}
	for _, inv := range schema.Invariants {
		c.byInvariantID[inv.ID] = inv
	}
	// Longest prefix first so lookups return the most specific match.
	for i := 1; i < len(c.prefixIndex); i++ {
		for j := i; j > 0 && len(c.prefixIndex[j].prefix) > len(c.prefixIndex[j-1].prefix); j-- {
			c.prefixIndex[j], c.prefixIndex[j-1] = c.prefixIndex[j-1], c.prefixIndex[j]
		}
	}
	return c, nil
}

// ActionType looks up an action type by id.
func (c *Compiled) ActionType(id string) (ActionType, bool) {
	a, ok := c.byActionID[id]
	return a, ok
}

// ObjectType looks up an object type by id.
func (c *Compiled) ObjectType(id string) (ObjectType, bool) {
	ot, ok := c.byObjectTypeID[id]
	return ot, ok
}

// MatchObjectType finds the most specific object type whose uri_prefixes
// cover target and whose allowed_scopes include target's scope.
func (c *Compiled) MatchObjectType(target uri.URI) (ObjectType, bool) {
	targetStr := target.String()
	scope := target.Scope()
	for _, e := range c.prefixIndex {
		if !strings.HasPrefix(targetStr, e.prefix) {
			continue
		}
		for _, s := range e.typ.AllowedScopes {
			if s == scope {
				return e.typ, true
			}
		}
	}
	return ObjectType{}, false
}
