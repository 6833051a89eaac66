package ontology

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/axiomme/axiomme/internal/store"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "axiomme_state.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestEnqueueOntologyActionPersistsValidatedEvent is seed scenario 3:
// schema with action sync_doc (input_contract=json-object,
// queue_event_type=semantic_scan), enqueue against a doc uri. Expect a
// non-empty persisted event id, event_type=semantic_scan, and a payload
// of {schema_version:1, action_id:"sync_doc", input:{...}}.
func TestEnqueueOntologyActionPersistsValidatedEvent(t *testing.T) {
	schema, err := Compile([]byte(testSchema))
	require.NoError(t, err)

	db := openTestDB(t)
	ctx := context.Background()

	input := map[string]any{"uri": "axiom://resources/docs/a.md"}
	id, err := EnqueueOntologyAction(ctx, db, schema, "axiom://resources/docs/a.md", "sync_doc", "semantic_scan", input)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	claimed, err := db.ClaimBatch(ctx, "worker-1", store.LaneSemantic, 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	ev := claimed[0]
	require.Equal(t, id, ev.ID)
	require.Equal(t, "semantic_scan", ev.EventType)
	require.Equal(t, "axiom://resources/docs/a.md", ev.TargetURI)

	var payload actionEventPayload
	require.NoError(t, json.Unmarshal([]byte(ev.Payload), &payload))
	require.Equal(t, 1, payload.SchemaVersion)
	require.Equal(t, "sync_doc", payload.ActionID)
	decodedInput, ok := payload.Input.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "axiom://resources/docs/a.md", decodedInput["uri"])
}

func TestEnqueueOntologyActionRejectsInvalidAction(t *testing.T) {
	schema, err := Compile([]byte(testSchema))
	require.NoError(t, err)

	db := openTestDB(t)
	_, err = EnqueueOntologyAction(context.Background(), db, schema, "axiom://resources/docs/a.md", "nope", "semantic_scan", nil)
	require.Error(t, err)
}

func TestEnqueueOntologyActionDerivesEmbeddingLane(t *testing.T) {
	schemaRaw := `{
		"version": 1,
		"object_types": [{"id": "doc", "uri_prefixes": ["axiom://resources/docs"], "allowed_scopes": ["resources"]}],
		"link_types": [],
		"action_types": [{"id": "reembed", "input_contract": "none", "effects": ["reembed"], "queue_event_type": "upsert"}],
		"invariants": []
	}`
	schema, err := Compile([]byte(schemaRaw))
	require.NoError(t, err)

	db := openTestDB(t)
	ctx := context.Background()
	_, err = EnqueueOntologyAction(ctx, db, schema, "axiom://resources/docs/a.md", "reembed", "upsert", nil)
	require.NoError(t, err)

	claimed, err := db.ClaimBatch(ctx, "worker-1", store.LaneEmbedding, 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
}
