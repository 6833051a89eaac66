package om

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/axiomme/axiomme/internal/apierr"
	"github.com/axiomme/axiomme/internal/config"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/stretchr/testify/require"
)

func TestBuildScopeKeyTrimsAndJoins(t *testing.T) {
	key, err := BuildScopeKey(ScopeSession, "  abc  ")
	require.NoError(t, err)
	require.Equal(t, "session:abc", key)
}

func TestBuildScopeKeyMissingIdentifier(t *testing.T) {
	_, err := BuildScopeKey(ScopeThread, "   ")
	require.Error(t, err)
	var missing *MissingScopeIdentifierError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "thread", missing.Field)
}

func budget() config.OMTokenBudget {
	return config.OMTokenBudget{
		MessageTokens:        1000,
		BufferActivation:     0.8,
		BlockAfterMultiplier: 1.2,
	}
}

func TestDecideObserverThresholdAndBlock(t *testing.T) {
	now := time.Now()
	msgs := []Message{
		{ID: "1", ThreadID: "t1", Text: "hello", TokenCount: 500, CreatedAt: now},
		{ID: "2", ThreadID: "t1", Text: "world", TokenCount: 400, CreatedAt: now.Add(time.Second)},
	}

	d := DecideObserver(ObserverInput{
		Pending:      msgs,
		ActiveTokens: 0,
		Budget:       budget(),
	})
	require.Equal(t, 900, d.PendingTokens)
	require.True(t, d.ThresholdReached) // 900 >= 0.8*1000
	require.True(t, d.ShouldRunObserver)
}

func TestDecideObserverBlocksAfterThreshold(t *testing.T) {
	d := DecideObserver(ObserverInput{
		Pending:      []Message{{ID: "1", ThreadID: "t1", TokenCount: 10, CreatedAt: time.Now()}},
		ActiveTokens: 1300, // >= block_after (1200)
		Budget:       budget(),
	})
	require.False(t, d.ShouldRunObserver)
}

func TestDecideObserverFiltersByCursor(t *testing.T) {
	now := time.Now()
	cursor := now.Add(-time.Minute)
	msgs := []Message{
		{ID: "old", ThreadID: "t1", TokenCount: 100, CreatedAt: now.Add(-2 * time.Minute)},
		{ID: "new", ThreadID: "t1", TokenCount: 50, CreatedAt: now},
	}
	d := DecideObserver(ObserverInput{
		Pending:        msgs,
		LastObservedBy: map[string]time.Time{"t1": cursor},
		Budget:         budget(),
	})
	require.Len(t, d.Candidates, 1)
	require.Equal(t, "new", d.Candidates[0].ID)
	require.Equal(t, 50, d.PendingTokens)
}

func TestSynthesizeObservationsDeduplicatesAndCapsLength(t *testing.T) {
	candidates := []Message{
		{Role: "user", Text: "Do  the thing"},
		{Role: "user", Text: "do the thing"}, // dupes after normalization
		{Role: "assistant", Text: "Done."},
	}
	out := SynthesizeObservations(candidates, "", 0)
	require.Equal(t, "[user] Do the thing\n[assistant] Done.", out)
}

func TestSynthesizeObservationsForwardProgressOnAllDuplicates(t *testing.T) {
	candidates := []Message{{Role: "user", Text: "same"}}
	out := SynthesizeObservations(candidates, "[user] same", 0)
	require.Equal(t, "[user] same", out)
}

func TestActivateDropsActivatedChunks(t *testing.T) {
	record := &OmRecord{
		BufferedChunks: []OmObservationChunk{
			{Seq: 0, Observations: "chunk0", TokenCount: 10},
			{Seq: 1, Observations: "chunk1", TokenCount: 20},
			{Seq: 2, Observations: "chunk2", TokenCount: 500},
		},
	}
	result := Activate(record, 50)
	require.Equal(t, 2, result.ActivatedCount)
	require.Len(t, result.RemainingBuffer, 1)
	require.Contains(t, result.NewActiveObservations, "chunk0")
	require.Contains(t, result.NewActiveObservations, "chunk1")
}

func TestActivateAlwaysMakesProgress(t *testing.T) {
	record := &OmRecord{
		BufferedChunks: []OmObservationChunk{
			{Seq: 0, Observations: "huge", TokenCount: 10000},
		},
	}
	result := Activate(record, 50)
	require.Equal(t, 1, result.ActivatedCount)
	require.Empty(t, result.RemainingBuffer)
}

func TestDecideReflectorTriggers(t *testing.T) {
	d := DecideReflector(ReflectorInput{
		ActiveObservationTokens: 8000,
		Budget:                  config.OMTokenBudget{MessageTokens: 10000, BufferActivation: 0.5},
	})
	require.True(t, d.Triggered)
	require.Equal(t, 5000, d.Threshold)
}

type stepCompressor struct {
	tokensByLevel map[string]int
}

func (c *stepCompressor) Compress(_ context.Context, _ string, guidance string) (string, int, error) {
	return "draft:" + guidance, c.tokensByLevel[guidance], nil
}

func TestRunReflectionEscalatesGuidanceThenAccepts(t *testing.T) {
	comp := &stepCompressor{tokensByLevel: map[string]int{
		compressionGuidance[0]: 9000,
		compressionGuidance[1]: 7800,
		compressionGuidance[2]: 100,
	}}
	draft, err := RunReflection(context.Background(), comp, nil, "session:abc", "active text", 10, 20000, 8000)
	require.NoError(t, err)
	require.Equal(t, 7800, draft.ReflectionTokenCount)
	require.Equal(t, 1, draft.GuidanceLevel)
}

func TestRunReflectionAcceptsBestAfterLevelTwo(t *testing.T) {
	comp := &stepCompressor{tokensByLevel: map[string]int{
		compressionGuidance[0]: 9000,
		compressionGuidance[1]: 8900,
		compressionGuidance[2]: 8500,
	}}
	draft, err := RunReflection(context.Background(), comp, nil, "session:abc", "active text", 10, 20000, 8000)
	require.NoError(t, err)
	require.Equal(t, 8500, draft.ReflectionTokenCount)
	require.Equal(t, 2, draft.GuidanceLevel)
}

type failingCompressor struct {
	err error
}

func (c *failingCompressor) Compress(_ context.Context, _ string, _ string) (string, int, error) {
	return "", 0, c.err
}

type temporaryErr struct{ msg string }

func (e *temporaryErr) Error() string   { return e.msg }
func (e *temporaryErr) Temporary() bool { return true }

type fakeDeadLetterRecorder struct {
	calls int
	lane  store.Lane
	event string
	uri   string
	last  string
}

func (f *fakeDeadLetterRecorder) EnqueueDeadLetter(_ context.Context, lane store.Lane, eventType, targetURI, _, lastError string) (string, error) {
	f.calls++
	f.lane = lane
	f.event = eventType
	f.uri = targetURI
	f.last = lastError
	return "dlq-1", nil
}

func TestRunReflectionFatalCompressorErrorSetsInferenceFields(t *testing.T) {
	comp := &failingCompressor{err: errors.New("provider returned 400")}
	_, err := RunReflection(context.Background(), comp, nil, "session:abc", "active text", 10, 20000, 8000)
	require.Error(t, err)
	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	require.Equal(t, apierr.KindOmInference, apiErr.Kind)
	require.Equal(t, apierr.InferenceSourceReflector, apiErr.InferenceSource)
	require.Equal(t, apierr.InferenceFatal, apiErr.InferenceKind)
}

func TestRunReflectionTransientCompressorErrorSetsInferenceFields(t *testing.T) {
	comp := &failingCompressor{err: &temporaryErr{msg: "provider returned 429"}}
	_, err := RunReflection(context.Background(), comp, nil, "session:abc", "active text", 10, 20000, 8000)
	require.Error(t, err)
	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	require.Equal(t, apierr.InferenceSourceReflector, apiErr.InferenceSource)
	require.Equal(t, apierr.InferenceTransient, apiErr.InferenceKind)
}

func TestRunReflectionRecordsDeadLetterOnFailure(t *testing.T) {
	comp := &failingCompressor{err: errors.New("provider returned 500")}
	dlq := &fakeDeadLetterRecorder{}
	_, err := RunReflection(context.Background(), comp, dlq, "session:abc", "active text", 10, 20000, 8000)
	require.Error(t, err)
	require.Equal(t, 1, dlq.calls)
	require.Equal(t, store.LaneSemantic, dlq.lane)
	require.Equal(t, "om_reflection_failed", dlq.event)
	require.Equal(t, "session:abc", dlq.uri)
	require.Equal(t, "provider returned 500", dlq.last)
}

func TestRunReflectionSkipsDeadLetterWhenRecorderNil(t *testing.T) {
	comp := &failingCompressor{err: errors.New("provider returned 500")}
	_, err := RunReflection(context.Background(), comp, nil, "session:abc", "active text", 10, 20000, 8000)
	require.Error(t, err)
}

func TestAcceptReflectionCommandGenerationMonotonicity(t *testing.T) {
	record := NewOmRecord("session:abc")
	cmd := ReflectionCommand{ExpectedGeneration: 0, CommandType: CommandReflectRequested}

	require.NoError(t, AcceptReflectionCommand(record, cmd))
	require.Equal(t, 1, record.Generation)
	require.Equal(t, ReflectionPending, record.ReflectionState)

	// Replaying the same (now stale) command is rejected.
	err := AcceptReflectionCommand(record, cmd)
	require.Error(t, err)
	require.Equal(t, 1, record.Generation)
}

func TestPlanProcessInputStepReadOnlySkipsEverything(t *testing.T) {
	record := NewOmRecord("session:abc")
	plan := PlanProcessInputStep(PlanInput{ReadOnly: true, Record: record}, time.Now())
	require.False(t, plan.ShouldRunObserver)
	require.Nil(t, plan.ReflectionDecision)
}

func TestPlanProcessInputStepActivatesBeforeObserverOnInitialStep(t *testing.T) {
	record := NewOmRecord("session:abc")
	plan := PlanProcessInputStep(PlanInput{
		IsInitialStep:    true,
		HasBuffered:      true,
		BufferTokensSet:  true,
		ThresholdReached: true,
		Record:           record,
	}, time.Now())
	require.True(t, plan.ShouldActivateBufferedBeforeObserver)
	require.NotNil(t, plan.ReflectionDecision)
	require.Equal(t, CommandBufferRequested, plan.ReflectionDecision.CommandType)
}

func TestPlanProcessInputStepReflectRequestedWhenTriggered(t *testing.T) {
	record := NewOmRecord("session:abc")
	plan := PlanProcessInputStep(PlanInput{
		Reflector: ReflectorDecision{Triggered: true},
		Record:    record,
	}, time.Now())
	require.Equal(t, CommandReflectRequested, plan.ReflectionDecision.CommandType)
}
