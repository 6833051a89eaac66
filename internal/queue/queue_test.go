package queue_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/axiomme/axiomme/internal/queue"
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

func noopHandler(ctx context.Context, ev store.OutboxEvent) error { return nil }

func testConfig() queue.Config {
	return queue.Config{
		ClaimBatchSize:       6,
		MaxAttempts:          3,
		MaxBackoffSeconds:    1,
		PollInterval:         0,
		IdleCyclesBeforeStop: 2,
	}
}

// TestReplayOutboxQueueFairness is seed scenario 1: enqueue 10 upsert
// (embedding lane) + 10 semantic_scan (semantic lane) fresh events, call
// replay_outbox(limit=6). Expect fetched=6 with at least 1 from each lane.
func TestReplayOutboxQueueFairness(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := db.Enqueue(ctx, store.LaneEmbedding, "upsert", "axiom://resources/docs/a.md", `{}`)
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		_, err := db.Enqueue(ctx, store.LaneSemantic, "semantic_scan", "axiom://resources/docs/b.md", `{}`)
		require.NoError(t, err)
	}

	runner := queue.New(db, testConfig(), "worker-1", map[store.Lane]queue.Handler{
		store.LaneSemantic:  noopHandler,
		store.LaneEmbedding: noopHandler,
	})

	report, err := runner.ReplayOutbox(ctx, 6, false)
	require.NoError(t, err)
	require.Equal(t, 6, report.Fetched)
	require.Equal(t, 6, report.Processed)
	require.Equal(t, 6, report.Done)

	remainingSemantic, err := db.ClaimBatch(ctx, "worker-2", store.LaneSemantic, 100, time.Now().UTC())
	require.NoError(t, err)
	remainingEmbedding, err := db.ClaimBatch(ctx, "worker-2", store.LaneEmbedding, 100, time.Now().UTC())
	require.NoError(t, err)
	require.Less(t, len(remainingSemantic), 10)
	require.Less(t, len(remainingEmbedding), 10)
}

func TestReplayOutboxIncludeDeadLetterRequeuesFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.Enqueue(ctx, store.LaneSemantic, "semantic_scan", "axiom://resources/docs/a.md", `{}`)
	require.NoError(t, err)
	_, err = db.ClaimBatch(ctx, "worker-1", store.LaneSemantic, 10, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, db.MarkDeadLetter(ctx, id, "boom"))

	runner := queue.New(db, testConfig(), "worker-1", map[store.Lane]queue.Handler{
		store.LaneSemantic:  noopHandler,
		store.LaneEmbedding: noopHandler,
	})

	report, err := runner.ReplayOutbox(ctx, 4, true)
	require.NoError(t, err)
	require.Equal(t, 1, report.Fetched)
	require.Equal(t, 1, report.Done)

	dead, err := db.ListDeadLetter(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, dead)
}

func TestReplayOutboxSkipsLanesWithNoHandler(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Enqueue(ctx, store.LaneEmbedding, "upsert", "axiom://resources/docs/a.md", `{}`)
	require.NoError(t, err)

	runner := queue.New(db, testConfig(), "worker-1", map[store.Lane]queue.Handler{
		store.LaneSemantic: noopHandler,
	})

	report, err := runner.ReplayOutbox(ctx, 6, false)
	require.NoError(t, err)
	require.Equal(t, 1, report.Fetched)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, 0, report.Processed)

	claimed, err := db.ClaimBatch(ctx, "worker-2", store.LaneEmbedding, 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, claimed, 1) // requeued, so claimable again
}

func TestRunWorkerStopsOnEmptyCycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	runner := queue.New(db, testConfig(), "worker-1", map[store.Lane]queue.Handler{
		store.LaneSemantic:  noopHandler,
		store.LaneEmbedding: noopHandler,
	})

	report, err := runner.RunWorker(ctx, 10, true)
	require.NoError(t, err)
	require.Equal(t, 1, report.CyclesRun)
	require.Equal(t, 0, report.TotalClaimed)
}

func TestRunWorkerRunsAllIterationsWhenNotStoppingOnEmpty(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	runner := queue.New(db, testConfig(), "worker-1", map[store.Lane]queue.Handler{
		store.LaneSemantic:  noopHandler,
		store.LaneEmbedding: noopHandler,
	})

	report, err := runner.RunWorker(ctx, 3, false)
	require.NoError(t, err)
	require.Equal(t, 3, report.CyclesRun)
}

// TestRunDaemonIdleStop is seed scenario 5: max_cycles=10, stop_when_idle
// =true, idle_cycles=2, sleep_ms=0, empty outbox — loop terminates after
// exactly 2 cycles with fetched=0 throughout.
func TestRunDaemonIdleStop(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.IdleCyclesBeforeStop = 2
	runner := queue.New(db, cfg, "worker-1", map[store.Lane]queue.Handler{
		store.LaneSemantic:  noopHandler,
		store.LaneEmbedding: noopHandler,
	})

	report, err := runner.RunDaemon(ctx, 10, true)
	require.NoError(t, err)
	require.Equal(t, 2, report.CyclesRun)
	require.Equal(t, 0, report.TotalClaimed)
	for _, replay := range report.Replays {
		require.Equal(t, 0, replay.Fetched)
	}
}

func TestRunDaemonRunsMaxCyclesWhenNotStoppingWhenIdle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	runner := queue.New(db, testConfig(), "worker-1", map[store.Lane]queue.Handler{
		store.LaneSemantic:  noopHandler,
		store.LaneEmbedding: noopHandler,
	})

	report, err := runner.RunDaemon(ctx, 4, false)
	require.NoError(t, err)
	require.Equal(t, 4, report.CyclesRun)
}

func TestRunWorkerRespectsContextCancellation(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := queue.New(db, testConfig(), "worker-1", map[store.Lane]queue.Handler{
		store.LaneSemantic:  noopHandler,
		store.LaneEmbedding: noopHandler,
	})

	_, err := runner.RunWorker(ctx, 5, false)
	require.Error(t, err)
}
