package logging

import (
	"context"
	"testing"
	"time"
)

// simulateBookkeepingWrite models what internal/queue.Runner.processBatch
// does: issue a write against a detached context after the iteration
// context it was derived from may already be gone. Returns whether the
// write context was still usable when the write "happened".
func simulateBookkeepingWrite(writeCtx context.Context) bool {
	return writeCtx.Err() == nil
}

func TestDetachContextSurvivesIterationCancellation(t *testing.T) {
	iterationCtx, cancelIteration := context.WithCancel(context.Background())
	writeCtx := DetachContext(iterationCtx)

	cancelIteration() // the ReplayOutbox iteration that spawned this write is gone

	if iterationCtx.Err() == nil {
		t.Error("iteration context should be cancelled")
	}
	if !simulateBookkeepingWrite(writeCtx) {
		t.Error("bookkeeping write should still succeed against the detached context")
	}
}

func TestDetachContextWithTimeoutOutlivesParentCancellation(t *testing.T) {
	iterationCtx, cancelIteration := context.WithCancel(context.Background())
	writeCtx, cancelWrite := DetachContextWithTimeout(iterationCtx, 100*time.Millisecond)
	defer cancelWrite()

	cancelIteration()

	if iterationCtx.Err() == nil {
		t.Error("iteration context should be cancelled")
	}
	if writeCtx.Err() != nil {
		t.Errorf("write context should not yet be cancelled, got: %v", writeCtx.Err())
	}

	time.Sleep(150 * time.Millisecond)

	if writeCtx.Err() != context.DeadlineExceeded {
		t.Errorf("write context should time out on its own deadline, got: %v", writeCtx.Err())
	}
}

func TestDetachContextWithTimeoutHasOwnDeadline(t *testing.T) {
	timeout := 50 * time.Millisecond
	writeCtx, cancel := DetachContextWithTimeout(context.Background(), timeout)
	defer cancel()

	deadline, ok := writeCtx.Deadline()
	if !ok {
		t.Error("write context should carry a deadline")
	}
	expected := time.Now().Add(timeout)
	if diff := deadline.Sub(expected); diff < -10*time.Millisecond || diff > 10*time.Millisecond {
		t.Errorf("deadline should be ~%v from now, got diff: %v", timeout, diff)
	}

	<-writeCtx.Done()
	if writeCtx.Err() != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got: %v", writeCtx.Err())
	}
}

func TestDetachContextPreservesValues(t *testing.T) {
	type key string
	workerIDKey := key("worker_id")

	iterationCtx := context.WithValue(context.Background(), workerIDKey, "worker-1")
	writeCtx := DetachContext(iterationCtx)

	if v := writeCtx.Value(workerIDKey); v != "worker-1" {
		t.Errorf("expected worker_id %v, got %v", "worker-1", v)
	}
}
