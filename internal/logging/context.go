package logging

import (
	"context"
	"time"
)

// DetachContext creates a context that won't be cancelled when parent is.
//
// The outbox worker's bookkeeping writes (mark_done, requeue,
// mark_dead_letter) must land even when the iteration context that was
// driving ReplayOutbox gets cancelled by a sibling lane's errgroup
// failure or by a caller-side timeout; losing a bookkeeping write there
// would leave an event claimed forever with no worker able to finish it.
func DetachContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}

// DetachContextWithTimeout creates a detached context with its own
// timeout, so a bookkeeping write gets a bounded deadline of its own
// instead of inheriting (or outliving indefinitely) the parent's.
//
// Example usage:
//
//	bookkeepCtx, cancel := logging.DetachContextWithTimeout(ctx, 5*time.Second)
//	defer cancel()
//	err := db.MarkDone(bookkeepCtx, eventID)
func DetachContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(parent)
	return context.WithTimeout(detached, timeout)
}
