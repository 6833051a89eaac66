// Package queue implements the outbox worker: lane dispatch, retry/backoff,
// dead-lettering, and the worker/daemon dual-termination loop over
// internal/store's durable outbox.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/axiomme/axiomme/internal/logging"
	"github.com/axiomme/axiomme/internal/store"
	"golang.org/x/sync/errgroup"
)

// Handler applies one outbox event's side effect (index upsert, OM
// advance, ontology action effect). A returned error causes a requeue
// with backoff, or a dead-letter once attempts are exhausted.
type Handler func(ctx context.Context, ev store.OutboxEvent) error

// Config holds the worker's batch size, retry, and pacing policy.
type Config struct {
	ClaimBatchSize       int
	MaxAttempts          int
	MaxBackoffSeconds    int
	PollInterval         time.Duration
	IdleCyclesBeforeStop int
	// BookkeepingTimeout bounds how long a mark_done/requeue/mark_dead_letter
	// write gets once it's detached from the calling context (see
	// internal/logging.DetachContextWithTimeout). Defaults to 5s.
	BookkeepingTimeout time.Duration
}

const defaultBookkeepingTimeout = 5 * time.Second

// ReplayReport is replay_outbox's result shape: how many events were
// fetched this call (split fairly across lanes), how many of those were
// handed to a registered handler, and how each handled event resolved.
type ReplayReport struct {
	Fetched    int
	Processed  int
	Done       int
	DeadLetter int
	Requeued   int
	Skipped    int
}

// WorkReport accumulates every replay call's report across a Run call.
type WorkReport struct {
	Replays      []ReplayReport
	CyclesRun    int
	TotalClaimed int
}

// Runner drains the outbox for a fixed set of lane handlers.
type Runner struct {
	db       *store.DB
	cfg      Config
	workerID string
	handlers map[store.Lane]Handler
}

// New constructs a Runner. handlers must have an entry for every lane it
// should drain; a lane with no handler is left untouched.
func New(db *store.DB, cfg Config, workerID string, handlers map[store.Lane]Handler) *Runner {
	if cfg.IdleCyclesBeforeStop < 1 {
		cfg.IdleCyclesBeforeStop = 1
	}
	if cfg.BookkeepingTimeout <= 0 {
		cfg.BookkeepingTimeout = defaultBookkeepingTimeout
	}
	return &Runner{db: db, cfg: cfg, workerID: workerID, handlers: handlers}
}

// ReplayOutbox is replay_outbox(limit, include_dead_letter): it claims up
// to limit events split fairly across lanes (each lane capped at
// limit/2+1 slots, so one lane's backlog can't starve the other), hands
// each claimed event to its lane's registered handler, and reports the
// outcome breakdown. When includeDeadLetter is set, dead-lettered events
// are first moved back to 'new' (fairly, by the same limit/2+1 rule) so
// they re-enter the claimable pool for this call.
//
// Claiming is sequential across lanes, since each lane's take depends on
// how much budget the previous lane already spent; processing a lane's
// claimed batch is independent of every other lane's, so that part fans
// out concurrently.
func (r *Runner) ReplayOutbox(ctx context.Context, limit int, includeDeadLetter bool) (ReplayReport, error) {
	var report ReplayReport
	if limit <= 0 {
		return report, nil
	}

	if includeDeadLetter {
		if _, err := r.db.RequeueDeadLetterBatch(ctx, limit); err != nil {
			return report, fmt.Errorf("requeue dead letter: %w", err)
		}
	}

	perLane := limit/2 + 1
	now := time.Now().UTC()

	claimed := make(map[store.Lane][]store.OutboxEvent, len(store.AllLanes))
	for _, lane := range store.AllLanes {
		remaining := limit - report.Fetched
		if remaining <= 0 {
			break
		}
		take := perLane
		if take > remaining {
			take = remaining
		}
		events, err := r.db.ClaimBatch(ctx, r.workerID, lane, take, now)
		if err != nil {
			return report, fmt.Errorf("claim batch for lane %s: %w", lane, err)
		}
		claimed[lane] = events
		report.Fetched += len(events)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, lane := range store.AllLanes {
		lane := lane
		events := claimed[lane]
		if len(events) == 0 {
			continue
		}
		g.Go(func() error {
			partial, err := r.processBatch(gctx, lane, events)
			mu.Lock()
			report.Processed += partial.Processed
			report.Done += partial.Done
			report.DeadLetter += partial.DeadLetter
			report.Requeued += partial.Requeued
			report.Skipped += partial.Skipped
			mu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	return report, nil
}

// processBatch applies handler to every claimed event in one lane,
// resolving each into done/dead-letter/requeue/skip.
func (r *Runner) processBatch(ctx context.Context, lane store.Lane, events []store.OutboxEvent) (ReplayReport, error) {
	var partial ReplayReport
	handler, ok := r.handlers[lane]
	now := time.Now().UTC()

	bookkeep := func() (context.Context, context.CancelFunc) {
		return logging.DetachContextWithTimeout(ctx, r.cfg.BookkeepingTimeout)
	}

	for _, ev := range events {
		if !ok {
			bctx, cancel := bookkeep()
			err := r.db.Requeue(bctx, ev.ID, now)
			cancel()
			if err != nil {
				return partial, fmt.Errorf("skip-requeue %s: %w", ev.ID, err)
			}
			partial.Skipped++
			continue
		}

		partial.Processed++
		if err := handler(ctx, ev); err != nil {
			if ev.Attempts >= r.cfg.MaxAttempts {
				bctx, cancel := bookkeep()
				derr := r.db.MarkDeadLetter(bctx, ev.ID, err.Error())
				cancel()
				if derr != nil {
					return partial, fmt.Errorf("dead-letter %s: %w", ev.ID, derr)
				}
				partial.DeadLetter++
				logging.Global().Warn("event %s dead-lettered after %d attempts: %v", ev.ID, ev.Attempts, err)
				continue
			}
			backoff := store.RetryBackoff(ev.Attempts, r.cfg.MaxBackoffSeconds)
			bctx, cancel := bookkeep()
			rerr := r.db.Requeue(bctx, ev.ID, now.Add(backoff))
			cancel()
			if rerr != nil {
				return partial, fmt.Errorf("requeue %s: %w", ev.ID, rerr)
			}
			partial.Requeued++
			continue
		}
		bctx, cancel := bookkeep()
		derr := r.db.MarkDone(bctx, ev.ID)
		cancel()
		if derr != nil {
			return partial, fmt.Errorf("mark done %s: %w", ev.ID, derr)
		}
		partial.Done++
	}

	return partial, nil
}

// RunWorker runs up to iterations replay_outbox calls, sleeping
// PollInterval between them, and stops early once a call fetches nothing
// if stopOnEmptyCycle is set — the "worker" termination mode: bounded,
// for CLI/one-shot use.
func (r *Runner) RunWorker(ctx context.Context, iterations int, stopOnEmptyCycle bool) (WorkReport, error) {
	var report WorkReport

	for i := 0; i < iterations; i++ {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		replay, err := r.ReplayOutbox(ctx, r.cfg.ClaimBatchSize, false)
		report.Replays = append(report.Replays, replay)
		report.CyclesRun++
		report.TotalClaimed += replay.Fetched
		if err != nil {
			return report, err
		}

		if stopOnEmptyCycle && replay.Fetched == 0 {
			break
		}
		if i < iterations-1 {
			sleep(ctx, r.cfg.PollInterval)
		}
	}

	return report, nil
}

// RunDaemon runs up to maxCycles replay_outbox calls, always sleeping
// PollInterval between them, and stops once IdleCyclesBeforeStop
// consecutive calls fetch nothing if stopWhenIdle is set — the "daemon"
// termination mode: long-running, for background service use.
func (r *Runner) RunDaemon(ctx context.Context, maxCycles int, stopWhenIdle bool) (WorkReport, error) {
	var report WorkReport
	consecutiveIdle := 0

	for i := 0; i < maxCycles; i++ {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		replay, err := r.ReplayOutbox(ctx, r.cfg.ClaimBatchSize, false)
		report.Replays = append(report.Replays, replay)
		report.CyclesRun++
		report.TotalClaimed += replay.Fetched
		if err != nil {
			return report, err
		}

		if replay.Fetched == 0 {
			consecutiveIdle++
		} else {
			consecutiveIdle = 0
		}

		sleep(ctx, r.cfg.PollInterval)

		if stopWhenIdle && consecutiveIdle >= r.cfg.IdleCyclesBeforeStop {
			break
		}
	}

	return report, nil
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
