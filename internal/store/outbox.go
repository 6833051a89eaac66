package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/axiomme/axiomme/internal/logging"
	"github.com/google/uuid"
)

// Lane partitions outbox events so the worker can drain each lane fairly
// instead of one lane starving the other (§4.5 lane dispatch).
type Lane string

const (
	LaneSemantic  Lane = "semantic"
	LaneEmbedding Lane = "embedding"
)

// AllLanes is the fixed, closed set of lanes replay fairness alternates
// across.
var AllLanes = []Lane{LaneSemantic, LaneEmbedding}

// LaneForEventType derives an event's lane from its event type: "upsert"
// and any "embedding_"-prefixed type go to the embedding lane, everything
// else goes to semantic.
func LaneForEventType(eventType string) Lane {
	if eventType == "upsert" || strings.HasPrefix(eventType, "embedding_") {
		return LaneEmbedding
	}
	return LaneSemantic
}

// OutboxStatus is the event's lifecycle state.
type OutboxStatus string

const (
	StatusNew    OutboxStatus = "new"
	StatusClaimed OutboxStatus = "claimed"
)

// OutboxEvent is one durable work item.
type OutboxEvent struct {
	ID          string
	Lane        Lane
	EventType   string
	TargetURI   string
	Payload     string
	Status      OutboxStatus
	Attempts    int
	AvailableAt time.Time
	ClaimedBy   string
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DeadLetterEvent is an event that exhausted its retry budget.
type DeadLetterEvent struct {
	ID        string
	Lane      Lane
	EventType string
	TargetURI string
	Payload   string
	Attempts  int
	LastError string
	FailedAt  time.Time
}

// Enqueue inserts a new event, available immediately.
func (d *DB) Enqueue(ctx context.Context, lane Lane, eventType, targetURI, payload string) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO outbox_events (id, lane, event_type, target_uri, payload, status, attempts, available_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'new', 0, ?, ?, ?)`,
		id, string(lane), eventType, targetURI, payload, now, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue event: %w", err)
	}
	return id, nil
}

// ClaimBatch fences a batch of up to limit new, available events in lane
// over to workerID: only rows still in status 'new' at update time are
// claimed, so two workers racing to claim the same row never both succeed.
func (d *DB) ClaimBatch(ctx context.Context, workerID string, lane Lane, limit int, now time.Time) ([]OutboxEvent, error) {
	var claimed []OutboxEvent

	err := d.WithTx(ctx, func(tx *sql.Tx) error {
		const selectClaimable = `SELECT id FROM outbox_events
			 WHERE lane = ? AND status = 'new' AND available_at <= ?
			 ORDER BY available_at ASC, id ASC LIMIT ?`
		logging.Global().SQL(selectClaimable, string(lane), now, limit)
		rows, err := tx.QueryContext(ctx, selectClaimable, string(lane), now, limit)
		if err != nil {
			return fmt.Errorf("select claimable: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan claimable id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			res, err := tx.ExecContext(ctx,
				`UPDATE outbox_events
				 SET status = 'claimed', claimed_by = ?, attempts = attempts + 1, updated_at = ?
				 WHERE id = ? AND status = 'new'`,
				workerID, now, id,
			)
			if err != nil {
				return fmt.Errorf("claim %s: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				continue // lost the fence race to another claimant
			}

			row := tx.QueryRowContext(ctx,
				`SELECT id, lane, event_type, target_uri, payload, status, attempts, available_at, claimed_by, last_error, created_at, updated_at
				 FROM outbox_events WHERE id = ?`, id,
			)
			ev, err := scanOutboxEvent(row)
			if err != nil {
				return fmt.Errorf("read claimed %s: %w", id, err)
			}
			claimed = append(claimed, ev)
		}
		return nil
	})

	return claimed, err
}

func scanOutboxEvent(row *sql.Row) (OutboxEvent, error) {
	var ev OutboxEvent
	var lane, status string
	if err := row.Scan(
		&ev.ID, &lane, &ev.EventType, &ev.TargetURI, &ev.Payload, &status,
		&ev.Attempts, &ev.AvailableAt, &ev.ClaimedBy, &ev.LastError, &ev.CreatedAt, &ev.UpdatedAt,
	); err != nil {
		return OutboxEvent{}, err
	}
	ev.Lane = Lane(lane)
	ev.Status = OutboxStatus(status)
	return ev, nil
}

// MarkDone removes a successfully processed event. A no-op if id is
// already gone or not in status 'claimed' (§7 idempotency).
func (d *DB) MarkDone(ctx context.Context, id string) error {
	_, err := d.conn.ExecContext(ctx, `DELETE FROM outbox_events WHERE id = ? AND status = 'claimed'`, id)
	if err != nil {
		return fmt.Errorf("mark done %s: %w", id, err)
	}
	return nil
}

// Requeue returns a claimed event to status 'new', available at
// availableAt (the caller computes this from RetryBackoff).
func (d *DB) Requeue(ctx context.Context, id string, availableAt time.Time) error {
	_, err := d.conn.ExecContext(ctx,
		`UPDATE outbox_events SET status = 'new', available_at = ?, updated_at = ? WHERE id = ?`,
		availableAt, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("requeue %s: %w", id, err)
	}
	return nil
}

// MarkDeadLetter moves a claimed event into the dead-letter table after it
// has exhausted its retry budget.
func (d *DB) MarkDeadLetter(ctx context.Context, id, lastError string) error {
	return d.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT id, lane, event_type, target_uri, payload, status, attempts, available_at, claimed_by, last_error, created_at, updated_at
			 FROM outbox_events WHERE id = ?`, id,
		)
		ev, err := scanOutboxEvent(row)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return fmt.Errorf("read %s: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dead_letter_events (id, lane, event_type, target_uri, payload, attempts, last_error, failed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, string(ev.Lane), ev.EventType, ev.TargetURI, ev.Payload, ev.Attempts, lastError, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("insert dead letter %s: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM outbox_events WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete outbox %s: %w", id, err)
		}
		return nil
	})
}

// EnqueueDeadLetter directly records a fallback trace that never went
// through the outbox's claim/retry cycle — e.g. an OM observer/reflector
// failure with no attempts budget to exhaust (§4.4/§6).
func (d *DB) EnqueueDeadLetter(ctx context.Context, lane Lane, eventType, targetURI, payload, lastError string) (string, error) {
	id := uuid.New().String()
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO dead_letter_events (id, lane, event_type, target_uri, payload, attempts, last_error, failed_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		id, string(lane), eventType, targetURI, payload, lastError, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue dead letter: %w", err)
	}
	return id, nil
}

// ListDeadLetter returns up to limit dead-lettered events, oldest first.
func (d *DB) ListDeadLetter(ctx context.Context, limit int) ([]DeadLetterEvent, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, lane, event_type, target_uri, payload, attempts, last_error, failed_at
		 FROM dead_letter_events ORDER BY failed_at ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list dead letter: %w", err)
	}
	defer rows.Close()

	var out []DeadLetterEvent
	for rows.Next() {
		var e DeadLetterEvent
		var lane string
		if err := rows.Scan(&e.ID, &lane, &e.EventType, &e.TargetURI, &e.Payload, &e.Attempts, &e.LastError, &e.FailedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter row: %w", err)
		}
		e.Lane = Lane(lane)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RequeueDeadLetterBatch moves dead-lettered events back into the outbox
// as fresh, zero-attempt 'new' events, up to limit/2+1 per lane (so up to
// 2*(limit/2+1) in total), so one lane's backlog can't starve the other.
// This is the dead-letter-specific half of replay; the full
// replay_outbox(limit, include_dead_letter) operation described in §4.4
// (fair claim across lanes, then process, then report) lives in
// internal/queue.Runner.ReplayOutbox, which calls this when
// include_dead_letter is set before claiming.
func (d *DB) RequeueDeadLetterBatch(ctx context.Context, limit int) (int, error) {
	perLane := limit/2 + 1
	replayed := 0

	for _, lane := range AllLanes {
		rows, err := d.conn.QueryContext(ctx,
			`SELECT id, lane, event_type, target_uri, payload, attempts, last_error, failed_at
			 FROM dead_letter_events WHERE lane = ? ORDER BY failed_at ASC LIMIT ?`,
			string(lane), perLane,
		)
		if err != nil {
			return replayed, fmt.Errorf("select dead letter for %s: %w", lane, err)
		}
		var batch []DeadLetterEvent
		for rows.Next() {
			var e DeadLetterEvent
			var l string
			if err := rows.Scan(&e.ID, &l, &e.EventType, &e.TargetURI, &e.Payload, &e.Attempts, &e.LastError, &e.FailedAt); err != nil {
				rows.Close()
				return replayed, fmt.Errorf("scan dead letter row: %w", err)
			}
			e.Lane = Lane(l)
			batch = append(batch, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return replayed, err
		}

		for _, e := range batch {
			err := d.WithTx(ctx, func(tx *sql.Tx) error {
				now := time.Now().UTC()
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO outbox_events (id, lane, event_type, target_uri, payload, status, attempts, available_at, created_at, updated_at)
					 VALUES (?, ?, ?, ?, ?, 'new', 0, ?, ?, ?)`,
					e.ID, string(e.Lane), e.EventType, e.TargetURI, e.Payload, now, now, now,
				); err != nil {
					return fmt.Errorf("reinsert %s: %w", e.ID, err)
				}
				if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letter_events WHERE id = ?`, e.ID); err != nil {
					return fmt.Errorf("delete dead letter %s: %w", e.ID, err)
				}
				return nil
			})
			if err != nil {
				return replayed, err
			}
			replayed++
		}
	}

	return replayed, nil
}
