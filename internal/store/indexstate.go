package store

import (
	"context"
	"fmt"
	"time"
)

// IndexStateStatus is the mirror row's belief about its URI's presence.
type IndexStateStatus string

const (
	IndexStatePresent IndexStateStatus = "present"
	IndexStateRemoved IndexStateStatus = "removed"
)

// IndexState is a persisted mirror of what the in-memory index believes
// about one URI, used by reconciliation to detect drift (§4.4).
type IndexState struct {
	URI         string
	ContentHash string
	Size        int64
	Status      IndexStateStatus
	UpdatedAt   time.Time
}

// UpsertIndexState records the mirror's belief after a successful index
// upsert. Safe to re-execute (§7 idempotency): keyed by URI.
func (d *DB) UpsertIndexState(ctx context.Context, s IndexState) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO index_state (uri, content_hash, size, status, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(uri) DO UPDATE SET content_hash = excluded.content_hash,
		     size = excluded.size, status = excluded.status, updated_at = excluded.updated_at`,
		s.URI, s.ContentHash, s.Size, string(s.Status), s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert index state %s: %w", s.URI, err)
	}
	return nil
}

// RemoveIndexState marks a URI removed in the mirror rather than deleting
// the row outright, so reconciliation can still observe "this used to
// exist and the index agrees it's gone" versus "never seen."
func (d *DB) RemoveIndexState(ctx context.Context, uri string) error {
	_, err := d.conn.ExecContext(ctx,
		`UPDATE index_state SET status = 'removed', updated_at = ? WHERE uri = ?`,
		time.Now().UTC(), uri,
	)
	if err != nil {
		return fmt.Errorf("remove index state %s: %w", uri, err)
	}
	return nil
}

// AllIndexState returns every mirror row with status 'present'.
func (d *DB) AllIndexState(ctx context.Context) ([]IndexState, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT uri, content_hash, size, status, updated_at FROM index_state WHERE status = 'present'`,
	)
	if err != nil {
		return nil, fmt.Errorf("list index state: %w", err)
	}
	defer rows.Close()

	var out []IndexState
	for rows.Next() {
		var s IndexState
		var status string
		if err := rows.Scan(&s.URI, &s.ContentHash, &s.Size, &status, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan index state row: %w", err)
		}
		s.Status = IndexStateStatus(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

// IndexSnapshot is the in-memory index's side of a reconciliation
// comparison: URI -> content hash, supplied by whichever caller holds the
// live indexstore.Store.
type IndexSnapshot map[string]string

// DriftKind classifies one reconciliation discrepancy.
type DriftKind string

const (
	// DriftOnlyInMirror: the mirror believes a URI is present but the
	// live index has no record for it (e.g. process crashed mid-upsert).
	DriftOnlyInMirror DriftKind = "only_in_mirror"
	// DriftOnlyInIndex: the live index has a record the mirror never saw.
	DriftOnlyInIndex DriftKind = "only_in_index"
	// DriftHashMismatch: both sides have the URI but disagree on content.
	DriftHashMismatch DriftKind = "hash_mismatch"
)

// Drift is one URI's reconciliation discrepancy.
type Drift struct {
	URI  string
	Kind DriftKind
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	DriftCount int
	Drifts     []Drift
	// Repaired is populated only when enforce=true: the URIs whose
	// mirror row was rewritten in place to match the live index.
	Repaired []string
	// Enqueued is populated only when enforce=false: the URIs for which
	// a repair event was enqueued instead of applying the fix directly.
	Enqueued []string
}

// Reconcile compares the persisted mirror against live (the in-memory
// index's current URI -> content-hash view) and computes the symmetric
// difference. With enforce=false, a repair outbox event is enqueued per
// drifted URI (event_type "semantic_scan"); with enforce=true, the mirror
// is rewritten in place to match live immediately.
func (d *DB) Reconcile(ctx context.Context, live IndexSnapshot, enforce bool) (ReconcileReport, error) {
	mirrorRows, err := d.AllIndexState(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}
	mirror := make(map[string]IndexState, len(mirrorRows))
	for _, row := range mirrorRows {
		mirror[row.URI] = row
	}

	var report ReconcileReport
	now := time.Now().UTC()

	for u, row := range mirror {
		liveHash, present := live[u]
		switch {
		case !present:
			report.Drifts = append(report.Drifts, Drift{URI: u, Kind: DriftOnlyInMirror})
		case liveHash != row.ContentHash:
			report.Drifts = append(report.Drifts, Drift{URI: u, Kind: DriftHashMismatch})
		}
	}
	for u := range live {
		if _, ok := mirror[u]; !ok {
			report.Drifts = append(report.Drifts, Drift{URI: u, Kind: DriftOnlyInIndex})
		}
	}
	report.DriftCount = len(report.Drifts)

	for _, drift := range report.Drifts {
		if enforce {
			if err := d.applyDrift(ctx, drift, live, now); err != nil {
				return report, err
			}
			report.Repaired = append(report.Repaired, drift.URI)
			continue
		}
		if _, err := d.Enqueue(ctx, LaneSemantic, "semantic_scan", drift.URI,
			fmt.Sprintf(`{"reconcile_drift":%q}`, drift.Kind)); err != nil {
			return report, fmt.Errorf("enqueue repair for %s: %w", drift.URI, err)
		}
		report.Enqueued = append(report.Enqueued, drift.URI)
	}

	return report, nil
}

func (d *DB) applyDrift(ctx context.Context, drift Drift, live IndexSnapshot, now time.Time) error {
	switch drift.Kind {
	case DriftOnlyInMirror:
		return d.RemoveIndexState(ctx, drift.URI)
	case DriftOnlyInIndex, DriftHashMismatch:
		return d.UpsertIndexState(ctx, IndexState{
			URI:         drift.URI,
			ContentHash: live[drift.URI],
			Status:      IndexStatePresent,
			UpdatedAt:   now,
		})
	default:
		return nil
	}
}
