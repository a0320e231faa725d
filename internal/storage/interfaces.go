package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/mediapulse/adsync/internal/dates"
	"github.com/mediapulse/adsync/internal/models"
)

// InsightStore persists per-entity per-day performance rows. Both write
// modes are idempotent and atomic per call: either every row in the batch is
// applied or none is.
type InsightStore interface {
	// UpsertBatch writes rows in mutable "today" mode: on identity conflict
	// all metric fields are overwritten with the new values.
	UpsertBatch(ctx context.Context, rows []models.InsightRow) (int, error)

	// InsertBatch writes rows in insert-only archive mode: on identity
	// conflict the existing row is kept untouched.
	InsertBatch(ctx context.Context, rows []models.InsightRow) (int, error)

	// QueryRows returns raw rows in the window, newest first, plus the total
	// matching count before pagination.
	QueryRows(ctx context.Context, w dates.Window, f models.RowFilter, p models.Page) ([]models.InsightRow, int, error)
}

// CursorStore is the sync state ledger: one row per logical scope, updated
// only after that scope's write completed. It coordinates work, never data
// correctness; a wrong ledger causes redundant fetches, not corruption.
type CursorStore interface {
	// Get returns the last completion time for scope, or nil if never run.
	Get(ctx context.Context, scope string) (*time.Time, error)

	// MarkDone records successful completion of scope at ts.
	MarkDone(ctx context.Context, scope string, ts time.Time) error

	// Snapshot returns every scope's last completion time.
	Snapshot(ctx context.Context) ([]models.SyncCursor, error)

	// LogEvent appends an audit record for scope to the sync event log.
	LogEvent(ctx context.Context, scope string, info map[string]any) error
}

// RollupStore maintains the daily aggregate table. Refreshes recompute sums
// from InsightStore rows; nothing is ever incremented in place.
type RollupStore interface {
	// RefreshRange recomputes the rollup row for every (platform, date) in
	// the window that has at least one insight row.
	RefreshRange(ctx context.Context, w dates.Window) error

	// Summary returns per-platform totals over the window.
	Summary(ctx context.Context, w dates.Window) ([]models.SummaryTotals, error)

	// QueryRollups returns the aggregate rows in the window, newest first.
	QueryRollups(ctx context.Context, w dates.Window, platform models.Platform) ([]models.DailyRollup, error)

	// RefreshSummaryView rebuilds the short-window materialized summary.
	RefreshSummaryView(ctx context.Context) error
}

// Archive receives finalized rows for long-range ad-hoc analytics. Writes
// are append-only and best-effort; the serving tables never depend on it.
type Archive interface {
	InsertRows(ctx context.Context, rows []models.InsightRow) error
}

// WriteError wraps a datastore write failure. The sync coordinator treats it
// as "ledger must not advance": a retry re-attempts the write.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
