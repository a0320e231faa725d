// Package syncer decides which date windows need fetching, drives the
// platform adapters, and owns every write to the insight store and the sync
// ledger.
package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mediapulse/adsync/internal/config"
	"github.com/mediapulse/adsync/internal/dates"
	"github.com/mediapulse/adsync/internal/metrics"
	"github.com/mediapulse/adsync/internal/models"
	"github.com/mediapulse/adsync/internal/rollup"
	"github.com/mediapulse/adsync/internal/source"
	"github.com/mediapulse/adsync/internal/storage"
	"go.uber.org/zap"
)

// ScopeYesterdayFinalize gates the once-per-day archival of yesterday.
const ScopeYesterdayFinalize = "yesterday_finalize"

// ScopeToday returns the ledger scope for a platform's intraday sync.
func ScopeToday(p models.Platform) string { return "today_" + string(p) }

type writeMode int

const (
	// modeUpsert overwrites metric fields on conflict; used while the day's
	// numbers are still changing.
	modeUpsert writeMode = iota
	// modeArchive keeps the existing row on conflict; used once a day is
	// final, so re-runs cannot silently alter history.
	modeArchive
)

func (m writeMode) String() string {
	if m == modeArchive {
		return "archive"
	}
	return "upsert"
}

// Coordinator runs the sync state machine for each trigger. Fetch completes
// before write begins; write completes before the ledger advances; the
// ledger advances before rollups refresh. No store connection is held across
// an upstream HTTP call.
type Coordinator struct {
	sources  []source.Source
	insights storage.InsightStore
	cursors  storage.CursorStore
	rollups  *rollup.Engine
	archive  storage.Archive
	metrics  *metrics.Metrics
	logger   *zap.Logger
	loc      *time.Location
	cfg      config.SyncConfig
	now      func() time.Time
}

// Options carries the optional collaborators.
type Options struct {
	Archive storage.Archive
	Metrics *metrics.Metrics
}

func New(
	sources []source.Source,
	insights storage.InsightStore,
	cursors storage.CursorStore,
	rollups *rollup.Engine,
	cfg config.SyncConfig,
	loc *time.Location,
	logger *zap.Logger,
	opts Options,
) *Coordinator {
	return &Coordinator{
		sources:  sources,
		insights: insights,
		cursors:  cursors,
		rollups:  rollups,
		archive:  opts.Archive,
		metrics:  opts.Metrics,
		logger:   logger,
		loc:      loc,
		cfg:      cfg,
		now:      time.Now,
	}
}

// PlatformResult is one platform's outcome within a sync invocation.
type PlatformResult struct {
	Platform models.Platform `json:"platform"`
	Fetched  int             `json:"fetched"`
	Written  int             `json:"written"`
	Err      error           `json:"-"`
	Error    string          `json:"error,omitempty"`
}

// Result reports a sync invocation. Platform failures are isolated: a
// partial success lists per-platform outcomes instead of failing the whole
// invocation.
type Result struct {
	RunID     string           `json:"run_id"`
	Scope     string           `json:"scope"`
	Date      string           `json:"date,omitempty"`
	Skipped   bool             `json:"skipped,omitempty"`
	Platforms []PlatformResult `json:"platforms,omitempty"`
	RollupErr error            `json:"-"`
}

// OK reports whether every platform succeeded.
func (r *Result) OK() bool {
	for i := range r.Platforms {
		if r.Platforms[i].Err != nil {
			return false
		}
	}
	return true
}

// SyncToday fetches the current day in the configured timezone for every
// platform and writes in upsert mode, since intraday numbers keep moving.
func (c *Coordinator) SyncToday(ctx context.Context) Result {
	today := dates.Today(c.loc)
	res := Result{
		RunID: uuid.NewString(),
		Scope: "today",
		Date:  today.Format(dates.DayFormat),
	}

	w := dates.SingleDay(today)
	res.Platforms = c.fanOut(ctx, res.RunID, w, modeUpsert, func(p models.Platform) string {
		return ScopeToday(p)
	})

	// Rollups are derived and re-runnable; a failure here leaves them stale
	// but never touches the committed insight rows.
	res.RollupErr = c.rollups.RefreshRecentWindows(ctx)
	return res
}

// FinalizeYesterday archives yesterday's rows in insert-only mode, at most
// once per calendar day. The gate is the ledger timestamp: if the last run
// finished today, the call is a no-op.
func (c *Coordinator) FinalizeYesterday(ctx context.Context) Result {
	yesterday := dates.Yesterday(c.loc)
	res := Result{
		RunID: uuid.NewString(),
		Scope: ScopeYesterdayFinalize,
		Date:  yesterday.Format(dates.DayFormat),
	}

	last, err := c.cursors.Get(ctx, ScopeYesterdayFinalize)
	if err != nil {
		// A broken ledger costs redundant fetch work, never correctness:
		// the archive write mode is idempotent.
		c.logger.Warn("sync ledger read failed, proceeding", zap.Error(err))
	}
	if last != nil && dates.SameDay(*last, c.now(), c.loc) {
		res.Skipped = true
		return res
	}

	w := dates.SingleDay(yesterday)
	res.Platforms = c.fanOut(ctx, res.RunID, w, modeArchive, nil)

	if res.OK() {
		if err := c.cursors.MarkDone(ctx, ScopeYesterdayFinalize, c.now()); err != nil {
			c.logger.Warn("failed to mark finalize cursor", zap.Error(err))
		} else if c.metrics != nil {
			c.metrics.MarkSynced(ScopeYesterdayFinalize, c.now())
		}
	}

	res.RollupErr = c.rollups.Refresh(ctx, w)
	if res.RollupErr == nil {
		res.RollupErr = c.rollups.RefreshSummaryView(ctx)
	}
	return res
}

// fanOut syncs every platform concurrently with isolated error capture. One
// platform's failure never blocks or discards a sibling's work.
func (c *Coordinator) fanOut(ctx context.Context, runID string, w dates.Window, mode writeMode, cursorScope func(models.Platform) string) []PlatformResult {
	results := make([]PlatformResult, len(c.sources))
	done := make(chan int, len(c.sources))

	for i := range c.sources {
		go func(i int) {
			defer func() { done <- i }()
			scope := ""
			if cursorScope != nil {
				scope = cursorScope(c.sources[i].Platform())
			}
			results[i] = c.syncPlatform(ctx, runID, c.sources[i], w, mode, scope)
		}(i)
	}
	for range c.sources {
		<-done
	}

	for i := range results {
		if results[i].Err != nil {
			results[i].Error = results[i].Err.Error()
		}
	}
	return results
}

// syncPlatform runs one platform through Fetching → Writing → Finalizing.
// The cursor scope, when set, advances only after the write committed, so a
// write failure leaves the ledger behind and a retry re-attempts the write.
func (c *Coordinator) syncPlatform(ctx context.Context, runID string, src source.Source, w dates.Window, mode writeMode, cursorScope string) PlatformResult {
	platform := src.Platform()
	res := PlatformResult{Platform: platform}
	scopeLabel := cursorScope
	if scopeLabel == "" {
		scopeLabel = ScopeYesterdayFinalize
	}

	fetchStart := c.now()
	rows, err := src.Fetch(ctx, w)
	if err != nil {
		res.Err = err
		c.logger.Error("fetch failed",
			zap.String("run_id", runID),
			zap.String("platform", string(platform)),
			zap.String("window", w.String()),
			zap.Error(err),
		)
		c.recordSync(scopeLabel, platform, "fetch_error")
		return res
	}
	res.Fetched = len(rows)
	if c.metrics != nil {
		c.metrics.RecordFetch(string(platform), len(rows), c.now().Sub(fetchStart))
	}

	writeStart := c.now()
	var written int
	if mode == modeUpsert {
		written, err = c.insights.UpsertBatch(ctx, rows)
	} else {
		written, err = c.insights.InsertBatch(ctx, rows)
	}
	if err != nil {
		res.Err = err
		c.logger.Error("write failed",
			zap.String("run_id", runID),
			zap.String("platform", string(platform)),
			zap.String("mode", mode.String()),
			zap.Error(err),
		)
		c.recordSync(scopeLabel, platform, "write_error")
		return res
	}
	res.Written = written
	if c.metrics != nil {
		c.metrics.RecordWrite(string(platform), mode.String(), written, c.now().Sub(writeStart))
	}

	if mode == modeArchive && c.archive != nil {
		// Best-effort analytical mirror; the Postgres rows already committed.
		if err := c.archive.InsertRows(ctx, rows); err != nil {
			c.logger.Warn("archive mirror failed",
				zap.String("platform", string(platform)),
				zap.Error(err),
			)
		}
	}

	c.logEvent(ctx, scopeLabel, map[string]any{
		"run_id":  runID,
		"window":  w.String(),
		"mode":    mode.String(),
		"rows":    len(rows),
		"written": written,
	})

	if cursorScope != "" {
		if err := c.cursors.MarkDone(ctx, cursorScope, c.now()); err != nil {
			// Non-fatal: a missing cursor only means redundant work later.
			c.logger.Warn("failed to mark sync cursor",
				zap.String("scope", cursorScope),
				zap.Error(err),
			)
		} else if c.metrics != nil {
			c.metrics.MarkSynced(cursorScope, c.now())
		}
	}

	c.recordSync(scopeLabel, platform, "ok")
	c.logger.Info("platform sync complete",
		zap.String("run_id", runID),
		zap.String("platform", string(platform)),
		zap.String("window", w.String()),
		zap.String("mode", mode.String()),
		zap.Int("rows", len(rows)),
		zap.Int("written", written),
	)
	return res
}

func (c *Coordinator) recordSync(scope string, platform models.Platform, status string) {
	if c.metrics != nil {
		c.metrics.RecordSync(scope, string(platform), status)
	}
}

func (c *Coordinator) logEvent(ctx context.Context, scope string, info map[string]any) {
	if err := c.cursors.LogEvent(ctx, scope, info); err != nil {
		c.logger.Warn("failed to log sync event", zap.String("scope", scope), zap.Error(err))
	}
}

// LastSync returns the ledger snapshot for dashboard status display.
func (c *Coordinator) LastSync(ctx context.Context) (map[string]time.Time, error) {
	cursors, err := c.cursors.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(cursors))
	for _, cur := range cursors {
		out[cur.Scope] = cur.FinishedAt
	}
	return out, nil
}
