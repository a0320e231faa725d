package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mediapulse/adsync/internal/dates"
	"github.com/mediapulse/adsync/internal/models"
	"github.com/mediapulse/adsync/internal/source"
	"go.uber.org/zap"
)

// ChunkResult is one backfill chunk's outcome.
type ChunkResult struct {
	Platform models.Platform `json:"platform"`
	Window   string          `json:"window"`
	Fetched  int             `json:"fetched"`
	Written  int             `json:"written"`
	Err      error           `json:"-"`
	Error    string          `json:"error,omitempty"`
}

// BackfillReport lists every chunk attempted, failed chunks included.
type BackfillReport struct {
	RunID  string        `json:"run_id"`
	Window string        `json:"window"`
	Chunks []ChunkResult `json:"chunks"`
}

// Failed returns the chunks that did not complete.
func (r *BackfillReport) Failed() []ChunkResult {
	var out []ChunkResult
	for _, ch := range r.Chunks {
		if ch.Err != nil {
			out = append(out, ch)
		}
	}
	return out
}

// Backfill loads a historical range in bounded chunks, insert-only so
// already-loaded days are untouched and the whole run is safely re-runnable.
// Chunks are processed sequentially with a short delay between them; a chunk
// failure is recorded and the backfill continues. Cancellation is honored
// between chunks, never mid-chunk, so a partially processed chunk is either
// fully written or not written at all.
func (c *Coordinator) Backfill(ctx context.Context, w dates.Window, platforms []models.Platform) BackfillReport {
	report := BackfillReport{
		RunID:  uuid.NewString(),
		Window: w.String(),
	}

	chunkDays := c.cfg.BackfillChunkDays
	if chunkDays <= 0 {
		chunkDays = 30
	}
	chunks := w.Chunk(chunkDays)

	c.logger.Info("backfill starting",
		zap.String("run_id", report.RunID),
		zap.String("window", w.String()),
		zap.Int("chunks", len(chunks)),
	)

	for _, src := range c.sources {
		if !platformRequested(platforms, src.Platform()) {
			continue
		}
		for i, chunk := range chunks {
			if ctx.Err() != nil {
				c.logger.Warn("backfill interrupted",
					zap.String("run_id", report.RunID),
					zap.String("platform", string(src.Platform())),
					zap.String("chunk", chunk.String()),
				)
				return report
			}
			if i > 0 {
				// Breathe between chunks so long backfills do not trip
				// upstream rate limits.
				if !sleepCtx(ctx, c.cfg.BackfillChunkDelay) {
					return report
				}
			}
			report.Chunks = append(report.Chunks, c.backfillChunk(ctx, report.RunID, src, chunk))
		}
	}
	return report
}

func (c *Coordinator) backfillChunk(ctx context.Context, runID string, src source.Source, chunk dates.Window) ChunkResult {
	platform := src.Platform()
	res := ChunkResult{Platform: platform, Window: chunk.String()}

	rows, err := src.Fetch(ctx, chunk)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		c.logger.Error("backfill chunk fetch failed",
			zap.String("run_id", runID),
			zap.String("platform", string(platform)),
			zap.String("chunk", chunk.String()),
			zap.Error(err),
		)
		c.recordChunk(platform, "fetch_error")
		return res
	}
	res.Fetched = len(rows)

	written, err := c.insights.InsertBatch(ctx, rows)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		c.logger.Error("backfill chunk write failed",
			zap.String("run_id", runID),
			zap.String("platform", string(platform)),
			zap.String("chunk", chunk.String()),
			zap.Error(err),
		)
		c.recordChunk(platform, "write_error")
		return res
	}
	res.Written = written

	if c.archive != nil {
		if err := c.archive.InsertRows(ctx, rows); err != nil {
			c.logger.Warn("archive mirror failed",
				zap.String("platform", string(platform)),
				zap.String("chunk", chunk.String()),
				zap.Error(err),
			)
		}
	}

	c.logEvent(ctx, string(platform)+"_history_chunk", map[string]any{
		"run_id":  runID,
		"window":  chunk.String(),
		"rows":    len(rows),
		"written": written,
	})

	if err := c.rollups.Refresh(ctx, chunk); err != nil {
		c.logger.Warn("backfill rollup refresh failed",
			zap.String("chunk", chunk.String()),
			zap.Error(err),
		)
	}

	c.recordChunk(platform, "ok")
	c.logger.Info("backfill chunk complete",
		zap.String("run_id", runID),
		zap.String("platform", string(platform)),
		zap.String("chunk", chunk.String()),
		zap.Int("rows", len(rows)),
		zap.Int("written", written),
	)
	return res
}

func (c *Coordinator) recordChunk(platform models.Platform, status string) {
	if c.metrics != nil {
		c.metrics.RecordBackfillChunk(string(platform), status)
	}
}

func platformRequested(requested []models.Platform, p models.Platform) bool {
	if len(requested) == 0 {
		return true
	}
	for _, r := range requested {
		if r == p {
			return true
		}
	}
	return false
}

// sleepCtx waits d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
