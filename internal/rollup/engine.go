// Package rollup maintains the daily aggregate table the dashboard reads.
// Aggregates are recomputed from insight rows on every refresh, so
// overlapping or repeated refreshes always converge to the same sums.
package rollup

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mediapulse/adsync/internal/dates"
	"github.com/mediapulse/adsync/internal/metrics"
	"github.com/mediapulse/adsync/internal/models"
	"github.com/mediapulse/adsync/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Engine drives rollup refreshes and serves cached summary reads.
type Engine struct {
	store      storage.RollupStore
	cache      *redis.Client
	cacheTTL   time.Duration
	windowDays int
	loc        *time.Location
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewEngine(store storage.RollupStore, cache *redis.Client, cacheTTL time.Duration, windowDays int, loc *time.Location, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if windowDays <= 0 {
		windowDays = 30
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &Engine{
		store:      store,
		cache:      cache,
		cacheTTL:   cacheTTL,
		windowDays: windowDays,
		loc:        loc,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// Refresh recomputes rollup rows for the window.
func (e *Engine) Refresh(ctx context.Context, w dates.Window) error {
	start := e.now()
	err := e.store.RefreshRange(ctx, w)
	elapsed := e.now().Sub(start)

	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordRollup("error", elapsed)
		}
		e.logger.Error("rollup refresh failed", zap.String("window", w.String()), zap.Error(err))
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordRollup("ok", elapsed)
	}
	e.logger.Info("rollup refreshed",
		zap.String("window", w.String()),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

// RefreshRecentWindows refreshes yesterday (cheap, catches late corrections)
// and the rolling dashboard window including today, then rebuilds the
// materialized summary.
func (e *Engine) RefreshRecentWindows(ctx context.Context) error {
	today := dates.Today(e.loc)
	yesterday := dates.Yesterday(e.loc)

	if err := e.Refresh(ctx, dates.SingleDay(yesterday)); err != nil {
		return err
	}

	w := dates.Window{Since: today.AddDate(0, 0, -e.windowDays), Until: today}
	if err := e.Refresh(ctx, w); err != nil {
		return err
	}

	return e.RefreshSummaryView(ctx)
}

// RefreshSummaryView rebuilds the short-window materialized summary.
func (e *Engine) RefreshSummaryView(ctx context.Context) error {
	if err := e.store.RefreshSummaryView(ctx); err != nil {
		e.logger.Error("summary view refresh failed", zap.Error(err))
		return err
	}
	return nil
}

// Summary returns per-platform totals for the window through a short-TTL
// cache. Cache failures fall through to the store; serving is never blocked
// on Redis.
func (e *Engine) Summary(ctx context.Context, w dates.Window) ([]models.SummaryTotals, error) {
	key := "adsync:summary:" + w.String()

	if e.cache != nil {
		if raw, err := e.cache.Get(ctx, key).Bytes(); err == nil {
			var cached []models.SummaryTotals
			if err := json.Unmarshal(raw, &cached); err == nil {
				if e.metrics != nil {
					e.metrics.SummaryCacheHits.Inc()
				}
				return cached, nil
			}
		}
		if e.metrics != nil {
			e.metrics.SummaryCacheMisses.Inc()
		}
	}

	totals, err := e.store.Summary(ctx, w)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if raw, err := json.Marshal(totals); err == nil {
			if err := e.cache.Set(ctx, key, raw, e.cacheTTL).Err(); err != nil {
				e.logger.Warn("summary cache write failed", zap.Error(err))
			}
		}
	}
	return totals, nil
}

// Rollups returns aggregate rows for the window, optionally one platform.
func (e *Engine) Rollups(ctx context.Context, w dates.Window, platform models.Platform) ([]models.DailyRollup, error) {
	return e.store.QueryRollups(ctx, w, platform)
}
