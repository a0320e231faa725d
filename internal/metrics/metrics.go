package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the sync pipeline.
type Metrics struct {
	// Sync metrics
	SyncRuns      *prometheus.CounterVec
	RowsFetched   *prometheus.CounterVec
	RowsWritten   *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	WriteDuration *prometheus.HistogramVec
	LastSyncTime  *prometheus.GaugeVec

	// Rollup metrics
	RollupRefreshes *prometheus.CounterVec
	RollupDuration  prometheus.Histogram

	// Backfill metrics
	BackfillChunks *prometheus.CounterVec

	// Serving metrics
	SummaryCacheHits   prometheus.Counter
	SummaryCacheMisses prometheus.Counter

	// System metrics
	DBConnections *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		SyncRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Sync invocations by scope, platform and outcome",
			},
			[]string{"scope", "platform", "status"},
		),
		RowsFetched: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_fetched_total",
				Help:      "Insight rows fetched from upstream APIs",
			},
			[]string{"platform"},
		),
		RowsWritten: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_written_total",
				Help:      "Insight rows written to the store by write mode",
			},
			[]string{"platform", "mode"},
		),
		FetchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Upstream fetch duration per platform",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"platform"},
		),
		WriteDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "write_duration_seconds",
				Help:      "Store write duration per platform",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"platform"},
		),
		LastSyncTime: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_sync_timestamp_seconds",
				Help:      "Unix time of the last successful sync per scope",
			},
			[]string{"scope"},
		),
		RollupRefreshes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollup_refreshes_total",
				Help:      "Rollup refresh runs by outcome",
			},
			[]string{"status"},
		),
		RollupDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rollup_duration_seconds",
				Help:      "Rollup refresh duration",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		BackfillChunks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backfill_chunks_total",
				Help:      "Backfill chunks processed by platform and outcome",
			},
			[]string{"platform", "status"},
		),
		SummaryCacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "summary_cache_hits_total",
				Help:      "Dashboard summary reads served from cache",
			},
		),
		SummaryCacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "summary_cache_misses_total",
				Help:      "Dashboard summary reads that hit the rollup store",
			},
		),
		DBConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"}, // idle, in_use, total
		),
	}

	return m
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSync records one platform's outcome within a sync scope.
func (m *Metrics) RecordSync(scope, platform, status string) {
	m.SyncRuns.WithLabelValues(scope, platform, status).Inc()
}

// RecordFetch records a completed upstream fetch.
func (m *Metrics) RecordFetch(platform string, rows int, d time.Duration) {
	m.RowsFetched.WithLabelValues(platform).Add(float64(rows))
	m.FetchDuration.WithLabelValues(platform).Observe(d.Seconds())
}

// RecordWrite records a completed store write.
func (m *Metrics) RecordWrite(platform, mode string, rows int, d time.Duration) {
	m.RowsWritten.WithLabelValues(platform, mode).Add(float64(rows))
	m.WriteDuration.WithLabelValues(platform).Observe(d.Seconds())
}

// MarkSynced records the completion time of a sync scope.
func (m *Metrics) MarkSynced(scope string, ts time.Time) {
	m.LastSyncTime.WithLabelValues(scope).Set(float64(ts.Unix()))
}

// RecordRollup records a rollup refresh outcome.
func (m *Metrics) RecordRollup(status string, d time.Duration) {
	m.RollupRefreshes.WithLabelValues(status).Inc()
	m.RollupDuration.Observe(d.Seconds())
}

// RecordBackfillChunk records one backfill chunk outcome.
func (m *Metrics) RecordBackfillChunk(platform, status string) {
	m.BackfillChunks.WithLabelValues(platform, status).Inc()
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}
