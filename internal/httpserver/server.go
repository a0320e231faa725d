package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/mediapulse/adsync/internal/config"
	"github.com/mediapulse/adsync/internal/database"
	"github.com/mediapulse/adsync/internal/dates"
	"github.com/mediapulse/adsync/internal/metrics"
	"github.com/mediapulse/adsync/internal/middleware"
	"github.com/mediapulse/adsync/internal/models"
	"github.com/mediapulse/adsync/internal/rollup"
	"github.com/mediapulse/adsync/internal/source"
	"github.com/mediapulse/adsync/internal/storage"
	"github.com/mediapulse/adsync/internal/syncer"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	DB         *database.PostgresDB
	Redis      *database.RedisDB
	ClickHouse *database.ClickHouseDB
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Location   *time.Location
}

// Server wires the sync pipeline behind the management HTTP API.
type Server struct {
	coord    *syncer.Coordinator
	rollups  *rollup.Engine
	insights storage.InsightStore
	handler  http.Handler
	logger   *zap.Logger
	config   *config.Config
	metrics  *metrics.Metrics
	loc      *time.Location
}

// NewServer constructs the full pipeline and registers all routes. When
// PostgreSQL is unavailable the server falls back to in-memory stores so the
// API stays usable in development.
func NewServer(deps *Dependencies) *Server {
	cfg := deps.Config

	// Initialize stores
	var insights storage.InsightStore
	var cursors storage.CursorStore
	var rollupStore storage.RollupStore

	if deps.DB != nil {
		insights = storage.NewPostgresInsightStore(deps.DB.Pool)
		cursors = storage.NewPostgresCursorStore(deps.DB.Pool)
		rollupStore = storage.NewPostgresRollupStore(deps.DB.Pool)
	} else {
		mem := storage.NewMemoryInsightStore()
		insights = mem
		cursors = storage.NewMemoryCursorStore()
		rollupStore = storage.NewMemoryRollupStore(mem)
	}

	// Initialize platform sources
	httpClient := source.NewHTTPClient(cfg.Sync.FetchTimeout)
	backoff := source.NewBackoff(cfg.Sync.FetchBackoffBase, cfg.Sync.FetchRetries)

	var sources []source.Source
	if cfg.Facebook.Enabled {
		sources = append(sources, source.NewFacebookSource(httpClient, cfg.Facebook, backoff, deps.Location, deps.Logger))
	}
	if cfg.YouTube.Enabled {
		sources = append(sources, source.NewYouTubeSource(httpClient, cfg.YouTube, backoff, deps.Location, deps.Logger))
	}

	// Optional analytical archive
	var archive storage.Archive
	if deps.ClickHouse != nil {
		archive = storage.NewClickHouseArchive(deps.ClickHouse.Conn)
	}

	var cache *redis.Client
	if deps.Redis != nil {
		cache = deps.Redis.Client
	}

	engine := rollup.NewEngine(
		rollupStore,
		cache,
		cfg.Sync.SummaryCacheTTL,
		cfg.Sync.RollupWindowDays,
		deps.Location,
		deps.Logger,
		deps.Metrics,
	)

	coord := syncer.New(
		sources,
		insights,
		cursors,
		engine,
		cfg.Sync,
		deps.Location,
		deps.Logger,
		syncer.Options{Archive: archive, Metrics: deps.Metrics},
	)

	s := &Server{
		coord:    coord,
		rollups:  engine,
		insights: insights,
		logger:   deps.Logger,
		config:   cfg,
		metrics:  deps.Metrics,
		loc:      deps.Location,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}

	// Sync control
	mux.HandleFunc("/api/sync", s.handleSync)
	mux.HandleFunc("/api/last-sync", s.handleLastSync)

	// Dashboard reads
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.HandleFunc("/api/rows", s.handleRows)

	// Middleware chain: recovery outermost, then request logging, then auth.
	var handler http.Handler = mux
	handler = middleware.NewAuthMiddleware(cfg.Auth, deps.Logger).Handler(handler)
	handler = middleware.NewLoggingMiddleware(deps.Logger).Handler(handler)
	handler = middleware.NewRecoveryMiddleware(deps.Logger).Handler(handler)
	s.handler = handler

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Coordinator exposes the sync coordinator for the in-process scheduler.
func (s *Server) Coordinator() *syncer.Coordinator {
	return s.coord
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Sync Control ----

type syncRequest struct {
	Scope     string   `json:"scope"`
	Since     string   `json:"since"`
	Until     string   `json:"until"`
	Platforms []string `json:"platforms"`
}

// handleSync triggers a sync run. scope=today|yesterday|all runs the
// scheduled passes on demand; a since/until pair runs a historical backfill
// instead. The call blocks until the run completes and returns its report.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req syncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	q := r.URL.Query()
	if req.Scope == "" {
		req.Scope = q.Get("scope")
	}
	if req.Since == "" {
		req.Since = q.Get("since")
	}
	if req.Until == "" {
		req.Until = q.Get("until")
	}

	platforms, err := parsePlatforms(req.Platforms, q.Get("platform"))
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Historical backfill
	if req.Since != "" {
		since, err := dates.ParseDay(req.Since, s.loc)
		if err != nil {
			s.errorResponse(w, "invalid since date", http.StatusBadRequest)
			return
		}
		until := dates.Yesterday(s.loc)
		if req.Until != "" {
			until, err = dates.ParseDay(req.Until, s.loc)
			if err != nil {
				s.errorResponse(w, "invalid until date", http.StatusBadRequest)
				return
			}
		}
		window, err := dates.NewWindow(since, until)
		if err != nil {
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		report := s.coord.Backfill(r.Context(), window, platforms)
		if len(report.Failed()) > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusMultiStatus)
			_ = json.NewEncoder(w).Encode(report)
			return
		}
		s.jsonResponse(w, report)
		return
	}

	switch req.Scope {
	case "", "today":
		s.jsonResponse(w, s.coord.SyncToday(r.Context()))
	case "yesterday":
		s.jsonResponse(w, s.coord.FinalizeYesterday(r.Context()))
	case "all":
		results := []syncer.Result{
			s.coord.FinalizeYesterday(r.Context()),
			s.coord.SyncToday(r.Context()),
		}
		s.jsonResponse(w, results)
	default:
		s.errorResponse(w, "unknown scope: "+req.Scope, http.StatusBadRequest)
	}
}

func (s *Server) handleLastSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cursors, err := s.coord.LastSync(r.Context())
	if err != nil {
		s.logger.Error("failed to read sync ledger", zap.Error(err))
		s.errorResponse(w, "failed to read sync state", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, cursors)
}

// ---- Dashboard Reads ----

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	window, err := s.parseWindow(r)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	totals, err := s.rollups.Summary(r.Context(), window)
	if err != nil {
		s.logger.Error("summary query failed", zap.Error(err))
		s.errorResponse(w, "failed to compute summary", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]interface{}{
		"window":    window.String(),
		"platforms": totals,
	})
}

// handleRows serves detail rows. granularity=daily returns per-platform daily
// aggregates from the rollup table; the default returns raw insight rows with
// optional platform and campaign search filters.
func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	window, err := s.parseWindow(r)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	var platform models.Platform
	if p := q.Get("platform"); p != "" {
		platform = models.Platform(p)
		if !platform.Valid() {
			s.errorResponse(w, "unknown platform: "+p, http.StatusBadRequest)
			return
		}
	}

	if q.Get("granularity") == "daily" {
		rollups, err := s.rollups.Rollups(r.Context(), window, platform)
		if err != nil {
			s.logger.Error("rollup query failed", zap.Error(err))
			s.errorResponse(w, "failed to query rollups", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, map[string]interface{}{
			"window": window.String(),
			"rows":   rollups,
		})
		return
	}

	filter := models.RowFilter{
		Platform: platform,
		Search:   q.Get("search"),
	}
	page := models.Page{
		Limit:  parseIntParam(q.Get("limit"), 0),
		Offset: parseIntParam(q.Get("offset"), 0),
	}

	rows, total, err := s.insights.QueryRows(r.Context(), window, filter, page)
	if err != nil {
		s.logger.Error("row query failed", zap.Error(err))
		s.errorResponse(w, "failed to query rows", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]interface{}{
		"window": window.String(),
		"total":  total,
		"rows":   rows,
	})
}

// ---- Helper Methods ----

// parseWindow reads since/until query params, defaulting to the rolling
// dashboard window ending today.
func (s *Server) parseWindow(r *http.Request) (dates.Window, error) {
	q := r.URL.Query()
	until := dates.Today(s.loc)
	since := until.AddDate(0, 0, -s.config.Sync.RollupWindowDays)

	var err error
	if v := q.Get("since"); v != "" {
		since, err = dates.ParseDay(v, s.loc)
		if err != nil {
			return dates.Window{}, err
		}
	}
	if v := q.Get("until"); v != "" {
		until, err = dates.ParseDay(v, s.loc)
		if err != nil {
			return dates.Window{}, err
		}
	}
	return dates.NewWindow(since, until)
}

func parsePlatforms(body []string, query string) ([]models.Platform, error) {
	names := body
	if len(names) == 0 && query != "" {
		names = []string{query}
	}
	out := make([]models.Platform, 0, len(names))
	for _, n := range names {
		p := models.Platform(n)
		if !p.Valid() {
			return nil, &badPlatformError{name: n}
		}
		out = append(out, p)
	}
	return out, nil
}

type badPlatformError struct{ name string }

func (e *badPlatformError) Error() string { return "unknown platform: " + e.name }

func parseIntParam(v string, def int) int {
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return def
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
