package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mediapulse/adsync/internal/config"
	"github.com/mediapulse/adsync/internal/database"
	"github.com/mediapulse/adsync/internal/dates"
	"github.com/mediapulse/adsync/internal/httpserver"
	"github.com/mediapulse/adsync/internal/metrics"
	"github.com/mediapulse/adsync/internal/middleware"
	"github.com/mediapulse/adsync/internal/models"
	"github.com/mediapulse/adsync/internal/scheduler"
	"github.com/mediapulse/adsync/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "adsync",
		Short: "Incremental ad performance sync and rollup service",
	}

	root.AddCommand(serveCmd())
	root.AddCommand(syncCmd())
	root.AddCommand(backfillCmd())
	root.AddCommand(migrateCmd())

	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with the in-process sync scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func syncCmd() *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(scope)
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "today", "sync scope: today, yesterday or all")
	return cmd
}

func backfillCmd() *cobra.Command {
	var (
		since     string
		until     string
		platforms []string
		chunkDays int
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Load a historical date range in insert-only chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(since, until, platforms, chunkDays)
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "start date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&until, "until", "", "end date, YYYY-MM-DD (default: yesterday)")
	cmd.Flags().StringSliceVar(&platforms, "platform", nil, "restrict to platforms (e.g. facebook,youtube)")
	cmd.Flags().IntVar(&chunkDays, "chunk-days", 0, "override chunk size in days (default: from config)")
	_ = cmd.MarkFlagRequired("since")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

// setup loads configuration and builds the logger shared by every command.
func setup() (*config.Config, *zap.Logger, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return cfg, logger, nil
}

// buildServer connects the stores and assembles the pipeline. PostgreSQL and
// Redis failures degrade to in-memory operation with a warning; ClickHouse is
// attached only when enabled and reachable.
func buildServer(cfg *config.Config, logger *zap.Logger) (*httpserver.Server, func(), error) {
	loc, err := cfg.Sync.Location()
	if err != nil {
		return nil, nil, err
	}

	var closers []func()

	db, err := database.NewPostgresDB(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Warn("PostgreSQL not available, using in-memory storage", zap.Error(err))
		db = nil
	} else {
		closers = append(closers, db.Close)
		logger.Info("connected to PostgreSQL")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = storage.Migrate(ctx, db.Pool)
		cancel()
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, fmt.Errorf("migrations failed: %w", err)
		}
	}

	rdb, err := database.NewRedisDB(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis not available, summary caching disabled", zap.Error(err))
		rdb = nil
	} else {
		closers = append(closers, func() { _ = rdb.Close() })
		logger.Info("connected to Redis")
	}

	var ch *database.ClickHouseDB
	if cfg.ClickHouse.Enabled {
		ch, err = database.NewClickHouseDB(cfg.ClickHouse.Addr, cfg.ClickHouse.Database, cfg.ClickHouse.User, cfg.ClickHouse.Password)
		if err != nil {
			logger.Warn("ClickHouse not available, archive mirroring disabled", zap.Error(err))
			ch = nil
		} else {
			closers = append(closers, func() { _ = ch.Close() })
			logger.Info("connected to ClickHouse")

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = storage.NewClickHouseArchive(ch.Conn).EnsureTable(ctx)
			cancel()
			if err != nil {
				logger.Warn("failed to ensure archive table, archive mirroring disabled", zap.Error(err))
				_ = ch.Close()
				ch = nil
			}
		}
	}

	m := metrics.NewMetrics("adsync")

	srv := httpserver.NewServer(&httpserver.Dependencies{
		DB:         db,
		Redis:      rdb,
		ClickHouse: ch,
		Config:     cfg,
		Logger:     logger,
		Metrics:    m,
		Location:   loc,
	})

	if db != nil {
		go poolStatsLoop(db, m)
	}

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return srv, cleanup, nil
}

// poolStatsLoop periodically exports connection pool gauges.
func poolStatsLoop(db *database.PostgresDB, m *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		stat := db.Pool.Stat()
		m.UpdateDBStats(int(stat.IdleConns()), int(stat.AcquiredConns()), int(stat.TotalConns()))
	}
}

func runServe() error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting adsync",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
		zap.String("timezone", cfg.Sync.Timezone),
	)

	server, cleanup, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start scheduler in goroutine
	schedCtx, stopSched := context.WithCancel(context.Background())
	sched := scheduler.New(server.Coordinator(), cfg.Sync.TodayInterval, cfg.Sync.FinalizeInterval, logger)
	go func() {
		_ = sched.Run(schedCtx)
	}()

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	stopSched()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}

func runSync(scope string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	server, cleanup, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	coord := server.Coordinator()
	ctx := context.Background()

	switch scope {
	case "today":
		return printJSON(coord.SyncToday(ctx))
	case "yesterday":
		return printJSON(coord.FinalizeYesterday(ctx))
	case "all":
		first := coord.FinalizeYesterday(ctx)
		second := coord.SyncToday(ctx)
		return printJSON([]interface{}{first, second})
	default:
		return fmt.Errorf("unknown scope %q: want today, yesterday or all", scope)
	}
}

func runBackfill(since, until string, platformNames []string, chunkDays int) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if chunkDays > 0 {
		cfg.Sync.BackfillChunkDays = chunkDays
	}

	loc, err := cfg.Sync.Location()
	if err != nil {
		return err
	}

	sinceDay, err := dates.ParseDay(since, loc)
	if err != nil {
		return fmt.Errorf("invalid --since: %w", err)
	}
	untilDay := dates.Yesterday(loc)
	if until != "" {
		untilDay, err = dates.ParseDay(until, loc)
		if err != nil {
			return fmt.Errorf("invalid --until: %w", err)
		}
	}
	window, err := dates.NewWindow(sinceDay, untilDay)
	if err != nil {
		return err
	}

	var platforms []models.Platform
	for _, n := range platformNames {
		p := models.Platform(n)
		if !p.Valid() {
			return fmt.Errorf("unknown platform %q", n)
		}
		platforms = append(platforms, p)
	}

	server, cleanup, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	report := server.Coordinator().Backfill(context.Background(), window, platforms)
	if err := printJSON(report); err != nil {
		return err
	}
	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d chunks failed", len(failed), len(report.Chunks))
	}
	return nil
}

func runMigrate() error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := database.NewPostgresDB(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := storage.Migrate(ctx, db.Pool); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
