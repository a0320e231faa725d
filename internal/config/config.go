package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the adsync application.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Auth       AuthConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Sync       SyncConfig
	Facebook   FacebookConfig
	YouTube    YouTubeConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the optional finalized-row archive.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	User     string
	Password string
}

type AuthConfig struct {
	Enabled   bool
	APIKey    string
	SkipPaths []string
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// SyncConfig holds the scheduling and windowing knobs for the sync pipeline.
type SyncConfig struct {
	// Timezone is the business timezone all day boundaries are computed in.
	Timezone string
	// TodayInterval is how often the intraday upsert sync runs.
	TodayInterval time.Duration
	// FinalizeInterval is how often the ledger-gated yesterday finalize is
	// attempted. Extra attempts within one day are no-ops.
	FinalizeInterval time.Duration
	// RollupWindowDays is the rolling window refreshed after each sync.
	RollupWindowDays int
	// BackfillChunkDays bounds one backfill fetch window.
	BackfillChunkDays int
	// BackfillChunkDelay is the pause between backfill chunks.
	BackfillChunkDelay time.Duration
	// FetchTimeout bounds a single upstream HTTP call.
	FetchTimeout time.Duration
	// FetchRetries is the max retry count for transient upstream failures.
	FetchRetries int
	// FetchBackoffBase is the base delay for exponential retry backoff.
	FetchBackoffBase time.Duration
	// SummaryCacheTTL bounds staleness of cached dashboard summaries.
	SummaryCacheTTL time.Duration
}

// Location resolves the configured business timezone.
func (s SyncConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid sync timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

type FacebookConfig struct {
	Enabled     bool
	AccessToken string
	AdAccounts  []string
	BaseURL     string
	PageLimit   int
}

type YouTubeConfig struct {
	Enabled        bool
	CustomerID     string
	DeveloperToken string
	AccessToken    string
	BaseURL        string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("ADSYNC_HTTP_ADDR", ":8080"),
			Env:             getEnv("ADSYNC_ENV", "development"),
			ShutdownTimeout: getDurationEnv("ADSYNC_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("ADSYNC_DB_HOST", "localhost"),
			Port:     getIntEnv("ADSYNC_DB_PORT", 5432),
			User:     getEnv("ADSYNC_DB_USER", "adsync"),
			Password: getEnv("ADSYNC_DB_PASSWORD", "adsync_secret"),
			DBName:   getEnv("ADSYNC_DB_NAME", "adsync"),
			SSLMode:  getEnv("ADSYNC_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("ADSYNC_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("ADSYNC_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("ADSYNC_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("ADSYNC_REDIS_PASSWORD", ""),
			DB:       getIntEnv("ADSYNC_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("ADSYNC_CLICKHOUSE_ENABLED", false),
			Addr:     getEnv("ADSYNC_CLICKHOUSE_ADDR", "localhost:9000"),
			Database: getEnv("ADSYNC_CLICKHOUSE_DB", "adsync"),
			User:     getEnv("ADSYNC_CLICKHOUSE_USER", "default"),
			Password: getEnv("ADSYNC_CLICKHOUSE_PASSWORD", ""),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("ADSYNC_AUTH_ENABLED", true),
			APIKey:    getEnv("ADSYNC_API_KEY", ""),
			SkipPaths: getSliceEnv("ADSYNC_AUTH_SKIP_PATHS", []string{"/health", "/metrics"}),
		},
		Log: LogConfig{
			Level:  getEnv("ADSYNC_LOG_LEVEL", "info"),
			Format: getEnv("ADSYNC_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("ADSYNC_METRICS_ENABLED", true),
			Path:    getEnv("ADSYNC_METRICS_PATH", "/metrics"),
		},
		Sync: SyncConfig{
			Timezone:           getEnv("ADSYNC_SYNC_TIMEZONE", "UTC"),
			TodayInterval:      getDurationEnv("ADSYNC_SYNC_TODAY_INTERVAL", 6*time.Hour),
			FinalizeInterval:   getDurationEnv("ADSYNC_SYNC_FINALIZE_INTERVAL", time.Hour),
			RollupWindowDays:   getIntEnv("ADSYNC_ROLLUP_WINDOW_DAYS", 30),
			BackfillChunkDays:  getIntEnv("ADSYNC_BACKFILL_CHUNK_DAYS", 30),
			BackfillChunkDelay: getDurationEnv("ADSYNC_BACKFILL_CHUNK_DELAY", 500*time.Millisecond),
			FetchTimeout:       getDurationEnv("ADSYNC_FETCH_TIMEOUT", 60*time.Second),
			FetchRetries:       getIntEnv("ADSYNC_FETCH_RETRIES", 5),
			FetchBackoffBase:   getDurationEnv("ADSYNC_FETCH_BACKOFF_BASE", time.Second),
			SummaryCacheTTL:    getDurationEnv("ADSYNC_SUMMARY_CACHE_TTL", time.Minute),
		},
		Facebook: FacebookConfig{
			Enabled:     getBoolEnv("ADSYNC_FACEBOOK_ENABLED", true),
			AccessToken: getEnv("ADSYNC_FB_ACCESS_TOKEN", ""),
			AdAccounts:  getSliceEnv("ADSYNC_FB_AD_ACCOUNTS", nil),
			BaseURL:     getEnv("ADSYNC_FB_API_BASE_URL", "https://graph.facebook.com/v18.0"),
			PageLimit:   getIntEnv("ADSYNC_FB_PAGE_LIMIT", 500),
		},
		YouTube: YouTubeConfig{
			Enabled:        getBoolEnv("ADSYNC_YOUTUBE_ENABLED", true),
			CustomerID:     getEnv("ADSYNC_GOOGLE_ADS_CUSTOMER_ID", ""),
			DeveloperToken: getEnv("ADSYNC_GOOGLE_ADS_DEVELOPER_TOKEN", ""),
			AccessToken:    getEnv("ADSYNC_GOOGLE_ADS_ACCESS_TOKEN", ""),
			BaseURL:        getEnv("ADSYNC_GOOGLE_ADS_BASE_URL", "https://googleads.googleapis.com/v14"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present. Missing platform
// credentials fail fast here, before any fetch is attempted.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("ADSYNC_API_KEY is required when auth is enabled")
	}
	if _, err := c.Sync.Location(); err != nil {
		return err
	}
	if c.Facebook.Enabled {
		if c.Facebook.AccessToken == "" {
			return fmt.Errorf("ADSYNC_FB_ACCESS_TOKEN is required when facebook sync is enabled")
		}
		if len(c.Facebook.AdAccounts) == 0 {
			return fmt.Errorf("ADSYNC_FB_AD_ACCOUNTS is required when facebook sync is enabled")
		}
	}
	if c.YouTube.Enabled {
		if c.YouTube.CustomerID == "" {
			return fmt.Errorf("ADSYNC_GOOGLE_ADS_CUSTOMER_ID is required when youtube sync is enabled")
		}
		if c.YouTube.DeveloperToken == "" {
			return fmt.Errorf("ADSYNC_GOOGLE_ADS_DEVELOPER_TOKEN is required when youtube sync is enabled")
		}
	}
	if !c.Facebook.Enabled && !c.YouTube.Enabled {
		return fmt.Errorf("at least one platform must be enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
