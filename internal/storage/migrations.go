package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migration is one ordered, versioned schema step. Migrations run once at
// deploy time via the migrate command, never inside the sync or request path.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "001_ad_insights",
		sql: `
CREATE TABLE IF NOT EXISTS ad_insights (
	id            BIGSERIAL PRIMARY KEY,
	platform      TEXT NOT NULL,
	account_id    TEXT NOT NULL DEFAULT '',
	campaign_id   TEXT NOT NULL DEFAULT '',
	campaign_name TEXT NOT NULL,
	campaign_key  TEXT NOT NULL GENERATED ALWAYS AS (
		CASE WHEN campaign_id <> '' THEN campaign_id ELSE campaign_name END
	) STORED,
	adset_name    TEXT NOT NULL DEFAULT '',
	ad_name       TEXT NOT NULL DEFAULT '',
	date          DATE NOT NULL,
	impressions   BIGINT NOT NULL DEFAULT 0,
	clicks        BIGINT NOT NULL DEFAULT 0,
	spend         NUMERIC(14,4) NOT NULL DEFAULT 0,
	revenue       NUMERIC(14,4) NOT NULL DEFAULT 0,
	roas          NUMERIC(10,4) NOT NULL DEFAULT 0,
	cpc           NUMERIC(12,6) NOT NULL DEFAULT 0,
	ctr           NUMERIC(10,6) NOT NULL DEFAULT 0,
	fetched_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS ad_insights_identity_idx
	ON ad_insights (platform, account_id, campaign_key, adset_name, ad_name, date);

CREATE INDEX IF NOT EXISTS ad_insights_date_platform_idx
	ON ad_insights (date, platform);

CREATE INDEX IF NOT EXISTS ad_insights_campaign_name_idx
	ON ad_insights (campaign_name);
`,
	},
	{
		name: "002_sync_state",
		sql: `
CREATE TABLE IF NOT EXISTS sync_state (
	scope       TEXT PRIMARY KEY,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_events (
	id         BIGSERIAL PRIMARY KEY,
	scope      TEXT NOT NULL,
	info       JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS sync_events_scope_idx ON sync_events (scope, created_at);
`,
	},
	{
		name: "003_daily_rollup",
		sql: `
CREATE TABLE IF NOT EXISTS daily_rollup (
	platform    TEXT NOT NULL,
	date        DATE NOT NULL,
	spend       NUMERIC(16,4) NOT NULL DEFAULT 0,
	revenue     NUMERIC(16,4) NOT NULL DEFAULT 0,
	impressions BIGINT NOT NULL DEFAULT 0,
	clicks      BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (platform, date)
);
`,
	},
	{
		name: "004_mv_summary_30d",
		sql: `
CREATE MATERIALIZED VIEW IF NOT EXISTS mv_summary_30d AS
	SELECT platform, date, spend, revenue, impressions, clicks
	FROM daily_rollup
	WHERE date >= CURRENT_DATE - 30
WITH DATA;

CREATE UNIQUE INDEX IF NOT EXISTS mv_summary_30d_platform_date_idx
	ON mv_summary_30d (platform, date);
`,
	},
}

// Migrate applies pending migrations in order, recording each in
// schema_migrations. Each migration runs in its own transaction.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name        TEXT PRIMARY KEY,
			executed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var done bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, m.name,
		).Scan(&done)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.name, err)
		}
		if done {
			continue
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (name) VALUES ($1)`, m.name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("failed to record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.name, err)
		}
	}
	return nil
}
