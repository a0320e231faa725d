package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mediapulse/adsync/internal/dates"
	"github.com/mediapulse/adsync/internal/models"
)

// PostgresRollupStore implements RollupStore using PostgreSQL.
type PostgresRollupStore struct {
	pool *pgxpool.Pool
}

func NewPostgresRollupStore(pool *pgxpool.Pool) *PostgresRollupStore {
	return &PostgresRollupStore{pool: pool}
}

// RefreshRange recomputes rollup rows for the window from ad_insights in a
// single statement. Overwrite-on-conflict, never increment: intraday rows
// change value between refreshes and incrementing would double-count.
func (s *PostgresRollupStore) RefreshRange(ctx context.Context, w dates.Window) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO daily_rollup (platform, date, spend, revenue, impressions, clicks)
		SELECT platform, date,
		       COALESCE(SUM(spend), 0),
		       COALESCE(SUM(revenue), 0),
		       COALESCE(SUM(impressions), 0),
		       COALESCE(SUM(clicks), 0)
		FROM ad_insights
		WHERE date >= $1 AND date <= $2
		GROUP BY platform, date
		ON CONFLICT (platform, date) DO UPDATE SET
			spend = EXCLUDED.spend,
			revenue = EXCLUDED.revenue,
			impressions = EXCLUDED.impressions,
			clicks = EXCLUDED.clicks
	`, w.Since, w.Until)
	if err != nil {
		return fmt.Errorf("failed to refresh rollup %s: %w", w, err)
	}
	return nil
}

func (s *PostgresRollupStore) Summary(ctx context.Context, w dates.Window) ([]models.SummaryTotals, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT platform,
		       COALESCE(SUM(spend), 0),
		       COALESCE(SUM(revenue), 0),
		       COALESCE(SUM(impressions), 0),
		       COALESCE(SUM(clicks), 0)
		FROM daily_rollup
		WHERE date >= $1 AND date <= $2
		GROUP BY platform
		ORDER BY platform
	`, w.Since, w.Until)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	defer rows.Close()

	var out []models.SummaryTotals
	for rows.Next() {
		var t models.SummaryTotals
		var platform string
		if err := rows.Scan(&platform, &t.Spend, &t.Revenue, &t.Impressions, &t.Clicks); err != nil {
			return nil, err
		}
		t.Platform = models.Platform(platform)
		t.FinishROAS()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresRollupStore) QueryRollups(ctx context.Context, w dates.Window, platform models.Platform) ([]models.DailyRollup, error) {
	query := `
		SELECT platform, date, spend, revenue, impressions, clicks
		FROM daily_rollup
		WHERE date >= $1 AND date <= $2`
	args := []any{w.Since, w.Until}
	if platform != "" {
		args = append(args, string(platform))
		query += fmt.Sprintf(" AND platform = $%d", len(args))
	}
	query += " ORDER BY date DESC, platform"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollups: %w", err)
	}
	defer rows.Close()

	var out []models.DailyRollup
	for rows.Next() {
		var r models.DailyRollup
		var platform string
		if err := rows.Scan(&platform, &r.Date, &r.Spend, &r.Revenue, &r.Impressions, &r.Clicks); err != nil {
			return nil, err
		}
		r.Platform = models.Platform(platform)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RefreshSummaryView rebuilds mv_summary_30d. A concurrent refresh needs a
// populated view with a unique index; SQLSTATE 55000 means the view cannot
// be refreshed concurrently yet, so fall back to a blocking rebuild.
func (s *PostgresRollupStore) RefreshSummaryView(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY mv_summary_30d`)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "55000" {
		if _, err := s.pool.Exec(ctx, `REFRESH MATERIALIZED VIEW mv_summary_30d`); err != nil {
			return fmt.Errorf("failed to refresh summary view: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to refresh summary view: %w", err)
}
