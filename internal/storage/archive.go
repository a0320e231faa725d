package storage

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/mediapulse/adsync/internal/dates"
	"github.com/mediapulse/adsync/internal/models"
)

// ClickHouseArchive mirrors finalized insight rows into a column store for
// long-range ad-hoc analytics. The Postgres serving tables stay the source
// of truth; archive writes are append-only and duplicates are collapsed by
// the ReplacingMergeTree on merge.
type ClickHouseArchive struct {
	conn driver.Conn
}

func NewClickHouseArchive(conn driver.Conn) *ClickHouseArchive {
	return &ClickHouseArchive{conn: conn}
}

// EnsureTable creates the archive table if it does not exist.
func (a *ClickHouseArchive) EnsureTable(ctx context.Context) error {
	err := a.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ad_insights_archive (
			platform      LowCardinality(String),
			account_id    String,
			campaign_id   String,
			campaign_name String,
			adset_name    String,
			ad_name       String,
			date          Date,
			impressions   UInt64,
			clicks        UInt64,
			spend         Float64,
			revenue       Float64,
			roas          Float64,
			fetched_at    DateTime
		)
		ENGINE = ReplacingMergeTree(fetched_at)
		PARTITION BY toYYYYMM(date)
		ORDER BY (platform, date, account_id, campaign_name, adset_name, ad_name)
	`)
	if err != nil {
		return fmt.Errorf("failed to create archive table: %w", err)
	}
	return nil
}

func (a *ClickHouseArchive) InsertRows(ctx context.Context, rows []models.InsightRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO ad_insights_archive
			(platform, account_id, campaign_id, campaign_name, adset_name, ad_name,
			 date, impressions, clicks, spend, revenue, roas, fetched_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare archive batch: %w", err)
	}

	for i := range rows {
		r := &rows[i]
		if err := batch.Append(
			string(r.Platform), r.AccountID, r.CampaignID, r.CampaignName,
			r.AdsetName, r.AdName, dates.Day(r.Date),
			uint64(r.Impressions), uint64(r.Clicks),
			r.Spend, r.Revenue, r.ROAS, r.FetchedAt,
		); err != nil {
			return fmt.Errorf("failed to append archive row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send archive batch: %w", err)
	}
	return nil
}
