package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mediapulse/adsync/internal/dates"
	"github.com/mediapulse/adsync/internal/models"
)

// insertChunkSize bounds the number of rows per multi-row statement. All
// chunks of one batch still commit in a single transaction.
const insertChunkSize = 500

const insightColumns = `platform, account_id, campaign_id, campaign_name, adset_name, ad_name,
	date, impressions, clicks, spend, revenue, roas, cpc, ctr, fetched_at`

const insightConflictTarget = `(platform, account_id, campaign_key, adset_name, ad_name, date)`

// PostgresInsightStore implements InsightStore using PostgreSQL.
type PostgresInsightStore struct {
	pool *pgxpool.Pool
}

func NewPostgresInsightStore(pool *pgxpool.Pool) *PostgresInsightStore {
	return &PostgresInsightStore{pool: pool}
}

func (s *PostgresInsightStore) UpsertBatch(ctx context.Context, rows []models.InsightRow) (int, error) {
	return s.writeBatch(ctx, rows, `ON CONFLICT `+insightConflictTarget+` DO UPDATE SET
		impressions = EXCLUDED.impressions,
		clicks = EXCLUDED.clicks,
		spend = EXCLUDED.spend,
		revenue = EXCLUDED.revenue,
		roas = EXCLUDED.roas,
		cpc = EXCLUDED.cpc,
		ctr = EXCLUDED.ctr,
		fetched_at = EXCLUDED.fetched_at`, "upsert insights")
}

func (s *PostgresInsightStore) InsertBatch(ctx context.Context, rows []models.InsightRow) (int, error) {
	return s.writeBatch(ctx, rows, `ON CONFLICT `+insightConflictTarget+` DO NOTHING`, "insert insights")
}

func (s *PostgresInsightStore) writeBatch(ctx context.Context, rows []models.InsightRow, conflictClause, op string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, &WriteError{Op: op, Err: fmt.Errorf("begin: %w", err)}
	}
	defer tx.Rollback(ctx)

	written := 0
	for start := 0; start < len(rows); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		sql, args := buildInsightInsert(chunk, conflictClause)
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return 0, &WriteError{Op: op, Err: err}
		}
		written += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, &WriteError{Op: op, Err: fmt.Errorf("commit: %w", err)}
	}
	return written, nil
}

// buildInsightInsert renders one multi-row INSERT for a chunk of rows.
func buildInsightInsert(rows []models.InsightRow, conflictClause string) (string, []any) {
	const cols = 15

	var sb strings.Builder
	sb.WriteString("INSERT INTO ad_insights (")
	sb.WriteString(insightColumns)
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*cols)
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(")
		for j := 0; j < cols; j++ {
			if j > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, "$%d", i*cols+j+1)
		}
		sb.WriteString(")")

		args = append(args,
			string(r.Platform), r.AccountID, r.CampaignID, r.CampaignName,
			r.AdsetName, r.AdName, dates.Day(r.Date),
			r.Impressions, r.Clicks, r.Spend, r.Revenue, r.ROAS,
			r.CPC, r.CTR, r.FetchedAt,
		)
	}
	sb.WriteString("\n")
	sb.WriteString(conflictClause)

	return sb.String(), args
}

func (s *PostgresInsightStore) QueryRows(ctx context.Context, w dates.Window, f models.RowFilter, p models.Page) ([]models.InsightRow, int, error) {
	where := "date >= $1 AND date <= $2"
	args := []any{w.Since, w.Until}

	if f.Platform != "" {
		args = append(args, string(f.Platform))
		where += fmt.Sprintf(" AND platform = $%d", len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		where += fmt.Sprintf(" AND (campaign_name ILIKE $%d OR adset_name ILIKE $%d OR ad_name ILIKE $%d)", n, n, n)
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM ad_insights WHERE "+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count insight rows: %w", err)
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT platform, account_id, campaign_id, campaign_name, adset_name, ad_name,
		       date, impressions, clicks, spend, revenue, roas, cpc, ctr, fetched_at
		FROM ad_insights
		WHERE %s
		ORDER BY date DESC, platform, campaign_name
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	pgRows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query insight rows: %w", err)
	}
	defer pgRows.Close()

	var out []models.InsightRow
	for pgRows.Next() {
		var r models.InsightRow
		var platform string
		if err := pgRows.Scan(
			&platform, &r.AccountID, &r.CampaignID, &r.CampaignName, &r.AdsetName, &r.AdName,
			&r.Date, &r.Impressions, &r.Clicks, &r.Spend, &r.Revenue, &r.ROAS,
			&r.CPC, &r.CTR, &r.FetchedAt,
		); err != nil {
			return nil, 0, err
		}
		r.Platform = models.Platform(platform)
		out = append(out, r)
	}
	if err := pgRows.Err(); err != nil {
		return nil, 0, err
	}

	return out, total, nil
}
