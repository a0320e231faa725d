package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mediapulse/adsync/internal/models"
)

// PostgresCursorStore implements CursorStore using PostgreSQL.
type PostgresCursorStore struct {
	pool *pgxpool.Pool
}

func NewPostgresCursorStore(pool *pgxpool.Pool) *PostgresCursorStore {
	return &PostgresCursorStore{pool: pool}
}

func (s *PostgresCursorStore) Get(ctx context.Context, scope string) (*time.Time, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT finished_at FROM sync_state WHERE scope = $1`, scope,
	).Scan(&ts)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync cursor: %w", err)
	}
	return &ts, nil
}

func (s *PostgresCursorStore) MarkDone(ctx context.Context, scope string, ts time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (scope, finished_at)
		VALUES ($1, $2)
		ON CONFLICT (scope) DO UPDATE SET
			finished_at = EXCLUDED.finished_at
	`, scope, ts)
	if err != nil {
		return fmt.Errorf("failed to mark sync cursor: %w", err)
	}
	return nil
}

func (s *PostgresCursorStore) Snapshot(ctx context.Context) ([]models.SyncCursor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT scope, finished_at FROM sync_state ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync cursors: %w", err)
	}
	defer rows.Close()

	var out []models.SyncCursor
	for rows.Next() {
		var c models.SyncCursor
		if err := rows.Scan(&c.Scope, &c.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresCursorStore) LogEvent(ctx context.Context, scope string, info map[string]any) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal sync event: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sync_events (scope, info) VALUES ($1, $2::jsonb)`,
		scope, payload)
	if err != nil {
		return fmt.Errorf("failed to log sync event: %w", err)
	}
	return nil
}
