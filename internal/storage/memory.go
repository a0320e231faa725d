package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mediapulse/adsync/internal/dates"
	"github.com/mediapulse/adsync/internal/models"
)

// In-memory stores mirror the Postgres semantics exactly. They back the
// service when PostgreSQL is unreachable and serve as the test substrate.

func identityKey(r *models.InsightRow) string {
	return strings.Join([]string{
		string(r.Platform), r.AccountID, r.CampaignKey(),
		r.AdsetName, r.AdName, dates.Day(r.Date).Format(dates.DayFormat),
	}, "|")
}

// =============================================
// Insights
// =============================================

// MemoryInsightStore provides in-memory storage for insight rows.
type MemoryInsightStore struct {
	mu   sync.RWMutex
	rows map[string]models.InsightRow
}

func NewMemoryInsightStore() *MemoryInsightStore {
	return &MemoryInsightStore{rows: make(map[string]models.InsightRow)}
}

func (s *MemoryInsightStore) UpsertBatch(ctx context.Context, rows []models.InsightRow) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range rows {
		r := rows[i]
		r.Date = dates.Day(r.Date)
		s.rows[identityKey(&r)] = r
	}
	return len(rows), nil
}

func (s *MemoryInsightStore) InsertBatch(ctx context.Context, rows []models.InsightRow) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for i := range rows {
		r := rows[i]
		r.Date = dates.Day(r.Date)
		key := identityKey(&r)
		if _, ok := s.rows[key]; ok {
			continue
		}
		s.rows[key] = r
		inserted++
	}
	return inserted, nil
}

func (s *MemoryInsightStore) QueryRows(ctx context.Context, w dates.Window, f models.RowFilter, p models.Page) ([]models.InsightRow, int, error) {
	s.mu.RLock()
	matched := make([]models.InsightRow, 0)
	for _, r := range s.rows {
		if !w.Contains(r.Date) {
			continue
		}
		if f.Platform != "" && r.Platform != f.Platform {
			continue
		}
		if f.Search != "" && !matchesSearch(&r, f.Search) {
			continue
		}
		matched = append(matched, r)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Date.Equal(matched[j].Date) {
			return matched[i].Date.After(matched[j].Date)
		}
		if matched[i].Platform != matched[j].Platform {
			return matched[i].Platform < matched[j].Platform
		}
		return matched[i].CampaignName < matched[j].CampaignName
	})

	total := len(matched)
	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func matchesSearch(r *models.InsightRow, search string) bool {
	search = strings.ToLower(search)
	return strings.Contains(strings.ToLower(r.CampaignName), search) ||
		strings.Contains(strings.ToLower(r.AdsetName), search) ||
		strings.Contains(strings.ToLower(r.AdName), search)
}

// All returns every stored row. Test helper.
func (s *MemoryInsightStore) All() []models.InsightRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.InsightRow, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	return out
}

// =============================================
// Sync cursors
// =============================================

// MemoryCursorStore provides in-memory sync ledger storage.
type MemoryCursorStore struct {
	mu      sync.RWMutex
	cursors map[string]time.Time
	events  []models.SyncCursor
	infos   []map[string]any
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]time.Time)}
}

func (s *MemoryCursorStore) Get(ctx context.Context, scope string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts, ok := s.cursors[scope]
	if !ok {
		return nil, nil
	}
	return &ts, nil
}

func (s *MemoryCursorStore) MarkDone(ctx context.Context, scope string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[scope] = ts
	return nil
}

func (s *MemoryCursorStore) Snapshot(ctx context.Context) ([]models.SyncCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SyncCursor, 0, len(s.cursors))
	for scope, ts := range s.cursors {
		out = append(out, models.SyncCursor{Scope: scope, FinishedAt: ts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out, nil
}

func (s *MemoryCursorStore) LogEvent(ctx context.Context, scope string, info map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, models.SyncCursor{Scope: scope, FinishedAt: time.Now()})
	s.infos = append(s.infos, info)
	return nil
}

// Events returns the logged event scopes. Test helper.
func (s *MemoryCursorStore) Events() []models.SyncCursor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SyncCursor, len(s.events))
	copy(out, s.events)
	return out
}

// =============================================
// Rollups
// =============================================

// MemoryRollupStore recomputes aggregates from a MemoryInsightStore.
type MemoryRollupStore struct {
	mu       sync.RWMutex
	insights *MemoryInsightStore
	rollups  map[string]models.DailyRollup
}

func NewMemoryRollupStore(insights *MemoryInsightStore) *MemoryRollupStore {
	return &MemoryRollupStore{
		insights: insights,
		rollups:  make(map[string]models.DailyRollup),
	}
}

func rollupKey(p models.Platform, d time.Time) string {
	return string(p) + "|" + dates.Day(d).Format(dates.DayFormat)
}

func (s *MemoryRollupStore) RefreshRange(ctx context.Context, w dates.Window) error {
	sums := make(map[string]models.DailyRollup)
	for _, r := range s.insights.All() {
		if !w.Contains(r.Date) {
			continue
		}
		key := rollupKey(r.Platform, r.Date)
		agg := sums[key]
		agg.Platform = r.Platform
		agg.Date = dates.Day(r.Date)
		agg.Spend += r.Spend
		agg.Revenue += r.Revenue
		agg.Impressions += r.Impressions
		agg.Clicks += r.Clicks
		sums[key] = agg
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, agg := range sums {
		s.rollups[key] = agg
	}
	return nil
}

func (s *MemoryRollupStore) Summary(ctx context.Context, w dates.Window) ([]models.SummaryTotals, error) {
	s.mu.RLock()
	byPlatform := make(map[models.Platform]*models.SummaryTotals)
	for _, r := range s.rollups {
		if !w.Contains(r.Date) {
			continue
		}
		t, ok := byPlatform[r.Platform]
		if !ok {
			t = &models.SummaryTotals{Platform: r.Platform}
			byPlatform[r.Platform] = t
		}
		t.Spend += r.Spend
		t.Revenue += r.Revenue
		t.Impressions += r.Impressions
		t.Clicks += r.Clicks
	}
	s.mu.RUnlock()

	out := make([]models.SummaryTotals, 0, len(byPlatform))
	for _, t := range byPlatform {
		t.FinishROAS()
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (s *MemoryRollupStore) QueryRollups(ctx context.Context, w dates.Window, platform models.Platform) ([]models.DailyRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.DailyRollup
	for _, r := range s.rollups {
		if !w.Contains(r.Date) {
			continue
		}
		if platform != "" && r.Platform != platform {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].Platform < out[j].Platform
	})
	return out, nil
}

func (s *MemoryRollupStore) RefreshSummaryView(ctx context.Context) error {
	// No materialized view in memory; rollups are always fresh.
	return nil
}
