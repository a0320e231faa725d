package syncer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mediapulse/adsync/internal/config"
	"github.com/mediapulse/adsync/internal/dates"
	"github.com/mediapulse/adsync/internal/models"
	"github.com/mediapulse/adsync/internal/rollup"
	"github.com/mediapulse/adsync/internal/source"
	"github.com/mediapulse/adsync/internal/storage"
	"go.uber.org/zap"
)

// fakeSource produces one deterministic row per day in the requested window.
type fakeSource struct {
	platform models.Platform
	spend    float64
	err      error
	errOn    func(w dates.Window) error
	calls    int32
}

func (f *fakeSource) Platform() models.Platform { return f.platform }

func (f *fakeSource) Fetch(ctx context.Context, w dates.Window) ([]models.InsightRow, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	if f.errOn != nil {
		if err := f.errOn(w); err != nil {
			return nil, err
		}
	}

	var rows []models.InsightRow
	for _, d := range w.Days() {
		r := models.InsightRow{
			Platform:     f.platform,
			AccountID:    "a1",
			CampaignName: "camp",
			Date:         d,
			Impressions:  100,
			Clicks:       10,
			Spend:        f.spend,
			ROAS:         2,
			FetchedAt:    time.Now(),
		}
		r.Normalize()
		rows = append(rows, r)
	}
	return rows, nil
}

func (f *fakeSource) callCount() int { return int(atomic.LoadInt32(&f.calls)) }

type testEnv struct {
	coord    *Coordinator
	insights *storage.MemoryInsightStore
	cursors  *storage.MemoryCursorStore
	rollups  *storage.MemoryRollupStore
}

func newTestEnv(sources ...source.Source) *testEnv {
	insights := storage.NewMemoryInsightStore()
	cursors := storage.NewMemoryCursorStore()
	rollupStore := storage.NewMemoryRollupStore(insights)
	engine := rollup.NewEngine(rollupStore, nil, time.Minute, 30, time.UTC, zap.NewNop(), nil)

	cfg := config.SyncConfig{
		Timezone:          "UTC",
		TodayInterval:     time.Hour,
		FinalizeInterval:  time.Hour,
		RollupWindowDays:  30,
		BackfillChunkDays: 30,
	}

	coord := New(sources, insights, cursors, engine, cfg, time.UTC, zap.NewNop(), Options{})
	return &testEnv{coord: coord, insights: insights, cursors: cursors, rollups: rollupStore}
}

// failingInsightStore rejects every write.
type failingInsightStore struct {
	*storage.MemoryInsightStore
}

func (s *failingInsightStore) UpsertBatch(ctx context.Context, rows []models.InsightRow) (int, error) {
	return 0, errors.New("connection refused")
}

func (s *failingInsightStore) InsertBatch(ctx context.Context, rows []models.InsightRow) (int, error) {
	return 0, errors.New("connection refused")
}

func TestSyncTodayWritesRowsAndAdvancesCursors(t *testing.T) {
	ctx := context.Background()
	fb := &fakeSource{platform: models.PlatformFacebook, spend: 10}
	yt := &fakeSource{platform: models.PlatformYouTube, spend: 20}
	env := newTestEnv(fb, yt)

	res := env.coord.SyncToday(ctx)
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res.Platforms)
	}
	if res.RollupErr != nil {
		t.Fatalf("rollup refresh failed: %v", res.RollupErr)
	}

	if got := len(env.insights.All()); got != 2 {
		t.Fatalf("expected 2 rows (one per platform), got %d", got)
	}

	for _, p := range models.AllPlatforms {
		cur, err := env.cursors.Get(ctx, ScopeToday(p))
		if err != nil {
			t.Fatalf("cursor get: %v", err)
		}
		if cur == nil {
			t.Errorf("expected cursor for %s", ScopeToday(p))
		}
	}

	// rollups must hold today's sums
	today := dates.Today(time.UTC)
	rollups, err := env.rollups.QueryRollups(ctx, dates.SingleDay(today), models.PlatformFacebook)
	if err != nil {
		t.Fatalf("query rollups: %v", err)
	}
	if len(rollups) != 1 || rollups[0].Spend != 10 {
		t.Errorf("unexpected facebook rollup: %+v", rollups)
	}
}

func TestSyncTodayIsolatesPlatformFailure(t *testing.T) {
	ctx := context.Background()
	fb := &fakeSource{platform: models.PlatformFacebook, err: errors.New("token expired")}
	yt := &fakeSource{platform: models.PlatformYouTube, spend: 20}
	env := newTestEnv(fb, yt)

	res := env.coord.SyncToday(ctx)
	if res.OK() {
		t.Fatal("expected partial failure")
	}

	// youtube rows landed despite the facebook failure
	all := env.insights.All()
	if len(all) != 1 || all[0].Platform != models.PlatformYouTube {
		t.Fatalf("expected only youtube rows, got %+v", all)
	}

	// the failing platform's cursor must not advance
	fbCur, _ := env.cursors.Get(ctx, ScopeToday(models.PlatformFacebook))
	if fbCur != nil {
		t.Error("expected no cursor for failed facebook sync")
	}
	ytCur, _ := env.cursors.Get(ctx, ScopeToday(models.PlatformYouTube))
	if ytCur == nil {
		t.Error("expected cursor for successful youtube sync")
	}
}

func TestSyncTodayUpsertsIntradayCorrections(t *testing.T) {
	ctx := context.Background()
	fb := &fakeSource{platform: models.PlatformFacebook, spend: 10}
	env := newTestEnv(fb)

	if res := env.coord.SyncToday(ctx); !res.OK() {
		t.Fatalf("first sync failed: %+v", res.Platforms)
	}

	// numbers moved upstream; a later run must overwrite, not duplicate
	fb.spend = 35
	if res := env.coord.SyncToday(ctx); !res.OK() {
		t.Fatalf("second sync failed: %+v", res.Platforms)
	}

	all := env.insights.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 row after re-sync, got %d", len(all))
	}
	if all[0].Spend != 35 {
		t.Errorf("expected updated spend 35, got %v", all[0].Spend)
	}
}

func TestFinalizeYesterdayRunsOncePerDay(t *testing.T) {
	ctx := context.Background()
	fb := &fakeSource{platform: models.PlatformFacebook, spend: 10}
	env := newTestEnv(fb)

	first := env.coord.FinalizeYesterday(ctx)
	if first.Skipped {
		t.Fatal("first finalize must not be skipped")
	}
	if !first.OK() {
		t.Fatalf("first finalize failed: %+v", first.Platforms)
	}

	second := env.coord.FinalizeYesterday(ctx)
	if !second.Skipped {
		t.Fatal("second finalize on the same day must be skipped")
	}
	if fb.callCount() != 1 {
		t.Errorf("expected 1 fetch, got %d", fb.callCount())
	}

	cur, err := env.cursors.Get(ctx, ScopeYesterdayFinalize)
	if err != nil || cur == nil {
		t.Fatalf("expected finalize cursor, got %v (err %v)", cur, err)
	}
}

func TestFinalizeYesterdayNeverRewritesHistory(t *testing.T) {
	ctx := context.Background()
	fb := &fakeSource{platform: models.PlatformFacebook, spend: 99}
	env := newTestEnv(fb)

	// yesterday was already archived with different numbers
	existing := models.InsightRow{
		Platform:     models.PlatformFacebook,
		AccountID:    "a1",
		CampaignName: "camp",
		Date:         dates.Yesterday(time.UTC),
		Impressions:  100,
		Clicks:       10,
		Spend:        55,
		ROAS:         2,
	}
	existing.Normalize()
	if _, err := env.insights.InsertBatch(ctx, []models.InsightRow{existing}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res := env.coord.FinalizeYesterday(ctx)
	if !res.OK() || res.Skipped {
		t.Fatalf("unexpected result: %+v", res)
	}

	all := env.insights.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 row, got %d", len(all))
	}
	if all[0].Spend != 55 {
		t.Errorf("archived row was rewritten: spend %v", all[0].Spend)
	}
}

func TestFinalizeNotMarkedOnFailure(t *testing.T) {
	ctx := context.Background()
	fb := &fakeSource{platform: models.PlatformFacebook, err: errors.New("upstream down")}
	env := newTestEnv(fb)

	res := env.coord.FinalizeYesterday(ctx)
	if res.OK() || res.Skipped {
		t.Fatalf("expected failed run, got %+v", res)
	}

	cur, _ := env.cursors.Get(ctx, ScopeYesterdayFinalize)
	if cur != nil {
		t.Fatal("failed finalize must not advance the ledger")
	}

	// upstream recovers; the next attempt must actually run
	fb.err = nil
	retry := env.coord.FinalizeYesterday(ctx)
	if retry.Skipped {
		t.Fatal("retry after failure must not be gated")
	}
	if !retry.OK() {
		t.Fatalf("retry failed: %+v", retry.Platforms)
	}
}

func TestWriteFailureLeavesCursorBehind(t *testing.T) {
	ctx := context.Background()
	fb := &fakeSource{platform: models.PlatformFacebook, spend: 10}
	env := newTestEnv(fb)
	env.coord.insights = &failingInsightStore{MemoryInsightStore: env.insights}

	res := env.coord.SyncToday(ctx)
	if res.OK() {
		t.Fatal("expected write failure")
	}

	cur, _ := env.cursors.Get(ctx, ScopeToday(models.PlatformFacebook))
	if cur != nil {
		t.Fatal("cursor must not advance past a failed write")
	}
}

func TestConcurrentSyncTodayDoesNotCorruptRows(t *testing.T) {
	ctx := context.Background()
	fb := &fakeSource{platform: models.PlatformFacebook, spend: 10}
	env := newTestEnv(fb)

	done := make(chan Result, 2)
	go func() { done <- env.coord.SyncToday(ctx) }()
	go func() { done <- env.coord.SyncToday(ctx) }()

	for i := 0; i < 2; i++ {
		if res := <-done; !res.OK() {
			t.Fatalf("concurrent sync failed: %+v", res.Platforms)
		}
	}

	// both runs fetched the same snapshot; the row must be exactly it
	all := env.insights.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 row after concurrent syncs, got %d", len(all))
	}
	if all[0].Spend != 10 {
		t.Errorf("expected spend 10, got %v", all[0].Spend)
	}
}

func TestLastSyncSnapshotsLedger(t *testing.T) {
	ctx := context.Background()
	fb := &fakeSource{platform: models.PlatformFacebook, spend: 10}
	env := newTestEnv(fb)

	if res := env.coord.SyncToday(ctx); !res.OK() {
		t.Fatalf("sync failed: %+v", res.Platforms)
	}

	got, err := env.coord.LastSync(ctx)
	if err != nil {
		t.Fatalf("last sync: %v", err)
	}
	if _, ok := got[ScopeToday(models.PlatformFacebook)]; !ok {
		t.Errorf("expected today_facebook in snapshot, got %v", got)
	}
}
