package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mediapulse/adsync/internal/config"
	"github.com/mediapulse/adsync/internal/dates"
	"github.com/mediapulse/adsync/internal/models"
	"go.uber.org/zap"
)

func ytTestSource(t *testing.T, baseURL string) *YouTubeSource {
	t.Helper()
	cfg := config.YouTubeConfig{
		Enabled:        true,
		CustomerID:     "111222333",
		DeveloperToken: "dev-token",
		AccessToken:    "access-token",
		BaseURL:        baseURL,
	}
	return NewYouTubeSource(
		NewHTTPClient(2*time.Second),
		cfg,
		NewBackoff(time.Millisecond, 2),
		time.UTC,
		zap.NewNop(),
	)
}

func TestYouTubeFetchParsesSearchStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/customers/111222333/googleAds:searchStream" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer access-token" {
			t.Errorf("unexpected auth header %q", got)
		}
		if got := r.Header.Get("developer-token"); got != "dev-token" {
			t.Errorf("unexpected developer token %q", got)
		}

		var body struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Query == "" {
			t.Error("expected GAQL query in request body")
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"results": [
				{"campaign":{"id":"9001","name":"Video Launch"},
				 "metrics":{"impressions":"15000","clicks":"300","costMicros":"12500000"},
				 "segments":{"date":"2026-03-01"}},
				{"campaign":{"id":"9002","name":"Broken"},
				 "metrics":{"impressions":"1","clicks":"1","costMicros":"1"},
				 "segments":{"date":"not-a-date"}}
			]}
		]`)
	}))
	defer srv.Close()

	src := ytTestSource(t, srv.URL)
	w := dates.Window{
		Since: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Until: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}

	rows, err := src.Fetch(context.Background(), w)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	// the row with an unparseable date is skipped, not fatal
	if len(rows) != 1 {
		t.Fatalf("expected 1 valid row, got %d", len(rows))
	}

	r := rows[0]
	if r.Platform != models.PlatformYouTube {
		t.Errorf("unexpected platform %s", r.Platform)
	}
	if r.CampaignID != "9001" || r.CampaignName != "Video Launch" {
		t.Errorf("unexpected campaign identity: %+v", r)
	}
	if r.Spend != 12.5 {
		t.Errorf("expected cost_micros/1e6 = 12.5, got %v", r.Spend)
	}
	if r.Impressions != 15000 || r.Clicks != 300 {
		t.Errorf("unexpected metrics: %+v", r)
	}
	if r.Revenue != 0 || r.ROAS != 0 {
		t.Errorf("video campaigns report no roas, got roas %v revenue %v", r.ROAS, r.Revenue)
	}
	if r.Date.Format(dates.DayFormat) != "2026-03-01" {
		t.Errorf("unexpected date %s", r.Date.Format(dates.DayFormat))
	}
}

func TestYouTubeFetchRetriesServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"results":[]}]`)
	}))
	defer srv.Close()

	src := ytTestSource(t, srv.URL)
	rows, err := src.Fetch(context.Background(), dates.SingleDay(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected empty result, got %d rows", len(rows))
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestNumericStringScalars(t *testing.T) {
	var v struct {
		A int64String   `json:"a"`
		B int64String   `json:"b"`
		C float64String `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":"42","b":7,"c":"1.5"}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.A != 42 || v.B != 7 || v.C != 1.5 {
		t.Errorf("unexpected values: %+v", v)
	}

	if err := json.Unmarshal([]byte(`{"a":"abc"}`), &v); err == nil {
		t.Error("expected error for non-numeric string")
	}
}
