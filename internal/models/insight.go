package models

import (
	"time"
)

// Platform identifies the ad platform a row came from.
type Platform string

const (
	PlatformFacebook Platform = "facebook"
	PlatformYouTube  Platform = "youtube"
)

// AllPlatforms lists the platforms synced by default.
var AllPlatforms = []Platform{PlatformFacebook, PlatformYouTube}

func (p Platform) String() string { return string(p) }

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformFacebook, PlatformYouTube:
		return true
	}
	return false
}

// InsightRow is one entity's (campaign/adset/ad) performance on one calendar
// day for one platform. The tuple (platform, account_id,
// campaign_id-or-campaign_name, adset_name, ad_name, date) is unique; the
// store enforces it on write.
type InsightRow struct {
	Platform     Platform  `json:"platform"`
	AccountID    string    `json:"account_id"`
	CampaignID   string    `json:"campaign_id,omitempty"`
	CampaignName string    `json:"campaign_name"`
	AdsetName    string    `json:"adset_name,omitempty"`
	AdName       string    `json:"ad_name,omitempty"`
	Date         time.Time `json:"date"`

	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Spend       float64 `json:"spend"`
	Revenue     float64 `json:"revenue"`
	ROAS        float64 `json:"roas"`
	CPC         float64 `json:"cpc"`
	CTR         float64 `json:"ctr"`

	FetchedAt time.Time `json:"fetched_at"`
}

// CampaignKey returns the campaign identity used in the uniqueness tuple:
// the platform campaign ID when reported, otherwise the campaign name.
func (r *InsightRow) CampaignKey() string {
	if r.CampaignID != "" {
		return r.CampaignID
	}
	return r.CampaignName
}

// Normalize clamps negative upstream metrics to zero and recomputes the
// derived fields. Upstream APIs occasionally report negative corrections;
// the canonical shape is non-negative.
func (r *InsightRow) Normalize() {
	if r.Impressions < 0 {
		r.Impressions = 0
	}
	if r.Clicks < 0 {
		r.Clicks = 0
	}
	if r.Spend < 0 {
		r.Spend = 0
	}
	if r.ROAS < 0 {
		r.ROAS = 0
	}
	r.CPC = SafeCPC(r.Spend, r.Clicks)
	r.CTR = SafeCTR(r.Clicks, r.Impressions)
	r.Revenue = r.Spend * r.ROAS
}

// SafeCPC returns spend per click, 0 when there are no clicks.
func SafeCPC(spend float64, clicks int64) float64 {
	if clicks <= 0 {
		return 0
	}
	return spend / float64(clicks)
}

// SafeCTR returns clicks/impressions as a percentage, 0 when there are no
// impressions. Clicks > impressions is possible upstream and passed through.
func SafeCTR(clicks, impressions int64) float64 {
	if impressions <= 0 {
		return 0
	}
	return float64(clicks) / float64(impressions) * 100
}

// DailyRollup is the per-platform per-day aggregate row. It is always
// recomputed from InsightRow sums, never incremented in place.
type DailyRollup struct {
	Platform    Platform  `json:"platform"`
	Date        time.Time `json:"date"`
	Spend       float64   `json:"spend"`
	Revenue     float64   `json:"revenue"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
}

// SyncCursor records the last successful completion of one logical sync
// scope, e.g. "yesterday_finalize" or "today_facebook".
type SyncCursor struct {
	Scope      string    `json:"scope"`
	FinishedAt time.Time `json:"finished_at"`
}

// SummaryTotals is the dashboard summary over a date range.
type SummaryTotals struct {
	Platform    Platform `json:"platform,omitempty"`
	Spend       float64  `json:"spend"`
	Revenue     float64  `json:"revenue"`
	Impressions int64    `json:"impressions"`
	Clicks      int64    `json:"clicks"`
	ROAS        float64  `json:"roas"`
}

// FinishROAS derives the summary ROAS from the summed spend and revenue.
func (s *SummaryTotals) FinishROAS() {
	if s.Spend > 0 {
		s.ROAS = s.Revenue / s.Spend
	} else {
		s.ROAS = 0
	}
}

// RowFilter narrows QueryRows reads.
type RowFilter struct {
	Platform Platform // empty means all platforms
	Search   string   // ILIKE match over campaign/adset/ad names
}

// Page is limit/offset pagination for row reads.
type Page struct {
	Limit  int
	Offset int
}
