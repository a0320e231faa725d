package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mediapulse/adsync/internal/config"
	"github.com/mediapulse/adsync/internal/dates"
	"github.com/mediapulse/adsync/internal/models"
	"go.uber.org/zap"
)

// FacebookSource fetches ad-level insights from the Facebook Graph API.
type FacebookSource struct {
	c       HTTPClient
	cfg     config.FacebookConfig
	backoff Backoff
	loc     *time.Location
	logger  *zap.Logger
	now     func() time.Time
}

func NewFacebookSource(c HTTPClient, cfg config.FacebookConfig, backoff Backoff, loc *time.Location, logger *zap.Logger) *FacebookSource {
	return &FacebookSource{
		c:       c,
		cfg:     cfg,
		backoff: backoff,
		loc:     loc,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *FacebookSource) Platform() models.Platform { return models.PlatformFacebook }

type fbActionValue struct {
	ActionType string        `json:"action_type"`
	Value      float64String `json:"value"`
}

type fbInsight struct {
	CampaignID   string          `json:"campaign_id"`
	CampaignName string          `json:"campaign_name"`
	AdsetName    string          `json:"adset_name"`
	AdName       string          `json:"ad_name"`
	Impressions  int64String     `json:"impressions"`
	Clicks       int64String     `json:"clicks"`
	Spend        float64String   `json:"spend"`
	PurchaseROAS []fbActionValue `json:"purchase_roas"`
	DateStart    string          `json:"date_start"`
}

type fbPage struct {
	Data   []fbInsight `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// Fetch retrieves insights day by day so every row is attributable to one
// calendar day. Accounts are fetched independently: one bad account does not
// discard the others' rows, but a window that produced nothing and at least
// one error fails.
func (s *FacebookSource) Fetch(ctx context.Context, w dates.Window) ([]models.InsightRow, error) {
	var rows []models.InsightRow
	var firstErr error

	for _, day := range w.Days() {
		for _, account := range s.cfg.AdAccounts {
			accountRows, err := s.fetchAccountDay(ctx, account, day)
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				s.logger.Warn("facebook account fetch failed",
					zap.String("account", account),
					zap.String("date", day.Format(dates.DayFormat)),
					zap.Error(err),
				)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			rows = append(rows, accountRows...)
		}
	}

	if len(rows) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return rows, nil
}

func (s *FacebookSource) fetchAccountDay(ctx context.Context, account string, day time.Time) ([]models.InsightRow, error) {
	actID := account
	if !strings.HasPrefix(actID, "act_") {
		actID = "act_" + actID
	}

	timeRange, _ := json.Marshal(map[string]string{
		"since": day.Format(dates.DayFormat),
		"until": day.Format(dates.DayFormat),
	})

	q := url.Values{}
	q.Set("access_token", s.cfg.AccessToken)
	q.Set("fields", "campaign_id,campaign_name,adset_name,ad_name,impressions,clicks,spend,purchase_roas,date_start,date_stop")
	q.Set("time_range", string(timeRange))
	q.Set("level", "ad")
	q.Set("limit", fmt.Sprintf("%d", s.cfg.PageLimit))

	next := fmt.Sprintf("%s/%s/insights?%s", s.cfg.BaseURL, actID, q.Encode())

	var rows []models.InsightRow
	for next != "" {
		var page fbPage
		pageURL := next
		err := s.backoff.Do(ctx, func(int) error {
			page = fbPage{}
			status, err := doJSON(ctx, s.c, http.MethodGet, pageURL, nil, nil, &page)
			if err != nil {
				return &FetchError{
					Platform: models.PlatformFacebook,
					Account:  account,
					Window:   dates.SingleDay(day),
					Status:   status,
					Err:      err,
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		fetchedAt := s.now()
		for i := range page.Data {
			rows = append(rows, s.normalize(&page.Data[i], account, day, fetchedAt))
		}
		next = page.Paging.Next
	}
	return rows, nil
}

func (s *FacebookSource) normalize(in *fbInsight, account string, day time.Time, fetchedAt time.Time) models.InsightRow {
	date := day
	if in.DateStart != "" {
		if d, err := dates.ParseDay(in.DateStart, s.loc); err == nil {
			date = d
		}
	}

	r := models.InsightRow{
		Platform:     models.PlatformFacebook,
		AccountID:    account,
		CampaignID:   in.CampaignID,
		CampaignName: in.CampaignName,
		AdsetName:    in.AdsetName,
		AdName:       in.AdName,
		Date:         date,
		Impressions:  int64(in.Impressions),
		Clicks:       int64(in.Clicks),
		Spend:        float64(in.Spend),
		ROAS:         purchaseROAS(in.PurchaseROAS),
		FetchedAt:    fetchedAt,
	}
	r.Normalize()
	return r
}

// purchaseROAS picks the omni_purchase multiplier when present, otherwise
// the first reported value.
func purchaseROAS(values []fbActionValue) float64 {
	for _, v := range values {
		if v.ActionType == "omni_purchase" {
			return float64(v.Value)
		}
	}
	if len(values) > 0 {
		return float64(values[0].Value)
	}
	return 0
}
