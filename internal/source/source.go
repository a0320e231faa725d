// Package source contains the per-platform adapters that fetch raw metrics
// from upstream ad APIs and normalize them into canonical insight rows.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/mediapulse/adsync/internal/dates"
	"github.com/mediapulse/adsync/internal/models"
)

// Source fetches normalized insight rows for an inclusive day window. The
// result covers the whole window (pagination is internal) and every row is
// attributed to exactly one calendar day. Zero rows for a day is success.
type Source interface {
	Platform() models.Platform
	Fetch(ctx context.Context, w dates.Window) ([]models.InsightRow, error)
}

// HTTPClient is the minimal client surface the adapters need.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns an upstream client with a per-call timeout.
func NewHTTPClient(timeout time.Duration) HTTPClient {
	return &http.Client{Timeout: timeout}
}

// FetchError reports an upstream fetch failure after the retry budget is
// exhausted. Status 0 means a transport-level failure.
type FetchError struct {
	Platform models.Platform
	Account  string
	Window   dates.Window
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch %s account=%s status=%d: %v",
		e.Platform, e.Window, e.Account, e.Status, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying: rate limits,
// server errors and transport failures.
func (e *FetchError) Transient() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Backoff retries transient failures with bounded exponential backoff and
// jitter. Non-transient errors abort immediately.
type Backoff struct {
	base       time.Duration
	maxRetries int
}

func NewBackoff(base time.Duration, maxRetries int) Backoff {
	if base <= 0 {
		base = time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return Backoff{base: base, maxRetries: maxRetries}
}

func (b Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	var err error
	for i := 0; i <= b.maxRetries; i++ {
		err = fn(i)
		if err == nil {
			return nil
		}
		var fe *FetchError
		if !asFetchError(err, &fe) || !fe.Transient() {
			return err
		}
		if i == b.maxRetries {
			return err
		}

		sleep := time.Duration(1<<uint(i)) * b.base
		sleep += time.Duration(rand.Int63n(int64(b.base) / 2))
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func asFetchError(err error, target **FetchError) bool {
	for err != nil {
		if fe, ok := err.(*FetchError); ok {
			*target = fe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// doJSON performs one request and decodes a JSON response. It returns the
// HTTP status for retry classification; non-2xx responses return an error
// with a truncated body excerpt.
func doJSON(ctx context.Context, c HTTPClient, method, url string, body []byte, headers map[string]string, dst any) (int, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, fmt.Errorf("non-2xx response: %s body=%s", resp.Status, excerpt)
	}
	if dst == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// Upstream APIs encode numeric metrics as JSON strings (Graph API always,
// Google Ads for int64 fields). These scalars accept both forms.

type int64String int64

func (n *int64String) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer metric %q: %w", s, err)
	}
	*n = int64String(v)
	return nil
}

type float64String float64

func (n *float64String) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid float metric %q: %w", s, err)
	}
	*n = float64String(v)
	return nil
}
