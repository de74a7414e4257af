// Package market fetches stock quotes and daily price history from third-party
// APIs and normalizes every response into portfolio.Quote and
// portfolio.PricePoint.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"portfolio-tracker/portfolio"
)

var (
	ErrQuoteUnavailable = errors.New("quote unavailable")
	ErrAPIKeyMissing    = errors.New("api key not set")
	ErrRateLimited      = errors.New("rate limited by provider")
)

// QuoteProvider returns current quotes. GetBulkQuotes returns whatever it
// could fetch; tickers it could not price are simply missing from the
// result. It only fails when nothing could be fetched because of a transport
// problem.
type QuoteProvider interface {
	Name() string
	GetQuote(ctx context.Context, ticker string) (portfolio.Quote, error)
	GetBulkQuotes(ctx context.Context, tickers []string) ([]portfolio.Quote, error)
}

// HistoryProvider returns daily bars between from and to, oldest first. Zero
// bounds are open.
type HistoryProvider interface {
	GetHistoricalPrices(ctx context.Context, ticker string, from, to time.Time) ([]portfolio.PricePoint, error)
}

const (
	userAgent      = "portfolio-tracker/1.0"
	requestTimeout = 10 * time.Second
)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}

// getJSON performs a GET and decodes the JSON body into out.
func getJSON(ctx context.Context, cli *http.Client, source, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", source, ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s http %d", source, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", source, err)
	}
	return nil
}

// inRange reports whether d lies within [from, to]; zero bounds are open.
func inRange(d, from, to time.Time) bool {
	if !from.IsZero() && d.Before(portfolio.Day(from)) {
		return false
	}
	if !to.IsZero() && d.After(portfolio.Day(to)) {
		return false
	}
	return true
}

func uniqueTickers(tickers []string) []string {
	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = portfolio.NormalizeTicker(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
