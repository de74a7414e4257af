package market

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"portfolio-tracker/portfolio"
)

const FinnhubBaseURL = "https://finnhub.io/api/v1"

// FinnhubProvider reads the /quote endpoint. It reports no volume.
type FinnhubProvider struct {
	apiKey  string
	baseURL string
	cli     *http.Client
	now     func() time.Time
}

func NewFinnhubProvider(apiKey, baseURL string) (*FinnhubProvider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("finnhub: %w", ErrAPIKeyMissing)
	}
	if baseURL == "" {
		baseURL = FinnhubBaseURL
	}
	return &FinnhubProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		cli:     newHTTPClient(),
		now:     time.Now,
	}, nil
}

func (p *FinnhubProvider) Name() string { return "Finnhub" }

type finnhubQuote struct {
	Current       float64 `json:"c"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

func (p *FinnhubProvider) GetQuote(ctx context.Context, ticker string) (portfolio.Quote, error) {
	ticker = portfolio.NormalizeTicker(ticker)
	if ticker == "" {
		return portfolio.Quote{}, ErrQuoteUnavailable
	}

	q := url.Values{}
	q.Set("symbol", ticker)
	q.Set("token", p.apiKey)

	var raw finnhubQuote
	if err := getJSON(ctx, p.cli, "finnhub", p.baseURL+"/quote?"+q.Encode(), &raw); err != nil {
		return portfolio.Quote{}, err
	}
	if raw.Current <= 0 {
		return portfolio.Quote{}, fmt.Errorf("%w: finnhub has no price for %s", ErrQuoteUnavailable, ticker)
	}

	var change, changePct float64
	if raw.PreviousClose != 0 {
		change = raw.Current - raw.PreviousClose
		changePct = change / raw.PreviousClose * 100
	}
	updated := p.now()
	if raw.Timestamp > 0 {
		updated = time.Unix(raw.Timestamp, 0).UTC()
	}

	return portfolio.Quote{
		Ticker:        ticker,
		LastPrice:     raw.Current,
		Change:        change,
		ChangePercent: changePct,
		High:          raw.High,
		Low:           raw.Low,
		Open:          raw.Open,
		PreviousClose: raw.PreviousClose,
		LastUpdate:    updated,
		Source:        p.Name(),
	}, nil
}

func (p *FinnhubProvider) GetBulkQuotes(ctx context.Context, tickers []string) ([]portfolio.Quote, error) {
	return fetchEach(ctx, tickers, p.GetQuote)
}
