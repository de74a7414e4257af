package market

import (
	"context"
	"sync"
	"time"

	"portfolio-tracker/portfolio"
)

// fakeProvider prices the tickers in its map and records every request.
type fakeProvider struct {
	name   string
	prices map[string]float64
	err    error

	mu    sync.Mutex
	calls [][]string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) GetQuote(ctx context.Context, ticker string) (portfolio.Quote, error) {
	qs, err := f.GetBulkQuotes(ctx, []string{ticker})
	if err != nil {
		return portfolio.Quote{}, err
	}
	if len(qs) == 0 {
		return portfolio.Quote{}, ErrQuoteUnavailable
	}
	return qs[0], nil
}

func (f *fakeProvider) GetBulkQuotes(_ context.Context, tickers []string) ([]portfolio.Quote, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), tickers...))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []portfolio.Quote
	for _, t := range tickers {
		if p, ok := f.prices[t]; ok {
			out = append(out, portfolio.Quote{Ticker: t, LastPrice: p, Source: f.name})
		}
	}
	return out, nil
}

func (f *fakeProvider) requests() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

type fakeHistory struct {
	points []portfolio.PricePoint
	calls  int
}

func (f *fakeHistory) GetHistoricalPrices(_ context.Context, _ string, from, to time.Time) ([]portfolio.PricePoint, error) {
	f.calls++
	var out []portfolio.PricePoint
	for _, p := range f.points {
		if inRange(p.Date, from, to) {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeRecorder struct {
	ticker string
	points []portfolio.PricePoint
}

func (f *fakeRecorder) RecordPrices(_ context.Context, ticker string, points []portfolio.PricePoint) error {
	f.ticker = ticker
	f.points = append(f.points, points...)
	return nil
}
