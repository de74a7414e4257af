package market

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"portfolio-tracker/portfolio"
)

// maxParallelRequests bounds the concurrent per-ticker requests of one bulk call.
const maxParallelRequests = 8

// fetchEach calls get for every ticker in parallel and collects the quotes
// that came back with a positive price. Per-ticker failures are dropped;
// the last transport error is returned only when nothing was fetched.
func fetchEach(ctx context.Context, tickers []string, get func(context.Context, string) (portfolio.Quote, error)) ([]portfolio.Quote, error) {
	tickers = uniqueTickers(tickers)

	var (
		mu      sync.Mutex
		quotes  = make([]portfolio.Quote, 0, len(tickers))
		lastErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelRequests)
	for _, t := range tickers {
		t := t
		g.Go(func() error {
			q, err := get(gctx, t)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && q.LastPrice > 0:
				quotes = append(quotes, q)
			case err != nil && !errors.Is(err, ErrQuoteUnavailable):
				lastErr = err
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(quotes) == 0 && lastErr != nil {
		return nil, lastErr
	}
	if len(quotes) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return quotes, nil
}
