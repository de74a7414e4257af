package market

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"portfolio-tracker/portfolio"
)

const (
	DefaultBulkTimeout = 60 * time.Second
	DefaultBulkRetries = 2
	DefaultBulkBackoff = 5 * time.Second
)

// BulkFetcher runs a bulk quote request with a per-attempt timeout and
// retries transient failures with a fixed backoff.
type BulkFetcher struct {
	provider QuoteProvider
	timeout  time.Duration
	retries  int
	backoff  time.Duration
	log      zerolog.Logger
}

type BulkOption func(*BulkFetcher)

func WithTimeout(d time.Duration) BulkOption {
	return func(b *BulkFetcher) { b.timeout = d }
}

func WithRetries(n int, backoff time.Duration) BulkOption {
	return func(b *BulkFetcher) {
		b.retries = n
		b.backoff = backoff
	}
}

func NewBulkFetcher(provider QuoteProvider, log zerolog.Logger, opts ...BulkOption) *BulkFetcher {
	b := &BulkFetcher{
		provider: provider,
		timeout:  DefaultBulkTimeout,
		retries:  DefaultBulkRetries,
		backoff:  DefaultBulkBackoff,
		log:      log.With().Str("component", "bulk_quotes").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Fetch returns the quotes it got, keyed by ticker. Tickers missing from the
// map could not be priced. An error means every attempt failed.
func (b *BulkFetcher) Fetch(ctx context.Context, tickers []string) (map[string]portfolio.Quote, error) {
	tickers = uniqueTickers(tickers)
	if len(tickers) == 0 {
		return map[string]portfolio.Quote{}, nil
	}

	var err error
	for attempt := 0; attempt <= b.retries; attempt++ {
		if attempt > 0 {
			b.log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", b.backoff).Msg("Retrying bulk quote fetch")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.backoff):
			}
		}

		var quotes []portfolio.Quote
		quotes, err = b.attempt(ctx, tickers)
		if err == nil {
			out := make(map[string]portfolio.Quote, len(quotes))
			for _, q := range quotes {
				out[portfolio.NormalizeTicker(q.Ticker)] = q
			}
			b.log.Debug().Int("requested", len(tickers)).Int("priced", len(out)).Msg("Bulk quote fetch done")
			return out, nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			break
		}
	}
	b.log.Error().Err(err).Strs("tickers", tickers).Msg("Bulk quote fetch failed")
	return nil, err
}

func (b *BulkFetcher) attempt(ctx context.Context, tickers []string) ([]portfolio.Quote, error) {
	actx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.provider.GetBulkQuotes(actx, tickers)
}

// IsTransient reports whether err is worth retrying: timeouts, network
// failures and provider rate limits.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrRateLimited) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
