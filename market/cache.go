package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"portfolio-tracker/portfolio"
)

const DefaultQuoteTTL = 5 * time.Minute

func quoteKey(ticker string) string {
	return fmt.Sprintf("stock:%s:quote", ticker)
}

// CachedProvider keeps quotes in Redis for ttl in front of another provider.
// Redis errors are logged and treated as cache misses.
type CachedProvider struct {
	next QuoteProvider
	rdb  *redis.Client
	ttl  time.Duration
	log  zerolog.Logger
}

func NewCachedProvider(next QuoteProvider, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	return &CachedProvider{
		next: next,
		rdb:  rdb,
		ttl:  ttl,
		log:  log.With().Str("component", "quote_cache").Logger(),
	}
}

func (c *CachedProvider) Name() string { return c.next.Name() }

func (c *CachedProvider) GetQuote(ctx context.Context, ticker string) (portfolio.Quote, error) {
	ticker = portfolio.NormalizeTicker(ticker)

	cached, err := c.rdb.Get(ctx, quoteKey(ticker)).Result()
	switch {
	case err == nil:
		var q portfolio.Quote
		if jsonErr := json.Unmarshal([]byte(cached), &q); jsonErr == nil {
			return q, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("Quote cache read failed")
	}

	q, err := c.next.GetQuote(ctx, ticker)
	if err != nil {
		return portfolio.Quote{}, err
	}
	c.store(ctx, []portfolio.Quote{q})
	return q, nil
}

func (c *CachedProvider) GetBulkQuotes(ctx context.Context, tickers []string) ([]portfolio.Quote, error) {
	tickers = uniqueTickers(tickers)
	if len(tickers) == 0 {
		return nil, nil
	}

	keys := make([]string, len(tickers))
	for i, t := range tickers {
		keys[i] = quoteKey(t)
	}

	quotes := make([]portfolio.Quote, 0, len(tickers))
	var missing []string

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warn().Err(err).Int("tickers", len(tickers)).Msg("Quote cache read failed")
		missing = tickers
	} else {
		for i, v := range vals {
			s, ok := v.(string)
			var q portfolio.Quote
			if !ok || json.Unmarshal([]byte(s), &q) != nil {
				missing = append(missing, tickers[i])
				continue
			}
			quotes = append(quotes, q)
		}
	}

	if len(missing) == 0 {
		c.log.Debug().Int("tickers", len(tickers)).Msg("All quotes served from cache")
		return quotes, nil
	}

	fetched, err := c.next.GetBulkQuotes(ctx, missing)
	if err != nil {
		if len(quotes) > 0 {
			c.log.Warn().Err(err).Strs("tickers", missing).Msg("Serving cached quotes only")
			return quotes, nil
		}
		return nil, err
	}
	c.store(ctx, fetched)
	return append(quotes, fetched...), nil
}

func (c *CachedProvider) store(ctx context.Context, quotes []portfolio.Quote) {
	if len(quotes) == 0 {
		return
	}
	pipe := c.rdb.Pipeline()
	for _, q := range quotes {
		if q.LastPrice <= 0 {
			continue
		}
		data, err := json.Marshal(q)
		if err != nil {
			continue
		}
		pipe.Set(ctx, quoteKey(portfolio.NormalizeTicker(q.Ticker)), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Int("quotes", len(quotes)).Msg("Quote cache write failed")
	}
}

// Clear drops the cached quote of ticker, or every cached quote when ticker
// is empty. It returns the number of entries removed.
func (c *CachedProvider) Clear(ctx context.Context, ticker string) (int64, error) {
	if ticker = portfolio.NormalizeTicker(ticker); ticker != "" {
		return c.rdb.Del(ctx, quoteKey(ticker)).Result()
	}

	var keys []string
	iter := c.rdb.Scan(ctx, 0, quoteKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return c.rdb.Del(ctx, keys...).Result()
}
