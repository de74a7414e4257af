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

const DefaultHistoryTTL = 24 * time.Hour

func historyKey(ticker string) string {
	return fmt.Sprintf("stock:%s:history", ticker)
}

// PriceRecorder persists fetched daily bars.
type PriceRecorder interface {
	RecordPrices(ctx context.Context, ticker string, points []portfolio.PricePoint) error
}

// CachedHistory caches the full daily series of a ticker in Redis and
// filters it per request. Freshly fetched series are handed to the recorder.
type CachedHistory struct {
	next     HistoryProvider
	rdb      *redis.Client
	ttl      time.Duration
	recorder PriceRecorder
	log      zerolog.Logger
}

// NewCachedHistory wraps next. recorder may be nil.
func NewCachedHistory(next HistoryProvider, rdb *redis.Client, recorder PriceRecorder, log zerolog.Logger) *CachedHistory {
	return &CachedHistory{
		next:     next,
		rdb:      rdb,
		ttl:      DefaultHistoryTTL,
		recorder: recorder,
		log:      log.With().Str("component", "history_cache").Logger(),
	}
}

func (h *CachedHistory) GetHistoricalPrices(ctx context.Context, ticker string, from, to time.Time) ([]portfolio.PricePoint, error) {
	ticker = portfolio.NormalizeTicker(ticker)

	cached, err := h.rdb.Get(ctx, historyKey(ticker)).Result()
	switch {
	case err == nil:
		var all []portfolio.PricePoint
		if jsonErr := json.Unmarshal([]byte(cached), &all); jsonErr == nil && covers(all, from) {
			return filterRange(all, from, to), nil
		}
	case !errors.Is(err, redis.Nil):
		h.log.Warn().Err(err).Str("ticker", ticker).Msg("History cache read failed")
	}

	all, err := h.next.GetHistoricalPrices(ctx, ticker, from, time.Time{})
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	if data, err := json.Marshal(all); err == nil {
		if err := h.rdb.Set(ctx, historyKey(ticker), data, h.ttl).Err(); err != nil {
			h.log.Warn().Err(err).Str("ticker", ticker).Msg("History cache write failed")
		}
	}
	if h.recorder != nil {
		if err := h.recorder.RecordPrices(ctx, ticker, all); err != nil {
			h.log.Error().Err(err).Str("ticker", ticker).Int("points", len(all)).Msg("Failed to record prices")
		}
	}
	return filterRange(all, from, to), nil
}

// covers reports whether a cached series reaches back to from, allowing for
// weekends and market holidays.
func covers(points []portfolio.PricePoint, from time.Time) bool {
	if len(points) == 0 {
		return false
	}
	return from.IsZero() || !points[0].Date.After(portfolio.Day(from).AddDate(0, 0, 4))
}

func filterRange(points []portfolio.PricePoint, from, to time.Time) []portfolio.PricePoint {
	out := make([]portfolio.PricePoint, 0, len(points))
	for _, p := range points {
		if inRange(p.Date, from, to) {
			out = append(out, p)
		}
	}
	return out
}

// HistoryChain returns the first non-empty series from its providers.
type HistoryChain []HistoryProvider

func (c HistoryChain) GetHistoricalPrices(ctx context.Context, ticker string, from, to time.Time) ([]portfolio.PricePoint, error) {
	var lastErr error
	for _, p := range c {
		points, err := p.GetHistoricalPrices(ctx, ticker, from, to)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			continue
		}
		if len(points) > 0 {
			return points, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}
