package market

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"portfolio-tracker/portfolio"
)

// Chain tries its providers in order. For bulk requests every provider only
// sees the tickers the earlier ones could not price.
type Chain struct {
	providers []QuoteProvider
	log       zerolog.Logger
}

func NewChain(log zerolog.Logger, providers ...QuoteProvider) *Chain {
	return &Chain{
		providers: providers,
		log:       log.With().Str("component", "quote_chain").Logger(),
	}
}

func (c *Chain) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return strings.Join(names, " > ")
}

func (c *Chain) GetQuote(ctx context.Context, ticker string) (portfolio.Quote, error) {
	ticker = portfolio.NormalizeTicker(ticker)
	var errs []error
	for _, p := range c.providers {
		q, err := p.GetQuote(ctx, ticker)
		if err == nil && q.LastPrice > 0 {
			return q, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return portfolio.Quote{}, ctxErr
		}
		if err != nil {
			c.log.Debug().Err(err).Str("provider", p.Name()).Str("ticker", ticker).Msg("Provider failed, trying next")
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return portfolio.Quote{}, fmt.Errorf("%w: %s", ErrQuoteUnavailable, ticker)
	}
	return portfolio.Quote{}, fmt.Errorf("%w: %s: %w", ErrQuoteUnavailable, ticker, errors.Join(errs...))
}

func (c *Chain) GetBulkQuotes(ctx context.Context, tickers []string) ([]portfolio.Quote, error) {
	missing := uniqueTickers(tickers)
	var (
		quotes  []portfolio.Quote
		lastErr error
	)
	for _, p := range c.providers {
		if len(missing) == 0 {
			break
		}
		got, err := p.GetBulkQuotes(ctx, missing)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				lastErr = ctxErr
				break
			}
			c.log.Warn().Err(err).Str("provider", p.Name()).Int("tickers", len(missing)).Msg("Bulk quote fetch failed")
			lastErr = err
			continue
		}

		found := make(map[string]bool, len(got))
		for _, q := range got {
			if q.LastPrice <= 0 {
				continue
			}
			q.Ticker = portfolio.NormalizeTicker(q.Ticker)
			found[q.Ticker] = true
			quotes = append(quotes, q)
		}
		rest := missing[:0:0]
		for _, t := range missing {
			if !found[t] {
				rest = append(rest, t)
			}
		}
		missing = rest
	}

	if len(missing) > 0 {
		c.log.Debug().Strs("tickers", missing).Msg("No provider could price tickers")
	}
	if len(quotes) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return quotes, nil
}
