package session

import (
	"context"
	"time"

	"portfolio-tracker/portfolio"
)

// persistTimeout bounds one store write. Writes do not follow the session
// context, so closing a session does not abort them.
const persistTimeout = 30 * time.Second

type persistOp struct {
	name string
	run  func(ctx context.Context) error
}

// enqueue schedules a store write. Callers hold s.mu.
func (s *Session) enqueue(name string, run func(ctx context.Context) error) {
	s.queue = append(s.queue, persistOp{name: name, run: run})
	if s.draining {
		return
	}
	s.draining = true
	s.goTracked(s.drain)
}

// drain runs queued writes one at a time, also after the session is closed.
// After a failure the remaining writes still run, then the state is reloaded
// from the store unless the session is closed by then.
func (s *Session) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			if !s.stale || s.closed {
				s.stale = false
				s.draining = false
				s.mu.Unlock()
				return
			}
			s.stale = false
			s.mu.Unlock()
			s.reload()
			continue
		}
		op := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := s.persist(op); err != nil {
			s.log.Error().Err(err).Str("op", op.name).Msg("Failed to persist change")
			s.mu.Lock()
			s.stale = true
			s.mu.Unlock()
		}
	}
}

func (s *Session) persist(op persistOp) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), persistTimeout)
	defer cancel()
	return op.run(ctx)
}

// reload swaps in the persisted state, keeping market data already known for
// positions that survive. Positions left without a price are refreshed.
func (s *Session) reload() {
	next, err := s.fetchState(s.ctx)
	if err != nil {
		if s.ctx.Err() == nil {
			s.log.Error().Err(err).Msg("Failed to reload portfolio")
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.queue) > 0 {
		// Newer writes are still based on the old state.
		s.stale = true
		return
	}

	known := make(map[string]portfolio.Quote)
	var priced []string
	for _, p := range s.state.Positions {
		if p.Priced() && *p.MarketValue > 0 {
			known[p.Ticker] = quoteOf(p)
			priced = append(priced, p.Ticker)
		}
	}
	s.state = next.ApplyQuotes(known, priced)
	s.log.Info().Int("positions", len(s.state.Positions)).Msg("Portfolio reloaded")

	var unpriced []string
	for _, p := range s.state.Positions {
		if !p.Priced() {
			unpriced = append(unpriced, p.Ticker)
		}
	}
	if len(unpriced) == 0 || s.deps.Fetcher == nil {
		return
	}
	s.goTracked(func() {
		if err := s.refresh(s.ctx, unpriced); err != nil && s.ctx.Err() == nil {
			s.log.Warn().Err(err).Strs("tickers", unpriced).Msg("Quote refresh after reload failed")
		}
	})
}

func quoteOf(p portfolio.Position) portfolio.Quote {
	return portfolio.Quote{
		Ticker:        p.Ticker,
		LastPrice:     *p.MarketValue,
		Change:        p.DailyChange,
		ChangePercent: p.DailyChangePercent,
		Volume:        p.Volume,
		High:          p.High,
		Low:           p.Low,
		Open:          p.Open,
		LastUpdate:    p.LastUpdate,
	}
}
