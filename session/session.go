// Package session keeps one user's portfolio in memory. Mutations are applied
// locally and returned right away; the matching store writes run afterwards
// in order, and a failed write makes the session reload from the store.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"portfolio-tracker/market"
	"portfolio-tracker/portfolio"
	"portfolio-tracker/scheduler"
	"portfolio-tracker/store"
)

const DefaultRefreshSchedule = "@every 30m"

var ErrClosed = errors.New("session closed")

// QuoteFetcher fetches quotes for many tickers at once. Tickers missing from
// the result could not be priced.
type QuoteFetcher interface {
	Fetch(ctx context.Context, tickers []string) (map[string]portfolio.Quote, error)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	// Quotes prices a single lot when it is added. Optional.
	Quotes  market.QuoteProvider
	Fetcher QuoteFetcher
	// Scheduler runs the periodic quote refresh. Optional.
	Scheduler *scheduler.Scheduler
	Schedule  string
	Log       zerolog.Logger
	Now       func() time.Time
	NewID     func() string
}

func (d Deps) withDefaults() Deps {
	if d.Schedule == "" {
		d.Schedule = DefaultRefreshSchedule
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return d
}

type Session struct {
	userID string
	store  store.Store
	deps   Deps
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	mu        sync.Mutex
	state     portfolio.State
	closed    bool
	queue     []persistOp
	draining  bool
	stale     bool
	refreshID scheduler.EntryID
	scheduled bool
}

func New(userID string, st store.Store, deps Deps) *Session {
	deps = deps.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		userID: userID,
		store:  st,
		deps:   deps,
		log:    deps.Log.With().Str("component", "session").Str("user_id", userID).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Session) UserID() string {
	return s.userID
}

// Load replaces the in-memory state with the persisted records. Positions
// come back without market data.
func (s *Session) Load(ctx context.Context) error {
	next, err := s.fetchState(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.state = next
	return nil
}

func (s *Session) fetchState(ctx context.Context) (portfolio.State, error) {
	snap, err := store.Load(ctx, s.store, s.userID)
	if err != nil {
		return portfolio.State{}, fmt.Errorf("load portfolio: %w", err)
	}
	st, err := portfolio.NewState(snap.Transactions, snap.Sales, snap.AvailableCash, snap.CashDeposits)
	if err != nil {
		return portfolio.State{}, fmt.Errorf("rebuild portfolio: %w", err)
	}
	return st, nil
}

// Start loads the portfolio and kicks off the first quote refresh in the
// background. Periodic refresh is scheduled once that first refresh is done.
func (s *Session) Start(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return err
	}
	s.goTracked(func() {
		if err := s.RefreshQuotes(s.ctx); err != nil && s.ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("Initial quote refresh failed")
		}
		s.scheduleRefresh()
	})
	return nil
}

func (s *Session) goTracked(fn func()) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn()
	}()
}

// Wait blocks until background persistence and refreshes have settled.
func (s *Session) Wait() {
	s.bg.Wait()
}

// Close stops the periodic refresh and cancels quote fetches. Writes already
// accepted are still persisted before Close returns; only then is the
// in-memory state dropped.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	if s.scheduled {
		s.deps.Scheduler.Remove(s.refreshID)
		s.scheduled = false
	}
	s.mu.Unlock()

	s.bg.Wait()

	s.mu.Lock()
	s.state = portfolio.State{}
	s.mu.Unlock()
	s.log.Debug().Msg("Session closed")
}

// State returns a copy of the current portfolio.
func (s *Session) State() portfolio.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Stats computes the portfolio metrics as of now.
func (s *Session) Stats() portfolio.PortfolioStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Stats(s.deps.Now())
}

// RefreshQuotes prices every open position. Positions that could not be
// priced are flagged; when the fetch fails outright all of them are.
func (s *Session) RefreshQuotes(ctx context.Context) error {
	return s.refresh(ctx, nil)
}

// refresh prices the given tickers, or every open position when only is nil.
func (s *Session) refresh(ctx context.Context, only []string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	tickers := only
	if tickers == nil {
		tickers = s.state.Tickers()
	}
	if len(tickers) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.state = s.state.MarkPricesLoading(tickers)
	s.mu.Unlock()

	quotes, err := s.deps.Fetcher.Fetch(ctx, tickers)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.state = s.state.ApplyQuotes(quotes, tickers)
	if err != nil {
		return fmt.Errorf("refresh quotes: %w", err)
	}
	if missing := len(tickers) - len(quotes); missing > 0 {
		s.log.Debug().Int("missing", missing).Int("requested", len(tickers)).Msg("Some positions could not be priced")
	}
	return nil
}

type refreshJob struct {
	s *Session
}

func (j refreshJob) Name() string {
	return "refresh_quotes:" + j.s.userID
}

func (j refreshJob) Run() error {
	return j.s.RefreshQuotes(j.s.ctx)
}

func (s *Session) scheduleRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.scheduled || s.deps.Scheduler == nil {
		return
	}
	id, err := s.deps.Scheduler.AddJob(s.deps.Schedule, refreshJob{s: s})
	if err != nil {
		s.log.Error().Err(err).Str("schedule", s.deps.Schedule).Msg("Failed to schedule quote refresh")
		return
	}
	s.refreshID = id
	s.scheduled = true
}

// AutoRefreshing reports whether the periodic refresh is registered.
func (s *Session) AutoRefreshing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}
