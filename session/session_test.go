package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-tracker/market"
	"portfolio-tracker/portfolio"
	"portfolio-tracker/scheduler"
	"portfolio-tracker/store"
)

var today = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newGuestStore(t *testing.T) *store.GuestStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return store.NewGuestStore(rdb, time.Hour)
}

type fakeFetcher struct {
	prices map[string]float64
	err    error
	calls  atomic.Int32
}

func (f *fakeFetcher) Fetch(_ context.Context, tickers []string) (map[string]portfolio.Quote, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]portfolio.Quote)
	for _, t := range tickers {
		if p, ok := f.prices[t]; ok {
			out[t] = portfolio.Quote{Ticker: t, LastPrice: p, Change: 1}
		}
	}
	return out, nil
}

type fakeQuotes struct {
	prices map[string]float64
}

func (f fakeQuotes) Name() string { return "fake" }

func (f fakeQuotes) GetQuote(_ context.Context, ticker string) (portfolio.Quote, error) {
	p, ok := f.prices[ticker]
	if !ok {
		return portfolio.Quote{}, market.ErrQuoteUnavailable
	}
	return portfolio.Quote{Ticker: ticker, LastPrice: p}, nil
}

func (f fakeQuotes) GetBulkQuotes(ctx context.Context, tickers []string) ([]portfolio.Quote, error) {
	var out []portfolio.Quote
	for _, t := range tickers {
		if q, err := f.GetQuote(ctx, t); err == nil {
			out = append(out, q)
		}
	}
	return out, nil
}

// flakyStore fails selected writes.
type flakyStore struct {
	*store.GuestStore
	failAdd  bool
	failList bool
}

func (f *flakyStore) AddTransaction(ctx context.Context, userID string, tx portfolio.Transaction) error {
	if f.failAdd {
		return fmt.Errorf("%w: connection reset", store.ErrPersistence)
	}
	return f.GuestStore.AddTransaction(ctx, userID, tx)
}

func (f *flakyStore) ListTransactions(ctx context.Context, userID string) ([]portfolio.Transaction, error) {
	if f.failList {
		return nil, fmt.Errorf("%w: connection reset", store.ErrPersistence)
	}
	return f.GuestStore.ListTransactions(ctx, userID)
}

// slowStore delays lot writes and gives up when the write context ends.
type slowStore struct {
	*store.GuestStore
	delay time.Duration
}

func (s *slowStore) AddTransaction(ctx context.Context, userID string, tx portfolio.Transaction) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.GuestStore.AddTransaction(ctx, userID, tx)
}

func testDeps(fetcher QuoteFetcher) Deps {
	var n atomic.Int32
	return Deps{
		Fetcher: fetcher,
		Log:     zerolog.Nop(),
		Now:     func() time.Time { return today },
		NewID:   func() string { return fmt.Sprintf("id-%d", n.Add(1)) },
	}
}

func TestSession_StartPricesPositionsAndSchedulesRefresh(t *testing.T) {
	gs := newGuestStore(t)
	ctx := context.Background()
	require.NoError(t, gs.AddTransaction(ctx, "u", portfolio.Transaction{ID: "a", Ticker: "AAPL", Quantity: 10, PurchasePrice: 100, PurchaseDate: date(2024, 1, 1)}))

	sched := scheduler.New(zerolog.Nop())
	deps := testDeps(&fakeFetcher{prices: map[string]float64{"AAPL": 150}})
	deps.Scheduler = sched
	s := New("u", gs, deps)

	require.NoError(t, s.Start(ctx))
	s.Wait()

	st := s.State()
	require.Len(t, st.Positions, 1)
	require.True(t, st.Positions[0].Priced())
	assert.Equal(t, 150.0, *st.Positions[0].MarketValue)
	assert.False(t, st.Positions[0].PriceLoading)
	assert.True(t, s.AutoRefreshing())
	assert.Equal(t, 1, sched.Jobs())

	stats := s.Stats()
	assert.True(t, stats.HasMarketData)
	assert.InDelta(t, 500, stats.TotalPL, 1e-9)

	s.Close()
	assert.Equal(t, 0, sched.Jobs())
	assert.Empty(t, s.State().Positions)
	_, err := s.AddPosition(ctx, LotInput{Ticker: "X", Quantity: 1, Price: 1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSession_RefreshFailureMarksPositions(t *testing.T) {
	gs := newGuestStore(t)
	ctx := context.Background()
	require.NoError(t, gs.AddTransaction(ctx, "u", portfolio.Transaction{ID: "a", Ticker: "AAPL", Quantity: 1, PurchasePrice: 100, PurchaseDate: date(2024, 1, 1)}))
	require.NoError(t, gs.AddTransaction(ctx, "u", portfolio.Transaction{ID: "b", Ticker: "MSFT", Quantity: 1, PurchasePrice: 100, PurchaseDate: date(2024, 1, 2)}))

	fetcher := &fakeFetcher{prices: map[string]float64{"AAPL": 110}}
	s := New("u", gs, testDeps(fetcher))
	require.NoError(t, s.Load(ctx))

	require.NoError(t, s.RefreshQuotes(ctx))
	st := s.State()
	assert.False(t, st.Positions[0].PriceError)
	assert.True(t, st.Positions[1].PriceError, "MSFT had no quote")

	fetcher.err = errors.New("timeout")
	err := s.RefreshQuotes(ctx)
	require.Error(t, err)
	st = s.State()
	assert.True(t, st.Positions[0].PriceError)
	assert.Equal(t, 110.0, *st.Positions[0].MarketValue, "previous price is kept")
}

func TestSession_MutationsArePersisted(t *testing.T) {
	gs := newGuestStore(t)
	ctx := context.Background()
	deps := testDeps(&fakeFetcher{})
	deps.Quotes = fakeQuotes{prices: map[string]float64{"T": 25}}
	s := New("u", gs, deps)
	require.NoError(t, s.Start(ctx))

	_, err := s.AddCashDeposit(1000, portfolio.Deposit, date(2024, 1, 1))
	require.NoError(t, err)

	tx, err := s.AddPosition(ctx, LotInput{Ticker: " t ", Quantity: 10, Price: 20, Date: date(2024, 1, 2)})
	require.NoError(t, err)
	assert.Equal(t, "T", tx.Ticker)
	assert.Equal(t, 25.0, *s.State().Positions[0].MarketValue)

	sale, err := s.Sell(portfolio.SaleRequest{Ticker: "T", Quantity: 4, Price: 30}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 80.0, sale.CostBasis)
	assert.Equal(t, date(2024, 6, 1), sale.SaleDate)
	assert.Equal(t, 920.0, s.State().AvailableCash)

	s.Wait()

	snap, err := store.Load(ctx, gs, "u")
	require.NoError(t, err)
	require.Len(t, snap.Transactions, 1)
	assert.Equal(t, 10, snap.Transactions[0].Quantity)
	require.Len(t, snap.Sales, 1)
	assert.Equal(t, 80.0, snap.Sales[0].CostBasis)
	assert.Equal(t, 920.0, snap.AvailableCash)
	assert.Len(t, snap.CashDeposits, 1)

	fresh := New("u", gs, testDeps(&fakeFetcher{}))
	require.NoError(t, fresh.Load(ctx))
	st := fresh.State()
	require.Len(t, st.Positions, 1)
	assert.Equal(t, 6, st.Positions[0].Quantity)
	assert.InDelta(t, 120, st.Positions[0].TotalCost, 1e-9)
}

func TestSession_EditAndDeleteKeepReplayConsistent(t *testing.T) {
	gs := newGuestStore(t)
	ctx := context.Background()
	require.NoError(t, gs.AddTransaction(ctx, "u", portfolio.Transaction{ID: "a", Ticker: "T", Quantity: 5, PurchasePrice: 10, PurchaseDate: date(2024, 1, 1)}))
	require.NoError(t, gs.AddTransaction(ctx, "u", portfolio.Transaction{ID: "b", Ticker: "T", Quantity: 5, PurchasePrice: 20, PurchaseDate: date(2024, 2, 1)}))
	require.NoError(t, gs.AddSale(ctx, "u", portfolio.Sale{ID: "s", Ticker: "T", Quantity: 3, SalePrice: 15, SaleDate: date(2024, 3, 1), Type: portfolio.SaleMarket}))

	s := New("u", gs, testDeps(&fakeFetcher{}))
	require.NoError(t, s.Load(ctx))
	require.Equal(t, 7, s.State().Positions[0].Quantity)

	qty := 4
	rec, err := s.EditTransaction("a", portfolio.TransactionPatch{Quantity: &qty})
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Quantity)
	require.NoError(t, s.DeleteTransaction("b"))
	assert.Equal(t, 4, s.State().Positions[0].Quantity)

	_, err = s.EditTransaction("missing", portfolio.TransactionPatch{Quantity: &qty})
	assert.ErrorIs(t, err, portfolio.ErrTransactionNotFound)

	s.Wait()

	txs, err := gs.ListTransactions(ctx, "u")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, 7, txs[0].Quantity)

	require.NoError(t, s.Load(ctx))
	assert.Equal(t, 4, s.State().Positions[0].Quantity)
}

func TestSession_EditLotDateMatchesReload(t *testing.T) {
	gs := newGuestStore(t)
	ctx := context.Background()
	require.NoError(t, gs.AddTransaction(ctx, "u", portfolio.Transaction{ID: "a", Ticker: "T", Quantity: 5, PurchasePrice: 10, PurchaseDate: date(2024, 1, 1)}))
	require.NoError(t, gs.AddTransaction(ctx, "u", portfolio.Transaction{ID: "b", Ticker: "T", Quantity: 5, PurchasePrice: 20, PurchaseDate: date(2024, 2, 1)}))
	require.NoError(t, gs.AddSale(ctx, "u", portfolio.Sale{ID: "s", Ticker: "T", Quantity: 3, SalePrice: 15, SaleDate: date(2024, 3, 1), Type: portfolio.SaleMarket}))

	s := New("u", gs, testDeps(&fakeFetcher{}))
	require.NoError(t, s.Load(ctx))

	moved := date(2024, 4, 1)
	_, err := s.EditTransaction("a", portfolio.TransactionPatch{PurchaseDate: &moved})
	require.NoError(t, err)
	inMemory := s.State().Positions[0]
	assert.Equal(t, 7, inMemory.Quantity)
	assert.InDelta(t, 90, inMemory.TotalCost, 1e-9)

	s.Wait()
	require.NoError(t, s.Load(ctx))
	reloaded := s.State().Positions[0]
	assert.Equal(t, inMemory.Quantity, reloaded.Quantity)
	assert.InDelta(t, inMemory.TotalCost, reloaded.TotalCost, 1e-9)
	assert.Equal(t, inMemory.History, reloaded.History)
}

func TestSession_CashEditsArePersisted(t *testing.T) {
	gs := newGuestStore(t)
	ctx := context.Background()
	s := New("u", gs, testDeps(&fakeFetcher{}))
	require.NoError(t, s.Load(ctx))

	require.NoError(t, s.SetAvailableCash(100))
	d, err := s.AddCashDeposit(50, portfolio.Deposit, date(2024, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, "id-1", d.ID)

	amount := 20.0
	_, err = s.EditCashDeposit(d.ID, portfolio.DepositPatch{Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, 120.0, s.State().AvailableCash)

	_, err = s.AddCashDeposit(500, portfolio.Withdrawal, date(2024, 1, 2))
	assert.ErrorIs(t, err, portfolio.ErrInvalidInput)

	require.NoError(t, s.DeleteCashDeposit(d.ID))
	assert.Equal(t, 100.0, s.State().AvailableCash)
	assert.ErrorIs(t, s.DeleteCashDeposit(d.ID), portfolio.ErrDepositNotFound)

	s.Wait()
	snap, err := store.Load(ctx, gs, "u")
	require.NoError(t, err)
	assert.Equal(t, 100.0, snap.AvailableCash)
	assert.Empty(t, snap.CashDeposits)
}

func TestSession_ReloadsAfterPersistFailure(t *testing.T) {
	gs := newGuestStore(t)
	ctx := context.Background()
	require.NoError(t, gs.AddTransaction(ctx, "u", portfolio.Transaction{ID: "a", Ticker: "AAPL", Quantity: 1, PurchasePrice: 100, PurchaseDate: date(2024, 1, 1)}))

	flaky := &flakyStore{GuestStore: gs}
	s := New("u", flaky, testDeps(&fakeFetcher{prices: map[string]float64{"AAPL": 150}}))
	require.NoError(t, s.Start(ctx))
	s.Wait()

	flaky.failAdd = true
	_, err := s.AddPosition(ctx, LotInput{Ticker: "MSFT", Quantity: 1, Price: 300, Date: date(2024, 2, 1)})
	require.NoError(t, err, "the change is applied locally first")
	assert.Len(t, s.State().Positions, 2)

	s.Wait()

	st := s.State()
	require.Len(t, st.Positions, 1)
	assert.Equal(t, "AAPL", st.Positions[0].Ticker)
	require.True(t, st.Positions[0].Priced())
	assert.Equal(t, 150.0, *st.Positions[0].MarketValue)
}

func TestSession_ReloadPricesUnpricedPositions(t *testing.T) {
	gs := newGuestStore(t)
	ctx := context.Background()
	require.NoError(t, gs.AddTransaction(ctx, "u", portfolio.Transaction{ID: "a", Ticker: "AAPL", Quantity: 1, PurchasePrice: 100, PurchaseDate: date(2024, 1, 1)}))

	flaky := &flakyStore{GuestStore: gs, failAdd: true}
	fetcher := &fakeFetcher{prices: map[string]float64{"AAPL": 150}}
	s := New("u", flaky, testDeps(fetcher))
	require.NoError(t, s.Load(ctx))
	require.False(t, s.State().Positions[0].Priced())

	_, err := s.AddPosition(ctx, LotInput{Ticker: "MSFT", Quantity: 1, Price: 300, Date: date(2024, 2, 1)})
	require.NoError(t, err)
	s.Wait()

	st := s.State()
	require.Len(t, st.Positions, 1)
	require.True(t, st.Positions[0].Priced())
	assert.Equal(t, 150.0, *st.Positions[0].MarketValue)
	assert.False(t, st.Positions[0].PriceLoading)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestSession_ClosePersistsQueuedWrites(t *testing.T) {
	gs := newGuestStore(t)
	ctx := context.Background()
	s := New("u", &slowStore{GuestStore: gs, delay: 20 * time.Millisecond}, testDeps(&fakeFetcher{}))
	require.NoError(t, s.Load(ctx))

	for i, ticker := range []string{"A", "B", "C"} {
		_, err := s.AddPosition(ctx, LotInput{Ticker: ticker, Quantity: i + 1, Price: 10, Date: date(2024, 1, 1)})
		require.NoError(t, err)
	}
	s.Close()

	txs, err := gs.ListTransactions(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, txs, 3)
	assert.Empty(t, s.State().Positions)

	_, err = s.AddPosition(ctx, LotInput{Ticker: "D", Quantity: 1, Price: 1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSession_RejectedMutationsAreNotPersisted(t *testing.T) {
	gs := newGuestStore(t)
	ctx := context.Background()
	s := New("u", gs, testDeps(&fakeFetcher{}))
	require.NoError(t, s.Load(ctx))

	_, err := s.Sell(portfolio.SaleRequest{Ticker: "NOPE", Quantity: 1, Price: 1}, time.Time{})
	assert.ErrorIs(t, err, portfolio.ErrPositionNotFound)
	_, err = s.AddPosition(ctx, LotInput{Ticker: "T", Quantity: 0, Price: 1})
	assert.ErrorIs(t, err, portfolio.ErrInvalidInput)
	assert.ErrorIs(t, s.SetAvailableCash(-1), portfolio.ErrInvalidInput)

	s.Wait()
	snap, err := store.Load(ctx, gs, "u")
	require.NoError(t, err)
	assert.Empty(t, snap.Transactions)
	assert.Empty(t, snap.Sales)
}

func TestManager(t *testing.T) {
	users := newGuestStore(t)
	guests := newGuestStore(t)
	ctx := context.Background()
	require.NoError(t, users.AddTransaction(ctx, "1", portfolio.Transaction{ID: "a", Ticker: "AAPL", Quantity: 1, PurchasePrice: 1, PurchaseDate: date(2024, 1, 1)}))

	m := NewManager(users, guests, testDeps(&fakeFetcher{}))

	s1, err := m.Get(ctx, Identity{UserID: "1"})
	require.NoError(t, err)
	again, err := m.Get(ctx, Identity{UserID: "1"})
	require.NoError(t, err)
	assert.Same(t, s1, again)
	assert.Len(t, s1.State().Positions, 1)

	g, err := m.Get(ctx, Identity{UserID: "1", Guest: true})
	require.NoError(t, err)
	assert.NotSame(t, s1, g)
	assert.Empty(t, g.State().Positions, "guests use their own store")
	assert.Equal(t, 2, m.Len())

	m.Close(Identity{UserID: "1"})
	assert.Equal(t, 1, m.Len())
	_, err = s1.AddPosition(ctx, LotInput{Ticker: "X", Quantity: 1, Price: 1})
	assert.ErrorIs(t, err, ErrClosed)

	m.CloseAll()
	assert.Equal(t, 0, m.Len())
}

func TestManager_LoadFailureIsNotCached(t *testing.T) {
	flaky := &flakyStore{GuestStore: newGuestStore(t), failList: true}
	m := NewManager(flaky, flaky, testDeps(&fakeFetcher{}))

	_, err := m.Get(context.Background(), Identity{UserID: "1"})
	assert.ErrorIs(t, err, store.ErrPersistence)
	assert.Equal(t, 0, m.Len())

	flaky.failList = false
	_, err = m.Get(context.Background(), Identity{UserID: "1"})
	require.NoError(t, err)
	m.CloseAll()
}
