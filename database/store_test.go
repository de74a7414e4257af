package database

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"portfolio-tracker/models"
	"portfolio-tracker/portfolio"
	"portfolio-tracker/store"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestStore_Transactions(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.AddTransaction(ctx, "1", portfolio.Transaction{ID: "tx-b", Ticker: "aapl", Quantity: 5, PurchasePrice: 10, PurchaseDate: date(2024, 1, 1)}))
	require.NoError(t, s.AddTransaction(ctx, "1", portfolio.Transaction{ID: "tx-a", Ticker: "AAPL", Quantity: 5, PurchasePrice: 20, PurchaseDate: date(2024, 1, 1)}))
	require.NoError(t, s.AddTransaction(ctx, "2", portfolio.Transaction{ID: "tx-c", Ticker: "MSFT", Quantity: 1, PurchasePrice: 300, PurchaseDate: date(2024, 1, 1)}))

	txs, err := s.ListTransactions(ctx, "1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "tx-b", txs[0].ID, "insertion order")
	assert.Equal(t, "AAPL", txs[0].Ticker)
	assert.Equal(t, date(2024, 1, 1), txs[0].PurchaseDate)

	qty, price := 7, 12.5
	require.NoError(t, s.UpdateTransaction(ctx, "1", "tx-a", portfolio.TransactionPatch{Quantity: &qty, PurchasePrice: &price}))
	txs, _ = s.ListTransactions(ctx, "1")
	assert.Equal(t, 7, txs[1].Quantity)
	assert.Equal(t, 12.5, txs[1].PurchasePrice)

	err = s.UpdateTransaction(ctx, "2", "tx-a", portfolio.TransactionPatch{Quantity: &qty})
	assert.ErrorIs(t, err, store.ErrNotFound, "other users' lots are invisible")

	require.NoError(t, s.DeleteTransaction(ctx, "1", "tx-b"))
	assert.ErrorIs(t, s.DeleteTransaction(ctx, "1", "tx-b"), store.ErrNotFound)
	txs, _ = s.ListTransactions(ctx, "1")
	assert.Len(t, txs, 1)
}

func TestStore_SalesAndCash(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.AddSale(ctx, "1", portfolio.Sale{ID: "s1", Ticker: "T", Quantity: 1, SalePrice: 2, SaleDate: date(2024, 2, 1), Proceeds: 2, CostBasis: 1, RealizedGainLoss: 1, Type: portfolio.SaleMarket}))
	require.NoError(t, s.AddSale(ctx, "1", portfolio.Sale{ID: "s2", Ticker: "T", Quantity: 1, SalePrice: 3, SaleDate: date(2024, 3, 1), Type: portfolio.SaleLimit}))

	sales, err := s.ListSales(ctx, "1")
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "s2", sales[0].ID)
	assert.Equal(t, portfolio.SaleLimit, sales[0].Type)
	assert.Equal(t, 1.0, sales[1].RealizedGainLoss)

	cash, err := s.GetAvailableCash(ctx, "1")
	require.NoError(t, err)
	assert.Zero(t, cash)

	require.NoError(t, s.SetAvailableCash(ctx, "1", 100))
	require.NoError(t, s.SetAvailableCash(ctx, "1", 150))
	cash, err = s.GetAvailableCash(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 150.0, cash)

	d := portfolio.CashDeposit{ID: "d1", Amount: 50, Type: portfolio.Deposit, Date: date(2024, 1, 5), Timestamp: time.Now().UTC()}
	require.NoError(t, s.AddCashDeposit(ctx, "1", d))
	d.Type = portfolio.Withdrawal
	d.Amount = 20
	require.NoError(t, s.UpdateCashDeposit(ctx, "1", d))

	deps, err := s.ListCashDeposits(ctx, "1")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, portfolio.Withdrawal, deps[0].Type)
	assert.Equal(t, 20.0, deps[0].Amount)

	d.ID = "missing"
	assert.ErrorIs(t, s.UpdateCashDeposit(ctx, "1", d), store.ErrNotFound)
	require.NoError(t, s.DeleteCashDeposit(ctx, "1", "d1"))
	assert.ErrorIs(t, s.DeleteCashDeposit(ctx, "1", "d1"), store.ErrNotFound)
}

func TestStore_LoadRebuildsState(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.AddTransaction(ctx, "u", portfolio.Transaction{ID: "a", Ticker: "T", Quantity: 5, PurchasePrice: 10, PurchaseDate: date(2024, 1, 1)}))
	require.NoError(t, s.AddTransaction(ctx, "u", portfolio.Transaction{ID: "b", Ticker: "T", Quantity: 5, PurchasePrice: 20, PurchaseDate: date(2024, 2, 1)}))
	require.NoError(t, s.AddSale(ctx, "u", portfolio.Sale{ID: "s", Ticker: "T", Quantity: 7, SalePrice: 30, SaleDate: date(2024, 3, 1), Type: portfolio.SaleMarket}))

	snap, err := store.Load(ctx, s, "u")
	require.NoError(t, err)
	st, err := portfolio.NewState(snap.Transactions, snap.Sales, snap.AvailableCash, snap.CashDeposits)
	require.NoError(t, err)
	require.Len(t, st.Positions, 1)
	assert.Equal(t, 3, st.Positions[0].Quantity)
	assert.InDelta(t, 60, st.Positions[0].TotalCost, 1e-9)
}

func TestStore_Prices(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	var points []portfolio.PricePoint
	for i := 0; i < 250; i++ {
		points = append(points, portfolio.PricePoint{Date: date(2023, 1, 1).AddDate(0, 0, i), Close: float64(i + 1)})
	}
	require.NoError(t, s.RecordPrices(ctx, "ibm", points))
	require.NoError(t, s.RecordPrices(ctx, "IBM", points[:10]), "already stored days are skipped")

	got, err := s.GetHistoricalPrices(ctx, "IBM", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 250)

	got, err = s.GetHistoricalPrices(ctx, "IBM", date(2023, 1, 2), date(2023, 1, 4))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 2.0, got[0].Close)
	assert.Equal(t, date(2023, 1, 4), got[2].Date)
}

func TestStore_Users(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	_, err := s.FindUserByEmail(ctx, "a@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)

	u, err := s.CreateUser(ctx, "a@example.com", "hash")
	require.NoError(t, err)
	assert.NotZero(t, u.ID)

	found, err := s.FindUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.Key(), found.Key())

	_, err = s.CreateUser(ctx, "a@example.com", "other")
	assert.ErrorIs(t, err, store.ErrPersistence)
}

func TestCreateInBatches(t *testing.T) {
	db := newTestDB(t)

	assert.ErrorIs(t, CreateInBatches(db, []models.StockPrice{}, 0), ErrInvalidBatchSize)
	assert.ErrorIs(t, CreateInBatches(db, models.StockPrice{}, 10), ErrInvalidData)
	assert.NoError(t, CreateInBatches(db, []models.StockPrice{}, 10))

	rows := []models.StockPrice{
		{Symbol: "A", Timestamp: date(2024, 1, 1), Price: 1},
		{Symbol: "A", Timestamp: date(2024, 1, 2), Price: 2},
		{Symbol: "B", Timestamp: date(2024, 1, 1), Price: 3},
	}
	require.NoError(t, CreateInBatches(db, rows, 2))

	var count int64
	require.NoError(t, db.Model(&models.StockPrice{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}
