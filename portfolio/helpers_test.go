package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func lot(t *testing.T, id, ticker string, qty int, price float64, date string) Transaction {
	t.Helper()
	return Transaction{ID: id, Ticker: ticker, Quantity: qty, PurchasePrice: price, PurchaseDate: day(t, date)}
}

func price(v float64) *float64 { return &v }

// requireAggregates checks that every position's totals match its history.
func requireAggregates(t *testing.T, positions []Position) {
	t.Helper()
	for _, p := range positions {
		var qty int
		var cost float64
		for _, tx := range p.History {
			qty += tx.Quantity
			cost += tx.Cost()
		}
		require.Equal(t, qty, p.Quantity, "quantity of %s", p.Ticker)
		require.InDelta(t, cost, p.TotalCost, 1e-9, "total cost of %s", p.Ticker)
		require.Greater(t, p.Quantity, 0, "open position %s", p.Ticker)
		require.InDelta(t, cost/float64(qty), p.AvgPurchasePrice, 1e-9)
	}
}
