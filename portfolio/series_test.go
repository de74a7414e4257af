package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocations(t *testing.T) {
	a := newPosition("A", []Transaction{lot(t, "1", "A", 2, 10, "2024-01-01")})
	a.MarketValue = price(25)
	b := newPosition("B", []Transaction{lot(t, "2", "B", 1, 10, "2024-01-01")})
	b.MarketValue = price(150)
	c := newPosition("C", []Transaction{lot(t, "3", "C", 1, 10, "2024-01-01")})

	out := Allocations([]Position{a, b, c}, 250)
	require.Len(t, out, 3)
	assert.Equal(t, "B", out[0].Ticker)
	assert.InDelta(t, 60, out[0].Percentage, 1e-9)
	assert.Equal(t, "A", out[1].Ticker)
	assert.InDelta(t, 50, out[1].Value, 1e-9)
	assert.InDelta(t, 20, out[1].Percentage, 1e-9)
	assert.Equal(t, 2, out[1].Shares)
	assert.Zero(t, out[2].Value)

	for _, al := range Allocations([]Position{a}, 0) {
		assert.Zero(t, al.Percentage)
	}
}

func TestValueSeries(t *testing.T) {
	p := newPosition("AAPL", []Transaction{
		lot(t, "1", "AAPL", 2, 10, "2024-01-01"),
		lot(t, "2", "AAPL", 3, 10, "2024-01-03"),
	})
	prices := map[string][]PricePoint{
		"aapl": {
			{Date: day(t, "2024-01-04"), Close: 13},
			{Date: day(t, "2024-01-01"), Close: 11},
			{Date: day(t, "2024-01-02"), Close: 12},
			{Date: day(t, "2023-12-01"), Close: 1},
		},
	}
	now := day(t, "2024-01-10")

	series := ValueSeries([]Position{p}, prices, day(t, "2024-01-01"), day(t, "2024-01-04"), now)
	require.Len(t, series, 4)

	assert.Equal(t, ValuePoint{Date: day(t, "2024-01-01"), Value: 22}, series[0])
	assert.Equal(t, ValuePoint{Date: day(t, "2024-01-02"), Value: 24}, series[1])
	assert.Equal(t, ValuePoint{Date: day(t, "2024-01-04"), Value: 65}, series[2])
	assert.Equal(t, ValuePoint{Date: now, Value: 65}, series[3], "today carries the last close")
}

func TestValueSeries_NoPrices(t *testing.T) {
	p := newPosition("AAPL", []Transaction{lot(t, "1", "AAPL", 2, 10, "2024-01-01")})
	assert.Nil(t, ValueSeries([]Position{p}, nil, day(t, "2024-01-01"), day(t, "2024-02-01"), day(t, "2024-02-01")))
}
