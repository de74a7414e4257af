package portfolio

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolveXIRR_TwoYearRoundTrip(t *testing.T) {
	rate, err := SolveXIRR([]CashFlow{
		{Date: day(t, "2023-01-01"), Amount: -10000},
		{Date: day(t, "2025-01-01"), Amount: 12500},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.1180, rate, 0.001)
}

func TestSolveXIRR_ZeroesNetPresentValue(t *testing.T) {
	flows := []CashFlow{
		{Date: day(t, "2020-01-01"), Amount: -1000},
		{Date: day(t, "2020-06-01"), Amount: -1000},
		{Date: day(t, "2021-01-01"), Amount: -1000},
		{Date: day(t, "2022-01-01"), Amount: 4300},
	}
	rate, err := SolveXIRR(flows)
	require.NoError(t, err)

	var npv float64
	for _, f := range flows {
		years := f.Date.Sub(flows[0].Date).Hours() / 24 / 365.25
		npv += f.Amount / math.Pow(1+rate, years)
	}
	assert.InDelta(t, 0, npv, 0.01)
	assert.Greater(t, rate, 0.15)
	assert.Less(t, rate, 0.25)
}

func TestSolveXIRR_IgnoresInputOrder(t *testing.T) {
	ordered := []CashFlow{
		{Date: day(t, "2022-07-01"), Amount: -10000},
		{Date: day(t, "2023-03-10"), Amount: -5000},
		{Date: day(t, "2024-12-01"), Amount: 2000},
		{Date: day(t, "2025-07-19"), Amount: 18500},
	}
	shuffled := []CashFlow{ordered[2], ordered[0], ordered[3], ordered[1]}

	a, err := SolveXIRR(ordered)
	require.NoError(t, err)
	b, err := SolveXIRR(shuffled)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSolveXIRR_InvalidCashFlows(t *testing.T) {
	tests := []struct {
		name  string
		flows []CashFlow
	}{
		{"empty", nil},
		{"single", []CashFlow{{Date: time.Now(), Amount: -1}}},
		{"only negative", []CashFlow{
			{Date: day(t, "2024-01-01"), Amount: -1},
			{Date: day(t, "2024-06-01"), Amount: -2},
		}},
		{"only positive", []CashFlow{
			{Date: day(t, "2024-01-01"), Amount: 1},
			{Date: day(t, "2024-06-01"), Amount: 2},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SolveXIRR(tt.flows)
			assert.ErrorIs(t, err, ErrInvalidCashFlows)
		})
	}
}

func TestSolveXIRR_DidNotConverge(t *testing.T) {
	// Both flows on the same date: NPV does not depend on the rate.
	_, err := SolveXIRR([]CashFlow{
		{Date: day(t, "2024-01-01"), Amount: -100},
		{Date: day(t, "2024-01-01"), Amount: 50},
	})
	assert.ErrorIs(t, err, ErrDidNotConverge)
}

func TestPortfolioXIRR(t *testing.T) {
	now := day(t, "2025-01-01")

	t.Run("percentage", func(t *testing.T) {
		got := PortfolioXIRR([]CashFlow{{Date: day(t, "2023-01-01"), Amount: -10000}}, 12500, now)
		require.NotNil(t, got)
		assert.InDelta(t, 11.80, *got, 0.1)
	})

	t.Run("short history", func(t *testing.T) {
		got := PortfolioXIRR([]CashFlow{{Date: now.AddDate(0, 0, -59), Amount: -1000}}, 1100, now)
		assert.Nil(t, got)
	})

	t.Run("no flows", func(t *testing.T) {
		assert.Nil(t, PortfolioXIRR(nil, 1000, now))
	})

	t.Run("non positive value", func(t *testing.T) {
		assert.Nil(t, PortfolioXIRR([]CashFlow{{Date: day(t, "2023-01-01"), Amount: -10}}, 0, now))
	})

	t.Run("unrealistic result", func(t *testing.T) {
		got := PortfolioXIRR([]CashFlow{{Date: now.AddDate(0, 0, -90), Amount: -100}}, 100000, now)
		assert.Nil(t, got)
	})
}
