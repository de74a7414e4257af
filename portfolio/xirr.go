package portfolio

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// CashFlow is a dated amount. Negative amounts are money put into the
// portfolio, positive amounts are money taken out (or the current value).
type CashFlow struct {
	Date   time.Time `json:"date"`
	Amount float64   `json:"amount"`
}

const (
	xirrGuess         = 0.1
	xirrTolerance     = 1e-6
	xirrMaxIterations = 100
	xirrMinRate       = -0.99
	xirrMaxRate       = 10.0
	daysPerYear       = 365.25

	// MinXIRRPeriod is the shortest history an annualized return is
	// reported for.
	MinXIRRPeriod = 60 * 24 * time.Hour

	minAnnualizedPercent = -100.0
	maxAnnualizedPercent = 500.0
)

// SolveXIRR finds the annual rate that discounts flows to a net present value
// of zero, using Newton-Raphson from a 10% guess. The result is a decimal
// rate (0.15 for 15%).
func SolveXIRR(flows []CashFlow) (float64, error) {
	if len(flows) < 2 {
		return 0, fmt.Errorf("%w: need at least 2 flows, got %d", ErrInvalidCashFlows, len(flows))
	}

	sorted := append([]CashFlow(nil), flows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	var hasPositive, hasNegative bool
	for _, f := range sorted {
		if !finite(f.Amount) {
			return 0, fmt.Errorf("%w: non-finite amount on %s", ErrInvalidCashFlows, f.Date.Format(DateLayout))
		}
		if f.Amount > 0 {
			hasPositive = true
		}
		if f.Amount < 0 {
			hasNegative = true
		}
	}
	if !hasPositive || !hasNegative {
		return 0, fmt.Errorf("%w: need both a positive and a negative flow", ErrInvalidCashFlows)
	}

	base := sorted[0].Date
	years := make([]float64, len(sorted))
	for i, f := range sorted {
		years[i] = f.Date.Sub(base).Hours() / 24 / daysPerYear
	}

	npv := func(rate float64) (value, derivative float64) {
		for i, f := range sorted {
			if years[i] == 0 {
				value += f.Amount
				continue
			}
			discount := math.Pow(1+rate, years[i])
			value += f.Amount / discount
			derivative -= years[i] * f.Amount / (discount * (1 + rate))
		}
		return value, derivative
	}

	rate := xirrGuess
	for i := 0; i < xirrMaxIterations; i++ {
		value, derivative := npv(rate)
		if math.Abs(value) < xirrTolerance {
			return rate, nil
		}
		if math.Abs(derivative) < xirrTolerance {
			return 0, fmt.Errorf("%w: derivative vanished at iteration %d", ErrDidNotConverge, i+1)
		}

		next := math.Max(xirrMinRate, math.Min(xirrMaxRate, rate-value/derivative))
		if math.Abs(next-rate) < xirrTolerance {
			return next, nil
		}
		rate = next
	}

	return 0, fmt.Errorf("%w after %d iterations", ErrDidNotConverge, xirrMaxIterations)
}

// PortfolioXIRR returns the annualized return, as a percentage rounded to two
// decimals, for flows plus currentValue taken out on now. It returns nil when
// there is not enough data: no flows, a non-positive current value, less than
// MinXIRRPeriod of history, a solver failure, or a result outside
// [-100%, 500%].
func PortfolioXIRR(flows []CashFlow, currentValue float64, now time.Time) *float64 {
	if len(flows) == 0 || currentValue <= 0 || !finite(currentValue) {
		return nil
	}

	oldest := flows[0].Date
	for _, f := range flows[1:] {
		if f.Date.Before(oldest) {
			oldest = f.Date
		}
	}
	if now.Sub(oldest) < MinXIRRPeriod {
		return nil
	}

	all := make([]CashFlow, 0, len(flows)+1)
	all = append(all, flows...)
	all = append(all, CashFlow{Date: now, Amount: currentValue})

	rate, err := SolveXIRR(all)
	if err != nil {
		return nil
	}

	pct := math.Round(rate*10000) / 100
	if pct < minAnnualizedPercent || pct > maxAnnualizedPercent {
		return nil
	}
	return &pct
}
