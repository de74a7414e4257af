package portfolio

import (
	"sort"
	"time"
)

// PortfolioStats are the portfolio-level metrics. They are derived on demand
// and never stored.
type PortfolioStats struct {
	TotalValue     float64 `json:"total_value"`
	TotalInvested  float64 `json:"total_invested"`
	TotalPL        float64 `json:"total_pl"`
	DailyPL        float64 `json:"daily_pl"`
	DailyPLPercent float64 `json:"daily_pl_percent"`
	TotalReturn    float64 `json:"total_return"`
	// AnnualizedReturn is nil when there is not enough data; it must not be
	// shown as 0%.
	AnnualizedReturn *float64             `json:"annualized_return"`
	HasMarketData    bool                 `json:"has_market_data"`
	TopGainer        *PositionPerformance `json:"top_gainer"`
	TopLoser         *PositionPerformance `json:"top_loser"`
}

// PositionPerformance is the unrealized result of one priced position.
type PositionPerformance struct {
	Ticker         string  `json:"ticker"`
	Quantity       int     `json:"quantity"`
	CurrentValue   float64 `json:"current_value"`
	InvestedValue  float64 `json:"invested_value"`
	AbsoluteGain   float64 `json:"absolute_gain"`
	PercentageGain float64 `json:"percentage_gain"`
}

// ComputeStats derives the portfolio metrics from the open positions, the
// uninvested cash and the deposit history. Positions without a market value
// are left out of the market-based figures.
func ComputeStats(positions []Position, availableCash float64, deposits []CashDeposit, now time.Time) PortfolioStats {
	var investedInStocks float64
	for _, p := range positions {
		for _, tx := range p.History {
			investedInStocks += tx.Cost()
		}
	}

	stats := PortfolioStats{TotalInvested: investedInStocks + availableCash}

	var stocksValue float64
	for _, p := range positions {
		if !p.Priced() {
			continue
		}
		stats.HasMarketData = true
		stocksValue += *p.MarketValue * float64(p.Quantity)
		stats.DailyPL += p.DailyChange * float64(p.Quantity)
	}

	if !stats.HasMarketData {
		stats.TotalValue = investedInStocks + availableCash
		stats.DailyPL = 0
		return stats
	}

	if prev := stocksValue - stats.DailyPL; prev != 0 {
		stats.DailyPLPercent = stats.DailyPL / prev * 100
	}

	stats.TotalValue = stocksValue + availableCash
	stats.TotalPL = stats.TotalValue - stats.TotalInvested
	if stats.TotalInvested != 0 {
		stats.TotalReturn = stats.TotalPL / stats.TotalInvested * 100
	}

	stats.AnnualizedReturn = PortfolioXIRR(CashFlowsFor(positions, deposits), stats.TotalValue, now)
	stats.TopGainer, stats.TopLoser = TopMovers(positions)
	return stats
}

// CashFlowsFor builds the XIRR flows of a portfolio: every remaining lot is
// money put in on its purchase date, and every deposit or withdrawal moves
// money in or out on its date.
func CashFlowsFor(positions []Position, deposits []CashDeposit) []CashFlow {
	var flows []CashFlow
	for _, p := range positions {
		for _, tx := range p.History {
			flows = append(flows, CashFlow{Date: tx.PurchaseDate, Amount: -tx.Cost()})
		}
	}
	for _, d := range deposits {
		flows = append(flows, d.Flow())
	}
	return flows
}

// TopMovers picks the priced positions with the largest and smallest
// absolute gain. A lone position is reported as the gainer when it is not
// losing money and as the loser otherwise, never as both.
func TopMovers(positions []Position) (gainer, loser *PositionPerformance) {
	var perf []PositionPerformance
	for _, p := range positions {
		if !p.Priced() {
			continue
		}
		current := *p.MarketValue * float64(p.Quantity)
		invested := p.AvgPurchasePrice * float64(p.Quantity)
		pp := PositionPerformance{
			Ticker:        p.Ticker,
			Quantity:      p.Quantity,
			CurrentValue:  current,
			InvestedValue: invested,
			AbsoluteGain:  current - invested,
		}
		if invested > 0 {
			pp.PercentageGain = pp.AbsoluteGain / invested * 100
		}
		perf = append(perf, pp)
	}

	switch len(perf) {
	case 0:
		return nil, nil
	case 1:
		p := perf[0]
		if p.AbsoluteGain >= 0 {
			return &p, nil
		}
		return nil, &p
	}

	maxI, minI := 0, 0
	for i := range perf {
		if perf[i].AbsoluteGain > perf[maxI].AbsoluteGain {
			maxI = i
		}
		if perf[i].AbsoluteGain < perf[minI].AbsoluteGain {
			minI = i
		}
	}
	g, l := perf[maxI], perf[minI]
	if g.Ticker == l.Ticker {
		sort.SliceStable(perf, func(i, j int) bool {
			return perf[i].AbsoluteGain > perf[j].AbsoluteGain
		})
		g, l = perf[0], perf[len(perf)-1]
	}
	return &g, &l
}
