package portfolio

import (
	"math"
	"time"
)

// RealizedFilter narrows a realized-gains summary. Zero values match all.
type RealizedFilter struct {
	Ticker string
	From   time.Time
	To     time.Time
}

func (f RealizedFilter) match(s Sale) bool {
	if f.Ticker != "" && NormalizeTicker(s.Ticker) != NormalizeTicker(f.Ticker) {
		return false
	}
	if !f.From.IsZero() && s.SaleDate.Before(Day(f.From)) {
		return false
	}
	if !f.To.IsZero() && s.SaleDate.After(Day(f.To)) {
		return false
	}
	return true
}

// RealizedSummary totals the gains locked in by completed sales.
type RealizedSummary struct {
	Sales          []Sale  `json:"sales"`
	TotalProceeds  float64 `json:"total_proceeds"`
	TotalCostBasis float64 `json:"total_cost_basis"`
	NetGainLoss    float64 `json:"net_gain_loss"`
	TotalGains     float64 `json:"total_gains"`
	TotalLosses    float64 `json:"total_losses"`
	Winners        int     `json:"winners"`
	Losers         int     `json:"losers"`
	GainRate       float64 `json:"gain_rate"`
	BestTrade      float64 `json:"best_trade"`
	WorstTrade     float64 `json:"worst_trade"`
	Count          int     `json:"count"`
}

// SummarizeRealized aggregates the sales matching f, newest first.
func SummarizeRealized(sales []Sale, f RealizedFilter) RealizedSummary {
	var sum RealizedSummary
	for _, s := range sales {
		if !f.match(s) {
			continue
		}
		sum.Sales = append(sum.Sales, s)
		sum.TotalProceeds += s.Proceeds
		sum.TotalCostBasis += s.CostBasis
		sum.NetGainLoss += s.RealizedGainLoss
		switch {
		case s.RealizedGainLoss > 0:
			sum.Winners++
			sum.TotalGains += s.RealizedGainLoss
		case s.RealizedGainLoss < 0:
			sum.Losers++
			sum.TotalLosses += math.Abs(s.RealizedGainLoss)
		}
		if sum.Count == 0 || s.RealizedGainLoss > sum.BestTrade {
			sum.BestTrade = s.RealizedGainLoss
		}
		if sum.Count == 0 || s.RealizedGainLoss < sum.WorstTrade {
			sum.WorstTrade = s.RealizedGainLoss
		}
		sum.Count++
	}
	if sum.Count > 0 {
		sum.GainRate = float64(sum.Winners) / float64(sum.Count) * 100
	}
	sortSalesNewestFirst(sum.Sales)
	return sum
}
