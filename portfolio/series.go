package portfolio

import (
	"sort"
	"time"
)

// Allocation is one position's share of the portfolio value.
type Allocation struct {
	Ticker     string  `json:"ticker"`
	Value      float64 `json:"value"`
	Percentage float64 `json:"percentage"`
	Shares     int     `json:"shares"`
	AvgPrice   float64 `json:"avg_price"`
}

// Allocations weighs every position against totalValue, largest first.
// Positions still waiting for a quote count as zero.
func Allocations(positions []Position, totalValue float64) []Allocation {
	out := make([]Allocation, 0, len(positions))
	for _, p := range positions {
		a := Allocation{Ticker: p.Ticker, Shares: p.Quantity, AvgPrice: p.AvgPurchasePrice}
		if p.Priced() {
			a.Value = *p.MarketValue * float64(p.Quantity)
		}
		if totalValue > 0 {
			a.Percentage = a.Value / totalValue * 100
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Percentage > out[j].Percentage
	})
	return out
}

// ValuePoint is the market value of the holdings on one date.
type ValuePoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// ValueSeries reconstructs the value of the current holdings over time. It
// evaluates every date found in prices within [from, to], plus now, as the
// sum over lots bought on or before that date of their quantity times the
// last close known on that date.
func ValueSeries(positions []Position, prices map[string][]PricePoint, from, to, now time.Time) []ValuePoint {
	from, to, today := Day(from), Day(to), Day(now)

	closes := make(map[string][]PricePoint, len(prices))
	seen := make(map[time.Time]bool)
	for ticker, points := range prices {
		sorted := append([]PricePoint(nil), points...)
		for i := range sorted {
			sorted[i].Date = Day(sorted[i].Date)
		}
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Date.Before(sorted[j].Date)
		})
		closes[NormalizeTicker(ticker)] = sorted
		for _, pt := range sorted {
			if !pt.Date.Before(from) && !pt.Date.After(to) {
				seen[pt.Date] = true
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	seen[today] = true

	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	series := make([]ValuePoint, 0, len(dates))
	for _, d := range dates {
		var value float64
		for _, p := range positions {
			price := lastClose(closes[p.Ticker], d)
			if price == 0 {
				continue
			}
			var qty int
			for _, tx := range p.History {
				if !tx.PurchaseDate.After(d) {
					qty += tx.Quantity
				}
			}
			value += price * float64(qty)
		}
		series = append(series, ValuePoint{Date: d, Value: value})
	}
	return series
}

// lastClose returns the close of the latest point on or before d.
func lastClose(points []PricePoint, d time.Time) float64 {
	i := sort.Search(len(points), func(i int) bool {
		return points[i].Date.After(d)
	})
	if i == 0 {
		return 0
	}
	return points[i-1].Close
}
