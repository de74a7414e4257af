// Package portfolio reconstructs holdings from buy and sell records and
// computes portfolio-level return metrics.
//
// Everything in this package is pure: functions take values and return new
// values, so the same inputs always produce the same positions and stats.
package portfolio

import (
	"math"
	"sort"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// Transaction is a single buy lot.
type Transaction struct {
	ID            string    `json:"id"`
	Ticker        string    `json:"ticker"`
	Quantity      int       `json:"quantity"`
	PurchasePrice float64   `json:"purchase_price"`
	PurchaseDate  time.Time `json:"purchase_date"`
}

// Cost is quantity times purchase price.
func (t Transaction) Cost() float64 {
	return float64(t.Quantity) * t.PurchasePrice
}

type SaleType string

const (
	SaleMarket SaleType = "market"
	SaleLimit  SaleType = "limit"
)

func (t SaleType) Valid() bool {
	return t == SaleMarket || t == SaleLimit
}

// Sale is a realized disposal. It never changes after it is created.
type Sale struct {
	ID               string    `json:"id"`
	Ticker           string    `json:"ticker"`
	Quantity         int       `json:"quantity"`
	SalePrice        float64   `json:"sale_price"`
	SaleDate         time.Time `json:"sale_date"`
	Proceeds         float64   `json:"proceeds"`
	CostBasis        float64   `json:"cost_basis"`
	RealizedGainLoss float64   `json:"realized_gain_loss"`
	Type             SaleType  `json:"type"`
}

type DepositType string

const (
	Deposit    DepositType = "deposit"
	Withdrawal DepositType = "withdrawal"
)

func (t DepositType) Valid() bool {
	return t == Deposit || t == Withdrawal
}

// CashDeposit records money moved into or out of the portfolio. Amount is
// always stored positive; Type carries the direction.
type CashDeposit struct {
	ID        string      `json:"id"`
	Amount    float64     `json:"amount"`
	Date      time.Time   `json:"date"`
	Type      DepositType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// CashEffect is the change this record makes to available cash.
func (d CashDeposit) CashEffect() float64 {
	if d.Type == Withdrawal {
		return -math.Abs(d.Amount)
	}
	return math.Abs(d.Amount)
}

// Flow is the XIRR cash flow for this record: money entering the portfolio
// is negative, money leaving it is positive.
func (d CashDeposit) Flow() CashFlow {
	return CashFlow{Date: d.Date, Amount: -d.CashEffect()}
}

// Quote is the canonical market quote every provider adapter normalizes into.
type Quote struct {
	Ticker        string    `json:"ticker"`
	LastPrice     float64   `json:"last_price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Open          float64   `json:"open"`
	PreviousClose float64   `json:"previous_close"`
	LastUpdate    time.Time `json:"last_update"`
	Source        string    `json:"source"`
}

// PricePoint is one daily bar of historical prices.
type PricePoint struct {
	Date   time.Time `json:"date"`
	Close  float64   `json:"close"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Volume int64     `json:"volume"`
}

// Position is the FIFO-adjusted holding in one ticker. History only holds
// the unconsumed remainder of each lot.
type Position struct {
	Ticker            string        `json:"ticker"`
	Quantity          int           `json:"quantity"`
	TotalCost         float64       `json:"total_cost"`
	AvgPurchasePrice  float64       `json:"avg_purchase_price"`
	History           []Transaction `json:"history"`
	FirstPurchaseDate time.Time     `json:"first_purchase_date"`

	// MarketValue is the last traded price per share; nil until a quote
	// has been applied.
	MarketValue        *float64  `json:"market_value"`
	DailyChange        float64   `json:"daily_change"`
	DailyChangePercent float64   `json:"daily_change_percent"`
	Volume             int64     `json:"volume"`
	High               float64   `json:"high"`
	Low                float64   `json:"low"`
	Open               float64   `json:"open"`
	LastUpdate         time.Time `json:"last_update"`
	PriceLoading       bool      `json:"price_loading"`
	PriceError         bool      `json:"price_error"`
}

// Priced reports whether a market value is known.
func (p Position) Priced() bool {
	return p.MarketValue != nil
}

func (p Position) clone() Position {
	c := p
	c.History = append([]Transaction(nil), p.History...)
	if p.MarketValue != nil {
		v := *p.MarketValue
		c.MarketValue = &v
	}
	return c
}

// recompute derives the aggregate fields from History.
func (p *Position) recompute() {
	sortLots(p.History)
	p.Quantity = 0
	p.TotalCost = 0
	for _, tx := range p.History {
		p.Quantity += tx.Quantity
		p.TotalCost += tx.Cost()
	}
	p.AvgPurchasePrice = 0
	if p.Quantity > 0 {
		p.AvgPurchasePrice = p.TotalCost / float64(p.Quantity)
	}
	p.FirstPurchaseDate = time.Time{}
	if len(p.History) > 0 {
		p.FirstPurchaseDate = p.History[0].PurchaseDate
	}
}

func (p *Position) applyQuote(q Quote) {
	price := q.LastPrice
	p.MarketValue = &price
	p.DailyChange = q.Change
	p.DailyChangePercent = q.ChangePercent
	p.Volume = q.Volume
	p.High = q.High
	p.Low = q.Low
	p.Open = q.Open
	p.LastUpdate = q.LastUpdate
	p.PriceLoading = false
	p.PriceError = false
}

// carryMarketData copies the quote fields of prev.
func (p *Position) carryMarketData(prev Position) {
	p.MarketValue = nil
	if prev.MarketValue != nil {
		v := *prev.MarketValue
		p.MarketValue = &v
	}
	p.DailyChange = prev.DailyChange
	p.DailyChangePercent = prev.DailyChangePercent
	p.Volume = prev.Volume
	p.High = prev.High
	p.Low = prev.Low
	p.Open = prev.Open
	p.LastUpdate = prev.LastUpdate
	p.PriceLoading = prev.PriceLoading
	p.PriceError = prev.PriceError
}

func newPosition(ticker string, history []Transaction) Position {
	p := Position{Ticker: ticker, History: history}
	p.recompute()
	return p
}

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses an ISO date (YYYY-MM-DD).
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// sortLots orders lots by purchase date. Lots sharing a date keep their
// insertion order.
func sortLots(lots []Transaction) {
	sort.SliceStable(lots, func(i, j int) bool {
		return lots[i].PurchaseDate.Before(lots[j].PurchaseDate)
	})
}

// sortPositions orders positions by first purchase date, then ticker.
func sortPositions(ps []Position) {
	sort.SliceStable(ps, func(i, j int) bool {
		if !ps[i].FirstPurchaseDate.Equal(ps[j].FirstPurchaseDate) {
			return ps[i].FirstPurchaseDate.Before(ps[j].FirstPurchaseDate)
		}
		return ps[i].Ticker < ps[j].Ticker
	})
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
