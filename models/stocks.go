package models

import (
	"time"

	"gorm.io/gorm"

	"portfolio-tracker/portfolio"
)

// StockPrice is one daily bar; Price is the close.
type StockPrice struct {
	gorm.Model
	Symbol    string    `gorm:"uniqueIndex:idx_symbol_day;size:16;not null"`
	Timestamp time.Time `gorm:"uniqueIndex:idx_symbol_day;not null"`
	Price     float64
	Open      float64
	High      float64
	Low       float64
	Volume    int64
}

func NewStockPrice(symbol string, p portfolio.PricePoint) StockPrice {
	return StockPrice{
		Symbol:    portfolio.NormalizeTicker(symbol),
		Timestamp: portfolio.Day(p.Date),
		Price:     p.Close,
		Open:      p.Open,
		High:      p.High,
		Low:       p.Low,
		Volume:    p.Volume,
	}
}

func (s StockPrice) PricePoint() portfolio.PricePoint {
	return portfolio.PricePoint{
		Date:   portfolio.Day(s.Timestamp),
		Close:  s.Price,
		Open:   s.Open,
		High:   s.High,
		Low:    s.Low,
		Volume: s.Volume,
	}
}
