package models

import (
	"time"

	"gorm.io/gorm"

	"portfolio-tracker/portfolio"
)

// TransactionRecord is a persisted buy lot. Rows are read back in primary key
// order, so ID doubles as the insertion sequence.
type TransactionRecord struct {
	gorm.Model
	UID           string `gorm:"uniqueIndex;size:36;not null"`
	UserID        string `gorm:"index;not null"`
	Ticker        string `gorm:"index;size:16;not null"`
	Quantity      int
	PurchasePrice float64
	PurchaseDate  time.Time
}

func (TransactionRecord) TableName() string { return "transactions" }

func NewTransactionRecord(userID string, tx portfolio.Transaction) TransactionRecord {
	return TransactionRecord{
		UID:           tx.ID,
		UserID:        userID,
		Ticker:        portfolio.NormalizeTicker(tx.Ticker),
		Quantity:      tx.Quantity,
		PurchasePrice: tx.PurchasePrice,
		PurchaseDate:  portfolio.Day(tx.PurchaseDate),
	}
}

func (r TransactionRecord) Transaction() portfolio.Transaction {
	return portfolio.Transaction{
		ID:            r.UID,
		Ticker:        r.Ticker,
		Quantity:      r.Quantity,
		PurchasePrice: r.PurchasePrice,
		PurchaseDate:  portfolio.Day(r.PurchaseDate),
	}
}

type SaleRecord struct {
	gorm.Model
	UID              string `gorm:"uniqueIndex;size:36;not null"`
	UserID           string `gorm:"index;not null"`
	Ticker           string `gorm:"index;size:16;not null"`
	Quantity         int
	SalePrice        float64
	SaleDate         time.Time
	Proceeds         float64
	CostBasis        float64
	RealizedGainLoss float64
	Type             string `gorm:"size:16;default:market"`
}

func (SaleRecord) TableName() string { return "sales" }

func NewSaleRecord(userID string, s portfolio.Sale) SaleRecord {
	return SaleRecord{
		UID:              s.ID,
		UserID:           userID,
		Ticker:           portfolio.NormalizeTicker(s.Ticker),
		Quantity:         s.Quantity,
		SalePrice:        s.SalePrice,
		SaleDate:         portfolio.Day(s.SaleDate),
		Proceeds:         s.Proceeds,
		CostBasis:        s.CostBasis,
		RealizedGainLoss: s.RealizedGainLoss,
		Type:             string(s.Type),
	}
}

func (r SaleRecord) Sale() portfolio.Sale {
	return portfolio.Sale{
		ID:               r.UID,
		Ticker:           r.Ticker,
		Quantity:         r.Quantity,
		SalePrice:        r.SalePrice,
		SaleDate:         portfolio.Day(r.SaleDate),
		Proceeds:         r.Proceeds,
		CostBasis:        r.CostBasis,
		RealizedGainLoss: r.RealizedGainLoss,
		Type:             portfolio.SaleType(r.Type),
	}
}

type CashDepositRecord struct {
	gorm.Model
	UID       string `gorm:"uniqueIndex;size:36;not null"`
	UserID    string `gorm:"index;not null"`
	Amount    float64
	Date      time.Time
	Type      string `gorm:"size:16;not null"`
	Timestamp time.Time
}

func (CashDepositRecord) TableName() string { return "cash_deposits" }

func NewCashDepositRecord(userID string, d portfolio.CashDeposit) CashDepositRecord {
	return CashDepositRecord{
		UID:       d.ID,
		UserID:    userID,
		Amount:    d.Amount,
		Date:      portfolio.Day(d.Date),
		Type:      string(d.Type),
		Timestamp: d.Timestamp,
	}
}

func (r CashDepositRecord) CashDeposit() portfolio.CashDeposit {
	return portfolio.CashDeposit{
		ID:        r.UID,
		Amount:    r.Amount,
		Date:      portfolio.Day(r.Date),
		Type:      portfolio.DepositType(r.Type),
		Timestamp: r.Timestamp,
	}
}

// CashSetting holds the uninvested balance of one user.
type CashSetting struct {
	UserID        string `gorm:"primaryKey"`
	AvailableCash float64
	UpdatedAt     time.Time
}
