// Package store defines the persistence ports the session layer writes
// through, and a Redis implementation used for guest portfolios.
package store

import (
	"context"
	"errors"

	"portfolio-tracker/portfolio"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrPersistence = errors.New("persistence failure")
)

// TransactionStore persists buy lots and sales. Lots are listed in insertion
// order, which breaks ties between lots bought on the same date.
type TransactionStore interface {
	ListTransactions(ctx context.Context, userID string) ([]portfolio.Transaction, error)
	ListSales(ctx context.Context, userID string) ([]portfolio.Sale, error)
	AddTransaction(ctx context.Context, userID string, tx portfolio.Transaction) error
	UpdateTransaction(ctx context.Context, userID, id string, patch portfolio.TransactionPatch) error
	DeleteTransaction(ctx context.Context, userID, id string) error
	AddSale(ctx context.Context, userID string, sale portfolio.Sale) error
}

// CashStore persists the uninvested balance and the deposit history.
type CashStore interface {
	GetAvailableCash(ctx context.Context, userID string) (float64, error)
	SetAvailableCash(ctx context.Context, userID string, amount float64) error
	ListCashDeposits(ctx context.Context, userID string) ([]portfolio.CashDeposit, error)
	AddCashDeposit(ctx context.Context, userID string, d portfolio.CashDeposit) error
	UpdateCashDeposit(ctx context.Context, userID string, d portfolio.CashDeposit) error
	DeleteCashDeposit(ctx context.Context, userID, id string) error
}

// Store is everything a portfolio session needs.
type Store interface {
	TransactionStore
	CashStore
}

// Snapshot is the full persisted portfolio of one user.
type Snapshot struct {
	Transactions  []portfolio.Transaction `json:"transactions"`
	Sales         []portfolio.Sale        `json:"sales"`
	AvailableCash float64                 `json:"available_cash"`
	CashDeposits  []portfolio.CashDeposit `json:"cash_deposits"`
}

// Load reads every record of userID.
func Load(ctx context.Context, s Store, userID string) (Snapshot, error) {
	var snap Snapshot
	var err error
	if snap.Transactions, err = s.ListTransactions(ctx, userID); err != nil {
		return Snapshot{}, err
	}
	if snap.Sales, err = s.ListSales(ctx, userID); err != nil {
		return Snapshot{}, err
	}
	if snap.AvailableCash, err = s.GetAvailableCash(ctx, userID); err != nil {
		return Snapshot{}, err
	}
	if snap.CashDeposits, err = s.ListCashDeposits(ctx, userID); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// ApplyPatch returns tx with the non-nil fields of patch applied.
func ApplyPatch(tx portfolio.Transaction, patch portfolio.TransactionPatch) portfolio.Transaction {
	if patch.Quantity != nil {
		tx.Quantity = *patch.Quantity
	}
	if patch.PurchasePrice != nil {
		tx.PurchasePrice = *patch.PurchasePrice
	}
	if patch.PurchaseDate != nil {
		tx.PurchaseDate = portfolio.Day(*patch.PurchaseDate)
	}
	return tx
}
