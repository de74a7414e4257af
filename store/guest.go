package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"portfolio-tracker/portfolio"
)

const (
	DefaultGuestTTL = 24 * time.Hour
	maxTxRetries    = 5
)

// GuestStore keeps each guest portfolio as one JSON document in Redis.
// Every write runs as a WATCH/MULTI transaction and renews the TTL.
type GuestStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewGuestStore(rdb *redis.Client, ttl time.Duration) *GuestStore {
	if ttl <= 0 {
		ttl = DefaultGuestTTL
	}
	return &GuestStore{rdb: rdb, ttl: ttl}
}

func guestKey(userID string) string {
	return fmt.Sprintf("guest:%s:portfolio", userID)
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (g *GuestStore) read(ctx context.Context, r getter, userID string) (Snapshot, error) {
	var snap Snapshot
	data, err := r.Get(ctx, guestKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("%w: read guest portfolio: %v", ErrPersistence, err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("%w: decode guest portfolio: %v", ErrPersistence, err)
	}
	return snap, nil
}

// update applies fn to the stored document and writes it back atomically.
func (g *GuestStore) update(ctx context.Context, userID string, fn func(*Snapshot) error) error {
	key := guestKey(userID)
	txf := func(tx *redis.Tx) error {
		snap, err := g.read(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := fn(&snap); err != nil {
			return err
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, g.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := g.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrPersistence) {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return err
	}
	return fmt.Errorf("%w: guest portfolio kept changing", ErrPersistence)
}

// Snapshot returns the whole stored document.
func (g *GuestStore) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	return g.read(ctx, g.rdb, userID)
}

// Drop deletes a guest portfolio.
func (g *GuestStore) Drop(ctx context.Context, userID string) error {
	if err := g.rdb.Del(ctx, guestKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (g *GuestStore) ListTransactions(ctx context.Context, userID string) ([]portfolio.Transaction, error) {
	snap, err := g.read(ctx, g.rdb, userID)
	return snap.Transactions, err
}

func (g *GuestStore) ListSales(ctx context.Context, userID string) ([]portfolio.Sale, error) {
	snap, err := g.read(ctx, g.rdb, userID)
	return snap.Sales, err
}

func (g *GuestStore) AddTransaction(ctx context.Context, userID string, tx portfolio.Transaction) error {
	return g.update(ctx, userID, func(s *Snapshot) error {
		s.Transactions = append(s.Transactions, tx)
		return nil
	})
}

func (g *GuestStore) UpdateTransaction(ctx context.Context, userID, id string, patch portfolio.TransactionPatch) error {
	return g.update(ctx, userID, func(s *Snapshot) error {
		for i, tx := range s.Transactions {
			if tx.ID == id {
				s.Transactions[i] = ApplyPatch(tx, patch)
				return nil
			}
		}
		return fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	})
}

func (g *GuestStore) DeleteTransaction(ctx context.Context, userID, id string) error {
	return g.update(ctx, userID, func(s *Snapshot) error {
		for i, tx := range s.Transactions {
			if tx.ID == id {
				s.Transactions = append(s.Transactions[:i], s.Transactions[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	})
}

func (g *GuestStore) AddSale(ctx context.Context, userID string, sale portfolio.Sale) error {
	return g.update(ctx, userID, func(s *Snapshot) error {
		s.Sales = append(s.Sales, sale)
		return nil
	})
}

func (g *GuestStore) GetAvailableCash(ctx context.Context, userID string) (float64, error) {
	snap, err := g.read(ctx, g.rdb, userID)
	return snap.AvailableCash, err
}

func (g *GuestStore) SetAvailableCash(ctx context.Context, userID string, amount float64) error {
	return g.update(ctx, userID, func(s *Snapshot) error {
		s.AvailableCash = amount
		return nil
	})
}

func (g *GuestStore) ListCashDeposits(ctx context.Context, userID string) ([]portfolio.CashDeposit, error) {
	snap, err := g.read(ctx, g.rdb, userID)
	return snap.CashDeposits, err
}

func (g *GuestStore) AddCashDeposit(ctx context.Context, userID string, d portfolio.CashDeposit) error {
	return g.update(ctx, userID, func(s *Snapshot) error {
		s.CashDeposits = append(s.CashDeposits, d)
		return nil
	})
}

func (g *GuestStore) UpdateCashDeposit(ctx context.Context, userID string, d portfolio.CashDeposit) error {
	return g.update(ctx, userID, func(s *Snapshot) error {
		for i := range s.CashDeposits {
			if s.CashDeposits[i].ID == d.ID {
				s.CashDeposits[i] = d
				return nil
			}
		}
		return fmt.Errorf("%w: cash deposit %s", ErrNotFound, d.ID)
	})
}

func (g *GuestStore) DeleteCashDeposit(ctx context.Context, userID, id string) error {
	return g.update(ctx, userID, func(s *Snapshot) error {
		for i := range s.CashDeposits {
			if s.CashDeposits[i].ID == id {
				s.CashDeposits = append(s.CashDeposits[:i], s.CashDeposits[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: cash deposit %s", ErrNotFound, id)
	})
}
