package session

import (
	"context"
	"time"

	"portfolio-tracker/portfolio"
)

// LotInput is a purchase entered by the user.
type LotInput struct {
	Ticker   string
	Quantity int
	Price    float64
	Date     time.Time
}

// AddPosition records a purchase. The lot is priced with a fresh quote when
// one can be had; otherwise its purchase price stands in.
func (s *Session) AddPosition(ctx context.Context, in LotInput) (portfolio.Transaction, error) {
	tx := portfolio.Transaction{
		ID:            s.deps.NewID(),
		Ticker:        portfolio.NormalizeTicker(in.Ticker),
		Quantity:      in.Quantity,
		PurchasePrice: in.Price,
		PurchaseDate:  portfolio.Day(in.Date),
	}
	if tx.PurchaseDate.IsZero() {
		tx.PurchaseDate = portfolio.Day(s.deps.Now())
	}
	if err := portfolio.ValidateTransaction(tx); err != nil {
		return portfolio.Transaction{}, err
	}

	var quote *portfolio.Quote
	if s.deps.Quotes != nil {
		q, err := s.deps.Quotes.GetQuote(ctx, tx.Ticker)
		if err != nil {
			s.log.Debug().Err(err).Str("ticker", tx.Ticker).Msg("No quote for new lot, using purchase price")
		} else {
			quote = &q
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return portfolio.Transaction{}, ErrClosed
	}
	next, err := s.state.AddPosition(tx, quote)
	if err != nil {
		return portfolio.Transaction{}, err
	}
	s.state = next
	cash := next.AvailableCash
	s.enqueue("add_transaction", func(ctx context.Context) error {
		if err := s.store.AddTransaction(ctx, s.userID, tx); err != nil {
			return err
		}
		return s.store.SetAvailableCash(ctx, s.userID, cash)
	})
	return tx, nil
}

// Sell sells shares of a position, oldest lots first. A zero date means today.
func (s *Session) Sell(req portfolio.SaleRequest, date time.Time) (portfolio.Sale, error) {
	if date.IsZero() {
		date = s.deps.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return portfolio.Sale{}, ErrClosed
	}
	next, sale, err := s.state.SellPosition(req, s.deps.NewID(), date)
	if err != nil {
		return portfolio.Sale{}, err
	}
	s.state = next
	cash := next.AvailableCash
	s.enqueue("add_sale", func(ctx context.Context) error {
		if err := s.store.AddSale(ctx, s.userID, sale); err != nil {
			return err
		}
		return s.store.SetAvailableCash(ctx, s.userID, cash)
	})
	return sale, nil
}

// EditTransaction edits the unsold remainder of a lot and returns the stored
// record after the change.
func (s *Session) EditTransaction(id string, patch portfolio.TransactionPatch) (portfolio.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return portfolio.Transaction{}, ErrClosed
	}
	next, change, err := s.state.EditTransaction(id, patch)
	if err != nil {
		return portfolio.Transaction{}, err
	}
	s.state = next
	s.enqueue("update_transaction", s.writeLot(id, change))
	return change.Record, nil
}

// DeleteTransaction removes the unsold remainder of a lot.
func (s *Session) DeleteTransaction(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	next, change, err := s.state.DeleteTransaction(id)
	if err != nil {
		return err
	}
	s.state = next
	s.enqueue("delete_transaction", s.writeLot(id, change))
	return nil
}

func (s *Session) writeLot(id string, change portfolio.LotChange) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if change.Delete {
			return s.store.DeleteTransaction(ctx, s.userID, id)
		}
		return s.store.UpdateTransaction(ctx, s.userID, id, change.Patch())
	}
}

func (s *Session) SetAvailableCash(amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	next, err := s.state.SetAvailableCash(amount)
	if err != nil {
		return err
	}
	s.state = next
	s.enqueue("set_available_cash", func(ctx context.Context) error {
		return s.store.SetAvailableCash(ctx, s.userID, amount)
	})
	return nil
}

// AddCashDeposit records a deposit or withdrawal.
func (s *Session) AddCashDeposit(amount float64, typ portfolio.DepositType, date time.Time) (portfolio.CashDeposit, error) {
	if date.IsZero() {
		date = s.deps.Now()
	}
	d := portfolio.CashDeposit{
		ID:        s.deps.NewID(),
		Amount:    amount,
		Type:      typ,
		Date:      date,
		Timestamp: s.deps.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return portfolio.CashDeposit{}, ErrClosed
	}
	next, d, err := s.state.AddCashDeposit(d)
	if err != nil {
		return portfolio.CashDeposit{}, err
	}
	s.state = next
	cash := next.AvailableCash
	s.enqueue("add_cash_deposit", func(ctx context.Context) error {
		if err := s.store.AddCashDeposit(ctx, s.userID, d); err != nil {
			return err
		}
		return s.store.SetAvailableCash(ctx, s.userID, cash)
	})
	return d, nil
}

func (s *Session) EditCashDeposit(id string, patch portfolio.DepositPatch) (portfolio.CashDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return portfolio.CashDeposit{}, ErrClosed
	}
	next, d, err := s.state.EditCashDeposit(id, patch, s.deps.Now().UTC())
	if err != nil {
		return portfolio.CashDeposit{}, err
	}
	s.state = next
	cash := next.AvailableCash
	s.enqueue("update_cash_deposit", func(ctx context.Context) error {
		if err := s.store.UpdateCashDeposit(ctx, s.userID, d); err != nil {
			return err
		}
		return s.store.SetAvailableCash(ctx, s.userID, cash)
	})
	return d, nil
}

func (s *Session) DeleteCashDeposit(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	next, err := s.state.DeleteCashDeposit(id)
	if err != nil {
		return err
	}
	s.state = next
	cash := next.AvailableCash
	s.enqueue("delete_cash_deposit", func(ctx context.Context) error {
		if err := s.store.DeleteCashDeposit(ctx, s.userID, id); err != nil {
			return err
		}
		return s.store.SetAvailableCash(ctx, s.userID, cash)
	})
	return nil
}
