package portfolio

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// State is a snapshot of one user's portfolio. Every mutation returns a new
// State and leaves the receiver untouched, so a snapshot handed out earlier
// never changes underneath its holder.
type State struct {
	Positions []Position `json:"positions"`
	// Transactions are the lots as persisted, with their full bought
	// quantity. Positions hold what is left of them.
	Transactions  []Transaction `json:"-"`
	Sales         []Sale        `json:"sales"`
	AvailableCash float64       `json:"available_cash"`
	CashDeposits  []CashDeposit `json:"cash_deposits"`
}

// NewState rebuilds a State from persisted records.
func NewState(transactions []Transaction, sales []Sale, availableCash float64, deposits []CashDeposit) (State, error) {
	positions, err := BuildPositions(transactions, sales)
	if err != nil {
		return State{}, err
	}
	s := State{
		Positions:     positions,
		Transactions:  append([]Transaction(nil), transactions...),
		Sales:         append([]Sale(nil), sales...),
		AvailableCash: availableCash,
		CashDeposits:  append([]CashDeposit(nil), deposits...),
	}
	for i := range s.Transactions {
		s.Transactions[i].Ticker = NormalizeTicker(s.Transactions[i].Ticker)
	}
	sortSalesNewestFirst(s.Sales)
	sortDepositsNewestFirst(s.CashDeposits)
	return s, nil
}

// Clone returns a deep copy.
func (s State) Clone() State {
	c := State{
		Positions:     make([]Position, len(s.Positions)),
		Transactions:  append([]Transaction(nil), s.Transactions...),
		Sales:         append([]Sale(nil), s.Sales...),
		AvailableCash: s.AvailableCash,
		CashDeposits:  append([]CashDeposit(nil), s.CashDeposits...),
	}
	for i, p := range s.Positions {
		c.Positions[i] = p.clone()
	}
	return c
}

// Stats computes the portfolio metrics as of now.
func (s State) Stats(now time.Time) PortfolioStats {
	return ComputeStats(s.Positions, s.AvailableCash, s.CashDeposits, now)
}

// Position returns the open position in ticker.
func (s State) Position(ticker string) (Position, bool) {
	if i := s.positionIndex(NormalizeTicker(ticker)); i >= 0 {
		return s.Positions[i].clone(), true
	}
	return Position{}, false
}

// Tickers lists the tickers of all open positions.
func (s State) Tickers() []string {
	out := make([]string, len(s.Positions))
	for i, p := range s.Positions {
		out[i] = p.Ticker
	}
	return out
}

func (s State) positionIndex(ticker string) int {
	for i, p := range s.Positions {
		if p.Ticker == ticker {
			return i
		}
	}
	return -1
}

func (s State) transactionIndex(id string) int {
	for i, tx := range s.Transactions {
		if tx.ID == id {
			return i
		}
	}
	return -1
}

// findLot scans every position's history for the lot with the given id.
func (s State) findLot(id string) (pos, lot int) {
	for i, p := range s.Positions {
		for j, tx := range p.History {
			if tx.ID == id {
				return i, j
			}
		}
	}
	return -1, -1
}

func (s *State) removePosition(i int) {
	s.Positions = append(s.Positions[:i], s.Positions[i+1:]...)
}

// ValidateTransaction checks a new lot before it is added.
func ValidateTransaction(tx Transaction) error {
	switch {
	case NormalizeTicker(tx.Ticker) == "":
		return fmt.Errorf("%w: ticker is required", ErrInvalidInput)
	case tx.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be a positive integer", ErrInvalidInput)
	case tx.PurchasePrice < 0 || !finite(tx.PurchasePrice):
		return fmt.Errorf("%w: purchase price must not be negative", ErrInvalidInput)
	case tx.PurchaseDate.IsZero():
		return fmt.Errorf("%w: purchase date is required", ErrInvalidInput)
	}
	return nil
}

// AddPosition adds a bought lot. It merges into an existing position in the
// same ticker or opens a new one. quote, when non-nil and positively priced,
// becomes the market value; otherwise the purchase price stands in for it.
// Available cash is reduced by the lot's cost, never below zero.
func (s State) AddPosition(tx Transaction, quote *Quote) (State, error) {
	if err := ValidateTransaction(tx); err != nil {
		return s, err
	}
	tx.Ticker = NormalizeTicker(tx.Ticker)
	tx.PurchaseDate = Day(tx.PurchaseDate)

	next := s.Clone()
	next.Transactions = append(next.Transactions, tx)

	i := next.positionIndex(tx.Ticker)
	if i < 0 {
		next.Positions = append(next.Positions, Position{Ticker: tx.Ticker})
		i = len(next.Positions) - 1
	}
	p := &next.Positions[i]
	p.History = append(p.History, tx)
	p.recompute()

	if quote != nil && quote.LastPrice > 0 {
		p.applyQuote(*quote)
	} else {
		price := tx.PurchasePrice
		p.MarketValue = &price
		p.PriceLoading = false
	}

	sortPositions(next.Positions)
	next.AvailableCash = math.Max(0, next.AvailableCash-tx.Cost())
	return next, nil
}

// SaleRequest is a sell order entered by the user.
type SaleRequest struct {
	Ticker   string
	Quantity int
	Price    float64
	Type     SaleType
}

// SellPosition sells shares of an open position, consuming the oldest lots
// first. It returns the new state and the realized Sale; proceeds are added
// to available cash and a fully sold position is removed.
func (s State) SellPosition(req SaleRequest, id string, date time.Time) (State, Sale, error) {
	ticker := NormalizeTicker(req.Ticker)
	if req.Type == "" {
		req.Type = SaleMarket
	}
	switch {
	case !req.Type.Valid():
		return s, Sale{}, fmt.Errorf("%w: unknown sale type %q", ErrInvalidInput, req.Type)
	case req.Price < 0 || !finite(req.Price):
		return s, Sale{}, fmt.Errorf("%w: sale price must not be negative", ErrInvalidInput)
	}

	i := s.positionIndex(ticker)
	if i < 0 {
		return s, Sale{}, fmt.Errorf("%w: %s", ErrPositionNotFound, ticker)
	}
	held := s.Positions[i].Quantity
	if req.Quantity <= 0 || req.Quantity > held {
		return s, Sale{}, fmt.Errorf("%w: cannot sell %d of %d %s shares", ErrInsufficientShares, req.Quantity, held, ticker)
	}

	history, costBasis, err := ConsumeFIFO(s.Positions[i].History, req.Quantity)
	if err != nil {
		return s, Sale{}, err
	}

	proceeds := float64(req.Quantity) * req.Price
	sale := Sale{
		ID:               id,
		Ticker:           ticker,
		Quantity:         req.Quantity,
		SalePrice:        req.Price,
		SaleDate:         Day(date),
		Proceeds:         proceeds,
		CostBasis:        costBasis,
		RealizedGainLoss: proceeds - costBasis,
		Type:             req.Type,
	}

	next := s.Clone()
	if len(history) == 0 {
		next.removePosition(i)
	} else {
		p := &next.Positions[i]
		p.History = history
		p.recompute()
	}
	next.Sales = append([]Sale{sale}, next.Sales...)
	next.AvailableCash += proceeds
	return next, sale, nil
}

// TransactionPatch holds the editable fields of a lot; nil fields are kept.
type TransactionPatch struct {
	Quantity      *int       `json:"quantity,omitempty"`
	PurchasePrice *float64   `json:"purchase_price,omitempty"`
	PurchaseDate  *time.Time `json:"purchase_date,omitempty"`
}

// LotChange says how a lot edit has to be written back to the store.
type LotChange struct {
	// Record is the stored lot after the change.
	Record Transaction
	// Delete means the record goes away instead of being updated.
	Delete bool
}

// Patch returns the store patch that turns the old record into Record.
func (c LotChange) Patch() TransactionPatch {
	q, p, d := c.Record.Quantity, c.Record.PurchasePrice, c.Record.PurchaseDate
	return TransactionPatch{Quantity: &q, PurchasePrice: &p, PurchaseDate: &d}
}

// EditTransaction edits the unsold remainder of a lot and recomputes the
// owning position. Shares of the lot already consumed by sales stay part of
// the stored record, so Record.Quantity is the new remainder plus them.
// Changing the purchase date replays every sale against the reordered lots.
func (s State) EditTransaction(id string, patch TransactionPatch) (State, LotChange, error) {
	pi, li := s.findLot(id)
	if pi < 0 {
		return s, LotChange{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}

	lot := s.Positions[pi].History[li]
	stored := lot
	if ti := s.transactionIndex(id); ti >= 0 {
		stored = s.Transactions[ti]
	}
	consumed := stored.Quantity - lot.Quantity

	if patch.Quantity != nil {
		lot.Quantity = *patch.Quantity
	}
	if patch.PurchasePrice != nil {
		lot.PurchasePrice = *patch.PurchasePrice
	}
	if patch.PurchaseDate != nil {
		lot.PurchaseDate = Day(*patch.PurchaseDate)
	}
	if err := ValidateTransaction(lot); err != nil {
		return s, LotChange{}, err
	}

	record := lot
	record.Quantity = lot.Quantity + consumed

	next := s.Clone()
	next.putTransaction(record)
	if !record.PurchaseDate.Equal(stored.PurchaseDate) {
		// A moved lot can change which lots earlier sales consumed.
		if err := next.replayPositions(); err != nil {
			return s, LotChange{}, err
		}
		return next, LotChange{Record: record}, nil
	}

	p := &next.Positions[pi]
	p.History[li] = lot
	p.recompute()
	sortPositions(next.Positions)
	return next, LotChange{Record: record}, nil
}

// replayPositions rebuilds the positions from the stored lots and sales, the
// way a reload does. Market data is kept for tickers that stay open.
func (s *State) replayPositions() error {
	positions, err := BuildPositions(s.Transactions, s.Sales)
	if err != nil {
		return err
	}
	for i := range positions {
		if j := s.positionIndex(positions[i].Ticker); j >= 0 {
			positions[i].carryMarketData(s.Positions[j])
		}
	}
	s.Positions = positions
	return nil
}

// DeleteTransaction removes the unsold remainder of a lot and recomputes the
// owning position, dropping it when nothing is left. A lot partly consumed by
// earlier sales keeps a stored record for the consumed shares; an untouched
// lot is deleted outright.
func (s State) DeleteTransaction(id string) (State, LotChange, error) {
	pi, li := s.findLot(id)
	if pi < 0 {
		return s, LotChange{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}

	lot := s.Positions[pi].History[li]
	record := lot
	if ti := s.transactionIndex(id); ti >= 0 {
		record = s.Transactions[ti]
	}
	record.Quantity -= lot.Quantity

	next := s.Clone()
	p := &next.Positions[pi]
	p.History = append(p.History[:li], p.History[li+1:]...)
	if len(p.History) == 0 {
		next.removePosition(pi)
	} else {
		p.recompute()
		sortPositions(next.Positions)
	}

	change := LotChange{Record: record, Delete: record.Quantity <= 0}
	if change.Delete {
		if ti := next.transactionIndex(id); ti >= 0 {
			next.Transactions = append(next.Transactions[:ti], next.Transactions[ti+1:]...)
		}
	} else {
		next.putTransaction(record)
	}
	return next, change, nil
}

func (s *State) putTransaction(tx Transaction) {
	if i := s.transactionIndex(tx.ID); i >= 0 {
		s.Transactions[i] = tx
		return
	}
	s.Transactions = append(s.Transactions, tx)
}

// SetAvailableCash overwrites the uninvested cash balance.
func (s State) SetAvailableCash(amount float64) (State, error) {
	if amount < 0 || !finite(amount) {
		return s, fmt.Errorf("%w: available cash must not be negative", ErrInvalidInput)
	}
	next := s.Clone()
	next.AvailableCash = amount
	return next, nil
}

// ValidateDeposit checks a cash movement.
func ValidateDeposit(d CashDeposit) error {
	switch {
	case d.Amount <= 0 || !finite(d.Amount):
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	case !d.Type.Valid():
		return fmt.Errorf("%w: unknown deposit type %q", ErrInvalidInput, d.Type)
	case d.Date.IsZero():
		return fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	return nil
}

// AddCashDeposit records a deposit or withdrawal and moves available cash
// accordingly. A withdrawal larger than the available cash is rejected.
func (s State) AddCashDeposit(d CashDeposit) (State, CashDeposit, error) {
	if err := ValidateDeposit(d); err != nil {
		return s, CashDeposit{}, err
	}
	d.Date = Day(d.Date)
	if s.AvailableCash+d.CashEffect() < 0 {
		return s, CashDeposit{}, fmt.Errorf("%w: withdrawal of %.2f exceeds available cash %.2f", ErrInvalidInput, d.Amount, s.AvailableCash)
	}

	next := s.Clone()
	next.AvailableCash += d.CashEffect()
	next.CashDeposits = append(next.CashDeposits, d)
	sortDepositsNewestFirst(next.CashDeposits)
	return next, d, nil
}

// DepositPatch holds the editable fields of a cash movement.
type DepositPatch struct {
	Amount *float64     `json:"amount,omitempty"`
	Date   *time.Time   `json:"date,omitempty"`
	Type   *DepositType `json:"type,omitempty"`
}

// EditCashDeposit changes a cash movement and applies the difference of its
// cash effect to available cash, floored at zero.
func (s State) EditCashDeposit(id string, patch DepositPatch, now time.Time) (State, CashDeposit, error) {
	i := s.depositIndex(id)
	if i < 0 {
		return s, CashDeposit{}, fmt.Errorf("%w: %s", ErrDepositNotFound, id)
	}
	old := s.CashDeposits[i]
	d := old
	if patch.Amount != nil {
		d.Amount = *patch.Amount
	}
	if patch.Date != nil {
		d.Date = Day(*patch.Date)
	}
	if patch.Type != nil {
		d.Type = *patch.Type
	}
	if err := ValidateDeposit(d); err != nil {
		return s, CashDeposit{}, err
	}
	d.Timestamp = now

	next := s.Clone()
	next.CashDeposits[i] = d
	next.AvailableCash = math.Max(0, next.AvailableCash+d.CashEffect()-old.CashEffect())
	sortDepositsNewestFirst(next.CashDeposits)
	return next, d, nil
}

// DeleteCashDeposit removes a cash movement and reverses its cash effect,
// flooring available cash at zero.
func (s State) DeleteCashDeposit(id string) (State, error) {
	i := s.depositIndex(id)
	if i < 0 {
		return s, fmt.Errorf("%w: %s", ErrDepositNotFound, id)
	}
	next := s.Clone()
	old := next.CashDeposits[i]
	next.CashDeposits = append(next.CashDeposits[:i], next.CashDeposits[i+1:]...)
	next.AvailableCash = math.Max(0, next.AvailableCash-old.CashEffect())
	return next, nil
}

func (s State) depositIndex(id string) int {
	for i, d := range s.CashDeposits {
		if d.ID == id {
			return i
		}
	}
	return -1
}

// MarkPricesLoading flags the positions in tickers as waiting for a quote.
func (s State) MarkPricesLoading(tickers []string) State {
	want := tickerSet(tickers)
	next := s.Clone()
	for i := range next.Positions {
		if want[next.Positions[i].Ticker] {
			next.Positions[i].PriceLoading = true
			next.Positions[i].PriceError = false
		}
	}
	return next
}

// ApplyQuotes updates the positions in requested with their quotes. A
// requested ticker without a positively priced quote is marked as errored and
// keeps its previous market value.
func (s State) ApplyQuotes(quotes map[string]Quote, requested []string) State {
	want := tickerSet(requested)
	next := s.Clone()
	for i := range next.Positions {
		p := &next.Positions[i]
		if !want[p.Ticker] {
			continue
		}
		if q, ok := quotes[p.Ticker]; ok && q.LastPrice > 0 {
			p.applyQuote(q)
			continue
		}
		p.PriceLoading = false
		p.PriceError = true
	}
	return next
}

func tickerSet(tickers []string) map[string]bool {
	set := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		set[NormalizeTicker(t)] = true
	}
	return set
}

func sortSalesNewestFirst(sales []Sale) {
	sort.SliceStable(sales, func(i, j int) bool {
		return sales[i].SaleDate.After(sales[j].SaleDate)
	})
}

func sortDepositsNewestFirst(deposits []CashDeposit) {
	sort.SliceStable(deposits, func(i, j int) bool {
		return deposits[i].Date.After(deposits[j].Date)
	})
}
