package portfolio

import (
	"fmt"
	"sort"
	"time"
)

// SaleLot is the part of a sale the lot engine needs.
type SaleLot struct {
	Quantity int
	SaleDate time.Time
}

// FIFOResult is what remains of one ticker's lots after its sales.
type FIFOResult struct {
	Remaining     []Transaction
	TotalQuantity int
	TotalCost     float64
	// CostBasis holds the consumed cost of each sale, indexed like the
	// sales passed in.
	CostBasis []float64
}

// ApplyFIFOSales matches sales, oldest first, against the oldest lots of one
// ticker. Lots are ordered by purchase date; lots bought on the same date are
// consumed in the order they were given. The input slices are not modified.
func ApplyFIFOSales(transactions []Transaction, sales []SaleLot) (FIFOResult, error) {
	var held, sold int
	for _, tx := range transactions {
		held += tx.Quantity
	}
	for _, s := range sales {
		if s.Quantity <= 0 {
			return FIFOResult{}, fmt.Errorf("%w: sale quantity %d", ErrInvalidInput, s.Quantity)
		}
		sold += s.Quantity
	}
	if sold > held {
		return FIFOResult{}, fmt.Errorf("%w: %d sold against %d held", ErrOversoldPosition, sold, held)
	}

	lots := append([]Transaction(nil), transactions...)
	sortLots(lots)

	order := make([]int, len(sales))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sales[order[a]].SaleDate.Before(sales[order[b]].SaleDate)
	})

	res := FIFOResult{CostBasis: make([]float64, len(sales))}
	for _, i := range order {
		res.CostBasis[i] = consumeLots(lots, sales[i].Quantity)
	}

	res.Remaining = dropEmptyLots(lots)
	for _, tx := range res.Remaining {
		res.TotalQuantity += tx.Quantity
		res.TotalCost += tx.Cost()
	}
	return res, nil
}

// ConsumeFIFO applies one new sale of quantity shares to a position's lot
// history and returns the remaining lots together with the sale's cost basis.
func ConsumeFIFO(history []Transaction, quantity int) ([]Transaction, float64, error) {
	if quantity <= 0 {
		return nil, 0, fmt.Errorf("%w: sale quantity %d", ErrInvalidInput, quantity)
	}
	var held int
	for _, tx := range history {
		held += tx.Quantity
	}
	if quantity > held {
		return nil, 0, fmt.Errorf("%w: %d sold against %d held", ErrOversoldPosition, quantity, held)
	}

	lots := append([]Transaction(nil), history...)
	sortLots(lots)
	cost := consumeLots(lots, quantity)
	return dropEmptyLots(lots), cost, nil
}

// consumeLots takes quantity shares from the front of lots in place and
// returns their cost.
func consumeLots(lots []Transaction, quantity int) float64 {
	var cost float64
	remaining := quantity
	for i := range lots {
		if remaining == 0 {
			break
		}
		if lots[i].Quantity <= 0 {
			continue
		}
		take := min(lots[i].Quantity, remaining)
		cost += float64(take) * lots[i].PurchasePrice
		lots[i].Quantity -= take
		remaining -= take
	}
	return cost
}

func dropEmptyLots(lots []Transaction) []Transaction {
	out := make([]Transaction, 0, len(lots))
	for _, tx := range lots {
		if tx.Quantity > 0 {
			out = append(out, tx)
		}
	}
	return out
}
