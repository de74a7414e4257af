package portfolio

import "fmt"

// BuildPositions reconstructs the open positions from the persisted lots and
// sales. Positions come back ordered by first purchase date (ties broken by
// ticker) with no market value yet and PriceLoading set.
//
// A sale that cannot be matched against enough shares means the stored
// history is corrupt; it is reported as ErrOversoldPosition.
func BuildPositions(transactions []Transaction, sales []Sale) ([]Position, error) {
	var tickers []string
	lots := make(map[string][]Transaction)
	for _, tx := range transactions {
		t := NormalizeTicker(tx.Ticker)
		if _, ok := lots[t]; !ok {
			tickers = append(tickers, t)
		}
		tx.Ticker = t
		lots[t] = append(lots[t], tx)
	}

	sold := make(map[string][]SaleLot)
	for _, s := range sales {
		t := NormalizeTicker(s.Ticker)
		if _, ok := lots[t]; !ok {
			return nil, fmt.Errorf("%s: %w: sale %s has no purchases", t, ErrOversoldPosition, s.ID)
		}
		sold[t] = append(sold[t], SaleLot{Quantity: s.Quantity, SaleDate: s.SaleDate})
	}

	positions := make([]Position, 0, len(tickers))
	for _, t := range tickers {
		res, err := ApplyFIFOSales(lots[t], sold[t])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t, err)
		}
		if res.TotalQuantity == 0 {
			continue
		}
		p := newPosition(t, res.Remaining)
		p.PriceLoading = true
		positions = append(positions, p)
	}

	sortPositions(positions)
	return positions, nil
}
