package portfolio

import "errors"

var (
	ErrInvalidCashFlows    = errors.New("invalid cash flows")
	ErrDidNotConverge      = errors.New("xirr did not converge")
	ErrOversoldPosition    = errors.New("oversold position")
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrPositionNotFound    = errors.New("position not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDepositNotFound     = errors.New("cash deposit not found")
	ErrInvalidInput        = errors.New("invalid input")
)
