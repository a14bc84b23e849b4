// Package broker defines the remote collaborators the order workflow calls
// synchronously, the price source and the ledger service, and provides HTTP,
// Alpaca, and in-process implementations plus resilience decorators.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"daytrader/internal/domain"
)

// PriceSource returns the current execution price for a symbol.
type PriceSource interface {
	// Price returns the latest price for symbol. Unknown symbols yield
	// domain.ErrNotFound.
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Ledger is the system of record for account cash balances.
type Ledger interface {
	// Adjust atomically adds amount (negative for a debit) to the account's
	// balance, tagged with reason, and returns the new account state. A
	// concurrent writer surfaces as domain.ErrConflict.
	Adjust(ctx context.Context, accountID int64, amount decimal.Decimal, reason string) (*domain.Account, error)

	// Account returns the current account state.
	Account(ctx context.Context, accountID int64) (*domain.Account, error)
}
