// Package store defines storage interfaces for orders, positions, quotes, and
// the saga journal, with SQLite, PostgreSQL, and Parquet implementations.
package store

import (
	"context"
	"time"

	"daytrader/internal/domain"
)

// OrderStore persists and retrieves order records.
type OrderStore interface {
	// CreateOrder inserts a new order and assigns its ID and version.
	CreateOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)

	// ListOrders returns the account's orders, newest first. An empty status
	// matches every status.
	ListOrders(ctx context.Context, accountID int64, status domain.OrderStatus) ([]domain.Order, error)

	// ListStaleOrders returns orders in status whose claim time (open date
	// when never claimed) is before cutoff, oldest first.
	ListStaleOrders(ctx context.Context, status domain.OrderStatus, cutoff time.Time) ([]domain.Order, error)

	// TransitionOrder applies mutate to the order if its current status is
	// one of from, and persists the result with a version check. It returns
	// domain.ErrInvalidState when the status does not match and
	// domain.ErrConflict when a concurrent writer got there first.
	TransitionOrder(ctx context.Context, id int64, from []domain.OrderStatus, mutate func(*domain.Order)) (*domain.Order, error)
}

// PositionStore persists and retrieves position records.
type PositionStore interface {
	// CreatePosition inserts a new position and assigns its ID.
	CreatePosition(ctx context.Context, pos *domain.Position) error

	// GetPosition retrieves a single position by its ID.
	GetPosition(ctx context.Context, id int64) (*domain.Position, error)

	// ListPositions returns every position owned by the account.
	ListPositions(ctx context.Context, accountID int64) ([]domain.Position, error)

	// ListPositionsBySymbol returns the account's positions in one symbol.
	ListPositionsBySymbol(ctx context.Context, accountID int64, symbol string) ([]domain.Position, error)
}

// QuoteStore persists the latest quote per symbol.
type QuoteStore interface {
	// GetQuote retrieves the quote for a symbol.
	GetQuote(ctx context.Context, symbol string) (*domain.Quote, error)

	// SaveQuote inserts or replaces the quote for q.Symbol.
	SaveQuote(ctx context.Context, q *domain.Quote) error

	// ListQuotes returns all quotes ordered by symbol.
	ListQuotes(ctx context.Context) ([]domain.Quote, error)
}

// JournalStore appends and reads saga diagnostic records.
type JournalStore interface {
	// AppendJournal persists a batch of records.
	AppendJournal(ctx context.Context, recs []domain.SagaRecord) error

	// ReadJournal returns the records written on the given UTC day.
	ReadJournal(ctx context.Context, day time.Time) ([]domain.SagaRecord, error)
}

// Store bundles the relational stores behind one handle.
type Store interface {
	OrderStore
	PositionStore
	QuoteStore
	Close() error
}

func statusIn(s domain.OrderStatus, from []domain.OrderStatus) bool {
	for _, f := range from {
		if s == f {
			return true
		}
	}
	return false
}
