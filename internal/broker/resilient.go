package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"daytrader/internal/domain"
	"daytrader/internal/util"
)

// Guard bounds one remote dependency: each attempt runs under Timeout,
// transient failures are retried per Retry, and Breaker (if set) rejects
// calls while the dependency keeps failing.
type Guard struct {
	Timeout time.Duration
	Retry   util.RetryPolicy
	Breaker *util.CircuitBreaker
}

// Run calls fn under the guard.
func (g Guard) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := func() error {
		cctx := ctx
		if g.Timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, g.Timeout)
			defer cancel()
		}
		return fn(cctx)
	}
	return util.RetryIf(ctx, g.Retry, domain.IsTransient, func() error {
		if g.Breaker == nil {
			return attempt()
		}
		return g.Breaker.Do(tripsBreaker, attempt)
	})
}

// tripsBreaker reports whether err says the dependency is unhealthy. A
// conflict is retried but means the dependency answered.
func tripsBreaker(err error) bool {
	return domain.IsTransient(err) && !errors.Is(err, domain.ErrConflict)
}

// Compile-time interface checks.
var (
	_ PriceSource = (*GuardedPriceSource)(nil)
	_ Ledger      = (*GuardedLedger)(nil)
)

// GuardedPriceSource wraps a PriceSource with a Guard.
type GuardedPriceSource struct {
	next  PriceSource
	guard Guard
}

// NewGuardedPriceSource wraps next.
func NewGuardedPriceSource(next PriceSource, g Guard) *GuardedPriceSource {
	return &GuardedPriceSource{next: next, guard: g}
}

// Price calls the wrapped source under the guard.
func (s *GuardedPriceSource) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := s.guard.Run(ctx, func(ctx context.Context) error {
		p, err := s.next.Price(ctx, symbol)
		if err != nil {
			return err
		}
		price = p
		return nil
	})
	return price, err
}

// GuardedLedger wraps a Ledger with a Guard. Retrying an adjustment is safe
// only because every adjustment carries its reason as an idempotency key.
type GuardedLedger struct {
	next  Ledger
	guard Guard
}

// NewGuardedLedger wraps next.
func NewGuardedLedger(next Ledger, g Guard) *GuardedLedger {
	return &GuardedLedger{next: next, guard: g}
}

// Adjust calls the wrapped ledger under the guard.
func (l *GuardedLedger) Adjust(ctx context.Context, accountID int64, amount decimal.Decimal, reason string) (*domain.Account, error) {
	var acct *domain.Account
	err := l.guard.Run(ctx, func(ctx context.Context) error {
		a, err := l.next.Adjust(ctx, accountID, amount, reason)
		if err != nil {
			return err
		}
		acct = a
		return nil
	})
	return acct, err
}

// Account calls the wrapped ledger under the guard.
func (l *GuardedLedger) Account(ctx context.Context, accountID int64) (*domain.Account, error) {
	var acct *domain.Account
	err := l.guard.Run(ctx, func(ctx context.Context) error {
		a, err := l.next.Account(ctx, accountID)
		if err != nil {
			return err
		}
		acct = a
		return nil
	})
	return acct, err
}
