package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"daytrader/internal/domain"
)

// Compile-time interface checks.
var (
	_ PriceSource = (*Simulator)(nil)
	_ Ledger      = (*Simulator)(nil)
)

// LedgerCall is one balance adjustment the simulator applied.
type LedgerCall struct {
	AccountID int64
	Amount    decimal.Decimal
	Reason    string
}

// Simulator is an in-memory price source and ledger for paper trading and
// tests. Accounts are opened on first use with a zero balance. Adjustments
// with a reason that was already applied return the current account without
// applying twice.
type Simulator struct {
	mu        sync.Mutex
	prices    map[string]decimal.Decimal
	accounts  map[int64]*domain.Account
	applied   map[string]bool
	calls     []LedgerCall
	lookups   int
	attempts  int
	priceErr  error
	ledgerErr error
	conflicts int
}

// NewSimulator creates a Simulator with no prices and no accounts.
func NewSimulator() *Simulator {
	return &Simulator{
		prices:   make(map[string]decimal.Decimal),
		accounts: make(map[int64]*domain.Account),
		applied:  make(map[string]bool),
	}
}

// SetPrice sets the price returned for symbol.
func (s *Simulator) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[domain.NormalizeSymbol(symbol)] = price
}

// OpenAccount creates or resets an account with the given balance.
func (s *Simulator) OpenAccount(id int64, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[id] = &domain.Account{ID: id, Balance: balance}
}

// FailPrices makes every price lookup return err. nil restores normal
// behaviour.
func (s *Simulator) FailPrices(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceErr = err
}

// FailLedger makes every adjustment return err. nil restores normal
// behaviour.
func (s *Simulator) FailLedger(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgerErr = err
}

// InjectConflicts makes the next n adjustments fail with domain.ErrConflict
// as if a concurrent writer bumped the account version.
func (s *Simulator) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

// Calls returns the adjustments applied so far.
func (s *Simulator) Calls() []LedgerCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LedgerCall(nil), s.calls...)
}

// Attempts returns how many times Adjust was called, including rejected and
// deduplicated calls.
func (s *Simulator) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Lookups returns how many times Price was called.
func (s *Simulator) Lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

// Price returns the configured price for symbol.
func (s *Simulator) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.priceErr != nil {
		return decimal.Zero, s.priceErr
	}
	symbol = domain.NormalizeSymbol(symbol)
	p, ok := s.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("quote %s: %w", symbol, domain.ErrNotFound)
	}
	return p, nil
}

// Adjust applies amount to the account balance once per reason.
func (s *Simulator) Adjust(ctx context.Context, accountID int64, amount decimal.Decimal, reason string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.ledgerErr != nil {
		return nil, s.ledgerErr
	}
	if s.conflicts > 0 {
		s.conflicts--
		return nil, fmt.Errorf("account %d: %w", accountID, domain.ErrConflict)
	}

	acct := s.account(accountID)
	if reason != "" && s.applied[reason] {
		cp := *acct
		return &cp, nil
	}
	acct.Balance = acct.Balance.Add(amount)
	acct.Version++
	if reason != "" {
		s.applied[reason] = true
	}
	s.calls = append(s.calls, LedgerCall{AccountID: accountID, Amount: amount, Reason: reason})
	cp := *acct
	return &cp, nil
}

// Account returns the account state, opening it if unseen.
func (s *Simulator) Account(ctx context.Context, accountID int64) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.account(accountID)
	return &cp, nil
}

func (s *Simulator) account(id int64) *domain.Account {
	acct, ok := s.accounts[id]
	if !ok {
		acct = &domain.Account{ID: id}
		s.accounts[id] = acct
	}
	return acct
}
