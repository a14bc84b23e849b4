package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"daytrader/internal/domain"
)

// Compile-time interface check.
var _ Ledger = (*HTTPLedger)(nil)

// IdempotencyHeader carries the reason tag on ledger mutations so the ledger
// can drop a repeated adjustment.
const IdempotencyHeader = "Idempotency-Key"

// HTTPLedger mutates balances through the account service's REST API. Calls
// are made without end-user credentials on the trusted internal network.
type HTTPLedger struct {
	http httpClient
}

// NewHTTPLedger creates a ledger client against baseURL. A nil client uses a
// default with a 10s timeout.
func NewHTTPLedger(baseURL string, client *http.Client) *HTTPLedger {
	return &HTTPLedger{http: newHTTPClient(baseURL, client)}
}

type balanceRequest struct {
	Amount json.Number `json:"amount"`
	Reason string      `json:"reason"`
}

// Adjust calls PUT /accounts/{id}/balance.
func (l *HTTPLedger) Adjust(ctx context.Context, accountID int64, amount decimal.Decimal, reason string) (*domain.Account, error) {
	body := balanceRequest{
		Amount: json.Number(amount.StringFixed(domain.CurrencyPlaces)),
		Reason: reason,
	}
	h := http.Header{}
	h.Set(IdempotencyHeader, reason)

	var acct domain.Account
	path := "/accounts/" + strconv.FormatInt(accountID, 10) + "/balance"
	if err := l.http.do(ctx, http.MethodPut, path, h, body, &acct); err != nil {
		return nil, fmt.Errorf("adjusting account %d by %s: %w", accountID, body.Amount, err)
	}
	return &acct, nil
}

// Account calls GET /accounts/{id}.
func (l *HTTPLedger) Account(ctx context.Context, accountID int64) (*domain.Account, error) {
	var acct domain.Account
	if err := l.http.do(ctx, http.MethodGet, "/accounts/"+strconv.FormatInt(accountID, 10), nil, nil, &acct); err != nil {
		return nil, fmt.Errorf("getting account %d: %w", accountID, err)
	}
	return &acct, nil
}
