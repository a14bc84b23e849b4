// Package domain defines the core types of the trading platform: orders,
// positions, quotes, account snapshots, and saga journal records.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType is the side of an order.
type OrderType string

const (
	OrderTypeBuy  OrderType = "buy"
	OrderTypeSell OrderType = "sell"
)

// ParseOrderType normalises s and returns the matching OrderType.
func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(strings.ToLower(strings.TrimSpace(s))) {
	case OrderTypeBuy:
		return OrderTypeBuy, nil
	case OrderTypeSell:
		return OrderTypeSell, nil
	}
	return "", fmt.Errorf("%w: unknown order type %q", ErrValidation, s)
}

// OrderStatus is a state in the order lifecycle.
type OrderStatus string

const (
	OrderStatusOpen       OrderStatus = "open"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsTerminal reports whether no transition can leave s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusOpen, OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// ParseOrderStatus normalises s and returns the matching OrderStatus. An
// empty string parses to the empty status, which callers treat as "any".
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	if st == "" || st.Valid() {
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown order status %q", ErrValidation, s)
}

// Order is a buy or sell instruction for a quantity of one symbol.
//
// CompletionDate is set if and only if Status is terminal. Price is valid if
// and only if Status is completed. PositionID is only populated for completed
// buy orders. ClaimedAt is when a worker moved the order to processing.
type Order struct {
	ID             int64               `json:"id"`
	Type           OrderType           `json:"orderType"`
	Status         OrderStatus         `json:"orderStatus"`
	AccountID      int64               `json:"accountId"`
	Symbol         string              `json:"symbol"`
	Quantity       decimal.Decimal     `json:"quantity"`
	Price          decimal.NullDecimal `json:"price"`
	Fee            decimal.Decimal     `json:"orderFee"`
	OpenDate       time.Time           `json:"openDate"`
	CompletionDate *time.Time          `json:"completionDate,omitempty"`
	PositionID     *int64              `json:"positionId,omitempty"`
	ClaimedAt      *time.Time          `json:"claimedAt,omitempty"`
	Version        int64               `json:"version"`
}

// Reason returns the ledger reason tag for this order, e.g. ORDER_BUY_42.
func (o *Order) Reason() string {
	return fmt.Sprintf("ORDER_%s_%d", strings.ToUpper(string(o.Type)), o.ID)
}

// Claim moves the order to processing and stamps the claim time.
func (o *Order) Claim(at time.Time) {
	o.Status = OrderStatusProcessing
	o.ClaimedAt = &at
}

// Complete moves the order to completed at the executed price.
func (o *Order) Complete(price decimal.Decimal, at time.Time, positionID *int64) {
	o.Status = OrderStatusCompleted
	o.Price = decimal.NewNullDecimal(price)
	o.CompletionDate = &at
	o.PositionID = positionID
}

// Cancel moves the order to cancelled. Price stays unset.
func (o *Order) Cancel(at time.Time) {
	o.Status = OrderStatusCancelled
	o.Price = decimal.NullDecimal{}
	o.CompletionDate = &at
	o.PositionID = nil
}

// CheckInvariants verifies the status/completionDate/price coupling.
func (o *Order) CheckInvariants() error {
	if o.Status.IsTerminal() != (o.CompletionDate != nil) {
		return fmt.Errorf("order %d: completionDate set=%v with status %s", o.ID, o.CompletionDate != nil, o.Status)
	}
	if (o.Status == OrderStatusCompleted) != o.Price.Valid {
		return fmt.Errorf("order %d: price set=%v with status %s", o.ID, o.Price.Valid, o.Status)
	}
	if o.PositionID != nil && (o.Status != OrderStatusCompleted || o.Type != OrderTypeBuy) {
		return fmt.Errorf("order %d: positionId on %s %s order", o.ID, o.Status, o.Type)
	}
	return nil
}

// NormalizeSymbol trims and upper-cases a ticker symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
