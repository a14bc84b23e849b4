// Package httpapi provides the REST API for order intake, order and position
// queries, quotes, and portfolio summaries.
package httpapi

import (
	"github.com/shopspring/decimal"

	"daytrader/internal/domain"
	"daytrader/internal/engine"
)

// CreateOrderBody is the JSON body of POST /api/orders.
type CreateOrderBody struct {
	AccountID int64               `json:"accountId" binding:"required,gt=0"`
	OrderType string              `json:"orderType" binding:"required"`
	Symbol    string              `json:"symbol" binding:"required"`
	Quantity  decimal.Decimal     `json:"quantity"`
	Price     decimal.NullDecimal `json:"price"`
	OrderFee  decimal.NullDecimal `json:"orderFee"`
}

func (b CreateOrderBody) request() engine.CreateOrderRequest {
	return engine.CreateOrderRequest{
		AccountID: b.AccountID,
		Type:      domain.OrderType(b.OrderType),
		Symbol:    b.Symbol,
		Quantity:  b.Quantity,
		Price:     b.Price,
		Fee:       b.OrderFee,
	}
}

// UpdateQuoteBody is the JSON body of PUT /api/quotes/:symbol.
type UpdateQuoteBody struct {
	Price  decimal.Decimal `json:"price"`
	Volume float64         `json:"volume"`
}

// OrdersResponse wraps an order listing.
type OrdersResponse struct {
	Orders []domain.Order `json:"orders"`
	Count  int            `json:"count"`
}

// PositionsResponse wraps a position listing.
type PositionsResponse struct {
	Positions []domain.Position `json:"positions"`
	Count     int               `json:"count"`
}

// QuotesResponse wraps a quote listing.
type QuotesResponse struct {
	Quotes []domain.Quote `json:"quotes"`
	Count  int            `json:"count"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
