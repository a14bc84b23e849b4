// Package events defines the facts exchanged over the event bus: order
// lifecycle events on the orders channel and quote events on the quotes
// channel.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"daytrader/internal/domain"
)

// Logical channel names.
const (
	ChannelOrders = "orders-out"
	ChannelQuotes = "quotes-out"
)

// Kind discriminates event payloads on the wire.
type Kind string

const (
	KindOrderCreated   Kind = "OrderCreated"
	KindOrderCompleted Kind = "OrderCompleted"
	KindQuoteUpdated   Kind = "QuoteUpdated"
)

// Header is embedded in every event. EventTime is when the fact was emitted,
// distinct from any domain timestamp the event reports.
type Header struct {
	Type      Kind      `json:"eventType"`
	ID        string    `json:"eventId"`
	EventTime time.Time `json:"eventTime"`
}

func newHeader(k Kind, now time.Time) Header {
	return Header{Type: k, ID: uuid.NewString(), EventTime: now.UTC()}
}

// Event is any fact that can travel on the bus.
type Event interface {
	EventHeader() Header
	Channel() string
}

// OrderEvent is the closed set of events carried on ChannelOrders:
// *OrderCreated and *OrderCompleted.
type OrderEvent interface {
	Event
	OrderRef() int64
	isOrderEvent()
}

// OrderCreated announces a newly persisted open order. Price is the client's
// optional hint, not an execution price.
type OrderCreated struct {
	Header
	OrderID   int64               `json:"orderId"`
	OrderType domain.OrderType    `json:"orderType"`
	AccountID int64               `json:"accountId"`
	Symbol    string              `json:"symbol"`
	Quantity  decimal.Decimal     `json:"quantity"`
	Price     decimal.NullDecimal `json:"price"`
}

// OrderCompleted announces an order that reached completed.
type OrderCompleted struct {
	Header
	OrderID        int64              `json:"orderId"`
	OrderType      domain.OrderType   `json:"orderType"`
	OrderStatus    domain.OrderStatus `json:"orderStatus"`
	AccountID      int64              `json:"accountId"`
	Symbol         string             `json:"symbol"`
	Quantity       decimal.Decimal    `json:"quantity"`
	Price          decimal.Decimal    `json:"price"`
	Fee            decimal.Decimal    `json:"fee"`
	CompletionDate time.Time          `json:"completionDate"`
	PositionID     *int64             `json:"positionId,omitempty"`
}

// QuoteUpdated announces a new price for a symbol.
type QuoteUpdated struct {
	Header
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	PriceChange decimal.Decimal `json:"priceChange"`
	Volume      float64         `json:"volume"`
}

func (e *OrderCreated) EventHeader() Header   { return e.Header }
func (e *OrderCompleted) EventHeader() Header { return e.Header }
func (e *QuoteUpdated) EventHeader() Header   { return e.Header }

func (e *OrderCreated) Channel() string   { return ChannelOrders }
func (e *OrderCompleted) Channel() string { return ChannelOrders }
func (e *QuoteUpdated) Channel() string   { return ChannelQuotes }

func (e *OrderCreated) OrderRef() int64   { return e.OrderID }
func (e *OrderCompleted) OrderRef() int64 { return e.OrderID }

func (*OrderCreated) isOrderEvent()   {}
func (*OrderCompleted) isOrderEvent() {}

// NewOrderCreated builds the creation event for an open order.
func NewOrderCreated(o *domain.Order, hint decimal.NullDecimal, now time.Time) *OrderCreated {
	return &OrderCreated{
		Header:    newHeader(KindOrderCreated, now),
		OrderID:   o.ID,
		OrderType: o.Type,
		AccountID: o.AccountID,
		Symbol:    o.Symbol,
		Quantity:  o.Quantity,
		Price:     hint,
	}
}

// NewOrderCompleted builds the completion event for a completed order.
func NewOrderCompleted(o *domain.Order, now time.Time) (*OrderCompleted, error) {
	if o.Status != domain.OrderStatusCompleted || !o.Price.Valid || o.CompletionDate == nil {
		return nil, fmt.Errorf("%w: order %d is %s", domain.ErrInvalidState, o.ID, o.Status)
	}
	return &OrderCompleted{
		Header:         newHeader(KindOrderCompleted, now),
		OrderID:        o.ID,
		OrderType:      o.Type,
		OrderStatus:    o.Status,
		AccountID:      o.AccountID,
		Symbol:         o.Symbol,
		Quantity:       o.Quantity,
		Price:          o.Price.Decimal,
		Fee:            o.Fee,
		CompletionDate: o.CompletionDate.UTC(),
		PositionID:     o.PositionID,
	}, nil
}

// NewQuoteUpdated builds the quote event for q.
func NewQuoteUpdated(q *domain.Quote, now time.Time) *QuoteUpdated {
	return &QuoteUpdated{
		Header:      newHeader(KindQuoteUpdated, now),
		Symbol:      q.Symbol,
		Price:       q.Price,
		PriceChange: q.PriceChange,
		Volume:      q.Volume,
	}
}

// ---------------------------------------------------------------------------
// Codec
// ---------------------------------------------------------------------------

// Encode serialises e as JSON with its eventType discriminator.
func Encode(e Event) ([]byte, error) {
	if e.EventHeader().Type == "" {
		return nil, fmt.Errorf("encoding event: missing eventType")
	}
	return json.Marshal(e)
}

// Decode parses any event by its eventType discriminator.
func Decode(data []byte) (Event, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decoding event header: %w", err)
	}
	var e Event
	switch h.Type {
	case KindOrderCreated:
		e = &OrderCreated{}
	case KindOrderCompleted:
		e = &OrderCompleted{}
	case KindQuoteUpdated:
		e = &QuoteUpdated{}
	default:
		return nil, fmt.Errorf("decoding event: unknown eventType %q", h.Type)
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", h.Type, err)
	}
	return e, nil
}

// DecodeOrderEvent parses a payload from ChannelOrders.
func DecodeOrderEvent(data []byte) (OrderEvent, error) {
	e, err := Decode(data)
	if err != nil {
		return nil, err
	}
	oe, ok := e.(OrderEvent)
	if !ok {
		return nil, fmt.Errorf("decoding order event: %s is not an order event", e.EventHeader().Type)
	}
	return oe, nil
}
