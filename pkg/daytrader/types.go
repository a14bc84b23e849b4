package daytrader

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order mirrors the server's order representation.
type Order struct {
	ID             int64               `json:"id"`
	OrderType      string              `json:"orderType"`
	OrderStatus    string              `json:"orderStatus"`
	AccountID      int64               `json:"accountId"`
	Symbol         string              `json:"symbol"`
	Quantity       decimal.Decimal     `json:"quantity"`
	Price          decimal.NullDecimal `json:"price"`
	OrderFee       decimal.Decimal     `json:"orderFee"`
	OpenDate       time.Time           `json:"openDate"`
	CompletionDate *time.Time          `json:"completionDate,omitempty"`
	PositionID     *int64              `json:"positionId,omitempty"`
}

// PlaceOrderRequest is the body of an order placement. Price and OrderFee
// are optional.
type PlaceOrderRequest struct {
	AccountID int64               `json:"accountId"`
	OrderType string              `json:"orderType"`
	Symbol    string              `json:"symbol"`
	Quantity  decimal.Decimal     `json:"quantity"`
	Price     decimal.NullDecimal `json:"price"`
	OrderFee  decimal.NullDecimal `json:"orderFee"`
}

// Position is a holding created by a completed buy.
type Position struct {
	ID            int64           `json:"id"`
	AccountID     int64           `json:"accountId"`
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchasePrice"`
	PurchaseDate  time.Time       `json:"purchaseDate"`
	OrderID       int64           `json:"orderId"`
}

// Quote is the latest market data for a symbol.
type Quote struct {
	Symbol      string          `json:"symbol"`
	CompanyName string          `json:"companyName,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Open        decimal.Decimal `json:"openPrice"`
	Low         decimal.Decimal `json:"lowPrice"`
	High        decimal.Decimal `json:"highPrice"`
	Volume      float64         `json:"volume"`
	Change      decimal.Decimal `json:"priceChange"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// MarketSummary is the market overview.
type MarketSummary struct {
	Status               string          `json:"status"`
	MarketOpen           bool            `json:"marketOpen"`
	NextOpen             time.Time       `json:"nextOpen"`
	NextClose            time.Time       `json:"nextClose"`
	QuoteCount           int             `json:"quoteCount"`
	TotalVolume          float64         `json:"totalVolume"`
	AverageChangePercent decimal.Decimal `json:"averageChangePercent"`
	TopGainers           []Quote         `json:"topGainers"`
	TopLosers            []Quote         `json:"topLosers"`
	AsOf                 time.Time       `json:"asOf"`
}

// Holding is an account's aggregate position in one symbol.
type Holding struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	CostBasis   decimal.Decimal `json:"costBasis"`
	Price       decimal.Decimal `json:"price"`
	MarketValue decimal.Decimal `json:"marketValue"`
	Gain        decimal.Decimal `json:"gain"`
}

// Portfolio is an account summary.
type Portfolio struct {
	AccountID     int64           `json:"accountId"`
	CashBalance   decimal.Decimal `json:"cashBalance"`
	HoldingsValue decimal.Decimal `json:"holdingsValue"`
	CostBasis     decimal.Decimal `json:"costBasis"`
	TotalValue    decimal.Decimal `json:"totalValue"`
	TotalGain     decimal.Decimal `json:"totalGain"`
	GainPercent   decimal.Decimal `json:"gainPercent"`
	HoldingsCount int             `json:"holdingsCount"`
	RecentOrders  []Order         `json:"recentOrders"`
	TopHoldings   []Holding       `json:"topHoldings"`
}
