package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"daytrader/internal/broker"
	"daytrader/internal/domain"
	"daytrader/internal/store"
	"daytrader/internal/util"
)

const (
	recentOrderCount = 5
	topHoldingCount  = 5
)

// Holding aggregates an account's positions in one symbol.
type Holding struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	CostBasis   decimal.Decimal `json:"costBasis"`
	Price       decimal.Decimal `json:"price"`
	MarketValue decimal.Decimal `json:"marketValue"`
	Gain        decimal.Decimal `json:"gain"`
}

// PortfolioSummary is an account's cash, holdings, and recent activity.
type PortfolioSummary struct {
	AccountID     int64           `json:"accountId"`
	Cash          decimal.Decimal `json:"cashBalance"`
	HoldingsValue decimal.Decimal `json:"holdingsValue"`
	CostBasis     decimal.Decimal `json:"costBasis"`
	TotalValue    decimal.Decimal `json:"totalValue"`
	TotalGain     decimal.Decimal `json:"totalGain"`
	GainPercent   decimal.Decimal `json:"gainPercent"`
	HoldingsCount int             `json:"holdingsCount"`
	RecentOrders  []domain.Order  `json:"recentOrders"`
	TopHoldings   []Holding       `json:"topHoldings"`
}

// Portfolio computes account summaries from stored positions, the latest
// quotes, and the ledger balance.
type Portfolio struct {
	orders    store.OrderStore
	positions store.PositionStore
	quotes    store.QuoteStore
	ledger    broker.Ledger
}

// NewPortfolio creates a Portfolio.
func NewPortfolio(orders store.OrderStore, positions store.PositionStore, quotes store.QuoteStore, ledger broker.Ledger) *Portfolio {
	return &Portfolio{orders: orders, positions: positions, quotes: quotes, ledger: ledger}
}

// Summary values every position at its symbol's current quote, or at cost
// when the symbol has no quote.
func (p *Portfolio) Summary(ctx context.Context, accountID int64) (*PortfolioSummary, error) {
	acct, err := p.ledger.Account(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("portfolio %d: %w", accountID, err)
	}
	positions, err := p.positions.ListPositions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("portfolio %d positions: %w", accountID, err)
	}

	bySymbol := make(map[string]*Holding)
	prices := make(map[string]decimal.NullDecimal)
	for _, pos := range positions {
		price, ok := prices[pos.Symbol]
		if !ok {
			q, err := p.quotes.GetQuote(ctx, pos.Symbol)
			switch {
			case err == nil:
				price = decimal.NewNullDecimal(q.Price)
			case errors.Is(err, domain.ErrNotFound):
			default:
				return nil, fmt.Errorf("portfolio %d quote %s: %w", accountID, pos.Symbol, err)
			}
			prices[pos.Symbol] = price
		}

		h, ok := bySymbol[pos.Symbol]
		if !ok {
			h = &Holding{Symbol: pos.Symbol}
			bySymbol[pos.Symbol] = h
		}
		cost := pos.CostBasis()
		value := cost
		if price.Valid {
			value = pos.Quantity.Mul(price.Decimal)
		}
		h.Quantity = h.Quantity.Add(pos.Quantity)
		h.CostBasis = h.CostBasis.Add(cost)
		h.MarketValue = h.MarketValue.Add(value)
	}

	sum := &PortfolioSummary{
		AccountID:     accountID,
		Cash:          acct.Balance,
		HoldingsCount: len(positions),
	}
	holdings := make([]Holding, 0, len(bySymbol))
	for sym, h := range bySymbol {
		if pr := prices[sym]; pr.Valid {
			h.Price = pr.Decimal
		} else if h.Quantity.IsPositive() {
			h.Price = h.CostBasis.Div(h.Quantity)
		}
		h.MarketValue = domain.RoundCurrency(h.MarketValue)
		h.CostBasis = domain.RoundCurrency(h.CostBasis)
		h.Gain = h.MarketValue.Sub(h.CostBasis)
		sum.HoldingsValue = sum.HoldingsValue.Add(h.MarketValue)
		sum.CostBasis = sum.CostBasis.Add(h.CostBasis)
		holdings = append(holdings, *h)
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Symbol < holdings[j].Symbol })

	sum.TotalValue = sum.Cash.Add(sum.HoldingsValue)
	sum.TotalGain = sum.HoldingsValue.Sub(sum.CostBasis)
	if sum.CostBasis.IsPositive() {
		sum.GainPercent = sum.TotalGain.Div(sum.CostBasis).Round(4).Mul(decimal.NewFromInt(100))
	}
	sum.TopHoldings = util.TopN(holdings, topHoldingCount, func(a, b Holding) bool {
		return a.MarketValue.LessThan(b.MarketValue)
	})

	orders, err := p.orders.ListOrders(ctx, accountID, "")
	if err != nil {
		return nil, fmt.Errorf("portfolio %d orders: %w", accountID, err)
	}
	if len(orders) > recentOrderCount {
		orders = orders[:recentOrderCount]
	}
	sum.RecentOrders = orders
	return sum, nil
}
