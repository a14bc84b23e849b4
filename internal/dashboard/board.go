// Package dashboard folds the live event window into the order and quote
// tables shown by the console client.
package dashboard

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"daytrader/internal/domain"
	"daytrader/internal/events"
	"daytrader/internal/live"
)

// OrderRow is the latest known state of one order.
type OrderRow struct {
	OrderID   int64
	Type      domain.OrderType
	Status    domain.OrderStatus
	AccountID int64
	Symbol    string
	Quantity  decimal.Decimal
	Price     decimal.Decimal // settlement price; zero until completed
	Fee       decimal.Decimal
	Updated   time.Time
}

// Total returns the settled cash amount: quantity * price, plus the fee for
// a buy and minus it for a sell. It is zero until the order completes.
func (r OrderRow) Total() decimal.Decimal {
	if r.Status != domain.OrderStatusCompleted {
		return decimal.Zero
	}
	gross := r.Quantity.Mul(r.Price)
	if r.Type == domain.OrderTypeSell {
		return gross.Sub(r.Fee).Round(2)
	}
	return gross.Add(r.Fee).Round(2)
}

// QuoteRow is the latest price seen for one symbol.
type QuoteRow struct {
	Symbol      string
	Price       decimal.Decimal
	PriceChange decimal.Decimal
	Volume      float64
	Updates     int
	Updated     time.Time
}

// ChangePercent returns the last move relative to the previous price, half
// up to two places.
func (r QuoteRow) ChangePercent() decimal.Decimal {
	prev := r.Price.Sub(r.PriceChange)
	if !prev.IsPositive() {
		return decimal.Zero
	}
	return r.PriceChange.Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
}

// Board is the aggregated view of a feed window.
type Board struct {
	Orders    []OrderRow // most recently updated first
	Quotes    []QuoteRow
	Created   int
	Completed int
	Skipped   int // undecodable payloads
	LatestAt  time.Time
}

// Quote sort modes.
const (
	SortSymbol    = 0 // alphabetical
	SortChange    = 1 // by percent change (desc)
	SortVolume    = 2 // by volume (desc)
	SortActivity  = 3 // by update count (desc)
	SortModeCount = 4
)

// SortModeLabel returns a short label for the given sort mode.
func SortModeLabel(mode int) string {
	switch mode {
	case SortSymbol:
		return "SYM"
	case SortChange:
		return "CHG"
	case SortVolume:
		return "VOL"
	case SortActivity:
		return "UPD"
	default:
		return "?"
	}
}

// ComputeBoard folds events, oldest first, into a Board with quotes sorted
// by mode.
func ComputeBoard(evs []live.FeedEvent, mode int) Board {
	var b Board
	orders := make(map[int64]*OrderRow)
	quotes := make(map[string]*QuoteRow)

	for _, fe := range evs {
		ev, err := events.Decode(fe.Payload)
		if err != nil {
			b.Skipped++
			continue
		}
		if fe.Time.After(b.LatestAt) {
			b.LatestAt = fe.Time
		}
		switch e := ev.(type) {
		case *events.OrderCreated:
			b.Created++
			row, ok := orders[e.OrderID]
			if !ok {
				row = &OrderRow{OrderID: e.OrderID, Status: domain.OrderStatusOpen}
				orders[e.OrderID] = row
			}
			// A re-published create must not roll back a completion.
			if row.Status != domain.OrderStatusCompleted {
				row.Type, row.AccountID, row.Symbol, row.Quantity = e.OrderType, e.AccountID, e.Symbol, e.Quantity
				row.Updated = e.EventTime
			}
		case *events.OrderCompleted:
			b.Completed++
			orders[e.OrderID] = &OrderRow{
				OrderID:   e.OrderID,
				Type:      e.OrderType,
				Status:    domain.OrderStatusCompleted,
				AccountID: e.AccountID,
				Symbol:    e.Symbol,
				Quantity:  e.Quantity,
				Price:     e.Price,
				Fee:       e.Fee,
				Updated:   e.EventTime,
			}
		case *events.QuoteUpdated:
			row, ok := quotes[e.Symbol]
			if !ok {
				row = &QuoteRow{Symbol: e.Symbol}
				quotes[e.Symbol] = row
			}
			row.Price, row.PriceChange, row.Volume = e.Price, e.PriceChange, e.Volume
			row.Updates++
			row.Updated = e.EventTime
		}
	}

	b.Orders = make([]OrderRow, 0, len(orders))
	for _, r := range orders {
		b.Orders = append(b.Orders, *r)
	}
	sort.Slice(b.Orders, func(i, j int) bool {
		if !b.Orders[i].Updated.Equal(b.Orders[j].Updated) {
			return b.Orders[i].Updated.After(b.Orders[j].Updated)
		}
		return b.Orders[i].OrderID > b.Orders[j].OrderID
	})

	b.Quotes = make([]QuoteRow, 0, len(quotes))
	for _, r := range quotes {
		b.Quotes = append(b.Quotes, *r)
	}
	SortQuotes(b.Quotes, mode)
	return b
}

// SortQuotes re-sorts rows without recomputing the board. Used when toggling
// sort mode.
func SortQuotes(rows []QuoteRow, mode int) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch mode {
		case SortChange:
			if c := a.ChangePercent().Cmp(b.ChangePercent()); c != 0 {
				return c > 0
			}
		case SortVolume:
			if a.Volume != b.Volume {
				return a.Volume > b.Volume
			}
		case SortActivity:
			if a.Updates != b.Updates {
				return a.Updates > b.Updates
			}
		}
		return a.Symbol < b.Symbol
	})
}
