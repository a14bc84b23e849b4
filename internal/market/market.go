// Package market owns quotes: it applies price updates, emits QuoteUpdated,
// and answers quote, mover, and market-status queries.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"daytrader/internal/broker"
	"daytrader/internal/domain"
	"daytrader/internal/events"
	"daytrader/internal/store"
	"daytrader/internal/util"
)

// Compile-time interface check.
var _ broker.PriceSource = (*Service)(nil)

// Service is the quote writer and reader.
type Service struct {
	quotes   store.QuoteStore
	producer *events.Producer
	calendar *util.TradingCalendar
	now      func() time.Time
	log      *slog.Logger

	mu sync.Mutex // serialises read-modify-write of quotes
}

// NewService creates a Service. A nil producer disables QuoteUpdated.
func NewService(quotes store.QuoteStore, producer *events.Producer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		quotes:   quotes,
		producer: producer,
		calendar: util.NewTradingCalendar(),
		now:      time.Now,
		log:      log.With("component", "market"),
	}
}

// UpdatePrice records a trade at price, adding volume. The first update for
// a symbol opens its session at that price.
func (s *Service) UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal, volume float64) (*domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", domain.ErrValidation)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", domain.ErrValidation)
	}
	if volume < 0 {
		return nil, fmt.Errorf("%w: volume must not be negative", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.quotes.GetQuote(ctx, symbol)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		q = &domain.Quote{
			Symbol:    symbol,
			Price:     price,
			OpenPrice: price,
			LowPrice:  price,
			HighPrice: price,
		}
	case err != nil:
		return nil, fmt.Errorf("updating %s: %w", symbol, err)
	default:
		q.PriceChange = price.Sub(q.Price)
		q.Price = price
		if price.LessThan(q.LowPrice) || q.LowPrice.IsZero() {
			q.LowPrice = price
		}
		if price.GreaterThan(q.HighPrice) {
			q.HighPrice = price
		}
	}
	q.Volume += volume
	q.UpdatedAt = s.now().UTC()

	return q, s.save(ctx, q)
}

// ApplySnapshot replaces a quote with externally sourced session data. The
// price change is measured against the stored price when there is one.
func (s *Service) ApplySnapshot(ctx context.Context, snap domain.Quote) (*domain.Quote, error) {
	snap.Symbol = domain.NormalizeSymbol(snap.Symbol)
	if snap.Symbol == "" || !snap.Price.IsPositive() {
		return nil, fmt.Errorf("%w: snapshot needs a symbol and a positive price", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.quotes.GetQuote(ctx, snap.Symbol)
	switch {
	case err == nil:
		snap.PriceChange = snap.Price.Sub(prev.Price)
		if snap.CompanyName == "" {
			snap.CompanyName = prev.CompanyName
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("applying snapshot %s: %w", snap.Symbol, err)
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = s.now().UTC()
	}
	return &snap, s.save(ctx, &snap)
}

func (s *Service) save(ctx context.Context, q *domain.Quote) error {
	if err := s.quotes.SaveQuote(ctx, q); err != nil {
		return fmt.Errorf("saving quote %s: %w", q.Symbol, err)
	}
	if s.producer == nil {
		return nil
	}
	if err := s.producer.Emit(ctx, events.NewQuoteUpdated(q, s.now())); err != nil {
		// The quote is stored; readers still see it.
		s.log.Warn("publishing QuoteUpdated failed", "symbol", q.Symbol, "error", err)
	}
	return nil
}

// GetQuote returns the quote for symbol.
func (s *Service) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	return s.quotes.GetQuote(ctx, domain.NormalizeSymbol(symbol))
}

// ListQuotes returns every quote ordered by symbol.
func (s *Service) ListQuotes(ctx context.Context) ([]domain.Quote, error) {
	return s.quotes.ListQuotes(ctx)
}

// Price implements broker.PriceSource from the stored quotes.
func (s *Service) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q, err := s.GetQuote(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Price, nil
}

// TopGainers returns up to n quotes with the largest rise from open.
func (s *Service) TopGainers(ctx context.Context, n int) ([]domain.Quote, error) {
	qs, err := s.quotes.ListQuotes(ctx)
	if err != nil {
		return nil, err
	}
	return gainers(qs, n), nil
}

// TopLosers returns up to n quotes with the largest fall from open.
func (s *Service) TopLosers(ctx context.Context, n int) ([]domain.Quote, error) {
	qs, err := s.quotes.ListQuotes(ctx)
	if err != nil {
		return nil, err
	}
	return losers(qs, n), nil
}

func gainers(qs []domain.Quote, n int) []domain.Quote {
	up := make([]domain.Quote, 0, len(qs))
	for _, q := range qs {
		if q.ChangePercent().IsPositive() {
			up = append(up, q)
		}
	}
	return util.TopN(up, n, func(a, b domain.Quote) bool {
		return a.ChangePercent().LessThan(b.ChangePercent())
	})
}

func losers(qs []domain.Quote, n int) []domain.Quote {
	down := make([]domain.Quote, 0, len(qs))
	for _, q := range qs {
		if q.ChangePercent().IsNegative() {
			down = append(down, q)
		}
	}
	return util.TopN(down, n, func(a, b domain.Quote) bool {
		return a.ChangePercent().GreaterThan(b.ChangePercent())
	})
}

// Summary is a market overview.
type Summary struct {
	Status        string          `json:"status"`
	MarketOpen    bool            `json:"marketOpen"`
	NextOpen      time.Time       `json:"nextOpen"`
	NextClose     time.Time       `json:"nextClose"`
	QuoteCount    int             `json:"quoteCount"`
	TotalVolume   float64         `json:"totalVolume"`
	AverageChange decimal.Decimal `json:"averageChangePercent"`
	TopGainers    []domain.Quote  `json:"topGainers"`
	TopLosers     []domain.Quote  `json:"topLosers"`
	AsOf          time.Time       `json:"asOf"`
}

// Summary reports market status at now plus the top n movers each way.
func (s *Service) Summary(ctx context.Context, now time.Time, n int) (*Summary, error) {
	qs, err := s.quotes.ListQuotes(ctx)
	if err != nil {
		return nil, err
	}
	sum := &Summary{
		MarketOpen: s.calendar.IsMarketOpen(now),
		NextOpen:   s.calendar.NextOpen(now),
		NextClose:  s.calendar.NextClose(now),
		QuoteCount: len(qs),
		TopGainers: gainers(qs, n),
		TopLosers:  losers(qs, n),
		AsOf:       now.UTC(),
	}
	sum.Status = "closed"
	if sum.MarketOpen {
		sum.Status = "open"
	}
	total := decimal.Zero
	for _, q := range qs {
		sum.TotalVolume += q.Volume
		total = total.Add(q.ChangePercent())
	}
	if len(qs) > 0 {
		sum.AverageChange = total.Div(decimal.NewFromInt(int64(len(qs)))).Round(2)
	}
	return sum, nil
}
