package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"daytrader/internal/domain"
	"daytrader/internal/util"
)

// Compile-time interface check.
var _ PriceSource = (*AlpacaPriceSource)(nil)

// AlpacaPriceSource prices orders at the latest trade reported by the
// Alpaca market-data API.
type AlpacaPriceSource struct {
	client  *marketdata.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewAlpacaPriceSource creates a price source with the given credentials.
// An empty dataURL uses the Alpaca default. perMinute bounds the request
// rate (0 = unlimited).
func NewAlpacaPriceSource(apiKey, apiSecret, dataURL string, perMinute int) *AlpacaPriceSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaPriceSource{
		client:  marketdata.NewClient(opts),
		limiter: util.NewRateLimiter(perMinute, perMinute/60+1),
		log:     slog.Default().With("component", "alpaca-price"),
	}
}

// Price returns the latest trade price for symbol.
func (s *AlpacaPriceSource) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if err := s.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	// The SDK call is not context-aware; run it aside so a per-call timeout
	// still releases the worker.
	type result struct {
		trade *marketdata.Trade
		err   error
	}
	done := make(chan result, 1)
	go func() {
		t, err := s.client.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
		done <- result{t, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return decimal.Zero, fmt.Errorf("alpaca latest trade %s: %w", symbol, ctx.Err())
	case r = <-done:
	}
	if r.err != nil {
		s.log.Debug("latest trade failed", "symbol", symbol, "error", r.err)
		return decimal.Zero, fmt.Errorf("alpaca latest trade %s: %w", symbol, classifyAlpacaError(r.err))
	}
	if r.trade == nil || r.trade.Price <= 0 {
		return decimal.Zero, fmt.Errorf("alpaca latest trade %s: %w", symbol, domain.ErrNotFound)
	}
	return decimal.NewFromFloat(r.trade.Price), nil
}

func classifyAlpacaError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found"), strings.Contains(msg, "invalid symbol"):
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	case strings.Contains(msg, "429"), strings.Contains(msg, "too many"),
		strings.Contains(msg, "timeout"), strings.Contains(msg, "500"),
		strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return err
}

// Snapshots fetches session data for symbols and maps it to quotes. Symbols
// without a trade or daily bar are skipped.
func (s *AlpacaPriceSource) Snapshots(ctx context.Context, symbols []string) ([]domain.Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	norm := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if sym = domain.NormalizeSymbol(sym); sym != "" {
			norm = append(norm, sym)
		}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	type result struct {
		snaps map[string]*marketdata.Snapshot
		err   error
	}
	done := make(chan result, 1)
	go func() {
		snaps, err := s.client.GetSnapshots(norm, marketdata.GetSnapshotRequest{})
		done <- result{snaps, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("alpaca snapshots: %w", ctx.Err())
	case r = <-done:
	}
	if r.err != nil {
		return nil, fmt.Errorf("alpaca snapshots: %w", classifyAlpacaError(r.err))
	}

	quotes := make([]domain.Quote, 0, len(r.snaps))
	for _, sym := range norm {
		if q, ok := snapshotQuote(sym, r.snaps[sym]); ok {
			quotes = append(quotes, q)
		}
	}
	return quotes, nil
}

// snapshotQuote prices a quote at the latest trade, falling back to the
// daily close, with the session's open/high/low/volume from the daily bar.
func snapshotQuote(symbol string, snap *marketdata.Snapshot) (domain.Quote, bool) {
	if snap == nil {
		return domain.Quote{}, false
	}
	q := domain.Quote{Symbol: symbol}
	if bar := snap.DailyBar; bar != nil {
		q.Price = decimal.NewFromFloat(bar.Close)
		q.OpenPrice = decimal.NewFromFloat(bar.Open)
		q.HighPrice = decimal.NewFromFloat(bar.High)
		q.LowPrice = decimal.NewFromFloat(bar.Low)
		q.Volume = float64(bar.Volume)
		q.UpdatedAt = bar.Timestamp.UTC()
	}
	if t := snap.LatestTrade; t != nil && t.Price > 0 {
		q.Price = decimal.NewFromFloat(t.Price)
		q.UpdatedAt = t.Timestamp.UTC()
	}
	if !q.Price.IsPositive() {
		return domain.Quote{}, false
	}
	if q.OpenPrice.IsZero() {
		q.OpenPrice = q.Price
	}
	return q, true
}
