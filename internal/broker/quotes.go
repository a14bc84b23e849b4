package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"daytrader/internal/domain"
)

// Compile-time interface check.
var _ PriceSource = (*HTTPPriceSource)(nil)

// HTTPPriceSource reads prices from the quote service's REST API.
type HTTPPriceSource struct {
	http httpClient
}

// NewHTTPPriceSource creates a price source against baseURL. A nil client
// uses a default with a 10s timeout.
func NewHTTPPriceSource(baseURL string, client *http.Client) *HTTPPriceSource {
	return &HTTPPriceSource{http: newHTTPClient(baseURL, client)}
}

type quoteResponse struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Volume      float64         `json:"volume"`
	PriceChange decimal.Decimal `json:"priceChange"`
}

// Price calls GET /quotes/{symbol}.
func (s *HTTPPriceSource) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = domain.NormalizeSymbol(symbol)
	var q quoteResponse
	if err := s.http.do(ctx, http.MethodGet, "/quotes/"+url.PathEscape(symbol), nil, nil, &q); err != nil {
		return decimal.Zero, fmt.Errorf("price for %s: %w", symbol, err)
	}
	if !q.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("price for %s: %w: non-positive price %s", symbol, domain.ErrValidation, q.Price)
	}
	return q.Price, nil
}
