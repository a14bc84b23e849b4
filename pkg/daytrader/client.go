// Package daytrader is a Go SDK for the daytrader-server REST API and its
// WebSocket event stream.
package daytrader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/shopspring/decimal"
)

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daytrader: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// Client provides a Go SDK for interacting with the daytrader-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new daytrader API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func accountQuery(accountID int64) url.Values {
	q := url.Values{}
	if accountID > 0 {
		q.Set("accountId", strconv.FormatInt(accountID, 10))
	}
	return q
}

// PlaceOrder submits a new order. It returns the open order; settlement
// happens asynchronously.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	var o Order
	if err := c.do(ctx, http.MethodPost, "/api/orders", nil, req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrder retrieves an order. accountID 0 skips the ownership check.
func (c *Client) GetOrder(ctx context.Context, id, accountID int64) (*Order, error) {
	var o Order
	if err := c.do(ctx, http.MethodGet, "/api/orders/"+strconv.FormatInt(id, 10), accountQuery(accountID), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrders retrieves an account's orders, newest first. An empty status
// lists all.
func (c *Client) ListOrders(ctx context.Context, accountID int64, status string) ([]Order, error) {
	q := accountQuery(accountID)
	if status != "" {
		q.Set("status", status)
	}
	var resp struct {
		Orders []Order `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/orders", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, id, accountID int64) (*Order, error) {
	var o Order
	path := "/api/orders/" + strconv.FormatInt(id, 10) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, accountQuery(accountID), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// WaitForOrder polls until the order leaves open/processing or ctx is done.
func (c *Client) WaitForOrder(ctx context.Context, id, accountID int64, interval time.Duration) (*Order, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		o, err := c.GetOrder(ctx, id, accountID)
		if err != nil {
			return nil, err
		}
		if o.OrderStatus == "completed" || o.OrderStatus == "cancelled" {
			return o, nil
		}
		select {
		case <-ctx.Done():
			return o, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetPositions retrieves an account's positions, optionally in one symbol.
func (c *Client) GetPositions(ctx context.Context, accountID int64, symbol string) ([]Position, error) {
	q := accountQuery(accountID)
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	var resp struct {
		Positions []Position `json:"positions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/positions", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Positions, nil
}

// GetPosition retrieves one position.
func (c *Client) GetPosition(ctx context.Context, id, accountID int64) (*Position, error) {
	var p Position
	if err := c.do(ctx, http.MethodGet, "/api/positions/"+strconv.FormatInt(id, 10), accountQuery(accountID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetQuote retrieves the latest quote for symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	var q Quote
	if err := c.do(ctx, http.MethodGet, "/api/quotes/"+url.PathEscape(symbol), nil, nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// GetQuotes retrieves every quote.
func (c *Client) GetQuotes(ctx context.Context) ([]Quote, error) {
	var resp struct {
		Quotes []Quote `json:"quotes"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/quotes", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Quotes, nil
}

// UpdateQuote records a trade at price with the given volume.
func (c *Client) UpdateQuote(ctx context.Context, symbol string, price decimal.Decimal, volume float64) (*Quote, error) {
	body := struct {
		Price  decimal.Decimal `json:"price"`
		Volume float64         `json:"volume"`
	}{price, volume}
	var q Quote
	if err := c.do(ctx, http.MethodPut, "/api/quotes/"+url.PathEscape(symbol), nil, body, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// GetMarketSummary retrieves the market overview with top movers (0 uses the
// server default).
func (c *Client) GetMarketSummary(ctx context.Context, top int) (*MarketSummary, error) {
	q := url.Values{}
	if top > 0 {
		q.Set("top", strconv.Itoa(top))
	}
	var s MarketSummary
	if err := c.do(ctx, http.MethodGet, "/api/market/summary", q, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetPortfolio retrieves the account summary.
func (c *Client) GetPortfolio(ctx context.Context, accountID int64) (*Portfolio, error) {
	var p Portfolio
	if err := c.do(ctx, http.MethodGet, "/api/portfolio/"+strconv.FormatInt(accountID, 10), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Watch streams raw encoded events from /api/ws to fn until ctx is done, the
// server closes the stream, or fn returns an error. An empty channel
// receives every channel.
func (c *Client) Watch(ctx context.Context, channel string, fn func(payload []byte) error) error {
	u := strings.Replace(c.baseURL, "http", "ws", 1) + "/api/ws"
	if channel != "" {
		u += "?channel=" + url.QueryEscape(channel)
	}
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", u, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) != -1 {
				return nil
			}
			return fmt.Errorf("reading event: %w", err)
		}
		if err := fn(data); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return err
		}
	}
}
