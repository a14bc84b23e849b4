package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"daytrader/internal/domain"
	"daytrader/internal/util"
)

func TestHTTPPriceSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quotes/AAPL":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"symbol":"AAPL","price":175.50,"volume":1200,"priceChange":1.25}`))
		case "/quotes/BUSY":
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewHTTPPriceSource(srv.URL+"/", nil)
	ctx := context.Background()

	p, err := src.Price(ctx, " aapl ")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !p.Equal(decimal.RequireFromString("175.50")) {
		t.Errorf("Price = %s, want 175.50", p)
	}

	if _, err := src.Price(ctx, "NOPE"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown symbol err = %v, want ErrNotFound", err)
	}
	if _, err := src.Price(ctx, "BUSY"); !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("503 err = %v, want ErrUnavailable", err)
	}
}

func TestHTTPLedgerAdjust(t *testing.T) {
	var gotBody map[string]json.RawMessage
	var gotKey, gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		gotKey = r.Header.Get(IdempotencyHeader)
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"id":7,"balance":"8235.05","version":3}`))
	}))
	defer srv.Close()

	l := NewHTTPLedger(srv.URL, nil)
	acct, err := l.Adjust(context.Background(), 7, decimal.RequireFromString("-1764.95"), "ORDER_BUY_42")
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/accounts/7/balance" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if gotKey != "ORDER_BUY_42" {
		t.Errorf("%s = %q", IdempotencyHeader, gotKey)
	}
	if string(gotBody["amount"]) != "-1764.95" {
		t.Errorf("amount = %s, want -1764.95 as a JSON number", gotBody["amount"])
	}
	if string(gotBody["reason"]) != `"ORDER_BUY_42"` {
		t.Errorf("reason = %s", gotBody["reason"])
	}
	if acct.ID != 7 || !acct.Balance.Equal(decimal.RequireFromString("8235.05")) || acct.Version != 3 {
		t.Errorf("account = %+v", acct)
	}
}

func TestHTTPLedgerConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "stale version", http.StatusConflict)
	}))
	defer srv.Close()

	_, err := NewHTTPLedger(srv.URL, nil).Adjust(context.Background(), 1, decimal.NewFromInt(5), "ORDER_SELL_1")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if !domain.IsTransient(err) {
		t.Error("conflict should be transient")
	}
}

func TestSimulatorDeduplicatesByReason(t *testing.T) {
	sim := NewSimulator()
	sim.OpenAccount(1, decimal.NewFromInt(10000))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := sim.Adjust(ctx, 1, decimal.RequireFromString("-1764.95"), "ORDER_BUY_1"); err != nil {
			t.Fatalf("Adjust #%d: %v", i, err)
		}
	}
	acct, _ := sim.Account(ctx, 1)
	if !acct.Balance.Equal(decimal.RequireFromString("8235.05")) {
		t.Errorf("balance = %s, want 8235.05", acct.Balance)
	}
	if n := len(sim.Calls()); n != 1 {
		t.Errorf("applied calls = %d, want 1", n)
	}
	if sim.Attempts() != 2 {
		t.Errorf("attempts = %d, want 2", sim.Attempts())
	}
}

func TestSimulatorUnknownSymbol(t *testing.T) {
	sim := NewSimulator()
	if _, err := sim.Price(context.Background(), "ZZZZ"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGuardedLedgerRetriesConflicts(t *testing.T) {
	sim := NewSimulator()
	sim.InjectConflicts(2)
	l := NewGuardedLedger(sim, Guard{
		Timeout: time.Second,
		Retry:   util.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
	})

	acct, err := l.Adjust(context.Background(), 1, decimal.NewFromInt(100), "ORDER_SELL_9")
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if !acct.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance = %s, want 100", acct.Balance)
	}
	if sim.Attempts() != 3 {
		t.Errorf("attempts = %d, want 3", sim.Attempts())
	}
}

func TestGuardedPriceSourceDoesNotRetryNotFound(t *testing.T) {
	sim := NewSimulator()
	src := NewGuardedPriceSource(sim, Guard{Retry: util.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}})
	if _, err := src.Price(context.Background(), "NONE"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if sim.Lookups() != 1 {
		t.Errorf("lookups = %d, want 1", sim.Lookups())
	}
}

func TestGuardBreakerOpens(t *testing.T) {
	sim := NewSimulator()
	sim.FailPrices(domain.ErrUnavailable)
	breaker := util.NewCircuitBreaker("quotes", 2, time.Minute, nil)
	src := NewGuardedPriceSource(sim, Guard{
		Retry:   util.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond},
		Breaker: breaker,
	})

	_, err := src.Price(context.Background(), "AAPL")
	if !errors.Is(err, util.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if sim.Lookups() != 2 {
		t.Errorf("lookups = %d, want 2 before the breaker opened", sim.Lookups())
	}
}

func TestGuardBreakerIgnoresConflicts(t *testing.T) {
	sim := NewSimulator()
	sim.InjectConflicts(3)
	breaker := util.NewCircuitBreaker("ledger", 1, time.Minute, nil)
	l := NewGuardedLedger(sim, Guard{
		Retry:   util.RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond},
		Breaker: breaker,
	})

	if _, err := l.Adjust(context.Background(), 1, decimal.NewFromInt(100), "ORDER_SELL_3"); err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if sim.Attempts() != 4 {
		t.Errorf("attempts = %d, want 4", sim.Attempts())
	}
	if breaker.State() != util.BreakerClosed {
		t.Errorf("breaker = %s after conflicts, want closed", breaker.State())
	}
}

func TestGuardTimeoutIsTransient(t *testing.T) {
	calls := 0
	g := Guard{Timeout: 5 * time.Millisecond, Retry: util.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}}
	err := g.Run(context.Background(), func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestSnapshotQuote(t *testing.T) {
	day := time.Date(2024, 3, 4, 21, 0, 0, 0, time.UTC)
	tradeAt := day.Add(-time.Minute)

	q, ok := snapshotQuote("AAPL", &marketdata.Snapshot{
		DailyBar:    &marketdata.Bar{Timestamp: day, Open: 170, High: 176, Low: 169.5, Close: 175, Volume: 1200},
		LatestTrade: &marketdata.Trade{Timestamp: tradeAt, Price: 175.25},
	})
	if !ok {
		t.Fatal("snapshot rejected")
	}
	if !q.Price.Equal(decimal.RequireFromString("175.25")) || !q.OpenPrice.Equal(decimal.NewFromInt(170)) {
		t.Errorf("prices = %s open %s", q.Price, q.OpenPrice)
	}
	if q.Volume != 1200 || !q.UpdatedAt.Equal(tradeAt) {
		t.Errorf("volume %v updated %v", q.Volume, q.UpdatedAt)
	}

	q, ok = snapshotQuote("MSFT", &marketdata.Snapshot{DailyBar: &marketdata.Bar{Timestamp: day, Close: 410}})
	if !ok || !q.Price.Equal(decimal.NewFromInt(410)) || !q.OpenPrice.Equal(q.Price) {
		t.Errorf("close fallback = %+v, %v", q, ok)
	}

	if _, ok := snapshotQuote("NONE", nil); ok {
		t.Error("nil snapshot accepted")
	}
	if _, ok := snapshotQuote("NONE", &marketdata.Snapshot{}); ok {
		t.Error("empty snapshot accepted")
	}
}
