package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"daytrader/internal/broker"
	"daytrader/internal/config"
	"daytrader/internal/domain"
	"daytrader/internal/engine"
	"daytrader/internal/events"
	"daytrader/internal/util"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Storage.SQLitePath = filepath.Join(dir, "db", "daytrader.db")
	cfg.Storage.JournalDir = dir
	cfg.Resilience.BaseDelay = time.Millisecond
	cfg.Resilience.MaxDelay = time.Millisecond
	return cfg
}

func TestOpenLocalStack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := testConfig(t)

	s, err := Open(ctx, cfg, util.Discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	sim, ok := s.Ledger.(*broker.Simulator)
	if !ok {
		t.Fatalf("Ledger = %T, want the simulator", s.Ledger)
	}
	sim.OpenAccount(1, decimal.NewFromInt(5000))

	// Quotes written through the market service price the saga.
	if _, err := s.Market.UpdatePrice(ctx, "AAPL", decimal.NewFromInt(100), 1); err != nil {
		t.Fatalf("UpdatePrice: %v", err)
	}

	poolCtx, stopPool := context.WithCancel(ctx)
	poolDone := make(chan error, 1)
	go func() { poolDone <- s.Pool().Run(poolCtx) }()

	// The pool's subscription may race the first publish; the sweeper-style
	// republish below covers it.
	time.Sleep(50 * time.Millisecond)
	order, err := s.OrderService().CreateOrder(ctx, engine.CreateOrderRequest{
		AccountID: 1, Type: domain.OrderTypeBuy, Symbol: "AAPL", Quantity: decimal.NewFromInt(2),
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := s.Store.GetOrder(ctx, order.ID)
		if err != nil {
			t.Fatalf("GetOrder: %v", err)
		}
		if got.Status == domain.OrderStatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("order status = %s, want completed", got.Status)
		}
		if got.Status == domain.OrderStatusOpen {
			s.Producer.Emit(ctx, events.NewOrderCreated(got, decimal.NullDecimal{}, time.Now()))
		}
		time.Sleep(20 * time.Millisecond)
	}
	stopPool()
	<-poolDone

	// 2 * 100 + 9.95
	acct, _ := sim.Account(ctx, 1)
	if !acct.Balance.Equal(decimal.RequireFromString("4790.05")) {
		t.Errorf("balance = %s, want 4790.05", acct.Balance)
	}

	sum, err := s.Portfolio().Summary(ctx, 1)
	if err != nil || sum.HoldingsCount != 1 {
		t.Errorf("Summary = %+v, %v", sum, err)
	}

	if err := s.Journal.Flush(ctx); err != nil {
		t.Errorf("Flush: %v", err)
	}
}

func TestNewPriceSourceHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Trading.PriceSource = "http"
	cfg.Trading.QuotesURL = srv.URL
	src, err := NewPriceSource(cfg, nil, nil, util.Discard())
	if err != nil {
		t.Fatalf("NewPriceSource: %v", err)
	}
	if _, err := src.Price(context.Background(), "NONE"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Price err = %v, want not found", err)
	}

	cfg.Trading.PriceSource = "carrier-pigeon"
	if _, err := NewPriceSource(cfg, nil, nil, util.Discard()); err == nil {
		t.Error("unknown price source accepted")
	}
}

func TestRedisOptionsCarryMaxLen(t *testing.T) {
	cfg := config.Default()
	if got := redisOptions(cfg.Bus); got.MaxLen != cfg.Bus.MaxLen || got.MaxLen == 0 {
		t.Errorf("redisOptions MaxLen = %d, want %d", got.MaxLen, cfg.Bus.MaxLen)
	}
}

func TestOpenRejectsUnknownDrivers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Driver = "carrier-pigeon"
	if _, err := Open(context.Background(), cfg, util.Discard()); err == nil {
		t.Error("Open accepted an unknown bus driver")
	}
	if _, err := OpenStore(context.Background(), config.Storage{Driver: "mysql"}); err == nil {
		t.Error("OpenStore accepted an unknown driver")
	}
}
