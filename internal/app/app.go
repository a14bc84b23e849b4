// Package app assembles the stores, bus, remote clients, and saga
// components described by a Config. The server and worker binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"daytrader/internal/broker"
	"daytrader/internal/bus"
	"daytrader/internal/config"
	"daytrader/internal/engine"
	"daytrader/internal/events"
	"daytrader/internal/market"
	"daytrader/internal/store"
	"daytrader/internal/util"
)

// Services holds the components built from one Config.
type Services struct {
	Config       *config.Config
	Store        store.Store
	Bus          bus.Bus
	Producer     *events.Producer
	Journal      *engine.Journal
	Market       *market.Service
	Ledger       broker.Ledger
	Prices       broker.PriceSource
	Orchestrator *engine.Orchestrator

	log     *slog.Logger
	closers []func() error
}

// Open builds every shared component. On error, whatever was opened is
// closed again.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *Services, err error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Services{Config: cfg, log: log}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.Store, err = OpenStore(ctx, cfg.Storage); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.Store.Close)

	if s.Bus, err = OpenBus(ctx, cfg.Bus, log); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.Bus.Close)
	s.Producer = events.NewProducer(s.Bus)

	var journal store.JournalStore
	if cfg.Storage.JournalDir != "" {
		journal = store.NewParquetJournal(cfg.Storage.JournalDir)
	}
	s.Journal = engine.NewJournal(journal, log.With("component", "journal"))

	s.Market = market.NewService(s.Store, s.Producer, log)

	var sim *broker.Simulator
	if cfg.Trading.LedgerURL == "" || cfg.Trading.PriceSource == "simulator" {
		sim = broker.NewSimulator()
	}
	s.Ledger = NewLedger(cfg, sim, log)
	if s.Prices, err = NewPriceSource(cfg, s.Market, sim, log); err != nil {
		return nil, err
	}

	s.Orchestrator = engine.NewOrchestrator(
		s.Store, s.Store, s.Prices, s.Ledger, s.Producer, s.Journal,
		engine.Options{
			Compensate:     cfg.Trading.Compensate,
			PublishRetry:   retryPolicy(cfg.Resilience),
			StaleOpenAfter: cfg.Trading.StaleOpenAfter,
			StuckAfter:     cfg.Trading.StuckAfter,
		},
		log,
	)
	return s, nil
}

// Close releases everything Open acquired, newest first.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// OrderService builds order intake over the shared store and producer.
func (s *Services) OrderService() *engine.OrderService {
	return engine.NewOrderService(s.Store, s.Store, s.Producer,
		engine.NewRiskManager(s.Config.Trading.MaxQuantity()), s.Config.Trading.Fee(), s.log)
}

// Portfolio builds the account summary service.
func (s *Services) Portfolio() *engine.Portfolio {
	return engine.NewPortfolio(s.Store, s.Store, s.Store, s.Ledger)
}

// Pool builds the orchestrator worker pool.
func (s *Services) Pool() *engine.Pool {
	return engine.NewPool(s.Bus, s.Orchestrator, s.Config.Bus.Group, s.Config.Trading.Workers, s.Journal, s.log)
}

// Sweeper builds the scheduled stale-order sweeper.
func (s *Services) Sweeper() *engine.Sweeper {
	return engine.NewSweeper(s.Orchestrator, s.Config.Trading.SweepInterval, s.log)
}

// OpenStore opens the configured relational store.
func OpenStore(ctx context.Context, cfg config.Storage) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.PostgresDSN)
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating %s: %w", dir, err)
			}
		}
		return store.NewSQLiteStore(cfg.SQLitePath)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// OpenBus opens the configured event bus.
func OpenBus(ctx context.Context, cfg config.Bus, log *slog.Logger) (bus.Bus, error) {
	switch cfg.Driver {
	case "memory":
		return bus.NewMemoryBus(cfg.Buffer), nil
	case "redis":
		rdb, err := bus.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return bus.NewRedisBus(rdb, redisOptions(cfg), log), nil
	}
	return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
}

func redisOptions(cfg config.Bus) bus.RedisOptions {
	return bus.RedisOptions{MaxLen: cfg.MaxLen}
}

func retryPolicy(r config.Resilience) util.RetryPolicy {
	return util.RetryPolicy{MaxAttempts: r.MaxAttempts, BaseDelay: r.BaseDelay, MaxDelay: r.MaxDelay}
}

func guard(r config.Resilience, name string, timeout time.Duration, log *slog.Logger) broker.Guard {
	return broker.Guard{
		Timeout: timeout,
		Retry:   retryPolicy(r),
		Breaker: util.NewCircuitBreaker(name, r.BreakerThreshold, r.BreakerCooldown, log),
	}
}

// NewLedger returns the guarded HTTP ledger, or sim when no ledger URL is
// configured.
func NewLedger(cfg *config.Config, sim *broker.Simulator, log *slog.Logger) broker.Ledger {
	if cfg.Trading.LedgerURL == "" {
		log.Warn("no ledger_url configured, using the in-process ledger simulator")
		return sim
	}
	return broker.NewGuardedLedger(
		broker.NewHTTPLedger(cfg.Trading.LedgerURL, nil),
		guard(cfg.Resilience, "ledger", cfg.Resilience.LedgerTimeout, log),
	)
}

// NewPriceSource returns the configured guarded price source.
func NewPriceSource(cfg *config.Config, quotes *market.Service, sim *broker.Simulator, log *slog.Logger) (broker.PriceSource, error) {
	var src broker.PriceSource
	switch cfg.Trading.PriceSource {
	case "local":
		src = quotes
	case "http":
		src = broker.NewHTTPPriceSource(cfg.Trading.QuotesURL, nil)
	case "alpaca":
		src = broker.NewAlpacaPriceSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.RateLimitPerMin)
	case "simulator":
		if sim == nil {
			sim = broker.NewSimulator()
		}
		src = sim
	default:
		return nil, fmt.Errorf("unknown price source %q", cfg.Trading.PriceSource)
	}
	return broker.NewGuardedPriceSource(src, guard(cfg.Resilience, "prices", cfg.Resilience.PriceTimeout, log)), nil
}
