// Command daytrader-worker runs the order saga without the HTTP surface:
// the orchestrator pool, the stale-order sweeper, and the journal flusher.
// Several workers can share one Redis bus; the consumer group spreads
// orders across them.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"daytrader/internal/app"
	"daytrader/internal/config"
	"daytrader/internal/util"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if cfg.Bus.Driver == "memory" {
		logger.Warn("memory bus selected, this worker only sees orders it publishes itself")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	logger.Info("daytrader-worker starting",
		"group", cfg.Bus.Group,
		"workers", cfg.Trading.Workers,
		"compensate", cfg.Trading.Compensate,
		"sweepInterval", cfg.Trading.SweepInterval,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Pool().Run(gctx) })
	g.Go(func() error {
		svc.Journal.Run(gctx, cfg.Trading.JournalFlush)
		return nil
	})
	g.Go(func() error {
		svc.Sweeper().Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("daytrader-worker stopped")
}
