package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"daytrader/internal/api"
	"daytrader/internal/app"
	"daytrader/internal/bus"
	"daytrader/internal/config"
	"daytrader/internal/events"
	"daytrader/internal/httpapi"
	"daytrader/internal/live"
	"daytrader/internal/util"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	feed := live.NewFeed(cfg.Market.FeedWindow)
	hub := api.NewHub(feed, logger, cfg.Server.AllowedOrigins...)
	rest := httpapi.NewServer(
		svc.OrderService(),
		svc.Market,
		svc.Portfolio(),
		util.NewRateLimiter(cfg.Server.OrdersPerMinute, cfg.Server.OrderBurst),
		logger,
	).WithWebSocket(hub).WithTopMovers(cfg.Market.TopMovers)
	srv := api.NewServer(cfg.Server.HTTPAddr(), cfg.Server.GRPCAddr(), rest.Handler(), logger,
		live.NewRelayServer(feed, logger))

	logger.Info("daytrader-server starting",
		"http", cfg.Server.HTTPAddr(),
		"grpc", cfg.Server.GRPCAddr(),
		"store", cfg.Storage.Driver,
		"bus", cfg.Bus.Driver,
		"prices", cfg.Trading.PriceSource,
		"workers", cfg.Trading.Workers,
	)

	// Each server process needs every event, so its feed reads under a
	// group of its own, dropped again on the way out.
	feedGroup := "feed-" + uuid.NewString()
	feedChannels := []string{events.ChannelOrders, events.ChannelQuotes}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return feed.Pump(gctx, svc.Bus, feedGroup, logger, feedChannels...)
	})
	g.Go(func() error { return svc.Pool().Run(gctx) })
	g.Go(func() error {
		svc.Journal.Run(gctx, cfg.Trading.JournalFlush)
		return nil
	})
	g.Go(func() error {
		svc.Sweeper().Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	err = g.Wait()
	rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if rerr := bus.RemoveGroup(rctx, svc.Bus, feedGroup, feedChannels...); rerr != nil {
		logger.Warn("removing feed group", "group", feedGroup, "error", rerr)
	}
	cancel()
	if err != nil && ctx.Err() == nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("daytrader-server stopped")
}
