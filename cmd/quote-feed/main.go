package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"daytrader/internal/app"
	"daytrader/internal/broker"
	"daytrader/internal/config"
	"daytrader/internal/events"
	"daytrader/internal/market"
	"daytrader/internal/util"
)

func main() {
	always := flag.Bool("always", false, "poll outside regular market hours")
	symbols := flag.String("symbols", "", "comma-separated symbols (default market.symbols)")
	once := flag.Bool("once", false, "poll once and exit")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if !cfg.Alpaca.Configured() {
		log.Fatal("alpaca credentials are not configured (APCA_API_KEY_ID / APCA_API_SECRET_KEY)")
	}
	syms := cfg.Market.Symbols
	if *symbols != "" {
		syms = strings.Split(*symbols, ",")
	}
	if len(syms) == 0 {
		log.Fatal("no symbols to poll; set market.symbols or -symbols")
	}

	if cfg.Bus.Driver == "memory" {
		logger.Warn("memory bus selected, QuoteUpdated events stay in this process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := app.OpenStore(ctx, cfg.Storage)
	if err != nil {
		logger.Error("opening store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	b, err := app.OpenBus(ctx, cfg.Bus, logger)
	if err != nil {
		logger.Error("opening bus", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	svc := market.NewService(st, events.NewProducer(b), logger)
	src := broker.NewAlpacaPriceSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.RateLimitPerMin)
	poller := market.NewPoller(src, svc, syms, cfg.Market.PollInterval, !*always, logger)

	if *once {
		n, err := poller.PollOnce(ctx)
		if err != nil {
			logger.Error("poll failed", "error", err)
			os.Exit(1)
		}
		logger.Info("poll complete", "applied", n)
		return
	}
	poller.Run(ctx)
}
