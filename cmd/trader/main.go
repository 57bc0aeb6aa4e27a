// Command trader runs the cost-basis trading engine for a single product.
//
// Usage:
//
//	trader --config config.yaml
//	trader --product ETH-USD --orderdepth 5 --walletfraction 0.1 --delta 0.01
//
// Required environment variables:
//
//	COINBASE_API_KEY, COINBASE_API_SECRET, COINBASE_API_PASSPHRASE
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chesswiz16/trader/config"
	"github.com/chesswiz16/trader/internal"
	"github.com/chesswiz16/trader/internal/exchange/coinbase"
	"github.com/chesswiz16/trader/internal/metrics"
	"github.com/chesswiz16/trader/internal/storage/journal"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("product", cfg.ProductID))

	key := os.Getenv("COINBASE_API_KEY")
	secret := os.Getenv("COINBASE_API_SECRET")
	passphrase := os.Getenv("COINBASE_API_PASSPHRASE")
	if key == "" || secret == "" || passphrase == "" {
		logger.Fatal("COINBASE_API_KEY, COINBASE_API_SECRET and COINBASE_API_PASSPHRASE must be set")
	}

	client, err := coinbase.NewClient(logger, cfg.RestURL, key, secret, passphrase)
	if err != nil {
		logger.Fatal("failed to create exchange client", zap.Error(err))
	}
	feed, err := coinbase.NewFeed(logger, cfg.WsURL, cfg.ProductID, key, secret, passphrase)
	if err != nil {
		logger.Fatal("failed to create stream feed", zap.Error(err))
	}

	store, err := journal.NewStore(logger, cfg.JournalDir, cfg.ProductID)
	if err != nil {
		logger.Fatal("failed to open trade journal", zap.Error(err))
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	bot, err := internal.NewBot(cfg, logger, client, feed, store, m)
	if err != nil {
		logger.Fatal("failed to create trading bot", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("trading bot stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
