// Package internal wires the gateway, ledger, engine and strategy into a
// single trading instance for one product.
package internal

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chesswiz16/trader/config"
	"github.com/chesswiz16/trader/internal/domain"
	"github.com/chesswiz16/trader/internal/exchange"
	"github.com/chesswiz16/trader/internal/metrics"
	"github.com/chesswiz16/trader/internal/services/engine"
	"github.com/chesswiz16/trader/internal/services/ledger"
	"github.com/chesswiz16/trader/internal/services/strategy/costbasis"
)

// Bot runs one product's trading loop: a single goroutine consumes the
// event stream and drives every ledger and strategy mutation, so the
// engine never needs locks.
type Bot struct {
	engine   *engine.Engine
	strategy *costbasis.CostBasis
	feed     exchange.Feed
	metrics  *metrics.Metrics
	product  domain.Product
	logger   *zap.Logger
}

// NewBot resolves the product on the exchange and assembles the engine
// stack. A product that is missing or not online is fatal.
func NewBot(cfg config.Config, logger *zap.Logger, client exchange.Client, feed exchange.Feed,
	journal engine.Journal, m *metrics.Metrics) (*Bot, error) {

	products, err := client.GetProducts(context.Background())
	if err != nil {
		return nil, errors.Wrap(err, "query products")
	}

	var product domain.Product
	found := false
	for _, p := range products {
		if p.ID == cfg.ProductID && p.Status == "online" {
			product = p
			found = true
			break
		}
	}
	if !found {
		return nil, errors.Wrapf(domain.ErrProductDefinition, "%s", cfg.ProductID)
	}
	if err := product.Validate(); err != nil {
		return nil, errors.Wrap(err, "product definition")
	}

	led := ledger.New(logger, client, product)
	eng := engine.New(logger, client, led, journal, m)
	eng.SetRetries(cfg.Retries)
	eng.SetSpread(cfg.Spread)

	strat, err := costbasis.New(logger, eng, product, cfg.OrderDepth, cfg.WalletFraction, cfg.Delta, m)
	if err != nil {
		return nil, errors.Wrap(err, "build strategy")
	}
	eng.SetHooks(strat)

	return &Bot{
		engine:   eng,
		strategy: strat,
		feed:     feed,
		metrics:  m,
		product:  product,
		logger:   logger,
	}, nil
}

// Run syncs state from the exchange, recovers or seeds the strategy, then
// processes the event stream until the context ends or fill accounting
// becomes unsafe. An ErrOrderFill on a live stream is returned to the
// caller: continuing after a fill accounting error risks real money, so
// the process is expected to exit.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.engine.Resync(ctx, "startup"); err != nil {
		return errors.Wrap(err, "initial sync")
	}
	if err := b.strategy.OnStart(ctx); err != nil {
		return errors.Wrap(err, "strategy start")
	}

	b.logger.Info("trading",
		zap.String("product", b.product.ID),
		zap.String("state", b.strategy.State()),
		zap.Int("depth", b.strategy.Depth()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.feed.Run(ctx)
	})
	g.Go(func() error {
		return b.processEvents(ctx)
	})
	return g.Wait()
}

func (b *Bot) processEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-b.feed.Events():
			if !ok {
				return errors.New("event stream closed")
			}

			if err := b.engine.HandleEvent(ctx, ev); err != nil {
				if errors.Is(err, domain.ErrOrderFill) {
					return errors.Wrap(err, "fill accounting unsafe, shutting down")
				}
				// placement failures leave the strategy flat but inert;
				// operator intervention beats compounding a bad bracket
				b.logger.Error("event handling failed", zap.Error(err))
			}
			b.publishBalances()
		}
	}
}

func (b *Bot) publishBalances() {
	b.metrics.Balance(b.product.BaseCurrency, b.engine.GetBalance(b.product.BaseCurrency))
	b.metrics.Balance(b.product.QuoteCurrency, b.engine.GetBalance(b.product.QuoteCurrency))
}
