// Command backtest replays historic candles through the in-memory
// exchange and the real cost-basis strategy, then reports trade count,
// fee drag and the final sell balance.
//
// The candle file is CSV with rows of
//
//	time,low,high,open,close,volume
//
// ordered oldest first; pass --reverse for files exported newest first.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chesswiz16/trader/config"
	"github.com/chesswiz16/trader/internal/domain"
	"github.com/chesswiz16/trader/internal/exchange/simulate"
	"github.com/chesswiz16/trader/internal/metrics"
	"github.com/chesswiz16/trader/internal/services/engine"
	"github.com/chesswiz16/trader/internal/services/ledger"
	"github.com/chesswiz16/trader/internal/services/strategy/costbasis"
)

// takerFee is charged on stop orders, which cross the book when they
// trigger. Post-only limits rest and pay nothing.
var takerFee = decimal.NewFromFloat(0.003)

type candle struct {
	low, high decimal.Decimal
}

func main() {
	candlePath := flag.String("candles", "", "path to the candle CSV file")
	configPath := flag.String("config", "", "optional YAML config for strategy parameters")
	quote := flag.String("quote", "10000", "starting quote balance")
	reverse := flag.Bool("reverse", false, "replay the file newest row first")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if *candlePath == "" {
		logger.Fatal("--candles is required")
	}

	cfg := config.Config{ProductID: "BTC-USD"}
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Fatal("failed to load config", zap.Error(err))
		}
	} else {
		cfg, err = config.ApplyDefaults(cfg)
		if err != nil {
			logger.Fatal("bad config", zap.Error(err))
		}
	}

	startingQuote, err := decimal.NewFromString(*quote)
	if err != nil {
		logger.Fatal("bad --quote value", zap.Error(err))
	}

	candles, err := loadCandles(*candlePath, *reverse)
	if err != nil {
		logger.Fatal("failed to load candles", zap.Error(err))
	}
	if len(candles) == 0 {
		logger.Fatal("candle file is empty")
	}

	product := domain.Product{
		ID:             cfg.ProductID,
		Status:         "online",
		BaseCurrency:   "BTC",
		QuoteCurrency:  "USD",
		QuoteIncrement: decimal.NewFromFloat(0.01),
		BaseMinSize:    decimal.NewFromFloat(0.0001),
		BaseMaxSize:    decimal.NewFromInt(10000),
	}

	sim := simulate.New(logger, product, startingQuote)
	sim.SetPrice(candles[0].low.Add(candles[0].high).Div(decimal.NewFromInt(2)))

	led := ledger.New(logger, sim, product)
	tally := &tradeTally{}
	eng := engine.New(logger, sim, led, tally, metrics.New(nil))
	eng.SetRetries(cfg.Retries)
	eng.SetSpread(cfg.Spread)
	eng.SetSettlePoll(time.Millisecond)

	strat, err := costbasis.New(logger, eng, product, cfg.OrderDepth, cfg.WalletFraction, cfg.Delta, metrics.New(nil))
	if err != nil {
		logger.Fatal("bad strategy parameters", zap.Error(err))
	}
	eng.SetHooks(strat)

	ctx := context.Background()
	if err := eng.Resync(ctx, "backtest start"); err != nil {
		logger.Fatal("initial sync failed", zap.Error(err))
	}
	if err := strat.OnStart(ctx); err != nil {
		logger.Fatal("seeding failed", zap.Error(err))
	}

	for _, c := range candles {
		ev, ok := sim.OnTick(c.low, c.high)
		if !ok {
			continue
		}
		if err := eng.HandleEvent(ctx, ev); err != nil {
			logger.Fatal("replay aborted", zap.Error(err))
		}
	}

	// flatten so the remaining holds come back before valuation
	if err := eng.CancelAll(ctx); err != nil {
		logger.Fatal("final cancel failed", zap.Error(err))
	}
	if err := eng.Resync(ctx, "backtest end"); err != nil {
		logger.Fatal("final sync failed", zap.Error(err))
	}

	last := candles[len(candles)-1]
	lastPrice := last.low.Add(last.high).Div(decimal.NewFromInt(2))
	sellBalance := eng.GetBalance(product.QuoteCurrency).
		Add(eng.GetBalance(product.BaseCurrency).Mul(lastPrice))

	fmt.Printf("candles replayed:  %d\n", len(candles))
	fmt.Printf("orders placed:     %d\n", tally.placed)
	fmt.Printf("fills:             %d (%d taker)\n", tally.fills, tally.takerFills)
	fmt.Printf("fees paid:         %s\n", tally.fees.StringFixed(2))
	fmt.Printf("final depth:       %d (%s)\n", strat.Depth(), strat.State())
	fmt.Printf("sell balance:      %s (started with %s)\n",
		sellBalance.Sub(tally.fees).StringFixed(2), startingQuote.StringFixed(2))
}

func loadCandles(path string, reverse bool) ([]candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6

	var candles []candle
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		low, err := decimal.NewFromString(record[1])
		if err != nil {
			continue // header row
		}
		high, err := decimal.NewFromString(record[2])
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle{low: low, high: high})
	}

	if reverse {
		for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
			candles[i], candles[j] = candles[j], candles[i]
		}
	}
	return candles, nil
}

// tradeTally implements engine.Journal to count fills and accumulate the
// taker fees stop orders incur when they trigger.
type tradeTally struct {
	placed     int
	fills      int
	takerFills int
	fees       decimal.Decimal
}

func (t *tradeTally) Placed(domain.Order) { t.placed++ }

func (t *tradeTally) Filled(o domain.Order, size, price decimal.Decimal) {
	t.fills++
	if o.Type == domain.OrderTypeStop {
		t.takerFills++
		t.fees = t.fees.Add(size.Mul(price).Mul(takerFee))
	}
}

func (t *tradeTally) Canceled(domain.Order) {}

func (t *tradeTally) Resynced(string) {}
