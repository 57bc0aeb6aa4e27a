// Command balances values every non-empty account at the current ask and
// prints the total sell balance. With --watch it keeps logging the total
// on an interval, which is handy to graph account drift over time.
//
// Required environment variables:
//
//	COINBASE_API_KEY, COINBASE_API_SECRET, COINBASE_API_PASSPHRASE
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chesswiz16/trader/config"
	"github.com/chesswiz16/trader/internal/exchange"
	"github.com/chesswiz16/trader/internal/exchange/coinbase"
)

const quoteCurrency = "USD"

func main() {
	restURL := flag.String("url", config.DefaultRestURL, "exchange REST endpoint")
	watch := flag.Duration("watch", 0, "log totals on this interval instead of exiting")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	key := os.Getenv("COINBASE_API_KEY")
	secret := os.Getenv("COINBASE_API_SECRET")
	passphrase := os.Getenv("COINBASE_API_PASSPHRASE")
	if key == "" || secret == "" || passphrase == "" {
		logger.Fatal("COINBASE_API_KEY, COINBASE_API_SECRET and COINBASE_API_PASSPHRASE must be set")
	}

	client, err := coinbase.NewClient(logger, *restURL, key, secret, passphrase)
	if err != nil {
		logger.Fatal("failed to create exchange client", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *watch <= 0 {
		if err := report(ctx, client, logger, true); err != nil {
			logger.Fatal("balance report failed", zap.Error(err))
		}
		return
	}

	ticker := time.NewTicker(*watch)
	defer ticker.Stop()
	for {
		if err := report(ctx, client, logger, false); err != nil {
			logger.Error("balance report failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func report(ctx context.Context, client exchange.Client, logger *zap.Logger, verbose bool) error {
	accounts, err := client.GetAccounts(ctx)
	if err != nil {
		return err
	}

	total := decimal.Zero
	for _, account := range accounts {
		if !account.Balance.IsPositive() {
			continue
		}

		value := account.Balance
		if account.Currency != quoteCurrency {
			ticker, err := client.GetTicker(ctx, fmt.Sprintf("%s-%s", account.Currency, quoteCurrency))
			if err != nil {
				logger.Warn("no ticker for currency, skipping",
					zap.String("currency", account.Currency), zap.Error(err))
				continue
			}
			value = account.Balance.Mul(ticker.Ask)
			if verbose {
				fmt.Printf("%s balance: %s @ %s\n", account.Currency, account.Balance, ticker.Ask)
			}
		} else if verbose {
			fmt.Printf("%s balance: %s\n", account.Currency, account.Balance)
		}
		total = total.Add(value)
	}

	if verbose {
		fmt.Printf("Total sell balance: %s\n", total.StringFixed(2))
	} else {
		logger.Info("total sell balance", zap.String("total", total.StringFixed(2)))
	}
	return nil
}
