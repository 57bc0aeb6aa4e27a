package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
product: BTC-USD
order_depth: 3
wallet_fraction: "0.2"
delta: "0.02"
spread: "0.01"
retries: 5
journal_dir: /tmp/wal
metrics_addr: ":9191"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "BTC-USD", cfg.ProductID)
	require.Equal(t, 3, cfg.OrderDepth)
	require.True(t, cfg.WalletFraction.Equal(decimal.RequireFromString("0.2")))
	require.True(t, cfg.Delta.Equal(decimal.RequireFromString("0.02")))
	require.True(t, cfg.Spread.Equal(decimal.RequireFromString("0.01")))
	require.Equal(t, 5, cfg.Retries)
	require.Equal(t, "/tmp/wal", cfg.JournalDir)
	require.Equal(t, ":9191", cfg.MetricsAddr)
	require.Equal(t, DefaultRestURL, cfg.RestURL)
	require.Equal(t, DefaultWsURL, cfg.WsURL)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "product: ETH-USD\n"))
	require.NoError(t, err)
	require.Equal(t, DefaultOrderDepth, cfg.OrderDepth)
	require.Equal(t, DefaultRetries, cfg.Retries)
	require.True(t, cfg.WalletFraction.Equal(defaultWalletFraction))
	require.True(t, cfg.Delta.Equal(defaultDelta))
	require.True(t, cfg.Spread.Equal(defaultSpread))
	require.Equal(t, DefaultJournalDir, cfg.JournalDir)
}

func TestLoadRequiresProduct(t *testing.T) {
	_, err := Load(writeConfig(t, "order_depth: 3\n"))
	require.Error(t, err)
}

func TestLoadRejectsBadDecimal(t *testing.T) {
	_, err := Load(writeConfig(t, "product: BTC-USD\nwallet_fraction: \"lots\"\n"))
	require.Error(t, err)
}

func TestGetParsesFlags(t *testing.T) {
	oldArgs := os.Args
	t.Cleanup(func() { os.Args = oldArgs })
	os.Args = []string{"trader",
		"--product", "BTC-USD",
		"--orderdepth", "2",
		"--spread", "0.01",
		"--retries", "7",
		"--resturl", "https://sandbox.example.com",
		"--journaldir", "/tmp/journal",
		"--metricsaddr", ":9999",
	}

	cfg, err := Get()
	require.NoError(t, err)
	require.Equal(t, "BTC-USD", cfg.ProductID)
	require.Equal(t, 2, cfg.OrderDepth)
	require.True(t, cfg.Spread.Equal(decimal.RequireFromString("0.01")))
	require.Equal(t, 7, cfg.Retries)
	require.Equal(t, "https://sandbox.example.com", cfg.RestURL)
	require.Equal(t, DefaultWsURL, cfg.WsURL)
	require.Equal(t, "/tmp/journal", cfg.JournalDir)
	require.Equal(t, ":9999", cfg.MetricsAddr)
	require.True(t, cfg.WalletFraction.Equal(defaultWalletFraction))
}

func TestApplyDefaultsValidatesRanges(t *testing.T) {
	_, err := ApplyDefaults(Config{ProductID: "BTC-USD", OrderDepth: -1})
	require.Error(t, err)

	_, err = ApplyDefaults(Config{ProductID: "BTC-USD", WalletFraction: decimal.NewFromInt(2)})
	require.Error(t, err)

	_, err = ApplyDefaults(Config{ProductID: "BTC-USD", Delta: decimal.NewFromInt(1)})
	require.Error(t, err)
}
