package config

import (
	"flag"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Defaults applied where the YAML config or flags leave a field empty.
const (
	DefaultOrderDepth  = 5
	DefaultRetries     = 3
	DefaultRestURL     = "https://api.exchange.coinbase.com"
	DefaultWsURL       = "wss://ws-feed.exchange.coinbase.com"
	DefaultJournalDir  = "./wal"
	DefaultMetricsAddr = ":9090"
)

var (
	defaultWalletFraction = decimal.RequireFromString("0.1")
	defaultDelta          = decimal.RequireFromString("0.01")
	defaultSpread         = decimal.RequireFromString("0.006")
)

// Config is the runtime configuration of one trading instance. Exactly
// one product per instance; run more processes for more pairs.
type Config struct {
	ProductID      string
	OrderDepth     int
	WalletFraction decimal.Decimal
	Delta          decimal.Decimal
	Spread         decimal.Decimal
	Retries        int
	RestURL        string
	WsURL          string
	JournalDir     string
	MetricsAddr    string
	WatchInterval  time.Duration
}

type configTmp struct {
	Product        string        `yaml:"product"`
	OrderDepth     int           `yaml:"order_depth,omitempty"`
	WalletFraction string        `yaml:"wallet_fraction,omitempty"`
	Delta          string        `yaml:"delta,omitempty"`
	Spread         string        `yaml:"spread,omitempty"`
	Retries        int           `yaml:"retries,omitempty"`
	RestURL        string        `yaml:"rest_url,omitempty"`
	WsURL          string        `yaml:"ws_url,omitempty"`
	JournalDir     string        `yaml:"journal_dir,omitempty"`
	MetricsAddr    string        `yaml:"metrics_addr,omitempty"`
	WatchInterval  time.Duration `yaml:"watch_interval,omitempty"`
}

// Get loads configuration from the --config YAML file when provided,
// otherwise from CLI flags.
func Get() (Config, error) {
	path := flag.String("config", "", "path to yaml config")
	product := flag.String("product", "ETH-USD", "product to trade, example: ETH-USD")
	depth := flag.Int("orderdepth", DefaultOrderDepth, "max sequential buy legs before liquidating only")
	fraction := flag.String("walletfraction", defaultWalletFraction.String(), "fraction of quote balance per order")
	delta := flag.String("delta", defaultDelta.String(), "bracket width as a fraction of cost basis")
	spread := flag.String("spread", defaultSpread.String(), "price decay per placement retry")
	retries := flag.Int("retries", DefaultRetries, "placement attempts per order")
	restURL := flag.String("resturl", DefaultRestURL, "exchange REST endpoint")
	wsURL := flag.String("wsurl", DefaultWsURL, "exchange websocket endpoint")
	journalDir := flag.String("journaldir", DefaultJournalDir, "trade journal directory")
	metricsAddr := flag.String("metricsaddr", DefaultMetricsAddr, "prometheus listen address")
	flag.Parse()

	if *path != "" {
		return getYaml(*path)
	}

	walletFraction, err := decimal.NewFromString(*fraction)
	if err != nil {
		return Config{}, errors.Wrapf(err, "invalid --walletfraction=%s", *fraction)
	}
	bracketDelta, err := decimal.NewFromString(*delta)
	if err != nil {
		return Config{}, errors.Wrapf(err, "invalid --delta=%s", *delta)
	}
	retrySpread, err := decimal.NewFromString(*spread)
	if err != nil {
		return Config{}, errors.Wrapf(err, "invalid --spread=%s", *spread)
	}

	cfg := Config{
		ProductID:      *product,
		OrderDepth:     *depth,
		WalletFraction: walletFraction,
		Delta:          bracketDelta,
		Spread:         retrySpread,
		Retries:        *retries,
		RestURL:        *restURL,
		WsURL:          *wsURL,
		JournalDir:     *journalDir,
		MetricsAddr:    *metricsAddr,
	}
	return ApplyDefaults(cfg)
}

// Load reads one config from a YAML file without touching flags.
func Load(path string) (Config, error) {
	return getYaml(path)
}

func getYaml(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	var tmp configTmp
	if err := yaml.Unmarshal(raw, &tmp); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}
	if tmp.Product == "" {
		return Config{}, errors.New("'product' param is required in yaml config")
	}

	cfg := Config{
		ProductID:     tmp.Product,
		OrderDepth:    tmp.OrderDepth,
		Retries:       tmp.Retries,
		RestURL:       tmp.RestURL,
		WsURL:         tmp.WsURL,
		JournalDir:    tmp.JournalDir,
		MetricsAddr:   tmp.MetricsAddr,
		WatchInterval: tmp.WatchInterval,
	}

	if tmp.WalletFraction != "" {
		if cfg.WalletFraction, err = decimal.NewFromString(tmp.WalletFraction); err != nil {
			return Config{}, errors.Wrap(err, "incorrect 'wallet_fraction' param in yaml config")
		}
	}
	if tmp.Delta != "" {
		if cfg.Delta, err = decimal.NewFromString(tmp.Delta); err != nil {
			return Config{}, errors.Wrap(err, "incorrect 'delta' param in yaml config")
		}
	}
	if tmp.Spread != "" {
		if cfg.Spread, err = decimal.NewFromString(tmp.Spread); err != nil {
			return Config{}, errors.Wrap(err, "incorrect 'spread' param in yaml config")
		}
	}

	return ApplyDefaults(cfg)
}

// ApplyDefaults fills empty fields with defaults and validates the result.
func ApplyDefaults(cfg Config) (Config, error) {
	if cfg.OrderDepth == 0 {
		cfg.OrderDepth = DefaultOrderDepth
	}
	if cfg.WalletFraction.IsZero() {
		cfg.WalletFraction = defaultWalletFraction
	}
	if cfg.Delta.IsZero() {
		cfg.Delta = defaultDelta
	}
	if cfg.Spread.IsZero() {
		cfg.Spread = defaultSpread
	}
	if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.RestURL == "" {
		cfg.RestURL = DefaultRestURL
	}
	if cfg.WsURL == "" {
		cfg.WsURL = DefaultWsURL
	}
	if cfg.JournalDir == "" {
		cfg.JournalDir = DefaultJournalDir
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = DefaultMetricsAddr
	}

	if cfg.OrderDepth < 1 {
		return Config{}, errors.Errorf("order_depth must be at least 1, got %d", cfg.OrderDepth)
	}
	one := decimal.NewFromInt(1)
	if !cfg.WalletFraction.IsPositive() || cfg.WalletFraction.GreaterThan(one) {
		return Config{}, errors.Errorf("wallet_fraction must be in (0, 1], got %s", cfg.WalletFraction)
	}
	if !cfg.Delta.IsPositive() || cfg.Delta.GreaterThanOrEqual(one) {
		return Config{}, errors.Errorf("delta must be in (0, 1), got %s", cfg.Delta)
	}
	return cfg, nil
}
