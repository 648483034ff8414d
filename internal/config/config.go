package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Mode string

const (
	ModeLive   Mode = "live"
	ModeDryRun Mode = "dry-run"
)

var ErrMissingCredentials = errors.New("KRAKEN_API_KEY and KRAKEN_API_SECRET need to be specified")

type Config struct {
	Mode             Mode
	AllocationPath   string
	LedgerPath       string
	DecisionsPath    string
	APIURL           string
	APIKey           string
	APISecret        string
	FeeReserve       decimal.Decimal
	MinSpend         decimal.Decimal
	MinNotional      decimal.Decimal
	TradeFraction    decimal.Decimal
	Window           int
	ProfitThreshold  decimal.Decimal
	OrderType        string
	OrderRetries     int
	WithdrawRetries  int
	ReadRetries      int
	RetryBackoff     time.Duration
	CallTimeout      time.Duration
	FetchConcurrency int
	MomentumAssets   []string
	PushgatewayURL   string
	LogFormat        string
	Allocation       Allocation
}

func Load() (Config, error) {
	cfg := Config{
		FeeReserve:      decimal.NewFromInt(1),
		MinSpend:        decimal.NewFromInt(10),
		MinNotional:     decimal.NewFromInt(1),
		TradeFraction:   decimal.Zero,
		ProfitThreshold: decimal.RequireFromString("1.01"),
	}
	var mode string
	var momentumAssets string

	loadDotEnvIfPresent(".env")

	flag.StringVar(&mode, "mode", string(ModeLive), "run mode: live or dry-run")
	flag.StringVar(&cfg.AllocationPath, "allocation", "allocation.json", "path to the allocation table")
	flag.StringVar(&cfg.LedgerPath, "ledger-path", "ledger.db", "path to the sqlite trade ledger")
	flag.StringVar(&cfg.DecisionsPath, "decisions-path", "decisions.ndjson", "path to decisions log")
	flag.StringVar(&cfg.APIURL, "api-url", "https://api.kraken.com", "kraken REST base URL")
	flag.Var(decimalValue{&cfg.FeeReserve}, "fee-reserve", "base currency kept back to pay for fees")
	flag.Var(decimalValue{&cfg.MinSpend}, "min-spend", "minimum reserve-adjusted balance before spending")
	flag.Var(decimalValue{&cfg.MinNotional}, "min-notional", "minimum order value in base currency")
	flag.Var(decimalValue{&cfg.TradeFraction}, "trade-fraction", "fraction of the available balance used for momentum buys (sells run regardless)")
	flag.IntVar(&cfg.Window, "window", 6, "number of trade records in the trailing average")
	flag.Var(decimalValue{&cfg.ProfitThreshold}, "profit-threshold", "minimum sell/buy price ratio before selling")
	flag.StringVar(&cfg.OrderType, "order-type", "limit", "order type: limit or market")
	flag.IntVar(&cfg.OrderRetries, "order-retries", 5, "retries per order task")
	flag.IntVar(&cfg.WithdrawRetries, "withdraw-retries", 5, "retries per withdrawal task")
	flag.IntVar(&cfg.ReadRetries, "read-retries", 5, "retries for balance, pair and ticker reads")
	flag.DurationVar(&cfg.RetryBackoff, "retry-backoff", 2*time.Second, "delay between attempts")
	flag.DurationVar(&cfg.CallTimeout, "call-timeout", 30*time.Second, "timeout per exchange call")
	flag.IntVar(&cfg.FetchConcurrency, "fetch-concurrency", 4, "pairs evaluated concurrently")
	flag.StringVar(&momentumAssets, "momentum-assets", "", "comma separated assets eligible for momentum trading (empty: all)")
	flag.StringVar(&cfg.PushgatewayURL, "pushgateway-url", "", "prometheus pushgateway URL (empty: disabled)")
	flag.StringVar(&cfg.LogFormat, "log-format", "text", "log format: text or json")
	flag.Parse()

	cfg.Mode = Mode(mode)
	cfg.MomentumAssets = splitList(momentumAssets)
	cfg.APIKey = os.Getenv("KRAKEN_API_KEY")
	cfg.APISecret = os.Getenv("KRAKEN_API_SECRET")

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	allocation, err := LoadAllocation(cfg.AllocationPath)
	if err != nil {
		return cfg, err
	}
	cfg.Allocation = allocation

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Mode != ModeLive && cfg.Mode != ModeDryRun {
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return ErrMissingCredentials
	}
	if cfg.Window <= 0 {
		return fmt.Errorf("window must be > 0")
	}
	if cfg.FeeReserve.IsNegative() {
		return fmt.Errorf("fee-reserve must be >= 0")
	}
	if cfg.MinSpend.IsNegative() {
		return fmt.Errorf("min-spend must be >= 0")
	}
	if !cfg.MinNotional.IsPositive() {
		return fmt.Errorf("min-notional must be > 0")
	}
	if cfg.TradeFraction.IsNegative() || cfg.TradeFraction.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("trade-fraction must be between 0 and 1")
	}
	if cfg.ProfitThreshold.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("profit-threshold must be >= 1")
	}
	if cfg.OrderType != "limit" && cfg.OrderType != "market" {
		return fmt.Errorf("unsupported order type: %s", cfg.OrderType)
	}
	if cfg.OrderRetries < 0 || cfg.WithdrawRetries < 0 || cfg.ReadRetries < 0 {
		return fmt.Errorf("retries must be >= 0")
	}
	if cfg.CallTimeout <= 0 {
		return fmt.Errorf("call-timeout must be > 0")
	}
	if cfg.RetryBackoff < 0 {
		return fmt.Errorf("retry-backoff must be >= 0")
	}
	if cfg.FetchConcurrency <= 0 {
		return fmt.Errorf("fetch-concurrency must be > 0")
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("unsupported log format: %s", cfg.LogFormat)
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.ToUpper(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

type decimalValue struct {
	target *decimal.Decimal
}

func (d decimalValue) String() string {
	if d.target == nil {
		return ""
	}
	return d.target.String()
}

func (d decimalValue) Set(value string) error {
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return err
	}
	*d.target = parsed
	return nil
}
