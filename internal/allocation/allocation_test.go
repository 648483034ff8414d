package allocation

import (
	"testing"

	"rebalancer/internal/config"

	"github.com/shopspring/decimal"
)

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func table() config.Allocation {
	return config.Allocation{
		BaseCurrency: "EUR",
		Currencies: []config.Currency{
			{Symbol: "ETH", Percentage: d("30")},
			{Symbol: "LTC", Percentage: d("10")},
			{Symbol: "XBT", Percentage: d("60")},
		},
	}
}

func TestVolumeRoundsDown(t *testing.T) {
	if got := Volume(d("1000"), d("30")); !got.Equal(d("300")) || got.StringFixed(2) != "300.00" {
		t.Fatalf("expected 300.00, got %s", got)
	}
	if got := Volume(d("3.33"), d("30")); !got.Equal(d("0.99")) {
		t.Fatalf("expected 0.99, got %s", got)
	}
	if got := Volume(d("10.99"), d("33.33")); !got.Equal(d("3.66")) {
		t.Fatalf("expected 3.66, got %s", got)
	}
}

func TestComputeTargets(t *testing.T) {
	markets := map[string]Market{
		"ETH": {Pair: "XETHZEUR", Ask: d("3000")},
		"LTC": {Pair: "XLTCZEUR", Ask: d("80"), LotDecimals: 4},
		"XBT": {Pair: "XXBTZEUR", Ask: d("60000")},
	}

	targets, skips := Compute(d("1000"), table(), markets, d("1"))
	if len(skips) != 0 {
		t.Fatalf("expected no skips, got %+v", skips)
	}
	if len(targets) != 3 {
		t.Fatalf("expected 3 targets, got %d", len(targets))
	}
	eth := targets[0]
	if eth.Pair != "XETHZEUR" || !eth.Volume.Equal(d("300")) || !eth.AssetVolume.Equal(d("0.1")) {
		t.Fatalf("unexpected ETH target %+v", eth)
	}
	ltc := targets[1]
	if !ltc.AssetVolume.Equal(d("1.25")) {
		t.Fatalf("expected 1.25 LTC, got %s", ltc.AssetVolume)
	}
	xbt := targets[2]
	if !xbt.AssetVolume.Equal(d("0.01")) || !xbt.Price.Equal(d("60000")) {
		t.Fatalf("unexpected XBT target %+v", xbt)
	}
}

func TestComputeSkipsInsufficientVolume(t *testing.T) {
	markets := map[string]Market{
		"ETH": {Pair: "XETHZEUR", Ask: d("3000")},
		"LTC": {Pair: "XLTCZEUR", Ask: d("80")},
		"XBT": {Pair: "XXBTZEUR", Ask: d("60000")},
	}

	targets, skips := Compute(d("3.33"), table(), markets, d("1"))
	if len(targets) != 1 || targets[0].Symbol != "XBT" {
		t.Fatalf("expected only XBT (1.99) to be bought, got %+v", targets)
	}
	if len(skips) != 2 {
		t.Fatalf("expected 2 skips, got %+v", skips)
	}
	if skips[0].Symbol != "ETH" || skips[0].Reason != ReasonInsufficient || !skips[0].Volume.Equal(d("0.99")) {
		t.Fatalf("expected ETH skipped with 0.99, got %+v", skips[0])
	}
}

func TestComputeSkipsMissingQuoteOnly(t *testing.T) {
	markets := map[string]Market{
		"ETH": {Pair: "XETHZEUR", Ask: d("3000")},
		"XBT": {Pair: "XXBTZEUR", Ask: d("60000")},
	}

	targets, skips := Compute(d("1000"), table(), markets, d("1"))
	if len(targets) != 2 {
		t.Fatalf("expected other currencies to proceed, got %+v", targets)
	}
	if len(skips) != 1 || skips[0].Symbol != "LTC" || skips[0].Reason != ReasonMissingQuote {
		t.Fatalf("expected LTC skipped for missing quote, got %+v", skips)
	}
}
