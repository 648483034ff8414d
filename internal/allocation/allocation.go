// Package allocation turns a base currency balance into per-currency buy
// targets from the static percentage table.
package allocation

import (
	"rebalancer/internal/config"

	"github.com/shopspring/decimal"
)

const (
	ReasonInsufficient = "insufficient"
	ReasonMissingQuote = "missing_quote"
	ReasonInvalidQuote = "invalid_quote"
)

const defaultLotDecimals int32 = 8

var hundred = decimal.NewFromInt(100)

// Market is what the calculator needs to know about a currency's pair.
type Market struct {
	Pair        string
	Ask         decimal.Decimal
	LotDecimals int32
}

type Target struct {
	Symbol string
	Pair   string
	// Volume is the spend in base currency, AssetVolume what it buys at Price.
	Volume      decimal.Decimal
	AssetVolume decimal.Decimal
	Price       decimal.Decimal
}

type Skip struct {
	Symbol string
	Volume decimal.Decimal
	Reason string
}

// Volume is the share of balance for percentage, rounded down to cents so the
// shares never add up to more than the balance.
func Volume(balance, percentage decimal.Decimal) decimal.Decimal {
	return balance.Mul(percentage).Div(hundred).RoundFloor(2)
}

// Compute returns one Target per currency that can be bought and one Skip per
// currency that cannot. markets is keyed by currency symbol.
func Compute(balance decimal.Decimal, table config.Allocation, markets map[string]Market, minNotional decimal.Decimal) ([]Target, []Skip) {
	var targets []Target
	var skips []Skip
	for _, currency := range table.Currencies {
		volume := Volume(balance, currency.Percentage)
		if volume.LessThan(minNotional) {
			skips = append(skips, Skip{Symbol: currency.Symbol, Volume: volume, Reason: ReasonInsufficient})
			continue
		}
		market, ok := markets[currency.Symbol]
		if !ok {
			skips = append(skips, Skip{Symbol: currency.Symbol, Volume: volume, Reason: ReasonMissingQuote})
			continue
		}
		if !market.Ask.IsPositive() {
			skips = append(skips, Skip{Symbol: currency.Symbol, Volume: volume, Reason: ReasonInvalidQuote})
			continue
		}
		lot := market.LotDecimals
		if lot <= 0 {
			lot = defaultLotDecimals
		}
		targets = append(targets, Target{
			Symbol:      currency.Symbol,
			Pair:        market.Pair,
			Volume:      volume,
			AssetVolume: volume.Div(market.Ask).RoundFloor(lot),
			Price:       market.Ask,
		})
	}
	return targets, skips
}
