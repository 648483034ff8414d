package risk

import (
	"fmt"
	"log/slog"
	"time"

	"rebalancer/internal/ledger"
	"rebalancer/internal/strategy"

	"github.com/shopspring/decimal"
)

type RiskContext struct {
	Now time.Time
	// Notional is the base currency value of a buy.
	Notional decimal.Decimal
	// LastBuy is the most recent buy order of the pair, nil when there is none.
	LastBuy *ledger.OrderRecord
	// Available is the asset balance a sell may spend.
	Available decimal.Decimal
}

type ApprovedIntent struct {
	Intent strategy.TradeIntent
	Volume decimal.Decimal
	Reason string
}

type Gate struct {
	MinNotional     decimal.Decimal
	ProfitThreshold decimal.Decimal
}

func (g Gate) Evaluate(intent strategy.TradeIntent, ctx RiskContext) (ApprovedIntent, error) {
	switch intent.Action {
	case strategy.Hold:
		return ApprovedIntent{Intent: intent, Reason: "hold"}, nil
	case strategy.Buy:
		return g.evaluateBuy(intent, ctx)
	case strategy.Sell:
		return g.evaluateSell(intent, ctx)
	}
	return ApprovedIntent{}, fmt.Errorf("unknown_action")
}

func (g Gate) evaluateBuy(intent strategy.TradeIntent, ctx RiskContext) (ApprovedIntent, error) {
	if err := g.CheckNotional(ctx.Notional); err != nil {
		slog.Info("risk rejected", "reason", err.Error(), "notional", ctx.Notional, "min", g.MinNotional)
		return ApprovedIntent{}, err
	}
	if !intent.Price.IsPositive() {
		slog.Info("risk rejected", "reason", "invalid_price", "price", intent.Price)
		return ApprovedIntent{}, fmt.Errorf("invalid_price")
	}
	return ApprovedIntent{Intent: intent, Volume: ctx.Notional.Div(intent.Price), Reason: "approved"}, nil
}

// evaluateSell sizes a sell from the last buy order and only lets it through
// when the bid clears the profit threshold over that order's price.
func (g Gate) evaluateSell(intent strategy.TradeIntent, ctx RiskContext) (ApprovedIntent, error) {
	if ctx.LastBuy == nil {
		slog.Info("risk rejected", "reason", "no_prior_buy")
		return ApprovedIntent{}, fmt.Errorf("no_prior_buy")
	}
	if !ctx.LastBuy.Timestamp.Before(ctx.Now) {
		slog.Info("risk rejected", "reason", "prior_buy_not_older", "buy_time", ctx.LastBuy.Timestamp)
		return ApprovedIntent{}, fmt.Errorf("prior_buy_not_older")
	}
	if !ctx.LastBuy.Price.IsPositive() {
		slog.Info("risk rejected", "reason", "invalid_buy_price", "buy_price", ctx.LastBuy.Price)
		return ApprovedIntent{}, fmt.Errorf("invalid_buy_price")
	}
	ratio := intent.Price.Div(ctx.LastBuy.Price)
	if ratio.LessThan(g.ProfitThreshold) {
		slog.Info("risk rejected", "reason", "below_profit_threshold", "ratio", ratio, "threshold", g.ProfitThreshold)
		return ApprovedIntent{}, fmt.Errorf("below_profit_threshold")
	}
	volume := decimal.Min(ctx.LastBuy.Volume, ctx.Available)
	if !volume.IsPositive() {
		slog.Info("risk rejected", "reason", "no_balance_to_sell", "available", ctx.Available)
		return ApprovedIntent{}, fmt.Errorf("no_balance_to_sell")
	}

	slog.Info("risk approved", "intent", intent.Action, "volume", volume, "ratio", ratio)
	return ApprovedIntent{Intent: intent, Volume: volume, Reason: "approved"}, nil
}

// CheckNotional rejects orders worth less than the exchange minimum.
func (g Gate) CheckNotional(notional decimal.Decimal) error {
	if notional.LessThan(g.MinNotional) {
		return fmt.Errorf("below_min_notional")
	}
	return nil
}
