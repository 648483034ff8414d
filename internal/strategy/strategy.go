package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

type Action string

const (
	Hold Action = "HOLD"
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

type MarketSnapshot struct {
	Timestamp       time.Time
	Pair            string
	Ask             decimal.Decimal
	Bid             decimal.Decimal
	TrailingAverage decimal.Decimal
}

type TradeIntent struct {
	Action   Action
	Price    decimal.Decimal
	Momentum decimal.Decimal
	Reason   string
}

type Strategy interface {
	Decide(snapshot MarketSnapshot) TradeIntent
}
