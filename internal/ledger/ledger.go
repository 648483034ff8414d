// Package ledger stores observed trade quotes and accepted orders. Records are
// append-only; nothing here updates or deletes them.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Buy  = "buy"
	Sell = "sell"
)

// TradeRecord is one observed quote, written every run for every evaluated pair.
type TradeRecord struct {
	Pair      string
	Buy       decimal.Decimal
	Sell      decimal.Decimal
	Timestamp time.Time
}

// OrderRecord is written once the exchange has accepted an order.
type OrderRecord struct {
	Pair      string
	Volume    decimal.Decimal
	Price     decimal.Decimal
	Type      string
	Timestamp time.Time
	TxID      string
	RunID     string
}

type Ledger interface {
	AppendTrade(ctx context.Context, record TradeRecord) error
	AppendOrder(ctx context.Context, record OrderRecord) error
	// LastTrades returns at most n records for pair, most recent first.
	LastTrades(ctx context.Context, pair string, n int) ([]TradeRecord, error)
	// LastOrder returns nil when no order of that type exists for pair.
	LastOrder(ctx context.Context, pair, orderType string) (*OrderRecord, error)
}
