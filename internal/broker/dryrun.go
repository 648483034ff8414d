package broker

import (
	"context"
	"log/slog"
	"time"

	"rebalancer/internal/md"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DryRun forwards reads to the wrapped gateway and acknowledges orders and
// withdrawals without sending them.
type DryRun struct {
	next Gateway
}

func NewDryRun(next Gateway) *DryRun {
	return &DryRun{next: next}
}

func (d *DryRun) Balance(ctx context.Context) (map[string]decimal.Decimal, error) {
	return d.next.Balance(ctx)
}

func (d *DryRun) Tickers(ctx context.Context, pairs []string) (map[string]md.Quote, error) {
	return d.next.Tickers(ctx, pairs)
}

func (d *DryRun) TradablePairs(ctx context.Context, base string) ([]Pair, error) {
	return d.next.TradablePairs(ctx, base)
}

func (d *DryRun) RecentTrades(ctx context.Context, pair string, since time.Time) (TradePage, error) {
	return d.next.RecentTrades(ctx, pair, since)
}

func (d *DryRun) PlaceOrder(_ context.Context, req OrderRequest) (OrderRef, error) {
	txid := "dry-run-" + uuid.NewString()
	slog.Info("dry_run order", "txid", txid, "side", req.Side, "pair", req.Pair, "volume", req.Volume, "price", req.Price, "type", req.Type)
	return OrderRef{TxIDs: []string{txid}, Description: "dry run"}, nil
}

func (d *DryRun) Withdraw(_ context.Context, req WithdrawRequest) (WithdrawRef, error) {
	refID := "dry-run-" + uuid.NewString()
	slog.Info("dry_run withdraw", "refid", refID, "asset", req.Asset, "key", req.Key, "amount", req.Amount)
	return WithdrawRef{RefID: refID}, nil
}
