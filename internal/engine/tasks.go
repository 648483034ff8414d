package engine

import (
	"context"
	"fmt"
	"log/slog"

	"rebalancer/internal/broker"
	"rebalancer/internal/ledger"
	"rebalancer/internal/queue"
	"rebalancer/internal/strategy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	KindOrder    = "order"
	KindWithdraw = "withdraw"
)

type plannedOrder struct {
	stage  string
	pair   string
	side   broker.Side
	volume decimal.Decimal
	price  decimal.Decimal
	intent strategy.Action
	reason string
}

// orderTask places one order and records it in the ledger once the exchange
// has accepted it. The client order id is fixed for the task so a retry after
// a lost response cannot double fill.
func (e *Engine) orderTask(order plannedOrder) queue.Task {
	clientID := uuid.NewString()
	req := broker.OrderRequest{
		Pair:          order.pair,
		Side:          order.side,
		Type:          broker.OrderType(e.cfg.OrderType),
		Price:         order.price,
		Volume:        order.volume,
		ClientOrderID: clientID,
	}
	var ref broker.OrderRef

	return queue.Task{
		ID:          clientID,
		Kind:        KindOrder,
		Description: fmt.Sprintf("%s %s %s @ %s", order.side, order.volume, order.pair, order.price),
		Policy:      e.orderPolicy,
		Run: func(ctx context.Context) error {
			placed, err := e.gateway.PlaceOrder(ctx, req)
			if err != nil {
				return err
			}
			ref = placed
			return nil
		},
		OnSuccess: func(ctx context.Context) error {
			record := ledger.OrderRecord{
				Pair:      order.pair,
				Volume:    order.volume,
				Price:     order.price,
				Type:      string(order.side),
				Timestamp: e.now(),
				RunID:     e.runID,
			}
			if len(ref.TxIDs) > 0 {
				record.TxID = ref.TxIDs[0]
			}
			return e.ledger.AppendOrder(ctx, record)
		},
		Done: func(result queue.Result) {
			e.recorder.TaskFinished(KindOrder, result.Attempts, result.Abandoned)
			decision := Decision{
				Stage:    order.stage,
				Pair:     order.pair,
				Intent:   order.intent,
				Volume:   order.volume,
				Price:    order.price,
				Reason:   order.reason,
				Result:   "order_placed",
				TaskID:   result.TaskID,
				Attempts: result.Attempts,
			}
			if result.Abandoned {
				decision.Result = "order_abandoned"
				decision.RejectReason = result.Err.Error()
			}
			e.decisions.Append(decision)
		},
	}
}

func (e *Engine) withdrawTask(asset, key string, amount decimal.Decimal) queue.Task {
	req := broker.WithdrawRequest{Asset: asset, Key: key, Amount: amount}
	return queue.Task{
		ID:          uuid.NewString(),
		Kind:        KindWithdraw,
		Description: fmt.Sprintf("%s %s to %s", amount, asset, key),
		Policy:      e.withdrawPolicy,
		Run: func(ctx context.Context) error {
			ref, err := e.gateway.Withdraw(ctx, req)
			if err != nil {
				return err
			}
			slog.Info("withdrawal accepted", "asset", asset, "amount", amount, "refid", ref.RefID)
			return nil
		},
		Done: func(result queue.Result) {
			e.recorder.TaskFinished(KindWithdraw, result.Attempts, result.Abandoned)
			decision := Decision{
				Stage:    StageWithdraw,
				Asset:    asset,
				Volume:   amount,
				Result:   "withdrawn",
				TaskID:   result.TaskID,
				Attempts: result.Attempts,
			}
			if result.Abandoned {
				decision.Result = "withdraw_abandoned"
				decision.RejectReason = result.Err.Error()
			}
			e.decisions.Append(decision)
		},
	}
}
