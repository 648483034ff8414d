package engine

import (
	"context"
	"testing"

	"rebalancer/internal/broker"
	"rebalancer/internal/ledger"
	"rebalancer/internal/md"
	"rebalancer/internal/queue"
	"rebalancer/internal/strategy"

	"github.com/shopspring/decimal"
)

func TestMomentumClassifiesAgainstTrailingAverage(t *testing.T) {
	store := ledger.NewMemory()
	seedTrades(t, store, "UPEUR", trailingBuys...)
	seedTrades(t, store, "DOWNEUR", trailingBuys...)
	gateway := &fakeGateway{
		log: &eventLog{},
		quotes: map[string]md.Quote{
			"UPEUR":   {Pair: "UPEUR", Ask: d("105"), Bid: d("104")},
			"DOWNEUR": {Pair: "DOWNEUR", Ask: d("95"), Bid: d("94")},
		},
	}
	momentum := NewMomentum(gateway, store, strategy.Momentum{}, 6, 2, queue.Policy{})

	candidates := momentum.Evaluate(context.Background(), []broker.Pair{
		pair("UPEUR", "UP"),
		pair("DOWNEUR", "DOWN"),
		pair("MISSINGEUR", "MISSING"),
	})

	if len(candidates) != 2 {
		t.Fatalf("expected pair without quote to be left out, got %d candidates", len(candidates))
	}
	down, up := candidates[0], candidates[1]
	if !up.TrailingAverage.Equal(d("100.5")) {
		t.Fatalf("expected trailing average 100.5, got %s", up.TrailingAverage)
	}
	if up.Intent.Action != strategy.Buy || !up.Intent.Price.Equal(d("105")) || !up.Intent.Momentum.Equal(d("4.5")) {
		t.Fatalf("unexpected buy intent: %+v", up.Intent)
	}
	if down.Intent.Action != strategy.Sell || !down.Intent.Price.Equal(d("94")) {
		t.Fatalf("unexpected sell intent: %+v", down.Intent)
	}
	if len(store.Trades()) != 14 {
		t.Fatalf("expected one new record per quoted pair, got %d", len(store.Trades()))
	}
}

func TestMomentumHoldsWithoutFullWindow(t *testing.T) {
	store := ledger.NewMemory()
	seedTrades(t, store, "NEWEUR", "100", "101", "102", "103", "104")
	gateway := &fakeGateway{
		log:    &eventLog{},
		quotes: map[string]md.Quote{"NEWEUR": {Pair: "NEWEUR", Ask: d("200"), Bid: d("199")}},
	}
	momentum := NewMomentum(gateway, store, strategy.Momentum{}, 6, 1, queue.Policy{})

	candidates := momentum.Evaluate(context.Background(), []broker.Pair{pair("NEWEUR", "NEW")})

	if len(candidates) != 1 || candidates[0].Intent.Action != strategy.Hold || candidates[0].Intent.Reason != "insufficient_history" {
		t.Fatalf("expected hold for short history, got %+v", candidates)
	}
	if !candidates[0].TrailingAverage.Equal(decimal.Zero) {
		t.Fatalf("expected no trailing average, got %s", candidates[0].TrailingAverage)
	}
	records, _ := store.LastTrades(context.Background(), "NEWEUR", 1)
	if !records[0].Buy.Equal(d("200")) {
		t.Fatalf("expected the quote to be recorded, got %+v", records[0])
	}
}
