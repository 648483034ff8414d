package backfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"rebalancer/internal/broker"
	"rebalancer/internal/ledger"
	"rebalancer/internal/queue"

	"github.com/shopspring/decimal"
)

// tradesGateway serves its trades in pages of at most limit, like Kraken's
// Trades endpoint.
type tradesGateway struct {
	broker.Gateway
	trades []broker.RawTrade
	limit  int
	fails  int
	calls  int
	sinces []time.Time
}

func (g *tradesGateway) RecentTrades(_ context.Context, _ string, since time.Time) (broker.TradePage, error) {
	g.calls++
	if g.calls <= g.fails {
		return broker.TradePage{}, errors.New("EGeneral:Too many requests")
	}
	g.sinces = append(g.sinces, since)
	limit := g.limit
	if limit <= 0 {
		limit = 1000
	}
	page := broker.TradePage{Last: since}
	for _, trade := range g.trades {
		if !trade.Time.After(since) {
			continue
		}
		if len(page.Trades) == limit {
			break
		}
		page.Trades = append(page.Trades, trade)
		page.Last = trade.Time
	}
	return page, nil
}

func trade(price string, side broker.Side, at time.Time) broker.RawTrade {
	return broker.RawTrade{Price: decimal.RequireFromString(price), Volume: decimal.NewFromInt(1), Side: side, Time: at}
}

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestBucketAveragesSides(t *testing.T) {
	trades := []broker.RawTrade{
		trade("100", broker.Buy, base.Add(5*time.Minute)),
		trade("102", broker.Buy, base.Add(10*time.Minute)),
		trade("99", broker.Sell, base.Add(20*time.Minute)),
		trade("110", broker.Sell, base.Add(70*time.Minute)),
	}

	records := Bucket("XXBTZEUR", trades, time.Hour)
	if len(records) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(records))
	}
	first := records[0]
	if !first.Timestamp.Equal(base) || !first.Buy.Equal(decimal.NewFromInt(101)) || !first.Sell.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("unexpected first bucket: %+v", first)
	}
	second := records[1]
	if !second.Buy.Equal(decimal.NewFromInt(110)) || !second.Sell.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("expected one sided bucket to mirror its side, got %+v", second)
	}
}

func TestRunSkipsBucketsAlreadyInLedger(t *testing.T) {
	store := ledger.NewMemory()
	if err := store.AppendTrade(context.Background(), ledger.TradeRecord{Pair: "XXBTZEUR", Buy: decimal.NewFromInt(1), Sell: decimal.NewFromInt(1), Timestamp: base.Add(time.Hour)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	gateway := &tradesGateway{
		fails: 1,
		trades: []broker.RawTrade{
			trade("100", broker.Buy, base.Add(30*time.Minute)),
			trade("101", broker.Buy, base.Add(90*time.Minute)),
			trade("102", broker.Buy, base.Add(150*time.Minute)),
		},
	}
	runner := Runner{
		Gateway:  gateway,
		Ledger:   store,
		Interval: time.Hour,
		Policy:   queue.Policy{Retries: 2},
		Now:      func() time.Time { return base.Add(3 * time.Hour) },
	}

	written, err := runner.Run(context.Background(), []string{"XXBTZEUR"}, 24*time.Hour)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if written != 1 {
		t.Fatalf("expected 1 new record, got %d", written)
	}
	if len(gateway.sinces) == 0 || !gateway.sinces[0].Equal(base.Add(time.Hour)) {
		t.Fatalf("expected fetch from latest record, got %v", gateway.sinces)
	}
	// one failed attempt, one page of trades, one empty page
	if gateway.calls != 3 {
		t.Fatalf("expected a retry after the first failure, got %d calls", gateway.calls)
	}
	records, _ := store.LastTrades(context.Background(), "XXBTZEUR", 1)
	if !records[0].Buy.Equal(decimal.NewFromInt(102)) {
		t.Fatalf("unexpected latest record: %+v", records[0])
	}
}

func TestRunPagesThroughFullLookback(t *testing.T) {
	var trades []broker.RawTrade
	for i := 0; i < 24*360; i++ {
		trades = append(trades, trade("100", broker.Buy, base.Add(time.Duration(i)*10*time.Second)))
	}
	gateway := &tradesGateway{trades: trades, limit: 1000}
	store := ledger.NewMemory()
	runner := Runner{
		Gateway:  gateway,
		Ledger:   store,
		Interval: time.Hour,
		Now:      func() time.Time { return base.Add(24 * time.Hour) },
	}

	written, err := runner.Run(context.Background(), []string{"XXBTZEUR"}, 24*time.Hour)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if written != 24 {
		t.Fatalf("expected a record per hour of lookback, got %d", written)
	}
	if gateway.calls != 10 {
		t.Fatalf("expected 9 full pages and one empty page, got %d calls", gateway.calls)
	}
	for i := 1; i < len(gateway.sinces); i++ {
		if !gateway.sinces[i].After(gateway.sinces[i-1]) {
			t.Fatalf("expected the cursor to advance, got %v", gateway.sinces)
		}
	}
}

func TestRunStopsAtPageLimit(t *testing.T) {
	var trades []broker.RawTrade
	for i := 0; i < 50; i++ {
		trades = append(trades, trade("100", broker.Buy, base.Add(time.Duration(i)*time.Minute)))
	}
	gateway := &tradesGateway{trades: trades, limit: 10}
	runner := Runner{
		Gateway:  gateway,
		Ledger:   ledger.NewMemory(),
		Interval: time.Hour,
		MaxPages: 2,
		Now:      func() time.Time { return base.Add(2 * time.Hour) },
	}

	if _, err := runner.Run(context.Background(), []string{"XXBTZEUR"}, 3*time.Hour); err != nil {
		t.Fatalf("run: %v", err)
	}
	if gateway.calls != 2 {
		t.Fatalf("expected 2 requests, got %d", gateway.calls)
	}
}
