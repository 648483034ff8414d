package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close ledger: %v", err)
		}
	})
	return store
}

func ledgers(t *testing.T) map[string]Ledger {
	return map[string]Ledger{
		"memory": NewMemory(),
		"sqlite": openSQLite(t),
	}
}

func TestLastTradesMostRecentFirst(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 8; i++ {
				record := TradeRecord{
					Pair:      "XXBTZEUR",
					Buy:       decimal.NewFromInt(int64(100 + i)),
					Sell:      decimal.NewFromInt(int64(99 + i)),
					Timestamp: base.Add(time.Duration(i) * time.Hour),
				}
				if err := l.AppendTrade(ctx, record); err != nil {
					t.Fatalf("append trade: %v", err)
				}
			}
			if err := l.AppendTrade(ctx, TradeRecord{Pair: "XETHZEUR", Buy: decimal.NewFromInt(1), Sell: decimal.NewFromInt(1), Timestamp: base.Add(24 * time.Hour)}); err != nil {
				t.Fatalf("append trade: %v", err)
			}

			records, err := l.LastTrades(ctx, "XXBTZEUR", 6)
			if err != nil {
				t.Fatalf("last trades: %v", err)
			}
			if len(records) != 6 {
				t.Fatalf("expected 6 records, got %d", len(records))
			}
			if !records[0].Buy.Equal(decimal.NewFromInt(107)) || !records[5].Buy.Equal(decimal.NewFromInt(102)) {
				t.Fatalf("expected buys 107..102, got %s..%s", records[0].Buy, records[5].Buy)
			}
			if !records[0].Timestamp.Equal(base.Add(7 * time.Hour)) {
				t.Fatalf("expected newest timestamp first, got %s", records[0].Timestamp)
			}
		})
	}
}

func TestLastTradesKeepsDecimalPrecision(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			price := decimal.RequireFromString("61234.123456789")
			if err := l.AppendTrade(ctx, TradeRecord{Pair: "XXBTZEUR", Buy: price, Sell: price, Timestamp: time.Now()}); err != nil {
				t.Fatalf("append trade: %v", err)
			}
			records, err := l.LastTrades(ctx, "XXBTZEUR", 6)
			if err != nil {
				t.Fatalf("last trades: %v", err)
			}
			if len(records) != 1 || !records[0].Buy.Equal(price) {
				t.Fatalf("expected exact price %s, got %+v", price, records)
			}
		})
	}
}

func TestLastOrderFiltersByPairAndType(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			orders := []OrderRecord{
				{Pair: "XXBTZEUR", Type: Buy, Volume: decimal.RequireFromString("0.1"), Price: decimal.NewFromInt(100), Timestamp: base},
				{Pair: "XXBTZEUR", Type: Buy, Volume: decimal.RequireFromString("0.2"), Price: decimal.NewFromInt(110), Timestamp: base.Add(time.Hour), TxID: "OABC"},
				{Pair: "XXBTZEUR", Type: Sell, Volume: decimal.RequireFromString("0.2"), Price: decimal.NewFromInt(120), Timestamp: base.Add(2 * time.Hour)},
				{Pair: "XETHZEUR", Type: Buy, Volume: decimal.NewFromInt(3), Price: decimal.NewFromInt(50), Timestamp: base.Add(3 * time.Hour)},
			}
			for _, order := range orders {
				if err := l.AppendOrder(ctx, order); err != nil {
					t.Fatalf("append order: %v", err)
				}
			}

			last, err := l.LastOrder(ctx, "XXBTZEUR", Buy)
			if err != nil {
				t.Fatalf("last order: %v", err)
			}
			if last == nil {
				t.Fatalf("expected a buy order")
			}
			if !last.Price.Equal(decimal.NewFromInt(110)) || last.TxID != "OABC" {
				t.Fatalf("expected most recent buy at 110, got %+v", last)
			}
		})
	}
}

func TestLastOrderMissing(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			last, err := l.LastOrder(context.Background(), "XLTCZEUR", Buy)
			if err != nil {
				t.Fatalf("last order: %v", err)
			}
			if last != nil {
				t.Fatalf("expected no order, got %+v", last)
			}
		})
	}
}
