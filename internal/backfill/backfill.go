// Package backfill seeds the ledger with trade records built from the
// exchange's public trade history, so a new ledger has a trailing average on
// its first run.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"rebalancer/internal/broker"
	"rebalancer/internal/ledger"
	"rebalancer/internal/queue"

	"github.com/shopspring/decimal"
)

// Bucket groups trades into interval wide buckets and returns one record per
// non-empty bucket, oldest first. Buy is the mean price of buyer initiated
// trades and Sell of seller initiated ones; a bucket with only one side uses
// that side for both.
func Bucket(pair string, trades []broker.RawTrade, interval time.Duration) []ledger.TradeRecord {
	type sides struct {
		buys  []decimal.Decimal
		sells []decimal.Decimal
	}
	buckets := make(map[time.Time]*sides)
	for _, trade := range trades {
		key := trade.Time.UTC().Truncate(interval)
		bucket, ok := buckets[key]
		if !ok {
			bucket = &sides{}
			buckets[key] = bucket
		}
		if trade.Side == broker.Sell {
			bucket.sells = append(bucket.sells, trade.Price)
		} else {
			bucket.buys = append(bucket.buys, trade.Price)
		}
	}

	records := make([]ledger.TradeRecord, 0, len(buckets))
	for start, bucket := range buckets {
		buy, sell := mean(bucket.buys), mean(bucket.sells)
		if len(bucket.buys) == 0 {
			buy = sell
		}
		if len(bucket.sells) == 0 {
			sell = buy
		}
		records = append(records, ledger.TradeRecord{Pair: pair, Buy: buy, Sell: sell, Timestamp: start})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records
}

func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return decimal.Avg(values[0], values[1:]...)
}

const defaultMaxPages = 1000

type Runner struct {
	Gateway  broker.Gateway
	Ledger   ledger.Ledger
	Interval time.Duration
	Policy   queue.Policy
	// MaxPages bounds the history requests per pair, 1000 when unset.
	MaxPages int
	Now      func() time.Time
}

// Run backfills each pair from lookback ago, or from its latest record when
// that is more recent, and returns the number of records written.
func (r Runner) Run(ctx context.Context, pairs []string, lookback time.Duration) (int, error) {
	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now()
	}
	written := 0
	for _, pair := range pairs {
		count, err := r.runPair(ctx, pair, now.Add(-lookback), now)
		written += count
		if err != nil {
			return written, fmt.Errorf("backfill %s: %w", pair, err)
		}
	}
	return written, nil
}

func (r Runner) runPair(ctx context.Context, pair string, since, now time.Time) (int, error) {
	latest, err := r.Ledger.LastTrades(ctx, pair, 1)
	if err != nil {
		return 0, err
	}
	var after time.Time
	if len(latest) > 0 {
		after = latest[0].Timestamp
		if after.After(since) {
			since = after
		}
	}

	trades, pages, err := r.fetch(ctx, pair, since, now)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, record := range Bucket(pair, trades, r.Interval) {
		if !record.Timestamp.After(after) || record.Timestamp.Before(since.Truncate(r.Interval)) {
			continue
		}
		if err := r.Ledger.AppendTrade(ctx, record); err != nil {
			return written, err
		}
		written++
	}
	slog.Info("backfill done", "pair", pair, "pages", pages, "trades", len(trades), "records", written)
	return written, nil
}

// fetch pages through the trade history from since until the cursor reaches
// now or a page comes back empty.
func (r Runner) fetch(ctx context.Context, pair string, since, now time.Time) ([]broker.RawTrade, int, error) {
	maxPages := r.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	var trades []broker.RawTrade
	cursor := since
	pages := 0
	for pages < maxPages {
		var page broker.TradePage
		if _, err := r.Policy.Do(ctx, "trades "+pair, func(ctx context.Context) error {
			var err error
			page, err = r.Gateway.RecentTrades(ctx, pair, cursor)
			return err
		}); err != nil {
			return trades, pages, err
		}
		pages++
		trades = append(trades, page.Trades...)
		if len(page.Trades) == 0 || !page.Last.After(cursor) || !page.Last.Before(now) {
			return trades, pages, nil
		}
		cursor = page.Last
	}
	slog.Warn("backfill page limit reached", "pair", pair, "pages", pages, "cursor", cursor)
	return trades, pages, nil
}
