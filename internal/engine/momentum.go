package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"rebalancer/internal/broker"
	"rebalancer/internal/ledger"
	"rebalancer/internal/md"
	"rebalancer/internal/queue"
	"rebalancer/internal/strategy"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Candidate is the outcome of evaluating one pair.
type Candidate struct {
	Pair            broker.Pair
	Quote           md.Quote
	TrailingAverage decimal.Decimal
	Intent          strategy.TradeIntent
}

// Momentum classifies pairs against the trailing average of their recorded
// quotes and records the current quote for the next run.
type Momentum struct {
	gateway     broker.Gateway
	ledger      ledger.Ledger
	strategy    strategy.Strategy
	window      int
	concurrency int
	readPolicy  queue.Policy
	now         func() time.Time
}

func NewMomentum(gateway broker.Gateway, store ledger.Ledger, strat strategy.Strategy, window, concurrency int, readPolicy queue.Policy) *Momentum {
	return &Momentum{
		gateway:     gateway,
		ledger:      store,
		strategy:    strat,
		window:      window,
		concurrency: concurrency,
		readPolicy:  readPolicy,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate fans out over pairs and returns once every pair has been evaluated.
// Pairs without a quote are left out; pairs without a full window come back as
// Hold.
func (m *Momentum) Evaluate(ctx context.Context, pairs []broker.Pair) []Candidate {
	var mu sync.Mutex
	candidates := make([]Candidate, 0, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, pair := range pairs {
		g.Go(func() error {
			candidate, err := m.evaluatePair(gctx, pair)
			if err != nil {
				slog.Warn("momentum pair skipped", "pair", pair.Name, "error", err)
				return nil
			}
			mu.Lock()
			candidates = append(candidates, candidate)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Pair.Name < candidates[j].Pair.Name
	})
	return candidates
}

func (m *Momentum) evaluatePair(ctx context.Context, pair broker.Pair) (Candidate, error) {
	var quote md.Quote
	_, err := m.readPolicy.Do(ctx, "ticker "+pair.Name, func(ctx context.Context) error {
		quotes, err := m.gateway.Tickers(ctx, []string{pair.Name})
		if err != nil {
			return err
		}
		q, ok := quotes[pair.Name]
		if !ok {
			return fmt.Errorf("no quote for %s", pair.Name)
		}
		quote = q
		return nil
	})
	if err != nil {
		return Candidate{}, err
	}

	candidate := Candidate{Pair: pair, Quote: quote}
	now := m.now()

	average, err := m.trailingAverage(ctx, pair.Name)
	switch {
	case errors.Is(err, md.ErrInsufficientData):
		candidate.Intent = strategy.TradeIntent{Action: strategy.Hold, Reason: "insufficient_history"}
	case err != nil:
		slog.Error("read trade history failed", "pair", pair.Name, "error", err)
		candidate.Intent = strategy.TradeIntent{Action: strategy.Hold, Reason: "history_unavailable"}
	default:
		candidate.TrailingAverage = average
		candidate.Intent = m.strategy.Decide(strategy.MarketSnapshot{
			Timestamp:       now,
			Pair:            pair.Name,
			Ask:             quote.Ask,
			Bid:             quote.Bid,
			TrailingAverage: average,
		})
	}

	// the window advances whether or not anything is traded
	record := ledger.TradeRecord{Pair: pair.Name, Buy: quote.Ask, Sell: quote.Bid, Timestamp: now}
	if err := m.ledger.AppendTrade(ctx, record); err != nil {
		slog.Error("append trade record failed", "pair", pair.Name, "error", err)
	}

	slog.Info("momentum evaluated", "pair", pair.Name, "ask", quote.Ask, "bid", quote.Bid, "trailing_average", candidate.TrailingAverage, "intent", candidate.Intent.Action, "reason", candidate.Intent.Reason)
	return candidate, nil
}

func (m *Momentum) trailingAverage(ctx context.Context, pair string) (decimal.Decimal, error) {
	records, err := m.ledger.LastTrades(ctx, pair, m.window)
	if err != nil {
		return decimal.Zero, err
	}
	window := md.NewWindow(m.window)
	for i := len(records) - 1; i >= 0; i-- {
		window.Add(records[i].Buy)
	}
	return window.Mean()
}
