package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"rebalancer/internal/allocation"
	"rebalancer/internal/broker"
	"rebalancer/internal/config"
	"rebalancer/internal/ledger"
	"rebalancer/internal/md"
	"rebalancer/internal/metrics"
	"rebalancer/internal/queue"
	"rebalancer/internal/risk"
	"rebalancer/internal/strategy"

	"github.com/shopspring/decimal"
)

const defaultLotDecimals int32 = 8

// Summary is the outcome of one run.
type Summary struct {
	RunID           string
	TradeSpend      decimal.Decimal
	AllocationSpend decimal.Decimal
	Results         []queue.Result
	// Err is set when the run could not start, e.g. the balance was unavailable.
	Err error
}

func (s Summary) Abandoned() int {
	count := 0
	for _, result := range s.Results {
		if result.Abandoned {
			count++
		}
	}
	return count
}

// Run completes once every queued task has succeeded or been abandoned.
type Run struct {
	done    chan struct{}
	summary Summary
}

func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) Wait() Summary {
	<-r.done
	return r.summary
}

type Engine struct {
	cfg            config.Config
	gateway        broker.Gateway
	ledger         ledger.Ledger
	decisions      *DecisionLogger
	recorder       *metrics.Recorder
	momentum       *Momentum
	gate           risk.Gate
	readPolicy     queue.Policy
	orderPolicy    queue.Policy
	withdrawPolicy queue.Policy
	runID          string
	now            func() time.Time
}

func New(cfg config.Config, gateway broker.Gateway, store ledger.Ledger, decisions *DecisionLogger, recorder *metrics.Recorder) *Engine {
	readPolicy := queue.Policy{Retries: cfg.ReadRetries, Backoff: cfg.RetryBackoff, Timeout: cfg.CallTimeout}
	return &Engine{
		cfg:            cfg,
		gateway:        gateway,
		ledger:         store,
		decisions:      decisions,
		recorder:       recorder,
		momentum:       NewMomentum(gateway, store, strategy.Momentum{}, cfg.Window, cfg.FetchConcurrency, readPolicy),
		gate:           risk.Gate{MinNotional: cfg.MinNotional, ProfitThreshold: cfg.ProfitThreshold},
		readPolicy:     readPolicy,
		orderPolicy:    queue.Policy{Retries: cfg.OrderRetries, Backoff: cfg.RetryBackoff, Timeout: cfg.CallTimeout},
		withdrawPolicy: queue.Policy{Retries: cfg.WithdrawRetries, Backoff: cfg.RetryBackoff, Timeout: cfg.CallTimeout},
		runID:          decisions.RunID(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Start runs one pass in the background.
func (e *Engine) Start(ctx context.Context) *Run {
	run := &Run{done: make(chan struct{})}
	go func() {
		defer close(run.done)
		run.summary = e.run(ctx)
		e.recorder.RunFinished(e.now())
	}()
	return run
}

// Spends splits the reserve adjusted base balance between momentum trading and
// allocation buying. Either share is zero when it falls below floor.
func Spends(base, feeReserve, floor, tradeFraction decimal.Decimal) (trade, alloc decimal.Decimal) {
	available := base.Sub(feeReserve)
	if available.LessThan(floor) || !available.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	trade = available.Mul(tradeFraction).RoundFloor(2)
	alloc = available.Sub(trade)
	if alloc.LessThan(floor) {
		alloc = decimal.Zero
	}
	return trade, alloc
}

func (e *Engine) run(ctx context.Context) Summary {
	summary := Summary{RunID: e.runID}
	base := e.cfg.Allocation.BaseCurrency

	var balance map[string]decimal.Decimal
	_, err := e.readPolicy.Do(ctx, "balance", func(ctx context.Context) error {
		var err error
		balance, err = e.gateway.Balance(ctx)
		return err
	})
	if err != nil {
		slog.Error("balance unavailable, nothing to do", "error", err)
		e.decisions.Append(Decision{Stage: StageBalance, Result: "failed", RejectReason: err.Error()})
		summary.Err = fmt.Errorf("fetch balance: %w", err)
		return summary
	}

	summary.TradeSpend, summary.AllocationSpend = Spends(balance[base], e.cfg.FeeReserve, e.cfg.MinSpend, e.cfg.TradeFraction)
	e.recorder.Spend("trade", summary.TradeSpend)
	e.recorder.Spend("allocation", summary.AllocationSpend)
	slog.Info("run started", "run_id", e.runID, "base", base, "balance", balance[base], "trade_spend", summary.TradeSpend, "allocation_spend", summary.AllocationSpend)
	e.decisions.Append(Decision{Stage: StageBalance, Asset: base, Volume: balance[base], Result: "ok"})

	pairs, err := e.tradablePairs(ctx, base)
	listed := err == nil
	if !listed {
		slog.Error("tradable pairs unavailable", "base", base, "error", err)
	}

	q := queue.New(ctx)
	// asset volume already promised to sells this run
	committed := make(map[string]decimal.Decimal)

	momentumOn := !balance[base].Sub(e.cfg.FeeReserve).LessThan(e.cfg.MinSpend)
	e.runMomentum(ctx, q, e.momentumPairs(pairs), momentumOn, summary.TradeSpend, balance, committed)
	e.enqueueAllocation(ctx, q, pairs, listed, summary.AllocationSpend)
	e.enqueueWithdrawals(q, balance, committed)

	summary.Results = q.Wait()
	slog.Info("run finished", "run_id", e.runID, "tasks", len(summary.Results), "abandoned", summary.Abandoned())
	return summary
}

func (e *Engine) tradablePairs(ctx context.Context, base string) ([]broker.Pair, error) {
	var pairs []broker.Pair
	_, err := e.readPolicy.Do(ctx, "tradable pairs", func(ctx context.Context) error {
		var err error
		pairs, err = e.gateway.TradablePairs(ctx, base)
		return err
	})
	return pairs, err
}

func (e *Engine) momentumPairs(pairs []broker.Pair) []broker.Pair {
	if len(e.cfg.MomentumAssets) == 0 {
		return pairs
	}
	allowed := make(map[string]bool, len(e.cfg.MomentumAssets))
	for _, asset := range e.cfg.MomentumAssets {
		allowed[asset] = true
	}
	var filtered []broker.Pair
	for _, pair := range pairs {
		if allowed[pair.Base] {
			filtered = append(filtered, pair)
		}
	}
	return filtered
}

// runMomentum evaluates every pair, queues the buys, waits for them and only
// then reads the ledger for sells so this run's buy orders are visible. With
// momentum off nothing is traded; buys additionally need trade spend while
// sells only spend asset balance.
func (e *Engine) runMomentum(ctx context.Context, q *queue.Queue, pairs []broker.Pair, momentumOn bool, tradeSpend decimal.Decimal, balance, committed map[string]decimal.Decimal) {
	candidates := e.momentum.Evaluate(ctx, pairs)

	var buys, sells []Candidate
	for _, candidate := range candidates {
		e.recorder.Decision(string(candidate.Intent.Action))
		switch candidate.Intent.Action {
		case strategy.Buy:
			buys = append(buys, candidate)
		case strategy.Sell:
			sells = append(sells, candidate)
		default:
			e.decisions.Append(momentumDecision(candidate, "hold"))
		}
	}

	if !momentumOn {
		for _, candidate := range append(buys, sells...) {
			e.skip(StageMomentum, candidate, "below_min_spend")
		}
		return
	}

	if !tradeSpend.IsPositive() {
		for _, candidate := range buys {
			e.skip(StageMomentum, candidate, "no_trade_spend")
		}
	} else if len(buys) > 0 {
		notional := tradeSpend.Div(decimal.NewFromInt(int64(len(buys)))).RoundFloor(2)
		for _, candidate := range buys {
			e.enqueueBuy(q, candidate, notional)
		}
	}
	q.Flush()

	now := e.now()
	for _, candidate := range sells {
		e.enqueueSell(ctx, q, candidate, now, balance, committed)
	}
}

func (e *Engine) enqueueBuy(q *queue.Queue, candidate Candidate, notional decimal.Decimal) {
	approved, err := e.gate.Evaluate(candidate.Intent, risk.RiskContext{Now: e.now(), Notional: notional})
	if err != nil {
		e.skip(StageMomentum, candidate, err.Error())
		return
	}
	volume, ok := tradableVolume(candidate.Pair, approved.Volume)
	if !ok {
		e.skip(StageMomentum, candidate, "below_order_min")
		return
	}
	e.push(q, e.orderTask(plannedOrder{
		stage:  StageMomentum,
		pair:   candidate.Pair.Name,
		side:   broker.Buy,
		volume: volume,
		price:  candidate.Intent.Price,
		intent: candidate.Intent.Action,
		reason: candidate.Intent.Reason,
	}))
}

func (e *Engine) enqueueSell(ctx context.Context, q *queue.Queue, candidate Candidate, now time.Time, balance, committed map[string]decimal.Decimal) {
	lastBuy, err := e.ledger.LastOrder(ctx, candidate.Pair.Name, ledger.Buy)
	if err != nil {
		slog.Error("read last buy order failed", "pair", candidate.Pair.Name, "error", err)
		e.skip(StageSell, candidate, "ledger_unavailable")
		return
	}
	asset := candidate.Pair.Base
	approved, err := e.gate.Evaluate(candidate.Intent, risk.RiskContext{
		Now:       now,
		LastBuy:   lastBuy,
		Available: balance[asset].Sub(committed[asset]),
	})
	if err != nil {
		e.skip(StageSell, candidate, err.Error())
		return
	}
	volume, ok := tradableVolume(candidate.Pair, approved.Volume)
	if !ok {
		e.skip(StageSell, candidate, "below_order_min")
		return
	}
	committed[asset] = committed[asset].Add(volume)
	e.push(q, e.orderTask(plannedOrder{
		stage:  StageSell,
		pair:   candidate.Pair.Name,
		side:   broker.Sell,
		volume: volume,
		price:  candidate.Intent.Price,
		intent: candidate.Intent.Action,
		reason: candidate.Intent.Reason,
	}))
}

// enqueueAllocation buys the allocation table with spend. Pairs come from the
// listing; only when the listing is unavailable are legacy pair names guessed.
func (e *Engine) enqueueAllocation(ctx context.Context, q *queue.Queue, pairs []broker.Pair, listed bool, spend decimal.Decimal) {
	if !spend.IsPositive() {
		slog.Info("allocation skipped", "reason", "below_min_spend")
		return
	}
	table := e.cfg.Allocation

	bySymbol := make(map[string]broker.Pair, len(pairs))
	for _, pair := range pairs {
		bySymbol[pair.Base] = pair
	}
	resolved := make(map[string]broker.Pair, len(table.Currencies))
	for _, currency := range table.Currencies {
		pair, ok := bySymbol[currency.Symbol]
		if !ok {
			if listed {
				slog.Warn("no tradable pair for allocation asset", "asset", currency.Symbol, "base", table.BaseCurrency)
				continue
			}
			pair = broker.Pair{Name: broker.LegacyPairName(currency.Symbol, table.BaseCurrency), Base: currency.Symbol, Quote: table.BaseCurrency}
		}
		resolved[currency.Symbol] = pair
	}

	quotes := e.allocationQuotes(ctx, resolved)
	markets := make(map[string]allocation.Market, len(resolved))
	for symbol, pair := range resolved {
		quote, ok := quotes[pair.Name]
		if !ok {
			continue
		}
		markets[symbol] = allocation.Market{Pair: pair.Name, Ask: quote.Ask, LotDecimals: pair.LotDecimals}
	}

	targets, skips := allocation.Compute(spend, table, markets, e.cfg.MinNotional)
	for _, skip := range skips {
		slog.Info("allocation skipped", "asset", skip.Symbol, "volume", skip.Volume, "reason", skip.Reason)
		e.recorder.Skipped(StageAllocation, skip.Reason)
		e.decisions.Append(Decision{Stage: StageAllocation, Asset: skip.Symbol, Volume: skip.Volume, Result: "skipped", RejectReason: skip.Reason})
	}
	for _, target := range targets {
		if !target.AssetVolume.IsPositive() {
			e.recorder.Skipped(StageAllocation, "zero_volume")
			continue
		}
		e.push(q, e.orderTask(plannedOrder{
			stage:  StageAllocation,
			pair:   target.Pair,
			side:   broker.Buy,
			volume: target.AssetVolume,
			price:  target.Price,
			intent: strategy.Buy,
			reason: "allocation",
		}))
	}
}

// allocationQuotes fetches every pair in one request. Kraken fails the whole
// request on a single unknown pair, so a failed batch is retried pair by pair
// and only the pairs that still fail go without a quote.
func (e *Engine) allocationQuotes(ctx context.Context, resolved map[string]broker.Pair) map[string]md.Quote {
	names := make([]string, 0, len(resolved))
	for _, pair := range resolved {
		names = append(names, pair.Name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return map[string]md.Quote{}
	}

	quotes, err := e.tickers(ctx, "allocation tickers", names)
	if err == nil {
		return quotes
	}
	slog.Warn("allocation batch quote failed, fetching pairs one by one", "pairs", names, "error", err)

	quotes = make(map[string]md.Quote, len(names))
	for _, name := range names {
		single, err := e.tickers(ctx, "ticker "+name, []string{name})
		if err != nil {
			slog.Error("allocation quote unavailable", "pair", name, "error", err)
			continue
		}
		if quote, ok := single[name]; ok {
			quotes[name] = quote
		}
	}
	return quotes
}

func (e *Engine) tickers(ctx context.Context, call string, names []string) (map[string]md.Quote, error) {
	var quotes map[string]md.Quote
	_, err := e.readPolicy.Do(ctx, call, func(ctx context.Context) error {
		var err error
		quotes, err = e.gateway.Tickers(ctx, names)
		return err
	})
	return quotes, err
}

func (e *Engine) enqueueWithdrawals(q *queue.Queue, balance, committed map[string]decimal.Decimal) {
	for _, currency := range e.cfg.Allocation.Currencies {
		if currency.Address == "" {
			continue
		}
		amount := balance[currency.Symbol].Sub(committed[currency.Symbol])
		if !amount.IsPositive() || amount.LessThan(currency.WithdrawMinimum) {
			e.recorder.Skipped(StageWithdraw, "below_withdraw_minimum")
			continue
		}
		e.push(q, e.withdrawTask(currency.Symbol, currency.Address, amount))
	}
}

func (e *Engine) push(q *queue.Queue, task queue.Task) {
	if err := q.Push(task); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			slog.Error("queue closed, task dropped", "task", task.ID, "desc", task.Description)
			return
		}
		slog.Error("push task failed", "task", task.ID, "error", err)
	}
}

func (e *Engine) skip(stage string, candidate Candidate, reason string) {
	e.recorder.Skipped(stage, reason)
	decision := momentumDecision(candidate, "rejected")
	decision.Stage = stage
	decision.RejectReason = reason
	e.decisions.Append(decision)
}

func momentumDecision(candidate Candidate, result string) Decision {
	return Decision{
		Stage:           StageMomentum,
		Pair:            candidate.Pair.Name,
		Asset:           candidate.Pair.Base,
		Ask:             candidate.Quote.Ask,
		Bid:             candidate.Quote.Bid,
		TrailingAverage: candidate.TrailingAverage,
		Momentum:        candidate.Intent.Momentum,
		Intent:          candidate.Intent.Action,
		Price:           candidate.Intent.Price,
		Reason:          candidate.Intent.Reason,
		Result:          result,
	}
}

// tradableVolume truncates volume to the pair's lot precision and reports
// whether the result is still an order the exchange accepts.
func tradableVolume(pair broker.Pair, volume decimal.Decimal) (decimal.Decimal, bool) {
	volume = volume.RoundFloor(lotDecimals(pair))
	if !volume.IsPositive() {
		return volume, false
	}
	if pair.OrderMin.IsPositive() && volume.LessThan(pair.OrderMin) {
		return volume, false
	}
	return volume, true
}

func lotDecimals(pair broker.Pair) int32 {
	if pair.LotDecimals <= 0 {
		return defaultLotDecimals
	}
	return pair.LotDecimals
}
