package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rebalancer/internal/broker"
	"rebalancer/internal/config"
	"rebalancer/internal/engine"
	"rebalancer/internal/ledger"
	"rebalancer/internal/metrics"

	"github.com/google/uuid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	slog.SetDefault(slog.New(newHandler(cfg.LogFormat)))

	runID := generateRunID()
	decisions, err := engine.NewDecisionLogger(cfg.DecisionsPath, runID)
	if err != nil {
		log.Fatalf("decision logger error: %v", err)
	}
	defer func() {
		if err := decisions.Close(); err != nil {
			log.Printf("failed to close decision logger: %v", err)
		}
	}()

	store, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		log.Fatalf("ledger error: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("failed to close ledger: %v", err)
		}
	}()

	kraken, err := broker.NewKraken(cfg.APIURL, cfg.APIKey, cfg.APISecret)
	if err != nil {
		log.Fatalf("kraken client error: %v", err)
	}
	var gateway broker.Gateway = kraken
	if cfg.Mode == config.ModeDryRun {
		gateway = broker.NewDryRun(kraken)
	}

	// a run is not cancelled once started; signals are only reported
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		log.Printf("signal %s received, waiting for the queue to drain", sig)
	}()

	recorder := metrics.New()
	log.Printf("starting run mode=%s run_id=%s base=%s currencies=%d", cfg.Mode, runID, cfg.Allocation.BaseCurrency, len(cfg.Allocation.Currencies))
	summary := engine.New(cfg, gateway, store, decisions, recorder).Start(context.Background()).Wait()
	if summary.Err != nil {
		log.Printf("run ended early: %v", summary.Err)
	}
	log.Printf("run complete run_id=%s trade_spend=%s allocation_spend=%s tasks=%d abandoned=%d",
		summary.RunID, summary.TradeSpend, summary.AllocationSpend, len(summary.Results), summary.Abandoned())

	if cfg.PushgatewayURL != "" {
		if err := recorder.Push(cfg.PushgatewayURL, "rebalancer"); err != nil {
			log.Printf("failed to push metrics: %v", err)
		}
	}
}

func newHandler(format string) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(os.Stderr, nil)
	}
	return slog.NewTextHandler(os.Stderr, nil)
}

func generateRunID() string {
	timestamp := time.Now().UTC().Format("20060102T150405")
	return timestamp + "-" + uuid.NewString()[:8]
}
