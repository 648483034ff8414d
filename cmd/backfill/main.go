package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"rebalancer/internal/backfill"
	"rebalancer/internal/broker"
	"rebalancer/internal/ledger"
	"rebalancer/internal/queue"
)

func main() {
	var (
		ledgerPath = flag.String("ledger-path", "ledger.db", "path to the sqlite trade ledger")
		apiURL     = flag.String("api-url", broker.DefaultKrakenURL, "kraken REST base URL")
		pairs      = flag.String("pairs", "", "comma separated Kraken pair names, e.g. XXBTZEUR,XETHZEUR")
		interval   = flag.Duration("interval", time.Hour, "bucket width of one trade record")
		lookback   = flag.Duration("lookback", 24*time.Hour, "how far back to fetch trades")
		maxPages   = flag.Int("max-pages", 1000, "trade history pages fetched per pair")
		retries    = flag.Int("read-retries", 5, "retries per trade history request")
		backoff    = flag.Duration("retry-backoff", 2*time.Second, "delay between attempts")
		timeout    = flag.Duration("call-timeout", 30*time.Second, "timeout per exchange call")
	)
	flag.Parse()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	var names []string
	for _, name := range strings.Split(*pairs, ",") {
		if name = strings.ToUpper(strings.TrimSpace(name)); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		log.Fatalf("no pairs given, use -pairs")
	}
	if *interval <= 0 {
		log.Fatalf("interval must be > 0")
	}

	store, err := ledger.Open(*ledgerPath)
	if err != nil {
		log.Fatalf("ledger error: %v", err)
	}

	// public endpoints only, no credentials
	kraken, err := broker.NewKraken(*apiURL, "", "")
	if err != nil {
		_ = store.Close()
		log.Fatalf("kraken client error: %v", err)
	}

	runner := backfill.Runner{
		Gateway:  kraken,
		Ledger:   store,
		Interval: *interval,
		Policy:   queue.Policy{Retries: *retries, Backoff: *backoff, Timeout: *timeout},
		MaxPages: *maxPages,
	}
	written, err := runner.Run(context.Background(), names, *lookback)
	if closeErr := store.Close(); closeErr != nil {
		log.Printf("failed to close ledger: %v", closeErr)
	}
	if err != nil {
		log.Fatalf("backfill stopped after %d records: %v", written, err)
	}
	log.Printf("backfill complete records=%d pairs=%d", written, len(names))
}
