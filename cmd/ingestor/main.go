// ingestor — a real-time market-data collector that mirrors a Binance-style
// order book and trade tape, derives a flattened feature row on a fixed
// tick, and commits the rows as Snappy-compressed Parquet batches.
//
// Architecture:
//
//	main.go               — entry point: loads config, starts the supervisor, waits for SIGINT/SIGTERM
//	engine/engine.go       — orchestrator: wires feeds → book/trades → analytics → batch writer
//	feed/feed.go           — WebSocket connectors (depth + trade) with auto-reconnect
//	book/book.go           — local order book: snapshot/delta application, flow tracker, analytical queries
//	flow/flow.go           — rolling, age-weighted order-flow pressure tracker
//	trades/trades.go       — fixed-capacity trades ring with lazily refreshed cached stats
//	analytics/analytics.go — periodic feature-assembly loop
//	batch/batch.go         — Parquet+Snappy batch writer with atomic file commit
//	metrics/metrics.go     — Prometheus counters/gauges, /metrics and /healthz
//
// What it produces:
//
//	Every snapshot_interval, the ingestor samples the resident book (under
//	one read lock) and the trades log (under its own lock), computing
//	depth/flow/trade features (imbalance, price-weighted imbalance, slope,
//	VWAP, aggressor ratio, rolling flow pressure, and more) and appends one
//	row per tick to the active batch. A batch commits to disk once it holds
//	batch_size rows; there is no time-based commit.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("INGESTOR_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	sup := engine.New(*cfg, logger)
	sup.Start()

	logger.Info("ingestor started",
		"symbol", cfg.Feeds.Symbol,
		"lob_url", cfg.Feeds.LOBURL,
		"trade_url", cfg.Feeds.TradeURL,
		"trades_capacity", cfg.Trades.Capacity,
		"snapshot_interval", cfg.Analytics.SnapshotInterval,
		"metrics_enabled", cfg.Metrics.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-sup.Done():
		logger.Warn("a task exited unexpectedly, shutting down")
	}

	if err := sup.Stop(); err != nil {
		logger.Error("task error during run", "error", err)
		os.Exit(1)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
