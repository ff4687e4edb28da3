// Package engine is the central orchestrator of the ingestor (spec §4.G).
//
// It wires together all subsystems:
//
//  1. Two WebSocket feeds (LOB depth + trade tape) decode wire events.
//  2. A dispatcher goroutine applies depth events to the Book and trade
//     events to the Trades log.
//  3. The analytics loop samples both on a fixed tick and hands feature
//     rows to the batch writer.
//  4. The batch writer accumulates rows and commits Parquet files.
//  5. An HTTP server exposes /metrics and /healthz.
//
// Lifecycle: New() → Start() → [runs until SIGINT or any task exits] → Stop().
// Grounded on internal/engine/engine.go's wg.Add/go func/defer wg.Done
// goroutine bookkeeping and its cancel-then-wait shutdown sequence, stripped
// of per-market slot management since this system has one book, not many.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"polymarket-mm/internal/analytics"
	"polymarket-mm/internal/batch"
	"polymarket-mm/internal/book"
	"polymarket-mm/internal/config"
	"polymarket-mm/internal/feed"
	"polymarket-mm/internal/flow"
	"polymarket-mm/internal/metrics"
	"polymarket-mm/internal/trades"
	"polymarket-mm/pkg/types"
)

// Supervisor owns every long-running component and their shared context.
type Supervisor struct {
	cfg config.Config

	book   *book.Book
	trades *trades.Log

	depthFeed *feed.DepthFeed
	tradeFeed *feed.TradeFeed
	analytics *analytics.Loop
	batch     *batch.Writer

	metrics       *metrics.Registry
	metricsServer *metrics.Server

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	errOnce  sync.Once
	firstErr error
}

// New wires every component from cfg. It does not start any goroutine.
func New(cfg config.Config, logger *slog.Logger) *Supervisor {
	reg := metrics.New()

	b := book.New(flow.Config{
		Window:        cfg.Flow.Window,
		CancelPenalty: cfg.Flow.CancelPenalty,
		MinPressure:   cfg.Flow.MinPressure,
	})
	tl := trades.New(cfg.Trades.Capacity)

	df := feed.NewDepthFeed(cfg.Feeds.LOBURL, cfg.Feeds.LOBIsDelta, cfg.Feeds.DialTimeout, cfg.Feeds.PingInterval, reg, logger)
	tf := feed.NewTradeFeed(cfg.Feeds.TradeURL, cfg.Feeds.DialTimeout, cfg.Feeds.PingInterval, reg, logger)

	al := analytics.New(b, tl, cfg.Analytics.SnapshotInterval, cfg.Analytics.BatchSize, reg, logger)
	bw := batch.New(cfg.Store.DataDir, cfg.Analytics.BatchSize, reg)

	var ms *metrics.Server
	if cfg.Metrics.Enabled {
		ms = metrics.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port), reg)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Supervisor{
		cfg:           cfg,
		book:          b,
		trades:        tl,
		depthFeed:     df,
		tradeFeed:     tf,
		analytics:     al,
		batch:         bw,
		metrics:       reg,
		metricsServer: ms,
		logger:        logger.With("component", "supervisor"),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Book exposes the resident order book (for tests and introspection).
func (s *Supervisor) Book() *book.Book { return s.book }

// Trades exposes the resident trades log (for tests and introspection).
func (s *Supervisor) Trades() *trades.Log { return s.trades }

// Start launches every goroutine: both feeds, the dispatcher, the analytics
// loop, the batch writer, and (if enabled) the metrics server.
func (s *Supervisor) Start() {
	s.spawn("depth_feed", func(ctx context.Context) error {
		return s.depthFeed.Run(ctx)
	})
	s.spawn("trade_feed", func(ctx context.Context) error {
		return s.tradeFeed.Run(ctx)
	})
	s.spawn("dispatcher", func(ctx context.Context) error {
		s.dispatch(ctx)
		return nil
	})
	s.spawn("analytics", func(ctx context.Context) error {
		return s.analytics.Run(ctx)
	})
	s.spawn("batch_writer", func(ctx context.Context) error {
		return s.batch.Run(ctx, s.analytics.Rows())
	})

	if s.metricsServer != nil {
		s.spawn("metrics_server", func(ctx context.Context) error {
			return s.metricsServer.Run(ctx)
		})
	}
}

// spawn runs fn under the supervisor's context and WaitGroup. Any
// non-context-cancellation error triggers a full shutdown (spec §4.G: the
// supervisor exits if any task terminates unexpectedly).
func (s *Supervisor) spawn(name string, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(s.ctx); err != nil && s.ctx.Err() == nil {
			s.logger.Error("task exited", "task", name, "error", err)
			s.errOnce.Do(func() { s.firstErr = fmt.Errorf("%s: %w", name, err) })
			s.cancel()
		}
	}()
}

// dispatch drains both feed channels and applies events to the book and
// trades log until ctx is cancelled.
func (s *Supervisor) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.depthFeed.Events():
			if !ok {
				return
			}
			s.applyDepthEvent(evt)
		case evt, ok := <-s.tradeFeed.Events():
			if !ok {
				return
			}
			s.applyTradeEvent(evt)
		}
	}
}

func (s *Supervisor) applyDepthEvent(evt types.BinanceDepthEvent) {
	bids, badBids := decodeLevels(evt.Bids)
	asks, badAsks := decodeLevels(evt.Asks)
	if badBids > 0 {
		s.metrics.BookApplyErrors.WithLabelValues("malformed_bid").Add(float64(badBids))
	}
	if badAsks > 0 {
		s.metrics.BookApplyErrors.WithLabelValues("malformed_ask").Add(float64(badAsks))
	}

	if s.depthFeed.IsDelta() {
		s.book.ApplyDeltas(bids, asks)
	} else {
		s.book.ApplySnapshot(bids, asks)
	}
}

func (s *Supervisor) applyTradeEvent(evt types.BinanceTradeEvent) {
	price, err := decodeDecimal(evt.Price)
	if err != nil {
		s.metrics.BookApplyErrors.WithLabelValues("malformed_trade_price").Inc()
		return
	}
	qty, err := decodeDecimal(evt.Quantity)
	if err != nil {
		s.metrics.BookApplyErrors.WithLabelValues("malformed_trade_qty").Inc()
		return
	}

	s.trades.Insert(types.Trade{
		Price:        price,
		Quantity:     qty,
		TimestampMs:  evt.TimestampMs,
		IsBuyerMaker: evt.IsBuyerMaker,
	})
	s.metrics.TradesProcessed.Inc()
}

// Stop cancels the shared context and waits for every goroutine to exit.
// Returns the first error encountered by any task, if any.
func (s *Supervisor) Stop() error {
	s.logger.Info("shutting down")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("shutdown complete")
	return s.firstErr
}

// Done returns a channel closed once the supervisor's context is
// cancelled, whether by Stop or by an internal task failure.
func (s *Supervisor) Done() <-chan struct{} { return s.ctx.Done() }
