// Package analytics implements the periodic feature-assembly loop
// (spec §4.E): on a fixed tick, pull one consistent snapshot from the book
// and the trades log, flatten them into a single row, log a console
// summary, and forward the row to the batch writer.
//
// Grounded on original_source/src/analytics.rs's spawn_analytics_task
// (tick-assemble-print loop) and yoghaf-market-indikator/internal/logger/csv.go's
// non-blocking channel handoff to an independent writer goroutine.
package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/book"
	"polymarket-mm/internal/metrics"
	"polymarket-mm/internal/trades"
	"polymarket-mm/pkg/types"
)

// Loop owns the snapshot ticker and the handoff channel to the batch
// writer. Rows are dropped (never blocked) if the writer falls behind,
// matching the teacher's hot-path-never-blocks discipline.
type Loop struct {
	book   *book.Book
	trades *trades.Log

	interval time.Duration
	rows     chan types.FeaturesSnapshot

	metrics *metrics.Registry
	logger  *slog.Logger
}

// New creates a loop that samples book and trades every interval, buffering
// up to rowBuffer rows for the batch writer to drain.
func New(b *book.Book, tl *trades.Log, interval time.Duration, rowBuffer int, reg *metrics.Registry, logger *slog.Logger) *Loop {
	return &Loop{
		book:     b,
		trades:   tl,
		interval: interval,
		rows:     make(chan types.FeaturesSnapshot, rowBuffer),
		metrics:  reg,
		logger:   logger.With("component", "analytics"),
	}
}

// Rows returns the channel of assembled feature rows for the batch writer
// to consume.
func (l *Loop) Rows() <-chan types.FeaturesSnapshot { return l.rows }

// Run ticks every interval until ctx is cancelled, assembling and emitting
// one row per tick.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := l.assemble()
			l.logSummary(snap)
			l.metrics.SnapshotsEmitted.Inc()

			select {
			case l.rows <- snap:
			default:
				l.logger.Warn("batch channel full, dropping row")
			}
		}
	}
}

// assemble pulls one book snapshot and one trades snapshot and flattens
// them into a FeaturesSnapshot row.
func (l *Loop) assemble() types.FeaturesSnapshot {
	bs := l.book.GetSnapshot()
	ts := l.trades.GetSnapshot()

	snap := types.FeaturesSnapshot{
		Timestamp: time.Now().UTC(),

		MidPrice: bs.MidPrice,
		Spread:   bs.Spread,

		Imbalance: bs.Imbalance,
		PWI1:      bs.PWI1,
		PWI5:      bs.PWI5,
		PWI25:     bs.PWI25,
		PWI50:     bs.PWI50,

		TopBids: bs.TopBids,
		TopAsks: bs.TopAsks,

		BidSlope:            bs.BidSlope,
		AskSlope:            bs.AskSlope,
		VolumeImbalanceTop5: bs.VolumeImbalanceTop5,

		BidDepthRatio: &bs.BidDepthRatio,
		AskDepthRatio: &bs.AskDepthRatio,

		BidVolume001: bs.BidVolume001,
		AskVolume001: bs.AskVolume001,

		BidAvgDistance: bs.BidAvgDistance,
		AskAvgDistance: bs.AskAvgDistance,

		LastTradePrice: ts.LastPrice,
		TradeImbalance: ts.TradeImbalance,
		VWAPTotal:      ts.VWAPTotal,
		PriceChange:    ts.PriceChange,
		AvgTradeSize:   ts.AvgTradeSize,

		SignedCountMomentum: ts.SignedCountMomentum,
		TradeRate10s:        ts.TradeRate10s,

		OrderFlowImbalance:    bs.OrderFlowImbalance,
		OrderFlowPressure:     bs.OrderFlowPressure,
		OrderFlowSignificance: bs.OrderFlowPressure.GreaterThanOrEqual(decimal.NewFromInt(10)),

		VWAP10:   ts.VWAP10,
		VWAP50:   ts.VWAP50,
		VWAP100:  ts.VWAP100,
		VWAP1000: ts.VWAP1000,

		AggrRatio10:   ts.AggrRatio10,
		AggrRatio50:   ts.AggrRatio50,
		AggrRatio100:  ts.AggrRatio100,
		AggrRatio1000: ts.AggrRatio1000,
	}

	if bs.BestBid != nil {
		snap.BestBid = &bs.BestBid.Price
	}
	if bs.BestAsk != nil {
		snap.BestAsk = &bs.BestAsk.Price
	}

	return snap
}

// logSummary mirrors the teacher's console-dashboard cadence, but via
// structured slog fields instead of raw prints, matching this repo's
// ambient logging convention.
func (l *Loop) logSummary(s types.FeaturesSnapshot) {
	attrs := []any{
		"mid", decStr(s.MidPrice),
		"spread", decStr(s.Spread),
		"imbalance", decStr(s.Imbalance),
		"vol_imbalance_top5", decStr(s.VolumeImbalanceTop5),
		"last_trade", decStr(s.LastTradePrice),
		"vwap_50", decStr(s.VWAP50),
		"aggr_ratio_50", decStr(s.AggrRatio50),
		"momentum", s.SignedCountMomentum,
		"flow_imbalance", decStr(s.OrderFlowImbalance),
		"flow_pressure", s.OrderFlowPressure.String(),
	}
	l.logger.Info("snapshot", attrs...)
}

func decStr(d *decimal.Decimal) string {
	if d == nil {
		return "n/a"
	}
	return d.String()
}
