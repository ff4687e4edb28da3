// Package batch buffers feature rows and flushes them as Snappy-compressed
// Parquet files (spec §4.F). Files are written under a ".tmp" name and
// atomically renamed into place on commit, adapted from
// internal/store/store.go's crash-safe write idiom (now retired — its
// temp-then-rename shape lives on here instead of a second, unneeded
// package).
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"polymarket-mm/internal/metrics"
	"polymarket-mm/pkg/types"
)

// Row is the on-disk Parquet schema, matching spec §6's column table
// exactly: optional scalars are nullable float64 (Parquet OPTIONAL,
// encoded as nil — never a sentinel string), top_bids/top_asks are JSON
// string columns, and timestamp is ISO-8601 UTC text.
type Row struct {
	Timestamp  string   `parquet:"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8"`
	BestBid    *float64 `parquet:"name=best_bid, type=DOUBLE, repetitiontype=OPTIONAL"`
	BestAsk    *float64 `parquet:"name=best_ask, type=DOUBLE, repetitiontype=OPTIONAL"`
	MidPrice   *float64 `parquet:"name=mid_price, type=DOUBLE, repetitiontype=OPTIONAL"`
	Microprice *float64 `parquet:"name=microprice, type=DOUBLE, repetitiontype=OPTIONAL"`
	Spread     *float64 `parquet:"name=spread, type=DOUBLE, repetitiontype=OPTIONAL"`

	Imbalance *float64 `parquet:"name=imbalance, type=DOUBLE, repetitiontype=OPTIONAL"`
	PWI1      *float64 `parquet:"name=pwi_1, type=DOUBLE, repetitiontype=OPTIONAL"`
	PWI5      *float64 `parquet:"name=pwi_5, type=DOUBLE, repetitiontype=OPTIONAL"`
	PWI25     *float64 `parquet:"name=pwi_25, type=DOUBLE, repetitiontype=OPTIONAL"`
	PWI50     *float64 `parquet:"name=pwi_50, type=DOUBLE, repetitiontype=OPTIONAL"`

	TopBids string `parquet:"name=top_bids, type=BYTE_ARRAY, convertedtype=UTF8"`
	TopAsks string `parquet:"name=top_asks, type=BYTE_ARRAY, convertedtype=UTF8"`

	BidSlope            *float64 `parquet:"name=bid_slope, type=DOUBLE, repetitiontype=OPTIONAL"`
	AskSlope            *float64 `parquet:"name=ask_slope, type=DOUBLE, repetitiontype=OPTIONAL"`
	VolumeImbalanceTop5 *float64 `parquet:"name=volume_imbalance_top5, type=DOUBLE, repetitiontype=OPTIONAL"`

	BidDepthRatio *float64 `parquet:"name=bid_depth_ratio, type=DOUBLE, repetitiontype=OPTIONAL"`
	AskDepthRatio *float64 `parquet:"name=ask_depth_ratio, type=DOUBLE, repetitiontype=OPTIONAL"`

	BidVolume001 *float64 `parquet:"name=bid_volume_001, type=DOUBLE, repetitiontype=OPTIONAL"`
	AskVolume001 *float64 `parquet:"name=ask_volume_001, type=DOUBLE, repetitiontype=OPTIONAL"`

	BidAvgDistance *float64 `parquet:"name=bid_avg_distance, type=DOUBLE, repetitiontype=OPTIONAL"`
	AskAvgDistance *float64 `parquet:"name=ask_avg_distance, type=DOUBLE, repetitiontype=OPTIONAL"`

	LastTradePrice *float64 `parquet:"name=last_trade_price, type=DOUBLE, repetitiontype=OPTIONAL"`
	TradeImbalance *float64 `parquet:"name=trade_imbalance, type=DOUBLE, repetitiontype=OPTIONAL"`
	VWAPTotal      *float64 `parquet:"name=vwap_total, type=DOUBLE, repetitiontype=OPTIONAL"`
	PriceChange    *float64 `parquet:"name=price_change, type=DOUBLE, repetitiontype=OPTIONAL"`
	AvgTradeSize   *float64 `parquet:"name=avg_trade_size, type=DOUBLE, repetitiontype=OPTIONAL"`

	SignedCountMomentum int64    `parquet:"name=signed_count_momentum, type=INT64"`
	TradeRate10s        *float64 `parquet:"name=trade_rate_10s, type=DOUBLE, repetitiontype=OPTIONAL"`

	OrderFlowImbalance    *float64 `parquet:"name=order_flow_imbalance, type=DOUBLE, repetitiontype=OPTIONAL"`
	OrderFlowPressure     float64  `parquet:"name=order_flow_pressure, type=DOUBLE"`
	OrderFlowSignificance bool     `parquet:"name=order_flow_significance, type=BOOLEAN"`

	VWAP10   *float64 `parquet:"name=vwap_10, type=DOUBLE, repetitiontype=OPTIONAL"`
	VWAP50   *float64 `parquet:"name=vwap_50, type=DOUBLE, repetitiontype=OPTIONAL"`
	VWAP100  *float64 `parquet:"name=vwap_100, type=DOUBLE, repetitiontype=OPTIONAL"`
	VWAP1000 *float64 `parquet:"name=vwap_1000, type=DOUBLE, repetitiontype=OPTIONAL"`

	AggrRatio10   *float64 `parquet:"name=aggr_ratio_10, type=DOUBLE, repetitiontype=OPTIONAL"`
	AggrRatio50   *float64 `parquet:"name=aggr_ratio_50, type=DOUBLE, repetitiontype=OPTIONAL"`
	AggrRatio100  *float64 `parquet:"name=aggr_ratio_100, type=DOUBLE, repetitiontype=OPTIONAL"`
	AggrRatio1000 *float64 `parquet:"name=aggr_ratio_1000, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// optFloat64 converts a decimal at the storage edge (spec §9: convert to
// binary float only for display/storage, never in the core). A nil input
// becomes a nil column value, not a sentinel.
func optFloat64(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

// levelsJSON renders a price-level slice as the JSON array of [price, qty]
// pairs spec §6 requires for the top_bids/top_asks columns.
func levelsJSON(levels []types.PriceLevel) string {
	pairs := make([][2]string, len(levels))
	for i, l := range levels {
		pairs[i] = [2]string{l.Price.String(), l.Quantity.String()}
	}
	b, err := json.Marshal(pairs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// toRow flattens a FeaturesSnapshot into its Parquet row representation.
func toRow(s types.FeaturesSnapshot) Row {
	return Row{
		Timestamp:             s.Timestamp.UTC().Format(time.RFC3339Nano),
		BestBid:               optFloat64(s.BestBid),
		BestAsk:               optFloat64(s.BestAsk),
		MidPrice:              optFloat64(s.MidPrice),
		Microprice:            optFloat64(s.Microprice),
		Spread:                optFloat64(s.Spread),
		Imbalance:             optFloat64(s.Imbalance),
		PWI1:                  optFloat64(s.PWI1),
		PWI5:                  optFloat64(s.PWI5),
		PWI25:                 optFloat64(s.PWI25),
		PWI50:                 optFloat64(s.PWI50),
		TopBids:               levelsJSON(s.TopBids),
		TopAsks:               levelsJSON(s.TopAsks),
		BidSlope:              optFloat64(s.BidSlope),
		AskSlope:              optFloat64(s.AskSlope),
		VolumeImbalanceTop5:   optFloat64(s.VolumeImbalanceTop5),
		BidDepthRatio:         optFloat64(s.BidDepthRatio),
		AskDepthRatio:         optFloat64(s.AskDepthRatio),
		BidVolume001:          optFloat64(s.BidVolume001),
		AskVolume001:          optFloat64(s.AskVolume001),
		BidAvgDistance:        optFloat64(s.BidAvgDistance),
		AskAvgDistance:        optFloat64(s.AskAvgDistance),
		LastTradePrice:        optFloat64(s.LastTradePrice),
		TradeImbalance:        optFloat64(s.TradeImbalance),
		VWAPTotal:             optFloat64(s.VWAPTotal),
		PriceChange:           optFloat64(s.PriceChange),
		AvgTradeSize:          optFloat64(s.AvgTradeSize),
		SignedCountMomentum:   s.SignedCountMomentum,
		TradeRate10s:          optFloat64(s.TradeRate10s),
		OrderFlowImbalance:    optFloat64(s.OrderFlowImbalance),
		OrderFlowPressure:     s.OrderFlowPressure.InexactFloat64(),
		OrderFlowSignificance: s.OrderFlowSignificance,
		VWAP10:                optFloat64(s.VWAP10),
		VWAP50:                optFloat64(s.VWAP50),
		VWAP100:               optFloat64(s.VWAP100),
		VWAP1000:              optFloat64(s.VWAP1000),
		AggrRatio10:           optFloat64(s.AggrRatio10),
		AggrRatio50:           optFloat64(s.AggrRatio50),
		AggrRatio100:          optFloat64(s.AggrRatio100),
		AggrRatio1000:         optFloat64(s.AggrRatio1000),
	}
}

// Writer drains a FeaturesSnapshot channel, accumulates rows, and commits a
// Parquet file every time the batch reaches size (spec §4.E/§4.F: the only
// flush trigger is |batch| >= BATCH_SIZE; there is no time-based flush).
type Writer struct {
	dataDir   string
	batchSize int

	metrics *metrics.Registry
	batchID int
}

// New creates a batch writer rooted at dataDir.
func New(dataDir string, batchSize int, reg *metrics.Registry) *Writer {
	return &Writer{
		dataDir:   dataDir,
		batchSize: batchSize,
		metrics:   reg,
	}
}

// Run drains rows until ctx is cancelled or the channel closes. Per spec
// §4.F/§9, a residual partial batch below BATCH_SIZE is discarded on
// shutdown rather than flushed.
func (w *Writer) Run(ctx context.Context, rows <-chan types.FeaturesSnapshot) error {
	if err := os.MkdirAll(w.dataDir, 0o755); err != nil {
		return fmt.Errorf("create batch dir: %w", err)
	}

	buf := make([]Row, 0, w.batchSize)

	// A failed commit is counted and its rows are discarded, like a
	// successful one's, so the next batch starts empty either way.
	flush := func() {
		if err := w.commit(buf); err != nil {
			w.metrics.BatchFlushErrors.Inc()
		} else {
			w.metrics.BatchesFlushed.Inc()
			w.metrics.BatchRowsWritten.Add(float64(len(buf)))
		}
		buf = buf[:0]
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-rows:
			if !ok {
				return nil
			}
			buf = append(buf, toRow(snap))
			if len(buf) >= w.batchSize {
				flush()
			}
		}
	}
}

// commit writes buf to a ".tmp" parquet file and atomically renames it into
// place, so a reader only ever observes complete files. The final name
// follows spec §4.E's template: features_<YYYYMMDD_HHMMSS>_<NNN>.parquet,
// where the prefix is the local wall clock at flush and NNN is this
// writer's monotonically incremented batch id.
func (w *Writer) commit(buf []Row) error {
	w.batchID++
	name := fmt.Sprintf("features_%s_%03d.parquet", time.Now().Format("20060102_150405"), w.batchID)
	final := filepath.Join(w.dataDir, name)
	tmp := final + ".tmp"

	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return fmt.Errorf("open parquet file: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(Row), 4)
	if err != nil {
		fw.Close()
		os.Remove(tmp)
		return fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range buf {
		if err := pw.Write(buf[i]); err != nil {
			pw.WriteStop()
			fw.Close()
			os.Remove(tmp)
			return fmt.Errorf("write row: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		os.Remove(tmp)
		return fmt.Errorf("finalize parquet file: %w", err)
	}
	if err := fw.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close parquet file: %w", err)
	}

	return os.Rename(tmp, final)
}
