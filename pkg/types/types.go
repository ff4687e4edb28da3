// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the ingestor — trade and
// flow-event records, wire DTOs for the two inbound feeds, and the flattened
// feature record the analytics loop emits. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a single tape print. IsBuyerMaker=true means the aggressor was
// the seller (the buyer rested and was hit).
type Trade struct {
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	TimestampMs  int64
	IsBuyerMaker bool
}

// FlowEventKind tags the four event variants the flow tracker consumes.
type FlowEventKind int

const (
	BidOrder FlowEventKind = iota
	AskOrder
	BidCancel
	AskCancel
)

func (k FlowEventKind) String() string {
	switch k {
	case BidOrder:
		return "bid_order"
	case AskOrder:
		return "ask_order"
	case BidCancel:
		return "bid_cancel"
	case AskCancel:
		return "ask_cancel"
	default:
		return "unknown"
	}
}

// FlowEvent is a tagged add/cancel event fed to the rolling flow tracker.
// Quantity is unused (zero) for the two cancel variants.
type FlowEvent struct {
	Kind     FlowEventKind
	Quantity decimal.Decimal
}

// PriceLevel is a single resting (price, quantity) pair, as returned by
// book queries like TopBids/TopAsks.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// BinanceDepthEvent is the wire shape of one LOB feed message: a combined
// depth update (or snapshot, depending on feed configuration) carrying two
// arrays of [price_string, quantity_string] pairs.
type BinanceDepthEvent struct {
	EventType string      `json:"e"`
	EventTime int64       `json:"E"`
	Symbol    string      `json:"s"`
	Bids      [][2]string `json:"b"`
	Asks      [][2]string `json:"a"`
}

// BinanceTradeEvent is the wire shape of one trade feed message.
type BinanceTradeEvent struct {
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TimestampMs  int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// FeaturesSnapshot is one row of the analytics loop's output: every scalar
// from the order book, trades log, and flow tracker, pivoted into a flat
// schema matching the batch file's column layout (spec §6).
type FeaturesSnapshot struct {
	Timestamp time.Time

	BestBid    *decimal.Decimal
	BestAsk    *decimal.Decimal
	MidPrice   *decimal.Decimal
	Microprice *decimal.Decimal // reserved; never computed by the core
	Spread     *decimal.Decimal

	Imbalance *decimal.Decimal
	PWI1      *decimal.Decimal
	PWI5      *decimal.Decimal
	PWI25     *decimal.Decimal
	PWI50     *decimal.Decimal

	TopBids []PriceLevel
	TopAsks []PriceLevel

	BidSlope            *decimal.Decimal
	AskSlope            *decimal.Decimal
	VolumeImbalanceTop5 *decimal.Decimal

	BidDepthRatio *decimal.Decimal
	AskDepthRatio *decimal.Decimal

	BidVolume001 *decimal.Decimal
	AskVolume001 *decimal.Decimal

	BidAvgDistance *decimal.Decimal
	AskAvgDistance *decimal.Decimal

	LastTradePrice *decimal.Decimal
	TradeImbalance *decimal.Decimal
	VWAPTotal      *decimal.Decimal
	PriceChange    *decimal.Decimal
	AvgTradeSize   *decimal.Decimal

	SignedCountMomentum int64

	TradeRate10s *decimal.Decimal

	OrderFlowImbalance    *decimal.Decimal
	OrderFlowPressure     decimal.Decimal
	OrderFlowSignificance bool

	VWAP10   *decimal.Decimal
	VWAP50   *decimal.Decimal
	VWAP100  *decimal.Decimal
	VWAP1000 *decimal.Decimal

	AggrRatio10   *decimal.Decimal
	AggrRatio50   *decimal.Decimal
	AggrRatio100  *decimal.Decimal
	AggrRatio1000 *decimal.Decimal
}
