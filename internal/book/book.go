// Package book implements the order book (spec §4.A): a price-keyed,
// two-sided sorted structure supporting snapshot replacement and
// incremental deltas, with cached best levels and a set of O(depth)
// analytical queries. It owns the rolling flow tracker (spec §4.B) and
// feeds it from apply_deltas, since the two share one write guard
// (spec §5, §9 "shared mutable state").
package book

import (
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"polymarket-mm/internal/flow"
	"polymarket-mm/pkg/types"
)

type level struct {
	price decimal.Decimal
	qty   decimal.Decimal
}

// Book is the many-reader/single-writer order book. Feeds take the write
// lock via ApplySnapshot/ApplyDeltas; the analytics loop takes the read
// lock via GetSnapshot and the individual query methods.
type Book struct {
	mu sync.RWMutex

	bids *btree.BTreeG[level] // greatest price first
	asks *btree.BTreeG[level] // least price first

	bestBid *level
	bestAsk *level

	Flow *flow.Tracker
}

// New creates an empty book with the given flow-tracker configuration.
func New(flowCfg flow.Config) *Book {
	return &Book{
		bids: btree.NewBTreeG(func(a, b level) bool { return a.price.GreaterThan(b.price) }),
		asks: btree.NewBTreeG(func(a, b level) bool { return a.price.LessThan(b.price) }),
		Flow: flow.New(flowCfg),
	}
}

// ApplySnapshot atomically replaces both sides. Negative price or quantity
// is rejected; zero quantity is treated as absence and not inserted
// (spec §4.A, diverging here from the source's literal "insert qty>=0").
func (b *Book) ApplySnapshot(bids, asks []types.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids.Clear()
	b.asks.Clear()

	for _, pl := range bids {
		if pl.Price.IsNegative() || pl.Quantity.IsNegative() || pl.Quantity.IsZero() {
			continue
		}
		b.bids.Set(level{price: pl.Price, qty: pl.Quantity})
	}
	for _, pl := range asks {
		if pl.Price.IsNegative() || pl.Quantity.IsNegative() || pl.Quantity.IsZero() {
			continue
		}
		b.asks.Set(level{price: pl.Price, qty: pl.Quantity})
	}

	b.updateBests()
}

// ApplyDeltas applies incremental updates to both sides. Per (p, q): q == 0
// removes p (no-op if absent); otherwise sets the entry to q. Negative p or
// q are rejected silently. Each non-skipped update is mirrored to the flow
// tracker: a cancel event fires iff the price was present before removal —
// this coupling is load-bearing for the pressure metric (spec §4.B).
func (b *Book) ApplyDeltas(bids, asks []types.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, pl := range bids {
		b.applyOneLocked(b.bids, pl, types.BidOrder, types.BidCancel)
	}
	for _, pl := range asks {
		b.applyOneLocked(b.asks, pl, types.AskOrder, types.AskCancel)
	}

	b.updateBests()
}

func (b *Book) applyOneLocked(side *btree.BTreeG[level], pl types.PriceLevel, addKind, cancelKind types.FlowEventKind) {
	if pl.Price.IsNegative() || pl.Quantity.IsNegative() {
		return
	}
	if pl.Quantity.IsZero() {
		if _, existed := side.Delete(level{price: pl.Price}); existed {
			b.Flow.AddEvent(types.FlowEvent{Kind: cancelKind})
		}
		return
	}
	side.Set(level{price: pl.Price, qty: pl.Quantity})
	b.Flow.AddEvent(types.FlowEvent{Kind: addKind, Quantity: pl.Quantity})
}

func (b *Book) updateBests() {
	if lv, ok := b.bids.Min(); ok {
		cp := lv
		b.bestBid = &cp
	} else {
		b.bestBid = nil
	}
	if lv, ok := b.asks.Min(); ok {
		cp := lv
		b.bestAsk = &cp
	} else {
		b.bestAsk = nil
	}
}

// BestBid returns the cached best bid level, or nil if the book has no bids.
func (b *Book) BestBid() *types.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return levelToPL(b.bestBid)
}

// BestAsk returns the cached best ask level, or nil if the book has no asks.
func (b *Book) BestAsk() *types.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return levelToPL(b.bestAsk)
}

func levelToPL(lv *level) *types.PriceLevel {
	if lv == nil {
		return nil
	}
	return &types.PriceLevel{Price: lv.price, Quantity: lv.qty}
}

// MidPrice returns (best_bid + best_ask) / 2 when both exist.
func (b *Book) MidPrice() *decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.midLocked()
}

func (b *Book) midLocked() *decimal.Decimal {
	if b.bestBid == nil || b.bestAsk == nil {
		return nil
	}
	mid := b.bestBid.price.Add(b.bestAsk.price).Div(decimal.NewFromInt(2))
	return &mid
}

// Spread returns best_ask - best_bid when both exist.
func (b *Book) Spread() *decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.bestBid == nil || b.bestAsk == nil {
		return nil
	}
	s := b.bestAsk.price.Sub(b.bestBid.price)
	return &s
}

// OrderBookImbalance returns best_bid_qty / (best_bid_qty + best_ask_qty),
// or nil if either side is absent or the total is zero.
func (b *Book) OrderBookImbalance() *decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.bestBid == nil || b.bestAsk == nil {
		return nil
	}
	total := b.bestBid.qty.Add(b.bestAsk.qty)
	if total.IsZero() {
		return nil
	}
	imb := b.bestBid.qty.Div(total)
	return &imb
}

// TopBids returns up to n best bid levels, descending by price.
func (b *Book) TopBids(n int) []types.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.topLocked(b.bids, n)
}

// TopAsks returns up to n best ask levels, ascending by price.
func (b *Book) TopAsks(n int) []types.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.topLocked(b.asks, n)
}

func (b *Book) topLocked(side *btree.BTreeG[level], n int) []types.PriceLevel {
	if n <= 0 {
		return nil
	}
	out := make([]types.PriceLevel, 0, n)
	side.Scan(func(lv level) bool {
		out = append(out, types.PriceLevel{Price: lv.price, Quantity: lv.qty})
		return len(out) < n
	})
	return out
}

// VolumeAtPrice returns the quantity resting at p on the given side, or
// zero if absent.
func (b *Book) VolumeAtPrice(p decimal.Decimal, isBid bool) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	side := b.asks
	if isBid {
		side = b.bids
	}
	if lv, ok := side.Get(level{price: p}); ok {
		return lv.qty
	}
	return decimal.Zero
}

// CumulativeVolumeUpTo sums quantity from the best level inward while the
// predicate price >= p (bids) or price <= p (asks) holds.
func (b *Book) CumulativeVolumeUpTo(p decimal.Decimal, isBid bool) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := decimal.Zero
	side := b.asks
	if isBid {
		side = b.bids
	}
	side.Scan(func(lv level) bool {
		holds := lv.price.LessThanOrEqual(p)
		if isBid {
			holds = lv.price.GreaterThanOrEqual(p)
		}
		if !holds {
			return false
		}
		total = total.Add(lv.qty)
		return true
	})
	return total
}

// PriceWeightedImbalancePercent computes Bw/(Bw+Aw) over the mid +/- pct%
// band, where Bw/Aw are price*qty sums on each side within the band.
// Returns nil if mid is absent or the total weighted notional is zero.
func (b *Book) PriceWeightedImbalancePercent(pct decimal.Decimal) *decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.priceWeightedImbalancePercentLocked(pct)
}

func (b *Book) priceWeightedImbalancePercentLocked(pct decimal.Decimal) *decimal.Decimal {
	mid := b.midLocked()
	if mid == nil {
		return nil
	}
	delta := mid.Mul(pct).Div(decimal.NewFromInt(100))
	lower := mid.Sub(delta)
	upper := mid.Add(delta)

	bw := decimal.Zero
	b.bids.Scan(func(lv level) bool {
		if lv.price.GreaterThanOrEqual(lower) {
			bw = bw.Add(lv.price.Mul(lv.qty))
		}
		return true
	})
	aw := decimal.Zero
	b.asks.Scan(func(lv level) bool {
		if lv.price.LessThanOrEqual(upper) {
			aw = aw.Add(lv.price.Mul(lv.qty))
		}
		return true
	})

	total := bw.Add(aw)
	if total.IsPositive() {
		r := bw.Div(total)
		return &r
	}
	return nil
}

// Slope returns (bid_slope, ask_slope) over up to `levels` best entries per
// side. nil, nil if either best is absent; a per-side zero denominator
// yields a zero slope for that side rather than nil.
func (b *Book) Slope(levels int) (*decimal.Decimal, *decimal.Decimal) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.slopeLocked(levels)
}

func (b *Book) slopeLocked(levels int) (*decimal.Decimal, *decimal.Decimal) {
	if b.bestBid == nil || b.bestAsk == nil {
		return nil, nil
	}

	bidNum, bidDen := decimal.Zero, decimal.Zero
	count := 0
	b.bids.Scan(func(lv level) bool {
		if count >= levels {
			return false
		}
		dist := b.bestBid.price.Sub(lv.price)
		bidNum = bidNum.Add(dist.Mul(lv.qty))
		bidDen = bidDen.Add(lv.qty)
		count++
		return true
	})
	bidSlope := decimal.Zero
	if bidDen.IsPositive() {
		bidSlope = bidNum.Div(bidDen)
	}

	askNum, askDen := decimal.Zero, decimal.Zero
	count = 0
	b.asks.Scan(func(lv level) bool {
		if count >= levels {
			return false
		}
		dist := lv.price.Sub(b.bestAsk.price)
		askNum = askNum.Add(dist.Mul(lv.qty))
		askDen = askDen.Add(lv.qty)
		count++
		return true
	})
	askSlope := decimal.Zero
	if askDen.IsPositive() {
		askSlope = askNum.Div(askDen)
	}

	return &bidSlope, &askSlope
}

// VolumeImbalance is the top-5 aggregate: sum5(bid_qty) / (sum5(bid_qty) +
// sum5(ask_qty)), taking the best five levels per side.
func (b *Book) VolumeImbalance() *decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.volumeImbalanceLocked()
}

func (b *Book) volumeImbalanceLocked() *decimal.Decimal {
	bidQty := sumTopN(b.bids, 5)
	askQty := sumTopN(b.asks, 5)
	total := bidQty.Add(askQty)
	if total.IsPositive() {
		r := bidQty.Div(total)
		return &r
	}
	return nil
}

func sumTopN(side *btree.BTreeG[level], n int) decimal.Decimal {
	total := decimal.Zero
	count := 0
	side.Scan(func(lv level) bool {
		if count >= n {
			return false
		}
		total = total.Add(lv.qty)
		count++
		return true
	})
	return total
}

// DepthRatio returns (top3/top10) per side; zero (not nil) when the
// denominator is zero.
func (b *Book) DepthRatio() (decimal.Decimal, decimal.Decimal) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.depthRatioLocked()
}

func (b *Book) depthRatioLocked() (decimal.Decimal, decimal.Decimal) {
	bidTop3 := sumTopN(b.bids, 3)
	bidTop10 := sumTopN(b.bids, 10)
	askTop3 := sumTopN(b.asks, 3)
	askTop10 := sumTopN(b.asks, 10)

	bidRatio := decimal.Zero
	if bidTop10.IsPositive() {
		bidRatio = bidTop3.Div(bidTop10)
	}
	askRatio := decimal.Zero
	if askTop10.IsPositive() {
		askRatio = askTop3.Div(askTop10)
	}
	return bidRatio, askRatio
}

// VolumeWithinPercentRange sums quantity within mid +/- mid*pct/100 per
// side. Returns nil, nil if mid is absent.
func (b *Book) VolumeWithinPercentRange(pct decimal.Decimal) (*decimal.Decimal, *decimal.Decimal) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.volumeWithinPercentRangeLocked(pct)
}

func (b *Book) volumeWithinPercentRangeLocked(pct decimal.Decimal) (*decimal.Decimal, *decimal.Decimal) {
	mid := b.midLocked()
	if mid == nil {
		return nil, nil
	}
	delta := mid.Mul(pct).Div(decimal.NewFromInt(100))
	lower := mid.Sub(delta)
	upper := mid.Add(delta)

	bidVol := decimal.Zero
	b.bids.Scan(func(lv level) bool {
		if lv.price.GreaterThanOrEqual(lower) {
			bidVol = bidVol.Add(lv.qty)
		}
		return true
	})
	askVol := decimal.Zero
	b.asks.Scan(func(lv level) bool {
		if lv.price.LessThanOrEqual(upper) {
			askVol = askVol.Add(lv.qty)
		}
		return true
	})
	return &bidVol, &askVol
}

// AvgPriceDistance returns the mean signed distance from mid over the top
// `levels` of each side. nil, nil if mid is absent.
func (b *Book) AvgPriceDistance(levels int) (*decimal.Decimal, *decimal.Decimal) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.avgPriceDistanceLocked(levels)
}

func (b *Book) avgPriceDistanceLocked(levels int) (*decimal.Decimal, *decimal.Decimal) {
	mid := b.midLocked()
	if mid == nil {
		return nil, nil
	}

	bidDist := decimal.Zero
	count := 0
	b.bids.Scan(func(lv level) bool {
		if count >= levels {
			return false
		}
		bidDist = bidDist.Add(mid.Sub(lv.price))
		count++
		return true
	})
	askDist := decimal.Zero
	count = 0
	b.asks.Scan(func(lv level) bool {
		if count >= levels {
			return false
		}
		askDist = askDist.Add(lv.price.Sub(*mid))
		count++
		return true
	})

	n := decimal.NewFromInt(int64(levels))
	bidAvg := bidDist.Div(n)
	askAvg := askDist.Div(n)
	return &bidAvg, &askAvg
}

// Snapshot packs every scalar query above plus top 5 levels per side and
// the flow tracker's current (imbalance, pressure), all derived from one
// consistent read-locked view (spec §8 invariant 4).
type Snapshot struct {
	BestBid  *types.PriceLevel
	BestAsk  *types.PriceLevel
	MidPrice *decimal.Decimal
	Spread   *decimal.Decimal

	Imbalance *decimal.Decimal
	PWI1      *decimal.Decimal
	PWI5      *decimal.Decimal
	PWI25     *decimal.Decimal
	PWI50     *decimal.Decimal

	TopBids []types.PriceLevel
	TopAsks []types.PriceLevel

	BidSlope            *decimal.Decimal
	AskSlope            *decimal.Decimal
	VolumeImbalanceTop5 *decimal.Decimal

	BidDepthRatio decimal.Decimal
	AskDepthRatio decimal.Decimal

	BidVolume001 *decimal.Decimal
	AskVolume001 *decimal.Decimal

	BidAvgDistance *decimal.Decimal
	AskAvgDistance *decimal.Decimal

	OrderFlowImbalance *decimal.Decimal
	OrderFlowPressure  decimal.Decimal
}

// GetSnapshot takes the read lock once and derives every field from the
// same map state and the same flow-tracker queue (spec §5 ordering
// guarantees, §8 invariant 4).
func (b *Book) GetSnapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	mid := b.midLocked()
	var spread *decimal.Decimal
	if b.bestBid != nil && b.bestAsk != nil {
		s := b.bestAsk.price.Sub(b.bestBid.price)
		spread = &s
	}
	var imbalance *decimal.Decimal
	if b.bestBid != nil && b.bestAsk != nil {
		total := b.bestBid.qty.Add(b.bestAsk.qty)
		if !total.IsZero() {
			i := b.bestBid.qty.Div(total)
			imbalance = &i
		}
	}
	bestBid := levelToPL(b.bestBid)
	bestAsk := levelToPL(b.bestAsk)
	topBids := b.topLocked(b.bids, 5)
	topAsks := b.topLocked(b.asks, 5)

	pwi1 := b.priceWeightedImbalancePercentLocked(decimal.NewFromInt(1))
	pwi5 := b.priceWeightedImbalancePercentLocked(decimal.NewFromInt(5))
	pwi25 := b.priceWeightedImbalancePercentLocked(decimal.NewFromInt(25))
	pwi50 := b.priceWeightedImbalancePercentLocked(decimal.NewFromInt(50))
	bidSlope, askSlope := b.slopeLocked(5)
	volImb := b.volumeImbalanceLocked()
	bidDR, askDR := b.depthRatioLocked()
	bidVol001, askVol001 := b.volumeWithinPercentRangeLocked(decimal.NewFromFloat(0.01))
	bidAvgDist, askAvgDist := b.avgPriceDistanceLocked(5)
	flowImb, flowPressure := b.Flow.Imbalance()

	return Snapshot{
		BestBid:             bestBid,
		BestAsk:             bestAsk,
		MidPrice:            mid,
		Spread:              spread,
		Imbalance:           imbalance,
		PWI1:                pwi1,
		PWI5:                pwi5,
		PWI25:               pwi25,
		PWI50:               pwi50,
		TopBids:             topBids,
		TopAsks:             topAsks,
		BidSlope:            bidSlope,
		AskSlope:            askSlope,
		VolumeImbalanceTop5: volImb,
		BidDepthRatio:       bidDR,
		AskDepthRatio:       askDR,
		BidVolume001:        bidVol001,
		AskVolume001:        askVol001,
		BidAvgDistance:      bidAvgDist,
		AskAvgDistance:      askAvgDist,
		OrderFlowImbalance:  flowImb,
		OrderFlowPressure:   flowPressure,
	}
}
