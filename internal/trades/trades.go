// Package trades implements the trades log (spec §4.C): a fixed-capacity
// ring of trades with incrementally maintained aggregates — volumes,
// signed-count momentum, a lazily refreshed CachedStats block, and window
// queries recomputed from the resident tail.
package trades

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// Sentinel errors for window queries (spec §4.C, §7 "insufficient data" /
// "zero volume" policy: surfaced as absent in the analytics path, never a
// panic).
var (
	ErrInsufficientTrades = errors.New("trades: insufficient resident trades")
	ErrInvalidWindowSize  = errors.New("trades: window size must be > 0")
	ErrZeroVolume         = errors.New("trades: zero volume in window")
)

// cachedStats is the lazily refreshed block described in spec §3. Only the
// writer may toggle dirty, and only a stat-read path holding the writer
// guard may refresh it (spec §9).
type cachedStats struct {
	tradeImbalance *decimal.Decimal
	vwapTotal      *decimal.Decimal
	priceChange    *decimal.Decimal
	lastPrice      *decimal.Decimal
	avgTradeSize   *decimal.Decimal
}

// Log is a ring of at most `capacity` trades (oldest evicted on overflow),
// guarded by a single RWMutex per spec §5 (operations that refresh cached
// stats require the write lock; pure window queries over the resident tail
// may use the read lock).
type Log struct {
	mu sync.RWMutex

	data     []types.Trade
	capacity int
	head     int // index of the next write
	size     int
	full     bool

	tradeCount          int
	buyVolume           decimal.Decimal
	sellVolume          decimal.Decimal
	signedCountMomentum int64

	statsDirty bool
	stats      cachedStats
}

// New creates an empty log with the given ring capacity.
func New(capacity int) *Log {
	return &Log{
		data:       make([]types.Trade, capacity),
		capacity:   capacity,
		buyVolume:  decimal.Zero,
		sellVolume: decimal.Zero,
		statsDirty: true,
	}
}

// Insert applies spec §4.C step 1-4.
func (l *Log) Insert(t types.Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.full {
		old := l.data[l.head]
		if old.IsBuyerMaker {
			l.sellVolume = l.sellVolume.Sub(old.Quantity)
			l.signedCountMomentum++
		} else {
			l.buyVolume = l.buyVolume.Sub(old.Quantity)
			l.signedCountMomentum--
		}
	} else {
		l.tradeCount++
	}

	if t.IsBuyerMaker {
		l.sellVolume = l.sellVolume.Add(t.Quantity)
		l.signedCountMomentum--
	} else {
		l.buyVolume = l.buyVolume.Add(t.Quantity)
		l.signedCountMomentum++
	}

	l.data[l.head] = t
	l.head = (l.head + 1) % l.capacity
	if !l.full {
		l.size++
		if l.size == l.capacity {
			l.full = true
		}
	}

	l.statsDirty = true
}

// orderedLocked returns resident trades oldest-first. Must be called with
// at least the read lock held.
func (l *Log) orderedLocked() []types.Trade {
	if l.size == 0 {
		return nil
	}
	out := make([]types.Trade, 0, l.size)
	if !l.full {
		out = append(out, l.data[:l.head]...)
	} else {
		out = append(out, l.data[l.head:]...)
		out = append(out, l.data[:l.head]...)
	}
	return out
}

// lastNLocked returns the n most recent resident trades, oldest-first
// within that tail (mirrors the source's last_n_trades semantics).
func (l *Log) lastNLocked(n int) []types.Trade {
	ordered := l.orderedLocked()
	if n >= len(ordered) {
		return ordered
	}
	return ordered[len(ordered)-n:]
}

// refreshStatsLocked recomputes the CachedStats block. Must be called with
// the write lock held.
func (l *Log) refreshStatsLocked() {
	if !l.statsDirty {
		return
	}

	totalVolume := l.buyVolume.Add(l.sellVolume)

	if totalVolume.IsPositive() {
		ti := l.buyVolume.Div(totalVolume)
		l.stats.tradeImbalance = &ti
	} else {
		l.stats.tradeImbalance = nil
	}

	var currentLastPrice *decimal.Decimal
	if l.size > 0 {
		p := l.data[(l.head-1+l.capacity)%l.capacity].Price
		currentLastPrice = &p
	}

	// vwap_total is defined here as (buy+sell)*last_price/total_volume —
	// i.e. effectively last_price when volume is non-zero. Retained from
	// the source as-is; see SPEC_FULL.md §9.
	if totalVolume.IsPositive() && currentLastPrice != nil {
		vt := totalVolume.Mul(*currentLastPrice).Div(totalVolume)
		l.stats.vwapTotal = &vt
	} else {
		l.stats.vwapTotal = nil
	}

	if l.stats.lastPrice == nil || currentLastPrice == nil {
		l.stats.priceChange = nil
	} else {
		pc := currentLastPrice.Sub(*l.stats.lastPrice)
		l.stats.priceChange = &pc
	}

	l.stats.lastPrice = currentLastPrice

	if l.tradeCount > 0 {
		ats := totalVolume.Div(decimal.NewFromInt(int64(l.tradeCount)))
		l.stats.avgTradeSize = &ats
	} else {
		l.stats.avgTradeSize = nil
	}

	l.statsDirty = false
}

// LastPrice returns the most recently inserted trade's price.
func (l *Log) LastPrice() *decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.size == 0 {
		return nil
	}
	p := l.data[(l.head-1+l.capacity)%l.capacity].Price
	return &p
}

// TradeImbalance returns buy_volume / (buy_volume + sell_volume), or nil
// if total volume is zero.
func (l *Log) TradeImbalance() *decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshStatsLocked()
	return l.stats.tradeImbalance
}

// VWAPTotal returns the (retained-bug) vwap_total stat.
func (l *Log) VWAPTotal() *decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshStatsLocked()
	return l.stats.vwapTotal
}

// PriceChange returns last_price - previous_last_price across stat
// refreshes, or nil on the first refresh.
func (l *Log) PriceChange() *decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshStatsLocked()
	return l.stats.priceChange
}

// AvgTradeSize returns total_volume / trade_count.
func (l *Log) AvgTradeSize() *decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshStatsLocked()
	return l.stats.avgTradeSize
}

// SignedCountMomentum returns the running sum of +1 (aggressor-buy) / -1
// (aggressor-sell) over resident trades.
func (l *Log) SignedCountMomentum() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.signedCountMomentum
}

// VWAP computes Σ price*qty / Σ qty over the last n resident trades.
func (l *Log) VWAP(n int) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 {
		return decimal.Zero, ErrInvalidWindowSize
	}
	if l.size < n {
		return decimal.Zero, ErrInsufficientTrades
	}

	tail := l.lastNLocked(n)
	weightedSum := decimal.Zero
	totalVolume := decimal.Zero
	for _, t := range tail {
		weightedSum = weightedSum.Add(t.Price.Mul(t.Quantity))
		totalVolume = totalVolume.Add(t.Quantity)
	}
	if totalVolume.IsZero() {
		return decimal.Zero, ErrZeroVolume
	}
	return weightedSum.Div(totalVolume), nil
}

// AggressorVolumeRatio computes buyer_taker_volume / total over the last n
// resident trades (buyer_taker means is_buyer_maker == false).
func (l *Log) AggressorVolumeRatio(n int) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 {
		return decimal.Zero, ErrInvalidWindowSize
	}
	if l.size == 0 {
		return decimal.Zero, ErrInsufficientTrades
	}

	tail := l.lastNLocked(n)
	buyerVolume := decimal.Zero
	sellerVolume := decimal.Zero
	for _, t := range tail {
		if t.IsBuyerMaker {
			sellerVolume = sellerVolume.Add(t.Quantity)
		} else {
			buyerVolume = buyerVolume.Add(t.Quantity)
		}
	}
	total := buyerVolume.Add(sellerVolume)
	if total.IsZero() {
		return decimal.Zero, ErrZeroVolume
	}
	return buyerVolume.Div(total), nil
}

// TradeRate uses the newest resident timestamp as "now", locates the first
// trade with timestamp >= now - window_ms, and returns count / (window_ms/1000).
func (l *Log) TradeRate(windowMs int64) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.size < 2 {
		return decimal.Zero, ErrInsufficientTrades
	}

	ordered := l.orderedLocked()
	now := ordered[len(ordered)-1].TimestampMs
	startTime := now - windowMs
	if startTime < 0 {
		startTime = 0
	}

	pos := 0
	for pos < len(ordered) && ordered[pos].TimestampMs < startTime {
		pos++
	}
	count := len(ordered) - pos

	rate := decimal.NewFromInt(int64(count)).Div(decimal.NewFromFloat(float64(windowMs) / 1000.0))
	return rate, nil
}

// Snapshot is the flattened, all-absent-tolerant view produced by
// GetSnapshot (spec §4.C).
type Snapshot struct {
	LastPrice           *decimal.Decimal
	TradeImbalance      *decimal.Decimal
	VWAPTotal           *decimal.Decimal
	PriceChange         *decimal.Decimal
	AvgTradeSize        *decimal.Decimal
	SignedCountMomentum int64
	TradeRate10s        *decimal.Decimal

	VWAP10   *decimal.Decimal
	VWAP50   *decimal.Decimal
	VWAP100  *decimal.Decimal
	VWAP1000 *decimal.Decimal

	AggrRatio10   *decimal.Decimal
	AggrRatio50   *decimal.Decimal
	AggrRatio100  *decimal.Decimal
	AggrRatio1000 *decimal.Decimal
}

// GetSnapshot refreshes cached stats once, then computes every window
// query at sizes {10,50,100,1000}; each optional field coerces its error
// to absent rather than propagating it (spec §7).
func (l *Log) GetSnapshot() Snapshot {
	l.mu.Lock()
	l.refreshStatsLocked()
	var lastPrice *decimal.Decimal
	if l.size > 0 {
		p := l.data[(l.head-1+l.capacity)%l.capacity].Price
		lastPrice = &p
	}
	snap := Snapshot{
		LastPrice:           lastPrice,
		TradeImbalance:      l.stats.tradeImbalance,
		VWAPTotal:           l.stats.vwapTotal,
		PriceChange:         l.stats.priceChange,
		AvgTradeSize:        l.stats.avgTradeSize,
		SignedCountMomentum: l.signedCountMomentum,
	}
	l.mu.Unlock()

	snap.TradeRate10s = optDec(l.TradeRate(10_000))

	snap.VWAP10 = optDec(l.VWAP(10))
	snap.VWAP50 = optDec(l.VWAP(50))
	snap.VWAP100 = optDec(l.VWAP(100))
	snap.VWAP1000 = optDec(l.VWAP(1000))

	snap.AggrRatio10 = optDec(l.AggressorVolumeRatio(10))
	snap.AggrRatio50 = optDec(l.AggressorVolumeRatio(50))
	snap.AggrRatio100 = optDec(l.AggressorVolumeRatio(100))
	snap.AggrRatio1000 = optDec(l.AggressorVolumeRatio(1000))

	return snap
}

func optDec(v decimal.Decimal, err error) *decimal.Decimal {
	if err != nil {
		return nil
	}
	return &v
}
