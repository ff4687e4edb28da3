package book

import (
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/flow"
	"polymarket-mm/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func pl(price, qty string) types.PriceLevel {
	return types.PriceLevel{Price: dec(price), Quantity: dec(qty)}
}

// S1: snapshot bids [(100,1),(99,2)], asks [(101,1),(102,2)].
func TestBook_S1_Snapshot(t *testing.T) {
	b := New(flow.DefaultConfig())
	b.ApplySnapshot(
		[]types.PriceLevel{pl("100", "1"), pl("99", "2")},
		[]types.PriceLevel{pl("101", "1"), pl("102", "2")},
	)

	bb := b.BestBid()
	if bb == nil || !bb.Price.Equal(dec("100")) || !bb.Quantity.Equal(dec("1")) {
		t.Fatalf("expected best_bid (100,1), got %+v", bb)
	}
	ba := b.BestAsk()
	if ba == nil || !ba.Price.Equal(dec("101")) || !ba.Quantity.Equal(dec("1")) {
		t.Fatalf("expected best_ask (101,1), got %+v", ba)
	}

	mid := b.MidPrice()
	if mid == nil || !mid.Equal(dec("100.5")) {
		t.Fatalf("expected mid 100.5, got %v", mid)
	}
	spread := b.Spread()
	if spread == nil || !spread.Equal(dec("1")) {
		t.Fatalf("expected spread 1, got %v", spread)
	}
	imb := b.OrderBookImbalance()
	if imb == nil || !imb.Equal(dec("0.5")) {
		t.Fatalf("expected imbalance 0.5, got %v", imb)
	}
}

// S2: after S1, delta bids [(100,0)], asks [].
func TestBook_S2_DeltaRemovesLevel(t *testing.T) {
	b := New(flow.DefaultConfig())
	b.ApplySnapshot(
		[]types.PriceLevel{pl("100", "1"), pl("99", "2")},
		[]types.PriceLevel{pl("101", "1"), pl("102", "2")},
	)

	b.ApplyDeltas([]types.PriceLevel{pl("100", "0")}, nil)

	bb := b.BestBid()
	if bb == nil || !bb.Price.Equal(dec("99")) || !bb.Quantity.Equal(dec("2")) {
		t.Fatalf("expected best_bid (99,2) after removal, got %+v", bb)
	}

	_, pressure := b.Flow.Imbalance()
	// The snapshot emits no flow events, so the only resident event is the
	// BidCancel, which subtracts cancel_penalty from bid pressure.
	if !pressure.IsNegative() {
		t.Errorf("expected the cancel to register a negative pressure contribution, got %s", pressure)
	}
}

// Invariant 3: zero-quantity delta on an absent price is a no-op and does
// not register a cancel.
func TestBook_ZeroQtyDeltaOnAbsentPrice_NoOp(t *testing.T) {
	b := New(flow.Config{Window: 10_000_000_000, CancelPenalty: 1, MinPressure: 0})
	b.ApplyDeltas([]types.PriceLevel{pl("50", "0")}, nil)

	if bb := b.BestBid(); bb != nil {
		t.Fatalf("expected no bid to exist, got %+v", bb)
	}
	_, pressure := b.Flow.Imbalance()
	if !pressure.IsZero() {
		t.Errorf("expected zero pressure from a no-op removal, got %s", pressure)
	}
}

// Invariant 2: applying the same non-zero delta twice is idempotent.
func TestBook_DeltaIdempotence(t *testing.T) {
	b := New(flow.DefaultConfig())
	b.ApplyDeltas([]types.PriceLevel{pl("10", "5")}, nil)
	first := b.VolumeAtPrice(dec("10"), true)

	b.ApplyDeltas([]types.PriceLevel{pl("10", "5")}, nil)
	second := b.VolumeAtPrice(dec("10"), true)

	if !first.Equal(second) {
		t.Errorf("expected idempotent delta application, got %s then %s", first, second)
	}
}

// Invariant 1: negative price/quantity entries are rejected.
func TestBook_RejectsNegativeEntries(t *testing.T) {
	b := New(flow.DefaultConfig())
	b.ApplySnapshot(
		[]types.PriceLevel{pl("-5", "1"), pl("10", "-1"), pl("20", "3")},
		nil,
	)

	bb := b.BestBid()
	if bb == nil || !bb.Price.Equal(dec("20")) {
		t.Fatalf("expected only the valid level (20,3) to survive, got %+v", bb)
	}
}

func TestBook_TopBidsTopAsksOrdering(t *testing.T) {
	b := New(flow.DefaultConfig())
	b.ApplySnapshot(
		[]types.PriceLevel{pl("100", "1"), pl("99", "2"), pl("98", "3")},
		[]types.PriceLevel{pl("101", "1"), pl("102", "2"), pl("103", "3")},
	)

	bids := b.TopBids(2)
	if len(bids) != 2 || !bids[0].Price.Equal(dec("100")) || !bids[1].Price.Equal(dec("99")) {
		t.Fatalf("expected descending top 2 bids, got %+v", bids)
	}

	asks := b.TopAsks(2)
	if len(asks) != 2 || !asks[0].Price.Equal(dec("101")) || !asks[1].Price.Equal(dec("102")) {
		t.Fatalf("expected ascending top 2 asks, got %+v", asks)
	}
}

func TestBook_VolumeImbalanceTop5(t *testing.T) {
	b := New(flow.DefaultConfig())
	b.ApplySnapshot(
		[]types.PriceLevel{pl("100", "10")},
		[]types.PriceLevel{pl("101", "10")},
	)

	vi := b.VolumeImbalance()
	if vi == nil || !vi.Equal(dec("0.5")) {
		t.Fatalf("expected volume imbalance 0.5 for symmetric book, got %v", vi)
	}
}

func TestBook_DepthRatioZeroDenominatorYieldsZero(t *testing.T) {
	b := New(flow.DefaultConfig())
	bidRatio, askRatio := b.DepthRatio()
	if !bidRatio.IsZero() || !askRatio.IsZero() {
		t.Errorf("expected zero ratio on empty book, got bid=%s ask=%s", bidRatio, askRatio)
	}
}

func TestBook_GetSnapshot_NoBook(t *testing.T) {
	b := New(flow.DefaultConfig())
	snap := b.GetSnapshot()
	if snap.BestBid != nil || snap.BestAsk != nil || snap.MidPrice != nil {
		t.Errorf("expected all-absent snapshot on an empty book, got %+v", snap)
	}
}

func TestBook_GetSnapshot_Consistent(t *testing.T) {
	b := New(flow.DefaultConfig())
	b.ApplySnapshot(
		[]types.PriceLevel{pl("100", "1"), pl("99", "2")},
		[]types.PriceLevel{pl("101", "1"), pl("102", "2")},
	)

	snap := b.GetSnapshot()
	if snap.MidPrice == nil || !snap.MidPrice.Equal(dec("100.5")) {
		t.Fatalf("expected snapshot mid 100.5, got %v", snap.MidPrice)
	}
	if len(snap.TopBids) != 2 || len(snap.TopAsks) != 2 {
		t.Fatalf("expected 2 levels per side in snapshot, got bids=%d asks=%d", len(snap.TopBids), len(snap.TopAsks))
	}
}
