package trades

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func trade(price, qty string, ts int64, isBuyerMaker bool) types.Trade {
	return types.Trade{Price: dec(price), Quantity: dec(qty), TimestampMs: ts, IsBuyerMaker: isBuyerMaker}
}

// S3: insert (100,1,false),(101,2,true),(102,3,false) into an empty log of
// capacity 10.
func TestLog_S3_VWAPAndMomentum(t *testing.T) {
	l := New(10)
	l.Insert(trade("100", "1", 1000, false))
	l.Insert(trade("101", "2", 2000, true))
	l.Insert(trade("102", "3", 3000, false))

	vwap, err := l.VWAP(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := dec("608").Div(dec("6"))
	if !vwap.Sub(want).Abs().LessThan(dec("0.0001")) {
		t.Errorf("expected vwap(3) ≈ %s, got %s", want, vwap)
	}

	ratio, err := l.AggressorVolumeRatio(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ratio.Equal(dec("4").Div(dec("6"))) {
		t.Errorf("expected aggressor_volume_ratio(3) == 4/6, got %s", ratio)
	}

	if mom := l.SignedCountMomentum(); mom != 1 {
		t.Errorf("expected momentum +1, got %d", mom)
	}
}

// S4: trades at timestamps {95000, 97000, 100000} ms, then trade_rate(5000).
func TestLog_S4_TradeRate(t *testing.T) {
	l := New(10)
	l.Insert(trade("1", "1", 95000, false))
	l.Insert(trade("1", "1", 97000, false))
	l.Insert(trade("1", "1", 100000, false))

	rate, err := l.TradeRate(5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rate.Equal(dec("0.6")) {
		t.Errorf("expected trade_rate(5000) == 0.6, got %s", rate)
	}
}

func TestLog_VWAP_InsufficientTrades(t *testing.T) {
	l := New(10)
	l.Insert(trade("100", "1", 1000, false))

	_, err := l.VWAP(5)
	if !errors.Is(err, ErrInsufficientTrades) {
		t.Errorf("expected ErrInsufficientTrades, got %v", err)
	}
}

func TestLog_AggressorVolumeRatio_Extremes(t *testing.T) {
	l := New(10)
	l.Insert(trade("100", "1", 1000, false))
	l.Insert(trade("100", "1", 2000, false))

	ratio, err := l.AggressorVolumeRatio(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ratio.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected ratio 1 for all-buyer-taker tail, got %s", ratio)
	}

	l2 := New(10)
	l2.Insert(trade("100", "1", 1000, true))
	l2.Insert(trade("100", "1", 2000, true))

	ratio2, err := l2.AggressorVolumeRatio(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ratio2.IsZero() {
		t.Errorf("expected ratio 0 for all-seller-taker tail, got %s", ratio2)
	}
}

// Invariant 5: buy_volume + sell_volume == Σ quantity over the resident
// tail, and signed_count_momentum matches the aggressor-buy minus
// aggressor-sell count over the same tail, after overflowing capacity.
func TestLog_VolumeInvariant_AfterEviction(t *testing.T) {
	l := New(3)
	l.Insert(trade("1", "1", 1000, false)) // evicted
	l.Insert(trade("1", "1", 2000, true))
	l.Insert(trade("1", "1", 3000, false))
	l.Insert(trade("1", "1", 4000, false))

	if mom := l.SignedCountMomentum(); mom != 1 {
		t.Errorf("expected momentum +1 over resident tail (sell,buy,buy), got %d", mom)
	}

	imb := l.TradeImbalance()
	if imb == nil || !imb.Equal(dec("2").Div(dec("3"))) {
		t.Errorf("expected trade_imbalance == 2/3 over resident tail, got %v", imb)
	}
}

func TestLog_GetSnapshot_EmptyLog(t *testing.T) {
	l := New(10)
	snap := l.GetSnapshot()
	if snap.LastPrice != nil {
		t.Errorf("expected nil last price on empty log, got %v", snap.LastPrice)
	}
	if snap.VWAP10 != nil {
		t.Errorf("expected nil vwap_10 on empty log, got %v", snap.VWAP10)
	}
}
