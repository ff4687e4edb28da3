package flow

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

func TestTracker_NoEvents(t *testing.T) {
	tr := New(DefaultConfig())

	imb, pressure := tr.Imbalance()
	if imb != nil {
		t.Errorf("expected nil imbalance with no events, got %v", *imb)
	}
	if !pressure.IsZero() {
		t.Errorf("expected zero pressure with no events, got %s", pressure)
	}
}

func TestTracker_BelowMinPressure(t *testing.T) {
	tr := New(Config{Window: 10 * time.Second, CancelPenalty: 0.35, MinPressure: 100})

	tr.AddEvent(types.FlowEvent{Kind: types.BidOrder, Quantity: decimal.NewFromInt(5)})

	imb, pressure := tr.Imbalance()
	if imb != nil {
		t.Errorf("expected nil imbalance below min pressure, got %v", *imb)
	}
	if pressure.LessThanOrEqual(decimal.Zero) {
		t.Errorf("expected positive pressure, got %s", pressure)
	}
}

func TestTracker_BidHeavy(t *testing.T) {
	tr := New(Config{Window: 10 * time.Second, CancelPenalty: 0.35, MinPressure: 1})

	tr.AddEvent(types.FlowEvent{Kind: types.BidOrder, Quantity: decimal.NewFromInt(10)})
	tr.AddEvent(types.FlowEvent{Kind: types.AskOrder, Quantity: decimal.NewFromInt(2)})

	imb, pressure := tr.Imbalance()
	if imb == nil {
		t.Fatal("expected non-nil imbalance")
	}
	if !imb.IsPositive() {
		t.Errorf("expected positive (bid-heavy) imbalance, got %s", imb)
	}
	if pressure.LessThan(decimal.NewFromInt(1)) {
		t.Errorf("expected pressure >= min_pressure, got %s", pressure)
	}
}

func TestTracker_CancelReducesPressure(t *testing.T) {
	tr := New(Config{Window: 10 * time.Second, CancelPenalty: 1, MinPressure: 0})

	tr.AddEvent(types.FlowEvent{Kind: types.BidOrder, Quantity: decimal.NewFromInt(10)})
	_, pressureBefore := tr.Imbalance()

	tr.AddEvent(types.FlowEvent{Kind: types.BidCancel})
	_, pressureAfter := tr.Imbalance()

	if !pressureAfter.LessThan(pressureBefore) {
		t.Errorf("expected cancel to reduce pressure: before=%s after=%s", pressureBefore, pressureAfter)
	}
}

func TestTracker_EvictsOldEvents(t *testing.T) {
	tr := New(Config{Window: 50 * time.Millisecond, CancelPenalty: 0.35, MinPressure: 0})

	tr.AddEvent(types.FlowEvent{Kind: types.BidOrder, Quantity: decimal.NewFromInt(10)})
	time.Sleep(100 * time.Millisecond)
	tr.AddEvent(types.FlowEvent{Kind: types.AskOrder, Quantity: decimal.NewFromInt(1)})

	_, pressure := tr.Imbalance()
	// Only the fresh ask event should remain resident; its age is a few
	// microseconds, so its weight is just below 1.
	if pressure.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(decimal.NewFromFloat(0.01)) {
		t.Errorf("expected pressure ≈ 1 after old event evicted, got %s", pressure)
	}
}

func TestTracker_DefaultsFillZeroFields(t *testing.T) {
	tr := New(Config{})
	if tr.window != DefaultConfig().Window {
		t.Errorf("expected default window, got %s", tr.window)
	}
}
