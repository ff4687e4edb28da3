package analytics

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/book"
	"polymarket-mm/internal/flow"
	"polymarket-mm/internal/metrics"
	"polymarket-mm/internal/trades"
	"polymarket-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoop_AssembleProducesRow(t *testing.T) {
	b := book.New(flow.DefaultConfig())
	b.ApplySnapshot(
		[]types.PriceLevel{{Price: decFromStr("100"), Quantity: decFromStr("1")}},
		[]types.PriceLevel{{Price: decFromStr("101"), Quantity: decFromStr("1")}},
	)
	tl := trades.New(100)
	tl.Insert(types.Trade{Price: decFromStr("100"), Quantity: decFromStr("1"), TimestampMs: 1, IsBuyerMaker: false})

	loop := New(b, tl, 10*time.Millisecond, 10, metrics.New(), testLogger())

	snap := loop.assemble()
	if snap.MidPrice == nil || !snap.MidPrice.Equal(decFromStr("100.5")) {
		t.Errorf("expected mid 100.5, got %v", snap.MidPrice)
	}
	if snap.LastTradePrice == nil || !snap.LastTradePrice.Equal(decFromStr("100")) {
		t.Errorf("expected last trade price 100, got %v", snap.LastTradePrice)
	}
}

func TestLoop_RunEmitsRowsUntilCancelled(t *testing.T) {
	b := book.New(flow.DefaultConfig())
	tl := trades.New(10)
	loop := New(b, tl, 5*time.Millisecond, 10, metrics.New(), testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	select {
	case <-loop.Rows():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected at least one row to be emitted")
	}

	<-done
}

func decFromStr(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
