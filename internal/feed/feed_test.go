package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"polymarket-mm/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunWithBackoff_RetriesUntilCancelled(t *testing.T) {
	reg := metrics.New()
	var attempts int32

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connect := func(ctx context.Context) error {
		n := atomic.AddInt32(&attempts, 1)
		if n >= 3 {
			cancel()
		}
		return errors.New("connection refused")
	}

	// Shrink the module-level backoff indirectly isn't possible (they're
	// package constants), so just bound the test by attempt count rather
	// than wall-clock: cancel once we've observed three attempts.
	done := make(chan error, 1)
	go func() { done <- runWithBackoff(ctx, testLogger(), "depth", reg, connect) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("runWithBackoff did not return after cancellation")
	}

	if atomic.LoadInt32(&attempts) < 3 {
		t.Errorf("expected at least 3 connect attempts, got %d", attempts)
	}
	// The attempt that observes cancellation returns before the metrics
	// increment, so only the prior (failed-and-retried) attempts count.
	if got := testutil.ToFloat64(reg.ConnectionErrors.WithLabelValues("depth")); got < 2 {
		t.Errorf("expected connection_errors{depth} >= 2, got %v", got)
	}
	if got := testutil.ToFloat64(reg.ReconnectAttempts.WithLabelValues("depth")); got < 2 {
		t.Errorf("expected reconnect_attempts{depth} >= 2, got %v", got)
	}
}

func TestRunWithBackoff_ReturnsImmediatelyWhenAlreadyCancelled(t *testing.T) {
	reg := metrics.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	connect := func(ctx context.Context) error {
		return ctx.Err()
	}

	err := runWithBackoff(ctx, testLogger(), "trade", reg, connect)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
