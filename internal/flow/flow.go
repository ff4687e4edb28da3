// Package flow implements the rolling, age-weighted order-flow tracker
// (spec §4.B): a time-ordered queue of add/cancel events yielding a
// weighted imbalance and pressure score over a sliding window.
package flow

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// Config holds the tracker's tunables. Zero-value fields are replaced by
// the package defaults in New.
type Config struct {
	Window        time.Duration
	CancelPenalty float64
	MinPressure   float64
}

// DefaultConfig matches spec §4.B's defaults.
func DefaultConfig() Config {
	return Config{
		Window:        10 * time.Second,
		CancelPenalty: 0.35,
		MinPressure:   2.5,
	}
}

type timestampedEvent struct {
	at    time.Time
	event types.FlowEvent
}

// Tracker is a time-ordered queue of (instant, event) pairs. All resident
// events satisfy now-instant <= window after any AddEvent or Imbalance call.
// Grounded on internal/strategy/flow_tracker.go's windowed-slice
// append+evict-by-cutoff pattern, generalized to the age-weighted pressure
// formula from the order book's RollingFlowTracker.
type Tracker struct {
	mu sync.RWMutex

	window        time.Duration
	cancelPenalty decimal.Decimal
	minPressure   decimal.Decimal

	events []timestampedEvent
}

// New creates a tracker with the given configuration, falling back to
// package defaults for any zero-value field.
func New(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.CancelPenalty == 0 {
		cfg.CancelPenalty = def.CancelPenalty
	}
	if cfg.MinPressure == 0 {
		cfg.MinPressure = def.MinPressure
	}
	return &Tracker{
		window:        cfg.Window,
		cancelPenalty: decimal.NewFromFloat(cfg.CancelPenalty),
		minPressure:   decimal.NewFromFloat(cfg.MinPressure),
		events:        make([]timestampedEvent, 0, 256),
	}
}

// AddEvent records the event at the current instant, then evicts everything
// older than the window.
func (t *Tracker) AddEvent(e types.FlowEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.events = append(t.events, timestampedEvent{at: now, event: e})
	t.evictLocked(now)
}

// evictLocked drops events with age > window. Must be called with the write
// lock held.
func (t *Tracker) evictLocked(now time.Time) {
	cutoff := now.Add(-t.window)
	keep := 0
	for keep < len(t.events) && t.events[keep].at.Before(cutoff) {
		keep++
	}
	if keep > 0 {
		t.events = t.events[keep:]
	}
}

// Imbalance samples now once, evicts events older than the window, computes
// the age-weighted pressure for each resident event, and returns
// (imbalance, pressure). imbalance is present only when pressure >=
// MinPressure (boundary inclusive).
func (t *Tracker) Imbalance() (*decimal.Decimal, decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.evictLocked(now)
	bidPressure := decimal.Zero
	askPressure := decimal.Zero

	windowSecs := t.window.Seconds()
	for _, te := range t.events {
		ageSecs := now.Sub(te.at).Seconds()
		ageFrac := ageSecs / windowSecs
		if ageFrac > 1 {
			ageFrac = 1
		}
		if ageFrac < 0 {
			ageFrac = 0
		}
		weight := decimal.NewFromFloat(1 - ageFrac)

		switch te.event.Kind {
		case types.BidOrder:
			bidPressure = bidPressure.Add(te.event.Quantity.Mul(weight))
		case types.AskOrder:
			askPressure = askPressure.Add(te.event.Quantity.Mul(weight))
		case types.BidCancel:
			bidPressure = bidPressure.Sub(t.cancelPenalty.Mul(weight))
		case types.AskCancel:
			askPressure = askPressure.Sub(t.cancelPenalty.Mul(weight))
		}
	}

	total := bidPressure.Add(askPressure)
	if total.GreaterThanOrEqual(t.minPressure) {
		imb := bidPressure.Sub(askPressure).Div(total)
		return &imb, total
	}
	return nil, total
}
