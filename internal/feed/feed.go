// Package feed implements the two inbound WebSocket connectors (spec §4.D,
// §6): the LOB depth stream and the trade tape stream. Both auto-reconnect
// with exponential backoff and route decoded wire events onto typed
// channels for the supervisor to drain.
//
// Grounded on internal/exchange/ws.go's WSFeed: connect-read-loop with a
// read deadline, a background ping goroutine, and exponential reconnect
// backoff, generalized from Polymarket's multi-event-type envelope to the
// two single-purpose Binance-style streams this spec describes.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-mm/internal/metrics"
	"polymarket-mm/pkg/types"
)

const (
	readTimeout      = 90 * time.Second
	writeTimeout     = 10 * time.Second
	initialBackoff   = time.Second
	maxReconnectWait = 60 * time.Second
	eventBufferSize  = 4096
)

// DepthFeed streams LOB depth events (snapshots or deltas, per config) onto
// a buffered channel.
type DepthFeed struct {
	url          string
	isDelta      bool
	dialTimeout  time.Duration
	pingInterval time.Duration

	conn   *websocket.Conn
	connMu sync.Mutex

	events chan types.BinanceDepthEvent

	metrics *metrics.Registry
	logger  *slog.Logger
}

// NewDepthFeed creates a depth connector for the given WebSocket URL.
// isDelta marks whether inbound messages are incremental diffs (apply via
// ApplyDeltas) or full snapshots (apply via ApplySnapshot) — spec §4.A.
func NewDepthFeed(url string, isDelta bool, dialTimeout, pingInterval time.Duration, reg *metrics.Registry, logger *slog.Logger) *DepthFeed {
	return &DepthFeed{
		url:          url,
		isDelta:      isDelta,
		dialTimeout:  dialTimeout,
		pingInterval: pingInterval,
		events:       make(chan types.BinanceDepthEvent, eventBufferSize),
		metrics:      reg,
		logger:       logger.With("component", "feed_depth"),
	}
}

// IsDelta reports whether events on this feed must be applied as deltas.
func (f *DepthFeed) IsDelta() bool { return f.isDelta }

// Events returns a read-only channel of decoded depth events.
func (f *DepthFeed) Events() <-chan types.BinanceDepthEvent { return f.events }

// Run connects and maintains the connection with auto-reconnect until ctx
// is cancelled.
func (f *DepthFeed) Run(ctx context.Context) error {
	return runWithBackoff(ctx, f.logger, "depth", f.metrics, func(ctx context.Context) error {
		return f.connectAndRead(ctx)
	})
}

func (f *DepthFeed) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, f.dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	f.metrics.CurrentConnections.WithLabelValues("depth").Set(1)

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
		f.metrics.CurrentConnections.WithLabelValues("depth").Set(0)
	}()

	f.logger.Info("depth feed connected", "url", f.url, "is_delta", f.isDelta)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go pingLoop(pingCtx, &f.connMu, conn, f.pingInterval, f.logger)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.metrics.MessagesReceived.WithLabelValues("depth").Inc()

		var evt types.BinanceDepthEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			f.logger.Error("unmarshal depth event", "error", err)
			continue
		}

		select {
		case f.events <- evt:
		default:
			f.logger.Warn("depth event channel full, dropping event")
		}
	}
}

// TradeFeed streams trade tape events onto a buffered channel.
type TradeFeed struct {
	url          string
	dialTimeout  time.Duration
	pingInterval time.Duration

	conn   *websocket.Conn
	connMu sync.Mutex

	events chan types.BinanceTradeEvent

	metrics *metrics.Registry
	logger  *slog.Logger
}

// NewTradeFeed creates a trade-tape connector for the given WebSocket URL.
func NewTradeFeed(url string, dialTimeout, pingInterval time.Duration, reg *metrics.Registry, logger *slog.Logger) *TradeFeed {
	return &TradeFeed{
		url:          url,
		dialTimeout:  dialTimeout,
		pingInterval: pingInterval,
		events:       make(chan types.BinanceTradeEvent, eventBufferSize),
		metrics:      reg,
		logger:       logger.With("component", "feed_trade"),
	}
}

// Events returns a read-only channel of decoded trade events.
func (f *TradeFeed) Events() <-chan types.BinanceTradeEvent { return f.events }

// Run connects and maintains the connection with auto-reconnect until ctx
// is cancelled.
func (f *TradeFeed) Run(ctx context.Context) error {
	return runWithBackoff(ctx, f.logger, "trade", f.metrics, func(ctx context.Context) error {
		return f.connectAndRead(ctx)
	})
}

func (f *TradeFeed) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, f.dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	f.metrics.CurrentConnections.WithLabelValues("trade").Set(1)

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
		f.metrics.CurrentConnections.WithLabelValues("trade").Set(0)
	}()

	f.logger.Info("trade feed connected", "url", f.url)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go pingLoop(pingCtx, &f.connMu, conn, f.pingInterval, f.logger)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.metrics.MessagesReceived.WithLabelValues("trade").Inc()

		var evt types.BinanceTradeEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			f.logger.Error("unmarshal trade event", "error", err)
			continue
		}

		select {
		case f.events <- evt:
		default:
			f.logger.Warn("trade event channel full, dropping event")
		}
	}
}

// runWithBackoff repeatedly invokes connect until ctx is cancelled, waiting
// an exponentially growing interval (capped at maxReconnectWait) between
// attempts.
func runWithBackoff(ctx context.Context, logger *slog.Logger, feedName string, reg *metrics.Registry, connect func(context.Context) error) error {
	backoff := initialBackoff

	for {
		err := connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		reg.ConnectionErrors.WithLabelValues(feedName).Inc()
		reg.ReconnectAttempts.WithLabelValues(feedName).Inc()
		logger.Warn("feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func pingLoop(ctx context.Context, connMu *sync.Mutex, conn *websocket.Conn, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			connMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			connMu.Unlock()
			if err != nil {
				logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}
