// Package metrics exposes the ingestor's Prometheus counters/gauges and the
// HTTP surface (/metrics, /healthz) the supervisor serves alongside the two
// feed connectors (spec §6, SPEC_FULL.md §I).
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter/gauge the feeds, book, and analytics loop
// touch. Grounded on original_source/src/log_feed_manager.rs's FeedMetrics
// (messages_received, trades_processed, connection_errors,
// current_connections), extended with book-apply and batch-flush series.
type Registry struct {
	reg *prometheus.Registry

	MessagesReceived  *prometheus.CounterVec
	TradesProcessed   prometheus.Counter
	ConnectionErrors  *prometheus.CounterVec
	CurrentConnections *prometheus.GaugeVec
	ReconnectAttempts *prometheus.CounterVec

	BookApplyErrors  *prometheus.CounterVec
	SnapshotsEmitted prometheus.Counter
	BatchesFlushed   prometheus.Counter
	BatchFlushErrors prometheus.Counter
	BatchRowsWritten prometheus.Counter
}

// New builds a fresh registry with every series pre-registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		MessagesReceived: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestor",
			Name:      "messages_received_total",
			Help:      "Total feed messages received, by feed.",
		}, []string{"feed"}),
		TradesProcessed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "ingestor",
			Name:      "trades_processed_total",
			Help:      "Total trade events applied to the trades log.",
		}),
		ConnectionErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestor",
			Name:      "connection_errors_total",
			Help:      "Total feed connection errors, by feed.",
		}, []string{"feed"}),
		CurrentConnections: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ingestor",
			Name:      "current_connections",
			Help:      "1 if the feed is currently connected, 0 otherwise.",
		}, []string{"feed"}),
		ReconnectAttempts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestor",
			Name:      "reconnect_attempts_total",
			Help:      "Total reconnect attempts, by feed.",
		}, []string{"feed"}),
		BookApplyErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestor",
			Name:      "book_apply_errors_total",
			Help:      "Total malformed depth entries and trade messages skipped, by reason.",
		}, []string{"reason"}),
		SnapshotsEmitted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "ingestor",
			Name:      "snapshots_emitted_total",
			Help:      "Total feature snapshots assembled by the analytics loop.",
		}),
		BatchesFlushed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "ingestor",
			Name:      "batches_flushed_total",
			Help:      "Total parquet batch files committed.",
		}),
		BatchFlushErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "ingestor",
			Name:      "batch_flush_errors_total",
			Help:      "Total batch flush failures.",
		}),
		BatchRowsWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "ingestor",
			Name:      "batch_rows_written_total",
			Help:      "Total feature rows written across all batch files.",
		}),
	}

	return r
}

// Server serves /metrics and /healthz on its own port, independent of the
// feed/analytics goroutines (spec §6 ambient addition).
type Server struct {
	httpServer *http.Server
}

// NewServer wires the registry's handler plus a trivial liveness probe.
func NewServer(addr string, reg *Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run blocks serving until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
