// Package metrics exposes the collector's counters on a private Prometheus
// registry. Collection always happens; the HTTP listener only runs when an
// address is configured.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/LeJamon/goXRPLtracker/internal/tracker"
)

// Metrics holds all collector metrics.
type Metrics struct {
	// Counters
	Cycles       prometheus.Counter
	Transactions prometheus.Counter
	Skipped      prometheus.Counter
	Events       *prometheus.CounterVec
	Errors       prometheus.Counter
	RPCCalls     *prometheus.CounterVec
	RPCFailures  *prometheus.CounterVec

	// Gauges
	OpenOffers prometheus.Gauge
	LastLedger prometheus.Gauge

	// Histograms
	CycleDuration prometheus.Histogram

	registry *prometheus.Registry
}

// New creates the metrics set on its own registry, so nothing leaks into
// the default global one.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.Cycles = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "xrpltracker",
		Name:      "cycles_total",
		Help:      "Completed collection cycles",
	})
	m.Transactions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "xrpltracker",
		Name:      "transactions_total",
		Help:      "Transactions processed through classification",
	})
	m.Skipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "xrpltracker",
		Name:      "transactions_skipped_total",
		Help:      "Entries skipped for missing hash or metadata",
	})
	m.Events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xrpltracker",
		Name:      "events_total",
		Help:      "Derived domain events by kind",
	}, []string{"kind"})
	m.Errors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "xrpltracker",
		Name:      "errors_total",
		Help:      "Recovered per-wallet and per-cycle errors",
	})
	m.RPCCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xrpltracker",
		Name:      "rpc_calls_total",
		Help:      "Ledger JSON-RPC requests by method",
	}, []string{"method"})
	m.RPCFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xrpltracker",
		Name:      "rpc_failures_total",
		Help:      "Failed ledger JSON-RPC requests by method",
	}, []string{"method"})

	m.OpenOffers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "xrpltracker",
		Name:      "open_offers",
		Help:      "Live offers currently tracked (OPEN or PARTIALLY_FILLED)",
	})
	m.LastLedger = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "xrpltracker",
		Name:      "last_ledger",
		Help:      "Highest ledger index processed",
	})

	m.CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "xrpltracker",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one collection cycle",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})

	m.registry.MustRegister(
		m.Cycles,
		m.Transactions,
		m.Skipped,
		m.Events,
		m.Errors,
		m.RPCCalls,
		m.RPCFailures,
		m.OpenOffers,
		m.LastLedger,
		m.CycleDuration,
	)
	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// ObserveCycle folds one completed cycle's counters in. Wired to the
// scheduler's OnCycle hook.
func (m *Metrics) ObserveCycle(stats *tracker.CycleStats) {
	m.Cycles.Inc()
	m.Transactions.Add(float64(stats.Transactions))
	m.Skipped.Add(float64(stats.Skipped))
	m.Errors.Add(float64(stats.Errors))

	m.Events.WithLabelValues("deposit").Add(float64(stats.Deposits))
	m.Events.WithLabelValues("withdrawal").Add(float64(stats.Withdrawals))
	m.Events.WithLabelValues("internal_transfer").Add(float64(stats.InternalTransfers))
	m.Events.WithLabelValues("trade").Add(float64(stats.Trades))
	m.Events.WithLabelValues("offer_open").Add(float64(stats.OffersOpened))
	m.Events.WithLabelValues("partial_fill").Add(float64(stats.PartialFills))
	m.Events.WithLabelValues("offer_filled").Add(float64(stats.OffersFilled))
	m.Events.WithLabelValues("offer_canceled").Add(float64(stats.OffersCanceled))
	m.Events.WithLabelValues("inferred_fill").Add(float64(stats.InferredFills))

	if stats.LastLedger > 0 {
		m.LastLedger.Set(float64(stats.LastLedger))
	}
	m.CycleDuration.Observe(stats.Duration.Seconds())
}

// ObserveRPC records one JSON-RPC request outcome. Wired to the ledger
// client's OnCall hook.
func (m *Metrics) ObserveRPC(method string, err error) {
	m.RPCCalls.WithLabelValues(method).Inc()
	if err != nil {
		m.RPCFailures.WithLabelValues(method).Inc()
	}
}

// SetOpenOffers updates the live-offer gauge.
func (m *Metrics) SetOpenOffers(n int) {
	m.OpenOffers.Set(float64(n))
}

// Handler returns an HTTP handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a metrics HTTP server until the context is canceled.
// Cancellation is a clean stop and returns nil.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info("metrics listener started", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
