// Package metrics provides Prometheus instrumentation for StockTrak.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LedgerOpsTotal counts ledger mutations by operation and outcome
	// ("ok", "rejected", "error").
	LedgerOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocktrak_ledger_ops_total",
		Help: "Ledger operations by type and outcome",
	}, []string{"op", "outcome"})

	// LedgerOpLatency tracks how long a ledger mutation holds its account unit.
	LedgerOpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stocktrak_ledger_op_latency_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// QuoteLookupsTotal counts quote gateway calls by outcome.
	QuoteLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocktrak_quote_lookups_total",
		Help: "Quote lookups by outcome",
	}, []string{"outcome"})

	// QuoteLatency tracks end-to-end quote lookup latency, enrichment included.
	QuoteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stocktrak_quote_latency_seconds",
		Help:    "Quote lookup latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// MarketClosedRejections counts trades refused outside market hours.
	MarketClosedRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocktrak_market_closed_rejections_total",
		Help: "Trades rejected because the market was closed",
	}, []string{"op"})

	// ActiveSessions tracks sessions created minus sessions destroyed in this process.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stocktrak_active_sessions",
		Help: "Sessions opened by this instance and not yet logged out",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocktrak_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stocktrak_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLedgerOp records the outcome and latency of one ledger mutation.
func ObserveLedgerOp(op, outcome string, start time.Time) {
	LedgerOpsTotal.WithLabelValues(op, outcome).Inc()
	LedgerOpLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern returns the matched chi pattern, keeping label cardinality
// bounded. Unmatched requests collapse to "unmatched".
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
