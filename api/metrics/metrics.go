package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solana_demos_actions_build_info",
			Help: "Build information of the actions server",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solana_demos_actions_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solana_demos_actions_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solana_demos_actions_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Vote action metrics
	VoteTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solana_demos_actions_vote_transactions_total",
			Help: "Total number of vote transactions built, by candidate and outcome",
		},
		[]string{"candidate", "status"}, // status: "built", "invalid_candidate", "invalid_account", "error"
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solana_demos_actions_rpc_request_duration_seconds",
			Help:    "Duration of Solana RPC requests made while serving actions",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
		[]string{"method", "status"},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordVote records the outcome of a vote action POST.
func RecordVote(candidate, status string) {
	VoteTransactionsTotal.WithLabelValues(candidate, status).Inc()
}

// RecordRPCRequest records metrics for a Solana RPC call.
func RecordRPCRequest(method string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	RPCRequestDuration.WithLabelValues(method, status).Observe(duration.Seconds())
}
