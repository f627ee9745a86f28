// Package metrics provides Prometheus instrumentation for the wallet engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FreezesTotal counts freeze calls, partitioned by outcome
	// (committed, replayed, insufficient_funds, duplicate, rejected).
	FreezesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_freezes_total",
		Help: "Total freeze operations by outcome",
	}, []string{"outcome"})

	// GroupOpLatency tracks reservation group operation latency.
	GroupOpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_group_op_latency_seconds",
		Help:    "Freeze/unfreeze/withdraw latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// FrozenAmount tracks the total amount moved by group operations.
	FrozenAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_group_amount_total",
		Help: "Cumulative token amount per group operation",
	}, []string{"op", "vendor"})

	// EventClients tracks connected event-stream clients.
	EventClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wallet_event_clients",
		Help: "Number of connected event-stream clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
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
