// Package metrics exposes Prometheus collectors for the randomness layer.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "randomness_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "randomness_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "randomness_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	// RequestsCreated counts created request ledger entries.
	RequestsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "randomness_layer",
			Subsystem: "requests",
			Name:      "created_total",
			Help:      "Total number of randomness requests created.",
		},
	)

	// Fulfillments counts fulfillment attempts by outcome.
	Fulfillments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "randomness_layer",
			Subsystem: "fulfillments",
			Name:      "total",
			Help:      "Total number of fulfillment attempts.",
		},
		[]string{"outcome"},
	)

	// FulfillmentDuration observes end-to-end fulfillment latency including
	// callback dispatch.
	FulfillmentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "randomness_layer",
			Subsystem: "fulfillments",
			Name:      "duration_seconds",
			Help:      "Duration of fulfillment processing.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
	)

	// CallbackDispatches counts callback dispatches by outcome.
	CallbackDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "randomness_layer",
			Subsystem: "callbacks",
			Name:      "dispatches_total",
			Help:      "Total number of callback dispatches.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		RequestsCreated,
		Fulfillments,
		FulfillmentDuration,
		CallbackDispatches,
	)
}

// Handler returns the HTTP handler serving the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack delegates to the underlying writer so instrumented routes can still
// be upgraded (websockets).
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		// The connection left HTTP; report the switch, not a 200.
		r.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Instrument wraps an HTTP handler with request counting and latency
// observation. The path label is the route template, not the raw URL.
func Instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
