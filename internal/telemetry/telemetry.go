// Package telemetry holds the process-wide Prometheus collectors and the
// OpenTelemetry tracer setup.
package telemetry

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
	hostWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "digest_host_wait_seconds",
			Help:    "Time spent waiting for a mirror host token.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	hostCooldownsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_host_cooldowns_total",
			Help: "Mirror hosts placed in cooldown after throttling.",
		},
		[]string{"host"},
	)

	governorDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "digest_governor_delay_seconds",
			Help:    "Advised inter-request delay per adapter.",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"adapter"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_http_requests_total",
			Help: "HTTP requests served, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "digest_http_request_duration_seconds",
			Help:    "HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"method", "route"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHostWait records a pacing wait for host.
func ObserveHostWait(host string, d time.Duration) {
	hostWaitSeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHostCooldown counts a cooldown for host.
func ObserveHostCooldown(host string) {
	hostCooldownsTotal.WithLabelValues(host).Inc()
}

// ObserveGovernorDelay records an advised delay for adapter.
func ObserveGovernorDelay(adapter string, d time.Duration) {
	governorDelaySeconds.WithLabelValues(adapter).Observe(d.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.statusCode)).Inc()
		httpRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}
