package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by the whole API.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Security-sensitive counters. Labels stay low-cardinality: outcomes and
// reasons, never user identifiers.
var (
	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	TokenRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_rotations_total",
			Help: "Refresh token rotations by outcome (rotated, invalid, reuse_detected).",
		},
		[]string{"outcome"},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_rate_limited_total",
			Help: "Requests rejected by the fixed-window limiter, by scope.",
		},
		[]string{"scope"},
	)

	CSRFRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_csrf_rejections_total",
		Help: "Mutating requests rejected by the CSRF guard.",
	})
)

// Init registers all metrics with the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		LoginAttempts, TokenRotations, RateLimited, CSRFRejections,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps next with in-flight, count, and latency measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
