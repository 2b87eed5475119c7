package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
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

// Session-core metrics.
var (
	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by identity class and result.",
		},
		[]string{"class", "result"},
	)

	refreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refreshes_total",
			Help: "Refresh-token presentations by identity class and result.",
		},
		[]string{"class", "result"},
	)

	otpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_otp_total",
			Help: "OTP challenge operations by operation and result.",
		},
		[]string{"op", "result"},
	)

	cacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_cache_total",
			Help: "Identity projection cache lookups by result.",
		},
		[]string{"result"},
	)
)

var initOnce sync.Once

// Init registers all metrics with the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginsTotal, refreshesTotal, otpTotal, cacheTotal,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncLogin records a login attempt outcome.
func IncLogin(class, result string) {
	loginsTotal.WithLabelValues(class, result).Inc()
}

// IncRefresh records a refresh attempt outcome.
func IncRefresh(class, result string) {
	refreshesTotal.WithLabelValues(class, result).Inc()
}

// IncOTP records an OTP operation outcome.
func IncOTP(op, result string) {
	otpTotal.WithLabelValues(op, result).Inc()
}

// IncCache records a projection cache lookup outcome ("hit" or "miss").
func IncCache(result string) {
	cacheTotal.WithLabelValues(result).Inc()
}

// CanonicalPath reduces a request path to a bounded label value: the query
// string is dropped and unknown paths are bucketed so the cardinality of the
// path label stays fixed.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	switch {
	case path == "/metrics", path == "/healthz", path == "/readyz", path == "/v1/info":
		return path
	case strings.HasPrefix(path, "/v1/admin/auth/"), strings.HasPrefix(path, "/v1/users/auth/"):
		return path
	default:
		return "/other"
	}
}

// Instrument wraps a handler with in-flight, rate and latency tracking.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
