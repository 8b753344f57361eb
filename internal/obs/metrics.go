package obs

import (
	"net/http"
	"strconv"
	"strings"
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

	tokenVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_verifications_total",
			Help: "Access token verification outcomes.",
		},
		[]string{"outcome"},
	)

	refreshRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_rotations_total",
			Help: "Refresh token rotation outcomes.",
		},
		[]string{"outcome"},
	)

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization decisions by resource kind and outcome.",
		},
		[]string{"resource", "action", "outcome"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		tokenVerifications, refreshRotations, authzDecisions,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTokenVerification records a token verification outcome
// (ok, malformed, bad_signature, expired).
func ObserveTokenVerification(outcome string) {
	tokenVerifications.WithLabelValues(outcome).Inc()
}

// ObserveRefreshRotation records a refresh rotation outcome
// (ok, invalid, throttled, reuse).
func ObserveRefreshRotation(outcome string) {
	refreshRotations.WithLabelValues(outcome).Inc()
}

// ObserveAuthzDecision records a policy engine decision
// (allow, forbidden, not_found).
func ObserveAuthzDecision(resource, action, outcome string) {
	authzDecisions.WithLabelValues(resource, action, outcome).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := canonicalPath(r.URL.Path)
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

// canonicalPath collapses per-record path segments so metric labels stay
// bounded. Unknown prefixes fall through as "other".
func canonicalPath(path string) string {
	for _, p := range []string{
		"/healthz", "/readyz", "/metrics", "/v1/info",
		"/v1/auth/signup", "/v1/auth/login", "/v1/auth/refresh",
		"/v1/auth/logout", "/v1/auth/me",
		"/v1/tasks", "/v1/projects",
	} {
		if path == p {
			return p
		}
	}
	for _, p := range []string{
		"/v1/tasks/", "/v1/projects/", "/v1/threads/",
		"/v1/messages/", "/v1/users/",
	} {
		if strings.HasPrefix(path, p) {
			return p + ":id"
		}
	}
	if path == "/" {
		return "/"
	}
	return "other"
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

// Flush keeps streaming responses working through the instrumented chain.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
