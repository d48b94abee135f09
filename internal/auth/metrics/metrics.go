// Package metrics holds the Prometheus collectors for the auth service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flightdesk_auth"

// Rotation outcomes used as the "result" label.
const (
	RotationOK       = "ok"
	RotationNotFound = "not_found"
	RotationRevoked  = "revoked"
	RotationExpired  = "expired"
	RotationError    = "error"
)

type Metrics struct {
	TokensIssued        prometheus.Counter
	Rotations           *prometheus.CounterVec
	Revocations         *prometheus.CounterVec
	ReuseDetected       prometheus.Counter
	VerifyFailures      *prometheus.CounterVec
	LoginAttempts       *prometheus.CounterVec
	ActiveRefreshTokens prometheus.Gauge

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every collector with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TokensIssued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Token pairs issued at login.",
		}),
		Rotations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_rotations_total",
			Help:      "Refresh token rotations by result.",
		}, []string{"result"}),
		Revocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_revocations_total",
			Help:      "Refresh tokens revoked, by reason.",
		}, []string{"reason"}),
		ReuseDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_reuse_detected_total",
			Help:      "Already rotated refresh tokens presented again.",
		}),
		VerifyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_verify_failures_total",
			Help:      "Access tokens rejected, by kind.",
		}, []string{"kind"}),
		LoginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Password logins by result.",
		}, []string{"result"}),
		ActiveRefreshTokens: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_refresh_tokens",
			Help:      "Unrevoked, unexpired refresh tokens at the last housekeeping run.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		}, []string{"method", "route"}),
	}
}

// Noop returns collectors bound to a private registry that nobody scrapes.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Instrument records request count and latency under a fixed route label.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
