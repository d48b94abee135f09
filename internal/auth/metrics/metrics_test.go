package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flightdesk/flightdesk/internal/auth/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.TokensIssued.Inc()
	m.Rotations.WithLabelValues(metrics.RotationRevoked).Inc()
	m.ActiveRefreshTokens.Set(3)

	require.Equal(t, 1.0, testutil.ToFloat64(m.TokensIssued))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Rotations.WithLabelValues(metrics.RotationRevoked)))
	require.Equal(t, 3.0, testutil.ToFloat64(m.ActiveRefreshTokens))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	require.Contains(t, names, "flightdesk_auth_active_refresh_tokens")

	require.Panics(t, func() { metrics.New(reg) }, "double registration must fail loudly")
}

func TestInstrument(t *testing.T) {
	m := metrics.Noop()
	h := m.Instrument("/v1/auth/me", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodGet, "/v1/auth/me", "401")))
}
