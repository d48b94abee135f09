package auth_test

import (
	"net/http"
	"testing"

	"github.com/flightdesk/flightdesk/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestRateLimitLoginEndpoint verifies /v1/auth/login allows five attempts per
// minute for one username.
func TestRateLimitLoginEndpoint(t *testing.T) {
	baseURL, cleanup := setupAuthContainerWithDefaultRateLimits(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)

	for i := range 5 {
		_, err := client.Login(t.Context(), "wronguser", "wrongpass", "")
		requireStatus(t, err, http.StatusUnauthorized, "Attempt before the limit")
		t.Logf("attempt %d rejected as expected", i+1)
	}

	_, err := client.Login(t.Context(), "wronguser", "wrongpass", "")
	oerr := requireStatus(t, err, http.StatusTooManyRequests, "Sixth attempt")
	require.Equal(t, authsdk.ErrorCodeRateLimited, oerr.Code)
}

// TestRateLimitBootstrapEndpoint verifies the one-time setup endpoint is
// limited per client IP.
func TestRateLimitBootstrapEndpoint(t *testing.T) {
	baseURL, cleanup := setupAuthContainerWithDefaultRateLimits(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	req := authsdk.BootstrapRequest{Username: "admin", Password: "Admin123!secure"}

	for range 5 {
		_, err := client.Bootstrap(t.Context(), "wrong-token", req)
		requireStatus(t, err, http.StatusUnauthorized, "Attempt before the limit")
	}

	_, err := client.Bootstrap(t.Context(), "wrong-token", req)
	requireStatus(t, err, http.StatusTooManyRequests, "Sixth bootstrap attempt")
}
