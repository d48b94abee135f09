package auth_test

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/flightdesk/flightdesk/pkg/authsdk"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * Common constants and helper functions for auth service end-to-end tests.
 * This includes container setup, service operations, and assertions.
 */

const (
	testImageName = "flightdesk-auth-test:latest"

	bootstrapToken   = "test-bootstrap-token-12345"
	signingSecret    = "e2e-signing-secret-0123456789abcdef"
	adminUsername    = "chief"
	adminDisplayName = "Chief Flight Instructor"
	adminPassword    = "Admin123!secure"
)

// TestMain manages the test lifecycle, builds the Docker image once before
// all tests and cleans it up after all tests complete.
func TestMain(m *testing.M) {
	fmt.Fprintf(os.Stdout, "Building Auth Service Docker image...")

	if err := buildDockerImage(); err != nil {
		fmt.Fprintf(os.Stderr, "\nFailed to build Docker image: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, " done\n")

	exitCode := m.Run()

	fmt.Fprintf(os.Stdout, "Cleaning up Auth Service Docker image...")
	cleanupDockerImage()
	fmt.Fprintf(os.Stdout, " done\n")

	os.Exit(exitCode)
}

// buildDockerImage builds the test Docker image.
func buildDockerImage() error {
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "docker", "build",
		"-t", testImageName,
		"-f", "../../../cmd/auth/Dockerfile",
		"../../../")
	cmd.Dir = "."
	cmd.Stdout = os.Stdout
	cmd.Stderr = nil

	return cmd.Run()
}

// cleanupDockerImage removes the test Docker image.
func cleanupDockerImage() {
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "docker", "rmi", "-f", testImageName)
	_ = cmd.Run() // Ignore errors - image might not exist
}

func baseEnv() map[string]string {
	return map[string]string{
		"BOOTSTRAP_TOKEN":    bootstrapToken,
		"AUTH_SECRET":        signingSecret,
		"AUTH_DATABASE_FILE": "/tmp/auth.db",
		"AUTH_PEPPER_FILE":   "/tmp/pepper",
		"AUTH_ISSUER":        "flightdesk-auth",
		"ENV":                "test",
		"LOG_LEVEL":          "info",
		"LOG_FORMAT":         "json",
	}
}

// relaxedRateLimits keeps tests that make many rapid requests under the
// strict production limits.
var relaxedRateLimits = map[string]string{
	"RATELIMIT_STRICT_REQUESTS":   "1000",
	"RATELIMIT_STRICT_WINDOW_SEC": "60",
	"RATELIMIT_STRICT_BURST":      "1000",
	"RATELIMIT_MODERATE_REQUESTS": "1000",
	"RATELIMIT_MODERATE_BURST":    "1000",
}

// setupAuthContainer starts the auth service with relaxed rate limits and
// returns its base URL.
func setupAuthContainer(t *testing.T, extraEnv ...map[string]string) (string, func()) {
	t.Helper()
	env := baseEnv()
	maps.Copy(env, relaxedRateLimits)
	for _, e := range extraEnv {
		maps.Copy(env, e)
	}
	return startContainer(t, env)
}

// setupAuthContainerWithDefaultRateLimits starts the auth service with the
// production rate limits. Only rate limit tests should use it.
func setupAuthContainerWithDefaultRateLimits(t *testing.T) (string, func()) {
	t.Helper()
	return startContainer(t, baseEnv())
}

func startContainer(t *testing.T, env map[string]string) (string, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        testImageName,
		ExposedPorts: []string{"8080/tcp"},
		Env:          env,
		WaitingFor: wait.ForHTTP("/livez").
			WithPort("8080/tcp").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	mappedPort, err := container.MappedPort(ctx, "8080")
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	baseURL := fmt.Sprintf("http://%s:%s", host, mappedPort.Port())

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return baseURL, cleanup
}

// bootstrapService creates the first super admin and returns its user ID.
func bootstrapService(t *testing.T, client *authsdk.SDKClient) string {
	t.Helper()

	user, err := client.Bootstrap(t.Context(), bootstrapToken, authsdk.BootstrapRequest{
		Username:    adminUsername,
		DisplayName: adminDisplayName,
		Password:    adminPassword,
	})
	require.NoError(t, err, "Bootstrap should succeed")
	require.NotEmpty(t, user.ID, "Admin user ID should not be empty")

	return user.ID
}

// performLogin logs a user in and returns the session.
func performLogin(t *testing.T, client *authsdk.SDKClient, username, password string) *authsdk.Session {
	t.Helper()

	session, err := client.Login(t.Context(), username, password, "")
	require.NoError(t, err, "Login should succeed")
	require.NotNil(t, session, "Session should not be nil")

	return session
}

// assertTokenResponse verifies a token response has all required fields.
func assertTokenResponse(t *testing.T, resp *authsdk.TokenResponse) {
	t.Helper()
	require.NotNil(t, resp)
	require.NotEmpty(t, resp.AccessToken, "Access token should not be empty")
	require.NotEmpty(t, resp.RefreshToken, "Refresh token should not be empty")
	require.Equal(t, "Bearer", resp.TokenType, "Token type should be Bearer")
	require.Positive(t, resp.ExpiresIn, "Access token lifetime should be positive")
	require.NotEmpty(t, resp.Roles, "Roles should not be empty")
}

// requireStatus checks err is an *authsdk.OAuth2Error carrying status.
func requireStatus(t *testing.T, err error, status int, context string) *authsdk.OAuth2Error {
	t.Helper()
	require.Error(t, err, context)
	var oerr *authsdk.OAuth2Error
	require.True(t, errors.As(err, &oerr), "%s - expected an OAuth2 error, got: %v", context, err)
	require.Equal(t, status, oerr.StatusCode, "%s - unexpected status: %v", context, err)
	return oerr
}

// assertHealthy verifies a health check response is OK.
func assertHealthy(t *testing.T, health *authsdk.HealthResponse, err error) {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, health)
	require.Equal(t, "ok", health.Status)
}
