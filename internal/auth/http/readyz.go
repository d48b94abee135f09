package http

import (
	"context"
	"net/http"
	"time"

	"github.com/flightdesk/flightdesk/pkg/authsdk"
	"github.com/flightdesk/flightdesk/pkg/httpx"
	"github.com/flightdesk/flightdesk/pkg/slogx"
)

// Pinger is a dependency whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

const readyzTimeout = 2 * time.Second

// ReadyzHandler godoc
//
//	@Summary		Readiness Check Endpoint
//	@Description	Readiness probe endpoint returning service health status and checks for critical dependencies
//	@Description	Includes uptime, version, and status of the user database and the refresh token store
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, uptime, version, checks"
//	@Failure		503	{object}	authsdk.HealthResponse	"status, uptime, version, checks - service not ready"
//	@Router			/readyz [get].
func ReadyzHandler(
	startTime time.Time,
	version string,
	db Pinger,
	tokenStore Pinger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyzTimeout)
		defer cancel()
		log := slogx.FromContext(ctx)

		checks := &authsdk.HealthChecks{
			Database:   "ok",
			TokenStore: "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		// Error details go to the log, not to unauthenticated callers
		if err := db.Ping(ctx); err != nil {
			log.Warn("readiness: database ping failed", "err", err)
			checks.Database = "error"
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		if err := tokenStore.Ping(ctx); err != nil {
			log.Warn("readiness: token store ping failed", "err", err)
			checks.TokenStore = "error"
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, statusCode, authsdk.HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
