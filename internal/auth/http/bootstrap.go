package http

import (
	"errors"
	"net/http"

	"github.com/flightdesk/flightdesk/internal/auth/service"
	"github.com/flightdesk/flightdesk/pkg/authsdk"
	"github.com/flightdesk/flightdesk/pkg/httpx"
	"github.com/flightdesk/flightdesk/pkg/slogx"
)

type BootstrapHandler struct {
	BootstrapService *service.BootstrapService
}

// ServeHTTP handles the bootstrap endpoint for initial system setup.
//
//	@Summary		Bootstrap the authentication system
//	@Description	Creates the first SUPER_ADMIN user. Only available when a bootstrap token is configured and only while no user exists.
//	@Tags			Bootstrap
//	@Accept			json
//	@Produce		json
//	@Param			X-Bootstrap-Token	header		string						true	"Bootstrap token for authorization"
//	@Param			request				body		authsdk.BootstrapRequest	true	"Initial administrator"
//	@Success		201					{object}	authsdk.UserResponse		"Created administrator"
//	@Failure		400					{object}	authsdk.ErrorResponse		"Invalid request body or validation failed"
//	@Failure		401					{object}	authsdk.ErrorResponse		"Missing or invalid bootstrap token, or system already bootstrapped"
//	@Failure		404					{object}	authsdk.ErrorResponse		"Bootstrap not enabled (no token configured)"
//	@Failure		500					{object}	authsdk.ErrorResponse		"Failed to create admin user"
//	@Router			/v1/bootstrap [post].
func (h *BootstrapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := slogx.FromContext(ctx)

	// 1. Check if enabled
	if h.BootstrapService == nil || !h.BootstrapService.Enabled() {
		authsdk.NewOAuth2Error(http.StatusNotFound, authsdk.ErrorCodeNotFound,
			"Bootstrap endpoint is not enabled").WriteError(w)
		return
	}

	// 2. Require bootstrap token header
	token := r.Header.Get("X-Bootstrap-Token")
	if token == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized",
			"Bootstrap token is required in X-Bootstrap-Token header")
		return
	}

	// 3. Parse request body
	var req authsdk.BootstrapRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest,
			"Request body must be valid JSON")
		return
	}

	// 4. Perform bootstrap
	u, err := h.BootstrapService.Bootstrap(ctx, token, service.CreateUserParams{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBootstrapAlready):
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "System has already been bootstrapped")
		case errors.Is(err, service.ErrBootstrapUnauthorized):
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid bootstrap token")
		case errors.Is(err, service.ErrInvalidRequest):
			httpx.WriteError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, err.Error())
		default:
			l.Error("bootstrap failed", "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, userResponse(u))
}
