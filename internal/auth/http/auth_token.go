package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/flightdesk/flightdesk/internal/auth/domain"
	"github.com/flightdesk/flightdesk/internal/auth/service"
	"github.com/flightdesk/flightdesk/pkg/authsdk"
	"github.com/flightdesk/flightdesk/pkg/httpx"
	"github.com/flightdesk/flightdesk/pkg/slogx"
)

// AuthHandler serves login, refresh and logout.
type AuthHandler struct {
	TokenService *service.TokenService
	UserService  *service.UserService
}

// HandleLogin handles POST /v1/auth/login
//
//	@Summary		Log in
//	@Description	Verifies username and password (plus a TOTP code once MFA is enabled) and starts a new session.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.LoginRequest	true	"Credentials"
//	@Success		200		{object}	authsdk.TokenResponse	"access_token, refresh_token, token_type, expires_in"
//	@Failure		400		{object}	authsdk.ErrorResponse	"Malformed request"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Invalid credentials"
//	@Failure		429		{object}	authsdk.ErrorResponse	"Rate limit exceeded"
//	@Failure		500		{object}	authsdk.ErrorResponse	"Internal server error"
//	@Header			200		{string}	Cache-Control			"no-store"
//	@Router			/v1/auth/login [post].
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req authsdk.LoginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	user, err := h.UserService.Authenticate(ctx, req.Username, req.Password, req.OTPCode)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			log.Info("login rejected")
			authsdk.ErrInvalidGrant.WriteError(w)
			return
		}
		log.Error("login failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	pair, err := h.TokenService.Issue(ctx, user)
	if err != nil {
		log.Error("failed to issue tokens", "user_id", user.ID, "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	log.Info("login succeeded", "user_id", user.ID, "session_id", pair.SessionID)
	writeTokenResponse(w, pair)
}

// HandleRefresh handles POST /v1/auth/refresh
//
//	@Summary		Rotate a refresh token
//	@Description	Exchanges a live refresh token for a new pair. The presented token is revoked and cannot be used again.
//	@Description	Unknown, revoked and expired tokens are indistinguishable to the caller.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.RefreshRequest	true	"Refresh token and owner"
//	@Success		200		{object}	authsdk.TokenResponse	"access_token, refresh_token, token_type, expires_in"
//	@Failure		400		{object}	authsdk.ErrorResponse	"Malformed request"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Refresh token not usable"
//	@Failure		429		{object}	authsdk.ErrorResponse	"Rate limit exceeded"
//	@Failure		500		{object}	authsdk.ErrorResponse	"Internal server error"
//	@Header			200		{string}	Cache-Control			"no-store"
//	@Router			/v1/auth/refresh [post].
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}
	if req.RefreshToken == "" || strings.TrimSpace(req.UserID) == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.TokenService.Rotate(ctx, req.RefreshToken, strings.TrimSpace(req.UserID))
	if err != nil {
		if service.IsUnauthorized(err) {
			// The reason stays in the log; the caller only sees invalid_grant.
			log.Info("refresh rejected", "user_id", req.UserID, "reason", err.Error())
			authsdk.ErrInvalidGrant.WriteError(w)
			return
		}
		log.Error("refresh failed", "user_id", req.UserID, "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	writeTokenResponse(w, pair)
}

// HandleLogout handles POST /v1/auth/logout
//
//	@Summary		Log out
//	@Description	Revokes the presented refresh token. Idempotent: unknown or already revoked tokens report revoked=false.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.LogoutRequest	true	"Refresh token"
//	@Success		200		{object}	authsdk.LogoutResponse	"Whether a live token was revoked"
//	@Failure		400		{object}	authsdk.ErrorResponse	"Malformed request"
//	@Failure		500		{object}	authsdk.ErrorResponse	"Internal server error"
//	@Router			/v1/auth/logout [post].
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req authsdk.LogoutRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil || req.RefreshToken == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	revoked, err := h.TokenService.Revoke(ctx, req.RefreshToken, domain.ReasonLogout)
	if err != nil {
		log.Error("logout failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.LogoutResponse{Revoked: revoked})
}

func writeTokenResponse(w http.ResponseWriter, pair domain.TokenPair) {
	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        pair.TokenType,
		ExpiresIn:        int(pair.AccessExpiresAt.Sub(pair.IssuedAt).Seconds()),
		RefreshExpiresIn: int(pair.RefreshExpiresAt.Sub(pair.IssuedAt).Seconds()),
		UserID:           pair.UserID,
		Roles:            pair.Roles,
	})
}
