package http

import (
	"errors"
	"net/http"

	"github.com/flightdesk/flightdesk/internal/auth/service"
	"github.com/flightdesk/flightdesk/pkg/authsdk"
	"github.com/flightdesk/flightdesk/pkg/httpx"
	"github.com/flightdesk/flightdesk/pkg/slogx"
)

// MeHandler serves endpoints about the authenticated caller.
type MeHandler struct {
	UserService *service.UserService
}

// HandleMe handles GET /v1/auth/me
//
//	@Summary		Describe the current access token
//	@Description	Returns the verified claims of the bearer token. Roles are those held when the token was issued.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.MeResponse		"sub, sid, roles, iat, exp"
//	@Failure		401	{object}	authsdk.ErrorResponse	"Invalid or missing access token"
//	@Router			/v1/auth/me [get].
func (h *MeHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := httpx.ClaimsFromContext(r.Context())
	if !ok {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	resp := authsdk.MeResponse{
		UserID:    claims.Subject,
		SessionID: claims.SID,
		Username:  claims.Username,
		Roles:     claims.Roles,
	}
	if claims.IssuedAt != nil {
		resp.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleChangePassword handles POST /v1/auth/password
//
//	@Summary		Change password
//	@Description	Replaces the caller's password after checking the current one. Every refresh token of the caller is revoked.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.ChangePasswordRequest	true	"Current and new password"
//	@Success		200		{object}	authsdk.ChangePasswordResponse	"Number of sessions ended"
//	@Failure		400		{object}	authsdk.ErrorResponse			"New password too short"
//	@Failure		401		{object}	authsdk.ErrorResponse			"Invalid token or current password"
//	@Failure		500		{object}	authsdk.ErrorResponse			"Internal server error"
//	@Router			/v1/auth/password [post].
func (h *MeHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	var req authsdk.ChangePasswordRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	revoked, err := h.UserService.ChangePassword(ctx, userID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			authsdk.NewOAuth2Error(http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, err.Error()).WriteError(w)
		case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrUserNotFound):
			authsdk.ErrInvalidGrant.WriteError(w)
		default:
			log.Error("failed to change password", "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	log.Info("password changed", "sessions_revoked", revoked)
	httpx.WriteJSON(w, http.StatusOK, authsdk.ChangePasswordResponse{Revoked: revoked})
}
