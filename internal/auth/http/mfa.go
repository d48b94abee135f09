package http

import (
	"errors"
	"net/http"

	"github.com/flightdesk/flightdesk/internal/auth/service"
	"github.com/flightdesk/flightdesk/pkg/authsdk"
	"github.com/flightdesk/flightdesk/pkg/httpx"
	"github.com/flightdesk/flightdesk/pkg/slogx"
)

// MFAHandler handles all MFA-related endpoints.
type MFAHandler struct {
	MFAService *service.MFAService
}

// HandleEnroll handles POST /v1/auth/mfa/totp/enroll
//
//	@Summary		Enroll in TOTP MFA
//	@Description	Generates a pending TOTP secret for the authenticated user. MFA is enforced once confirmed.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.TOTPEnrollResponse	"TOTP secret and otpauth URL"
//	@Failure		400	{object}	authsdk.ErrorResponse		"MFA already enabled"
//	@Failure		401	{object}	authsdk.ErrorResponse		"Invalid or missing access token"
//	@Failure		500	{object}	authsdk.ErrorResponse		"Internal server error"
//	@Router			/v1/auth/mfa/totp/enroll [post].
func (h *MFAHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	// Get user ID from context (injected by AuthnMiddleware)
	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	enrollment, err := h.MFAService.EnrollTOTP(ctx, userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMFAAlreadyEnabled):
			log.Warn("MFA already enabled", "user_id", userID)
			writeMFAError(w, "mfa_already_enabled", "MFA is already enabled for this user")
		case errors.Is(err, service.ErrUserNotFound):
			authsdk.ErrInvalidToken.WriteError(w)
		default:
			log.Error("failed to enroll TOTP", "user_id", userID, "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.TOTPEnrollResponse{
		Secret: enrollment.Secret,
		URL:    enrollment.URL,
	})
}

// HandleConfirm handles POST /v1/auth/mfa/totp/confirm
//
//	@Summary		Confirm TOTP enrollment
//	@Description	Verifies a code against the pending secret and enables MFA. Later logins require otp_code.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body	authsdk.TOTPConfirmRequest	true	"TOTP code"
//	@Success		204		"MFA enabled"
//	@Failure		400		{object}	authsdk.ErrorResponse	"Invalid code, not enrolled or already enabled"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Invalid or missing access token"
//	@Failure		500		{object}	authsdk.ErrorResponse	"Internal server error"
//	@Router			/v1/auth/mfa/totp/confirm [post].
func (h *MFAHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	var req authsdk.TOTPConfirmRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		log.Warn("failed to parse request", "err", err)
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	if err := h.MFAService.ConfirmTOTP(ctx, userID, req.Code); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidTOTPCode):
			log.Warn("invalid TOTP code", "user_id", userID)
			writeMFAError(w, "invalid_code", "Invalid TOTP code")
		case errors.Is(err, service.ErrMFANotEnrolled):
			writeMFAError(w, "mfa_not_enrolled", "Call the enroll endpoint first")
		case errors.Is(err, service.ErrMFAAlreadyEnabled):
			writeMFAError(w, "mfa_already_enabled", "MFA is already enabled for this user")
		case errors.Is(err, service.ErrUserNotFound):
			authsdk.ErrInvalidToken.WriteError(w)
		default:
			log.Error("failed to confirm TOTP", "user_id", userID, "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	log.Info("MFA enabled", "user_id", userID)
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

func writeMFAError(w http.ResponseWriter, code, desc string) {
	httpx.WriteError(w, http.StatusBadRequest, code, desc)
}
