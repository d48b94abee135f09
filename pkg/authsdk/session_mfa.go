package authsdk

import (
	"context"
	"net/http"
)

// EnrollTOTP starts TOTP enrollment and returns the pending secret.
func (s *Session) EnrollTOTP(ctx context.Context) (*TOTPEnrollResponse, error) {
	var out TOTPEnrollResponse
	if err := s.doAuthJSON(ctx, http.MethodPost, "/v1/auth/mfa/totp/enroll", nil, &out, http.StatusOK, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmTOTP activates the pending secret with a current code.
func (s *Session) ConfirmTOTP(ctx context.Context, code string) error {
	in := TOTPConfirmRequest{Code: code}
	return s.doAuthJSON(ctx, http.MethodPost, "/v1/auth/mfa/totp/confirm", in, nil, http.StatusNoContent, nil)
}

// ChangePassword replaces the caller's password. Every refresh token of the
// caller, this session's included, is revoked by the server.
func (s *Session) ChangePassword(ctx context.Context, current, next string) (int, error) {
	var out ChangePasswordResponse
	in := ChangePasswordRequest{CurrentPassword: current, NewPassword: next}
	if err := s.doAuthJSON(ctx, http.MethodPost, "/v1/auth/password", in, &out, http.StatusOK, nil); err != nil {
		return 0, err
	}
	return out.Revoked, nil
}
