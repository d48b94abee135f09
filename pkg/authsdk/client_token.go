package authsdk

import (
	"context"
	"net/http"
)

// PasswordLogin exchanges credentials for a token pair.
func (c *SDKClient) PasswordLogin(ctx context.Context, in LoginRequest) (*TokenResponse, error) {
	var out TokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/login", in, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh rotates refreshToken. The presented value is revoked on success and
// must not be used again.
func (c *SDKClient) Refresh(ctx context.Context, userID, refreshToken string) (*TokenResponse, error) {
	var out TokenResponse
	in := RefreshRequest{RefreshToken: refreshToken, UserID: userID}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/refresh", in, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout revokes refreshToken. It reports false when the token was unknown or
// already revoked.
func (c *SDKClient) Logout(ctx context.Context, refreshToken string) (bool, error) {
	var out LogoutResponse
	in := LogoutRequest{RefreshToken: refreshToken}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/logout", in, &out, http.StatusOK); err != nil {
		return false, err
	}
	return out.Revoked, nil
}
