package authsdk

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SDKClient is a client for the flightdesk auth service.
// It provides access to unauthenticated operations and can create authenticated Sessions.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// CheckRoles makes Sessions refuse admin calls locally when the cached
	// roles cannot satisfy them. Disable it to exercise server-side checks.
	// Default: true
	CheckRoles bool
}

// NewSDKClient creates a new auth service client with role checking enabled.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		CheckRoles: true,
	}
}

// Login authenticates with username and password and returns a Session.
// otpCode may be empty when the user has no TOTP enrolled.
func (c *SDKClient) Login(ctx context.Context, username, password, otpCode string) (*Session, error) {
	tokenResp, err := c.PasswordLogin(ctx, LoginRequest{
		Username: username,
		Password: password,
		OTPCode:  otpCode,
	})
	if err != nil {
		return nil, err
	}
	return newSession(c, tokenResp), nil
}

// NewSessionFromTokens resumes a session from stored tokens. The first
// authenticated call rotates the refresh token.
func (c *SDKClient) NewSessionFromTokens(userID, refreshToken string) *Session {
	return &Session{
		client:       c,
		userID:       userID,
		refreshToken: refreshToken,
	}
}

// Bootstrap creates the first super admin. It only succeeds while the user
// store is empty and token matches the server's bootstrap token.
func (c *SDKClient) Bootstrap(ctx context.Context, token string, in BootstrapRequest) (*UserResponse, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/v1/bootstrap", in)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Bootstrap-Token", token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var out UserResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}
