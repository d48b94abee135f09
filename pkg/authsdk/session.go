package authsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/flightdesk/flightdesk/pkg/rbac"
)

// expiryBuffer refreshes access tokens slightly before they expire.
const expiryBuffer = 30 * time.Second

// ErrNoRefreshToken is returned when a session must refresh but holds no token.
var ErrNoRefreshToken = errors.New("authsdk: access token expired and no refresh token available")

// Session represents an authenticated session with automatic token refresh.
// Every refresh rotates the refresh token, so a Session must not be cloned.
type Session struct {
	client *SDKClient

	mu           sync.RWMutex
	userID       string
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	roles        rbac.Roles
}

// newSession creates a new authenticated session from a token response.
func newSession(client *SDKClient, tokenResp *TokenResponse) *Session {
	s := &Session{client: client}
	s.apply(tokenResp)
	return s
}

func (s *Session) apply(tokenResp *TokenResponse) {
	s.userID = tokenResp.UserID
	s.accessToken = tokenResp.AccessToken
	s.refreshToken = tokenResp.RefreshToken
	s.expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - expiryBuffer)
	s.roles = tokenResp.Roles
}

// getValidToken returns a valid access token, refreshing it when expired.
func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.accessToken != "" && time.Now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have refreshed while we waited.
	if s.accessToken != "" && time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}
	if s.refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	tokenResp, err := s.client.Refresh(ctx, s.userID, s.refreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}
	s.apply(tokenResp)
	return s.accessToken, nil
}

// Logout revokes the session's refresh token and clears local state.
func (s *Session) Logout(ctx context.Context) (bool, error) {
	s.mu.Lock()
	refreshToken := s.refreshToken
	s.accessToken, s.refreshToken = "", ""
	s.mu.Unlock()

	if refreshToken == "" {
		return false, ErrNoRefreshToken
	}
	return s.client.Logout(ctx, refreshToken)
}

// UserID returns the authenticated user's id.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// AccessToken returns the current access token without checking expiration.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// Roles returns the roles granted at the last login or refresh.
func (s *Session) Roles() rbac.Roles {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(rbac.Roles(nil), s.roles...)
}

// checkAllowed applies p to the cached roles when role checking is enabled.
func (s *Session) checkAllowed(p rbac.Predicate) error {
	if !s.client.CheckRoles || p == nil {
		return nil
	}
	if err := rbac.Allow(s.Roles(), p); err != nil {
		return fmt.Errorf("%w: requires %s", ErrInsufficientRole, p)
	}
	return nil
}

// doAuthJSON performs an authenticated JSON request after the local role check.
func (s *Session) doAuthJSON(
	ctx context.Context,
	method, path string,
	body, target any,
	expectedStatus int,
	need rbac.Predicate,
) error {
	if err := s.checkAllowed(need); err != nil {
		return err
	}

	token, err := s.getValidToken(ctx)
	if err != nil {
		return err
	}

	req, err := s.client.newJSONRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return decodeJSON(resp, target, expectedStatus)
}

// Me returns the verified claims of the current access token.
func (s *Session) Me(ctx context.Context) (*MeResponse, error) {
	var out MeResponse
	if err := s.doAuthJSON(ctx, http.MethodGet, "/v1/auth/me", nil, &out, http.StatusOK, nil); err != nil {
		return nil, err
	}
	return &out, nil
}
