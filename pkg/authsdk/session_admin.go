package authsdk

import (
	"context"
	"net/http"
	"net/url"

	"github.com/flightdesk/flightdesk/pkg/rbac"
)

// CreateUser creates a user. Requires the manage users capability.
func (s *Session) CreateUser(ctx context.Context, in CreateUserRequest) (*UserResponse, error) {
	var out UserResponse
	err := s.doAuthJSON(ctx, http.MethodPost, "/v1/admin/users", in, &out, http.StatusCreated,
		rbac.HasCapability(rbac.CapManageUsers))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions returns the refresh token history of userID.
// Requires the manage sessions capability.
func (s *Session) ListSessions(ctx context.Context, userID string) ([]SessionToken, error) {
	var out SessionListResponse
	path := "/v1/admin/users/" + url.PathEscape(userID) + "/sessions"
	err := s.doAuthJSON(ctx, http.MethodGet, path, nil, &out, http.StatusOK,
		rbac.HasCapability(rbac.CapManageSessions))
	if err != nil {
		return nil, err
	}
	return out.Tokens, nil
}

// RevokeSessions revokes every live refresh token of userID.
// Requires the manage sessions capability.
func (s *Session) RevokeSessions(ctx context.Context, userID, reason string) (int, error) {
	var out RevokeSessionsResponse
	path := "/v1/admin/users/" + url.PathEscape(userID) + "/sessions/revoke"
	err := s.doAuthJSON(ctx, http.MethodPost, path, RevokeSessionsRequest{Reason: reason}, &out, http.StatusOK,
		rbac.HasCapability(rbac.CapManageSessions))
	if err != nil {
		return 0, err
	}
	return out.Revoked, nil
}

// ListRoles returns the closed role set with each role's capabilities.
func (s *Session) ListRoles(ctx context.Context) ([]RoleInfo, error) {
	var out RolesResponse
	if err := s.doAuthJSON(ctx, http.MethodGet, "/v1/admin/roles", nil, &out, http.StatusOK, nil); err != nil {
		return nil, err
	}
	return out.Roles, nil
}

// SetUserRoles replaces the roles of userID. Requires the manage users
// capability.
func (s *Session) SetUserRoles(ctx context.Context, userID string, roles rbac.Roles) error {
	path := "/v1/admin/users/" + url.PathEscape(userID) + "/roles"
	return s.doAuthJSON(ctx, http.MethodPut, path, SetRolesRequest{Roles: roles}, nil, http.StatusNoContent,
		rbac.HasCapability(rbac.CapManageUsers))
}
