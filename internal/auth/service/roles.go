package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flightdesk/flightdesk/internal/auth/store"
	"github.com/flightdesk/flightdesk/pkg/rbac"
	"github.com/flightdesk/flightdesk/pkg/slogx"
)

// RoleInfo describes one role and the capabilities it grants.
type RoleInfo struct {
	Role         rbac.Role
	Capabilities []string
}

type RolesService struct {
	Users store.Users
}

// ListAll returns every role in the closed set, lowest privilege first.
func (s *RolesService) ListAll() []RoleInfo {
	all := rbac.AllRoles()
	out := make([]RoleInfo, 0, len(all))
	for _, r := range all {
		out = append(out, RoleInfo{Role: r, Capabilities: r.Capabilities().Names()})
	}
	return out
}

// SetUserRoles replaces a user's roles. The change reaches access tokens at
// the next rotation.
func (s *RolesService) SetUserRoles(ctx context.Context, userID string, roles rbac.Roles) error {
	roles = roles.Normalize()
	if len(roles) == 0 {
		return fmt.Errorf("%w: at least one role is required", ErrInvalidRequest)
	}
	for _, r := range roles {
		if !r.Valid() {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, rbac.ErrUnknownRole)
		}
	}

	err := s.Users.SetUserRoles(ctx, userID, roles)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}

	slogx.FromContext(ctx).Info("user roles changed",
		slog.String("user_id", userID),
		slog.Any("roles", roles.Strings()),
	)
	return nil
}
