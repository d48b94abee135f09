package http

import (
	"net/http"

	"github.com/flightdesk/flightdesk/internal/auth/service"
	"github.com/flightdesk/flightdesk/pkg/authsdk"
	"github.com/flightdesk/flightdesk/pkg/httpx"
)

type RolesHandler struct {
	RolesService *service.RolesService
}

// ServeHTTP handles the list roles endpoint
//
//	@Summary		List all roles
//	@Description	Returns the closed role set, lowest privilege first, with the capabilities each role grants.
//	@Tags			Roles
//	@Produce		json
//	@Success		200	{object}	authsdk.RolesResponse	"List of roles"
//	@Failure		401	{object}	authsdk.ErrorResponse	"Unauthorized - missing or invalid token"
//	@Failure		403	{object}	authsdk.ErrorResponse	"Forbidden - caller is not a manager or admin"
//	@Security		BearerAuth
//	@Router			/v1/admin/roles [get].
func (h *RolesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roles := h.RolesService.ListAll()

	response := authsdk.RolesResponse{
		Roles: make([]authsdk.RoleInfo, len(roles)),
	}
	for i, role := range roles {
		response.Roles[i] = authsdk.RoleInfo{
			Role:         role.Role,
			Capabilities: role.Capabilities,
		}
	}

	httpx.WriteJSON(w, http.StatusOK, response)
}
