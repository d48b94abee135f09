package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/flightdesk/flightdesk/internal/auth/domain"
	"github.com/flightdesk/flightdesk/internal/auth/service"
	"github.com/flightdesk/flightdesk/pkg/authsdk"
	"github.com/flightdesk/flightdesk/pkg/httpx"
	"github.com/flightdesk/flightdesk/pkg/slogx"
)

// AdminHandler serves user and session administration.
type AdminHandler struct {
	UserService  *service.UserService
	RolesService *service.RolesService
	TokenService *service.TokenService
}

// HandleCreateUser handles POST /v1/admin/users
//
//	@Summary		Create a user
//	@Description	Creates a user with the given roles (STUDENT when none are given). Requires the users:manage capability.
//	@Tags			Admin
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.CreateUserRequest	true	"New user"
//	@Success		201		{object}	authsdk.UserResponse		"Created user"
//	@Failure		400		{object}	authsdk.ErrorResponse		"Validation failed"
//	@Failure		401		{object}	authsdk.ErrorResponse		"Invalid or missing access token"
//	@Failure		403		{object}	authsdk.ErrorResponse		"Caller lacks users:manage"
//	@Failure		409		{object}	authsdk.ErrorResponse		"Username taken"
//	@Failure		500		{object}	authsdk.ErrorResponse		"Internal server error"
//	@Router			/v1/admin/users [post].
func (h *AdminHandler) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req authsdk.CreateUserRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		// Unknown role names fail here, at decode time.
		log.Warn("failed to parse request", "err", err)
		authsdk.NewOAuth2Error(http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, err.Error()).WriteError(w)
		return
	}

	u, err := h.UserService.CreateUser(ctx, service.CreateUserParams{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Roles:       req.Roles,
	})
	if err != nil {
		writeUserError(w, r, err)
		return
	}

	log.Info("user created by admin", "created_user_id", u.ID)
	httpx.WriteJSON(w, http.StatusCreated, userResponse(u))
}

// HandleSetRoles handles PUT /v1/admin/users/{id}/roles
//
//	@Summary		Replace a user's roles
//	@Description	Replaces the role set of a user. Access tokens pick up the change at the next refresh.
//	@Tags			Admin
//	@Security		BearerAuth
//	@Accept			json
//	@Param			id		path	string					true	"User ID"
//	@Param			request	body	authsdk.SetRolesRequest	true	"New role set"
//	@Success		204		"Roles replaced"
//	@Failure		400		{object}	authsdk.ErrorResponse	"Empty or unknown roles"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Invalid or missing access token"
//	@Failure		403		{object}	authsdk.ErrorResponse	"Caller lacks users:manage"
//	@Failure		404		{object}	authsdk.ErrorResponse	"Unknown user"
//	@Router			/v1/admin/users/{id}/roles [put].
func (h *AdminHandler) HandleSetRoles(w http.ResponseWriter, r *http.Request) {
	var req authsdk.SetRolesRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.NewOAuth2Error(http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, err.Error()).WriteError(w)
		return
	}

	if err := h.RolesService.SetUserRoles(r.Context(), r.PathValue("id"), req.Roles); err != nil {
		writeUserError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListSessions handles GET /v1/admin/users/{id}/sessions
//
//	@Summary		List a user's refresh tokens
//	@Description	Returns the refresh token history of a user, newest first. Token values and fingerprints are never included.
//	@Tags			Admin
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id	path		string						true	"User ID"
//	@Success		200	{object}	authsdk.SessionListResponse	"Token history"
//	@Failure		401	{object}	authsdk.ErrorResponse		"Invalid or missing access token"
//	@Failure		403	{object}	authsdk.ErrorResponse		"Caller lacks sessions:manage"
//	@Failure		500	{object}	authsdk.ErrorResponse		"Internal server error"
//	@Router			/v1/admin/users/{id}/sessions [get].
func (h *AdminHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("id")

	tokens, err := h.TokenService.ListSessions(ctx, userID)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to list sessions", "target_user_id", userID, "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	out := authsdk.SessionListResponse{Tokens: make([]authsdk.SessionToken, len(tokens))}
	for i, t := range tokens {
		out.Tokens[i] = authsdk.SessionToken{
			ID:               t.ID,
			SessionID:        t.SessionID,
			IssuedAt:         t.IssuedAt,
			ExpiresAt:        t.ExpiresAt,
			Revoked:          t.Revoked,
			RevocationReason: string(t.RevocationReason),
			RevokedAt:        t.RevokedAt,
			ReplacedBy:       t.ReplacedBy,
		}
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleRevokeSessions handles POST /v1/admin/users/{id}/sessions/revoke
//
//	@Summary		Revoke every session of a user
//	@Description	Security action: revokes all live refresh tokens of the user. Access tokens already issued stay valid until they expire.
//	@Tags			Admin
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string							true	"User ID"
//	@Param			request	body		authsdk.RevokeSessionsRequest	false	"Optional revocation reason"
//	@Success		200		{object}	authsdk.RevokeSessionsResponse	"Number of tokens revoked"
//	@Failure		400		{object}	authsdk.ErrorResponse			"Invalid reason"
//	@Failure		401		{object}	authsdk.ErrorResponse			"Invalid or missing access token"
//	@Failure		403		{object}	authsdk.ErrorResponse			"Caller lacks sessions:manage"
//	@Failure		500		{object}	authsdk.ErrorResponse			"Internal server error"
//	@Router			/v1/admin/users/{id}/sessions/revoke [post].
func (h *AdminHandler) HandleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := r.PathValue("id")

	var req authsdk.RevokeSessionsRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	reason := domain.ReasonAdmin
	if s := strings.TrimSpace(req.Reason); s != "" {
		reason = domain.RevocationReason(s)
	}

	n, err := h.TokenService.RevokeAllForUser(ctx, userID, reason)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			authsdk.NewOAuth2Error(http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, err.Error()).WriteError(w)
			return
		}
		log.Error("failed to revoke sessions", "target_user_id", userID, "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	log.Info("sessions revoked by admin", "target_user_id", userID, "revoked", n, "reason", string(reason))
	httpx.WriteJSON(w, http.StatusOK, authsdk.RevokeSessionsResponse{Revoked: n})
}

func writeUserError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		authsdk.NewOAuth2Error(http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, err.Error()).WriteError(w)
	case errors.Is(err, service.ErrUserExists):
		authsdk.NewOAuth2Error(http.StatusConflict, authsdk.ErrorCodeConflict, "username already taken").WriteError(w)
	case errors.Is(err, service.ErrUserNotFound):
		authsdk.NewOAuth2Error(http.StatusNotFound, authsdk.ErrorCodeNotFound, "user not found").WriteError(w)
	default:
		slogx.FromContext(r.Context()).Error("user operation failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
	}
}

func userResponse(u domain.User) authsdk.UserResponse {
	return authsdk.UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Roles:       u.Roles,
		TOTPEnabled: u.TOTPEnabled(),
		CreatedAt:   u.CreatedAt,
	}
}
