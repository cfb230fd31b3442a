package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/platform/auth"
	"github.com/restaurant-ordering/api/internal/platform/httpx"
	"github.com/restaurant-ordering/api/internal/platform/pagination"
	"github.com/restaurant-ordering/api/internal/services"
)

const maxUserBodySize = 4 * 1024

var userErrorRules = []httpx.ErrorRule{
	{Target: services.ErrUserInvalidDisplayName, Code: "invalid_display_name", Status: http.StatusBadRequest, Expose: true},
	{Target: services.ErrUserInvalidInput, Code: "invalid_request", Status: http.StatusBadRequest, Expose: true},
	{Target: services.ErrUserForbidden, Code: "forbidden", Status: http.StatusForbidden, Message: "cannot access this profile"},
	{Target: services.ErrUserNotFound, Code: "user_not_found", Status: http.StatusNotFound, Message: "user not found"},
	{Target: services.ErrUserProfileConflict, Code: "profile_conflict", Status: http.StatusConflict, Message: "profile has been modified"},
	{Target: services.ErrUserUnavailable, Code: "user_store_unavailable", Status: http.StatusServiceUnavailable, Message: "user store unavailable"},
}

// UserHandlers exposes the order owner profiles.
type UserHandlers struct {
	authn *auth.Authenticator
	users services.UserService
}

// NewUserHandlers constructs user profile handlers.
func NewUserHandlers(authn *auth.Authenticator, users services.UserService) *UserHandlers {
	return &UserHandlers{authn: authn, users: users}
}

// Routes registers the /users endpoints.
func (h *UserHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	admin := requireRoles(domain.RoleAdmin)

	r.Get("/me", h.getMe)
	r.Patch("/me", h.updateMe)
	r.With(admin, pagination.Middleware(pagination.Options{})).Get("/", h.listUsers)
	r.Get("/{userID}", h.getUser)
	r.Patch("/{userID}", h.updateUser)
	r.With(admin).Delete("/{userID}", h.deactivateUser)
	r.With(admin).Post("/{userID}/activate", h.activateUser)
}

type userPayload struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	IsActive    bool   `json:"isActive"`
	CreatedAt   string `json:"createdAt,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

type updateProfileRequest struct {
	DisplayName *string `json:"displayName"`
}

type userStatusRequest struct {
	Reason string `json:"reason"`
}

func (h *UserHandlers) getMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	h.get(w, r, principal.ID, principal)
}

func (h *UserHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	h.get(w, r, chi.URLParam(r, "userID"), principal)
}

func (h *UserHandlers) get(w http.ResponseWriter, r *http.Request, userID string, principal *services.Principal) {
	ctx := r.Context()
	if h.users == nil {
		writeUnavailable(ctx, w, "user")
		return
	}
	profile, err := h.users.GetProfile(ctx, userID, principal)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildUserPayload(profile))
}

func (h *UserHandlers) updateMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	h.update(w, r, principal.ID, principal)
}

func (h *UserHandlers) updateUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	h.update(w, r, chi.URLParam(r, "userID"), principal)
}

func (h *UserHandlers) update(w http.ResponseWriter, r *http.Request, userID string, principal *services.Principal) {
	ctx := r.Context()
	if h.users == nil {
		writeUnavailable(ctx, w, "user")
		return
	}
	var req updateProfileRequest
	if err := httpx.DecodeJSON(r, maxUserBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	profile, err := h.users.UpdateProfile(ctx, services.UpdateProfileCommand{
		UserID:      userID,
		DisplayName: req.DisplayName,
		Principal:   principal,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildUserPayload(profile))
}

func (h *UserHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		writeUnavailable(ctx, w, "user")
		return
	}
	includeInactive := false
	if raw := strings.TrimSpace(r.URL.Query().Get("includeInactive")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "includeInactive must be a boolean", http.StatusBadRequest))
			return
		}
		includeInactive = parsed
	}
	page, err := h.users.ListUsers(ctx, services.UserListFilter{
		IncludeInactive: includeInactive,
		Pagination:      pagination.FromContext(ctx),
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pagination.NewResponse(page, buildUserPayload))
}

func (h *UserHandlers) deactivateUser(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *UserHandlers) activateUser(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *UserHandlers) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	ctx := r.Context()
	if h.users == nil {
		writeUnavailable(ctx, w, "user")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	var req userStatusRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, maxUserBodySize, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.BodyError(err))
			return
		}
	}
	profile, err := h.users.SetUserActive(ctx, services.SetUserActiveCommand{
		UserID:    chi.URLParam(r, "userID"),
		IsActive:  active,
		Reason:    req.Reason,
		Principal: principal,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildUserPayload(profile))
}

func writeUserError(ctx context.Context, w http.ResponseWriter, err error) {
	httpx.WriteError(ctx, w, httpx.MapError(err,
		httpx.NewError("user_error", "unexpected error", http.StatusInternalServerError),
		userErrorRules...))
}

func buildUserPayload(user services.User) userPayload {
	return userPayload{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		IsActive:    user.IsActive,
		CreatedAt:   formatTime(user.CreatedAt),
		UpdatedAt:   formatTime(user.UpdatedAt),
	}
}
