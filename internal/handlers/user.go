package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jalsetu/apiserver/internal/services"
	"github.com/jalsetu/apiserver/types"
)

// UserHandler serves profile and directory lookups.
type UserHandler struct {
	userService *services.UserService
}

func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// UserRouter registers user routes. Every route requires authentication.
func UserRouter(r chi.Router, userService *services.UserService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewUserHandler(userService)
	staff := requireRole(types.RoleOfficer, types.RoleController)

	r.Use(authMiddleware)
	r.Get("/me", handler.GetMe)
	r.Put("/me", handler.UpdateMe)
	r.With(staff).Get("/", handler.ListUsers)
	r.With(staff).Get("/{userID}", handler.GetUser)
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	fresh, err := h.userService.GetByID(r.Context(), account.ID)
	if err != nil {
		writeServiceError(w, r, err, "user not found", "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, fresh)
}

// UpdateMe changes the caller's profile. Email, password and role are not editable.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req services.ProfileUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.userService.UpdateProfile(r.Context(), account.ID, req)
	if err != nil {
		writeServiceError(w, r, err, "user not found", "failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ListUsers lists accounts, optionally narrowed by ?role=.
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	var role types.Role
	if raw := strings.TrimSpace(r.URL.Query().Get("role")); raw != "" {
		parsed, err := types.ParseRole(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid role")
			return
		}
		role = parsed
	}

	accounts, err := h.userService.ListByRole(r.Context(), role)
	if err != nil {
		writeServiceError(w, r, err, "user not found", "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "userID", "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := h.userService.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "user not found", "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, account)
}
