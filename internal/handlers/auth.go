package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jalsetu/apiserver/internal/services"
	"github.com/jalsetu/apiserver/types"
)

// Authenticator resolves a bearer token to its account and session.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (types.Account, string, error)
}

// AuthHandler provides signup, OTP and session endpoints.
type AuthHandler struct {
	authService *services.AuthService
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// AuthRouter registers auth routes on the given router. limit, when not
// nil, wraps the unauthenticated endpoints.
func AuthRouter(r chi.Router, authService *services.AuthService, limit func(http.Handler) http.Handler) {
	handler := NewAuthHandler(authService)

	r.Group(func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/signup", handler.Signup)
		r.Post("/verify-otp", handler.VerifyOTP)
		r.Post("/resend-otp", handler.ResendOTP)
		r.Post("/login", handler.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(authService))
		r.Post("/logout", handler.Logout)
		r.Get("/me", handler.Me)
	})
}

// RequireAuth enforces bearer authentication and injects the account into context.
func RequireAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			account, sessionID, err := auth.Authenticate(r.Context(), tokenString)
			if err != nil {
				if errors.Is(err, services.ErrUnauthorized) {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				writeServiceError(w, r, err, "unauthorized", "failed to authenticate")
				return
			}

			next.ServeHTTP(w, r.WithContext(withAccount(r.Context(), account, sessionID)))
		})
	}
}

// requireRole rejects accounts whose role is not listed. It must run after RequireAuth.
func requireRole(roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, ok := accountFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range roles {
				if account.Role() == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}

// Signup creates an account. The response carries a token unless the
// email still has to be confirmed with an OTP.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req services.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.authService.Signup(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err, "user not found", "failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.authService.VerifyOTP(r.Context(), req.Email, req.OTP)
	if err != nil {
		writeServiceError(w, r, err, "user not found", "failed to verify otp")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req ResendOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.authService.ResendOTP(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, err, "user not found", "failed to send otp")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "otp sent"})
}

// Login verifies credentials and returns a JWT.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err, "user not found", "failed to authenticate")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Logout revokes the session behind the presented token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authService.Logout(r.Context(), sessionFromContext(r.Context())); err != nil {
		writeServiceError(w, r, err, "session not found", "failed to log out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the current authenticated account.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type ResendOTPRequest struct {
	Email string `json:"email"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
