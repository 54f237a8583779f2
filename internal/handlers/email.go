package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jalsetu/apiserver/internal/notify"
	"github.com/jalsetu/apiserver/internal/services"
	"github.com/jalsetu/apiserver/types"
)

const defaultSubject = "Message from your water department"

// Deliverer sends a one-off message on the requested channels.
type Deliverer interface {
	Deliver(ctx context.Context, delivery notify.Delivery) notify.Report
}

// EmailHandler lets staff message a resident directly.
type EmailHandler struct {
	deliverer   Deliverer
	userService *services.UserService
}

func NewEmailHandler(deliverer Deliverer, userService *services.UserService) *EmailHandler {
	return &EmailHandler{deliverer: deliverer, userService: userService}
}

// EmailRouter registers the direct-message route.
func EmailRouter(r chi.Router, deliverer Deliverer, userService *services.UserService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewEmailHandler(deliverer, userService)
	r.With(authMiddleware, requireRole(types.RoleOfficer, types.RoleController)).Post("/send", handler.Send)
}

// Send delivers the message and reports the outcome of each channel.
// Channel failures do not fail the request.
func (h *EmailHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	channels, err := notify.ParseChannels(req.Channels)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	delivery := notify.Delivery{
		Email:    strings.TrimSpace(req.Email),
		Phone:    strings.TrimSpace(req.Phone),
		Subject:  strings.TrimSpace(req.Subject),
		Body:     message,
		Channels: channels,
	}
	if delivery.Subject == "" {
		delivery.Subject = defaultSubject
	}

	if req.UserID > 0 {
		account, err := h.userService.GetByID(r.Context(), req.UserID)
		if err != nil {
			writeServiceError(w, r, err, "user not found", "failed to load user")
			return
		}
		if delivery.Email == "" {
			delivery.Email = account.Email
		}
		if delivery.Phone == "" {
			delivery.Phone = account.Profile.Phone
		}
	}
	if delivery.Email == "" && delivery.Phone == "" {
		writeError(w, http.StatusBadRequest, "user_id, email or phone is required")
		return
	}

	report := h.deliverer.Deliver(r.Context(), delivery)
	writeJSON(w, http.StatusOK, SendResponse{Results: report, Failed: report.Failed()})
}

type SendRequest struct {
	UserID   int      `json:"user_id"`
	Email    string   `json:"email"`
	Phone    string   `json:"phone"`
	Subject  string   `json:"subject"`
	Message  string   `json:"message"`
	Channels []string `json:"channels"`
}

type SendResponse struct {
	Results notify.Report `json:"results"`
	Failed  bool          `json:"failed"`
}
