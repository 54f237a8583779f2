package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jalsetu/apiserver/internal/services"
	"github.com/jalsetu/apiserver/internal/store"
)

// ScheduleHandler provides HTTP handlers for water-supply schedules.
type ScheduleHandler struct {
	scheduleService *services.ScheduleService
}

func NewScheduleHandler(scheduleService *services.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{scheduleService: scheduleService}
}

// ScheduleRouter registers schedule routes on the given router.
func ScheduleRouter(r chi.Router, scheduleService *services.ScheduleService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewScheduleHandler(scheduleService)

	r.Use(authMiddleware)
	r.Get("/", handler.ListSchedules)
	r.Post("/", handler.CreateSchedule)
	r.Get("/active", handler.ActiveSchedule)
	r.Route("/{scheduleID}", func(r chi.Router) {
		r.Get("/", handler.GetSchedule)
		r.Delete("/", handler.DeleteSchedule)
		r.Post("/open", handler.OpenSchedule)
		r.Post("/close", handler.CloseSchedule)
		r.Post("/interrupt", handler.InterruptSchedule)
	})
}

// ListSchedules returns the caller's schedules. ?active=true keeps only open windows.
func (h *ScheduleHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())

	activeOnly := false
	if raw := strings.TrimSpace(r.URL.Query().Get("active")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid active flag")
			return
		}
		activeOnly = parsed
	}

	schedules, err := h.scheduleService.List(r.Context(), account, activeOnly)
	if err != nil {
		writeServiceError(w, r, err, "schedule not found", "failed to list schedules")
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (h *ScheduleHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())

	var req services.ScheduleInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.scheduleService.Create(r.Context(), account, req)
	if err != nil {
		writeServiceError(w, r, err, "schedule not found", "failed to create schedule")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *ScheduleHandler) ActiveSchedule(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())

	schedule, err := h.scheduleService.Active(r.Context(), account)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no active schedule")
			return
		}
		writeServiceError(w, r, err, "schedule not found", "failed to fetch active schedule")
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *ScheduleHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	id, err := parseID(r, "scheduleID", "schedule")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	schedule, err := h.scheduleService.Get(r.Context(), account, id)
	if err != nil {
		writeServiceError(w, r, err, "schedule not found", "failed to fetch schedule")
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *ScheduleHandler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	id, err := parseID(r, "scheduleID", "schedule")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.scheduleService.Delete(r.Context(), account, id); err != nil {
		writeServiceError(w, r, err, "schedule not found", "failed to delete schedule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ScheduleHandler) OpenSchedule(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	id, err := parseID(r, "scheduleID", "schedule")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	schedule, err := h.scheduleService.Open(r.Context(), account, id)
	if err != nil {
		writeServiceError(w, r, err, "schedule not found", "failed to open schedule")
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *ScheduleHandler) CloseSchedule(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	id, err := parseID(r, "scheduleID", "schedule")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	schedule, err := h.scheduleService.Close(r.Context(), account, id)
	if err != nil {
		writeServiceError(w, r, err, "schedule not found", "failed to close schedule")
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *ScheduleHandler) InterruptSchedule(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	id, err := parseID(r, "scheduleID", "schedule")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req ReasonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	schedule, err := h.scheduleService.Interrupt(r.Context(), account, id, req.Reason)
	if err != nil {
		writeServiceError(w, r, err, "schedule not found", "failed to interrupt schedule")
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}
