package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jalsetu/apiserver/internal/geo"
	"github.com/jalsetu/apiserver/internal/services"
	"github.com/jalsetu/apiserver/types"
)

const (
	formFieldFullName        = "full_name"
	formFieldPhone           = "phone"
	formFieldAddress         = "address"
	formFieldNotes           = "notes"
	formFieldLatitude        = "lat"
	formFieldLongitude       = "lng"
	formFieldAccuracy        = "accuracy"
	formFieldSamples         = "gps_samples"
	formFieldPhoto           = "photo"
	formFieldCompletionNotes = "completion_notes"
	formFieldCompletionPhoto = "completion_photo"
)

// ReportHandler provides HTTP handlers for pipe-damage reports.
type ReportHandler struct {
	reportService *services.ReportService
}

func NewReportHandler(reportService *services.ReportService) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

// ReportRouter registers report routes on the given router.
func ReportRouter(r chi.Router, reportService *services.ReportService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewReportHandler(reportService)

	r.Use(authMiddleware)
	r.Get("/", handler.ListReports)
	r.Post("/", handler.CreateReport)
	r.Route("/{reportID}", func(r chi.Router) {
		r.Get("/", handler.GetReport)
		r.Put("/", handler.UpdateReport)
		r.Delete("/", handler.DeleteReport)
		r.Post("/assign", handler.AssignReport)
		r.Post("/accept", handler.AcceptReport)
		r.Post("/complete", handler.CompleteReport)
		r.Post("/approve", handler.ApproveReport)
		r.Post("/reject", handler.RejectReport)
		r.Post("/cancel", handler.CancelReport)
		r.Get("/photo", handler.photo(services.DamagePhoto))
		r.Get("/completion-photo", handler.photo(services.CompletionPhoto))
	})
}

func (h *ReportHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())

	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var filter types.ReportFilter
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := types.ParseReportStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = status
	}

	items, total, err := h.reportService.List(r.Context(), account, filter, offset, limit)
	if err != nil {
		writeServiceError(w, r, err, "report not found", "failed to list reports")
		return
	}

	writeJSON(w, http.StatusOK, ReportListResponse{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	id, err := parseID(r, "reportID", "report")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.reportService.Get(r.Context(), account, id)
	if err != nil {
		writeServiceError(w, r, err, "report not found", "failed to fetch report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CreateReport accepts either a multipart form (with an optional photo)
// or a JSON body.
func (h *ReportHandler) CreateReport(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())

	input, err := parseReportInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.reportService.Create(r.Context(), account, input)
	if err != nil {
		writeServiceError(w, r, err, "report not found", "failed to create report")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *ReportHandler) UpdateReport(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	id, err := parseID(r, "reportID", "report")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	input, err := parseReportInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.reportService.UpdateDetails(r.Context(), account, id, input)
	if err != nil {
		writeServiceError(w, r, err, "report not found", "failed to update report")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *ReportHandler) DeleteReport(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	id, err := parseID(r, "reportID", "report")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.reportService.Delete(r.Context(), account, id); err != nil {
		writeServiceError(w, r, err, "report not found", "failed to delete report")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ReportHandler) AssignReport(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	id, err := parseID(r, "reportID", "report")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req AssignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.reportService.Assign(r.Context(), account, id, req.TechnicianID)
	if err != nil {
		writeServiceError(w, r, err, "report not found", "failed to assign report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *ReportHandler) AcceptReport(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	id, err := parseID(r, "reportID", "report")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.reportService.Accept(r.Context(), account, id)
	if err != nil {
		writeServiceError(w, r, err, "report not found", "failed to accept report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CompleteReport takes completion notes and an optional after-repair photo.
func (h *ReportHandler) CompleteReport(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	id, err := parseID(r, "reportID", "report")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		notes string
		photo *services.Upload
	)
	if isMultipart(r) {
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		notes = r.FormValue(formFieldCompletionNotes)
		photo, err = parseUpload(r.MultipartForm, formFieldCompletionPhoto)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		var req CompleteRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		notes = req.CompletionNotes
	}

	report, err := h.reportService.Complete(r.Context(), account, id, notes, photo)
	if err != nil {
		writeServiceError(w, r, err, "report not found", "failed to complete report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *ReportHandler) ApproveReport(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	id, err := parseID(r, "reportID", "report")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.reportService.Approve(r.Context(), account, id)
	if err != nil {
		writeServiceError(w, r, err, "report not found", "failed to approve report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *ReportHandler) RejectReport(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	id, err := parseID(r, "reportID", "report")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req ReasonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.reportService.Reject(r.Context(), account, id, req.Reason)
	if err != nil {
		writeServiceError(w, r, err, "report not found", "failed to reject report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *ReportHandler) CancelReport(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	id, err := parseID(r, "reportID", "report")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.reportService.Cancel(r.Context(), account, id)
	if err != nil {
		writeServiceError(w, r, err, "report not found", "failed to cancel report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *ReportHandler) photo(kind services.PhotoKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, _ := accountFromContext(r.Context())
		id, err := parseID(r, "reportID", "report")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		rc, contentType, err := h.reportService.Photo(r.Context(), account, id, kind)
		if err != nil {
			writeServiceError(w, r, err, "photo not found", "failed to fetch photo")
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "private, max-age=300")
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, rc)
	}
}

// ReportRequest is the JSON form of a report submission or edit.
type ReportRequest struct {
	FullName string          `json:"full_name"`
	Phone    string          `json:"phone"`
	Address  string          `json:"address"`
	Notes    *string         `json:"notes"`
	Location *types.Location `json:"location"`
	Samples  []geo.Sample    `json:"gps_samples"`
}

type AssignRequest struct {
	TechnicianID int `json:"technician_id"`
}

type CompleteRequest struct {
	CompletionNotes string `json:"completion_notes"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

// ReportListResponse is the paginated list response payload.
type ReportListResponse struct {
	Items []types.Report `json:"items"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
	Total int            `json:"total"`
}

func parseReportInput(r *http.Request) (services.ReportInput, error) {
	if !isMultipart(r) {
		var req ReportRequest
		if err := decodeJSON(r, &req); err != nil {
			return services.ReportInput{}, err
		}
		return services.ReportInput{
			FullName: req.FullName,
			Phone:    req.Phone,
			Address:  req.Address,
			Notes:    req.Notes,
			Location: req.Location,
			Samples:  req.Samples,
		}, nil
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return services.ReportInput{}, errors.New("invalid multipart form")
	}

	input := services.ReportInput{
		FullName: r.FormValue(formFieldFullName),
		Phone:    r.FormValue(formFieldPhone),
		Address:  r.FormValue(formFieldAddress),
	}
	if values, ok := r.MultipartForm.Value[formFieldNotes]; ok && len(values) > 0 {
		notes := values[0]
		input.Notes = &notes
	}

	location, err := parseFormLocation(r)
	if err != nil {
		return services.ReportInput{}, err
	}
	input.Location = location

	if raw := strings.TrimSpace(r.FormValue(formFieldSamples)); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input.Samples); err != nil {
			return services.ReportInput{}, errors.New("invalid gps samples")
		}
	}

	input.Photo, err = parseUpload(r.MultipartForm, formFieldPhoto)
	if err != nil {
		return services.ReportInput{}, err
	}
	return input, nil
}

func parseFormLocation(r *http.Request) (*types.Location, error) {
	rawLat := strings.TrimSpace(r.FormValue(formFieldLatitude))
	rawLng := strings.TrimSpace(r.FormValue(formFieldLongitude))
	if rawLat == "" && rawLng == "" {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil {
		return nil, errors.New("invalid latitude")
	}
	lng, err := strconv.ParseFloat(rawLng, 64)
	if err != nil {
		return nil, errors.New("invalid longitude")
	}
	location := &types.Location{Latitude: lat, Longitude: lng}

	if raw := strings.TrimSpace(r.FormValue(formFieldAccuracy)); raw != "" {
		accuracy, err := strconv.ParseFloat(raw, 64)
		if err != nil || accuracy < 0 {
			return nil, errors.New("invalid accuracy")
		}
		location.Accuracy = accuracy
	}
	return location, nil
}

// parseUpload reads the single file sent under field. A missing file is not an error.
func parseUpload(form *multipart.Form, field string) (*services.Upload, error) {
	if form == nil {
		return nil, nil
	}

	files := form.File[field]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		return nil, fmt.Errorf("only one %s file is allowed", field)
	}

	fileHeader := files[0]
	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", field, err)
	}

	data, err := readFileLimited(file, maxPhotoBytes)
	_ = file.Close()
	if err != nil {
		return nil, err
	}

	return &services.Upload{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
