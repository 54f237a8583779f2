package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jalsetu/apiserver/internal/geo"
	"github.com/jalsetu/apiserver/internal/storage"
	"github.com/jalsetu/apiserver/internal/store"
	"github.com/jalsetu/apiserver/types"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ReportRepository defines persistence operations for reports.
type ReportRepository interface {
	List(ctx context.Context, filter types.ReportFilter, offset, limit int) ([]types.Report, int, error)
	Get(ctx context.Context, id int) (types.Report, error)
	Create(ctx context.Context, report types.Report) (types.Report, error)
	Update(ctx context.Context, report types.Report) (types.Report, error)
	Delete(ctx context.Context, id int) error
}

// AccountGetter loads accounts by id.
type AccountGetter interface {
	GetByID(ctx context.Context, id int) (types.Account, error)
}

// PhotoStore keeps uploaded photos.
type PhotoStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// EventPublisher announces domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event types.Event) error
}

// Upload is a file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ReportInput carries the resident-editable fields of a report.
// Samples, when present, take precedence over Location.
type ReportInput struct {
	FullName string
	Phone    string
	Address  string
	Notes    *string
	Location *types.Location
	Samples  []geo.Sample
	Photo    *Upload
}

// PhotoKind selects which photo of a report to download.
type PhotoKind int

const (
	DamagePhoto PhotoKind = iota
	CompletionPhoto
)

// ReportService implements the report lifecycle.
type ReportService struct {
	repo   ReportRepository
	users  AccountGetter
	photos PhotoStore
	events EventPublisher
	now    func() time.Time
}

func NewReportService(repo ReportRepository, users AccountGetter, photos PhotoStore, events EventPublisher) *ReportService {
	return &ReportService{
		repo:   repo,
		users:  users,
		photos: photos,
		events: events,
		now:    time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *ReportService) WithClock(now func() time.Time) *ReportService {
	s.now = now
	return s
}

func (s *ReportService) Create(ctx context.Context, actor types.Account, in ReportInput) (types.Report, error) {
	if actor.Role() != types.RoleResident {
		return types.Report{}, ErrForbidden
	}

	report := types.Report{
		UserID:   actor.ID,
		FullName: strings.TrimSpace(in.FullName),
		Phone:    strings.TrimSpace(in.Phone),
		Address:  strings.TrimSpace(in.Address),
		Notes:    trimmedOrNil(in.Notes),
		Status:   types.StatusPending,
	}
	if report.FullName == "" {
		return types.Report{}, invalid("full_name", "is required")
	}
	if report.Phone == "" {
		return types.Report{}, invalid("phone", "is required")
	}
	if report.Address == "" {
		return types.Report{}, invalid("address", "is required")
	}

	location, err := resolveLocation(in)
	if err != nil {
		return types.Report{}, err
	}
	report.Location = location

	if in.Photo != nil {
		key, err := s.storePhoto(ctx, "reports/photos/", in.Photo)
		if err != nil {
			return types.Report{}, err
		}
		report.PhotoURL = &key
	}

	created, err := s.repo.Create(ctx, report)
	if err != nil {
		if report.PhotoURL != nil {
			s.removePhoto(ctx, *report.PhotoURL)
		}
		return types.Report{}, err
	}

	s.publish(ctx, types.Event{
		Type:           types.EventReportCreated,
		ReportID:       created.ID,
		ActorID:        actor.ID,
		Status:         created.Status,
		RecipientRoles: []types.Role{types.RoleOfficer},
	})
	return created, nil
}

// Get returns a report the actor is allowed to see.
func (s *ReportService) Get(ctx context.Context, actor types.Account, id int) (types.Report, error) {
	report, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Report{}, err
	}
	if !canView(actor, report) {
		return types.Report{}, ErrForbidden
	}
	return report, nil
}

// List scopes the listing to what the actor may see: residents their own
// reports, technicians their assignments, staff everything.
func (s *ReportService) List(ctx context.Context, actor types.Account, filter types.ReportFilter, offset, limit int) ([]types.Report, int, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, invalid("status", types.ErrUnknownStatus.Error())
	}

	switch actor.Role() {
	case types.RoleResident:
		filter.UserID = actor.ID
	case types.RoleTechnician:
		filter.TechnicianID = actor.ID
	case types.RoleOfficer, types.RoleController:
	default:
		return nil, 0, ErrForbidden
	}
	return s.repo.List(ctx, filter, offset, limit)
}

// UpdateDetails lets the owner edit a report that nobody has picked up yet.
func (s *ReportService) UpdateDetails(ctx context.Context, actor types.Account, id int, in ReportInput) (types.Report, error) {
	report, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Report{}, err
	}
	if actor.Role() != types.RoleResident || report.UserID != actor.ID {
		return types.Report{}, ErrForbidden
	}
	if report.Status != types.StatusPending {
		return types.Report{}, fmt.Errorf("%w: only pending reports can be edited", ErrInvalidTransition)
	}

	if v := strings.TrimSpace(in.FullName); v != "" {
		report.FullName = v
	}
	if v := strings.TrimSpace(in.Phone); v != "" {
		report.Phone = v
	}
	if v := strings.TrimSpace(in.Address); v != "" {
		report.Address = v
	}
	if in.Notes != nil {
		report.Notes = trimmedOrNil(in.Notes)
	}
	if in.Location != nil || len(in.Samples) > 0 {
		location, err := resolveLocation(in)
		if err != nil {
			return types.Report{}, err
		}
		report.Location = location
	}

	var oldPhoto string
	if in.Photo != nil {
		key, err := s.storePhoto(ctx, "reports/photos/", in.Photo)
		if err != nil {
			return types.Report{}, err
		}
		if report.PhotoURL != nil {
			oldPhoto = *report.PhotoURL
		}
		report.PhotoURL = &key
	}

	updated, err := s.repo.Update(ctx, report)
	if err != nil {
		if in.Photo != nil {
			s.removePhoto(ctx, *report.PhotoURL)
		}
		return types.Report{}, err
	}
	if oldPhoto != "" {
		s.removePhoto(ctx, oldPhoto)
	}
	return updated, nil
}

// Assign hands the report to a maintenance technician. Reassigning a
// rejected report discards the previous repair attempt.
func (s *ReportService) Assign(ctx context.Context, actor types.Account, id, technicianID int) (types.Report, error) {
	if technicianID < 1 {
		return types.Report{}, invalid("technician_id", "is required")
	}

	var staleCompletionPhoto string
	report, err := s.transition(ctx, actor, id, types.ActionAssign, func(report *types.Report, now time.Time) error {
		technician, err := s.users.GetByID(ctx, technicianID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return invalid("technician_id", "unknown technician")
			}
			return err
		}
		if technician.Role() != types.RoleTechnician {
			return invalid("technician_id", "not a maintenance technician")
		}

		if report.Status == types.StatusRejected {
			if report.CompletionPhotoURL != nil {
				staleCompletionPhoto = *report.CompletionPhotoURL
			}
			report.RejectionReason = nil
			report.CompletionNotes = nil
			report.CompletionPhotoURL = nil
			report.StartedAt = nil
			report.CompletedAt = nil
			report.ReviewedAt = nil
		}
		report.AssignedTechnicianID = &technicianID
		report.AssignedAt = &now
		return nil
	})
	if err != nil {
		return types.Report{}, err
	}
	if staleCompletionPhoto != "" {
		s.removePhoto(ctx, staleCompletionPhoto)
	}
	return report, nil
}

// Accept starts work on a report. Only the assigned technician may accept.
func (s *ReportService) Accept(ctx context.Context, actor types.Account, id int) (types.Report, error) {
	return s.transition(ctx, actor, id, types.ActionAccept, func(report *types.Report, now time.Time) error {
		report.StartedAt = &now
		return nil
	})
}

// Complete records the repair and sends it for approval.
func (s *ReportService) Complete(ctx context.Context, actor types.Account, id int, notes string, photo *Upload) (types.Report, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return types.Report{}, invalid("completion_notes", "is required")
	}

	var uploaded string
	report, err := s.transition(ctx, actor, id, types.ActionComplete, func(report *types.Report, now time.Time) error {
		if photo != nil {
			key, err := s.storePhoto(ctx, fmt.Sprintf("reports/%d/completion-", report.ID), photo)
			if err != nil {
				return err
			}
			uploaded = key
			report.CompletionPhotoURL = &key
		}
		report.CompletionNotes = &notes
		report.CompletedAt = &now
		return nil
	})
	if err != nil {
		if uploaded != "" {
			s.removePhoto(ctx, uploaded)
		}
		return types.Report{}, err
	}
	return report, nil
}

func (s *ReportService) Approve(ctx context.Context, actor types.Account, id int) (types.Report, error) {
	return s.transition(ctx, actor, id, types.ActionApprove, func(report *types.Report, now time.Time) error {
		approver := actor.ID
		report.ApprovedBy = &approver
		report.RejectionReason = nil
		report.ReviewedAt = &now
		return nil
	})
}

// Reject sends the repair back. A non-blank reason is mandatory.
func (s *ReportService) Reject(ctx context.Context, actor types.Account, id int, reason string) (types.Report, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return types.Report{}, invalid("reason", "is required")
	}
	return s.transition(ctx, actor, id, types.ActionReject, func(report *types.Report, now time.Time) error {
		report.RejectionReason = &reason
		report.ApprovedBy = nil
		report.ReviewedAt = &now
		return nil
	})
}

// Cancel withdraws a pending report on behalf of its owner.
func (s *ReportService) Cancel(ctx context.Context, actor types.Account, id int) (types.Report, error) {
	return s.transition(ctx, actor, id, types.ActionCancel, nil)
}

// Delete removes a report and its stored photos.
func (s *ReportService) Delete(ctx context.Context, actor types.Account, id int) error {
	if actor.Role() != types.RoleOfficer {
		return ErrForbidden
	}
	report, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if report.PhotoURL != nil {
		s.removePhoto(ctx, *report.PhotoURL)
	}
	if report.CompletionPhotoURL != nil {
		s.removePhoto(ctx, *report.CompletionPhotoURL)
	}
	return nil
}

// Photo opens a stored photo of a visible report. The caller closes the reader.
func (s *ReportService) Photo(ctx context.Context, actor types.Account, id int, kind PhotoKind) (io.ReadCloser, string, error) {
	report, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, "", err
	}

	key := report.PhotoURL
	if kind == CompletionPhoto {
		key = report.CompletionPhotoURL
	}
	if key == nil || s.photos == nil {
		return nil, "", store.ErrNotFound
	}

	rc, err := s.photos.Get(ctx, *key)
	if err != nil {
		return nil, "", err
	}
	return rc, storage.ContentTypeFor(*key), nil
}

type reportMutation func(report *types.Report, now time.Time) error

// transition applies action to report id on behalf of actor, following
// the lifecycle table in types.
func (s *ReportService) transition(ctx context.Context, actor types.Account, id int, action types.ReportAction, mutate reportMutation) (types.Report, error) {
	if actor.Role() != action.RoleFor() {
		return types.Report{}, ErrForbidden
	}

	report, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Report{}, err
	}
	if !canAct(actor, report, action) {
		return types.Report{}, ErrForbidden
	}

	next, ok := report.Status.Next(action)
	if !ok {
		return types.Report{}, fmt.Errorf("%w: cannot %s a report that is %s", ErrInvalidTransition, action, report.Status)
	}

	if mutate != nil {
		if err := mutate(&report, s.now()); err != nil {
			return types.Report{}, err
		}
	}
	report.Status = next

	updated, err := s.repo.Update(ctx, report)
	if err != nil {
		return types.Report{}, err
	}

	s.publish(ctx, reportEvent(updated, actor.ID))
	return updated, nil
}

func canAct(actor types.Account, report types.Report, action types.ReportAction) bool {
	switch action {
	case types.ActionAccept, types.ActionComplete:
		return report.AssignedTechnicianID != nil && *report.AssignedTechnicianID == actor.ID
	case types.ActionCancel:
		return report.UserID == actor.ID
	default:
		return true
	}
}

func canView(actor types.Account, report types.Report) bool {
	switch actor.Role() {
	case types.RoleResident:
		return report.UserID == actor.ID
	case types.RoleTechnician:
		return report.AssignedTechnicianID != nil && *report.AssignedTechnicianID == actor.ID
	case types.RoleOfficer, types.RoleController:
		return true
	default:
		return false
	}
}

// reportEvent builds the notification for a report that just reached its status.
func reportEvent(report types.Report, actorID int) types.Event {
	event := types.Event{
		Type:     types.ReportEventType(report.Status),
		ReportID: report.ID,
		ActorID:  actorID,
		Status:   report.Status,
	}

	technician := 0
	if report.AssignedTechnicianID != nil {
		technician = *report.AssignedTechnicianID
	}

	switch report.Status {
	case types.StatusAssigned:
		event.Recipients = recipients(technician, report.UserID)
	case types.StatusInProgress:
		event.Recipients = recipients(report.UserID)
	case types.StatusAwaitingApproval, types.StatusCancelled:
		event.RecipientRoles = []types.Role{types.RoleOfficer}
	case types.StatusApproved:
		event.Recipients = recipients(report.UserID, technician)
	case types.StatusRejected:
		event.Recipients = recipients(technician)
		if report.RejectionReason != nil {
			event.Reason = *report.RejectionReason
		}
	}
	return event
}

func recipients(ids ...int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id > 0 {
			out = append(out, id)
		}
	}
	return out
}

func resolveLocation(in ReportInput) (*types.Location, error) {
	if len(in.Samples) > 0 {
		fix, err := geo.Average(in.Samples)
		if err != nil {
			return nil, invalid("gps_samples", err.Error())
		}
		return &types.Location{Latitude: fix.Latitude, Longitude: fix.Longitude, Accuracy: fix.Accuracy}, nil
	}
	if in.Location == nil {
		return nil, nil
	}
	if !in.Location.Valid() {
		return nil, invalid("location", "coordinates out of range")
	}
	location := *in.Location
	return &location, nil
}

func (s *ReportService) storePhoto(ctx context.Context, prefix string, upload *Upload) (string, error) {
	if len(upload.Data) == 0 {
		return "", invalid("photo", "is empty")
	}
	ext, ok := storage.ImageExtension(upload.ContentType, upload.Filename)
	if !ok {
		return "", invalid("photo", "must be an image")
	}
	if s.photos == nil {
		return "", errors.New("photo storage is not configured")
	}

	key := prefix + uuid.NewString() + ext
	contentType := storage.ContentTypeFor(key)
	if err := s.photos.Put(ctx, key, bytes.NewReader(upload.Data), int64(len(upload.Data)), contentType); err != nil {
		return "", fmt.Errorf("store photo: %w", err)
	}
	return key, nil
}

func (s *ReportService) removePhoto(ctx context.Context, key string) {
	if s.photos == nil {
		return
	}
	if err := s.photos.Delete(ctx, key); err != nil {
		slog.WarnContext(ctx, "failed to delete photo", "key", key, "error", err)
	}
}

func (s *ReportService) publish(ctx context.Context, event types.Event) {
	if s.events == nil {
		return
	}
	event.OccurredAt = s.now()
	if err := s.events.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "failed to publish event", "type", event.Type, "report_id", event.ReportID, "error", err)
	}
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
