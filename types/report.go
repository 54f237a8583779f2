package types

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ReportStatus is the lifecycle state of a pipe-damage report.
type ReportStatus string

// Supported report statuses.
const (
	// StatusPending indicates the report was filed and awaits triage.
	StatusPending ReportStatus = "pending"

	// StatusAssigned indicates an officer assigned a technician.
	StatusAssigned ReportStatus = "assigned"

	// StatusInProgress indicates the technician accepted the work.
	StatusInProgress ReportStatus = "in_progress"

	// StatusAwaitingApproval indicates the technician finished the repair
	// and an officer must review it.
	StatusAwaitingApproval ReportStatus = "awaiting_approval"

	// StatusApproved indicates an officer accepted the repair. Terminal.
	StatusApproved ReportStatus = "approved"

	// StatusRejected indicates an officer rejected the repair. The report
	// may be assigned again.
	StatusRejected ReportStatus = "rejected"

	// StatusCancelled indicates the resident withdrew the report before
	// triage. Terminal.
	StatusCancelled ReportStatus = "cancelled"
)

// ErrUnknownStatus is returned when a status string is not recognised.
var ErrUnknownStatus = errors.New("unknown report status")

// ReportAction names an operation that moves a report between statuses.
type ReportAction string

// Report actions.
const (
	ActionAssign   ReportAction = "assign"
	ActionAccept   ReportAction = "accept"
	ActionComplete ReportAction = "complete"
	ActionApprove  ReportAction = "approve"
	ActionReject   ReportAction = "reject"
	ActionCancel   ReportAction = "cancel"
)

type transition struct {
	from   ReportStatus
	action ReportAction
}

// reportTransitions is the single source of truth for the report lifecycle.
var reportTransitions = map[transition]ReportStatus{
	{StatusPending, ActionAssign}:           StatusAssigned,
	{StatusAssigned, ActionAssign}:          StatusAssigned,
	{StatusRejected, ActionAssign}:          StatusAssigned,
	{StatusAssigned, ActionAccept}:          StatusInProgress,
	{StatusInProgress, ActionComplete}:      StatusAwaitingApproval,
	{StatusAwaitingApproval, ActionApprove}: StatusApproved,
	{StatusAwaitingApproval, ActionReject}:  StatusRejected,
	{StatusPending, ActionCancel}:           StatusCancelled,
}

// actionRoles lists which role may perform each action.
var actionRoles = map[ReportAction]Role{
	ActionAssign:   RoleOfficer,
	ActionAccept:   RoleTechnician,
	ActionComplete: RoleTechnician,
	ActionApprove:  RoleOfficer,
	ActionReject:   RoleOfficer,
	ActionCancel:   RoleResident,
}

// ReportStatuses lists every status in lifecycle order.
func ReportStatuses() []ReportStatus {
	return []ReportStatus{
		StatusPending,
		StatusAssigned,
		StatusInProgress,
		StatusAwaitingApproval,
		StatusApproved,
		StatusRejected,
		StatusCancelled,
	}
}

// ParseReportStatus converts a string into a ReportStatus.
func ParseReportStatus(value string) (ReportStatus, error) {
	status := ReportStatus(strings.ToLower(strings.TrimSpace(value)))
	if !status.Valid() {
		return "", ErrUnknownStatus
	}
	return status, nil
}

// Valid reports whether s is one of the enumerated statuses.
func (s ReportStatus) Valid() bool {
	for _, status := range ReportStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// Terminal reports whether no further action is possible from s.
func (s ReportStatus) Terminal() bool {
	return s == StatusApproved || s == StatusCancelled
}

// Next returns the status reached by applying action to s.
// The second return value is false when the transition is not allowed.
func (s ReportStatus) Next(action ReportAction) (ReportStatus, bool) {
	next, ok := reportTransitions[transition{from: s, action: action}]
	return next, ok
}

func (s ReportStatus) String() string {
	return string(s)
}

// UnmarshalJSON rejects statuses outside the enumeration.
func (s *ReportStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseReportStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// RoleFor returns the role allowed to perform action.
func (a ReportAction) RoleFor() Role {
	return actionRoles[a]
}

// Location is a WGS84 coordinate pair.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`

	// Accuracy is the estimated horizontal accuracy in metres, when known.
	Accuracy float64 `json:"accuracy,omitempty"`
}

// Valid reports whether the coordinates are within WGS84 bounds.
func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

// Report is a resident-submitted pipe-damage complaint.
type Report struct {
	// ID is the unique identifier of the report.
	ID int `json:"id" db:"id"`

	// UserID identifies the resident who filed the report.
	UserID int `json:"user_id" db:"user_id"`

	// FullName is the reporter's name as entered on the form.
	FullName string `json:"full_name" db:"full_name"`

	// Phone is the reporter's contact number as entered on the form.
	Phone string `json:"phone" db:"phone"`

	// Address describes where the damage is.
	Address string `json:"address" db:"address"`

	// Location is the GPS position of the damage, if captured.
	Location *Location `json:"location,omitempty" db:"location"`

	// PhotoURL is the object key of the damage photo, if any.
	PhotoURL *string `json:"photo_url,omitempty" db:"photo_url"`

	// Notes holds free-form remarks from the resident.
	Notes *string `json:"notes,omitempty" db:"notes"`

	// Status is the current lifecycle state.
	Status ReportStatus `json:"status" db:"status"`

	// AssignedTechnicianID identifies the technician doing the repair.
	AssignedTechnicianID *int `json:"assigned_technician_id,omitempty" db:"assigned_technician_id"`

	// CompletionNotes is the technician's account of the repair.
	CompletionNotes *string `json:"completion_notes,omitempty" db:"completion_notes"`

	// CompletionPhotoURL is the object key of the after-repair photo, if any.
	CompletionPhotoURL *string `json:"completion_photo_url,omitempty" db:"completion_photo_url"`

	// RejectionReason is set when an officer rejects the repair.
	RejectionReason *string `json:"rejection_reason" db:"rejection_reason"`

	// ApprovedBy identifies the officer who approved the repair.
	ApprovedBy *int `json:"approved_by" db:"approved_by"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty" db:"assigned_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
}

// ReportFilter narrows report listings.
type ReportFilter struct {
	// UserID restricts results to reports filed by this resident.
	UserID int

	// TechnicianID restricts results to reports assigned to this technician.
	TechnicianID int

	// Status restricts results to one status.
	Status ReportStatus
}
