package types

import "time"

// Schedule is a planned water-supply window for a resident or an area.
// It is owned by the water-flow controller who created it.
type Schedule struct {
	// ID is the unique identifier of the schedule.
	ID int `json:"id" db:"id"`

	// ControllerID identifies the controller who owns the schedule.
	ControllerID int `json:"controller_id" db:"controller_id"`

	// UserID identifies the resident the window applies to, if any.
	UserID *int `json:"user_id,omitempty" db:"user_id"`

	// Area names the supply zone the window applies to.
	Area string `json:"area" db:"area"`

	// ScheduledOpenTime is when supply is planned to start.
	ScheduledOpenTime time.Time `json:"scheduled_open_time" db:"scheduled_open_time"`

	// ScheduledCloseTime is when supply is planned to stop.
	ScheduledCloseTime time.Time `json:"scheduled_close_time" db:"scheduled_close_time"`

	// ActualOpenTime is when supply actually started.
	ActualOpenTime *time.Time `json:"actual_open_time,omitempty" db:"actual_open_time"`

	// ActualCloseTime is when supply actually stopped. Once set it is
	// never cleared.
	ActualCloseTime *time.Time `json:"actual_close_time,omitempty" db:"actual_close_time"`

	// IsActive reports whether water is currently flowing for this window.
	IsActive bool `json:"is_active" db:"is_active"`

	// Interrupted reports whether supply was stopped ahead of schedule.
	Interrupted bool `json:"interrupted" db:"interrupted"`

	// InterruptionReason explains the latest interruption.
	InterruptionReason *string `json:"interruption_reason,omitempty" db:"interruption_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Closed reports whether the window has been closed.
func (s Schedule) Closed() bool {
	return s.ActualCloseTime != nil
}

// ScheduleFilter narrows schedule listings.
type ScheduleFilter struct {
	ControllerID int
	UserID       int
	ActiveOnly   bool
}
