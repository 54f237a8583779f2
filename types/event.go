package types

import "time"

// EventType names a domain event published on the event bus.
type EventType string

// Event types. Report events are derived from the status reached.
const (
	EventReportCreated     EventType = "report.created"
	EventScheduleCreated   EventType = "schedule.created"
	EventScheduleOpened    EventType = "schedule.opened"
	EventScheduleClosed    EventType = "schedule.closed"
	EventScheduleInterrupt EventType = "schedule.interrupted"
)

// ReportEventType returns the event type emitted when a report reaches status.
func ReportEventType(status ReportStatus) EventType {
	return EventType("report." + string(status))
}

// Event is the payload published whenever a report or schedule changes.
type Event struct {
	Type       EventType    `json:"type"`
	ReportID   int          `json:"report_id,omitempty"`
	ScheduleID int          `json:"schedule_id,omitempty"`
	ActorID    int          `json:"actor_id,omitempty"`
	Status     ReportStatus `json:"status,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Area       string       `json:"area,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`

	// Recipients lists user ids to notify.
	Recipients []int `json:"recipients,omitempty"`

	// RecipientRoles adds every account holding one of these roles.
	RecipientRoles []Role `json:"recipient_roles,omitempty"`
}

// Valid reports whether the event carries enough to be dispatched.
func (e Event) Valid() bool {
	if e.Type == "" {
		return false
	}
	return e.ReportID > 0 || e.ScheduleID > 0
}
