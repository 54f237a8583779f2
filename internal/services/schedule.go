package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jalsetu/apiserver/internal/store"
	"github.com/jalsetu/apiserver/types"
)

// ScheduleRepository defines persistence operations for supply schedules.
type ScheduleRepository interface {
	List(ctx context.Context, filter types.ScheduleFilter) ([]types.Schedule, error)
	Get(ctx context.Context, id int) (types.Schedule, error)
	Create(ctx context.Context, schedule types.Schedule) (types.Schedule, error)
	Update(ctx context.Context, schedule types.Schedule) (types.Schedule, error)
	Delete(ctx context.Context, id int) error
	DueToOpen(ctx context.Context, now time.Time) ([]types.Schedule, error)
	DueToClose(ctx context.Context, now time.Time) ([]types.Schedule, error)
}

type ScheduleInput struct {
	UserID             *int      `json:"user_id"`
	Area               string    `json:"area"`
	ScheduledOpenTime  time.Time `json:"scheduled_open_time"`
	ScheduledCloseTime time.Time `json:"scheduled_close_time"`
}

// ScheduleService manages water-supply windows.
type ScheduleService struct {
	repo   ScheduleRepository
	users  AccountGetter
	events EventPublisher
	now    func() time.Time
}

func NewScheduleService(repo ScheduleRepository, users AccountGetter, events EventPublisher) *ScheduleService {
	return &ScheduleService{
		repo:   repo,
		users:  users,
		events: events,
		now:    time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *ScheduleService) WithClock(now func() time.Time) *ScheduleService {
	s.now = now
	return s
}

func (s *ScheduleService) Create(ctx context.Context, actor types.Account, in ScheduleInput) (types.Schedule, error) {
	if actor.Role() != types.RoleController {
		return types.Schedule{}, ErrForbidden
	}

	area := strings.TrimSpace(in.Area)
	if area == "" && in.UserID == nil {
		return types.Schedule{}, invalid("", "either user_id or area is required")
	}
	if in.ScheduledOpenTime.IsZero() || in.ScheduledCloseTime.IsZero() {
		return types.Schedule{}, invalid("", "scheduled_open_time and scheduled_close_time are required")
	}
	if !in.ScheduledCloseTime.After(in.ScheduledOpenTime) {
		return types.Schedule{}, invalid("scheduled_close_time", "must be after scheduled_open_time")
	}
	if in.UserID != nil {
		if _, err := s.users.GetByID(ctx, *in.UserID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return types.Schedule{}, invalid("user_id", "unknown user")
			}
			return types.Schedule{}, err
		}
	}

	created, err := s.repo.Create(ctx, types.Schedule{
		ControllerID:       actor.ID,
		UserID:             in.UserID,
		Area:               area,
		ScheduledOpenTime:  in.ScheduledOpenTime,
		ScheduledCloseTime: in.ScheduledCloseTime,
	})
	if err != nil {
		return types.Schedule{}, err
	}

	s.publish(ctx, scheduleEvent(types.EventScheduleCreated, created, actor.ID))
	return created, nil
}

// List returns the schedules visible to the actor.
func (s *ScheduleService) List(ctx context.Context, actor types.Account, activeOnly bool) ([]types.Schedule, error) {
	filter, err := scheduleScope(actor)
	if err != nil {
		return nil, err
	}
	filter.ActiveOnly = activeOnly
	return s.repo.List(ctx, filter)
}

// Active returns the first active schedule visible to the actor, by id.
func (s *ScheduleService) Active(ctx context.Context, actor types.Account) (types.Schedule, error) {
	schedules, err := s.List(ctx, actor, true)
	if err != nil {
		return types.Schedule{}, err
	}
	if len(schedules) == 0 {
		return types.Schedule{}, store.ErrNotFound
	}
	return schedules[0], nil
}

func (s *ScheduleService) Get(ctx context.Context, actor types.Account, id int) (types.Schedule, error) {
	schedule, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Schedule{}, err
	}
	if !canViewSchedule(actor, schedule) {
		return types.Schedule{}, ErrForbidden
	}
	return schedule, nil
}

// Open starts supply. A closed schedule cannot be reopened; an
// interrupted one resumes.
func (s *ScheduleService) Open(ctx context.Context, actor types.Account, id int) (types.Schedule, error) {
	schedule, err := s.owned(ctx, actor, id)
	if err != nil {
		return types.Schedule{}, err
	}
	return s.open(ctx, schedule, actor.ID)
}

func (s *ScheduleService) Close(ctx context.Context, actor types.Account, id int) (types.Schedule, error) {
	schedule, err := s.owned(ctx, actor, id)
	if err != nil {
		return types.Schedule{}, err
	}
	return s.close(ctx, schedule, actor.ID)
}

// Interrupt stops supply ahead of schedule. A reason is mandatory.
func (s *ScheduleService) Interrupt(ctx context.Context, actor types.Account, id int, reason string) (types.Schedule, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return types.Schedule{}, invalid("reason", "is required")
	}

	schedule, err := s.owned(ctx, actor, id)
	if err != nil {
		return types.Schedule{}, err
	}
	if schedule.Closed() {
		return types.Schedule{}, ErrScheduleClosed
	}

	schedule.IsActive = false
	schedule.Interrupted = true
	schedule.InterruptionReason = &reason
	updated, err := s.repo.Update(ctx, schedule)
	if err != nil {
		return types.Schedule{}, err
	}

	event := scheduleEvent(types.EventScheduleInterrupt, updated, actor.ID)
	event.Reason = reason
	s.publish(ctx, event)
	return updated, nil
}

func (s *ScheduleService) Delete(ctx context.Context, actor types.Account, id int) error {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// RunAutomation opens schedules whose start time has passed and closes
// open schedules whose end time has passed.
func (s *ScheduleService) RunAutomation(ctx context.Context) (opened, closed int, err error) {
	now := s.now()

	due, err := s.repo.DueToOpen(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	for _, schedule := range due {
		if _, err := s.open(ctx, schedule, 0); err != nil {
			slog.ErrorContext(ctx, "auto-open failed", "schedule_id", schedule.ID, "error", err)
			continue
		}
		opened++
	}

	expired, err := s.repo.DueToClose(ctx, now)
	if err != nil {
		return opened, 0, err
	}
	for _, schedule := range expired {
		if _, err := s.close(ctx, schedule, 0); err != nil {
			slog.ErrorContext(ctx, "auto-close failed", "schedule_id", schedule.ID, "error", err)
			continue
		}
		closed++
	}
	return opened, closed, nil
}

func (s *ScheduleService) open(ctx context.Context, schedule types.Schedule, actorID int) (types.Schedule, error) {
	if schedule.Closed() {
		return types.Schedule{}, ErrScheduleClosed
	}
	if schedule.IsActive {
		return schedule, nil
	}

	if schedule.ActualOpenTime == nil {
		now := s.now()
		schedule.ActualOpenTime = &now
	}
	schedule.IsActive = true
	schedule.Interrupted = false

	updated, err := s.repo.Update(ctx, schedule)
	if err != nil {
		return types.Schedule{}, err
	}
	s.publish(ctx, scheduleEvent(types.EventScheduleOpened, updated, actorID))
	return updated, nil
}

func (s *ScheduleService) close(ctx context.Context, schedule types.Schedule, actorID int) (types.Schedule, error) {
	if schedule.Closed() {
		return types.Schedule{}, ErrScheduleClosed
	}

	now := s.now()
	schedule.ActualCloseTime = &now
	schedule.IsActive = false

	updated, err := s.repo.Update(ctx, schedule)
	if err != nil {
		return types.Schedule{}, err
	}
	s.publish(ctx, scheduleEvent(types.EventScheduleClosed, updated, actorID))
	return updated, nil
}

func (s *ScheduleService) owned(ctx context.Context, actor types.Account, id int) (types.Schedule, error) {
	if actor.Role() != types.RoleController {
		return types.Schedule{}, ErrForbidden
	}
	schedule, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Schedule{}, err
	}
	if schedule.ControllerID != actor.ID {
		return types.Schedule{}, ErrForbidden
	}
	return schedule, nil
}

func scheduleScope(actor types.Account) (types.ScheduleFilter, error) {
	switch actor.Role() {
	case types.RoleController:
		return types.ScheduleFilter{ControllerID: actor.ID}, nil
	case types.RoleResident:
		return types.ScheduleFilter{UserID: actor.ID}, nil
	case types.RoleOfficer:
		return types.ScheduleFilter{}, nil
	default:
		return types.ScheduleFilter{}, ErrForbidden
	}
}

func canViewSchedule(actor types.Account, schedule types.Schedule) bool {
	switch actor.Role() {
	case types.RoleController:
		return schedule.ControllerID == actor.ID
	case types.RoleResident:
		return schedule.UserID != nil && *schedule.UserID == actor.ID
	case types.RoleOfficer:
		return true
	default:
		return false
	}
}

// scheduleEvent addresses the targeted resident, or every resident for
// area-wide windows.
func scheduleEvent(eventType types.EventType, schedule types.Schedule, actorID int) types.Event {
	event := types.Event{
		Type:       eventType,
		ScheduleID: schedule.ID,
		ActorID:    actorID,
		Area:       schedule.Area,
	}
	if schedule.UserID != nil {
		event.Recipients = []int{*schedule.UserID}
	} else {
		event.RecipientRoles = []types.Role{types.RoleResident}
	}
	return event
}

func (s *ScheduleService) publish(ctx context.Context, event types.Event) {
	if s.events == nil {
		return
	}
	event.OccurredAt = s.now()
	if err := s.events.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "failed to publish event", "type", event.Type, "schedule_id", event.ScheduleID, "error", err)
	}
}
