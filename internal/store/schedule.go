package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jalsetu/apiserver/types"
)

const scheduleColumns = `
	id, controller_id, user_id, area, scheduled_open_time, scheduled_close_time,
	actual_open_time, actual_close_time, is_active, interrupted, interruption_reason,
	created_at, updated_at`

// ScheduleRepository handles persistence for water-supply schedules.
type ScheduleRepository struct {
	db *sql.DB
}

func NewScheduleRepository(db *sql.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func scanSchedule(row rowScanner) (types.Schedule, error) {
	var (
		schedule              types.Schedule
		userID                sql.NullInt64
		actualOpen, actualEnd sql.NullTime
		reason                sql.NullString
	)
	err := row.Scan(
		&schedule.ID,
		&schedule.ControllerID,
		&userID,
		&schedule.Area,
		&schedule.ScheduledOpenTime,
		&schedule.ScheduledCloseTime,
		&actualOpen,
		&actualEnd,
		&schedule.IsActive,
		&schedule.Interrupted,
		&reason,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	if err != nil {
		return types.Schedule{}, err
	}
	schedule.UserID = nullInt(userID)
	schedule.ActualOpenTime = nullTime(actualOpen)
	schedule.ActualCloseTime = nullTime(actualEnd)
	schedule.InterruptionReason = nullString(reason)
	return schedule, nil
}

func (r *ScheduleRepository) querySchedules(ctx context.Context, query string, args ...any) ([]types.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := make([]types.Schedule, 0)
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return schedules, nil
}

func (r *ScheduleRepository) List(ctx context.Context, filter types.ScheduleFilter) ([]types.Schedule, error) {
	var clauses []string
	var args []any
	if filter.ControllerID > 0 {
		args = append(args, filter.ControllerID)
		clauses = append(clauses, fmt.Sprintf("controller_id = $%d", len(args)))
	}
	if filter.UserID > 0 {
		args = append(args, filter.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "is_active")
	}

	query := `SELECT` + scheduleColumns + ` FROM schedules`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"
	return r.querySchedules(ctx, query, args...)
}

func (r *ScheduleRepository) Get(ctx context.Context, id int) (types.Schedule, error) {
	query := `SELECT` + scheduleColumns + ` FROM schedules WHERE id = $1`
	schedule, err := scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Schedule{}, ErrNotFound
		}
		return types.Schedule{}, err
	}
	return schedule, nil
}

func (r *ScheduleRepository) Create(ctx context.Context, schedule types.Schedule) (types.Schedule, error) {
	now := time.Now()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	const query = `
		INSERT INTO schedules (
			controller_id, user_id, area, scheduled_open_time, scheduled_close_time,
			is_active, interrupted, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		schedule.ControllerID,
		schedule.UserID,
		schedule.Area,
		schedule.ScheduledOpenTime,
		schedule.ScheduledCloseTime,
		schedule.IsActive,
		schedule.Interrupted,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	).Scan(&schedule.ID); err != nil {
		return types.Schedule{}, err
	}
	return schedule, nil
}

// Update persists the runtime state of a schedule.
// actual_close_time is only ever filled in, never cleared.
func (r *ScheduleRepository) Update(ctx context.Context, schedule types.Schedule) (types.Schedule, error) {
	schedule.UpdatedAt = time.Now()

	const query = `
		UPDATE schedules
		SET actual_open_time = $1,
			actual_close_time = COALESCE(actual_close_time, $2),
			is_active = $3,
			interrupted = $4,
			interruption_reason = $5,
			updated_at = $6
		WHERE id = $7`
	result, err := r.db.ExecContext(
		ctx,
		query,
		schedule.ActualOpenTime,
		schedule.ActualCloseTime,
		schedule.IsActive,
		schedule.Interrupted,
		schedule.InterruptionReason,
		schedule.UpdatedAt,
		schedule.ID,
	)
	if err != nil {
		return types.Schedule{}, err
	}
	if err := expectAffected(result); err != nil {
		return types.Schedule{}, err
	}
	return schedule, nil
}

func (r *ScheduleRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM schedules WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// DueToOpen returns schedules whose planned start has passed but which were
// never opened, closed or interrupted.
func (r *ScheduleRepository) DueToOpen(ctx context.Context, now time.Time) ([]types.Schedule, error) {
	query := `SELECT` + scheduleColumns + `
		FROM schedules
		WHERE scheduled_open_time <= $1
			AND scheduled_close_time > $1
			AND actual_open_time IS NULL
			AND actual_close_time IS NULL
			AND NOT interrupted
		ORDER BY id`
	return r.querySchedules(ctx, query, now)
}

// DueToClose returns open schedules whose planned end has passed.
func (r *ScheduleRepository) DueToClose(ctx context.Context, now time.Time) ([]types.Schedule, error) {
	query := `SELECT` + scheduleColumns + `
		FROM schedules
		WHERE scheduled_close_time <= $1
			AND actual_open_time IS NOT NULL
			AND actual_close_time IS NULL
		ORDER BY id`
	return r.querySchedules(ctx, query, now)
}
