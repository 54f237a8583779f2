package store

import (
	"context"
	"database/sql"

	"github.com/jalsetu/apiserver/types"
)

// AnalyticsRepository runs the aggregate queries behind the analytics endpoint.
type AnalyticsRepository struct {
	db *sql.DB
}

func NewAnalyticsRepository(db *sql.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

func (r *AnalyticsRepository) ReportStatusCounts(ctx context.Context) (map[types.ReportStatus]int, error) {
	const query = `SELECT status, COUNT(1) FROM reports GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[types.ReportStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[types.ReportStatus(status)] = count
	}
	return counts, rows.Err()
}

// AverageResolutionHours returns the mean time from filing to approval.
func (r *AnalyticsRepository) AverageResolutionHours(ctx context.Context) (float64, error) {
	const query = `
		SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (reviewed_at - created_at)) / 3600.0), 0)
		FROM reports
		WHERE status = 'approved' AND reviewed_at IS NOT NULL`
	var hours float64
	if err := r.db.QueryRowContext(ctx, query).Scan(&hours); err != nil {
		return 0, err
	}
	return hours, nil
}

func (r *AnalyticsRepository) TechnicianWorkload(ctx context.Context) ([]types.TechnicianWorkload, error) {
	const query = `
		SELECT p.id, p.full_name,
			COUNT(r.id) FILTER (WHERE r.status IN ('assigned', 'in_progress', 'awaiting_approval', 'rejected')),
			COUNT(r.id) FILTER (WHERE r.status = 'approved')
		FROM profiles p
		LEFT JOIN reports r ON r.assigned_technician_id = p.id
		WHERE p.role = 'maintenance_technician'
		GROUP BY p.id, p.full_name
		ORDER BY p.id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	workloads := make([]types.TechnicianWorkload, 0)
	for rows.Next() {
		var w types.TechnicianWorkload
		if err := rows.Scan(&w.TechnicianID, &w.FullName, &w.Open, &w.Approved); err != nil {
			return nil, err
		}
		workloads = append(workloads, w)
	}
	return workloads, rows.Err()
}

func (r *AnalyticsRepository) ScheduleCounts(ctx context.Context) (types.ScheduleCounts, error) {
	const query = `
		SELECT COUNT(1),
			COUNT(1) FILTER (WHERE is_active),
			COUNT(1) FILTER (WHERE interrupted)
		FROM schedules`
	var counts types.ScheduleCounts
	err := r.db.QueryRowContext(ctx, query).Scan(&counts.Total, &counts.Active, &counts.Interrupted)
	return counts, err
}
