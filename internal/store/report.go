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

const reportColumns = `
	id, user_id, full_name, phone, address, latitude, longitude, location_accuracy,
	photo_url, notes, status, assigned_technician_id, completion_notes, completion_photo_url,
	rejection_reason, approved_by, created_at, updated_at, assigned_at, started_at,
	completed_at, reviewed_at`

// ReportRepository handles persistence for reports.
type ReportRepository struct {
	db *sql.DB
}

func NewReportRepository(db *sql.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

func scanReport(row rowScanner) (types.Report, error) {
	var (
		report                              types.Report
		status                              string
		lat, lng, accuracy                  sql.NullFloat64
		photoURL, notes, completionNotes    sql.NullString
		completionPhotoURL, rejectionReason sql.NullString
		technicianID, approvedBy            sql.NullInt64
		assignedAt, startedAt, completedAt  sql.NullTime
		reviewedAt                          sql.NullTime
	)
	err := row.Scan(
		&report.ID,
		&report.UserID,
		&report.FullName,
		&report.Phone,
		&report.Address,
		&lat,
		&lng,
		&accuracy,
		&photoURL,
		&notes,
		&status,
		&technicianID,
		&completionNotes,
		&completionPhotoURL,
		&rejectionReason,
		&approvedBy,
		&report.CreatedAt,
		&report.UpdatedAt,
		&assignedAt,
		&startedAt,
		&completedAt,
		&reviewedAt,
	)
	if err != nil {
		return types.Report{}, err
	}

	report.Status, err = types.ParseReportStatus(status)
	if err != nil {
		return types.Report{}, fmt.Errorf("report %d: %w", report.ID, err)
	}
	if lat.Valid && lng.Valid {
		report.Location = &types.Location{Latitude: lat.Float64, Longitude: lng.Float64, Accuracy: accuracy.Float64}
	}
	report.PhotoURL = nullString(photoURL)
	report.Notes = nullString(notes)
	report.AssignedTechnicianID = nullInt(technicianID)
	report.CompletionNotes = nullString(completionNotes)
	report.CompletionPhotoURL = nullString(completionPhotoURL)
	report.RejectionReason = nullString(rejectionReason)
	report.ApprovedBy = nullInt(approvedBy)
	report.AssignedAt = nullTime(assignedAt)
	report.StartedAt = nullTime(startedAt)
	report.CompletedAt = nullTime(completedAt)
	report.ReviewedAt = nullTime(reviewedAt)
	return report, nil
}

func (r *ReportRepository) List(ctx context.Context, filter types.ReportFilter, offset, limit int) ([]types.Report, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	where, args := reportWhere(filter)

	countQuery := `SELECT COUNT(1) FROM reports` + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := fmt.Sprintf(`SELECT %s FROM reports%s ORDER BY id DESC OFFSET $%d LIMIT $%d`,
		reportColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, listQuery, append(args, offset, limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	reports := make([]types.Report, 0, limit)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return reports, total, nil
}

func reportWhere(filter types.ReportFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.UserID > 0 {
		args = append(args, filter.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.TechnicianID > 0 {
		args = append(args, filter.TechnicianID)
		clauses = append(clauses, fmt.Sprintf("assigned_technician_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *ReportRepository) Get(ctx context.Context, id int) (types.Report, error) {
	query := `SELECT` + reportColumns + ` FROM reports WHERE id = $1`
	report, err := scanReport(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Report{}, ErrNotFound
		}
		return types.Report{}, err
	}
	return report, nil
}

func (r *ReportRepository) Create(ctx context.Context, report types.Report) (types.Report, error) {
	now := time.Now()
	report.CreatedAt = now
	report.UpdatedAt = now

	lat, lng, accuracy := locationArgs(report.Location)

	const query = `
		INSERT INTO reports (
			user_id, full_name, phone, address, latitude, longitude, location_accuracy,
			photo_url, notes, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		report.UserID,
		report.FullName,
		report.Phone,
		report.Address,
		lat,
		lng,
		accuracy,
		report.PhotoURL,
		report.Notes,
		string(report.Status),
		report.CreatedAt,
		report.UpdatedAt,
	).Scan(&report.ID); err != nil {
		return types.Report{}, err
	}

	return report, nil
}

// Update overwrites every mutable column. Concurrent writers race; the last write wins.
func (r *ReportRepository) Update(ctx context.Context, report types.Report) (types.Report, error) {
	report.UpdatedAt = time.Now()

	lat, lng, accuracy := locationArgs(report.Location)

	const query = `
		UPDATE reports
		SET full_name = $1,
			phone = $2,
			address = $3,
			latitude = $4,
			longitude = $5,
			location_accuracy = $6,
			photo_url = $7,
			notes = $8,
			status = $9,
			assigned_technician_id = $10,
			completion_notes = $11,
			completion_photo_url = $12,
			rejection_reason = $13,
			approved_by = $14,
			updated_at = $15,
			assigned_at = $16,
			started_at = $17,
			completed_at = $18,
			reviewed_at = $19
		WHERE id = $20`
	result, err := r.db.ExecContext(
		ctx,
		query,
		report.FullName,
		report.Phone,
		report.Address,
		lat,
		lng,
		accuracy,
		report.PhotoURL,
		report.Notes,
		string(report.Status),
		report.AssignedTechnicianID,
		report.CompletionNotes,
		report.CompletionPhotoURL,
		report.RejectionReason,
		report.ApprovedBy,
		report.UpdatedAt,
		report.AssignedAt,
		report.StartedAt,
		report.CompletedAt,
		report.ReviewedAt,
		report.ID,
	)
	if err != nil {
		return types.Report{}, err
	}
	if err := expectAffected(result); err != nil {
		return types.Report{}, err
	}
	return report, nil
}

func (r *ReportRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM reports WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func locationArgs(loc *types.Location) (lat, lng, accuracy any) {
	if loc == nil {
		return nil, nil, nil
	}
	if loc.Accuracy > 0 {
		accuracy = loc.Accuracy
	}
	return loc.Latitude, loc.Longitude, accuracy
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
