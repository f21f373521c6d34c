package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/clinicq/queue-api/pkg/errors"

	"github.com/clinicq/queue-api/internal/model"
)

const doctorColumns = `
	id, name, employee_id, specialization, phone_number, email, department_id,
	is_available, is_active, start_time, end_time, lunch_start, lunch_end,
	total_patients_seen, avg_consultation_mins, last_active_at,
	created_at, updated_at
`

func (r *doctorRepository) Get(ctx context.Context, id uuid.UUID) (*model.Doctor, error) {
	query := `SELECT ` + doctorColumns + ` FROM doctors WHERE id = $1`
	var doctor model.Doctor
	err := r.db.GetContext(ctx, &doctor, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("doctor", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get doctor: %w", err)
	}
	return &doctor, nil
}

func (r *doctorRepository) ListAvailableByDepartment(ctx context.Context, departmentID uuid.UUID) ([]*model.Doctor, error) {
	query := `
		SELECT ` + doctorColumns + `
		FROM doctors
		WHERE department_id = $1
		AND is_available = true
		AND is_active = true
		ORDER BY name ASC
	`
	var doctors []*model.Doctor
	if err := r.db.SelectContext(ctx, &doctors, query, departmentID); err != nil {
		return nil, fmt.Errorf("failed to list available doctors: %w", err)
	}
	return doctors, nil
}

func (r *doctorRepository) CountAvailable(ctx context.Context, departmentID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM doctors
		WHERE department_id = $1
		AND is_available = true
		AND is_active = true
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, departmentID); err != nil {
		return 0, fmt.Errorf("failed to count available doctors: %w", err)
	}
	return count, nil
}

func (r *doctorRepository) TouchLastActive(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE doctors SET last_active_at = $1, updated_at = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, time.Now(), id); err != nil {
		return fmt.Errorf("failed to touch doctor activity: %w", err)
	}
	return nil
}

// RecordConsultation folds a finished consultation into the doctor's running
// average. The average is recomputed from the previous value rather than
// rescanning history.
func (r *doctorRepository) RecordConsultation(ctx context.Context, id uuid.UUID, durationMins int) error {
	query := `
		UPDATE doctors
		SET total_patients_seen = total_patients_seen + 1,
			avg_consultation_mins = (avg_consultation_mins * total_patients_seen + $1) / (total_patients_seen + 1),
			last_active_at = $2,
			updated_at = $2
		WHERE id = $3
	`
	result, err := r.db.ExecContext(ctx, query, durationMins, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to record consultation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("doctor", nil)
	}
	return nil
}
