package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/clinicq/queue-api/pkg/errors"

	"github.com/clinicq/queue-api/internal/model"
)

const queueEntryColumns = `
	id, patient_id, department_id, token_number, status, priority, notes,
	is_online_booking, qr_code, booked_at, arrived_at, preferred_doctor_id,
	booking_date, booking_time_slot, called_at, consultation_started_at,
	consultation_ended_at, assigned_doctor_id, estimated_wait_mins,
	actual_wait_mins, created_at, updated_at
`

// nextToken atomically increments the (department, day) counter inside the
// caller's transaction. Two concurrent increments serialize on the counter
// row, so token numbers are contiguous and unique per scope.
func nextToken(ctx context.Context, tx *sqlx.Tx, departmentID uuid.UUID, day time.Time) (int, error) {
	query := `
		INSERT INTO token_counters (department_id, day, last_token)
		VALUES ($1, $2::date, 1)
		ON CONFLICT (department_id, day)
		DO UPDATE SET last_token = token_counters.last_token + 1
		RETURNING last_token
	`
	var token int
	if err := tx.GetContext(ctx, &token, query, departmentID, day); err != nil {
		return 0, fmt.Errorf("failed to allocate token: %w", err)
	}
	return token, nil
}

func insertEntryTx(ctx context.Context, tx *sqlx.Tx, entry *model.QueueEntry) error {
	query := `
		INSERT INTO queue_entries (` + queueEntryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
				$15, $16, $17, $18, $19, $20, $21, $22)
	`
	_, err := tx.ExecContext(ctx, query,
		entry.ID,
		entry.PatientID,
		entry.DepartmentID,
		entry.TokenNumber,
		entry.Status,
		entry.Priority,
		entry.Notes,
		entry.IsOnlineBooking,
		entry.QRCode,
		entry.BookedAt,
		entry.ArrivedAt,
		entry.PreferredDoctorID,
		entry.BookingDate,
		entry.BookingTimeSlot,
		entry.CalledAt,
		entry.ConsultationStartedAt,
		entry.ConsultationEndedAt,
		entry.AssignedDoctorID,
		entry.EstimatedWaitMins,
		entry.ActualWaitMins,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert queue entry: %w", err)
	}
	return nil
}

func saveEntryTx(ctx context.Context, tx *sqlx.Tx, entry *model.QueueEntry) error {
	query := `
		UPDATE queue_entries
		SET token_number = $1, status = $2, priority = $3, notes = $4,
			arrived_at = $5, called_at = $6, consultation_started_at = $7,
			consultation_ended_at = $8, assigned_doctor_id = $9,
			estimated_wait_mins = $10, actual_wait_mins = $11, updated_at = $12
		WHERE id = $13
	`
	entry.UpdatedAt = time.Now()
	result, err := tx.ExecContext(ctx, query,
		entry.TokenNumber,
		entry.Status,
		entry.Priority,
		entry.Notes,
		entry.ArrivedAt,
		entry.CalledAt,
		entry.ConsultationStartedAt,
		entry.ConsultationEndedAt,
		entry.AssignedDoctorID,
		entry.EstimatedWaitMins,
		entry.ActualWaitMins,
		entry.UpdatedAt,
		entry.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update queue entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("queue entry", nil)
	}
	return nil
}

func (r *queueRepository) Create(ctx context.Context, entry *model.QueueEntry) error {
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	entry.UpdatedAt = entry.CreatedAt

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		token, err := nextToken(ctx, tx, entry.DepartmentID, model.DateOf(entry.CreatedAt))
		if err != nil {
			return err
		}
		entry.TokenNumber = token
		return insertEntryTx(ctx, tx, entry)
	})
}

func (r *queueRepository) CreateBooked(ctx context.Context, entry *model.QueueEntry) error {
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	entry.UpdatedAt = entry.CreatedAt
	entry.TokenNumber = 0

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		return insertEntryTx(ctx, tx, entry)
	})
}

func (r *queueRepository) Get(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error) {
	query := `SELECT ` + queueEntryColumns + ` FROM queue_entries WHERE id = $1`
	var entry model.QueueEntry
	err := r.db.GetContext(ctx, &entry, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("queue entry", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return &entry, nil
}

func (r *queueRepository) UpdateLocked(ctx context.Context, id uuid.UUID, fn func(*model.QueueEntry) error) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `SELECT ` + queueEntryColumns + ` FROM queue_entries WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &entry, query, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.NotFound("queue entry", err)
			}
			return fmt.Errorf("failed to lock queue entry: %w", err)
		}
		if err := fn(&entry); err != nil {
			return err
		}
		return saveEntryTx(ctx, tx, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *queueRepository) ActivateByQR(ctx context.Context, qrCode string, fn func(*model.QueueEntry) error) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `SELECT ` + queueEntryColumns + ` FROM queue_entries WHERE qr_code = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &entry, query, qrCode); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.NotFound("booking", err)
			}
			return fmt.Errorf("failed to lock booking: %w", err)
		}
		if err := fn(&entry); err != nil {
			return err
		}
		// Tokens are scoped to the day the patient actually arrives, shared
		// with walk-ins registered the same day.
		token, err := nextToken(ctx, tx, entry.DepartmentID, model.DateOf(time.Now()))
		if err != nil {
			return err
		}
		entry.TokenNumber = token
		return saveEntryTx(ctx, tx, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *queueRepository) CallNext(ctx context.Context, departmentID uuid.UUID, day time.Time, fn func(*model.QueueEntry) error) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	found := false
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			SELECT ` + queueEntryColumns + `
			FROM queue_entries
			WHERE department_id = $1
			AND status = 'waiting'
			AND created_at::date = $2::date
			ORDER BY
				CASE priority
					WHEN 'emergency' THEN 0
					WHEN 'high' THEN 1
					WHEN 'normal' THEN 2
					ELSE 3
				END,
				created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`
		err := tx.GetContext(ctx, &entry, query, departmentID, day)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to select next waiting entry: %w", err)
		}
		found = true
		if err := fn(&entry); err != nil {
			return err
		}
		return saveEntryTx(ctx, tx, &entry)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &entry, nil
}

func (r *queueRepository) GetActiveForPatient(ctx context.Context, patientID uuid.UUID, day time.Time) (*model.QueueEntry, error) {
	query := `
		SELECT ` + queueEntryColumns + `
		FROM queue_entries
		WHERE patient_id = $1
		AND created_at::date = $2::date
		AND status NOT IN ('completed', 'skipped', 'cancelled')
		ORDER BY created_at ASC
		LIMIT 1
	`
	var entry model.QueueEntry
	err := r.db.GetContext(ctx, &entry, query, patientID, day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active entry for patient: %w", err)
	}
	return &entry, nil
}

func (r *queueRepository) GetActiveBookingForDate(ctx context.Context, patientID uuid.UUID, date time.Time) (*model.QueueEntry, error) {
	query := `
		SELECT ` + queueEntryColumns + `
		FROM queue_entries
		WHERE patient_id = $1
		AND booking_date = $2::date
		AND status NOT IN ('completed', 'skipped', 'cancelled')
		ORDER BY created_at ASC
		LIMIT 1
	`
	var entry model.QueueEntry
	err := r.db.GetContext(ctx, &entry, query, patientID, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active booking: %w", err)
	}
	return &entry, nil
}

func (r *queueRepository) CountWaitingBefore(ctx context.Context, departmentID uuid.UUID, day, createdBefore time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE department_id = $1
		AND status = 'waiting'
		AND created_at::date = $2::date
		AND created_at < $3
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, departmentID, day, createdBefore); err != nil {
		return 0, fmt.Errorf("failed to count waiting entries: %w", err)
	}
	return count, nil
}

func (r *queueRepository) CountByStatus(ctx context.Context, departmentID uuid.UUID, day time.Time, status model.QueueStatus) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE department_id = $1
		AND status = $2
		AND created_at::date = $3::date
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, departmentID, status, day); err != nil {
		return 0, fmt.Errorf("failed to count entries by status: %w", err)
	}
	return count, nil
}

func (r *queueRepository) ListByStatus(ctx context.Context, departmentID uuid.UUID, day time.Time, status model.QueueStatus) ([]*model.QueueEntry, error) {
	query := `
		SELECT ` + queueEntryColumns + `
		FROM queue_entries
		WHERE department_id = $1
		AND status = $2
		AND created_at::date = $3::date
		ORDER BY
			CASE priority
				WHEN 'emergency' THEN 0
				WHEN 'high' THEN 1
				WHEN 'normal' THEN 2
				ELSE 3
			END,
			created_at ASC
	`
	var entries []*model.QueueEntry
	if err := r.db.SelectContext(ctx, &entries, query, departmentID, status, day); err != nil {
		return nil, fmt.Errorf("failed to list entries by status: %w", err)
	}
	return entries, nil
}

func (r *queueRepository) CountBookingsInSlot(ctx context.Context, departmentID uuid.UUID, date time.Time, slot string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE department_id = $1
		AND booking_date = $2::date
		AND booking_time_slot = $3
		AND status NOT IN ('completed', 'skipped', 'cancelled')
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, departmentID, date, slot); err != nil {
		return 0, fmt.Errorf("failed to count bookings in slot: %w", err)
	}
	return count, nil
}

func (r *queueRepository) CountCompletedByDoctor(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE assigned_doctor_id = $1
		AND status = 'completed'
		AND created_at::date = $2::date
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, doctorID, day); err != nil {
		return 0, fmt.Errorf("failed to count completed entries: %w", err)
	}
	return count, nil
}

func (r *queueRepository) CurrentForDoctor(ctx context.Context, doctorID uuid.UUID, day time.Time) (*model.QueueEntry, error) {
	query := `
		SELECT ` + queueEntryColumns + `
		FROM queue_entries
		WHERE assigned_doctor_id = $1
		AND status = 'in_consultation'
		AND created_at::date = $2::date
		ORDER BY consultation_started_at DESC
		LIMIT 1
	`
	var entry model.QueueEntry
	err := r.db.GetContext(ctx, &entry, query, doctorID, day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current entry for doctor: %w", err)
	}
	return &entry, nil
}

func (r *queueRepository) PeekNextWaiting(ctx context.Context, departmentID uuid.UUID, day time.Time) (*model.QueueEntry, error) {
	query := `
		SELECT ` + queueEntryColumns + `
		FROM queue_entries
		WHERE department_id = $1
		AND status = 'waiting'
		AND created_at::date = $2::date
		ORDER BY
			CASE priority
				WHEN 'emergency' THEN 0
				WHEN 'high' THEN 1
				WHEN 'normal' THEN 2
				ELSE 3
			END,
			created_at ASC
		LIMIT 1
	`
	var entry model.QueueEntry
	err := r.db.GetContext(ctx, &entry, query, departmentID, day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to peek next waiting entry: %w", err)
	}
	return &entry, nil
}

func (r *queueRepository) UpdateEstimate(ctx context.Context, id uuid.UUID, minutes int) error {
	query := `
		UPDATE queue_entries
		SET estimated_wait_mins = $1, updated_at = $2
		WHERE id = $3
	`
	if _, err := r.db.ExecContext(ctx, query, minutes, time.Now(), id); err != nil {
		return fmt.Errorf("failed to update wait estimate: %w", err)
	}
	return nil
}
