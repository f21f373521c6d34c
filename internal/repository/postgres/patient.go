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

func (r *patientRepository) Create(ctx context.Context, patient *model.Patient) error {
	query := `
		INSERT INTO patients (
			id, name, phone_number, email, age, gender, address,
			emergency_contact, medical_record_number, whatsapp_enabled,
			is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	patient.ID = uuid.New()
	patient.CreatedAt = time.Now()
	patient.UpdatedAt = time.Now()
	patient.IsActive = true

	_, err := r.db.ExecContext(ctx, query,
		patient.ID,
		patient.Name,
		patient.PhoneNumber,
		patient.Email,
		patient.Age,
		patient.Gender,
		patient.Address,
		patient.EmergencyContact,
		patient.MedicalRecordNumber,
		patient.WhatsAppEnabled,
		patient.IsActive,
		patient.CreatedAt,
		patient.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	query := `
		SELECT id, name, phone_number, email, age, gender, address,
			   emergency_contact, medical_record_number, whatsapp_enabled, is_active,
			   created_at, updated_at
		FROM patients
		WHERE id = $1
	`
	var patient model.Patient
	err := r.db.GetContext(ctx, &patient, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("patient", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return &patient, nil
}

// GetByPhone returns nil, nil when no patient matches: absence is the normal
// first-visit case, not an error.
func (r *patientRepository) GetByPhone(ctx context.Context, phone string) (*model.Patient, error) {
	query := `
		SELECT id, name, phone_number, email, age, gender, address,
			   emergency_contact, medical_record_number, whatsapp_enabled, is_active,
			   created_at, updated_at
		FROM patients
		WHERE phone_number = $1
		ORDER BY created_at ASC
		LIMIT 1
	`
	var patient model.Patient
	err := r.db.GetContext(ctx, &patient, query, phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient by phone: %w", err)
	}
	return &patient, nil
}

func (r *patientRepository) Update(ctx context.Context, patient *model.Patient) error {
	query := `
		UPDATE patients
		SET name = $1, email = $2, age = $3, gender = $4, address = $5,
			emergency_contact = $6, whatsapp_enabled = $7, is_active = $8,
			updated_at = $9
		WHERE id = $10
	`
	patient.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		patient.Name,
		patient.Email,
		patient.Age,
		patient.Gender,
		patient.Address,
		patient.EmergencyContact,
		patient.WhatsAppEnabled,
		patient.IsActive,
		patient.UpdatedAt,
		patient.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update patient: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("patient", nil)
	}
	return nil
}
