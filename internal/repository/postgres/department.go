package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/clinicq/queue-api/pkg/errors"

	"github.com/clinicq/queue-api/internal/model"
)

func (r *departmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Department, error) {
	query := `
		SELECT id, name, description, is_active, created_at, updated_at
		FROM departments
		WHERE id = $1
	`
	var dept model.Department
	err := r.db.GetContext(ctx, &dept, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("department", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get department: %w", err)
	}
	return &dept, nil
}

func (r *departmentRepository) List(ctx context.Context, activeOnly bool) ([]*model.Department, error) {
	query := `
		SELECT id, name, description, is_active, created_at, updated_at
		FROM departments
	`
	if activeOnly {
		query += " WHERE is_active = true"
	}
	query += " ORDER BY name ASC"

	var depts []*model.Department
	if err := r.db.SelectContext(ctx, &depts, query); err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	return depts, nil
}
