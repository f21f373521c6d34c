package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/clinicq/queue-api/pkg/errors"

	"github.com/clinicq/queue-api/internal/model"
)

const notificationColumns = `
	id, patient_id, queue_entry_id, channel, template_type, message, recipient,
	status, sent_at, last_error, retry_count, next_retry_at, scheduled_for,
	created_at, updated_at
`

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt
	if n.Status == "" {
		n.Status = model.NotificationStatusPending
	}

	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.PatientID,
		n.QueueEntryID,
		n.Channel,
		n.TemplateType,
		n.Message,
		n.Recipient,
		n.Status,
		n.SentAt,
		n.LastError,
		n.RetryCount,
		n.NextRetryAt,
		n.ScheduledFor,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Update(ctx context.Context, n *model.Notification) error {
	query := `
		UPDATE notifications
		SET status = $1, sent_at = $2, last_error = $3, retry_count = $4,
			next_retry_at = $5, updated_at = $6
		WHERE id = $7
	`
	n.UpdatedAt = time.Now()
	result, err := r.db.ExecContext(ctx, query,
		n.Status, n.SentAt, n.LastError, n.RetryCount, n.NextRetryAt, n.UpdatedAt, n.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("notification", nil)
	}
	return nil
}

// GetPendingWithLock claims a batch of deliverable notifications. SKIP LOCKED
// keeps concurrent notifier workers from double-sending the same row.
func (r *notificationRepository) GetPendingWithLock(ctx context.Context, limit int) ([]*model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status IN ('pending', 'retrying')
		AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		AND (scheduled_for IS NULL OR scheduled_for <= NOW())
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	var notifications []*model.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, limit); err != nil {
		return nil, fmt.Errorf("failed to get pending notifications: %w", err)
	}
	return notifications, nil
}
