package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/infrastructure/persistence/sqlite"
)

// NotificationRepository implements port.NotificationLog
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new notification record
func (r *NotificationRepository) Create(ctx context.Context, record *port.NotificationRecord) error {
	query := `
		INSERT INTO notifications (
			authorization_id, recipient, template, title, status, error_message, created_at, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if record.Status == "" {
		record.Status = port.NotificationStatusPending
	}

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		record.AuthorizationID,
		record.Recipient,
		record.Template,
		record.Title,
		record.Status,
		record.ErrorMessage,
		record.CreatedAt.UTC(),
		utcPtr(record.SentAt),
	)
	if err != nil {
		r.logger.Error("Failed to create notification",
			zap.String("authorization_id", record.AuthorizationID),
			zap.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	record.ID = id
	return nil
}

// MarkSent marks a notification as sent
func (r *NotificationRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	query := `
		UPDATE notifications
		SET status = ?, sent_at = ?, error_message = ''
		WHERE id = ?
	`

	if _, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, port.NotificationStatusSent, sentAt.UTC(), id); err != nil {
		r.logger.Error("Failed to mark notification as sent",
			zap.Int64("id", id),
			zap.Error(err))
		return fmt.Errorf("failed to mark notification as sent: %w", err)
	}
	return nil
}

// MarkFailed marks a notification as failed with the error message
func (r *NotificationRepository) MarkFailed(ctx context.Context, id int64, errorMsg string) error {
	query := `
		UPDATE notifications
		SET status = ?, error_message = ?
		WHERE id = ?
	`

	if _, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, port.NotificationStatusFailed, errorMsg, id); err != nil {
		r.logger.Error("Failed to mark notification as failed",
			zap.Int64("id", id),
			zap.Error(err))
		return fmt.Errorf("failed to mark notification as failed: %w", err)
	}
	return nil
}

// ListByAuthorization returns the delivery attempts of an authorization, oldest first
func (r *NotificationRepository) ListByAuthorization(ctx context.Context, authorizationID string) ([]*port.NotificationRecord, error) {
	query := `
		SELECT id, authorization_id, recipient, template, title, status,
			error_message, created_at, sent_at
		FROM notifications
		WHERE authorization_id = ?
		ORDER BY id ASC
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, authorizationID)
	if err != nil {
		r.logger.Error("Failed to list notifications",
			zap.String("authorization_id", authorizationID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var records []*port.NotificationRecord
	for rows.Next() {
		var record port.NotificationRecord
		var title, errorMsg sql.NullString
		var sentAt sql.NullTime

		err := rows.Scan(
			&record.ID,
			&record.AuthorizationID,
			&record.Recipient,
			&record.Template,
			&title,
			&record.Status,
			&errorMsg,
			&record.CreatedAt,
			&sentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}

		record.Title = title.String
		record.ErrorMessage = errorMsg.String
		if sentAt.Valid {
			record.SentAt = &sentAt.Time
		}
		records = append(records, &record)
	}

	return records, rows.Err()
}

var _ port.NotificationLog = (*NotificationRepository)(nil)
