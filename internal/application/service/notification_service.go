package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/garyjia/prior-auth/internal/application/port"
)

// Logger interface for minimal logging dependency. *zap.SugaredLogger satisfies it.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// ErrInvalidNotification is returned for notifications that cannot be addressed
var ErrInvalidNotification = errors.New("invalid notification")

// NotificationService delivers workflow notifications and keeps a delivery record
type NotificationService interface {
	Deliver(ctx context.Context, n port.Notification) error
	History(ctx context.Context, authorizationID string) ([]*port.NotificationRecord, error)
}

type notificationServiceImpl struct {
	notifier port.Notifier
	log      port.NotificationLog
	clock    clockwork.Clock
	logger   Logger
}

// NewNotificationService creates a new NotificationService. log may be nil.
func NewNotificationService(
	notifier port.Notifier,
	log port.NotificationLog,
	clock clockwork.Clock,
	logger Logger,
) NotificationService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &notificationServiceImpl{
		notifier: notifier,
		log:      log,
		clock:    clock,
		logger:   logger,
	}
}

// Deliver records the notification as pending, sends it and marks the outcome
func (s *notificationServiceImpl) Deliver(ctx context.Context, n port.Notification) error {
	if n.Recipient == "" || n.Template == "" {
		return fmt.Errorf("%w: recipient and template are required", ErrInvalidNotification)
	}

	record := &port.NotificationRecord{
		AuthorizationID: n.AuthorizationID,
		Recipient:       n.Recipient,
		Template:        n.Template,
		Title:           n.Title,
		Status:          port.NotificationStatusPending,
		CreatedAt:       s.clock.Now(),
	}
	if s.log != nil {
		if err := s.log.Create(ctx, record); err != nil {
			s.logger.Errorw("Failed to record notification", "error", err, "authorization_id", n.AuthorizationID)
			return fmt.Errorf("create notification record: %w", err)
		}
	}

	if err := s.notifier.SendNotification(ctx, n); err != nil {
		s.logger.Errorw("Failed to send notification",
			"error", err,
			"authorization_id", n.AuthorizationID,
			"recipient", n.Recipient,
			"template", n.Template)
		if s.log != nil {
			if markErr := s.log.MarkFailed(ctx, record.ID, err.Error()); markErr != nil {
				s.logger.Errorw("Failed to mark notification failed", "error", markErr, "notification_id", record.ID)
			}
		}
		return fmt.Errorf("send notification: %w", err)
	}

	if s.log != nil {
		if err := s.log.MarkSent(ctx, record.ID, s.clock.Now()); err != nil {
			return fmt.Errorf("mark notification sent: %w", err)
		}
	}

	s.logger.Infow("Notification sent successfully",
		"authorization_id", n.AuthorizationID,
		"notification_id", record.ID,
		"recipient", n.Recipient,
		"template", n.Template)
	return nil
}

// History lists the delivery attempts for one authorization
func (s *notificationServiceImpl) History(ctx context.Context, authorizationID string) ([]*port.NotificationRecord, error) {
	if s.log == nil {
		return []*port.NotificationRecord{}, nil
	}
	records, err := s.log.ListByAuthorization(ctx, authorizationID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return records, nil
}
