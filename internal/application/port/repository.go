package port

import (
	"context"
	"time"

	"github.com/garyjia/prior-auth/internal/domain/entity"
	"github.com/garyjia/prior-auth/internal/domain/event"
	"github.com/garyjia/prior-auth/internal/domain/workflow"
)

// WorkflowRepository persists authorization snapshots
type WorkflowRepository interface {
	// Save inserts or replaces the snapshot of a request
	Save(ctx context.Context, req *entity.AuthorizationRequest) error

	// GetByID returns nil, nil when the request does not exist
	GetByID(ctx context.Context, id string) (*entity.AuthorizationRequest, error)

	// ListActive returns every request whose workflow has not completed
	ListActive(ctx context.Context) ([]*entity.AuthorizationRequest, error)

	// MarkCompleted flags the snapshot as no longer tracked
	MarkCompleted(ctx context.Context, id string, completedAt time.Time) error
}

// Deadline is a durable watchdog entry keyed by (AuthorizationID, Key).
// It only fires while the request is still in State.
type Deadline struct {
	AuthorizationID string          `json:"authorization_id"`
	Key             string          `json:"key"`
	State           workflow.State  `json:"state"`
	Action          workflow.Action `json:"action,omitempty"`
	DueAt           time.Time       `json:"due_at"`
	Generation      int64           `json:"-"`
}

// DeadlineRepository persists armed watchdogs so they survive restarts
type DeadlineRepository interface {
	Upsert(ctx context.Context, d Deadline) error
	Delete(ctx context.Context, authorizationID, key string) error
	DeleteAll(ctx context.Context, authorizationID string) error
	List(ctx context.Context) ([]Deadline, error)
}

// AuditQuery reads back recorded events
type AuditQuery interface {
	ListEvents(ctx context.Context, authorizationID string) ([]*event.Event, error)
	ListTransitions(ctx context.Context, authorizationID string) ([]entity.AuditEntry, error)
}

// Notification delivery statuses
const (
	NotificationStatusPending = "PENDING"
	NotificationStatusSent    = "SENT"
	NotificationStatusFailed  = "FAILED"
)

// NotificationRecord is one delivery attempt kept for operator follow-up
type NotificationRecord struct {
	ID              int64      `json:"id"`
	AuthorizationID string     `json:"authorization_id"`
	Recipient       string     `json:"recipient"`
	Template        string     `json:"template"`
	Title           string     `json:"title"`
	Status          string     `json:"status"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
}

// NotificationLog persists notification delivery attempts
type NotificationLog interface {
	Create(ctx context.Context, record *NotificationRecord) error
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64, errorMsg string) error
	ListByAuthorization(ctx context.Context, authorizationID string) ([]*NotificationRecord, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
