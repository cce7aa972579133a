package port

import (
	"context"

	"github.com/garyjia/prior-auth/internal/domain/entity"
	"github.com/garyjia/prior-auth/internal/domain/event"
	"github.com/garyjia/prior-auth/internal/domain/workflow"
)

// OCRResult is the text extracted from a document
type OCRResult struct {
	Text      string
	PageCount int
}

// TextExtractor extracts text from stored documents
type TextExtractor interface {
	ExtractText(ctx context.Context, doc entity.Document) (*OCRResult, error)
}

// ValidationResult is a document validator's verdict
type ValidationResult struct {
	IsValid       bool
	Notes         string
	MissingFields []string
}

// DocumentValidator checks a document against its extracted text
type DocumentValidator interface {
	ValidateDocument(ctx context.Context, doc entity.Document, ocr *OCRResult) (*ValidationResult, error)
}

// EligibilityResult represents an ERP eligibility answer
type EligibilityResult struct {
	Eligible bool
	PlanID   string
	Reason   string
}

// CoverageResult represents an ERP coverage answer
type CoverageResult struct {
	Covered        bool
	CoverageAmount float64
	CoPayment      float64
}

// ERPClient defines the operations the workflow needs from the hospital ERP
type ERPClient interface {
	CheckEligibility(ctx context.Context, patientID, procedureCode string) (*EligibilityResult, error)
	CoverageVerification(ctx context.Context, patientID, procedureCode string, estimatedCost float64) (*CoverageResult, error)
	SubmitAuthorization(ctx context.Context, req *entity.AuthorizationRequest) error
	SyncAuthorizationStatus(ctx context.Context, authorizationID string, state workflow.State) error
}

// Notification is a message addressed to a person or a role
type Notification struct {
	AuthorizationID string
	Recipient       string
	Template        string
	Title           string
	Message         string
	Data            map[string]interface{}
}

// Notifier delivers notifications
type Notifier interface {
	SendNotification(ctx context.Context, n Notification) error
}

// AuditRecorder persists workflow events and committed transitions
type AuditRecorder interface {
	RecordEvent(ctx context.Context, evt *event.Event) error
	RecordStateTransition(ctx context.Context, authorizationID string, entry entity.AuditEntry) error
}

// Reviewer roles
const (
	ReviewerRoleMedical        = "medical"
	ReviewerRoleAdministrative = "administrative"
	ReviewerRoleSenior         = "senior"
)

// ReviewerDirectory picks the next reviewer for a role
type ReviewerDirectory interface {
	NextReviewer(ctx context.Context, role string) (string, error)
}

// DocumentStorage stores uploaded document files under relative paths
type DocumentStorage interface {
	Save(ctx context.Context, path string, content []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	FullPath(path string) string
}
