package workflow

import (
	"context"

	"github.com/garyjia/prior-auth/internal/domain/entity"
	domainwf "github.com/garyjia/prior-auth/internal/domain/workflow"
)

// Guard names
const (
	GuardAllDocumentsProvided         = "allDocumentsProvided"
	GuardAllDocumentsValid            = "allDocumentsValid"
	GuardHasMissingDocuments          = "hasMissingDocuments"
	GuardMedicalReviewApproved        = "medicalReviewApproved"
	GuardMedicalReviewRejected        = "medicalReviewRejected"
	GuardMedicalReviewNeedsInfo       = "medicalReviewNeedsInfo"
	GuardAdministrativeReviewApproved = "administrativeReviewApproved"
	GuardAdministrativeReviewRejected = "administrativeReviewRejected"
	GuardEligibilityConfirmed         = "eligibilityConfirmed"
	GuardAutoApprovalGranted          = "autoApprovalGranted"
	GuardCanEscalate                  = "canEscalate"
	GuardHasExpired                   = "hasExpired"
	GuardHeldFromMedicalReview        = "heldFromMedicalReview"
	GuardHeldFromAdministrativeReview = "heldFromAdministrativeReview"
	GuardAppealAllowed                = "appealAllowed"
	GuardAppealApproved               = "appealApproved"
	GuardAppealDenied                 = "appealDenied"
)

type guard = domainwf.GuardFunc[*WorkflowContext]

// guards returns every named guard. Document guards read through pending validations.
func guards(maxEscalationLevel int) map[string]guard {
	return map[string]guard{
		GuardAllDocumentsProvided: func(_ context.Context, wc *WorkflowContext) bool {
			view := wc.View()
			return len(view.Documents) > 0 && view.AllRequiredDocumentsProvided()
		},
		GuardAllDocumentsValid: func(_ context.Context, wc *WorkflowContext) bool {
			view := wc.View()
			return len(view.Documents) > 0 && view.AllDocumentsValid()
		},
		GuardHasMissingDocuments: func(_ context.Context, wc *WorkflowContext) bool {
			view := wc.View()
			return len(view.ComputeMissingDocuments()) > 0 || !view.AllDocumentsValid()
		},
		GuardMedicalReviewApproved: func(_ context.Context, wc *WorkflowContext) bool {
			return wc.Request.MedicalReview.HasDecision(entity.ReviewDecisionApproved)
		},
		GuardMedicalReviewRejected: func(_ context.Context, wc *WorkflowContext) bool {
			return wc.Request.MedicalReview.HasDecision(entity.ReviewDecisionRejected)
		},
		GuardMedicalReviewNeedsInfo: func(_ context.Context, wc *WorkflowContext) bool {
			return wc.Request.MedicalReview.HasDecision(entity.ReviewDecisionNeedsInfo)
		},
		GuardAdministrativeReviewApproved: func(_ context.Context, wc *WorkflowContext) bool {
			return wc.Request.AdministrativeReview.HasDecision(entity.ReviewDecisionApproved)
		},
		GuardAdministrativeReviewRejected: func(_ context.Context, wc *WorkflowContext) bool {
			return wc.Request.AdministrativeReview.HasDecision(entity.ReviewDecisionRejected)
		},
		GuardEligibilityConfirmed: func(_ context.Context, wc *WorkflowContext) bool {
			return wc.Request.EligibilityConfirmed
		},
		GuardAutoApprovalGranted: func(_ context.Context, wc *WorkflowContext) bool {
			return wc.AutoApproval != nil && wc.AutoApproval.Approved
		},
		GuardCanEscalate: func(_ context.Context, wc *WorkflowContext) bool {
			return wc.Request.EscalationLevel < maxEscalationLevel
		},
		GuardHasExpired: func(_ context.Context, wc *WorkflowContext) bool {
			return wc.Request.IsExpired(wc.Now)
		},
		GuardHeldFromMedicalReview: func(_ context.Context, wc *WorkflowContext) bool {
			return wc.Request.HeldFrom == domainwf.StateMedicalReview
		},
		GuardHeldFromAdministrativeReview: func(_ context.Context, wc *WorkflowContext) bool {
			return wc.Request.HeldFrom == domainwf.StateAdministrativeReview
		},
		GuardAppealAllowed: func(_ context.Context, wc *WorkflowContext) bool {
			return len(wc.Request.Appeals) == 0
		},
		GuardAppealApproved: func(_ context.Context, wc *WorkflowContext) bool {
			appeal, ok := wc.Request.LastAppeal()
			return ok && appeal.Status == entity.AppealStatusApproved
		},
		GuardAppealDenied: func(_ context.Context, wc *WorkflowContext) bool {
			appeal, ok := wc.Request.LastAppeal()
			return ok && appeal.Status == entity.AppealStatusDenied
		},
	}
}
