package workflow

import (
	domainwf "github.com/garyjia/prior-auth/internal/domain/workflow"
)

// BuildAuthorizationStateMachine creates a state machine configured for prior authorizations.
// Candidates for the same action are listed most specific first.
func BuildAuthorizationStateMachine(effects map[string]domainwf.SideEffectFunc[*WorkflowContext], maxEscalationLevel int, opts ...domainwf.MachineOption) (domainwf.StateMachine[*WorkflowContext], error) {
	builder := domainwf.NewBuilder[*WorkflowContext]()
	for name, fn := range guards(maxEscalationLevel) {
		builder.Guard(name, fn)
	}
	for name, fn := range effects {
		builder.SideEffect(name, fn)
	}

	documentsReady := []string{GuardAllDocumentsProvided, GuardAllDocumentsValid}

	// INITIATED state transitions
	builder.Configure(domainwf.StateInitiated).
		PermitIf(domainwf.ActionApprove, domainwf.StateApproved, []string{GuardAutoApprovalGranted},
			EffectRecordDocumentValidation, EffectSendApprovalNotification, EffectSyncWithTasy).
		Permit(domainwf.ActionInitiate, domainwf.StateDocumentCollection,
			EffectRecordDocumentValidation, EffectRequestDocuments).
		Permit(domainwf.ActionCancel, domainwf.StateCanceled, EffectSendCancellationNotification)

	// DOCUMENT_COLLECTION state transitions
	builder.Configure(domainwf.StateDocumentCollection).
		PermitIf(domainwf.ActionSubmitDocuments, domainwf.StateMedicalReview, documentsReady,
			EffectRecordDocumentValidation, EffectAssignMedicalReviewer).
		Permit(domainwf.ActionRequestAdditionalInfo, domainwf.StatePendingAdditionalInfo,
			EffectRecordDocumentValidation, EffectRequestAdditionalDocuments).
		Permit(domainwf.ActionPutOnHold, domainwf.StateOnHold, EffectRecordHoldOrigin).
		Permit(domainwf.ActionExpire, domainwf.StateExpired, EffectSendExpirationNotification).
		Permit(domainwf.ActionCancel, domainwf.StateCanceled, EffectSendCancellationNotification)

	// PENDING_ADDITIONAL_INFO state transitions
	builder.Configure(domainwf.StatePendingAdditionalInfo).
		PermitIf(domainwf.ActionSubmitDocuments, domainwf.StateMedicalReview, documentsReady,
			EffectRecordDocumentValidation, EffectAssignMedicalReviewer).
		Permit(domainwf.ActionRequestAdditionalInfo, domainwf.StatePendingAdditionalInfo,
			EffectRecordDocumentValidation, EffectRequestAdditionalDocuments).
		Permit(domainwf.ActionExpire, domainwf.StateExpired, EffectSendExpirationNotification).
		Permit(domainwf.ActionCancel, domainwf.StateCanceled, EffectSendCancellationNotification)

	// MEDICAL_REVIEW state transitions
	builder.Configure(domainwf.StateMedicalReview).
		PermitIf(domainwf.ActionCompleteMedicalReview, domainwf.StateAdministrativeReview, []string{GuardMedicalReviewApproved},
			EffectAssignAdministrativeReviewer).
		PermitIf(domainwf.ActionCompleteMedicalReview, domainwf.StateRejected, []string{GuardMedicalReviewRejected},
			EffectSendRejectionNotification, EffectSyncWithTasy).
		PermitIf(domainwf.ActionCompleteMedicalReview, domainwf.StatePendingAdditionalInfo, []string{GuardMedicalReviewNeedsInfo},
			EffectRequestAdditionalDocuments).
		Permit(domainwf.ActionRequestAdditionalInfo, domainwf.StatePendingAdditionalInfo, EffectRequestAdditionalDocuments).
		PermitIf(domainwf.ActionEscalate, domainwf.StateMedicalReview, []string{GuardCanEscalate}, EffectEscalateToSeniorReviewer).
		Permit(domainwf.ActionReject, domainwf.StateRejected, EffectSendRejectionNotification, EffectSyncWithTasy).
		Permit(domainwf.ActionPutOnHold, domainwf.StateOnHold, EffectRecordHoldOrigin).
		PermitIf(domainwf.ActionExpire, domainwf.StateExpired, []string{GuardHasExpired}, EffectSendExpirationNotification).
		Permit(domainwf.ActionCancel, domainwf.StateCanceled, EffectSendCancellationNotification)

	// ADMINISTRATIVE_REVIEW state transitions
	builder.Configure(domainwf.StateAdministrativeReview).
		PermitIf(domainwf.ActionCompleteAdministrativeReview, domainwf.StateApproved,
			[]string{GuardAdministrativeReviewApproved, GuardEligibilityConfirmed},
			EffectSendApprovalNotification, EffectSyncWithTasy).
		PermitIf(domainwf.ActionCompleteAdministrativeReview, domainwf.StateRejected, []string{GuardAdministrativeReviewRejected},
			EffectSendRejectionNotification, EffectSyncWithTasy).
		PermitIf(domainwf.ActionEscalate, domainwf.StateAdministrativeReview, []string{GuardCanEscalate}, EffectEscalateToSeniorReviewer).
		Permit(domainwf.ActionReject, domainwf.StateRejected, EffectSendRejectionNotification, EffectSyncWithTasy).
		Permit(domainwf.ActionPutOnHold, domainwf.StateOnHold, EffectRecordHoldOrigin).
		PermitIf(domainwf.ActionExpire, domainwf.StateExpired, []string{GuardHasExpired}, EffectSendExpirationNotification).
		Permit(domainwf.ActionCancel, domainwf.StateCanceled, EffectSendCancellationNotification)

	// ON_HOLD state transitions
	builder.Configure(domainwf.StateOnHold).
		PermitIf(domainwf.ActionResume, domainwf.StateMedicalReview, []string{GuardHeldFromMedicalReview}, EffectAssignMedicalReviewer).
		PermitIf(domainwf.ActionResume, domainwf.StateAdministrativeReview, []string{GuardHeldFromAdministrativeReview},
			EffectAssignAdministrativeReviewer).
		Permit(domainwf.ActionResume, domainwf.StateDocumentCollection, EffectRequestDocuments).
		Permit(domainwf.ActionExpire, domainwf.StateExpired, EffectSendExpirationNotification).
		Permit(domainwf.ActionCancel, domainwf.StateCanceled, EffectSendCancellationNotification)

	// REJECTED state transitions
	builder.Configure(domainwf.StateRejected).
		PermitIf(domainwf.ActionAppeal, domainwf.StateAppealed, []string{GuardAppealAllowed}, EffectCreateAppealRecord)

	// APPEALED state transitions
	builder.Configure(domainwf.StateAppealed).
		PermitIf(domainwf.ActionApprove, domainwf.StateApproved, []string{GuardAppealApproved},
			EffectSendApprovalNotification, EffectSyncWithTasy).
		PermitIf(domainwf.ActionReject, domainwf.StateRejected, []string{GuardAppealDenied},
			EffectSendRejectionNotification, EffectSyncWithTasy)

	return builder.Build(opts...)
}
