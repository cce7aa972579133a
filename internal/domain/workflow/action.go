package workflow

// Action represents a request to move an authorization to another state
type Action string

const (
	ActionInitiate                     Action = "INITIATE"
	ActionSubmitDocuments              Action = "SUBMIT_DOCUMENTS"
	ActionRequestAdditionalInfo        Action = "REQUEST_ADDITIONAL_INFO"
	ActionCompleteMedicalReview        Action = "COMPLETE_MEDICAL_REVIEW"
	ActionCompleteAdministrativeReview Action = "COMPLETE_ADMINISTRATIVE_REVIEW"
	ActionApprove                      Action = "APPROVE"
	ActionReject                       Action = "REJECT"
	ActionPutOnHold                    Action = "PUT_ON_HOLD"
	ActionResume                       Action = "RESUME"
	ActionEscalate                     Action = "ESCALATE"
	ActionExpire                       Action = "EXPIRE"
	ActionCancel                       Action = "CANCEL"
	ActionAppeal                       Action = "APPEAL"
)

var validActions = map[Action]bool{
	ActionInitiate:                     true,
	ActionSubmitDocuments:              true,
	ActionRequestAdditionalInfo:        true,
	ActionCompleteMedicalReview:        true,
	ActionCompleteAdministrativeReview: true,
	ActionApprove:                      true,
	ActionReject:                       true,
	ActionPutOnHold:                    true,
	ActionResume:                       true,
	ActionEscalate:                     true,
	ActionExpire:                       true,
	ActionCancel:                       true,
	ActionAppeal:                       true,
}

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

// IsValid returns true if the action is known to the workflow
func (a Action) IsValid() bool {
	return validActions[a]
}
