package workflow

// State represents a step in the authorization lifecycle
type State string

const (
	StateInitiated             State = "INITIATED"
	StateDocumentCollection    State = "DOCUMENT_COLLECTION"
	StateMedicalReview         State = "MEDICAL_REVIEW"
	StateAdministrativeReview  State = "ADMINISTRATIVE_REVIEW"
	StateOnHold                State = "ON_HOLD"
	StatePendingAdditionalInfo State = "PENDING_ADDITIONAL_INFO"
	StateApproved              State = "APPROVED"
	StateRejected              State = "REJECTED"
	StateAppealed              State = "APPEALED"
	StateExpired               State = "EXPIRED"
	StateCanceled              State = "CANCELED"
)

var validStates = map[State]bool{
	StateInitiated:             true,
	StateDocumentCollection:    true,
	StateMedicalReview:         true,
	StateAdministrativeReview:  true,
	StateOnHold:                true,
	StatePendingAdditionalInfo: true,
	StateApproved:              true,
	StateRejected:              true,
	StateAppealed:              true,
	StateExpired:               true,
	StateCanceled:              true,
}

// REJECTED is terminal except for a single APPEAL, which the transition table
// expresses with the appealAllowed guard.
var terminalStates = map[State]bool{
	StateApproved: true,
	StateRejected: true,
	StateExpired:  true,
	StateCanceled: true,
}

// IsTerminal returns true if the state ends the workflow
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsReview returns true for the states that have an assigned reviewer
func (s State) IsReview() bool {
	return s == StateMedicalReview || s == StateAdministrativeReview
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	return validStates[s]
}
