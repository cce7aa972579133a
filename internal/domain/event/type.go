package event

// Type identifies the type of domain event
type Type string

const (
	TypeWorkflowStarted        Type = "workflowStarted"
	TypeWorkflowCompleted      Type = "workflowCompleted"
	TypeStateTransition        Type = "stateTransition"
	TypeAssignReviewer         Type = "assignReviewer"
	TypeSendNotification       Type = "sendNotification"
	TypeSyncWithExternalSystem Type = "syncWithExternalSystem"
	TypeCreateAppeal           Type = "createAppeal"
	TypeEscalateReview         Type = "escalateReview"
	TypeTimeoutOccurred        Type = "timeoutOccurred"
)

// AllTypes lists every event type the engine emits, in a stable order
var AllTypes = []Type{
	TypeWorkflowStarted,
	TypeWorkflowCompleted,
	TypeStateTransition,
	TypeAssignReviewer,
	TypeSendNotification,
	TypeSyncWithExternalSystem,
	TypeCreateAppeal,
	TypeEscalateReview,
	TypeTimeoutOccurred,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}
