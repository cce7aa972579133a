package workflow

import "errors"

var (
	// ErrWorkflowNotFound is returned when no workflow is tracked for an authorization
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowExists is returned when starting a workflow for an id already tracked
	ErrWorkflowExists = errors.New("workflow already exists")

	// ErrInvalidRequest is returned when a request or action input fails validation
	ErrInvalidRequest = errors.New("invalid request")

	// ErrCapacityExceeded is returned when the admission limit is reached
	ErrCapacityExceeded = errors.New("too many active workflows")

	// ErrStepMismatch is returned when an operation is not allowed in the current step
	ErrStepMismatch = errors.New("operation not allowed in current step")

	// ErrNoDocumentValidator marks documents that could not be checked
	ErrNoDocumentValidator = errors.New("no document validator configured")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("orchestrator is closed")
)
