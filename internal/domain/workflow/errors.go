package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when no transition exists for the current state and action
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when every candidate transition has a failing guard
	ErrGuardFailed = errors.New("conditions not met")

	// ErrSideEffectFailed is returned when a side effect aborts a transition
	ErrSideEffectFailed = errors.New("side effect failed")

	// ErrUnknownReference is returned by Build when the table names an unregistered guard or side effect
	ErrUnknownReference = errors.New("unknown guard or side effect")
)
