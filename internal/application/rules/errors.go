package rules

import "errors"

var (
	// ErrUnknownPath is returned when a condition names a path with no resolver
	ErrUnknownPath = errors.New("unknown condition path")

	// ErrUnsupportedOperator is returned when an operator is unknown or does not apply to the path's kind
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrInvalidValue is returned when a condition value cannot be coerced to the path's kind
	ErrInvalidValue = errors.New("invalid condition value")

	// ErrInvalidRule is returned when a rule definition is malformed
	ErrInvalidRule = errors.New("invalid rule")

	// ErrRuleExists is returned by AddRule for a duplicate id
	ErrRuleExists = errors.New("rule already exists")

	// ErrRuleNotFound is returned by UpdateRule for an unknown id
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleFailed is returned when an eligibility rule does not pass during validation
	ErrRuleFailed = errors.New("rule not satisfied")
)
