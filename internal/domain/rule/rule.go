package rule

import (
	"strings"
	"time"
)

// Type categorizes a business rule
type Type string

const (
	TypeEligibility           Type = "eligibility"
	TypeCoverage              Type = "coverage"
	TypeMedicalNecessity      Type = "medical_necessity"
	TypeAuthorizationRequired Type = "authorization_required"
	TypeAutoApproval          Type = "auto_approval"
)

var validTypes = map[Type]bool{
	TypeEligibility:           true,
	TypeCoverage:              true,
	TypeMedicalNecessity:      true,
	TypeAuthorizationRequired: true,
	TypeAutoApproval:          true,
}

// IsValid returns true if the rule type is known
func (t Type) IsValid() bool {
	return validTypes[t]
}

// Operator compares a resolved value against a rule value
type Operator string

const (
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpIn             Operator = "in"
	OpNotIn          Operator = "not_in"
	OpContains       Operator = "contains"
	OpRegex          Operator = "regex"
)

var validOperators = map[Operator]bool{
	OpEqual:          true,
	OpNotEqual:       true,
	OpGreater:        true,
	OpGreaterOrEqual: true,
	OpLess:           true,
	OpLessOrEqual:    true,
	OpIn:             true,
	OpNotIn:          true,
	OpContains:       true,
	OpRegex:          true,
}

// IsValid returns true if the operator is known
func (o Operator) IsValid() bool {
	return validOperators[o]
}

// Action names carried by rules
const (
	ActionRequireDocuments       = "requireDocuments"
	ActionSetDecision            = "setDecision"
	ActionSendNotification       = "sendNotification"
	ActionSyncWithExternalSystem = "syncWithExternalSystem"
	ActionFlagForReview          = "flagForReview"
)

// Condition is one comparison of a context path against a value
type Condition struct {
	Path     string      `json:"path" mapstructure:"path"`
	Operator Operator    `json:"operator" mapstructure:"operator"`
	Value    interface{} `json:"value" mapstructure:"value"`
}

// Action is a named outcome attached to a rule
type Action struct {
	Type   string                 `json:"type" mapstructure:"type"`
	Params map[string]interface{} `json:"params,omitempty" mapstructure:"params"`
}

// Rule is a configurable business rule. A rule passes iff all its conditions pass.
type Rule struct {
	ID                string      `json:"id" mapstructure:"id"`
	Name              string      `json:"name" mapstructure:"name"`
	Type              Type        `json:"type" mapstructure:"type"`
	ProcedureCategory string      `json:"procedure_category,omitempty" mapstructure:"procedure_category"`
	ProcedureCodes    []string    `json:"procedure_codes,omitempty" mapstructure:"procedure_codes"`
	Conditions        []Condition `json:"conditions" mapstructure:"conditions"`
	Actions           []Action    `json:"actions,omitempty" mapstructure:"actions"`
	Priority          int         `json:"priority" mapstructure:"priority"`
	EffectiveFrom     *time.Time  `json:"effective_from,omitempty" mapstructure:"effective_from"`
	EffectiveTo       *time.Time  `json:"effective_to,omitempty" mapstructure:"effective_to"`
	Active            bool        `json:"active" mapstructure:"active"`
}

// AppliesTo returns true if the rule scope matches the procedure.
// An empty category or code list matches every procedure.
func (r *Rule) AppliesTo(category, code string) bool {
	if r.ProcedureCategory != "" && !strings.EqualFold(r.ProcedureCategory, category) {
		return false
	}
	if len(r.ProcedureCodes) == 0 {
		return true
	}
	for _, c := range r.ProcedureCodes {
		if c == code {
			return true
		}
	}
	return false
}

// IsEffective returns true if the rule is active and now lies in its effective window
func (r *Rule) IsEffective(now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.EffectiveFrom != nil && now.Before(*r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && !now.Before(*r.EffectiveTo) {
		return false
	}
	return true
}

// ActionsOfType returns the rule's actions with the given type
func (r *Rule) ActionsOfType(actionType string) []Action {
	var actions []Action
	for _, a := range r.Actions {
		if a.Type == actionType {
			actions = append(actions, a)
		}
	}
	return actions
}

// Clone returns a deep copy of the rule
func (r Rule) Clone() Rule {
	c := r
	c.ProcedureCodes = append([]string(nil), r.ProcedureCodes...)
	c.Conditions = append([]Condition(nil), r.Conditions...)
	c.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		if a.Params != nil {
			params := make(map[string]interface{}, len(a.Params))
			for k, v := range a.Params {
				params[k] = v
			}
			a.Params = params
		}
		c.Actions[i] = a
	}
	if r.EffectiveFrom != nil {
		from := *r.EffectiveFrom
		c.EffectiveFrom = &from
	}
	if r.EffectiveTo != nil {
		to := *r.EffectiveTo
		c.EffectiveTo = &to
	}
	return c
}
