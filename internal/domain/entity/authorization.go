package entity

import (
	"sort"
	"time"

	"github.com/garyjia/prior-auth/internal/domain/workflow"
)

// AuthorizationRequest is a prior-authorization request moving through review
type AuthorizationRequest struct {
	ID                string         `json:"id"`
	PatientID         string         `json:"patient_id" validate:"required"`
	ProviderID        string         `json:"provider_id" validate:"required"`
	ProcedureID       string         `json:"procedure_id" validate:"required"`
	ProcedureCode     string         `json:"procedure_code"`
	ProcedureCategory string         `json:"procedure_category,omitempty"`
	Justification     string         `json:"justification" validate:"required"`
	State             workflow.State `json:"state"`
	Urgency           Urgency        `json:"urgency" validate:"required,oneof=low medium high urgent emergency"`
	EstimatedCost     float64        `json:"estimated_cost" validate:"gt=0"`
	Documents         []Document     `json:"documents" validate:"dive"`
	RequiredDocuments []string       `json:"required_documents"`
	MissingDocuments  []string       `json:"missing_documents"`

	MedicalReview        *Review      `json:"medical_review,omitempty"`
	AdministrativeReview *Review      `json:"administrative_review,omitempty"`
	Appeals              []Appeal     `json:"appeals"`
	AuditTrail           []AuditEntry `json:"audit_trail"`

	EscalationLevel      int            `json:"escalation_level"`
	HeldFrom             workflow.State `json:"held_from,omitempty"`
	HoldReason           string         `json:"hold_reason,omitempty"`
	EligibilityConfirmed bool           `json:"eligibility_confirmed"`
	CoverageAmount       float64        `json:"coverage_amount"`
	Revision             int64          `json:"revision"`

	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SubjectID implements workflow.Subject
func (r *AuthorizationRequest) SubjectID() string {
	return r.ID
}

// CurrentState implements workflow.Subject
func (r *AuthorizationRequest) CurrentState() workflow.State {
	return r.State
}

// Clone returns a deep copy of the request
func (r *AuthorizationRequest) Clone() *AuthorizationRequest {
	if r == nil {
		return nil
	}

	c := *r
	c.Documents = make([]Document, len(r.Documents))
	for i, doc := range r.Documents {
		doc.MissingFields = append([]string(nil), doc.MissingFields...)
		doc.ValidatedAt = cloneTime(doc.ValidatedAt)
		c.Documents[i] = doc
	}
	c.RequiredDocuments = append([]string(nil), r.RequiredDocuments...)
	c.MissingDocuments = append([]string(nil), r.MissingDocuments...)
	c.MedicalReview = r.MedicalReview.clone()
	c.AdministrativeReview = r.AdministrativeReview.clone()

	c.Appeals = make([]Appeal, len(r.Appeals))
	for i, appeal := range r.Appeals {
		appeal.ResolvedAt = cloneTime(appeal.ResolvedAt)
		c.Appeals[i] = appeal
	}

	c.AuditTrail = make([]AuditEntry, len(r.AuditTrail))
	for i, entry := range r.AuditTrail {
		if entry.Details != nil {
			details := make(map[string]interface{}, len(entry.Details))
			for k, v := range entry.Details {
				details[k] = v
			}
			entry.Details = details
		}
		c.AuditTrail[i] = entry
	}

	c.ExpiresAt = cloneTime(r.ExpiresAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	return &c
}

// Document returns the document with the given id
func (r *AuthorizationRequest) Document(id string) (*Document, bool) {
	for i := range r.Documents {
		if r.Documents[i].ID == id {
			return &r.Documents[i], true
		}
	}
	return nil, false
}

// ProvidedDocumentTypes returns the set of document types attached to the request
func (r *AuthorizationRequest) ProvidedDocumentTypes() map[string]bool {
	types := make(map[string]bool, len(r.Documents))
	for _, doc := range r.Documents {
		types[doc.Type] = true
	}
	return types
}

// ValidDocumentTypes returns the set of document types with at least one valid document
func (r *AuthorizationRequest) ValidDocumentTypes() map[string]bool {
	types := make(map[string]bool, len(r.Documents))
	for _, doc := range r.Documents {
		if doc.IsValid {
			types[doc.Type] = true
		}
	}
	return types
}

// ValidDocumentCount returns the number of documents marked valid
func (r *AuthorizationRequest) ValidDocumentCount() int {
	count := 0
	for _, doc := range r.Documents {
		if doc.IsValid {
			count++
		}
	}
	return count
}

// AllRequiredDocumentsProvided returns true if every required type has a document attached
func (r *AuthorizationRequest) AllRequiredDocumentsProvided() bool {
	provided := r.ProvidedDocumentTypes()
	for _, required := range r.RequiredDocuments {
		if !provided[required] {
			return false
		}
	}
	return true
}

// AllDocumentsValid returns true if every attached document is marked valid
func (r *AuthorizationRequest) AllDocumentsValid() bool {
	for _, doc := range r.Documents {
		if !doc.IsValid {
			return false
		}
	}
	return true
}

// ComputeMissingDocuments returns the required types with no valid document, sorted
func (r *AuthorizationRequest) ComputeMissingDocuments() []string {
	valid := r.ValidDocumentTypes()
	missing := make([]string, 0)
	seen := make(map[string]bool)
	for _, required := range r.RequiredDocuments {
		if !valid[required] && !seen[required] {
			missing = append(missing, required)
			seen[required] = true
		}
	}
	sort.Strings(missing)
	return missing
}

// AddRequiredDocuments merges document types into the required set
func (r *AuthorizationRequest) AddRequiredDocuments(types ...string) {
	existing := make(map[string]bool, len(r.RequiredDocuments))
	for _, t := range r.RequiredDocuments {
		existing[t] = true
	}
	for _, t := range types {
		if t != "" && !existing[t] {
			r.RequiredDocuments = append(r.RequiredDocuments, t)
			existing[t] = true
		}
	}
}

// LastAppeal returns the most recent appeal
func (r *AuthorizationRequest) LastAppeal() (*Appeal, bool) {
	if len(r.Appeals) == 0 {
		return nil, false
	}
	return &r.Appeals[len(r.Appeals)-1], true
}

// IsExpired returns true if the request has an expiry at or before now
func (r *AuthorizationRequest) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}
