package entity

// Urgency grades how fast an authorization must be decided
type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyMedium    Urgency = "medium"
	UrgencyHigh      Urgency = "high"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

// IsRoutine returns true for the urgencies eligible for auto-approval
func (u Urgency) IsRoutine() bool {
	return u == UrgencyLow || u == UrgencyMedium
}

// IsValid returns true if the urgency is known
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyUrgent, UrgencyEmergency:
		return true
	}
	return false
}

// String returns the string representation of the urgency
func (u Urgency) String() string {
	return string(u)
}

// Review decision constants
const (
	ReviewDecisionApproved  = "APPROVED"
	ReviewDecisionRejected  = "REJECTED"
	ReviewDecisionNeedsInfo = "NEEDS_INFO"
)

// Appeal status constants
const (
	AppealStatusPending  = "PENDING"
	AppealStatusApproved = "APPROVED"
	AppealStatusDenied   = "DENIED"
)

// Document type constants
const (
	DocumentTypeMedicalReport   = "medical_report"
	DocumentTypePrescription    = "prescription"
	DocumentTypeLabResults      = "lab_results"
	DocumentTypeImaging         = "imaging"
	DocumentTypeInsuranceCard   = "insurance_card"
	DocumentTypeReferral        = "referral"
	DocumentTypeClinicalSummary = "clinical_summary"
	DocumentTypeConsentForm     = "consent_form"
)
