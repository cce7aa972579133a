package workflow

import (
	"time"

	"github.com/garyjia/prior-auth/internal/domain/entity"
	domainwf "github.com/garyjia/prior-auth/internal/domain/workflow"
)

// Config holds orchestrator settings
type Config struct {
	// StepTimeouts is how long a request may stay in a step before its watchdog fires
	StepTimeouts map[domainwf.State]time.Duration

	// EscalationDeadlines is how long an assigned review may stay open, by urgency
	EscalationDeadlines map[entity.Urgency]time.Duration

	// AppealWindow is how long a rejected request stays open for an appeal
	AppealWindow time.Duration

	// RequestTTL sets expiresAt on requests that arrive without one
	RequestTTL time.Duration

	MaxActiveWorkflows   int
	MaxDocumentWorkers   int
	MaxEscalationLevel   int
	AutoProcessDocuments bool
}

// DefaultConfig returns the default orchestrator settings
func DefaultConfig() Config {
	return Config{
		StepTimeouts: map[domainwf.State]time.Duration{
			domainwf.StateInitiated:             24 * time.Hour,
			domainwf.StateDocumentCollection:    7 * 24 * time.Hour,
			domainwf.StatePendingAdditionalInfo: 14 * 24 * time.Hour,
			domainwf.StateMedicalReview:         72 * time.Hour,
			domainwf.StateAdministrativeReview:  48 * time.Hour,
			domainwf.StateOnHold:                30 * 24 * time.Hour,
		},
		EscalationDeadlines: map[entity.Urgency]time.Duration{
			entity.UrgencyEmergency: time.Hour,
			entity.UrgencyUrgent:    4 * time.Hour,
			entity.UrgencyHigh:      24 * time.Hour,
			entity.UrgencyMedium:    48 * time.Hour,
			entity.UrgencyLow:       72 * time.Hour,
		},
		AppealWindow:         30 * 24 * time.Hour,
		RequestTTL:           90 * 24 * time.Hour,
		MaxActiveWorkflows:   10000,
		MaxDocumentWorkers:   4,
		MaxEscalationLevel:   2,
		AutoProcessDocuments: true,
	}
}

// merge overlays the non-zero values of other, merging map entries key by key.
// AutoProcessDocuments is always taken from other. Negative durations and limits disable
// the matching watchdog or limit.
func (c Config) merge(other Config) Config {
	result := c
	result.StepTimeouts = make(map[domainwf.State]time.Duration, len(c.StepTimeouts))
	for k, v := range c.StepTimeouts {
		result.StepTimeouts[k] = v
	}
	for k, v := range other.StepTimeouts {
		result.StepTimeouts[k] = v
	}
	result.EscalationDeadlines = make(map[entity.Urgency]time.Duration, len(c.EscalationDeadlines))
	for k, v := range c.EscalationDeadlines {
		result.EscalationDeadlines[k] = v
	}
	for k, v := range other.EscalationDeadlines {
		result.EscalationDeadlines[k] = v
	}

	if other.AppealWindow != 0 {
		result.AppealWindow = other.AppealWindow
	}
	if other.RequestTTL != 0 {
		result.RequestTTL = other.RequestTTL
	}
	if other.MaxActiveWorkflows != 0 {
		result.MaxActiveWorkflows = other.MaxActiveWorkflows
	}
	if other.MaxDocumentWorkers > 0 {
		result.MaxDocumentWorkers = other.MaxDocumentWorkers
	}
	if other.MaxEscalationLevel > 0 {
		result.MaxEscalationLevel = other.MaxEscalationLevel
	}
	result.AutoProcessDocuments = other.AutoProcessDocuments
	return result
}

// escalationAfter falls back to the low-urgency deadline for unknown urgencies
func (c Config) escalationAfter(urgency entity.Urgency) time.Duration {
	if d, ok := c.EscalationDeadlines[urgency]; ok {
		return d
	}
	return c.EscalationDeadlines[entity.UrgencyLow]
}
