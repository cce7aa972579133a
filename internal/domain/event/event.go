package event

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event
type Event struct {
	ID              string                 `json:"id"`
	Type            Type                   `json:"type"`
	AuthorizationID string                 `json:"authorization_id"`
	Payload         map[string]interface{} `json:"payload"`
	Timestamp       time.Time              `json:"timestamp"`
	CorrelationID   string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with auto-generated ID and timestamp
func NewEvent(eventType Type, authorizationID string, payload map[string]interface{}) *Event {
	return &Event{
		ID:              uuid.NewString(),
		Type:            eventType,
		AuthorizationID: authorizationID,
		Payload:         payload,
		Timestamp:       time.Now(),
		CorrelationID:   uuid.NewString(),
	}
}

// NewEventWithCorrelation creates an event linked to a correlation chain
func NewEventWithCorrelation(eventType Type, authorizationID string, payload map[string]interface{}, correlationID string) *Event {
	evt := NewEvent(eventType, authorizationID, payload)
	evt.CorrelationID = correlationID
	return evt
}

// At returns a copy of the event stamped with the given time
func (e *Event) At(t time.Time) *Event {
	cp := *e
	cp.Timestamp = t
	return &cp
}

// WithPayload returns a new Event with an added payload key-value pair (immutable operation)
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	cp := *e
	cp.Payload = newPayload
	return &cp
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case string:
			return v
		case interface{ String() string }:
			return v.String()
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

// GetPayloadFloat retrieves a float64 value from the payload
func (e *Event) GetPayloadFloat(key string) float64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		case int:
			return float64(v)
		}
	}
	return 0.0
}

// GetPayloadBool retrieves a bool value from the payload
func (e *Event) GetPayloadBool(key string) bool {
	if val, ok := e.Payload[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}
