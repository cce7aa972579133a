package entity

import "time"

// Review is the record of a medical or administrative review step
type Review struct {
	AssignedTo  string     `json:"assigned_to,omitempty"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	Decision    string     `json:"decision,omitempty"`
	ReviewerID  string     `json:"reviewer_id,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HasDecision returns true if the review completed with the given decision
func (r *Review) HasDecision(decision string) bool {
	return r != nil && r.Completed && r.Decision == decision
}

func (r *Review) clone() *Review {
	if r == nil {
		return nil
	}
	c := *r
	c.AssignedAt = cloneTime(r.AssignedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	return &c
}

// Appeal is a request to reconsider a rejection. Appeals are append-only.
type Appeal struct {
	ID          string     `json:"id"`
	Reason      string     `json:"reason"`
	SubmittedBy string     `json:"submitted_by"`
	SubmittedAt time.Time  `json:"submitted_at"`
	Status      string     `json:"status"`
	Outcome     string     `json:"outcome,omitempty"`
	ResolvedBy  string     `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// AuditEntry records one committed transition of an authorization
type AuditEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor"`
	Action    string                 `json:"action"`
	FromState string                 `json:"from_state"`
	ToState   string                 `json:"to_state"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
