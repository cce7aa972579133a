package workflow

import (
	"sync"
	"time"

	"github.com/garyjia/prior-auth/internal/application/rules"
	"github.com/garyjia/prior-auth/internal/domain/entity"
	domainwf "github.com/garyjia/prior-auth/internal/domain/workflow"
)

// WorkflowContext is everything guards and side effects see for one in-flight request
type WorkflowContext struct {
	Request  *entity.AuthorizationRequest
	Actor    string
	Metadata map[string]interface{}

	// Input is the metadata supplied with the action being executed
	Input map[string]interface{}

	// PendingValidation holds validation results not yet recorded on the documents.
	// Guards read through it; only the recordDocumentValidation side effect applies it.
	PendingValidation []entity.DocumentValidation

	// AutoApproval is the decision taken at start
	AutoApproval *rules.AutoApprovalDecision

	// Now is the orchestrator clock reading for the current transition
	Now time.Time
}

// SubjectID implements domainwf.Subject
func (wc *WorkflowContext) SubjectID() string {
	return wc.Request.ID
}

// CurrentState implements domainwf.Subject
func (wc *WorkflowContext) CurrentState() domainwf.State {
	return wc.Request.State
}

// Clone returns a copy safe to mutate during a transition
func (wc *WorkflowContext) Clone() *WorkflowContext {
	c := &WorkflowContext{
		Request:           wc.Request.Clone(),
		Actor:             wc.Actor,
		PendingValidation: append([]entity.DocumentValidation(nil), wc.PendingValidation...),
		AutoApproval:      wc.AutoApproval,
		Now:               wc.Now,
	}
	c.Metadata = copyMap(wc.Metadata)
	c.Input = copyMap(wc.Input)
	for i := range c.PendingValidation {
		c.PendingValidation[i].MissingFields = append([]string(nil), c.PendingValidation[i].MissingFields...)
	}
	return c
}

// View returns a copy of the request with pending validations applied
func (wc *WorkflowContext) View() *entity.AuthorizationRequest {
	if len(wc.PendingValidation) == 0 {
		return wc.Request
	}
	view := wc.Request.Clone()
	applyValidations(view, wc.PendingValidation)
	return view
}

// applyValidations records validation results on the matching documents and
// recomputes the missing document list
func applyValidations(req *entity.AuthorizationRequest, validations []entity.DocumentValidation) int {
	applied := 0
	for _, v := range validations {
		if doc, ok := req.Document(v.DocumentID); ok {
			v.Apply(doc)
			applied++
		}
	}
	req.MissingDocuments = req.ComputeMissingDocuments()
	return applied
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// tracked is the per-id slot in the active store; mu serializes every mutation of wc
type tracked struct {
	mu      sync.Mutex
	wc      *WorkflowContext
	removed bool
}
