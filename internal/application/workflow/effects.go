package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/application/rules"
	"github.com/garyjia/prior-auth/internal/domain/entity"
	"github.com/garyjia/prior-auth/internal/domain/event"
	"github.com/garyjia/prior-auth/internal/domain/rule"
	domainwf "github.com/garyjia/prior-auth/internal/domain/workflow"
)

// Side effect names
const (
	EffectRecordDocumentValidation     = "recordDocumentValidation"
	EffectRequestDocuments             = "requestDocuments"
	EffectRequestAdditionalDocuments   = "requestAdditionalDocuments"
	EffectAssignMedicalReviewer        = "assignMedicalReviewer"
	EffectAssignAdministrativeReviewer = "assignAdministrativeReviewer"
	EffectEscalateToSeniorReviewer     = "escalateToSeniorReviewer"
	EffectRecordHoldOrigin             = "recordHoldOrigin"
	EffectCreateAppealRecord           = "createAppealRecord"
	EffectSyncWithTasy                 = "syncWithTasy"
	EffectSendApprovalNotification     = "sendApprovalNotification"
	EffectSendRejectionNotification    = "sendRejectionNotification"
	EffectSendCancellationNotification = "sendCancellationNotification"
	EffectSendExpirationNotification   = "sendExpirationNotification"
)

// Notification templates
const (
	TemplateDocumentRequest  = "document_request"
	TemplateAdditionalInfo   = "additional_info_request"
	TemplateReviewAssigned   = "review_assigned"
	TemplateReviewEscalated  = "review_escalated"
	TemplateApproved         = "authorization_approved"
	TemplateRejected         = "authorization_rejected"
	TemplateCanceled         = "authorization_canceled"
	TemplateExpired          = "authorization_expired"
	TemplateAutoApprovalRule = "auto_approval_rule"
	TemplateAppealSubmitted  = "appeal_submitted"
)

const recipientProviderTemplate = "provider:%s"

type sideEffect = domainwf.SideEffectFunc[*WorkflowContext]

// sideEffects returns every named side effect. They mutate only the context they are
// given, which is a clone until the transition commits.
func (o *orchestrator) sideEffects() map[string]sideEffect {
	return map[string]sideEffect{
		EffectRecordDocumentValidation:     o.recordDocumentValidation,
		EffectRequestDocuments:             o.requestDocuments,
		EffectRequestAdditionalDocuments:   o.requestAdditionalDocuments,
		EffectAssignMedicalReviewer:        o.assignReviewer(port.ReviewerRoleMedical),
		EffectAssignAdministrativeReviewer: o.assignReviewer(port.ReviewerRoleAdministrative),
		EffectEscalateToSeniorReviewer:     o.escalateToSeniorReviewer,
		EffectRecordHoldOrigin:             o.recordHoldOrigin,
		EffectCreateAppealRecord:           o.createAppealRecord,
		EffectSyncWithTasy:                 o.syncWithTasy,
		EffectSendApprovalNotification:     o.sendApprovalNotification,
		EffectSendRejectionNotification:    o.notify(TemplateRejected, "Authorization rejected"),
		EffectSendCancellationNotification: o.notify(TemplateCanceled, "Authorization canceled"),
		EffectSendExpirationNotification:   o.notify(TemplateExpired, "Authorization expired"),
	}
}

func providerRecipient(req *entity.AuthorizationRequest) string {
	return fmt.Sprintf(recipientProviderTemplate, req.ProviderID)
}

func notificationEvent(wc *WorkflowContext, recipient, template, title, message string, data map[string]interface{}) *event.Event {
	payload := map[string]interface{}{
		"authorizationId": wc.Request.ID,
		"recipient":       recipient,
		"template":        template,
		"title":           title,
		"message":         message,
	}
	if len(data) > 0 {
		payload["data"] = data
	}
	return event.NewEvent(event.TypeSendNotification, wc.Request.ID, payload).At(wc.Now)
}

// recordDocumentValidation writes pending validation results onto the documents
func (o *orchestrator) recordDocumentValidation(ctx context.Context, wc *WorkflowContext) ([]*event.Event, error) {
	applied := applyValidations(wc.Request, wc.PendingValidation)
	wc.PendingValidation = nil
	if applied > 0 {
		o.logger.Debug("Document validations recorded",
			zap.String("authorization_id", wc.Request.ID),
			zap.Int("documents", applied))
	}
	return nil, nil
}

func (o *orchestrator) requestDocuments(ctx context.Context, wc *WorkflowContext) ([]*event.Event, error) {
	req := wc.Request
	req.MissingDocuments = req.ComputeMissingDocuments()

	message := "Please upload the supporting documents for this authorization."
	if len(req.MissingDocuments) > 0 {
		message = fmt.Sprintf("Please upload: %s.", strings.Join(req.MissingDocuments, ", "))
	}
	return []*event.Event{
		notificationEvent(wc, providerRecipient(req), TemplateDocumentRequest, "Documents required", message,
			map[string]interface{}{"missingDocuments": append([]string(nil), req.MissingDocuments...)}),
	}, nil
}

func (o *orchestrator) requestAdditionalDocuments(ctx context.Context, wc *WorkflowContext) ([]*event.Event, error) {
	req := wc.Request
	req.MissingDocuments = req.ComputeMissingDocuments()

	invalid := make([]string, 0)
	notes := make(map[string]interface{})
	for _, doc := range req.Documents {
		if doc.IsValidated() && !doc.IsValid {
			invalid = append(invalid, doc.ID)
			notes[doc.ID] = doc.ValidationNotes
		}
	}

	parts := make([]string, 0, 2)
	if len(req.MissingDocuments) > 0 {
		parts = append(parts, "missing: "+strings.Join(req.MissingDocuments, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, fmt.Sprintf("%d document(s) failed validation", len(invalid)))
	}
	if reviewNotes := cast.ToString(wc.Input["notes"]); reviewNotes != "" {
		parts = append(parts, reviewNotes)
	}
	message := "Additional information is required."
	if len(parts) > 0 {
		message = "Additional information is required: " + strings.Join(parts, "; ") + "."
	}

	return []*event.Event{
		notificationEvent(wc, providerRecipient(req), TemplateAdditionalInfo, "Additional information required", message,
			map[string]interface{}{
				"missingDocuments": append([]string(nil), req.MissingDocuments...),
				"invalidDocuments": invalid,
				"validationNotes":  notes,
			}),
	}, nil
}

// pickReviewer asks the directory for the next reviewer; without one, work goes to the role queue
func (o *orchestrator) pickReviewer(ctx context.Context, role string) (string, error) {
	if o.reviewers == nil {
		return role + "-queue", nil
	}
	reviewer, err := o.reviewers.NextReviewer(ctx, role)
	if err != nil {
		return "", fmt.Errorf("failed to pick %s reviewer: %w", role, err)
	}
	return reviewer, nil
}

func assignmentEvents(wc *WorkflowContext, reviewer, role, template string) []*event.Event {
	req := wc.Request
	return []*event.Event{
		event.NewEvent(event.TypeAssignReviewer, req.ID, map[string]interface{}{
			"authorizationId": req.ID,
			"reviewerId":      reviewer,
			"role":            role,
			"urgency":         req.Urgency.String(),
			"escalationLevel": req.EscalationLevel,
		}).At(wc.Now),
		notificationEvent(wc, reviewer, template, "Review assigned",
			fmt.Sprintf("Authorization %s is waiting for your %s review.", req.ID, role),
			map[string]interface{}{"role": role, "urgency": req.Urgency.String()}),
	}
}

func (o *orchestrator) assignReviewer(role string) sideEffect {
	return func(ctx context.Context, wc *WorkflowContext) ([]*event.Event, error) {
		reviewer, err := o.pickReviewer(ctx, role)
		if err != nil {
			return nil, err
		}

		assignedAt := wc.Now
		review := &entity.Review{AssignedTo: reviewer, AssignedAt: &assignedAt}
		if role == port.ReviewerRoleMedical {
			wc.Request.MedicalReview = review
		} else {
			wc.Request.AdministrativeReview = review
		}
		return assignmentEvents(wc, reviewer, role, TemplateReviewAssigned), nil
	}
}

// escalateToSeniorReviewer hands the open review to a senior reviewer
func (o *orchestrator) escalateToSeniorReviewer(ctx context.Context, wc *WorkflowContext) ([]*event.Event, error) {
	req := wc.Request
	reviewer, err := o.pickReviewer(ctx, port.ReviewerRoleSenior)
	if err != nil {
		return nil, err
	}

	current := req.MedicalReview
	if req.State == domainwf.StateAdministrativeReview {
		current = req.AdministrativeReview
	}
	previous := ""
	if current != nil {
		previous = current.AssignedTo
	}

	assignedAt := wc.Now
	review := &entity.Review{AssignedTo: reviewer, AssignedAt: &assignedAt}
	if req.State == domainwf.StateAdministrativeReview {
		req.AdministrativeReview = review
	} else {
		req.MedicalReview = review
	}
	req.EscalationLevel++

	events := []*event.Event{
		event.NewEvent(event.TypeEscalateReview, req.ID, map[string]interface{}{
			"authorizationId":  req.ID,
			"reviewState":      req.State.String(),
			"previousReviewer": previous,
			"reviewerId":       reviewer,
			"escalationLevel":  req.EscalationLevel,
			"reason":           cast.ToString(wc.Input["reason"]),
		}).At(wc.Now),
	}
	return append(events, assignmentEvents(wc, reviewer, port.ReviewerRoleSenior, TemplateReviewEscalated)...), nil
}

func (o *orchestrator) recordHoldOrigin(ctx context.Context, wc *WorkflowContext) ([]*event.Event, error) {
	wc.Request.HeldFrom = wc.Request.State
	return nil, nil
}

func (o *orchestrator) createAppealRecord(ctx context.Context, wc *WorkflowContext) ([]*event.Event, error) {
	req := wc.Request
	reason := strings.TrimSpace(cast.ToString(wc.Input["reason"]))
	if reason == "" {
		return nil, fmt.Errorf("%w: appeal reason is required", ErrInvalidRequest)
	}

	appeal := entity.Appeal{
		ID:          uuid.NewString(),
		Reason:      reason,
		SubmittedBy: wc.Actor,
		SubmittedAt: wc.Now,
		Status:      entity.AppealStatusPending,
	}
	req.Appeals = append(req.Appeals, appeal)

	return []*event.Event{
		event.NewEvent(event.TypeCreateAppeal, req.ID, map[string]interface{}{
			"authorizationId": req.ID,
			"appealId":        appeal.ID,
			"reason":          appeal.Reason,
			"submittedBy":     appeal.SubmittedBy,
		}).At(wc.Now),
		notificationEvent(wc, port.ReviewerRoleSenior+"-queue", TemplateAppealSubmitted, "Appeal submitted",
			fmt.Sprintf("Authorization %s was appealed: %s", req.ID, appeal.Reason), nil),
	}, nil
}

// syncWithTasy pushes the status the request is moving to into the ERP
func (o *orchestrator) syncWithTasy(ctx context.Context, wc *WorkflowContext) ([]*event.Event, error) {
	status := wc.Request.State
	if selected, ok := domainwf.SelectedTransition(ctx); ok {
		status = selected.To
	}
	return []*event.Event{syncEvent(wc.Request.ID, status, wc.Now)}, nil
}

func syncEvent(id string, status domainwf.State, at time.Time) *event.Event {
	return event.NewEvent(event.TypeSyncWithExternalSystem, id, map[string]interface{}{
		"authorizationId": id,
		"system":          "tasy",
		"status":          status.String(),
	}).At(at)
}

// sendApprovalNotification tells the provider the approved coverage. Coverage fails open:
// without an ERP answer the estimated cost is reported.
func (o *orchestrator) sendApprovalNotification(ctx context.Context, wc *WorkflowContext) ([]*event.Event, error) {
	req := wc.Request
	if req.CoverageAmount <= 0 {
		req.CoverageAmount = req.EstimatedCost
		if o.checker != nil {
			req.CoverageAmount = o.checker.CoverageAmount(ctx, req)
		}
	}

	return []*event.Event{
		notificationEvent(wc, providerRecipient(req), TemplateApproved, "Authorization approved",
			fmt.Sprintf("Authorization %s for procedure %s was approved.", req.ID, req.ProcedureCode),
			map[string]interface{}{
				"coverageAmount": req.CoverageAmount,
				"patientId":      req.PatientID,
			}),
	}, nil
}

func (o *orchestrator) notify(template, title string) sideEffect {
	return func(ctx context.Context, wc *WorkflowContext) ([]*event.Event, error) {
		req := wc.Request
		message := fmt.Sprintf("%s: %s.", title, req.ID)
		if reason := cast.ToString(wc.Input["reason"]); reason != "" {
			message = fmt.Sprintf("%s: %s (%s).", title, req.ID, reason)
		}
		return []*event.Event{
			notificationEvent(wc, providerRecipient(req), template, title, message,
				map[string]interface{}{"patientId": req.PatientID}),
		}, nil
	}
}

// ruleActionEvents turns the actions of the auto-approval rule into events
func (o *orchestrator) ruleActionEvents(wc *WorkflowContext, decision *rules.AutoApprovalDecision) []*event.Event {
	req := wc.Request
	events := make([]*event.Event, 0, len(decision.Actions))
	for _, action := range decision.Actions {
		switch action.Type {
		case rule.ActionSendNotification:
			recipient := cast.ToString(action.Params["recipient"])
			if recipient == "" {
				recipient = providerRecipient(req)
			}
			events = append(events, notificationEvent(wc, recipient, TemplateAutoApprovalRule,
				cast.ToString(action.Params["title"]), cast.ToString(action.Params["message"]),
				map[string]interface{}{"ruleId": decision.RuleID, "params": action.Params}))
		case rule.ActionSyncWithExternalSystem:
			evt := syncEvent(req.ID, req.State, wc.Now)
			if system := cast.ToString(action.Params["system"]); system != "" {
				evt.Payload["system"] = system
			}
			evt.Payload["ruleId"] = decision.RuleID
			events = append(events, evt)
		default:
			o.logger.Debug("Auto-approval rule action recorded",
				zap.String("authorization_id", req.ID),
				zap.String("rule_id", decision.RuleID),
				zap.String("action", action.Type))
		}
	}
	return events
}
