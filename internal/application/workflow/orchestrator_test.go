package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/prior-auth/internal/domain/entity"
	"github.com/garyjia/prior-auth/internal/domain/event"
	domainwf "github.com/garyjia/prior-auth/internal/domain/workflow"
)

func TestStartWorkflow_AutoApprovesRoutineRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started, err := f.orch.StartWorkflow(ctx,
		newRequest(300, entity.UrgencyLow, document(entity.DocumentTypeMedicalReport, "report.pdf")), "provider-1")
	require.NoError(t, err)

	assert.Equal(t, domainwf.StateApproved, started.State)
	require.Len(t, started.AuditTrail, 1)
	assert.Equal(t, "INITIATED", started.AuditTrail[0].FromState)
	assert.Equal(t, "APPROVED", started.AuditTrail[0].ToState)
	assert.True(t, started.Documents[0].IsValid)
	assert.True(t, started.EligibilityConfirmed)
	assert.Equal(t, 250.0, started.CoverageAmount)
	assert.NotNil(t, started.CompletedAt)

	for _, entry := range started.AuditTrail {
		assert.NotEqual(t, "MEDICAL_REVIEW", entry.ToState)
	}

	assert.False(t, f.tracked(started.ID))
	assert.True(t, f.repo.isCompleted(started.ID))
	assert.Empty(t, f.deadlines.keys(started.ID))

	require.Len(t, f.events.ofType(event.TypeWorkflowStarted), 1)
	require.Len(t, f.events.ofType(event.TypeWorkflowCompleted), 1)
	assert.Equal(t, "APPROVED", f.events.ofType(event.TypeWorkflowCompleted)[0].GetPayloadString("finalState"))

	// Status sync from the transition plus the rule's own sync action
	assert.Len(t, f.events.ofType(event.TypeSyncWithExternalSystem), 2)

	metrics := f.orch.GetPerformanceMetrics()
	assert.Equal(t, int64(1), metrics.AutoApproved)
	assert.Equal(t, int64(1), metrics.TotalRequests)
	assert.Equal(t, 1.0, metrics.ApprovalRate)
	assert.Equal(t, 0, metrics.ActiveWorkflows)

	status := f.status(t, started.ID)
	assert.False(t, status.Active)
	assert.Equal(t, domainwf.StateApproved, status.Request.State)
}

func TestStartWorkflow_NotAutoApproved(t *testing.T) {
	tests := []struct {
		name     string
		req      *entity.AuthorizationRequest
		eligible bool
	}{
		{"cost over threshold", newRequest(900, entity.UrgencyLow, document(entity.DocumentTypeMedicalReport, "report.pdf")), true},
		{"urgent", newRequest(300, entity.UrgencyHigh, document(entity.DocumentTypeMedicalReport, "report.pdf")), true},
		{"missing documents", newRequest(300, entity.UrgencyLow), true},
		{"invalid document", newRequest(300, entity.UrgencyLow, document(entity.DocumentTypeMedicalReport, "report-invalid.pdf")), true},
		{"not eligible", newRequest(300, entity.UrgencyLow, document(entity.DocumentTypeMedicalReport, "report.pdf")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.checker.setEligible(tt.eligible)

			started, err := f.orch.StartWorkflow(context.Background(), tt.req, "provider-1")
			require.NoError(t, err)

			assert.Equal(t, domainwf.StateDocumentCollection, started.State)
			assert.True(t, f.tracked(started.ID))
			assert.Equal(t, []string{entity.DocumentTypeMedicalReport}, started.RequiredDocuments)

			status := f.status(t, started.ID)
			require.NotNil(t, status.AutoApproval)
			assert.False(t, status.AutoApproval.Approved)
			assert.NotEmpty(t, status.AutoApproval.Reasons)
			assert.Equal(t, []string{stepKey(domainwf.StateDocumentCollection)}, f.deadlines.keys(started.ID))
		})
	}
}

func TestStartWorkflow_RequestsMissingDocuments(t *testing.T) {
	f := newFixture(t)

	started, err := f.orch.StartWorkflow(context.Background(), newRequest(900, entity.UrgencyMedium), "provider-1")
	require.NoError(t, err)

	assert.Equal(t, []string{entity.DocumentTypeMedicalReport}, started.MissingDocuments)
	require.NotNil(t, started.ExpiresAt)
	assert.True(t, started.ExpiresAt.Equal(testStart.Add(f.orch.config.RequestTTL)))

	notifications := f.events.ofType(event.TypeSendNotification)
	require.Len(t, notifications, 1)
	assert.Equal(t, TemplateDocumentRequest, notifications[0].GetPayloadString("template"))
	assert.Equal(t, "provider:provider-1", notifications[0].GetPayloadString("recipient"))

	deadlines := f.status(t, started.ID).Deadlines
	require.Len(t, deadlines, 1)
	assert.Equal(t, domainwf.ActionExpire, deadlines[0].Action)
	assert.True(t, deadlines[0].DueAt.Equal(testStart.Add(7*24*time.Hour)))
}

func TestStartWorkflow_ValidationAggregatesFailures(t *testing.T) {
	f := newFixture(t)

	req := newRequest(-5, entity.UrgencyLow)
	req.PatientID = ""
	req.Justification = ""

	_, err := f.orch.StartWorkflow(context.Background(), req, "provider-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.Contains(t, err.Error(), "PatientID")
	assert.Contains(t, err.Error(), "Justification")
	assert.Contains(t, err.Error(), "EstimatedCost")

	assert.Equal(t, int64(0), f.orch.GetPerformanceMetrics().StartedRequests)
	assert.Zero(t, f.events.count())
}

func TestStartWorkflow_EligibilityRuleFailure(t *testing.T) {
	f := newFixture(t)

	req := newRequest(900, entity.UrgencyLow)
	req.PatientID = "blocked"

	_, err := f.orch.StartWorkflow(context.Background(), req, "provider-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.Contains(t, err.Error(), "Patient is not blocked")
}

func TestStartWorkflow_AdmissionControl(t *testing.T) {
	f := newFixture(t, withConfig(func(c *Config) { c.MaxActiveWorkflows = 1 }))
	ctx := context.Background()

	req := newRequest(900, entity.UrgencyLow)
	req.ID = "auth-1"
	_, err := f.orch.StartWorkflow(ctx, req, "provider-1")
	require.NoError(t, err)

	_, err = f.orch.StartWorkflow(ctx, req, "provider-1")
	assert.True(t, errors.Is(err, ErrWorkflowExists))

	other := newRequest(900, entity.UrgencyLow)
	_, err = f.orch.StartWorkflow(ctx, other, "provider-1")
	assert.True(t, errors.Is(err, ErrCapacityExceeded))

	_, err = f.orch.ExecuteAction(ctx, "auth-1", domainwf.ActionCancel, "provider-1", nil)
	require.NoError(t, err)

	_, err = f.orch.StartWorkflow(ctx, other, "provider-1")
	assert.NoError(t, err)
}

func TestExecuteAction_UnknownWorkflow(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.ExecuteAction(context.Background(), "missing", domainwf.ActionCancel, "user", nil)
	assert.True(t, errors.Is(err, ErrWorkflowNotFound))
}

func TestExecuteAction_UndeclaredActionLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started, err := f.orch.StartWorkflow(ctx, newRequest(900, entity.UrgencyLow), "provider-1")
	require.NoError(t, err)

	all := []domainwf.Action{
		domainwf.ActionInitiate, domainwf.ActionSubmitDocuments, domainwf.ActionRequestAdditionalInfo,
		domainwf.ActionCompleteMedicalReview, domainwf.ActionCompleteAdministrativeReview,
		domainwf.ActionApprove, domainwf.ActionReject, domainwf.ActionPutOnHold, domainwf.ActionResume,
		domainwf.ActionEscalate, domainwf.ActionExpire, domainwf.ActionCancel, domainwf.ActionAppeal,
	}
	for _, action := range all {
		if f.orch.machine.CanFire(domainwf.StateDocumentCollection, action) {
			continue
		}
		_, err := f.orch.ExecuteAction(ctx, started.ID, action, "user", nil)
		require.Error(t, err, action)
		assert.True(t, errors.Is(err, domainwf.ErrInvalidTransition), action)

		status := f.status(t, started.ID)
		assert.Equal(t, domainwf.StateDocumentCollection, status.Request.State)
		assert.Len(t, status.Request.AuditTrail, 1)
	}
}

func TestExecuteAction_GuardFailureIsRepeatableAndSideEffectFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started, err := f.orch.StartWorkflow(ctx, newRequest(900, entity.UrgencyLow), "provider-1")
	require.NoError(t, err)
	before := f.events.count()

	_, first := f.orch.ExecuteAction(ctx, started.ID, domainwf.ActionSubmitDocuments, "provider-1", nil)
	_, second := f.orch.ExecuteAction(ctx, started.ID, domainwf.ActionSubmitDocuments, "provider-1", nil)

	require.Error(t, first)
	require.Error(t, second)
	assert.True(t, errors.Is(first, domainwf.ErrGuardFailed))
	assert.Equal(t, first.Error(), second.Error())
	assert.Equal(t, before, f.events.count())
	assert.Nil(t, f.status(t, started.ID).Request.MedicalReview)
}

func TestRoundTrip_SubmitValidDocumentsReachesMedicalReview(t *testing.T) {
	f := newFixture(t)
	id := f.startInMedicalReview(t, entity.UrgencyLow)

	status := f.status(t, id)
	assert.Equal(t, domainwf.StateMedicalReview, status.Request.State)
	require.NotNil(t, status.Request.MedicalReview)
	assert.Equal(t, "medical-reviewer-1", status.Request.MedicalReview.AssignedTo)
	assert.Empty(t, status.Request.MissingDocuments)

	keys := f.deadlines.keys(id)
	assert.Equal(t, []string{keyEscalation, stepKey(domainwf.StateMedicalReview)}, keys)

	assigned := f.events.ofType(event.TypeAssignReviewer)
	require.Len(t, assigned, 1)
	assert.Equal(t, "medical", assigned[0].GetPayloadString("role"))
}

func TestFullReview_Approved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startInMedicalReview(t, entity.UrgencyHigh)

	result, err := f.orch.ExecuteAction(ctx, id, domainwf.ActionCompleteMedicalReview, "dr-house",
		map[string]interface{}{"decision": "approved", "notes": "indicated"})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateAdministrativeReview, result.To)

	status := f.status(t, id)
	assert.True(t, status.Request.MedicalReview.HasDecision(entity.ReviewDecisionApproved))
	assert.Equal(t, "dr-house", status.Request.MedicalReview.ReviewerID)
	assert.Equal(t, "administrative-reviewer-1", status.Request.AdministrativeReview.AssignedTo)
	assert.True(t, status.Request.EligibilityConfirmed)

	result, err = f.orch.ExecuteAction(ctx, id, domainwf.ActionCompleteAdministrativeReview, "clerk",
		map[string]interface{}{"decision": entity.ReviewDecisionApproved})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApproved, result.To)
	assert.Equal(t, []string{EffectSendApprovalNotification, EffectSyncWithTasy}, result.SideEffects)

	assert.False(t, f.tracked(id))
	final := f.status(t, id).Request
	assert.Len(t, final.AuditTrail, 4)
	assert.Equal(t, "clerk", final.AuditTrail[3].Actor)

	syncs := f.events.ofType(event.TypeSyncWithExternalSystem)
	require.Len(t, syncs, 1)
	assert.Equal(t, "APPROVED", syncs[0].GetPayloadString("status"))
}

func TestCompleteReview_RejectsUnknownDecision(t *testing.T) {
	f := newFixture(t)
	id := f.startInMedicalReview(t, entity.UrgencyLow)

	_, err := f.orch.ExecuteAction(context.Background(), id, domainwf.ActionCompleteMedicalReview, "dr", nil)
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.Equal(t, domainwf.StateMedicalReview, f.state(t, id))
}

func TestCompleteMedicalReview_NeedsInfo(t *testing.T) {
	f := newFixture(t)
	id := f.startInMedicalReview(t, entity.UrgencyLow)

	result, err := f.orch.ExecuteAction(context.Background(), id, domainwf.ActionCompleteMedicalReview, "dr",
		map[string]interface{}{"decision": entity.ReviewDecisionNeedsInfo, "notes": "need imaging"})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePendingAdditionalInfo, result.To)

	assert.NotContains(t, f.deadlines.keys(id), keyEscalation)
	notifications := f.events.ofType(event.TypeSendNotification)
	last := notifications[len(notifications)-1]
	assert.Equal(t, TemplateAdditionalInfo, last.GetPayloadString("template"))
	assert.Contains(t, last.GetPayloadString("message"), "need imaging")
}

func TestAdministrativeApproval_RequiresEligibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.checker.setEligible(false)
	id := f.startInMedicalReview(t, entity.UrgencyLow)

	_, err := f.orch.ExecuteAction(ctx, id, domainwf.ActionCompleteMedicalReview, "dr",
		map[string]interface{}{"decision": entity.ReviewDecisionApproved})
	require.NoError(t, err)
	assert.False(t, f.status(t, id).Request.EligibilityConfirmed)

	_, err = f.orch.ExecuteAction(ctx, id, domainwf.ActionCompleteAdministrativeReview, "clerk",
		map[string]interface{}{"decision": entity.ReviewDecisionApproved})
	assert.True(t, errors.Is(err, domainwf.ErrGuardFailed))
	assert.Equal(t, domainwf.StateAdministrativeReview, f.state(t, id))

	// The ERP answer is looked up again when the approval is retried
	f.checker.setEligible(true)
	result, err := f.orch.ExecuteAction(ctx, id, domainwf.ActionCompleteAdministrativeReview, "clerk",
		map[string]interface{}{"decision": entity.ReviewDecisionApproved})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApproved, result.To)
}

func TestTerminalStates_AcceptNoFurtherActions(t *testing.T) {
	tests := []struct {
		name   string
		action domainwf.Action
		final  domainwf.State
	}{
		{"canceled", domainwf.ActionCancel, domainwf.StateCanceled},
		{"expired", domainwf.ActionExpire, domainwf.StateExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			started, err := f.orch.StartWorkflow(ctx, newRequest(900, entity.UrgencyLow), "provider-1")
			require.NoError(t, err)
			_, err = f.orch.ExecuteAction(ctx, started.ID, tt.action, "provider-1", nil)
			require.NoError(t, err)

			for _, action := range []domainwf.Action{domainwf.ActionResume, domainwf.ActionApprove, domainwf.ActionAppeal, domainwf.ActionCancel} {
				_, err := f.orch.ExecuteAction(ctx, started.ID, action, "provider-1", nil)
				assert.True(t, errors.Is(err, ErrWorkflowNotFound))
			}
			assert.Equal(t, tt.final, f.state(t, started.ID))
			assert.Empty(t, f.deadlines.keys(started.ID))
		})
	}
}

func TestRejection_SingleAppeal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startInMedicalReview(t, entity.UrgencyLow)

	result, err := f.orch.ExecuteAction(ctx, id, domainwf.ActionCompleteMedicalReview, "dr",
		map[string]interface{}{"decision": entity.ReviewDecisionRejected})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateRejected, result.To)
	assert.True(t, f.tracked(id), "rejected requests stay open for an appeal")
	assert.Equal(t, []string{keyAppealWindow}, f.deadlines.keys(id))

	_, err = f.orch.ExecuteAction(ctx, id, domainwf.ActionAppeal, "patient-1", nil)
	assert.True(t, errors.Is(err, domainwf.ErrSideEffectFailed))
	assert.Equal(t, domainwf.StateRejected, f.state(t, id))

	result, err = f.orch.ExecuteAction(ctx, id, domainwf.ActionAppeal, "patient-1",
		map[string]interface{}{"reason": "new evidence"})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateAppealed, result.To)
	require.Len(t, f.events.ofType(event.TypeCreateAppeal), 1)
	assert.Empty(t, f.deadlines.keys(id))

	_, err = f.orch.ExecuteAction(ctx, id, domainwf.ActionApprove, "board", nil)
	assert.True(t, errors.Is(err, domainwf.ErrGuardFailed), "no outcome recorded yet")

	_, err = f.orch.ExecuteAction(ctx, id, domainwf.ActionReject, "board",
		map[string]interface{}{"outcome": entity.AppealStatusApproved})
	assert.True(t, errors.Is(err, domainwf.ErrGuardFailed), "outcome contradicts the action")

	result, err = f.orch.ExecuteAction(ctx, id, domainwf.ActionApprove, "board",
		map[string]interface{}{"outcome": entity.AppealStatusApproved, "notes": "overturned"})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApproved, result.To)

	final := f.status(t, id).Request
	require.Len(t, final.Appeals, 1)
	assert.Equal(t, entity.AppealStatusApproved, final.Appeals[0].Status)
	assert.Equal(t, "board", final.Appeals[0].ResolvedBy)
	assert.False(t, f.tracked(id))
}

func TestRejection_DeniedAppealIsFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startInMedicalReview(t, entity.UrgencyLow)

	_, err := f.orch.ExecuteAction(ctx, id, domainwf.ActionReject, "dr", map[string]interface{}{"reason": "not covered"})
	require.NoError(t, err)
	_, err = f.orch.ExecuteAction(ctx, id, domainwf.ActionAppeal, "patient-1", map[string]interface{}{"reason": "please"})
	require.NoError(t, err)

	result, err := f.orch.ExecuteAction(ctx, id, domainwf.ActionReject, "board",
		map[string]interface{}{"outcome": entity.AppealStatusDenied})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateRejected, result.To)

	assert.False(t, f.tracked(id))
	_, err = f.orch.ExecuteAction(ctx, id, domainwf.ActionAppeal, "patient-1", map[string]interface{}{"reason": "again"})
	assert.True(t, errors.Is(err, ErrWorkflowNotFound))

	metrics := f.orch.GetPerformanceMetrics()
	assert.Equal(t, int64(1), metrics.Rejected)
	assert.Equal(t, 1.0, metrics.RejectionRate)
}

func TestHoldAndResume_ReturnsToOriginStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startInMedicalReview(t, entity.UrgencyLow)

	result, err := f.orch.ExecuteAction(ctx, id, domainwf.ActionPutOnHold, "dr",
		map[string]interface{}{"reason": "awaiting specialist"})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateOnHold, result.To)

	status := f.status(t, id)
	assert.Equal(t, domainwf.StateMedicalReview, status.Request.HeldFrom)
	assert.Equal(t, "awaiting specialist", status.Request.HoldReason)
	assert.Equal(t, []string{stepKey(domainwf.StateOnHold)}, f.deadlines.keys(id))

	result, err = f.orch.ExecuteAction(ctx, id, domainwf.ActionResume, "dr", nil)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateMedicalReview, result.To)
	assert.Empty(t, f.status(t, id).Request.HoldReason)
	assert.Contains(t, f.deadlines.keys(id), keyEscalation)
}

func TestEscalate_StopsAtMaxLevel(t *testing.T) {
	f := newFixture(t, withConfig(func(c *Config) { c.MaxEscalationLevel = 1 }))
	ctx := context.Background()
	id := f.startInMedicalReview(t, entity.UrgencyLow)

	result, err := f.orch.ExecuteAction(ctx, id, domainwf.ActionEscalate, "dr", nil)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateMedicalReview, result.To)

	status := f.status(t, id)
	assert.Equal(t, 1, status.Request.EscalationLevel)
	assert.Equal(t, "senior-reviewer-1", status.Request.MedicalReview.AssignedTo)

	_, err = f.orch.ExecuteAction(ctx, id, domainwf.ActionEscalate, "dr", nil)
	assert.True(t, errors.Is(err, domainwf.ErrGuardFailed))
}

func TestReviewerAssignmentFailureAbortsTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reviewers.err = errors.New("directory offline")

	started, err := f.orch.StartWorkflow(ctx,
		newRequest(900, entity.UrgencyLow, document(entity.DocumentTypeMedicalReport, "report.pdf")), "provider-1")
	require.NoError(t, err)

	_, err = f.orch.ProcessDocuments(ctx, started.ID)
	assert.True(t, errors.Is(err, domainwf.ErrSideEffectFailed))
	assert.Equal(t, domainwf.StateDocumentCollection, f.state(t, started.ID))
}

func TestExecuteAction_SerializesPerRequest(t *testing.T) {
	f := newFixture(t, withConfig(func(c *Config) { c.MaxEscalationLevel = 20 }))
	id := f.startInMedicalReview(t, entity.UrgencyLow)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.ExecuteAction(context.Background(), id, domainwf.ActionEscalate, "dr", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	status := f.status(t, id)
	assert.Equal(t, 20, status.Request.EscalationLevel)
	assert.Len(t, status.Request.AuditTrail, 22)
}

func TestGetPerformanceMetrics_ComputedFromCompletions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.StartWorkflow(ctx,
		newRequest(300, entity.UrgencyLow, document(entity.DocumentTypeMedicalReport, "report.pdf")), "provider-1")
	require.NoError(t, err)

	started, err := f.orch.StartWorkflow(ctx, newRequest(900, entity.UrgencyLow), "provider-1")
	require.NoError(t, err)
	_, err = f.orch.StartWorkflow(ctx, newRequest(900, entity.UrgencyLow), "provider-1")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.orch.ExecuteAction(ctx, started.ID, domainwf.ActionCancel, "provider-1", nil)
	require.NoError(t, err)

	metrics := f.orch.GetPerformanceMetrics()
	assert.Equal(t, int64(3), metrics.StartedRequests)
	assert.Equal(t, int64(2), metrics.TotalRequests)
	assert.Equal(t, 1, metrics.ActiveWorkflows)
	assert.Equal(t, 0.5, metrics.ApprovalRate)
	assert.Equal(t, 0.5, metrics.CancellationRate)
	assert.Equal(t, 0.0, metrics.RejectionRate)
	assert.Equal(t, time.Hour, metrics.AverageProcessingTime)
}

func TestClose_RejectsNewWork(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Close())
	require.NoError(t, f.orch.Close())

	_, err := f.orch.StartWorkflow(context.Background(), newRequest(900, entity.UrgencyLow), "provider-1")
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = f.orch.ExecuteAction(context.Background(), "any", domainwf.ActionCancel, "user", nil)
	assert.True(t, errors.Is(err, ErrClosed))
}
