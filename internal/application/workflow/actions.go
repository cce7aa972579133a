package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/garyjia/prior-auth/internal/domain/entity"
	domainwf "github.com/garyjia/prior-auth/internal/domain/workflow"
)

// Metadata keys understood by ExecuteAction
const (
	InputDecision = "decision"
	InputNotes    = "notes"
	InputReason   = "reason"
	InputOutcome  = "outcome"
)

var reviewDecisions = map[string]bool{
	entity.ReviewDecisionApproved:  true,
	entity.ReviewDecisionRejected:  true,
	entity.ReviewDecisionNeedsInfo: true,
}

var appealOutcomes = map[string]bool{
	entity.AppealStatusApproved: true,
	entity.AppealStatusDenied:   true,
}

// applyActionInput records the data an action carries on the clone before guards run
func (o *orchestrator) applyActionInput(ctx context.Context, wc *WorkflowContext, action domainwf.Action, actor string) error {
	req := wc.Request

	switch action {
	case domainwf.ActionCompleteMedicalReview, domainwf.ActionCompleteAdministrativeReview:
		if !req.State.IsReview() {
			return nil
		}
		decision := strings.ToUpper(strings.TrimSpace(cast.ToString(wc.Input[InputDecision])))
		if !reviewDecisions[decision] {
			return fmt.Errorf("%w: review decision %q", ErrInvalidRequest, decision)
		}
		wc.Input[InputDecision] = decision

		if action == domainwf.ActionCompleteMedicalReview {
			req.MedicalReview = completeReview(req.MedicalReview, decision, actor, wc)
			return nil
		}
		req.AdministrativeReview = completeReview(req.AdministrativeReview, decision, actor, wc)
		if decision == entity.ReviewDecisionApproved && !req.EligibilityConfirmed {
			o.recheckEligibility(ctx, wc)
		}

	case domainwf.ActionApprove, domainwf.ActionReject:
		if req.State != domainwf.StateAppealed {
			return nil
		}
		appeal, ok := req.LastAppeal()
		outcome := strings.ToUpper(strings.TrimSpace(cast.ToString(wc.Input[InputOutcome])))
		if !ok || outcome == "" {
			return nil
		}
		if !appealOutcomes[outcome] {
			return fmt.Errorf("%w: appeal outcome %q", ErrInvalidRequest, outcome)
		}
		resolvedAt := wc.Now
		appeal.Status = outcome
		appeal.Outcome = cast.ToString(wc.Input[InputNotes])
		appeal.ResolvedBy = actor
		appeal.ResolvedAt = &resolvedAt

	case domainwf.ActionPutOnHold:
		req.HoldReason = cast.ToString(wc.Input[InputReason])

	case domainwf.ActionResume:
		req.HoldReason = ""
	}

	return nil
}

func completeReview(current *entity.Review, decision, actor string, wc *WorkflowContext) *entity.Review {
	review := &entity.Review{AssignedTo: actor}
	if current != nil {
		c := *current
		review = &c
	}
	completedAt := wc.Now
	review.Decision = decision
	review.ReviewerID = actor
	review.Notes = cast.ToString(wc.Input[InputNotes])
	review.Completed = true
	review.CompletedAt = &completedAt
	return review
}
