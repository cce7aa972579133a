package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/prior-auth/internal/domain/entity"
	"github.com/garyjia/prior-auth/internal/domain/event"
	domainwf "github.com/garyjia/prior-auth/internal/domain/workflow"
)

func noopEffects() map[string]domainwf.SideEffectFunc[*WorkflowContext] {
	names := []string{
		EffectRecordDocumentValidation, EffectRequestDocuments, EffectRequestAdditionalDocuments,
		EffectAssignMedicalReviewer, EffectAssignAdministrativeReviewer, EffectEscalateToSeniorReviewer,
		EffectRecordHoldOrigin, EffectCreateAppealRecord, EffectSyncWithTasy,
		EffectSendApprovalNotification, EffectSendRejectionNotification,
		EffectSendCancellationNotification, EffectSendExpirationNotification,
	}
	effects := make(map[string]domainwf.SideEffectFunc[*WorkflowContext], len(names))
	for _, name := range names {
		effects[name] = func(ctx context.Context, wc *WorkflowContext) ([]*event.Event, error) {
			return nil, nil
		}
	}
	return effects
}

func TestBuildAuthorizationStateMachine(t *testing.T) {
	machine, err := BuildAuthorizationStateMachine(noopEffects(), 2)
	require.NoError(t, err)

	tests := []struct {
		state    domainwf.State
		expected []domainwf.Action
	}{
		{domainwf.StateApproved, nil},
		{domainwf.StateExpired, nil},
		{domainwf.StateCanceled, nil},
		{domainwf.StateRejected, []domainwf.Action{domainwf.ActionAppeal}},
		{domainwf.StateAppealed, []domainwf.Action{domainwf.ActionApprove, domainwf.ActionReject}},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.ElementsMatch(t, tt.expected, machine.PermittedActions(tt.state))
		})
	}

	for _, state := range []domainwf.State{
		domainwf.StateInitiated, domainwf.StateDocumentCollection, domainwf.StatePendingAdditionalInfo,
		domainwf.StateMedicalReview, domainwf.StateAdministrativeReview, domainwf.StateOnHold,
	} {
		assert.True(t, machine.CanFire(state, domainwf.ActionCancel), state)
	}
	assert.False(t, machine.CanFire(domainwf.StatePendingAdditionalInfo, domainwf.ActionPutOnHold))
	assert.False(t, machine.CanFire(domainwf.StateAppealed, domainwf.ActionAppeal))
}

func TestBuildAuthorizationStateMachine_MissingEffect(t *testing.T) {
	effects := noopEffects()
	delete(effects, EffectSyncWithTasy)

	_, err := BuildAuthorizationStateMachine(effects, 2)
	assert.ErrorIs(t, err, domainwf.ErrUnknownReference)
}

func TestBuildAuthorizationStateMachine_OnHoldResumesToOrigin(t *testing.T) {
	machine, err := BuildAuthorizationStateMachine(noopEffects(), 2)
	require.NoError(t, err)

	tests := []struct {
		heldFrom domainwf.State
		expected domainwf.State
	}{
		{domainwf.StateMedicalReview, domainwf.StateMedicalReview},
		{domainwf.StateAdministrativeReview, domainwf.StateAdministrativeReview},
		{domainwf.StateDocumentCollection, domainwf.StateDocumentCollection},
		{"", domainwf.StateDocumentCollection},
	}

	for _, tt := range tests {
		t.Run(string(tt.expected)+"/"+string(tt.heldFrom), func(t *testing.T) {
			wc := &WorkflowContext{Request: &entity.AuthorizationRequest{
				ID:       "auth-1",
				State:    domainwf.StateOnHold,
				HeldFrom: tt.heldFrom,
			}}
			result, err := machine.Fire(context.Background(), wc, domainwf.ActionResume, "user")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result.To)
		})
	}
}

func TestGuards_CanEscalate(t *testing.T) {
	canEscalate := guards(2)[GuardCanEscalate]

	for level, expected := range map[int]bool{0: true, 1: true, 2: false, 3: false} {
		wc := &WorkflowContext{Request: &entity.AuthorizationRequest{EscalationLevel: level}}
		assert.Equal(t, expected, canEscalate(context.Background(), wc), "level %d", level)
	}
}
