package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/domain/entity"
	"github.com/garyjia/prior-auth/internal/domain/event"
	"github.com/garyjia/prior-auth/internal/domain/workflow"
	"github.com/garyjia/prior-auth/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/prior-auth/migrations"
	"github.com/garyjia/prior-auth/pkg/database"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zaptest.NewLogger(t)

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "prior-auth.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrationsFS(context.Background(), migrations.FS))
	return db
}

func newAuthorization(id string, state workflow.State) *entity.AuthorizationRequest {
	return &entity.AuthorizationRequest{
		ID:                id,
		PatientID:         "patient-1",
		ProviderID:        "provider-1",
		ProcedureID:       "proc-1",
		ProcedureCode:     "70553",
		Justification:     "persistent headaches",
		State:             state,
		Urgency:           entity.UrgencyMedium,
		EstimatedCost:     800,
		RequiredDocuments: []string{"medical_report"},
		Documents: []entity.Document{
			{ID: "doc-1", Type: "medical_report", FileName: "report.pdf", UploadedAt: baseTime},
		},
		AuditTrail: []entity.AuditEntry{
			{Timestamp: baseTime, Actor: "system", Action: "SUBMIT", FromState: "DRAFT", ToState: "SUBMITTED"},
		},
		Revision:  1,
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
}

func TestAuthorizationRepository_SaveAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAuthorizationRepository(db.DB, zaptest.NewLogger(t))
	ctx := context.Background()

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	req := newAuthorization("auth-1", workflow.StateDocumentCollection)
	require.NoError(t, repo.Save(ctx, req))

	got, err := repo.GetByID(ctx, "auth-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, workflow.StateDocumentCollection, got.State)
	assert.Equal(t, req.Documents[0].FileName, got.Documents[0].FileName)
	assert.Equal(t, "SUBMIT", got.AuditTrail[0].Action)
	assert.True(t, got.CreatedAt.Equal(baseTime))

	req.State = workflow.StateMedicalReview
	req.Revision = 2
	require.NoError(t, repo.Save(ctx, req))

	stale := newAuthorization("auth-1", workflow.StateSubmitted)
	stale.Revision = 1
	require.NoError(t, repo.Save(ctx, stale))

	got, err = repo.GetByID(ctx, "auth-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StateMedicalReview, got.State)
	assert.Equal(t, int64(2), got.Revision)
}

func TestAuthorizationRepository_ListActiveSkipsCompleted(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAuthorizationRepository(db.DB, zaptest.NewLogger(t))
	ctx := context.Background()

	first := newAuthorization("auth-1", workflow.StateMedicalReview)
	second := newAuthorization("auth-2", workflow.StateApproved)
	second.CreatedAt = baseTime.Add(time.Minute)
	require.NoError(t, repo.Save(ctx, first))
	require.NoError(t, repo.Save(ctx, second))

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "auth-1", active[0].ID)

	completedAt := baseTime.Add(time.Hour)
	require.NoError(t, repo.MarkCompleted(ctx, "auth-2", completedAt))

	active, err = repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "auth-1", active[0].ID)

	// a later save of the same request must not reopen it
	second.Revision = 2
	require.NoError(t, repo.Save(ctx, second))
	active, err = repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	got, err := repo.GetByID(ctx, "auth-2")
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completedAt))

	recent, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestDeadlineRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeadlineRepository(db.DB, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, port.Deadline{
		AuthorizationID: "auth-1", Key: "step", State: workflow.StateMedicalReview,
		Action: workflow.ActionEscalate, DueAt: baseTime.Add(48 * time.Hour),
	}))
	require.NoError(t, repo.Upsert(ctx, port.Deadline{
		AuthorizationID: "auth-1", Key: "expiry", State: workflow.StateDocumentCollection,
		DueAt: baseTime.Add(7 * 24 * time.Hour),
	}))
	require.NoError(t, repo.Upsert(ctx, port.Deadline{
		AuthorizationID: "auth-2", Key: "step", State: workflow.StateAdministrativeReview,
		Action: workflow.ActionEscalate, DueAt: baseTime.Add(time.Hour),
	}))

	// re-arming replaces the row
	require.NoError(t, repo.Upsert(ctx, port.Deadline{
		AuthorizationID: "auth-1", Key: "step", State: workflow.StateMedicalReview,
		Action: workflow.ActionEscalate, DueAt: baseTime.Add(24 * time.Hour),
	}))

	deadlines, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, deadlines, 3)
	assert.Equal(t, "auth-2", deadlines[0].AuthorizationID)
	assert.Equal(t, "step", deadlines[1].Key)
	assert.True(t, deadlines[1].DueAt.Equal(baseTime.Add(24*time.Hour)))
	assert.Equal(t, workflow.ActionEscalate, deadlines[1].Action)
	assert.Empty(t, deadlines[2].Action)

	require.NoError(t, repo.Delete(ctx, "auth-2", "step"))
	require.NoError(t, repo.DeleteAll(ctx, "auth-1"))

	deadlines, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, deadlines)
}

func TestAuditRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAuditRepository(db.DB, zaptest.NewLogger(t))
	ctx := context.Background()

	first := event.NewEvent(event.TypeWorkflowStarted, "auth-1", nil).At(baseTime)
	second := event.NewEvent(event.TypeAssignReviewer, "auth-1", map[string]interface{}{
		"reviewerId": "dr-a",
		"level":      2,
	}).At(baseTime.Add(time.Second))

	require.NoError(t, repo.RecordEvent(ctx, first))
	require.NoError(t, repo.RecordEvent(ctx, second))
	require.NoError(t, repo.RecordEvent(ctx, first))
	require.NoError(t, repo.RecordEvent(ctx, event.NewEvent(event.TypeWorkflowStarted, "auth-2", nil)))

	events, err := repo.ListEvents(ctx, "auth-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, event.TypeWorkflowStarted, events[0].Type)
	assert.Nil(t, events[0].Payload)
	assert.Equal(t, "dr-a", events[1].GetPayloadString("reviewerId"))
	assert.Equal(t, float64(2), events[1].Payload["level"])
	assert.Equal(t, second.CorrelationID, events[1].CorrelationID)

	require.NoError(t, repo.RecordStateTransition(ctx, "auth-1", entity.AuditEntry{
		Timestamp: baseTime, Actor: "system", Action: "SUBMIT", FromState: "DRAFT", ToState: "SUBMITTED",
	}))
	require.NoError(t, repo.RecordStateTransition(ctx, "auth-1", entity.AuditEntry{
		Timestamp: baseTime.Add(time.Minute), Actor: "dr-a", Action: "COMPLETE_MEDICAL_REVIEW",
		FromState: "MEDICAL_REVIEW", ToState: "ADMINISTRATIVE_REVIEW",
		Details: map[string]interface{}{"decision": "approve"},
	}))

	transitions, err := repo.ListTransitions(ctx, "auth-1")
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, "SUBMIT", transitions[0].Action)
	assert.Equal(t, "approve", transitions[1].Details["decision"])
	assert.True(t, transitions[1].Timestamp.Equal(baseTime.Add(time.Minute)))
}

func TestNotificationRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNotificationRepository(db.DB, zaptest.NewLogger(t))
	ctx := context.Background()

	sent := &port.NotificationRecord{
		AuthorizationID: "auth-1", Recipient: "provider:p-1", Template: "authorization_approved",
		Title: "Authorization approved", CreatedAt: baseTime,
	}
	failed := &port.NotificationRecord{
		AuthorizationID: "auth-1", Recipient: "patient:patient-1", Template: "authorization_approved",
		CreatedAt: baseTime,
	}
	require.NoError(t, repo.Create(ctx, sent))
	require.NoError(t, repo.Create(ctx, failed))
	assert.NotZero(t, sent.ID)
	assert.Equal(t, port.NotificationStatusPending, sent.Status)

	require.NoError(t, repo.MarkSent(ctx, sent.ID, baseTime.Add(time.Second)))
	require.NoError(t, repo.MarkFailed(ctx, failed.ID, "lark unavailable"))

	records, err := repo.ListByAuthorization(ctx, "auth-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, port.NotificationStatusSent, records[0].Status)
	require.NotNil(t, records[0].SentAt)
	assert.True(t, records[0].SentAt.Equal(baseTime.Add(time.Second)))
	assert.Equal(t, port.NotificationStatusFailed, records[1].Status)
	assert.Equal(t, "lark unavailable", records[1].ErrorMessage)
	assert.Nil(t, records[1].SentAt)
}

func TestWithTransaction_RollsBackRepositoryWrites(t *testing.T) {
	db := setupTestDB(t)
	logger := zaptest.NewLogger(t)
	tx := sqlite.NewDB(db.DB, logger)
	authorizations := NewAuthorizationRepository(db.DB, logger)
	deadlines := NewDeadlineRepository(db.DB, logger)
	ctx := context.Background()

	boom := errors.New("publish failed")
	err := tx.WithTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, authorizations.Save(ctx, newAuthorization("auth-1", workflow.StateMedicalReview)))
		require.NoError(t, deadlines.Upsert(ctx, port.Deadline{
			AuthorizationID: "auth-1", Key: "step", State: workflow.StateMedicalReview, DueAt: baseTime,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := authorizations.GetByID(ctx, "auth-1")
	require.NoError(t, err)
	assert.Nil(t, got)
	list, err := deadlines.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	err = tx.WithTransaction(ctx, func(ctx context.Context) error {
		return authorizations.Save(ctx, newAuthorization("auth-1", workflow.StateMedicalReview))
	})
	require.NoError(t, err)
	got, err = authorizations.GetByID(ctx, "auth-1")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
