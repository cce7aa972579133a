package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/domain/entity"
	"github.com/garyjia/prior-auth/internal/infrastructure/persistence/sqlite"
)

// AuthorizationRepository implements port.WorkflowRepository.
// Each request is stored as a JSON snapshot next to a few query columns.
type AuthorizationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuthorizationRepository creates a new authorization repository
func NewAuthorizationRepository(db *sql.DB, logger *zap.Logger) *AuthorizationRepository {
	return &AuthorizationRepository{
		db:     db,
		logger: logger,
	}
}

// Save inserts or replaces the snapshot. A snapshot with a lower revision than
// the stored one is ignored, and a completed row stays completed.
func (r *AuthorizationRepository) Save(ctx context.Context, req *entity.AuthorizationRequest) error {
	query := `
		INSERT INTO authorizations (
			id, state, patient_id, provider_id, procedure_code, urgency,
			estimated_cost, revision, snapshot, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			procedure_code = excluded.procedure_code,
			urgency = excluded.urgency,
			estimated_cost = excluded.estimated_cost,
			revision = excluded.revision,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at,
			completed_at = COALESCE(authorizations.completed_at, excluded.completed_at)
		WHERE excluded.revision >= authorizations.revision
	`

	snapshot, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode authorization: %w", err)
	}

	updatedAt := req.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = updatedAt
	}

	_, err = sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		req.ID,
		string(req.State),
		req.PatientID,
		req.ProviderID,
		req.ProcedureCode,
		string(req.Urgency),
		req.EstimatedCost,
		req.Revision,
		string(snapshot),
		createdAt.UTC(),
		updatedAt.UTC(),
		utcPtr(req.CompletedAt),
	)
	if err != nil {
		r.logger.Error("Failed to save authorization",
			zap.String("authorization_id", req.ID),
			zap.Error(err))
		return fmt.Errorf("failed to save authorization: %w", err)
	}

	return nil
}

// GetByID retrieves an authorization, or nil when it does not exist
func (r *AuthorizationRepository) GetByID(ctx context.Context, id string) (*entity.AuthorizationRequest, error) {
	query := `SELECT snapshot, completed_at FROM authorizations WHERE id = ?`

	var snapshot string
	var completedAt sql.NullTime
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id).Scan(&snapshot, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get authorization",
			zap.String("authorization_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get authorization: %w", err)
	}

	return decodeAuthorization(snapshot, completedAt)
}

// ListActive returns every authorization not yet marked completed, oldest first
func (r *AuthorizationRepository) ListActive(ctx context.Context) ([]*entity.AuthorizationRequest, error) {
	query := `
		SELECT snapshot, completed_at
		FROM authorizations
		WHERE completed_at IS NULL
		ORDER BY created_at ASC, id ASC
	`
	return r.list(ctx, query)
}

// ListRecent returns the most recently updated authorizations, completed or not
func (r *AuthorizationRepository) ListRecent(ctx context.Context, limit int) ([]*entity.AuthorizationRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT snapshot, completed_at
		FROM authorizations
		ORDER BY updated_at DESC, id ASC
		LIMIT ?
	`
	return r.list(ctx, query, limit)
}

func (r *AuthorizationRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.AuthorizationRequest, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list authorizations", zap.Error(err))
		return nil, fmt.Errorf("failed to list authorizations: %w", err)
	}
	defer rows.Close()

	var requests []*entity.AuthorizationRequest
	for rows.Next() {
		var snapshot string
		var completedAt sql.NullTime
		if err := rows.Scan(&snapshot, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan authorization: %w", err)
		}
		req, err := decodeAuthorization(snapshot, completedAt)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}

	return requests, rows.Err()
}

// MarkCompleted flags the authorization as finished so recovery skips it
func (r *AuthorizationRepository) MarkCompleted(ctx context.Context, id string, completedAt time.Time) error {
	query := `
		UPDATE authorizations
		SET completed_at = COALESCE(completed_at, ?)
		WHERE id = ?
	`

	_, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, completedAt.UTC(), id)
	if err != nil {
		r.logger.Error("Failed to mark authorization completed",
			zap.String("authorization_id", id),
			zap.Error(err))
		return fmt.Errorf("failed to mark authorization completed: %w", err)
	}

	return nil
}

func decodeAuthorization(snapshot string, completedAt sql.NullTime) (*entity.AuthorizationRequest, error) {
	var req entity.AuthorizationRequest
	if err := json.Unmarshal([]byte(snapshot), &req); err != nil {
		return nil, fmt.Errorf("failed to decode authorization: %w", err)
	}
	if completedAt.Valid && req.CompletedAt == nil {
		t := completedAt.Time
		req.CompletedAt = &t
	}
	return &req, nil
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

var _ port.WorkflowRepository = (*AuthorizationRepository)(nil)
