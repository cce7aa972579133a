package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/domain/workflow"
	"github.com/garyjia/prior-auth/internal/infrastructure/persistence/sqlite"
)

// DeadlineRepository implements port.DeadlineRepository
type DeadlineRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeadlineRepository creates a new deadline repository
func NewDeadlineRepository(db *sql.DB, logger *zap.Logger) *DeadlineRepository {
	return &DeadlineRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert arms or re-arms the deadline identified by (authorization, key)
func (r *DeadlineRepository) Upsert(ctx context.Context, d port.Deadline) error {
	query := `
		INSERT INTO workflow_deadlines (authorization_id, deadline_key, state, action, due_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(authorization_id, deadline_key) DO UPDATE SET
			state = excluded.state,
			action = excluded.action,
			due_at = excluded.due_at
	`

	_, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		d.AuthorizationID,
		d.Key,
		string(d.State),
		string(d.Action),
		d.DueAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to upsert deadline",
			zap.String("authorization_id", d.AuthorizationID),
			zap.String("key", d.Key),
			zap.Error(err))
		return fmt.Errorf("failed to upsert deadline: %w", err)
	}

	return nil
}

// Delete removes a single deadline
func (r *DeadlineRepository) Delete(ctx context.Context, authorizationID, key string) error {
	query := `DELETE FROM workflow_deadlines WHERE authorization_id = ? AND deadline_key = ?`

	if _, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, authorizationID, key); err != nil {
		r.logger.Error("Failed to delete deadline",
			zap.String("authorization_id", authorizationID),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to delete deadline: %w", err)
	}
	return nil
}

// DeleteAll removes every deadline of an authorization
func (r *DeadlineRepository) DeleteAll(ctx context.Context, authorizationID string) error {
	query := `DELETE FROM workflow_deadlines WHERE authorization_id = ?`

	if _, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, authorizationID); err != nil {
		r.logger.Error("Failed to delete deadlines",
			zap.String("authorization_id", authorizationID),
			zap.Error(err))
		return fmt.Errorf("failed to delete deadlines: %w", err)
	}
	return nil
}

// List returns every armed deadline, earliest first
func (r *DeadlineRepository) List(ctx context.Context) ([]port.Deadline, error) {
	query := `
		SELECT authorization_id, deadline_key, state, action, due_at
		FROM workflow_deadlines
		ORDER BY due_at ASC, authorization_id ASC, deadline_key ASC
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list deadlines", zap.Error(err))
		return nil, fmt.Errorf("failed to list deadlines: %w", err)
	}
	defer rows.Close()

	var deadlines []port.Deadline
	for rows.Next() {
		var d port.Deadline
		var state string
		var action sql.NullString
		if err := rows.Scan(&d.AuthorizationID, &d.Key, &state, &action, &d.DueAt); err != nil {
			return nil, fmt.Errorf("failed to scan deadline: %w", err)
		}
		d.State = workflow.State(state)
		if action.Valid {
			d.Action = workflow.Action(action.String)
		}
		deadlines = append(deadlines, d)
	}

	return deadlines, rows.Err()
}

var _ port.DeadlineRepository = (*DeadlineRepository)(nil)
