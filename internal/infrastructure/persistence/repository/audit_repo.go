package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/domain/entity"
	"github.com/garyjia/prior-auth/internal/domain/event"
	"github.com/garyjia/prior-auth/internal/infrastructure/persistence/sqlite"
)

// AuditRepository implements port.AuditRecorder and port.AuditQuery
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// RecordEvent stores a dispatched event. Re-recording the same event id is a no-op.
func (r *AuditRepository) RecordEvent(ctx context.Context, evt *event.Event) error {
	query := `
		INSERT INTO workflow_events (id, authorization_id, event_type, payload, correlation_id, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	payload, err := encodeJSON(evt.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	_, err = sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		evt.ID,
		evt.AuthorizationID,
		string(evt.Type),
		payload,
		evt.CorrelationID,
		evt.Timestamp.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to record event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", string(evt.Type)),
			zap.Error(err))
		return fmt.Errorf("failed to record event: %w", err)
	}

	return nil
}

// RecordStateTransition stores one committed transition
func (r *AuditRepository) RecordStateTransition(ctx context.Context, authorizationID string, entry entity.AuditEntry) error {
	query := `
		INSERT INTO state_transitions (
			authorization_id, actor, action, from_state, to_state, details, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	details, err := encodeJSON(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to encode transition details: %w", err)
	}

	_, err = sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		authorizationID,
		entry.Actor,
		entry.Action,
		entry.FromState,
		entry.ToState,
		details,
		entry.Timestamp.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to record state transition",
			zap.String("authorization_id", authorizationID),
			zap.String("action", entry.Action),
			zap.Error(err))
		return fmt.Errorf("failed to record state transition: %w", err)
	}

	return nil
}

// ListEvents returns the recorded events of an authorization in occurrence order
func (r *AuditRepository) ListEvents(ctx context.Context, authorizationID string) ([]*event.Event, error) {
	query := `
		SELECT id, authorization_id, event_type, payload, correlation_id, occurred_at
		FROM workflow_events
		WHERE authorization_id = ?
		ORDER BY occurred_at ASC, rowid ASC
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, authorizationID)
	if err != nil {
		r.logger.Error("Failed to list events",
			zap.String("authorization_id", authorizationID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		var evt event.Event
		var eventType string
		var payload, correlationID sql.NullString
		if err := rows.Scan(&evt.ID, &evt.AuthorizationID, &eventType, &payload, &correlationID, &evt.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		evt.Type = event.Type(eventType)
		evt.CorrelationID = correlationID.String
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &evt.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode event payload: %w", err)
			}
		}
		events = append(events, &evt)
	}

	return events, rows.Err()
}

// ListTransitions returns the committed transitions of an authorization in order
func (r *AuditRepository) ListTransitions(ctx context.Context, authorizationID string) ([]entity.AuditEntry, error) {
	query := `
		SELECT actor, action, from_state, to_state, details, occurred_at
		FROM state_transitions
		WHERE authorization_id = ?
		ORDER BY id ASC
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, authorizationID)
	if err != nil {
		r.logger.Error("Failed to list transitions",
			zap.String("authorization_id", authorizationID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var entries []entity.AuditEntry
	for rows.Next() {
		var entry entity.AuditEntry
		var details sql.NullString
		if err := rows.Scan(&entry.Actor, &entry.Action, &entry.FromState, &entry.ToState, &details, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
				return nil, fmt.Errorf("failed to decode transition details: %w", err)
			}
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// encodeJSON returns nil for empty maps so the column stays NULL
func encodeJSON(m map[string]interface{}) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

var (
	_ port.AuditRecorder = (*AuditRepository)(nil)
	_ port.AuditQuery    = (*AuditRepository)(nil)
)
