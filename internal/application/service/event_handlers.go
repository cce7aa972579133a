package service

import (
	"context"
	"fmt"

	"github.com/spf13/cast"

	"github.com/garyjia/prior-auth/internal/application/dispatcher"
	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/domain/event"
	"github.com/garyjia/prior-auth/internal/domain/workflow"
)

// ERPSystem is the external system name carried by status sync events
const ERPSystem = "tasy"

// EventHandlers connects workflow events to notifications, the ERP and the audit log
type EventHandlers struct {
	notifications NotificationService
	erp           port.ERPClient
	audit         port.AuditRecorder
	repo          port.WorkflowRepository
	logger        Logger
}

// NewEventHandlers creates the workflow event handlers. Nil collaborators are skipped on Register.
func NewEventHandlers(
	notifications NotificationService,
	erp port.ERPClient,
	audit port.AuditRecorder,
	repo port.WorkflowRepository,
	logger Logger,
) *EventHandlers {
	return &EventHandlers{
		notifications: notifications,
		erp:           erp,
		audit:         audit,
		repo:          repo,
		logger:        logger,
	}
}

// Register subscribes the handlers on the dispatcher
func (h *EventHandlers) Register(d dispatcher.Dispatcher) {
	if h.notifications != nil {
		d.SubscribeNamed(event.TypeSendNotification, "notification-delivery", h.HandleNotification)
	}
	if h.erp != nil {
		d.SubscribeNamed(event.TypeSyncWithExternalSystem, "erp-status-sync", h.HandleStatusSync)
		if h.repo != nil {
			d.SubscribeNamed(event.TypeWorkflowStarted, "erp-submission", h.HandleSubmission)
		}
	}
	for _, t := range []event.Type{event.TypeAssignReviewer, event.TypeEscalateReview, event.TypeCreateAppeal, event.TypeTimeoutOccurred} {
		d.SubscribeNamed(t, "workflow-log", h.logEvent)
	}
	if h.audit != nil {
		d.SubscribeAll("audit-recorder", h.HandleAudit)
	}
}

// HandleNotification delivers a sendNotification event
func (h *EventHandlers) HandleNotification(ctx context.Context, evt *event.Event) error {
	n := port.Notification{
		AuthorizationID: evt.AuthorizationID,
		Recipient:       evt.GetPayloadString("recipient"),
		Template:        evt.GetPayloadString("template"),
		Title:           evt.GetPayloadString("title"),
		Message:         evt.GetPayloadString("message"),
	}
	if data, ok := evt.Payload["data"]; ok {
		n.Data = cast.ToStringMap(data)
	}
	return h.notifications.Deliver(ctx, n)
}

// HandleStatusSync pushes a status change to the ERP
func (h *EventHandlers) HandleStatusSync(ctx context.Context, evt *event.Event) error {
	if system := evt.GetPayloadString("system"); system != "" && system != ERPSystem {
		h.logger.Infow("Skipping sync for unknown system", "system", system, "authorization_id", evt.AuthorizationID)
		return nil
	}

	state := workflow.State(evt.GetPayloadString("status"))
	if !state.IsValid() {
		return fmt.Errorf("sync event for %s carries unknown status %q", evt.AuthorizationID, state)
	}
	if err := h.erp.SyncAuthorizationStatus(ctx, evt.AuthorizationID, state); err != nil {
		return fmt.Errorf("sync authorization status: %w", err)
	}

	h.logger.Infow("Authorization status synced", "authorization_id", evt.AuthorizationID, "status", state)
	return nil
}

// HandleSubmission registers a newly started authorization with the ERP
func (h *EventHandlers) HandleSubmission(ctx context.Context, evt *event.Event) error {
	req, err := h.repo.GetByID(ctx, evt.AuthorizationID)
	if err != nil {
		return fmt.Errorf("get authorization: %w", err)
	}
	if req == nil {
		return fmt.Errorf("authorization %s not found", evt.AuthorizationID)
	}
	if err := h.erp.SubmitAuthorization(ctx, req); err != nil {
		return fmt.Errorf("submit authorization: %w", err)
	}

	h.logger.Infow("Authorization submitted to ERP", "authorization_id", req.ID)
	return nil
}

// HandleAudit stores every event in the audit log
func (h *EventHandlers) HandleAudit(ctx context.Context, evt *event.Event) error {
	if err := h.audit.RecordEvent(ctx, evt); err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

func (h *EventHandlers) logEvent(ctx context.Context, evt *event.Event) error {
	h.logger.Infow("Workflow event",
		"event_type", evt.Type,
		"authorization_id", evt.AuthorizationID,
		"payload", evt.Payload)
	return nil
}
