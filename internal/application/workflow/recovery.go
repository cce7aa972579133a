package workflow

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/domain/event"
	domainwf "github.com/garyjia/prior-auth/internal/domain/workflow"
)

// ReconcileReport summarizes one reconciliation sweep
type ReconcileReport struct {
	Checked int `json:"checked"`
	Expired int `json:"expired"`
	Synced  int `json:"synced"`
}

// awaitingAppeal reports whether a rejected request is still inside its appeal window
func awaitingAppeal(state domainwf.State, appeals int) bool {
	return state == domainwf.StateRejected && appeals == 0
}

// Recover rehydrates active requests and their deadlines from the durable stores.
// Deadlines that came due while the process was down fire immediately.
func (o *orchestrator) Recover(ctx context.Context) error {
	if o.repo == nil {
		return nil
	}

	requests, err := o.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active authorizations: %w", err)
	}

	stored := make(map[string][]port.Deadline)
	if o.deadlines != nil {
		deadlines, err := o.deadlines.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list deadlines: %w", err)
		}
		for _, d := range deadlines {
			stored[d.AuthorizationID] = append(stored[d.AuthorizationID], d)
		}
	}

	now := o.clock.Now()
	recovered := make([]*tracked, 0, len(requests))
	for _, req := range requests {
		if req.State.IsTerminal() && !awaitingAppeal(req.State, len(req.Appeals)) {
			if err := o.repo.MarkCompleted(ctx, req.ID, now); err != nil {
				o.logger.Error("Failed to mark recovered authorization completed",
					zap.String("authorization_id", req.ID), zap.Error(err))
			}
			continue
		}

		t := &tracked{wc: &WorkflowContext{
			Request:  req,
			Actor:    SystemActor,
			Metadata: make(map[string]interface{}),
			Now:      now,
		}}
		o.mu.Lock()
		_, exists := o.active[req.ID]
		if !exists {
			o.active[req.ID] = t
		}
		o.mu.Unlock()
		if exists {
			delete(stored, req.ID)
			continue
		}
		recovered = append(recovered, t)
	}

	rearmed := 0
	for _, t := range recovered {
		t.mu.Lock()
		req := t.wc.Request
		armedKeys := make(map[string]bool)
		for _, d := range stored[req.ID] {
			if d.State != req.State {
				o.dropDeadline(ctx, d)
				continue
			}
			armedKeys[d.Key] = true
			o.armDeadline(ctx, d)
			rearmed++
		}
		delete(stored, req.ID)

		switch {
		case awaitingAppeal(req.State, len(req.Appeals)):
			if !armedKeys[keyAppealWindow] && o.config.AppealWindow > 0 {
				o.armAppealWindow(ctx, req.ID)
			}
		default:
			if !armedKeys[stepKey(req.State)] {
				o.armStep(ctx, req)
			}
			if req.State.IsReview() && !armedKeys[keyEscalation] {
				o.armEscalation(ctx, req)
			}
		}
		t.mu.Unlock()
	}

	for id, orphans := range stored {
		for _, d := range orphans {
			o.dropDeadline(ctx, d)
		}
		o.logger.Info("Dropped deadlines of untracked authorization", zap.String("authorization_id", id))
	}

	o.logger.Info("Workflows recovered",
		zap.Int("recovered", len(recovered)),
		zap.Int("deadlines_rearmed", rearmed))
	return nil
}

func (o *orchestrator) dropDeadline(ctx context.Context, d port.Deadline) {
	if o.deadlines == nil {
		return
	}
	if err := o.deadlines.Delete(ctx, d.AuthorizationID, d.Key); err != nil {
		o.logger.Error("Failed to delete stale deadline",
			zap.String("authorization_id", d.AuthorizationID),
			zap.String("key", d.Key),
			zap.Error(err))
	}
}

// Reconcile expires tracked requests past their expiry and publishes a status
// re-sync for the rest
func (o *orchestrator) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}

	o.mu.RLock()
	entries := make([]*tracked, 0, len(o.active))
	for _, t := range o.active {
		entries = append(entries, t)
	}
	o.mu.RUnlock()

	report := &ReconcileReport{}
	syncs := make([]*event.Event, 0, len(entries))
	var errs error

	for _, t := range entries {
		t.mu.Lock()
		if t.removed {
			t.mu.Unlock()
			continue
		}
		report.Checked++
		req := t.wc.Request
		now := o.clock.Now()

		if req.IsExpired(now) && o.machine.CanFire(req.State, domainwf.ActionExpire) {
			id := req.ID
			if _, err := o.executeLocked(ctx, t, domainwf.ActionExpire, SystemActor, map[string]interface{}{
				InputReason: "request expired",
			}); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("failed to expire %s: %w", id, err))
			} else {
				report.Expired++
			}
			t.mu.Unlock()
			continue
		}

		syncs = append(syncs, syncEvent(req.ID, req.State, now))
		report.Synced++
		t.mu.Unlock()
	}

	o.dispatcher.Publish(ctx, syncs)

	o.logger.Info("Reconciliation completed",
		zap.Int("checked", report.Checked),
		zap.Int("expired", report.Expired),
		zap.Int("synced", report.Synced),
		zap.Error(errs))
	return report, errs
}
