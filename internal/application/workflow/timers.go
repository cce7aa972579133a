package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/domain/entity"
	"github.com/garyjia/prior-auth/internal/domain/event"
	domainwf "github.com/garyjia/prior-auth/internal/domain/workflow"
)

// Deadline keys that are not step timeouts
const (
	keyEscalation   = "ESCALATION"
	keyAppealWindow = "APPEAL_WINDOW"
)

// stepTimeoutActions is the action fired when a step outlives its timeout
var stepTimeoutActions = map[domainwf.State]domainwf.Action{
	domainwf.StateInitiated:             domainwf.ActionCancel,
	domainwf.StateDocumentCollection:    domainwf.ActionExpire,
	domainwf.StatePendingAdditionalInfo: domainwf.ActionExpire,
	domainwf.StateMedicalReview:         domainwf.ActionEscalate,
	domainwf.StateAdministrativeReview:  domainwf.ActionEscalate,
	domainwf.StateOnHold:                domainwf.ActionExpire,
}

func stepKey(state domainwf.State) string {
	return "STEP:" + state.String()
}

type timerKey struct {
	id  string
	key string
}

type timerEntry struct {
	deadline port.Deadline
	timer    clockwork.Timer
}

// timerRegistry holds one cancelable watchdog per (authorization id, key). Every arm
// gets a new generation so a callback that lost the race with a cancel can tell.
type timerRegistry struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	entries    map[timerKey]*timerEntry
	generation int64
	stopped    bool
}

func newTimerRegistry(clock clockwork.Clock) *timerRegistry {
	return &timerRegistry{
		clock:   clock,
		entries: make(map[timerKey]*timerEntry),
	}
}

// arm replaces any watchdog under the same key. Overdue deadlines are handed to fire
// right away instead of being scheduled.
func (r *timerRegistry) arm(d port.Deadline, fire func(port.Deadline)) (port.Deadline, bool) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return d, false
	}

	key := timerKey{id: d.AuthorizationID, key: d.Key}
	if existing, ok := r.entries[key]; ok && existing.timer != nil {
		existing.timer.Stop()
	}

	r.generation++
	d.Generation = r.generation
	entry := &timerEntry{deadline: d}
	r.entries[key] = entry

	delay := d.DueAt.Sub(r.clock.Now())
	if delay > 0 {
		armed := d
		entry.timer = r.clock.AfterFunc(delay, func() { fire(armed) })
	}
	r.mu.Unlock()

	if delay <= 0 {
		fire(d)
	}
	return d, true
}

// cancel stops and forgets one watchdog
func (r *timerRegistry) cancel(id, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := timerKey{id: id, key: key}
	entry, ok := r.entries[k]
	if !ok {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(r.entries, k)
	return true
}

// cancelAll stops every watchdog of one authorization
func (r *timerRegistry) cancelAll(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for k, entry := range r.entries {
		if k.id != id {
			continue
		}
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(r.entries, k)
		count++
	}
	return count
}

// claim removes the entry if d is still its current generation. A false return means
// the deadline was canceled or re-armed after it fired.
func (r *timerRegistry) claim(d port.Deadline) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := timerKey{id: d.AuthorizationID, key: d.Key}
	entry, ok := r.entries[k]
	if !ok || entry.deadline.Generation != d.Generation {
		return false
	}
	delete(r.entries, k)
	return true
}

func (r *timerRegistry) has(id, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[timerKey{id: id, key: key}]
	return ok
}

// list returns the armed deadlines of one authorization ordered by due time
func (r *timerRegistry) list(id string) []port.Deadline {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]port.Deadline, 0)
	for k, entry := range r.entries {
		if k.id == id {
			result = append(result, entry.deadline)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DueAt.Before(result[j].DueAt)
	})
	return result
}

func (r *timerRegistry) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	for k, entry := range r.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(r.entries, k)
	}
}

// armDeadline schedules a watchdog and stores it durably
func (o *orchestrator) armDeadline(ctx context.Context, d port.Deadline) {
	armed, ok := o.timers.arm(d, o.onDeadline)
	if !ok {
		return
	}

	o.logger.Debug("Watchdog armed",
		zap.String("authorization_id", armed.AuthorizationID),
		zap.String("key", armed.Key),
		zap.String("action", armed.Action.String()),
		zap.Time("due_at", armed.DueAt))

	// Overdue deadlines have already fired and need no row.
	if o.deadlines != nil && armed.DueAt.After(o.clock.Now()) {
		if err := o.deadlines.Upsert(ctx, armed); err != nil {
			o.logger.Error("Failed to store deadline",
				zap.String("authorization_id", armed.AuthorizationID),
				zap.String("key", armed.Key),
				zap.Error(err))
		}
	}
}

// armStep arms the timeout watchdog of the request's current step, if it has one
func (o *orchestrator) armStep(ctx context.Context, req *entity.AuthorizationRequest) {
	state := req.State
	action, ok := stepTimeoutActions[state]
	if !ok {
		return
	}
	timeout := o.config.StepTimeouts[state]
	if timeout <= 0 {
		return
	}
	o.armDeadline(ctx, port.Deadline{
		AuthorizationID: req.ID,
		Key:             stepKey(state),
		State:           state,
		Action:          action,
		DueAt:           o.clock.Now().Add(timeout),
	})
}

// armEscalation (re)arms the escalation watchdog of an assigned review
func (o *orchestrator) armEscalation(ctx context.Context, req *entity.AuthorizationRequest) {
	after := o.config.escalationAfter(req.Urgency)
	if after <= 0 {
		return
	}
	o.armDeadline(ctx, port.Deadline{
		AuthorizationID: req.ID,
		Key:             keyEscalation,
		State:           req.State,
		Action:          domainwf.ActionEscalate,
		DueAt:           o.clock.Now().Add(after),
	})
}

// armAppealWindow keeps a rejected request tracked until the window closes
func (o *orchestrator) armAppealWindow(ctx context.Context, id string) {
	o.armDeadline(ctx, port.Deadline{
		AuthorizationID: id,
		Key:             keyAppealWindow,
		State:           domainwf.StateRejected,
		DueAt:           o.clock.Now().Add(o.config.AppealWindow),
	})
}

func (o *orchestrator) cancelDeadline(ctx context.Context, id, key string) {
	if !o.timers.cancel(id, key) {
		return
	}
	if o.deadlines != nil {
		if err := o.deadlines.Delete(ctx, id, key); err != nil {
			o.logger.Error("Failed to delete deadline",
				zap.String("authorization_id", id),
				zap.String("key", key),
				zap.Error(err))
		}
	}
}

func (o *orchestrator) cancelAllDeadlines(ctx context.Context, id string) {
	o.timers.cancelAll(id)
	if o.deadlines != nil {
		if err := o.deadlines.DeleteAll(ctx, id); err != nil {
			o.logger.Error("Failed to delete deadlines",
				zap.String("authorization_id", id),
				zap.Error(err))
		}
	}
}

// onDeadline is the watchdog callback
func (o *orchestrator) onDeadline(d port.Deadline) {
	if !o.spawn(func() { o.fireDeadline(context.Background(), d) }) {
		o.logger.Debug("Watchdog dropped after close",
			zap.String("authorization_id", d.AuthorizationID),
			zap.String("key", d.Key))
	}
}

// fireDeadline applies a watchdog. A deadline that no longer matches the request's
// step is a misfire and is ignored.
func (o *orchestrator) fireDeadline(ctx context.Context, d port.Deadline) {
	logger := o.logger.With(
		zap.String("authorization_id", d.AuthorizationID),
		zap.String("key", d.Key),
		zap.String("state", d.State.String()),
		zap.Int64("generation", d.Generation))

	t, ok := o.lookup(d.AuthorizationID)
	if !ok {
		logger.Info("Watchdog misfire ignored: workflow no longer tracked")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.removed || !o.timers.claim(d) {
		logger.Info("Watchdog misfire ignored: deadline canceled or re-armed")
		return
	}
	if o.deadlines != nil {
		if err := o.deadlines.Delete(ctx, d.AuthorizationID, d.Key); err != nil {
			logger.Error("Failed to delete fired deadline", zap.Error(err))
		}
	}
	if state := t.wc.Request.State; state != d.State {
		logger.Info("Watchdog misfire ignored: step already advanced", zap.String("current_state", state.String()))
		return
	}

	now := o.clock.Now()
	if d.Key == keyAppealWindow {
		logger.Info("Appeal window elapsed")
		o.finalizeLocked(ctx, t)
		return
	}

	logger.Info("Watchdog fired", zap.String("action", d.Action.String()))
	o.dispatcher.Publish(ctx, []*event.Event{
		event.NewEvent(event.TypeTimeoutOccurred, d.AuthorizationID, map[string]interface{}{
			"authorizationId": d.AuthorizationID,
			"step":            d.State.String(),
			"deadline":        d.Key,
			"action":          d.Action.String(),
			"dueAt":           d.DueAt.Format(time.RFC3339),
		}).At(now),
	})

	if _, err := o.executeLocked(ctx, t, d.Action, SystemActor, map[string]interface{}{
		InputReason: "timeout: " + d.Key,
	}); err != nil {
		logger.Warn("Timeout action failed", zap.String("action", d.Action.String()), zap.Error(err))
	}
}
