package workflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/dispatcher"
	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/application/rules"
	"github.com/garyjia/prior-auth/internal/domain/entity"
	"github.com/garyjia/prior-auth/internal/domain/event"
	domainwf "github.com/garyjia/prior-auth/internal/domain/workflow"
)

// SystemActor is the actor recorded for transitions the orchestrator fires itself
const SystemActor = "system"

// Orchestrator owns the lifecycle of every in-flight authorization
type Orchestrator interface {
	// StartWorkflow validates and tracks a new request, then approves it immediately
	// or moves it into document collection
	StartWorkflow(ctx context.Context, req *entity.AuthorizationRequest, actor string) (*entity.AuthorizationRequest, error)

	// ExecuteAction fires an action against a tracked request. Calls for the same id are serialized.
	ExecuteAction(ctx context.Context, id string, action domainwf.Action, actor string, metadata map[string]interface{}) (*domainwf.Result, error)

	// SubmitDocuments attaches documents to a request collecting documents and validates them
	SubmitDocuments(ctx context.Context, id string, docs []entity.Document, actor string) (*domainwf.Result, error)

	// ProcessDocuments validates every unvalidated or invalid document concurrently and
	// advances the request according to the outcome
	ProcessDocuments(ctx context.Context, id string) (*domainwf.Result, error)

	// GetWorkflowStatus returns the tracked context, or the stored snapshot once completed
	GetWorkflowStatus(ctx context.Context, id string) (*WorkflowStatus, error)

	// GetPerformanceMetrics reports counters over completed workflows
	GetPerformanceMetrics() PerformanceMetrics

	// Recover rehydrates active requests and their deadlines from the durable stores
	Recover(ctx context.Context) error

	// Reconcile expires overdue requests and re-syncs active ones with the ERP
	Reconcile(ctx context.Context) (*ReconcileReport, error)

	// Close stops every watchdog and waits for background work
	Close() error
}

// WorkflowStatus is a point-in-time view of one authorization
type WorkflowStatus struct {
	Request          *entity.AuthorizationRequest `json:"request"`
	Actor            string                       `json:"actor,omitempty"`
	Metadata         map[string]interface{}       `json:"metadata,omitempty"`
	Active           bool                         `json:"active"`
	PermittedActions []domainwf.Action            `json:"permitted_actions"`
	Deadlines        []port.Deadline              `json:"deadlines,omitempty"`
	AutoApproval     *rules.AutoApprovalDecision  `json:"auto_approval,omitempty"`
}

// orchestrator is the concrete implementation of Orchestrator
type orchestrator struct {
	machine    domainwf.StateMachine[*WorkflowContext]
	rules      rules.Engine
	dispatcher dispatcher.Dispatcher
	repo       port.WorkflowRepository
	deadlines  port.DeadlineRepository
	audit      port.AuditRecorder
	txManager  port.TransactionManager
	extractor  port.TextExtractor
	validator  port.DocumentValidator
	checker    rules.EligibilityChecker
	reviewers  port.ReviewerDirectory
	clock      clockwork.Clock
	logger     *zap.Logger
	config     Config

	mu     sync.RWMutex
	active map[string]*tracked
	closed atomic.Bool

	timers     *timerRegistry
	metrics    *metricsRecorder
	background conc.WaitGroup
}

// Option configures the orchestrator
type Option func(*orchestrator)

// WithDispatcher sets the dispatcher that receives transition outboxes
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(o *orchestrator) {
		o.dispatcher = d
	}
}

// WithRepository sets the durable snapshot store
func WithRepository(repo port.WorkflowRepository) Option {
	return func(o *orchestrator) {
		o.repo = repo
	}
}

// WithDeadlineRepository sets the durable watchdog store
func WithDeadlineRepository(repo port.DeadlineRepository) Option {
	return func(o *orchestrator) {
		o.deadlines = repo
	}
}

// WithAuditRecorder sets where committed transitions are recorded
func WithAuditRecorder(audit port.AuditRecorder) Option {
	return func(o *orchestrator) {
		o.audit = audit
	}
}

// WithTransactionManager wraps snapshot and audit writes in one transaction
func WithTransactionManager(tm port.TransactionManager) Option {
	return func(o *orchestrator) {
		o.txManager = tm
	}
}

// WithDocumentServices sets the OCR extractor and the document validator
func WithDocumentServices(extractor port.TextExtractor, validator port.DocumentValidator) Option {
	return func(o *orchestrator) {
		o.extractor = extractor
		o.validator = validator
	}
}

// WithEligibilityChecker sets the ERP-backed eligibility source used for re-checks
func WithEligibilityChecker(checker rules.EligibilityChecker) Option {
	return func(o *orchestrator) {
		o.checker = checker
	}
}

// WithReviewerDirectory sets where reviewers are picked from
func WithReviewerDirectory(reviewers port.ReviewerDirectory) Option {
	return func(o *orchestrator) {
		o.reviewers = reviewers
	}
}

// WithClock sets the clock driving timestamps and watchdogs
func WithClock(clock clockwork.Clock) Option {
	return func(o *orchestrator) {
		o.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *orchestrator) {
		o.logger = logger
	}
}

// WithConfig sets orchestrator settings; zero values keep the defaults
func WithConfig(cfg Config) Option {
	return func(o *orchestrator) {
		o.config = o.config.merge(cfg)
	}
}

// NewOrchestrator creates a workflow orchestrator driven by the given rules engine
func NewOrchestrator(engine rules.Engine, opts ...Option) (Orchestrator, error) {
	if engine == nil {
		return nil, fmt.Errorf("rules engine is required")
	}

	o := &orchestrator{
		rules:  engine,
		clock:  clockwork.NewRealClock(),
		logger: zap.NewNop(),
		config: DefaultConfig(),
		active: make(map[string]*tracked),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.dispatcher == nil {
		o.dispatcher = dispatcher.NewDispatcher(dispatcher.WithLogger(o.logger))
	}

	machine, err := BuildAuthorizationStateMachine(o.sideEffects(), o.config.MaxEscalationLevel, domainwf.WithClock(o.clock))
	if err != nil {
		return nil, fmt.Errorf("failed to build state machine: %w", err)
	}
	o.machine = machine
	o.timers = newTimerRegistry(o.clock)
	o.metrics = newMetricsRecorder()

	return o, nil
}

// StartWorkflow validates and tracks a new request
func (o *orchestrator) StartWorkflow(ctx context.Context, req *entity.AuthorizationRequest, actor string) (*entity.AuthorizationRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is required", ErrInvalidRequest)
	}
	if o.closed.Load() {
		return nil, ErrClosed
	}

	now := o.clock.Now()
	r := o.prepareRequest(req, now)

	if err := o.rules.ValidateRequest(ctx, r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	t := &tracked{wc: &WorkflowContext{
		Request:  r,
		Actor:    actor,
		Metadata: make(map[string]interface{}),
		Now:      now,
	}}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := o.admit(r.ID, t); err != nil {
		return nil, err
	}
	o.metrics.started()

	o.logger.Info("Workflow started",
		zap.String("authorization_id", r.ID),
		zap.String("actor", actor),
		zap.String("urgency", r.Urgency.String()),
		zap.Float64("estimated_cost", r.EstimatedCost))

	o.persist(ctx, r, nil)
	o.armStep(ctx, r)
	o.dispatcher.Publish(ctx, []*event.Event{
		event.NewEvent(event.TypeWorkflowStarted, r.ID, map[string]interface{}{
			"authorizationId": r.ID,
			"patientId":       r.PatientID,
			"procedureCode":   r.ProcedureCode,
			"urgency":         r.Urgency.String(),
			"actor":           actor,
		}).At(now),
	})

	evaluation := o.rules.EvaluateInitial(ctx, r)
	r.AddRequiredDocuments(evaluation.RequiredDocuments...)
	r.MissingDocuments = r.ComputeMissingDocuments()
	r.Revision++

	if len(r.Documents) > 0 {
		t.wc.PendingValidation = o.validateDocuments(ctx, r.ID, r.Documents)
	}

	// The preview differs from r by the pending validations, so it gets the revision the
	// request will have once they are recorded.
	preview := r.Clone()
	applyValidations(preview, t.wc.PendingValidation)
	preview.Revision = r.Revision + 1

	decision := o.rules.CheckAutoApproval(ctx, preview)
	t.wc.AutoApproval = decision

	action := domainwf.ActionInitiate
	if decision.Approved {
		action = domainwf.ActionApprove
		r.EligibilityConfirmed = true
	}

	if _, err := o.executeLocked(ctx, t, action, actor, nil); err != nil {
		return t.wc.Request.Clone(), fmt.Errorf("failed to %s authorization %s: %w", action, r.ID, err)
	}

	if decision.Approved {
		o.metrics.recordAutoApproval()
		o.dispatcher.Publish(ctx, o.ruleActionEvents(t.wc, decision))
	}

	return t.wc.Request.Clone(), nil
}

// prepareRequest copies the caller's request and resets everything the workflow owns
func (o *orchestrator) prepareRequest(req *entity.AuthorizationRequest, now time.Time) *entity.AuthorizationRequest {
	r := req.Clone()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.State = domainwf.StateInitiated
	r.Revision = 0
	r.MedicalReview = nil
	r.AdministrativeReview = nil
	r.Appeals = nil
	r.AuditTrail = nil
	r.EscalationLevel = 0
	r.HeldFrom = ""
	r.EligibilityConfirmed = false
	r.CreatedAt = now
	r.UpdatedAt = now
	r.CompletedAt = nil
	if r.ExpiresAt == nil && o.config.RequestTTL > 0 {
		expiresAt := now.Add(o.config.RequestTTL)
		r.ExpiresAt = &expiresAt
	}

	for i := range r.Documents {
		doc := &r.Documents[i]
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		if doc.UploadedAt.IsZero() {
			doc.UploadedAt = now
		}
		doc.IsValid = false
		doc.ValidationNotes = ""
		doc.MissingFields = nil
		doc.ValidatedAt = nil
	}
	r.MissingDocuments = r.ComputeMissingDocuments()

	return r
}

// admit registers a new tracked entry, enforcing uniqueness and the capacity limit
func (o *orchestrator) admit(id string, t *tracked) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed.Load() {
		return ErrClosed
	}
	if _, exists := o.active[id]; exists {
		return fmt.Errorf("%w: %s", ErrWorkflowExists, id)
	}
	if o.config.MaxActiveWorkflows > 0 && len(o.active) >= o.config.MaxActiveWorkflows {
		return fmt.Errorf("%w: limit %d", ErrCapacityExceeded, o.config.MaxActiveWorkflows)
	}
	o.active[id] = t
	return nil
}

func (o *orchestrator) lookup(id string) (*tracked, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.active[id]
	return t, ok
}

// ExecuteAction fires an action against a tracked request
func (o *orchestrator) ExecuteAction(ctx context.Context, id string, action domainwf.Action, actor string, metadata map[string]interface{}) (*domainwf.Result, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}
	t, ok := o.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return o.executeLocked(ctx, t, action, actor, metadata)
}

// executeLocked runs one transition against a clone and commits it on success.
// The caller holds t.mu.
func (o *orchestrator) executeLocked(ctx context.Context, t *tracked, action domainwf.Action, actor string, metadata map[string]interface{}) (*domainwf.Result, error) {
	if t.removed {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, t.wc.Request.ID)
	}

	now := o.clock.Now()
	next := t.wc.Clone()
	next.Actor = actor
	next.Now = now
	next.Input = copyMap(metadata)
	if next.Input == nil {
		next.Input = make(map[string]interface{})
	}

	if err := o.applyActionInput(ctx, next, action, actor); err != nil {
		return nil, err
	}

	result, err := o.machine.Fire(ctx, next, action, actor)
	if err != nil {
		o.logger.Warn("Transition rejected",
			zap.String("authorization_id", next.Request.ID),
			zap.String("state", next.Request.State.String()),
			zap.String("action", action.String()),
			zap.String("actor", actor),
			zap.Error(err))
		return nil, err
	}

	entry := o.commit(next, result)
	t.wc = next

	o.logger.Info("Transition committed",
		zap.String("authorization_id", result.SubjectID),
		zap.String("from", result.From.String()),
		zap.String("to", result.To.String()),
		zap.String("action", action.String()),
		zap.String("actor", actor),
		zap.Strings("side_effects", result.SideEffects))

	o.persist(ctx, next.Request, &entry)
	o.dispatcher.Publish(ctx, result.Events)
	o.afterTransition(ctx, t, result)

	return result, nil
}

// commit writes a successful transition onto the clone
func (o *orchestrator) commit(wc *WorkflowContext, result *domainwf.Result) entity.AuditEntry {
	req := wc.Request
	req.State = result.To
	req.Revision++
	req.UpdatedAt = result.Timestamp
	if result.To.IsTerminal() {
		completedAt := result.Timestamp
		req.CompletedAt = &completedAt
	}

	entry := entity.AuditEntry{
		Timestamp: result.Timestamp,
		Actor:     result.Actor,
		Action:    result.Action.String(),
		FromState: result.From.String(),
		ToState:   result.To.String(),
	}
	if len(wc.Input) > 0 || len(result.SideEffects) > 0 {
		entry.Details = copyMap(wc.Input)
		if entry.Details == nil {
			entry.Details = make(map[string]interface{})
		}
		if len(result.SideEffects) > 0 {
			entry.Details["sideEffects"] = append([]string(nil), result.SideEffects...)
		}
	}
	req.AuditTrail = append(req.AuditTrail, entry)

	for k, v := range wc.Input {
		if wc.Metadata == nil {
			wc.Metadata = make(map[string]interface{})
		}
		wc.Metadata[k] = v
	}
	wc.Input = nil
	wc.PendingValidation = nil

	return entry
}

// persist stores the snapshot and the audit entry. Failures are logged; the in-memory
// context stays authoritative and Reconcile re-syncs later.
func (o *orchestrator) persist(ctx context.Context, req *entity.AuthorizationRequest, entry *entity.AuditEntry) {
	if o.repo == nil && (o.audit == nil || entry == nil) {
		return
	}

	write := func(ctx context.Context) error {
		if o.repo != nil {
			if err := o.repo.Save(ctx, req); err != nil {
				return fmt.Errorf("failed to save authorization: %w", err)
			}
		}
		if o.audit != nil && entry != nil {
			if err := o.audit.RecordStateTransition(ctx, req.ID, *entry); err != nil {
				return fmt.Errorf("failed to record transition: %w", err)
			}
		}
		return nil
	}

	var err error
	if o.txManager != nil {
		err = o.txManager.WithTransaction(ctx, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		o.logger.Error("Failed to persist authorization",
			zap.String("authorization_id", req.ID),
			zap.String("state", req.State.String()),
			zap.Int64("revision", req.Revision),
			zap.Error(err))
	}
}

// afterTransition finalizes terminal requests or arms the next step
func (o *orchestrator) afterTransition(ctx context.Context, t *tracked, result *domainwf.Result) {
	req := t.wc.Request

	o.cancelDeadline(ctx, req.ID, stepKey(result.From))
	if !result.To.IsReview() {
		o.cancelDeadline(ctx, req.ID, keyEscalation)
	}
	if result.From == domainwf.StateRejected {
		o.cancelDeadline(ctx, req.ID, keyAppealWindow)
	}

	switch {
	case result.To == domainwf.StateRejected && len(req.Appeals) == 0 && o.config.AppealWindow > 0:
		o.armAppealWindow(ctx, req.ID)
		return
	case result.To.IsTerminal():
		o.finalizeLocked(ctx, t)
		return
	}

	o.armStep(ctx, req)
	for _, evt := range result.Events {
		if evt.Type == event.TypeAssignReviewer {
			o.armEscalation(ctx, req)
			break
		}
	}

	o.runStepActions(ctx, t, result)
}

// runStepActions triggers the automatic work declared for the step just entered
func (o *orchestrator) runStepActions(ctx context.Context, t *tracked, result *domainwf.Result) {
	req := t.wc.Request

	switch result.To {
	case domainwf.StateDocumentCollection:
		if !o.config.AutoProcessDocuments || len(req.Documents) == 0 {
			return
		}
		id := req.ID
		bg := context.WithoutCancel(ctx)
		o.spawn(func() {
			if _, err := o.ProcessDocuments(bg, id); err != nil {
				o.logger.Warn("Automatic document processing did not advance request",
					zap.String("authorization_id", id), zap.Error(err))
			}
		})

	case domainwf.StateAdministrativeReview:
		if result.From != domainwf.StateAdministrativeReview {
			o.recheckEligibility(ctx, t.wc)
			o.persist(ctx, t.wc.Request, nil)
		}
	}
}

// spawn runs fn in the background unless the orchestrator is closed
func (o *orchestrator) spawn(fn func()) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed.Load() {
		return false
	}
	o.background.Go(fn)
	return true
}

// recheckEligibility refreshes the ERP-backed facts of a tracked request
func (o *orchestrator) recheckEligibility(ctx context.Context, wc *WorkflowContext) {
	if o.checker == nil {
		return
	}
	req := wc.Request
	req.EligibilityConfirmed = o.checker.IsEligible(ctx, req)
	req.CoverageAmount = o.checker.CoverageAmount(ctx, req)
	req.Revision++

	o.logger.Info("Eligibility re-checked",
		zap.String("authorization_id", req.ID),
		zap.Bool("eligible", req.EligibilityConfirmed),
		zap.Float64("coverage_amount", req.CoverageAmount))
}

// finalizeLocked releases everything held for a completed request. The caller holds t.mu.
func (o *orchestrator) finalizeLocked(ctx context.Context, t *tracked) {
	if t.removed {
		return
	}
	req := t.wc.Request
	now := o.clock.Now()

	o.cancelAllDeadlines(ctx, req.ID)

	o.mu.Lock()
	delete(o.active, req.ID)
	o.mu.Unlock()
	t.removed = true

	o.rules.Forget(req.ID)
	o.metrics.completed(req.State, req.CreatedAt, now)

	if o.repo != nil {
		if err := o.repo.MarkCompleted(ctx, req.ID, now); err != nil {
			o.logger.Error("Failed to mark authorization completed",
				zap.String("authorization_id", req.ID), zap.Error(err))
		}
	}

	o.logger.Info("Workflow completed",
		zap.String("authorization_id", req.ID),
		zap.String("final_state", req.State.String()),
		zap.Duration("processing_time", now.Sub(req.CreatedAt)))

	o.dispatcher.Publish(ctx, []*event.Event{
		event.NewEvent(event.TypeWorkflowCompleted, req.ID, map[string]interface{}{
			"authorizationId": req.ID,
			"finalState":      req.State.String(),
			"processingTime":  now.Sub(req.CreatedAt).Seconds(),
		}).At(now),
	})
}

// GetWorkflowStatus returns the tracked context, or the stored snapshot once completed
func (o *orchestrator) GetWorkflowStatus(ctx context.Context, id string) (*WorkflowStatus, error) {
	if t, ok := o.lookup(id); ok {
		t.mu.Lock()
		defer t.mu.Unlock()
		if !t.removed {
			wc := t.wc
			return &WorkflowStatus{
				Request:          wc.Request.Clone(),
				Actor:            wc.Actor,
				Metadata:         copyMap(wc.Metadata),
				Active:           true,
				PermittedActions: o.machine.PermittedActions(wc.Request.State),
				Deadlines:        o.timers.list(id),
				AutoApproval:     wc.AutoApproval,
			}, nil
		}
	}

	if o.repo == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	req, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load authorization %s: %w", id, err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return &WorkflowStatus{
		Request:          req,
		PermittedActions: []domainwf.Action{},
	}, nil
}

// GetPerformanceMetrics reports counters over completed workflows
func (o *orchestrator) GetPerformanceMetrics() PerformanceMetrics {
	o.mu.RLock()
	active := len(o.active)
	o.mu.RUnlock()

	m := o.metrics.snapshot()
	m.ActiveWorkflows = active
	m.CacheStats = o.rules.CacheStats()
	return m
}

// Close stops every watchdog and waits for background work
func (o *orchestrator) Close() error {
	o.mu.Lock()
	if o.closed.Swap(true) {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	o.timers.stopAll()
	o.background.Wait()
	o.logger.Info("Workflow orchestrator closed")
	return nil
}
