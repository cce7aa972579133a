package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/garyjia/prior-auth/internal/application/dispatcher"
	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/application/rules"
	"github.com/garyjia/prior-auth/internal/domain/entity"
	"github.com/garyjia/prior-auth/internal/domain/event"
	"github.com/garyjia/prior-auth/internal/domain/rule"
	domainwf "github.com/garyjia/prior-auth/internal/domain/workflow"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

// captureDispatcher records published outboxes synchronously
type captureDispatcher struct {
	dispatcher.Dispatcher
	mu     sync.Mutex
	events []*event.Event
}

func (c *captureDispatcher) Publish(ctx context.Context, events []*event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
}

func (c *captureDispatcher) ofType(t event.Type) []*event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []*event.Event
	for _, evt := range c.events {
		if evt.Type == t {
			result = append(result, evt)
		}
	}
	return result
}

func (c *captureDispatcher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type stubChecker struct {
	mu       sync.Mutex
	eligible bool
	coverage float64
	calls    int
}

func (s *stubChecker) IsEligible(ctx context.Context, req *entity.AuthorizationRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.eligible
}

func (s *stubChecker) CoverageAmount(ctx context.Context, req *entity.AuthorizationRequest) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coverage
}

func (s *stubChecker) setEligible(eligible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eligible = eligible
}

// stubValidator decides by file name: "invalid" fails validation, "error" returns an
// error and "panic" panics. Everything else is valid.
type stubValidator struct {
	validateFunc func(ctx context.Context, doc entity.Document, ocr *port.OCRResult) (*port.ValidationResult, error)
}

func (s *stubValidator) ValidateDocument(ctx context.Context, doc entity.Document, ocr *port.OCRResult) (*port.ValidationResult, error) {
	if s.validateFunc != nil {
		return s.validateFunc(ctx, doc, ocr)
	}
	switch {
	case strings.Contains(doc.FileName, "panic"):
		panic("corrupt pdf")
	case strings.Contains(doc.FileName, "error"):
		return nil, errors.New("validator unavailable")
	case strings.Contains(doc.FileName, "invalid"):
		return &port.ValidationResult{IsValid: false, Notes: "signature missing", MissingFields: []string{"signature"}}, nil
	}
	if ocr == nil || ocr.Text == "" {
		return nil, errors.New("no text extracted")
	}
	return &port.ValidationResult{IsValid: true, Notes: "ok"}, nil
}

type stubExtractor struct{}

func (stubExtractor) ExtractText(ctx context.Context, doc entity.Document) (*port.OCRResult, error) {
	return &port.OCRResult{Text: "text of " + doc.FileName, PageCount: 1}, nil
}

type stubReviewers struct {
	mu    sync.Mutex
	count map[string]int
	err   error
}

func (s *stubReviewers) NextReviewer(ctx context.Context, role string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if s.count == nil {
		s.count = make(map[string]int)
	}
	s.count[role]++
	return fmt.Sprintf("%s-reviewer-%d", role, s.count[role]), nil
}

type memoryRepo struct {
	mu        sync.Mutex
	requests  map[string]*entity.AuthorizationRequest
	completed map[string]time.Time
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		requests:  make(map[string]*entity.AuthorizationRequest),
		completed: make(map[string]time.Time),
	}
}

func (r *memoryRepo) Save(ctx context.Context, req *entity.AuthorizationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.ID] = req.Clone()
	return nil
}

func (r *memoryRepo) GetByID(ctx context.Context, id string) (*entity.AuthorizationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[id].Clone(), nil
}

func (r *memoryRepo) ListActive(ctx context.Context) ([]*entity.AuthorizationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*entity.AuthorizationRequest
	for id, req := range r.requests {
		if _, done := r.completed[id]; !done {
			result = append(result, req.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *memoryRepo) MarkCompleted(ctx context.Context, id string, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed[id] = completedAt
	return nil
}

func (r *memoryRepo) isCompleted(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.completed[id]
	return ok
}

type memoryDeadlines struct {
	mu   sync.Mutex
	rows map[string]port.Deadline
}

func newMemoryDeadlines() *memoryDeadlines {
	return &memoryDeadlines{rows: make(map[string]port.Deadline)}
}

func (m *memoryDeadlines) Upsert(ctx context.Context, d port.Deadline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[d.AuthorizationID+"/"+d.Key] = d
	return nil
}

func (m *memoryDeadlines) Delete(ctx context.Context, id, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id+"/"+key)
	return nil
}

func (m *memoryDeadlines) DeleteAll(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, d := range m.rows {
		if d.AuthorizationID == id {
			delete(m.rows, k)
		}
	}
	return nil
}

func (m *memoryDeadlines) List(ctx context.Context) ([]port.Deadline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]port.Deadline, 0, len(m.rows))
	for _, d := range m.rows {
		result = append(result, d)
	}
	return result, nil
}

func (m *memoryDeadlines) keys(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for _, d := range m.rows {
		if d.AuthorizationID == id {
			keys = append(keys, d.Key)
		}
	}
	sort.Strings(keys)
	return keys
}

func testRules() []rule.Rule {
	return []rule.Rule{
		{
			ID:         "eligible-patient",
			Name:       "Patient is not blocked",
			Type:       rule.TypeEligibility,
			Conditions: []rule.Condition{{Path: "patient.id", Operator: rule.OpNotEqual, Value: "blocked"}},
			Priority:   100,
			Active:     true,
		},
		{
			ID:         "medical-report-required",
			Name:       "Medical report required",
			Type:       rule.TypeMedicalNecessity,
			Conditions: []rule.Condition{{Path: "procedure.estimatedCost", Operator: rule.OpGreater, Value: 0}},
			Actions: []rule.Action{{
				Type:   rule.ActionRequireDocuments,
				Params: map[string]interface{}{"documents": []string{entity.DocumentTypeMedicalReport}},
			}},
			Priority: 50,
			Active:   true,
		},
		{
			ID:         "auto-routine",
			Name:       "Routine low cost procedures",
			Type:       rule.TypeAutoApproval,
			Conditions: []rule.Condition{{Path: "procedure.estimatedCost", Operator: rule.OpLess, Value: 500}},
			Actions: []rule.Action{
				{Type: rule.ActionSetDecision, Params: map[string]interface{}{"decision": "APPROVED"}},
				{Type: rule.ActionSendNotification, Params: map[string]interface{}{"title": "Auto-approved", "message": "Approved by rule"}},
				{Type: rule.ActionSyncWithExternalSystem, Params: map[string]interface{}{"system": "tasy"}},
			},
			Priority: 10,
			Active:   true,
		},
	}
}

type fixture struct {
	orch      *orchestrator
	clock     fakeClock
	events    *captureDispatcher
	checker   *stubChecker
	validator *stubValidator
	reviewers *stubReviewers
	repo      *memoryRepo
	deadlines *memoryDeadlines
	config    Config
}

type fixtureOption func(*fixture)

func withConfig(mutate func(*Config)) fixtureOption {
	return func(f *fixture) {
		mutate(&f.config)
	}
}

// sharingStores makes a second orchestrator over the stores and clock of another
func sharingStores(other *fixture) fixtureOption {
	return func(f *fixture) {
		f.clock = other.clock
		f.repo = other.repo
		f.deadlines = other.deadlines
		f.checker = other.checker
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	f := &fixture{
		clock:     clockwork.NewFakeClockAt(testStart),
		events:    &captureDispatcher{},
		checker:   &stubChecker{eligible: true, coverage: 250},
		validator: &stubValidator{},
		reviewers: &stubReviewers{},
		repo:      newMemoryRepo(),
		deadlines: newMemoryDeadlines(),
		config:    DefaultConfig(),
	}
	f.config.AutoProcessDocuments = false
	for _, opt := range opts {
		opt(f)
	}

	logger := zaptest.NewLogger(t)
	engine, err := rules.NewEngine(testRules(), logger,
		rules.WithEligibilityChecker(f.checker),
		rules.WithClock(f.clock))
	require.NoError(t, err)

	orch, err := NewOrchestrator(engine,
		WithClock(f.clock),
		WithLogger(logger),
		WithDispatcher(f.events),
		WithRepository(f.repo),
		WithDeadlineRepository(f.deadlines),
		WithDocumentServices(stubExtractor{}, f.validator),
		WithEligibilityChecker(f.checker),
		WithReviewerDirectory(f.reviewers),
		WithConfig(f.config))
	require.NoError(t, err)

	f.orch = orch.(*orchestrator)
	t.Cleanup(func() { _ = f.orch.Close() })
	return f
}

func newRequest(cost float64, urgency entity.Urgency, docs ...entity.Document) *entity.AuthorizationRequest {
	return &entity.AuthorizationRequest{
		PatientID:     "patient-1",
		ProviderID:    "provider-1",
		ProcedureID:   "proc-1",
		ProcedureCode: "70553",
		Justification: "persistent headaches",
		Urgency:       urgency,
		EstimatedCost: cost,
		Documents:     docs,
	}
}

func document(docType, fileName string) entity.Document {
	return entity.Document{Type: docType, FileName: fileName}
}

func (f *fixture) status(t *testing.T, id string) *WorkflowStatus {
	t.Helper()
	status, err := f.orch.GetWorkflowStatus(context.Background(), id)
	require.NoError(t, err)
	return status
}

func (f *fixture) state(t *testing.T, id string) domainwf.State {
	t.Helper()
	return f.status(t, id).Request.State
}

func (f *fixture) tracked(id string) bool {
	_, ok := f.orch.lookup(id)
	return ok
}

func (f *fixture) eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

// startInMedicalReview starts a request that needs manual review and submits its documents
func (f *fixture) startInMedicalReview(t *testing.T, urgency entity.Urgency) string {
	t.Helper()
	ctx := context.Background()

	started, err := f.orch.StartWorkflow(ctx,
		newRequest(900, urgency, document(entity.DocumentTypeMedicalReport, "report.pdf")), "provider-1")
	require.NoError(t, err)
	require.Equal(t, domainwf.StateDocumentCollection, started.State)

	result, err := f.orch.ProcessDocuments(ctx, started.ID)
	require.NoError(t, err)
	require.Equal(t, domainwf.StateMedicalReview, result.To)
	return started.ID
}
