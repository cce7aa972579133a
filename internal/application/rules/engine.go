package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cast"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/domain/entity"
	"github.com/garyjia/prior-auth/internal/domain/rule"
)

// DefaultAutoApprovalThreshold is the estimated cost at or above which auto-approval is refused
const DefaultAutoApprovalThreshold = 500.0

// Engine evaluates business rules against authorization requests
type Engine interface {
	// EvaluateInitial evaluates every effective rule scoped to the request and reports the
	// passing rules' actions without executing them
	EvaluateInitial(ctx context.Context, req *entity.AuthorizationRequest) *InitialEvaluation

	// CheckAutoApproval returns the first passing auto_approval rule by descending priority,
	// subject to the cost, urgency, document and eligibility requirements
	CheckAutoApproval(ctx context.Context, req *entity.AuthorizationRequest) *AutoApprovalDecision

	// ValidateRequest checks structural completeness and every eligibility rule, aggregating all failures
	ValidateRequest(ctx context.Context, req *entity.AuthorizationRequest) error

	// AddRule compiles and adds a rule
	AddRule(r rule.Rule) error

	// UpdateRule replaces a rule and drops its cached results
	UpdateRule(id string, r rule.Rule) error

	// Rules returns copies of all rules in evaluation order
	Rules() []rule.Rule

	// Rule returns a copy of one rule
	Rule(id string) (rule.Rule, bool)

	// ClearCache drops every cached result
	ClearCache()

	// Forget drops the cached results of one authorization
	Forget(authorizationID string)

	// CacheStats reports cache usage
	CacheStats() CacheStats
}

// RuleOutcome is the result of one rule during an evaluation pass
type RuleOutcome struct {
	RuleID  string        `json:"rule_id"`
	Name    string        `json:"name"`
	Type    rule.Type     `json:"type"`
	Passed  bool          `json:"passed"`
	Actions []rule.Action `json:"actions,omitempty"`
}

// InitialEvaluation is the result of EvaluateInitial
type InitialEvaluation struct {
	Outcomes          []RuleOutcome `json:"outcomes"`
	RequiredDocuments []string      `json:"required_documents"`
}

// AutoApprovalDecision is the result of CheckAutoApproval
type AutoApprovalDecision struct {
	Approved bool          `json:"approved"`
	RuleID   string        `json:"rule_id,omitempty"`
	RuleName string        `json:"rule_name,omitempty"`
	Actions  []rule.Action `json:"actions,omitempty"`
	Reasons  []string      `json:"reasons,omitempty"`
}

// Config holds rules engine settings
type Config struct {
	AutoApprovalThreshold float64
}

type compiledRule struct {
	rule       rule.Rule
	predicates []predicate
	cacheable  bool
}

// ruleSet is immutable once published; writers build a new one.
type ruleSet struct {
	ordered []*compiledRule
	byID    map[string]*compiledRule
}

func (s *ruleSet) with(cr *compiledRule) *ruleSet {
	next := &ruleSet{
		ordered: make([]*compiledRule, 0, len(s.ordered)+1),
		byID:    make(map[string]*compiledRule, len(s.byID)+1),
	}
	for _, existing := range s.ordered {
		if existing.rule.ID == cr.rule.ID {
			continue
		}
		next.ordered = append(next.ordered, existing)
		next.byID[existing.rule.ID] = existing
	}
	next.ordered = append(next.ordered, cr)
	next.byID[cr.rule.ID] = cr

	sort.SliceStable(next.ordered, func(i, j int) bool {
		a, b := next.ordered[i].rule, next.ordered[j].rule
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	})
	return next
}

// ruleEngine is the concrete implementation of Engine
type ruleEngine struct {
	writeMu  sync.Mutex
	rules    atomic.Pointer[ruleSet]
	cache    *resultCache
	checker  EligibilityChecker
	validate *validator.Validate
	clock    clockwork.Clock
	logger   *zap.Logger
	config   Config
}

// Option configures the rules engine
type Option func(*ruleEngine)

// WithEligibilityChecker sets the ERP-backed eligibility source
func WithEligibilityChecker(checker EligibilityChecker) Option {
	return func(e *ruleEngine) {
		e.checker = checker
	}
}

// WithClock sets the clock used for effective windows and the "now" path
func WithClock(clock clockwork.Clock) Option {
	return func(e *ruleEngine) {
		e.clock = clock
	}
}

// WithConfig sets engine settings
func WithConfig(cfg Config) Option {
	return func(e *ruleEngine) {
		if cfg.AutoApprovalThreshold > 0 {
			e.config.AutoApprovalThreshold = cfg.AutoApprovalThreshold
		}
	}
}

// NewEngine creates a rules engine loaded with the given rules. Every rule is
// compiled up front; all invalid rules are reported together.
func NewEngine(initial []rule.Rule, logger *zap.Logger, opts ...Option) (Engine, error) {
	e := &ruleEngine{
		cache:    newResultCache(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		clock:    clockwork.NewRealClock(),
		logger:   logger,
		config:   Config{AutoApprovalThreshold: DefaultAutoApprovalThreshold},
	}
	for _, opt := range opts {
		opt(e)
	}

	set := &ruleSet{byID: make(map[string]*compiledRule)}
	var errs error
	for _, r := range initial {
		if _, exists := set.byID[r.ID]; exists {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", ErrRuleExists, r.ID))
			continue
		}
		cr, err := compileRule(r)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		set = set.with(cr)
	}
	if errs != nil {
		return nil, errs
	}

	e.rules.Store(set)
	logger.Info("Rules engine initialized", zap.Int("rules", len(set.ordered)))
	return e, nil
}

func compileRule(r rule.Rule) (*compiledRule, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidRule)
	}
	if !r.Type.IsValid() {
		return nil, fmt.Errorf("%w: rule %s has unknown type %q", ErrInvalidRule, r.ID, r.Type)
	}

	cr := &compiledRule{rule: r.Clone(), cacheable: true}
	var errs error
	for _, c := range r.Conditions {
		p, volatile, err := compileCondition(c)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("rule %s: %w", r.ID, err))
			continue
		}
		cr.predicates = append(cr.predicates, p)
		if volatile {
			cr.cacheable = false
		}
	}
	if errs != nil {
		return nil, errs
	}
	return cr, nil
}

// evaluate runs every predicate of the rule, consulting the result cache for
// cacheable rules on tracked requests.
func (e *ruleEngine) evaluate(ctx context.Context, cr *compiledRule, facts *Facts) bool {
	req := facts.Request
	useCache := cr.cacheable && req.ID != ""
	if useCache {
		if passed, ok := e.cache.get(cr.rule.ID, req.ID, req.Revision); ok {
			return passed
		}
	}

	passed := true
	for _, p := range cr.predicates {
		if !p(ctx, facts) {
			passed = false
			break
		}
	}

	if useCache {
		e.cache.put(cr.rule.ID, req.ID, req.Revision, passed)
	}
	return passed
}

// applicable returns the effective rules scoped to the request, optionally filtered by type
func (e *ruleEngine) applicable(req *entity.AuthorizationRequest, facts *Facts, types ...rule.Type) []*compiledRule {
	var result []*compiledRule
	for _, cr := range e.rules.Load().ordered {
		if !cr.rule.IsEffective(facts.Now) || !cr.rule.AppliesTo(req.ProcedureCategory, req.ProcedureCode) {
			continue
		}
		if len(types) > 0 && !containsType(types, cr.rule.Type) {
			continue
		}
		result = append(result, cr)
	}
	return result
}

func containsType(types []rule.Type, t rule.Type) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// EvaluateInitial evaluates every effective rule scoped to the request
func (e *ruleEngine) EvaluateInitial(ctx context.Context, req *entity.AuthorizationRequest) *InitialEvaluation {
	facts := newFacts(req, e.clock.Now(), e.checker)
	result := &InitialEvaluation{
		Outcomes:          make([]RuleOutcome, 0),
		RequiredDocuments: make([]string, 0),
	}
	seen := make(map[string]bool)

	for _, cr := range e.applicable(req, facts) {
		passed := e.evaluate(ctx, cr, facts)
		outcome := RuleOutcome{
			RuleID: cr.rule.ID,
			Name:   cr.rule.Name,
			Type:   cr.rule.Type,
			Passed: passed,
		}
		if passed {
			outcome.Actions = cr.rule.Clone().Actions
			for _, action := range cr.rule.Actions {
				e.logger.Debug("Rule action observed",
					zap.String("authorization_id", req.ID),
					zap.String("rule_id", cr.rule.ID),
					zap.String("action", action.Type))
			}
			for _, action := range cr.rule.ActionsOfType(rule.ActionRequireDocuments) {
				docs, err := cast.ToStringSliceE(action.Params["documents"])
				if err != nil {
					e.logger.Warn("Ignoring malformed requireDocuments action",
						zap.String("rule_id", cr.rule.ID), zap.Error(err))
					continue
				}
				for _, doc := range docs {
					if !seen[doc] {
						seen[doc] = true
						result.RequiredDocuments = append(result.RequiredDocuments, doc)
					}
				}
			}
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	e.logger.Info("Initial rules evaluated",
		zap.String("authorization_id", req.ID),
		zap.Int("evaluated", len(result.Outcomes)),
		zap.Strings("required_documents", result.RequiredDocuments))
	return result
}

// CheckAutoApproval returns the first passing auto_approval rule by descending priority.
// Cost, urgency, document and eligibility requirements must also hold; eligibility is
// checked last since it calls the ERP.
func (e *ruleEngine) CheckAutoApproval(ctx context.Context, req *entity.AuthorizationRequest) *AutoApprovalDecision {
	decision := &AutoApprovalDecision{}
	facts := newFacts(req, e.clock.Now(), e.checker)

	for _, cr := range e.applicable(req, facts, rule.TypeAutoApproval) {
		if e.evaluate(ctx, cr, facts) {
			decision.RuleID = cr.rule.ID
			decision.RuleName = cr.rule.Name
			decision.Actions = cr.rule.Clone().Actions
			break
		}
	}
	if decision.RuleID == "" {
		decision.Reasons = append(decision.Reasons, "no auto-approval rule matched")
	}

	if req.EstimatedCost >= e.config.AutoApprovalThreshold {
		decision.Reasons = append(decision.Reasons,
			fmt.Sprintf("estimated cost %.2f is not under %.2f", req.EstimatedCost, e.config.AutoApprovalThreshold))
	}
	if !req.Urgency.IsRoutine() {
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("urgency %s requires manual review", req.Urgency))
	}
	if !req.AllRequiredDocumentsProvided() {
		decision.Reasons = append(decision.Reasons, "required documents missing")
	}
	if !req.AllDocumentsValid() {
		decision.Reasons = append(decision.Reasons, "documents not all valid")
	}
	if len(decision.Reasons) == 0 && !facts.Eligible(ctx) {
		decision.Reasons = append(decision.Reasons, "patient eligibility not confirmed")
	}

	decision.Approved = len(decision.Reasons) == 0
	if !decision.Approved {
		decision.Actions = nil
	}

	e.logger.Info("Auto-approval checked",
		zap.String("authorization_id", req.ID),
		zap.Bool("approved", decision.Approved),
		zap.String("rule_id", decision.RuleID),
		zap.Strings("reasons", decision.Reasons))
	return decision
}

// ValidateRequest checks structural completeness and every eligibility rule
func (e *ruleEngine) ValidateRequest(ctx context.Context, req *entity.AuthorizationRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is required", ErrInvalidRule)
	}

	var errs error
	if err := e.validate.Struct(req); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				errs = multierr.Append(errs, fmt.Errorf("%s: failed %q validation", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = multierr.Append(errs, err)
		}
	}

	facts := newFacts(req, e.clock.Now(), e.checker)
	for _, cr := range e.applicable(req, facts, rule.TypeEligibility) {
		if !e.evaluate(ctx, cr, facts) {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", ErrRuleFailed, cr.rule.Name))
		}
	}

	return errs
}

// AddRule compiles and adds a rule
func (e *ruleEngine) AddRule(r rule.Rule) error {
	cr, err := compileRule(r)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	current := e.rules.Load()
	if _, exists := current.byID[r.ID]; exists {
		return fmt.Errorf("%w: %s", ErrRuleExists, r.ID)
	}
	e.rules.Store(current.with(cr))

	e.logger.Info("Rule added", zap.String("rule_id", r.ID), zap.String("type", string(r.Type)))
	return nil
}

// UpdateRule replaces a rule and drops its cached results
func (e *ruleEngine) UpdateRule(id string, r rule.Rule) error {
	r.ID = id
	cr, err := compileRule(r)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	current := e.rules.Load()
	if _, exists := current.byID[id]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	e.rules.Store(current.with(cr))
	e.cache.dropRule(id)

	e.logger.Info("Rule updated", zap.String("rule_id", id))
	return nil
}

// Rules returns copies of all rules in evaluation order
func (e *ruleEngine) Rules() []rule.Rule {
	set := e.rules.Load()
	result := make([]rule.Rule, 0, len(set.ordered))
	for _, cr := range set.ordered {
		result = append(result, cr.rule.Clone())
	}
	return result
}

// Rule returns a copy of one rule
func (e *ruleEngine) Rule(id string) (rule.Rule, bool) {
	cr, ok := e.rules.Load().byID[id]
	if !ok {
		return rule.Rule{}, false
	}
	return cr.rule.Clone(), true
}

// ClearCache drops every cached result
func (e *ruleEngine) ClearCache() {
	e.cache.clear()
	e.logger.Info("Rule result cache cleared")
}

// Forget drops the cached results of one authorization
func (e *ruleEngine) Forget(authorizationID string) {
	e.cache.forget(authorizationID)
}

// CacheStats reports cache usage
func (e *ruleEngine) CacheStats() CacheStats {
	return e.cache.stats()
}
