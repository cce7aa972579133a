package rules

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/garyjia/prior-auth/internal/domain/entity"
)

// EligibilityChecker answers ERP-backed questions about a request.
// IsEligible must fail closed and CoverageAmount must fail open.
type EligibilityChecker interface {
	IsEligible(ctx context.Context, req *entity.AuthorizationRequest) bool
	CoverageAmount(ctx context.Context, req *entity.AuthorizationRequest) float64
}

// Facts is the typed context a rule is evaluated against. ERP-backed facts are
// looked up at most once per evaluation pass.
type Facts struct {
	Request *entity.AuthorizationRequest
	Now     time.Time

	checker  EligibilityChecker
	eligible *bool
	coverage *float64
}

func newFacts(req *entity.AuthorizationRequest, now time.Time, checker EligibilityChecker) *Facts {
	return &Facts{Request: req, Now: now, checker: checker}
}

// Eligible reports ERP eligibility; false without a checker
func (f *Facts) Eligible(ctx context.Context) bool {
	if f.eligible == nil {
		eligible := f.checker != nil && f.checker.IsEligible(ctx, f.Request)
		f.eligible = &eligible
	}
	return *f.eligible
}

// Coverage reports the ERP coverage amount; the estimated cost without a checker
func (f *Facts) Coverage(ctx context.Context) float64 {
	if f.coverage == nil {
		amount := f.Request.EstimatedCost
		if f.checker != nil {
			amount = f.checker.CoverageAmount(ctx, f.Request)
		}
		f.coverage = &amount
	}
	return *f.coverage
}

// Kind is the value type a path resolves to
type Kind int

const (
	KindNumber Kind = iota
	KindString
	KindStringList
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindStringList:
		return "list"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// field is a typed resolver for one condition path. Exactly one resolver func is set, matching kind.
type field struct {
	name     string
	kind     Kind
	volatile bool

	number  func(ctx context.Context, f *Facts) float64
	text    func(ctx context.Context, f *Facts) string
	list    func(ctx context.Context, f *Facts) []string
	boolean func(ctx context.Context, f *Facts) bool
	instant func(ctx context.Context, f *Facts) time.Time
}

func numberField(name string, fn func(ctx context.Context, f *Facts) float64) field {
	return field{name: name, kind: KindNumber, number: fn}
}

func textField(name string, fn func(ctx context.Context, f *Facts) string) field {
	return field{name: name, kind: KindString, text: fn}
}

// fields is the fixed resolver registry. Volatile fields depend on the clock or the
// ERP and are never served from the result cache.
var fields = indexFields(
	numberField("procedure.estimatedCost", func(_ context.Context, f *Facts) float64 {
		return f.Request.EstimatedCost
	}),
	textField("procedure.code", func(_ context.Context, f *Facts) string {
		return f.Request.ProcedureCode
	}),
	textField("procedure.category", func(_ context.Context, f *Facts) string {
		return f.Request.ProcedureCategory
	}),
	textField("procedure.id", func(_ context.Context, f *Facts) string {
		return f.Request.ProcedureID
	}),
	textField("request.urgency", func(_ context.Context, f *Facts) string {
		return f.Request.Urgency.String()
	}),
	textField("request.justification", func(_ context.Context, f *Facts) string {
		return f.Request.Justification
	}),
	numberField("request.appealCount", func(_ context.Context, f *Facts) float64 {
		return float64(len(f.Request.Appeals))
	}),
	textField("patient.id", func(_ context.Context, f *Facts) string {
		return f.Request.PatientID
	}),
	textField("provider.id", func(_ context.Context, f *Facts) string {
		return f.Request.ProviderID
	}),
	numberField("documents.count", func(_ context.Context, f *Facts) float64 {
		return float64(len(f.Request.Documents))
	}),
	numberField("documents.validCount", func(_ context.Context, f *Facts) float64 {
		return float64(f.Request.ValidDocumentCount())
	}),
	numberField("documents.missingCount", func(_ context.Context, f *Facts) float64 {
		return float64(len(f.Request.ComputeMissingDocuments()))
	}),
	field{name: "documents.types", kind: KindStringList, list: func(_ context.Context, f *Facts) []string {
		types := make([]string, 0, len(f.Request.Documents))
		for t := range f.Request.ProvidedDocumentTypes() {
			types = append(types, t)
		}
		sort.Strings(types)
		return types
	}},
	field{name: "patient.eligible", kind: KindBool, volatile: true, boolean: func(ctx context.Context, f *Facts) bool {
		return f.Eligible(ctx)
	}},
	field{name: "coverage.amount", kind: KindNumber, volatile: true, number: func(ctx context.Context, f *Facts) float64 {
		return f.Coverage(ctx)
	}},
	field{name: "now", kind: KindTime, volatile: true, instant: func(_ context.Context, f *Facts) time.Time {
		return f.Now
	}},
)

func indexFields(list ...field) map[string]field {
	index := make(map[string]field, len(list))
	for _, f := range list {
		index[strings.ToLower(f.name)] = f
	}
	return index
}

func lookupField(path string) (field, bool) {
	f, ok := fields[strings.ToLower(strings.TrimSpace(path))]
	return f, ok
}

// Paths returns the condition paths rules may reference
func Paths() []string {
	paths := make([]string, 0, len(fields))
	for _, f := range fields {
		paths = append(paths, f.name)
	}
	sort.Strings(paths)
	return paths
}
