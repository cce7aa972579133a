package rules

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/garyjia/prior-auth/internal/domain/rule"
)

// predicate is a compiled condition
type predicate func(ctx context.Context, f *Facts) bool

// compileCondition resolves the path, checks the operator against the path's kind and
// coerces the value once so evaluation never fails at runtime.
func compileCondition(c rule.Condition) (predicate, bool, error) {
	fld, ok := lookupField(c.Path)
	if !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownPath, c.Path)
	}
	if !c.Operator.IsValid() {
		return nil, false, fmt.Errorf("%w: %q", ErrUnsupportedOperator, c.Operator)
	}

	var (
		p   predicate
		err error
	)
	switch fld.kind {
	case KindNumber:
		p, err = compileNumber(fld, c)
	case KindString:
		p, err = compileString(fld, c)
	case KindStringList:
		p, err = compileList(fld, c)
	case KindBool:
		p, err = compileBool(fld, c)
	case KindTime:
		p, err = compileTime(fld, c)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownPath, c.Path)
	}
	if err != nil {
		return nil, false, err
	}
	return p, fld.volatile, nil
}

func unsupported(fld field, op rule.Operator) error {
	return fmt.Errorf("%w: %q on %s path %s", ErrUnsupportedOperator, op, fld.kind, fld.name)
}

func invalidValue(fld field, value interface{}, err error) error {
	return fmt.Errorf("%w: %v for %s path %s: %v", ErrInvalidValue, value, fld.kind, fld.name, err)
}

func compileNumber(fld field, c rule.Condition) (predicate, error) {
	switch c.Operator {
	case rule.OpIn, rule.OpNotIn:
		raw := reflect.ValueOf(c.Value)
		if raw.Kind() != reflect.Slice && raw.Kind() != reflect.Array {
			return nil, invalidValue(fld, c.Value, fmt.Errorf("expected a list"))
		}
		set := make(map[float64]bool, raw.Len())
		for i := 0; i < raw.Len(); i++ {
			item := raw.Index(i).Interface()
			n, err := cast.ToFloat64E(item)
			if err != nil {
				return nil, invalidValue(fld, item, err)
			}
			set[n] = true
		}
		want := c.Operator == rule.OpIn
		return func(ctx context.Context, f *Facts) bool {
			return set[fld.number(ctx, f)] == want
		}, nil
	case rule.OpContains, rule.OpRegex:
		return nil, unsupported(fld, c.Operator)
	}

	target, err := cast.ToFloat64E(c.Value)
	if err != nil {
		return nil, invalidValue(fld, c.Value, err)
	}
	compare := numberComparator(c.Operator)
	return func(ctx context.Context, f *Facts) bool {
		return compare(fld.number(ctx, f), target)
	}, nil
}

func numberComparator(op rule.Operator) func(a, b float64) bool {
	switch op {
	case rule.OpEqual:
		return func(a, b float64) bool { return a == b }
	case rule.OpNotEqual:
		return func(a, b float64) bool { return a != b }
	case rule.OpGreater:
		return func(a, b float64) bool { return a > b }
	case rule.OpGreaterOrEqual:
		return func(a, b float64) bool { return a >= b }
	case rule.OpLess:
		return func(a, b float64) bool { return a < b }
	default:
		return func(a, b float64) bool { return a <= b }
	}
}

func compileString(fld field, c rule.Condition) (predicate, error) {
	switch c.Operator {
	case rule.OpEqual, rule.OpNotEqual:
		target, err := cast.ToStringE(c.Value)
		if err != nil {
			return nil, invalidValue(fld, c.Value, err)
		}
		want := c.Operator == rule.OpEqual
		return func(ctx context.Context, f *Facts) bool {
			return (fld.text(ctx, f) == target) == want
		}, nil
	case rule.OpIn, rule.OpNotIn:
		set, err := stringSet(fld, c.Value)
		if err != nil {
			return nil, err
		}
		want := c.Operator == rule.OpIn
		return func(ctx context.Context, f *Facts) bool {
			return set[fld.text(ctx, f)] == want
		}, nil
	case rule.OpContains:
		target, err := cast.ToStringE(c.Value)
		if err != nil {
			return nil, invalidValue(fld, c.Value, err)
		}
		return func(ctx context.Context, f *Facts) bool {
			return strings.Contains(fld.text(ctx, f), target)
		}, nil
	case rule.OpRegex:
		pattern, err := cast.ToStringE(c.Value)
		if err != nil {
			return nil, invalidValue(fld, c.Value, err)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, invalidValue(fld, c.Value, err)
		}
		return func(ctx context.Context, f *Facts) bool {
			return re.MatchString(fld.text(ctx, f))
		}, nil
	default:
		return nil, unsupported(fld, c.Operator)
	}
}

// compileList evaluates list paths: contains tests membership, in holds when any
// element is in the value set, not_in when none is.
func compileList(fld field, c rule.Condition) (predicate, error) {
	switch c.Operator {
	case rule.OpContains:
		target, err := cast.ToStringE(c.Value)
		if err != nil {
			return nil, invalidValue(fld, c.Value, err)
		}
		return func(ctx context.Context, f *Facts) bool {
			for _, item := range fld.list(ctx, f) {
				if item == target {
					return true
				}
			}
			return false
		}, nil
	case rule.OpIn, rule.OpNotIn:
		set, err := stringSet(fld, c.Value)
		if err != nil {
			return nil, err
		}
		want := c.Operator == rule.OpIn
		return func(ctx context.Context, f *Facts) bool {
			matched := false
			for _, item := range fld.list(ctx, f) {
				if set[item] {
					matched = true
					break
				}
			}
			return matched == want
		}, nil
	default:
		return nil, unsupported(fld, c.Operator)
	}
}

func compileBool(fld field, c rule.Condition) (predicate, error) {
	if c.Operator != rule.OpEqual && c.Operator != rule.OpNotEqual {
		return nil, unsupported(fld, c.Operator)
	}
	target, err := cast.ToBoolE(c.Value)
	if err != nil {
		return nil, invalidValue(fld, c.Value, err)
	}
	want := c.Operator == rule.OpEqual
	return func(ctx context.Context, f *Facts) bool {
		return (fld.boolean(ctx, f) == target) == want
	}, nil
}

func compileTime(fld field, c rule.Condition) (predicate, error) {
	switch c.Operator {
	case rule.OpIn, rule.OpNotIn, rule.OpContains, rule.OpRegex:
		return nil, unsupported(fld, c.Operator)
	}
	target, err := cast.ToTimeE(c.Value)
	if err != nil {
		return nil, invalidValue(fld, c.Value, err)
	}
	compare := numberComparator(c.Operator)
	return func(ctx context.Context, f *Facts) bool {
		return compare(float64(fld.instant(ctx, f).Sub(target)), 0)
	}, nil
}

func stringSet(fld field, value interface{}) (map[string]bool, error) {
	items, err := cast.ToStringSliceE(value)
	if err != nil {
		return nil, invalidValue(fld, value, err)
	}
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set, nil
}
