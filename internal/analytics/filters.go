package analytics

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	OperatorIs      = "is"
	OperatorIn      = "in"
	OperatorNot     = "not"
	OperatorBetween = "between"
)

// compiledFilter is a validated predicate bound to the dimension whose
// expression it constrains.
type compiledFilter struct {
	dim    *dimension
	op     string
	values []any
}

func compileFilters(specs []FilterSpec) ([]compiledFilter, error) {
	filters := make([]compiledFilter, 0, len(specs))
	for _, spec := range specs {
		f, err := compileFilter(spec)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func compileFilter(spec FilterSpec) (compiledFilter, error) {
	dim, ok := dimensionsByKey[spec.Key]
	if !ok {
		return compiledFilter{}, newError(CodeInvalidFilter, "unknown filter key %q", spec.Key)
	}

	raw, isList := spec.Value.([]any)
	if !isList {
		raw = []any{spec.Value}
	}

	op := strings.ToLower(strings.TrimSpace(spec.Operator))
	switch op {
	case OperatorIs:
		if isList {
			return compiledFilter{}, newError(CodeInvalidFilter, "filter %q: operator is takes a single value", spec.Key)
		}
	case OperatorIn, OperatorNot:
		if len(raw) == 0 {
			return compiledFilter{}, newError(CodeInvalidFilter, "filter %q: operator %s needs at least one value", spec.Key, op)
		}
	case OperatorBetween:
		if !isList || len(raw) != 2 {
			return compiledFilter{}, newError(CodeInvalidFilter, "filter %q: operator between takes exactly two values", spec.Key)
		}
		if dim.filterType == valueString {
			return compiledFilter{}, newError(CodeInvalidFilter, "filter %q: operator between is not supported", spec.Key)
		}
	default:
		return compiledFilter{}, newError(CodeInvalidFilter, "filter %q: unknown operator %q", spec.Key, spec.Operator)
	}

	values := make([]any, 0, len(raw))
	for _, v := range raw {
		value, err := dim.coerce(v)
		if err != nil {
			return compiledFilter{}, &QueryError{
				Code:    CodeInvalidFilter,
				Message: fmt.Sprintf("filter %q: %v", spec.Key, err),
				Err:     err,
			}
		}
		values = append(values, value)
	}

	return compiledFilter{dim: dim, op: op, values: values}, nil
}

// coerce checks one filter value against the dimension's value type and
// returns it in the form the store compares.
func (d *dimension) coerce(v any) (any, error) {
	switch d.filterType {
	case valueInt:
		return toInt64(v)
	case valueBucket:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected a %s string, got %T", d.bucket, v)
		}
		t, err := d.bucket.ParseKey(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		return d.bucket.Key(t), nil
	default:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %T", v)
		}
		s = strings.TrimSpace(s)
		if d.normalize != nil {
			s = d.normalize(s)
		}
		return s, nil
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected an integer, got %v", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case json.Number:
		return n.Int64()
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}

// sql renders the predicate against sc.
func (f compiledFilter) sql(sc scope) (string, []any) {
	expr := f.dim.idColumn().expr(sc)

	switch f.op {
	case OperatorIs:
		return expr + " = ?", f.values
	case OperatorIn:
		return fmt.Sprintf("%s IN (%s)", expr, placeholders(len(f.values))), f.values
	case OperatorNot:
		return fmt.Sprintf("(%s IS NULL OR %s NOT IN (%s))", expr, expr, placeholders(len(f.values))), f.values
	default:
		return expr + " BETWEEN ? AND ?", f.values
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func hasFilter(filters []compiledFilter, key string) bool {
	for _, f := range filters {
		if f.dim.key == key {
			return true
		}
	}
	return false
}
