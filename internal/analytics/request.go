package analytics

import (
	"sort"
	"strings"

	"github.com/wp-statistics/wp-statistics-sub013/internal/timeframe"
)

type Format string

const (
	FormatFlat  Format = "flat"
	FormatTable Format = "table"
	FormatChart Format = "chart"
)

const (
	OrderAsc  = "ASC"
	OrderDesc = "DESC"
)

// FilterSpec is one predicate of a sub-query. Value is a scalar or a list,
// as decoded from JSON.
type FilterSpec struct {
	Key      string `json:"key"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// QuerySpec is one named sub-query of a batch.
type QuerySpec struct {
	ID         string       `json:"id"`
	Sources    []string     `json:"sources"`
	GroupBy    []string     `json:"group_by"`
	Columns    []string     `json:"columns,omitempty"`
	Filters    []FilterSpec `json:"filters,omitempty"`
	Format     Format       `json:"format"`
	Page       int          `json:"page,omitempty"`
	PerPage    int          `json:"per_page,omitempty"`
	OrderBy    string       `json:"order_by,omitempty"`
	Order      string       `json:"order,omitempty"`
	ShowTotals bool         `json:"show_totals,omitempty"`
	Compare    *bool        `json:"compare,omitempty"`
	Context    string       `json:"context,omitempty"`
}

// BatchRequest shares one date and filter context across its queries.
// Filters is keyed by dimension, then operator.
type BatchRequest struct {
	DateFrom         string                    `json:"date_from"`
	DateTo           string                    `json:"date_to"`
	Compare          bool                      `json:"compare"`
	PreviousDateFrom string                    `json:"previous_date_from,omitempty"`
	PreviousDateTo   string                    `json:"previous_date_to,omitempty"`
	Filters          map[string]map[string]any `json:"filters,omitempty"`
	Queries          []QuerySpec               `json:"queries"`
}

// BatchResponse is always well formed once the payload validated; callers
// read per-id outcomes from Items, Errors and Skipped.
type BatchResponse struct {
	Success bool                   `json:"success"`
	Items   map[string]any         `json:"items"`
	Errors  map[string]*QueryError `json:"errors,omitempty"`
	Skipped []string               `json:"skipped,omitempty"`
}

// batchContext is the validated, shared part of a request.
type batchContext struct {
	current  timeframe.DateRange
	previous *timeframe.DateRange
	compare  bool
	filters  []compiledFilter
}

func (b *batchContext) compareFor(spec QuerySpec) bool {
	if spec.Compare != nil {
		return *spec.Compare
	}
	return b.compare
}

// validate checks the payload as a whole. Any error here rejects the batch.
func (e *Engine) validate(req *BatchRequest) (*batchContext, error) {
	if req == nil {
		return nil, newError(CodeInvalidRequest, "request body is required")
	}
	if req.DateFrom == "" || req.DateTo == "" {
		return nil, newError(CodeInvalidRequest, "date_from and date_to are required")
	}
	current, err := timeframe.ParseDateRange(req.DateFrom, req.DateTo)
	if err != nil {
		return nil, &QueryError{Code: CodeInvalidRequest, Message: err.Error(), Err: err}
	}

	bc := &batchContext{current: current, compare: req.Compare}

	switch {
	case req.PreviousDateFrom != "" && req.PreviousDateTo != "":
		previous, err := timeframe.ParseDateRange(req.PreviousDateFrom, req.PreviousDateTo)
		if err != nil {
			return nil, &QueryError{Code: CodeInvalidRequest, Message: err.Error(), Err: err}
		}
		bc.previous = &previous
	case req.PreviousDateFrom != "" || req.PreviousDateTo != "":
		return nil, newError(CodeInvalidRequest, "previous_date_from and previous_date_to must be sent together")
	}

	if len(req.Queries) == 0 {
		return nil, newError(CodeInvalidRequest, "queries must not be empty")
	}
	seen := make(map[string]bool, len(req.Queries))
	for i, q := range req.Queries {
		if strings.TrimSpace(q.ID) == "" {
			return nil, newError(CodeInvalidRequest, "query at index %d has no id", i)
		}
		if seen[q.ID] {
			return nil, newError(CodeInvalidRequest, "duplicate query id %q", q.ID)
		}
		seen[q.ID] = true
		switch normalizeOrder(q.Order) {
		case "", OrderAsc, OrderDesc:
		default:
			return nil, newError(CodeInvalidRequest, "query %q: order must be ASC or DESC, got %q", q.ID, q.Order)
		}
	}

	filters, err := compileFilters(topLevelFilters(req.Filters))
	if err != nil {
		qe := classify(err)
		return nil, &QueryError{Code: CodeInvalidRequest, Message: qe.Message, Err: err}
	}
	bc.filters = filters

	return bc, nil
}

// topLevelFilters flattens {key: {operator: value}} in a stable order.
func topLevelFilters(filters map[string]map[string]any) []FilterSpec {
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	specs := []FilterSpec{}
	for _, key := range keys {
		ops := make([]string, 0, len(filters[key]))
		for op := range filters[key] {
			ops = append(ops, op)
		}
		sort.Strings(ops)
		for _, op := range ops {
			specs = append(specs, FilterSpec{Key: key, Operator: op, Value: filters[key][op]})
		}
	}
	return specs
}

func normalizeOrder(order string) string {
	return strings.ToUpper(strings.TrimSpace(order))
}
