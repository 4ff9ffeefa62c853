package analytics

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TableResult is a page of grouped rows.
type TableResult struct {
	Success bool      `json:"success"`
	Data    TableData `json:"data"`
	Meta    TableMeta `json:"meta"`
}

type TableData struct {
	Rows   []Row `json:"rows"`
	Totals Row   `json:"totals,omitempty"`
}

type TableMeta struct {
	Meta
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
	TotalRows  int `json:"total_rows"`
}

// tableOrder is a validated order_by/order pair.
type tableOrder struct {
	source Source // set when ordering by a metric
	column *column
	desc   bool
}

func (e *Engine) table(ctx context.Context, x *execution) (*TableResult, error) {
	p := x.plan

	order, err := resolveOrder(p, x.spec)
	if err != nil {
		return nil, err
	}
	projection, err := resolveColumns(p, x.spec.Columns)
	if err != nil {
		return nil, err
	}
	page, perPage := e.pagination(x.spec)

	current, previous, err := e.periods(ctx, x, p)
	if err != nil {
		return nil, err
	}

	rows := pairByKey(current, previous)
	sortRows(p.dims, rows, order)

	totalRows := len(rows)
	totalPages := 0
	if totalRows > 0 {
		totalPages = (totalRows + perPage - 1) / perPage
	}

	start := (page - 1) * perPage
	end := start + perPage
	if start > totalRows {
		start = totalRows
	}
	if end > totalRows {
		end = totalRows
	}

	rendered := make([]Row, 0, end-start)
	for _, pr := range rows[start:end] {
		rendered = append(rendered, renderRow(p, pr, x.comparing(), projection))
	}

	result := &TableResult{
		Success: true,
		Data:    TableData{Rows: rendered},
		Meta: TableMeta{
			Meta:       x.meta(current),
			Page:       page,
			PerPage:    perPage,
			TotalPages: totalPages,
			TotalRows:  totalRows,
		},
	}

	if x.spec.ShowTotals {
		totals, err := e.totals(ctx, x, projection)
		if err != nil {
			return nil, err
		}
		result.Data.Totals = totals
	}

	return result, nil
}

// totals aggregates the sub-query without grouping or pagination.
func (e *Engine) totals(ctx context.Context, x *execution, projection map[string]bool) (Row, error) {
	p := x.plan.ungrouped()
	current, previous, err := e.periods(ctx, x, p)
	if err != nil {
		return nil, fmt.Errorf("error computing totals: %w", err)
	}

	cur := current.totalsRow().metrics
	pr := &pairedRow{current: &cur}
	if previous != nil {
		pm := previous.totalsRow().metrics
		pr.previous = &pm
	}
	return renderRow(p, pr, x.comparing(), projection), nil
}

func (e *Engine) pagination(spec QuerySpec) (page, perPage int) {
	page = spec.Page
	if page < 1 {
		page = 1
	}
	perPage = spec.PerPage
	if perPage < 1 {
		perPage = e.opts.DefaultPerPage
	}
	if perPage > e.opts.MaxPerPage {
		perPage = e.opts.MaxPerPage
	}
	return page, perPage
}

func resolveOrder(p *plan, spec QuerySpec) (tableOrder, error) {
	order := tableOrder{desc: normalizeOrder(spec.Order) != OrderAsc}

	if spec.OrderBy == "" {
		order.source = p.sources[0]
		return order, nil
	}
	for _, src := range p.sources {
		if string(src) == spec.OrderBy {
			order.source = src
			return order, nil
		}
	}
	for _, d := range p.dims {
		for i := range d.columns {
			if d.columns[i].name == spec.OrderBy {
				order.column = &d.columns[i]
				return order, nil
			}
		}
		for _, name := range d.labelColumns {
			if name == spec.OrderBy {
				order.column = &column{name: name}
				return order, nil
			}
		}
	}
	return order, newError(CodeInvalidDimension, "cannot order by %q: not a requested source or column", spec.OrderBy)
}

// resolveColumns validates a column projection. A nil map keeps every
// column.
func resolveColumns(p *plan, requested []string) (map[string]bool, error) {
	if len(requested) == 0 {
		return nil, nil
	}

	known := make(map[string]bool)
	for _, src := range p.sources {
		known[string(src)] = true
	}
	for _, d := range p.dims {
		for _, name := range d.outputColumns() {
			known[name] = true
		}
	}

	projection := make(map[string]bool, len(requested))
	for _, name := range requested {
		if !known[name] {
			return nil, newError(CodeInvalidDimension, "unknown column %q", name)
		}
		projection[name] = true
	}
	return projection, nil
}

func renderRow(p *plan, pr *pairedRow, comparing bool, projection map[string]bool) Row {
	row := dimensionValues(p.dims, pr.columns)
	for _, src := range p.sources {
		row[string(src)] = numberOrNil(pr.value(src))
	}

	var previous Row
	if comparing {
		previous = Row{}
		for _, src := range p.sources {
			if projection == nil || projection[string(src)] {
				previous[string(src)] = numberOrNil(pr.previousValue(src))
			}
		}
	}

	if projection != nil {
		for name := range row {
			if !projection[name] {
				delete(row, name)
			}
		}
	}
	if previous != nil {
		row["previous"] = previous
	}
	return row
}

// sortRows orders rows by the requested key with nulls last, breaking ties
// on each dimension's natural identifier ascending.
func sortRows(dims []*dimension, rows []*pairedRow, order tableOrder) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]

		var c int
		if order.column != nil {
			c = compareColumn(*order.column, a.columns[order.column.name], b.columns[order.column.name])
		} else {
			va, vb := a.value(order.source), b.value(order.source)
			switch {
			case va == nil && vb == nil:
			case va == nil:
				return false
			case vb == nil:
				return true
			default:
				c = compareFloat(*va, *vb)
			}
		}
		if c != 0 {
			if order.desc {
				return c > 0
			}
			return c < 0
		}

		for _, d := range dims {
			id := d.idColumn()
			if c := compareColumn(id, a.columns[id.name], b.columns[id.name]); c != 0 {
				return c < 0
			}
		}
		return a.key < b.key
	})
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareColumn compares numerically when both values parse as integers.
func compareColumn(col column, a, b string) int {
	if col.numeric {
		ai, errA := strconv.ParseInt(a, 10, 64)
		bi, errB := strconv.ParseInt(b, 10, 64)
		if errA == nil && errB == nil {
			return compareFloat(float64(ai), float64(bi))
		}
	}
	return strings.Compare(a, b)
}
