package analytics

import (
	"context"
	"strconv"

	"github.com/wp-statistics/wp-statistics-sub013/internal/labels"
	"github.com/wp-statistics/wp-statistics-sub013/internal/timeframe"
)

// Row is one rendered row. Values are strings, numbers or nil.
type Row map[string]any

// Meta describes the window and options a result was computed with.
type Meta struct {
	DateFrom         string `json:"date_from"`
	DateTo           string `json:"date_to"`
	Compare          bool   `json:"compare"`
	PreviousDateFrom string `json:"previous_date_from,omitempty"`
	PreviousDateTo   string `json:"previous_date_to,omitempty"`
	RollupApplied    bool   `json:"rollup_applied"`
	// RollupSkipped is set when part of the window is past the retention
	// horizon but the query could not be answered from summary rows, so
	// only the raw views still kept were counted.
	RollupSkipped bool   `json:"rollup_skipped"`
	Context       string `json:"context,omitempty"`
}

// execution is one sub-query ready to aggregate.
type execution struct {
	spec     QuerySpec
	plan     *plan
	current  timeframe.DateRange
	previous *timeframe.DateRange // nil unless comparing
}

func (x *execution) comparing() bool {
	return x.previous != nil
}

func (x *execution) meta(current *aggregate) Meta {
	m := Meta{
		DateFrom:      x.current.From.Format(timeframe.DateLayout),
		DateTo:        x.current.To.Format(timeframe.DateLayout),
		Compare:       x.comparing(),
		RollupApplied: current != nil && current.rollupApplied,
		RollupSkipped: current != nil && current.rollupSkipped,
		Context:       x.spec.Context,
	}
	if x.previous != nil {
		m.PreviousDateFrom = x.previous.From.Format(timeframe.DateLayout)
		m.PreviousDateTo = x.previous.To.Format(timeframe.DateLayout)
	}
	return m
}

// periods aggregates p for the current window and, when comparing, the
// previous one. Only the window differs between the two runs.
func (e *Engine) periods(ctx context.Context, x *execution, p *plan) (current, previous *aggregate, err error) {
	current, err = e.aggregate(ctx, p, x.current)
	if err != nil {
		return nil, nil, err
	}
	if x.previous != nil {
		previous, err = e.aggregate(ctx, p, *x.previous)
		if err != nil {
			return nil, nil, err
		}
	}
	return current, previous, nil
}

// dimensionValues renders the dimension columns of a row, typing numeric
// identifiers as numbers.
func dimensionValues(dims []*dimension, columns map[string]string) Row {
	row := Row{}
	for _, d := range dims {
		for _, col := range d.columns {
			row[col.name] = typedValue(col, columns[col.name])
		}
		for _, name := range d.labelColumns {
			row[name] = columns[name]
		}
	}
	return row
}

func typedValue(col column, value string) any {
	if !col.numeric {
		return value
	}
	if value == "" {
		return nil
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	return value
}

// rowLabel is the display label of a grouped row.
func rowLabel(dims []*dimension, columns map[string]string) string {
	if len(dims) == 0 {
		return ""
	}
	label := columns[dims[0].labelColumn]
	if label == "" {
		return labels.Unknown
	}
	return label
}
