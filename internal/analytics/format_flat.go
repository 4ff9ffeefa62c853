package analytics

import (
	"context"

	"github.com/wp-statistics/wp-statistics-sub013/internal/labels"
)

// FlatResult is the dashboard-tile shape: one item and one total per source.
type FlatResult struct {
	Success bool           `json:"success"`
	Items   []Row          `json:"items"`
	Totals  map[string]Row `json:"totals"`
	Meta    Meta           `json:"meta"`
}

// flat aggregates the sub-query to a single site-wide row. Grouping is
// ignored.
func (e *Engine) flat(ctx context.Context, x *execution) (*FlatResult, error) {
	p := x.plan.ungrouped()
	current, previous, err := e.periods(ctx, x, p)
	if err != nil {
		return nil, err
	}

	cur := current.totalsRow().metrics
	var prev *metrics
	if previous != nil {
		pm := previous.totalsRow().metrics
		prev = &pm
	}

	result := &FlatResult{
		Success: true,
		Items:   make([]Row, 0, len(p.sources)),
		Totals:  make(map[string]Row, len(p.sources)),
		Meta:    x.meta(current),
	}

	for _, src := range p.sources {
		value := valueOf(&cur, src)
		total := Row{"current": numberOrNil(value)}
		item := Row{
			"key":     string(src),
			"label":   e.labeler.Label(labels.KindSource, string(src)),
			"current": numberOrNil(value),
		}
		if x.comparing() {
			prevValue := valueOf(prev, src)
			change := numberOrNil(percentageChange(value, prevValue))
			total["previous"] = numberOrNil(prevValue)
			total["change"] = change
			item["previous"] = numberOrNil(prevValue)
			item["change"] = change
		}
		result.Items = append(result.Items, item)
		result.Totals[string(src)] = total
	}

	return result, nil
}
