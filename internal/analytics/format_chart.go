package analytics

import (
	"context"

	"github.com/wp-statistics/wp-statistics-sub013/internal/labels"
	"github.com/wp-statistics/wp-statistics-sub013/internal/timeframe"
)

// ChartResult is a label axis with one dataset per source. Data is aligned
// index for index with Labels; a nil point means no data for that bucket.
type ChartResult struct {
	Success        bool      `json:"success"`
	Labels         []string  `json:"labels"`
	Datasets       []Dataset `json:"datasets"`
	PreviousLabels []string  `json:"previousLabels,omitempty"`
	Meta           Meta      `json:"meta"`
}

type Dataset struct {
	Key      string     `json:"key"`
	Label    string     `json:"label"`
	Data     []*float64 `json:"data"`
	Previous []*float64 `json:"previous,omitempty"`
}

func (e *Engine) chart(ctx context.Context, x *execution) (*ChartResult, error) {
	p := x.plan
	if len(p.dims) != 1 {
		return nil, newError(CodeInvalidDimension, "chart format needs exactly one group_by dimension, got %d", len(p.dims))
	}
	dim := p.dims[0]

	// bucket sequences are checked before touching the store
	var currentBuckets, previousBuckets []timeframe.Bucket
	if dim.temporal() {
		var err error
		if currentBuckets, err = x.current.Buckets(dim.bucket); err != nil {
			return nil, &QueryError{Code: CodeInvalidDimension, Message: err.Error(), Err: err}
		}
		if x.previous != nil {
			if previousBuckets, err = x.previous.Buckets(dim.bucket); err != nil {
				return nil, &QueryError{Code: CodeInvalidDimension, Message: err.Error(), Err: err}
			}
		}
	}

	current, previous, err := e.periods(ctx, x, p)
	if err != nil {
		return nil, err
	}

	result := &ChartResult{
		Success:  true,
		Datasets: make([]Dataset, 0, len(p.sources)),
		Meta:     x.meta(current),
	}
	for _, src := range p.sources {
		result.Datasets = append(result.Datasets, Dataset{
			Key:   string(src),
			Label: e.labeler.Label(labels.KindSource, string(src)),
		})
	}

	if dim.temporal() {
		e.fillTemporal(result, p, currentBuckets, previousBuckets, current, previous)
	} else {
		e.fillCategorical(result, x, current, previous)
	}
	return result, nil
}

// fillTemporal renders a dense sequence over the current range. Previous
// values pair by ordinal bucket position; previousLabels carries the
// previous range's own buckets.
func (e *Engine) fillTemporal(result *ChartResult, p *plan, currentBuckets, previousBuckets []timeframe.Bucket, current, previous *aggregate) {
	result.Labels = make([]string, len(currentBuckets))
	for i, b := range currentBuckets {
		result.Labels[i] = b.Label
	}

	for di, src := range p.sources {
		data := make([]*float64, len(currentBuckets))
		for i, b := range currentBuckets {
			if row := current.row(b.Key); row != nil {
				data[i] = valueOf(&row.metrics, src)
			}
		}
		result.Datasets[di].Data = data
	}

	if previous == nil {
		return
	}

	result.PreviousLabels = make([]string, len(previousBuckets))
	for i, b := range previousBuckets {
		result.PreviousLabels[i] = b.Label
	}
	for di, src := range p.sources {
		prev := make([]*float64, len(currentBuckets))
		for i := range currentBuckets {
			if i >= len(previousBuckets) {
				break
			}
			if row := previous.row(previousBuckets[i].Key); row != nil {
				prev[i] = valueOf(&row.metrics, src)
			}
		}
		result.Datasets[di].Previous = prev
	}
}

// fillCategorical renders observed groups ordered by the first source.
// Previous values pair by dimension key.
func (e *Engine) fillCategorical(result *ChartResult, x *execution, current, previous *aggregate) {
	p := x.plan

	rows := pairByKey(current, nil)
	sortRows(p.dims, rows, tableOrder{source: p.sources[0], desc: true})
	if x.spec.PerPage > 0 {
		_, limit := e.pagination(x.spec)
		if len(rows) > limit {
			rows = rows[:limit]
		}
	}

	result.Labels = make([]string, len(rows))
	for i, row := range rows {
		result.Labels[i] = rowLabel(p.dims, row.columns)
	}

	for di, src := range p.sources {
		data := make([]*float64, len(rows))
		var prev []*float64
		if previous != nil {
			prev = make([]*float64, len(rows))
		}
		for i, row := range rows {
			data[i] = row.value(src)
			if previous != nil {
				if pr := previous.row(row.key); pr != nil {
					prev[i] = valueOf(&pr.metrics, src)
				}
			}
		}
		result.Datasets[di].Data = data
		result.Datasets[di].Previous = prev
	}
}
