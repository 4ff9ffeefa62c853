package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wp-statistics/wp-statistics-sub013/internal/timeframe"
)

// plan is a validated sub-query minus its date window, so the current and
// previous periods aggregate identically.
type plan struct {
	sources []Source
	dims    []*dimension
	filters []compiledFilter
}

func (p *plan) needsSessions() bool {
	for _, src := range p.sources {
		if !src.fromViews() {
			return true
		}
	}
	return false
}

func (p *plan) needsViews() bool {
	for _, src := range p.sources {
		if src.fromViews() {
			return true
		}
	}
	return false
}

func (p *plan) groupsByView() bool {
	for _, d := range p.dims {
		if d.level == levelView {
			return true
		}
	}
	return false
}

// rollupCapable reports whether every dimension and filter can be resolved
// on summary rows, which only carry a date and a resource URI.
func (p *plan) rollupCapable() bool {
	for _, d := range p.dims {
		if !d.rollup {
			return false
		}
	}
	for _, f := range p.filters {
		if !f.dim.rollup {
			return false
		}
	}
	return true
}

// ungrouped returns the same plan aggregated to a single site-wide row.
func (p *plan) ungrouped() *plan {
	return &plan{sources: p.sources, filters: p.filters}
}

// groupRow is one observed group.
type groupRow struct {
	key     string
	columns map[string]string
	metrics metrics
}

// aggregate is every group observed for one plan and date window, in the
// order they were first seen.
type aggregate struct {
	rows          []*groupRow
	index         map[string]*groupRow
	rollupApplied bool
	rollupSkipped bool
}

func newAggregate() *aggregate {
	return &aggregate{index: make(map[string]*groupRow)}
}

func (a *aggregate) row(key string) *groupRow {
	return a.index[key]
}

func (a *aggregate) merge(key string, columns map[string]string, m metrics) {
	row, ok := a.index[key]
	if !ok {
		row = &groupRow{key: key, columns: columns}
		a.index[key] = row
		a.rows = append(a.rows, row)
	} else {
		for name, value := range columns {
			if row.columns[name] == "" {
				row.columns[name] = value
			}
		}
	}
	row.metrics.add(m)
}

// totalsRow returns the single row of an ungrouped aggregate.
func (a *aggregate) totalsRow() *groupRow {
	if len(a.rows) == 0 {
		return &groupRow{columns: map[string]string{}}
	}
	return a.rows[0]
}

// aggregate runs p over r. Session sources always come from sessions; views
// come from raw views on and after the retention horizon and from summary
// rows before it, unless p cannot be resolved on summary.
func (e *Engine) aggregate(ctx context.Context, p *plan, r timeframe.DateRange) (*aggregate, error) {
	agg := newAggregate()

	if p.needsSessions() {
		if err := e.collect(ctx, agg, relationSessions, p, r); err != nil {
			return nil, fmt.Errorf("error aggregating sessions: %w", err)
		}
	}

	if p.needsViews() {
		fact, rollup := &r, (*timeframe.DateRange)(nil)
		if horizon, ok := timeframe.Horizon(e.now(), e.opts.FactRetentionDays); ok {
			fact, rollup = timeframe.Split(r, horizon)
		}
		if rollup != nil && !p.rollupCapable() {
			whole := r
			fact, rollup = &whole, nil
			agg.rollupSkipped = true
		}

		if fact != nil {
			if err := e.collect(ctx, agg, relationViews, p, *fact); err != nil {
				return nil, fmt.Errorf("error aggregating views: %w", err)
			}
		}
		if rollup != nil {
			if err := e.collect(ctx, agg, relationRollup, p, *rollup); err != nil {
				return nil, fmt.Errorf("error aggregating view rollups: %w", err)
			}
			agg.rollupApplied = true
		}
	}

	e.enrich(p, agg)
	return agg, nil
}

// collect runs one aggregate query and merges its groups into agg.
func (e *Engine) collect(ctx context.Context, agg *aggregate, rel relation, p *plan, r timeframe.DateRange) error {
	query, args := buildAggregate(rel, p, r)

	e.logger.Debug("Running aggregate query",
		slog.String("relation", rel.String()),
		slog.String("range", r.String()),
		slog.String("query", query))

	rows, err := e.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return err
	}

	for rows.Next() {
		dest := make([]any, len(names))
		for i, name := range names {
			if strings.HasPrefix(name, "m_") {
				dest[i] = new(sql.NullFloat64)
			} else {
				dest[i] = new(sql.NullString)
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}

		values := make(map[string]any, len(names))
		for i, name := range names {
			values[name] = dest[i]
		}

		key, columns := groupColumns(p, values)
		agg.merge(key, columns, scanMetrics(values))
	}
	return rows.Err()
}

// groupColumns reads the dimension columns of one result row and derives the
// group key from the key columns.
func groupColumns(p *plan, values map[string]any) (string, map[string]string) {
	columns := make(map[string]string)
	keyParts := []string{}
	for i, d := range p.dims {
		for ci, col := range d.columns {
			v := values[dimensionAlias(i, ci)].(*sql.NullString)
			columns[col.name] = v.String
			if col.key {
				keyParts = append(keyParts, v.String)
			}
		}
	}
	return strings.Join(keyParts, "\x1f"), columns
}

func scanMetrics(values map[string]any) metrics {
	read := func(name string) float64 {
		v, ok := values[name]
		if !ok {
			return 0
		}
		return v.(*sql.NullFloat64).Float64
	}
	return metrics{
		visitors: read(metricVisitors),
		sessions: read(metricSessions),
		bounces:  read(metricBounces),
		duration: read(metricDuration),
		views:    read(metricViews),
	}
}

// enrich adds label columns. It runs after every query has been read so
// label lookups never hold a store connection alongside a result set.
func (e *Engine) enrich(p *plan, agg *aggregate) {
	for _, row := range agg.rows {
		for _, d := range p.dims {
			if d.enrich != nil {
				d.enrich(e.labeler, row.columns)
			}
		}
	}
}
