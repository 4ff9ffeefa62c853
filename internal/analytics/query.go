package analytics

import (
	"fmt"
	"strings"

	"github.com/wp-statistics/wp-statistics-sub013/internal/timeframe"
)

// relation is the table an aggregate query scans.
type relation int

const (
	relationSessions relation = iota
	relationViews
	relationRollup
)

func (r relation) String() string {
	switch r {
	case relationViews:
		return "views"
	case relationRollup:
		return "summary"
	default:
		return "sessions"
	}
}

const (
	metricVisitors = "m_visitors"
	metricSessions = "m_sessions"
	metricBounces  = "m_bounces"
	metricDuration = "m_duration"
	metricViews    = "m_views"
)

// sqlBuilder assembles one SELECT. Args follow text order: join args, then
// where args.
type sqlBuilder struct {
	selects  []string
	from     string
	joins    []join
	joinSeen map[string]bool
	where    []string
	args     []any
	groupBy  []string
}

func newSQLBuilder(from string) *sqlBuilder {
	return &sqlBuilder{from: from, joinSeen: make(map[string]bool)}
}

// addJoin adds j once; grouping and filtering on the same dimension share it.
func (b *sqlBuilder) addJoin(j join) {
	if b.joinSeen[j.name] {
		return
	}
	b.joinSeen[j.name] = true
	b.joins = append(b.joins, j)
}

func (b *sqlBuilder) addWhere(clause string, args ...any) {
	b.where = append(b.where, clause)
	b.args = append(b.args, args...)
}

func (b *sqlBuilder) addFilter(f compiledFilter, sc scope) {
	for _, j := range f.dim.joinsFor(sc) {
		b.addJoin(j)
	}
	clause, args := f.sql(sc)
	b.addWhere(clause, args...)
}

func (b *sqlBuilder) build() (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(b.args))

	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(b.selects, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(b.from)
	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j.sql)
		args = append(args, j.args...)
	}
	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.where, " AND "))
	}
	args = append(args, b.args...)
	if len(b.groupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(b.groupBy, ", "))
	}
	return sb.String(), args
}

func dimensionAlias(dim, col int) string {
	return fmt.Sprintf("d%d_%d", dim, col)
}

// buildAggregate renders the aggregate of p over r read from rel.
func buildAggregate(rel relation, p *plan, r timeframe.DateRange) (string, []any) {
	var b *sqlBuilder
	var sc scope

	switch rel {
	case relationSessions:
		b = newSQLBuilder("sessions s")
		sc = scope{time: "s.started_at"}
		if p.groupsByView() {
			// one row per (session, page) so page groups count each session once
			sc.view = "pv"
			b.addJoin(join{
				name: "pv",
				sql:  "JOIN (SELECT DISTINCT fv.session_id, fv.resource_uri_id FROM views fv WHERE fv.viewed_at >= ? AND fv.viewed_at < ?) pv ON pv.session_id = s.id",
				args: []any{r.Start(), r.End()},
			})
		}
		b.addWhere("s.started_at >= ? AND s.started_at < ?", r.Start(), r.End())
		b.selects = append(b.selects,
			"COUNT(DISTINCT CASE WHEN s.visitor_id IS NOT NULL THEN 'v' || s.visitor_id ELSE 's' || s.id END) AS "+metricVisitors,
			"COUNT(DISTINCT s.id) AS "+metricSessions,
			"COUNT(DISTINCT CASE WHEN s.is_bounce = 1 THEN s.id END) AS "+metricBounces,
			"COALESCE(SUM(s.duration_seconds), 0) AS "+metricDuration,
		)
	case relationViews:
		b = newSQLBuilder("views v")
		sc = scope{time: "v.viewed_at", view: "v"}
		b.addJoin(join{name: "s", sql: "JOIN sessions s ON s.id = v.session_id"})
		b.addWhere("v.viewed_at >= ? AND v.viewed_at < ?", r.Start(), r.End())
		b.selects = append(b.selects, "COUNT(v.id) AS "+metricViews)
	case relationRollup:
		b = newSQLBuilder("summary sm")
		sc = scope{time: "sm.date", view: "sm"}
		b.addWhere("sm.date >= ? AND sm.date <= ?", r.From.Format(timeframe.DateLayout), r.To.Format(timeframe.DateLayout))
		b.selects = append(b.selects, "COALESCE(SUM(sm.views), 0) AS "+metricViews)
	}

	for i, d := range p.dims {
		for _, j := range d.joinsFor(sc) {
			b.addJoin(j)
		}
		if d.where != nil {
			b.addWhere(d.where(sc))
		}
		for ci, col := range d.columns {
			expr := col.expr(sc)
			alias := dimensionAlias(i, ci)
			if col.key {
				b.selects = append(b.selects, expr+" AS "+alias)
				b.groupBy = append(b.groupBy, expr)
			} else {
				b.selects = append(b.selects, "MAX("+expr+") AS "+alias)
			}
		}
	}

	var viaSessionViews []compiledFilter
	for _, f := range p.filters {
		if f.dim.level == levelView && sc.view == "" {
			viaSessionViews = append(viaSessionViews, f)
			continue
		}
		b.addFilter(f, sc)
	}

	// view-level filters on a session scan keep sessions with a matching view
	if len(viaSessionViews) > 0 {
		sub := newSQLBuilder("views fv")
		subScope := scope{time: "fv.viewed_at", view: "fv"}
		sub.selects = []string{"1"}
		sub.addWhere("fv.session_id = s.id")
		sub.addWhere("fv.viewed_at >= ? AND fv.viewed_at < ?", r.Start(), r.End())
		for _, f := range viaSessionViews {
			sub.addFilter(f, subScope)
		}
		subSQL, subArgs := sub.build()
		b.addWhere("EXISTS ("+subSQL+")", subArgs...)
	}

	return b.build()
}
