package analytics

// Source is a metric a query can request.
type Source string

const (
	SourceVisitors           Source = "visitors"
	SourceViews              Source = "views"
	SourceSessions           Source = "sessions"
	SourceBounceRate         Source = "bounce_rate"
	SourceAvgSessionDuration Source = "avg_session_duration"
)

var knownSources = map[Source]bool{
	SourceVisitors:           true,
	SourceViews:              true,
	SourceSessions:           true,
	SourceBounceRate:         true,
	SourceAvgSessionDuration: true,
}

func (s Source) fromViews() bool {
	return s == SourceViews
}

func parseSources(names []string) ([]Source, error) {
	if len(names) == 0 {
		return nil, newError(CodeInvalidSource, "at least one source is required")
	}
	sources := make([]Source, 0, len(names))
	seen := make(map[Source]bool, len(names))
	for _, name := range names {
		src := Source(name)
		if !knownSources[src] {
			return nil, newError(CodeInvalidSource, "unknown source %q", name)
		}
		if seen[src] {
			continue
		}
		seen[src] = true
		sources = append(sources, src)
	}
	return sources, nil
}

// metrics holds the additive components one group accumulated. Derived
// sources are computed from them only when read.
type metrics struct {
	visitors float64
	sessions float64
	bounces  float64
	duration float64
	views    float64
}

func (m *metrics) add(o metrics) {
	m.visitors += o.visitors
	m.sessions += o.sessions
	m.bounces += o.bounces
	m.duration += o.duration
	m.views += o.views
}

func (m metrics) value(src Source) float64 {
	switch src {
	case SourceVisitors:
		return m.visitors
	case SourceViews:
		return m.views
	case SourceSessions:
		return m.sessions
	case SourceBounceRate:
		if m.sessions == 0 {
			return 0
		}
		return m.bounces / m.sessions
	case SourceAvgSessionDuration:
		if m.sessions == 0 {
			return 0
		}
		return m.duration / m.sessions
	}
	return 0
}
