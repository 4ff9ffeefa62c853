package analytics

import (
	"fmt"
	"strings"

	"github.com/wp-statistics/wp-statistics-sub013/internal/labels"
	"github.com/wp-statistics/wp-statistics-sub013/internal/pkg/referrers"
	"github.com/wp-statistics/wp-statistics-sub013/internal/timeframe"
)

// Labeler names dimension values for display.
type Labeler interface {
	Label(kind labels.Kind, value string) string
	RegionLabel(countryCode, regionCode string) string
}

// level is the relation a dimension is read from.
type level int

const (
	// levelTime dimensions bucket the time column of whichever relation the
	// query scans.
	levelTime level = iota
	levelSession
	// levelView dimensions need a row carrying resource_uri_id: a view, a
	// rollup row, or a per-session page projection.
	levelView
)

type valueType int

const (
	valueString valueType = iota
	valueInt
	valueBucket
)

// scope names the relations one query exposes to dimension expressions.
type scope struct {
	time string // column temporal dimensions bucket
	view string // alias carrying resource_uri_id, empty when none
}

type join struct {
	name string
	sql  string
	args []any
}

type column struct {
	name    string
	expr    func(sc scope) string
	key     bool // part of the group key; other columns are read with MAX()
	numeric bool
}

type dimension struct {
	key    string
	level  level
	bucket timeframe.BucketSize

	// columns[0] is the natural identifier: filters compare against it and
	// ties sort on it.
	columns []column
	joins   func(sc scope) []join
	// where restricts the grouped rows, never the filtered ones.
	where func(sc scope) string

	filterType valueType
	normalize  func(string) string
	rollup     bool
	filterOnly bool
	// requires names a filter key that must be present to group by this
	// dimension.
	requires string

	// labelColumns are added to every row after aggregation by enrich.
	labelColumns []string
	labelColumn  string
	enrich       func(l Labeler, row map[string]string)
}

func (d *dimension) temporal() bool {
	return d.bucket != ""
}

func (d *dimension) idColumn() column {
	return d.columns[0]
}

// outputColumns lists every column a row of this dimension carries.
func (d *dimension) outputColumns() []string {
	names := make([]string, 0, len(d.columns)+len(d.labelColumns))
	for _, c := range d.columns {
		names = append(names, c.name)
	}
	return append(names, d.labelColumns...)
}

func (d *dimension) joinsFor(sc scope) []join {
	if d.joins == nil {
		return nil
	}
	return d.joins(sc)
}

func isSearchReferrer(domain string) bool {
	channel, ok := referrers.ChannelOf(domain)
	return ok && channel == referrers.ChannelSearch
}

func fixed(expr string) func(scope) string {
	return func(scope) string { return expr }
}

func keyColumn(name, expr string) column {
	return column{name: name, expr: fixed(expr), key: true}
}

func attrColumn(name, expr string) column {
	return column{name: name, expr: fixed(expr)}
}

func bucketColumn(name string, size timeframe.BucketSize) column {
	return column{
		name: name,
		key:  true,
		expr: func(sc scope) string {
			expr, err := size.SQLiteExpression(sc.time)
			if err != nil {
				panic(err)
			}
			return expr
		},
	}
}

func resourceJoins(sc scope) []join {
	return []join{
		{name: "ru", sql: fmt.Sprintf("JOIN resource_uris ru ON ru.id = %s.resource_uri_id", sc.view)},
		{name: "r", sql: "JOIN resources r ON r.id = ru.resource_id"},
	}
}

func cityJoins(scope) []join {
	return []join{{name: "ci", sql: "LEFT JOIN cities ci ON ci.id = s.city_id"}}
}

func entryPageJoins(scope) []join {
	return []join{
		{name: "ev", sql: "LEFT JOIN views ev ON ev.id = s.initial_view_id"},
		{name: "eu", sql: "LEFT JOIN resource_uris eu ON eu.id = ev.resource_uri_id"},
		{name: "er", sql: "LEFT JOIN resources er ON er.id = eu.resource_id"},
	}
}

func labelled(kind labels.Kind, from, to string) func(Labeler, map[string]string) {
	return func(l Labeler, row map[string]string) {
		row[to] = l.Label(kind, row[from])
	}
}

// fallback fills column to with from when it came back empty.
func fallback(to, from string) func(Labeler, map[string]string) {
	return func(_ Labeler, row map[string]string) {
		if row[to] == "" {
			row[to] = row[from]
		}
	}
}

func temporalDimension(key string, size timeframe.BucketSize, rollup bool) *dimension {
	return &dimension{
		key:         key,
		level:       levelTime,
		bucket:      size,
		columns:     []column{bucketColumn(key, size)},
		filterType:  valueBucket,
		rollup:      rollup,
		labelColumn: key,
	}
}

var dimensionList = []*dimension{
	{
		key:          "country",
		level:        levelSession,
		columns:      []column{keyColumn("country_code", "s.country_code")},
		normalize:    strings.ToUpper,
		labelColumns: []string{"country_name"},
		labelColumn:  "country_name",
		enrich:       labelled(labels.KindCountry, "country_code", "country_name"),
	},
	{
		key:   "region",
		level: levelSession,
		columns: []column{
			keyColumn("region_code", "s.region_code"),
			keyColumn("country_code", "s.country_code"),
		},
		requires:     "country",
		labelColumns: []string{"region_name", "country_name"},
		labelColumn:  "region_name",
		enrich: func(l Labeler, row map[string]string) {
			row["region_name"] = l.RegionLabel(row["country_code"], row["region_code"])
			row["country_name"] = l.Label(labels.KindCountry, row["country_code"])
		},
	},
	{
		key:   "city",
		level: levelSession,
		columns: []column{
			{name: "city_id", expr: fixed("s.city_id"), key: true, numeric: true},
			attrColumn("city_name", "ci.city_name"),
			attrColumn("region_code", "ci.region_code"),
			attrColumn("country_code", "ci.country_code"),
		},
		joins:        cityJoins,
		filterType:   valueInt,
		labelColumns: []string{"country_name"},
		labelColumn:  "city_name",
		enrich: func(l Labeler, row map[string]string) {
			if row["city_name"] == "" {
				row["city_name"] = labels.Unknown
			}
			row["country_name"] = l.Label(labels.KindCountry, row["country_code"])
		},
	},
	{
		key:          "continent",
		level:        levelSession,
		columns:      []column{keyColumn("continent", "s.continent")},
		normalize:    strings.ToUpper,
		labelColumns: []string{"continent_name"},
		labelColumn:  "continent_name",
		enrich:       labelled(labels.KindContinent, "continent", "continent_name"),
	},
	{
		key:         "timezone",
		level:       levelSession,
		columns:     []column{keyColumn("timezone_id", "s.timezone_id")},
		labelColumn: "timezone_id",
	},
	temporalDimension("hour", timeframe.BucketSizeHour, false),
	temporalDimension("date", timeframe.BucketSizeDay, true),
	temporalDimension("week", timeframe.BucketSizeWeek, true),
	temporalDimension("month", timeframe.BucketSizeMonth, true),
	{
		key:   "referrer",
		level: levelSession,
		columns: []column{
			keyColumn("referrer_domain", "s.referrer_domain"),
			attrColumn("referrer_name", "s.referrer_name"),
		},
		where:       fixed("s.referrer_domain <> ''"),
		labelColumn: "referrer_name",
		enrich: func(l Labeler, row map[string]string) {
			name, domain := row["referrer_name"], row["referrer_domain"]
			switch {
			case name == "":
				row["referrer_name"] = l.Label(labels.KindReferrer, domain)
			case isSearchReferrer(domain):
				// search sessions store the engine id, not a display name
				row["referrer_name"] = l.Label(labels.KindSearchEngine, name)
			}
		},
	},
	{
		key:   "search_engine",
		level: levelSession,
		columns: []column{
			keyColumn("search_engine", "CASE WHEN s.source_channel = 'search' THEN s.referrer_name END"),
		},
		where:        fixed("s.source_channel = 'search'"),
		normalize:    strings.ToLower,
		labelColumns: []string{"search_engine_name"},
		labelColumn:  "search_engine_name",
		enrich:       labelled(labels.KindSearchEngine, "search_engine", "search_engine_name"),
	},
	{
		key:          "source_channel",
		level:        levelSession,
		columns:      []column{keyColumn("source_channel", "s.source_channel")},
		normalize:    strings.ToLower,
		labelColumns: []string{"source_channel_name"},
		labelColumn:  "source_channel_name",
		enrich:       labelled(labels.KindChannel, "source_channel", "source_channel_name"),
	},
	{
		key:          "browser",
		level:        levelSession,
		columns:      []column{keyColumn("browser", "s.browser")},
		labelColumns: []string{"browser_name"},
		labelColumn:  "browser_name",
		enrich:       labelled(labels.KindBrowser, "browser", "browser_name"),
	},
	{
		key:          "device",
		level:        levelSession,
		columns:      []column{keyColumn("device_type", "s.device_type")},
		labelColumns: []string{"device_name"},
		labelColumn:  "device_name",
		enrich:       labelled(labels.KindDevice, "device_type", "device_name"),
	},
	{
		key:          "platform",
		level:        levelSession,
		columns:      []column{keyColumn("platform", "s.platform")},
		labelColumns: []string{"platform_name"},
		labelColumn:  "platform_name",
		enrich:       labelled(labels.KindPlatform, "platform", "platform_name"),
	},
	{
		key:   "entry_page",
		level: levelSession,
		columns: []column{
			{name: "entry_uri_id", expr: fixed("eu.id"), key: true, numeric: true},
			attrColumn("entry_uri", "eu.uri"),
			attrColumn("entry_title", "er.cached_title"),
		},
		joins:       entryPageJoins,
		where:       fixed("s.initial_view_id IS NOT NULL"),
		filterType:  valueInt,
		labelColumn: "entry_title",
		enrich:      fallback("entry_title", "entry_uri"),
	},
	{
		key:   "page",
		level: levelView,
		columns: []column{
			{name: "resource_uri_id", expr: func(sc scope) string { return sc.view + ".resource_uri_id" }, key: true, numeric: true},
			attrColumn("uri", "ru.uri"),
			attrColumn("title", "r.cached_title"),
		},
		joins:       resourceJoins,
		filterType:  valueInt,
		rollup:      true,
		labelColumn: "title",
		enrich:      fallback("title", "uri"),
	},
	{
		key:        "resource_id",
		level:      levelView,
		columns:    []column{{name: "resource_id", expr: fixed("r.resource_id"), key: true, numeric: true}},
		joins:      resourceJoins,
		filterType: valueInt,
		rollup:     true,
		filterOnly: true,
	},
	{
		key:        "post_type",
		level:      levelView,
		columns:    []column{keyColumn("post_type", "r.resource_type")},
		joins:      resourceJoins,
		rollup:     true,
		filterOnly: true,
	},
}

var dimensionsByKey = indexDimensions(dimensionList)

func indexDimensions(list []*dimension) map[string]*dimension {
	m := make(map[string]*dimension, len(list))
	for _, d := range list {
		m[d.key] = d
	}
	return m
}

// resolveDimensions maps group_by keys to dimensions. Unknown keys are an
// error, never an ungrouped fallback.
func resolveDimensions(keys []string) ([]*dimension, error) {
	dims := make([]*dimension, 0, len(keys))
	columns := make(map[string]string)
	for _, key := range keys {
		d, ok := dimensionsByKey[key]
		if !ok || d.filterOnly {
			return nil, newError(CodeInvalidDimension, "unknown dimension %q", key)
		}
		for _, name := range d.outputColumns() {
			if other, clash := columns[name]; clash {
				return nil, newError(CodeInvalidDimension, "dimensions %q and %q cannot be grouped together", other, key)
			}
			columns[name] = key
		}
		dims = append(dims, d)
	}
	return dims, nil
}
