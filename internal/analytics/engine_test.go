package analytics_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wp-statistics/wp-statistics-sub013/internal/analytics"
	"github.com/wp-statistics/wp-statistics-sub013/internal/labels"
	"github.com/wp-statistics/wp-statistics-sub013/internal/store"
	"github.com/wp-statistics/wp-statistics-sub013/internal/testsupport"
)

func setupEngine(t *testing.T, opts analytics.Options) (*analytics.Engine, *gorm.DB) {
	t.Helper()
	db := testsupport.SetupTestDB(t)
	labeler, err := labels.New(db, testsupport.GetLogger())
	require.NoError(t, err)
	return analytics.NewEngine(db, testsupport.GetLogger(), labeler, opts), db
}

func at(date string, hour int) time.Time {
	return testsupport.Date(date).Add(time.Duration(hour) * time.Hour)
}

func tableItem(t *testing.T, resp *analytics.BatchResponse, id string) *analytics.TableResult {
	t.Helper()
	require.Contains(t, resp.Items, id)
	result, ok := resp.Items[id].(*analytics.TableResult)
	require.True(t, ok, "item %s is %T", id, resp.Items[id])
	return result
}

func column(rows []analytics.Row, name string) []any {
	values := make([]any, len(rows))
	for i, row := range rows {
		values[i] = row[name]
	}
	return values
}

func TestTopCountries(t *testing.T) {
	engine, db := setupEngine(t, analytics.Options{})
	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)

	for country, visitors := range map[string]int{"US": 120, "DE": 80, "FR": 50, "CA": 20, "GB": 10, "JP": 5} {
		testsupport.CreateVisits(t, db, visitors, store.Session{StartedAt: at("2024-01-15", 10), CountryCode: country}, home)
	}
	// outside the range
	testsupport.CreateVisits(t, db, 500, store.Session{StartedAt: at("2024-02-01", 0), CountryCode: "JP"}, home)

	resp, err := engine.Run(context.Background(), &analytics.BatchRequest{
		DateFrom: "2024-01-01",
		DateTo:   "2024-01-31",
		Queries: []analytics.QuerySpec{{
			ID:      "top_countries",
			Sources: []string{"visitors"},
			GroupBy: []string{"country"},
			Format:  analytics.FormatTable,
			PerPage: 5,
			OrderBy: "visitors",
			Order:   "DESC",
		}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Errors)

	result := tableItem(t, resp, "top_countries")
	require.Len(t, result.Data.Rows, 5)
	assert.Equal(t, []any{"US", "DE", "FR", "CA", "GB"}, column(result.Data.Rows, "country_code"))
	assert.Equal(t, []any{120.0, 80.0, 50.0, 20.0, 10.0}, column(result.Data.Rows, "visitors"))
	assert.Equal(t, "United States", result.Data.Rows[0]["country_name"])
	assert.Equal(t, 6, result.Meta.TotalRows)
	assert.Equal(t, 2, result.Meta.TotalPages)
	assert.Equal(t, 1, result.Meta.Page)
	assert.Equal(t, 5, result.Meta.PerPage)
}

func TestBatchIsolation(t *testing.T) {
	engine, db := setupEngine(t, analytics.Options{})
	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)
	testsupport.CreateVisits(t, db, 3, store.Session{StartedAt: at("2024-03-02", 9), CountryCode: "US", Browser: "chrome"}, home)

	resp, err := engine.Run(context.Background(), &analytics.BatchRequest{
		DateFrom: "2024-03-01",
		DateTo:   "2024-03-31",
		Queries: []analytics.QuerySpec{
			{ID: "1", Sources: []string{"visitors"}, GroupBy: []string{"country"}, Format: analytics.FormatTable},
			{ID: "2", Sources: []string{"visitors"}, GroupBy: []string{"planet"}, Format: analytics.FormatTable},
			{ID: "3", Sources: []string{"views"}, GroupBy: []string{"browser"}, Format: analytics.FormatTable},
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	require.Contains(t, resp.Errors, "2")
	assert.Equal(t, analytics.CodeInvalidDimension, resp.Errors["2"].Code)
	assert.NotContains(t, resp.Items, "2")

	first := tableItem(t, resp, "1")
	require.Len(t, first.Data.Rows, 1)
	assert.Equal(t, 3.0, first.Data.Rows[0]["visitors"])

	third := tableItem(t, resp, "3")
	require.Len(t, third.Data.Rows, 1)
	assert.Equal(t, "chrome", third.Data.Rows[0]["browser"])
	assert.Equal(t, "Chrome", third.Data.Rows[0]["browser_name"])
	assert.Equal(t, 3.0, third.Data.Rows[0]["views"])
}

func TestSubQueryValidationErrors(t *testing.T) {
	engine, _ := setupEngine(t, analytics.Options{})

	resp, err := engine.Run(context.Background(), &analytics.BatchRequest{
		DateFrom: "2024-03-01",
		DateTo:   "2024-03-31",
		Queries: []analytics.QuerySpec{
			{ID: "source", Sources: []string{"revenue"}, Format: analytics.FormatFlat},
			{ID: "format", Sources: []string{"visitors"}, Format: "pie"},
			{ID: "filter", Sources: []string{"visitors"}, Filters: []analytics.FilterSpec{{Key: "city", Operator: "is", Value: "Paris"}}},
			{ID: "operator", Sources: []string{"visitors"}, Filters: []analytics.FilterSpec{{Key: "country", Operator: "like", Value: "U%"}}},
			{ID: "column", Sources: []string{"visitors"}, GroupBy: []string{"country"}, Columns: []string{"secret"}},
			{ID: "chart", Sources: []string{"visitors"}, Format: analytics.FormatChart},
			{ID: "ok", Sources: []string{"visitors"}, Format: analytics.FormatFlat},
		},
	})
	require.NoError(t, err)

	expected := map[string]analytics.ErrorCode{
		"source":   analytics.CodeInvalidSource,
		"format":   analytics.CodeInvalidFormat,
		"filter":   analytics.CodeInvalidFilter,
		"operator": analytics.CodeInvalidFilter,
		"column":   analytics.CodeInvalidDimension,
		"chart":    analytics.CodeInvalidDimension,
	}
	for id, code := range expected {
		require.Contains(t, resp.Errors, id)
		assert.Equal(t, code, resp.Errors[id].Code, id)
	}
	assert.Contains(t, resp.Items, "ok")
}

func TestInvalidRequestRejectsBatch(t *testing.T) {
	engine, _ := setupEngine(t, analytics.Options{})

	tests := []struct {
		name string
		req  *analytics.BatchRequest
	}{
		{"missing dates", &analytics.BatchRequest{Queries: []analytics.QuerySpec{{ID: "a", Sources: []string{"visitors"}}}}},
		{"bad date", &analytics.BatchRequest{DateFrom: "2024-13-01", DateTo: "2024-12-31", Queries: []analytics.QuerySpec{{ID: "a", Sources: []string{"visitors"}}}}},
		{"reversed range", &analytics.BatchRequest{DateFrom: "2024-02-01", DateTo: "2024-01-01", Queries: []analytics.QuerySpec{{ID: "a", Sources: []string{"visitors"}}}}},
		{"half previous range", &analytics.BatchRequest{DateFrom: "2024-01-01", DateTo: "2024-01-31", PreviousDateFrom: "2023-12-01", Queries: []analytics.QuerySpec{{ID: "a", Sources: []string{"visitors"}}}}},
		{"no queries", &analytics.BatchRequest{DateFrom: "2024-01-01", DateTo: "2024-01-31"}},
		{"duplicate ids", &analytics.BatchRequest{DateFrom: "2024-01-01", DateTo: "2024-01-31", Queries: []analytics.QuerySpec{{ID: "a", Sources: []string{"visitors"}}, {ID: "a", Sources: []string{"views"}}}}},
		{"bad order", &analytics.BatchRequest{DateFrom: "2024-01-01", DateTo: "2024-01-31", Queries: []analytics.QuerySpec{{ID: "a", Sources: []string{"visitors"}, Order: "sideways"}}}},
		{"bad top-level filter", &analytics.BatchRequest{
			DateFrom: "2024-01-01", DateTo: "2024-01-31",
			Filters: map[string]map[string]any{"galaxy": {"is": "milky way"}},
			Queries: []analytics.QuerySpec{{ID: "a", Sources: []string{"visitors"}}},
		}},
		{"bad top-level operator", &analytics.BatchRequest{
			DateFrom: "2024-01-01", DateTo: "2024-01-31",
			Filters: map[string]map[string]any{"country": {"resembles": "US"}},
			Queries: []analytics.QuerySpec{{ID: "a", Sources: []string{"visitors"}}},
		}},
		{"bad top-level value", &analytics.BatchRequest{
			DateFrom: "2024-01-01", DateTo: "2024-01-31",
			Filters: map[string]map[string]any{"city": {"is": "springfield"}},
			Queries: []analytics.QuerySpec{{ID: "a", Sources: []string{"visitors"}}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := engine.Run(context.Background(), tt.req)
			assert.Nil(t, resp)
			var qe *analytics.QueryError
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, analytics.CodeInvalidRequest, qe.Code)
		})
	}
}

// The same malformed filter rejects the batch at the top level but only
// fails its own query when given per query.
func TestMalformedFilterScope(t *testing.T) {
	engine, db := setupEngine(t, analytics.Options{})
	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)
	testsupport.CreateVisits(t, db, 2, store.Session{StartedAt: at("2024-01-10", 10), CountryCode: "US"}, home)

	bad := map[string]map[string]any{"city": {"is": "springfield"}}
	queries := []analytics.QuerySpec{
		{ID: "ok", Sources: []string{"visitors"}, Format: analytics.FormatFlat},
		{ID: "bad", Sources: []string{"visitors"}, Format: analytics.FormatFlat,
			Filters: []analytics.FilterSpec{{Key: "city", Operator: "is", Value: "springfield"}}},
	}

	resp, err := engine.Run(context.Background(), &analytics.BatchRequest{
		DateFrom: "2024-01-01", DateTo: "2024-01-31",
		Filters: bad,
		Queries: queries[:1],
	})
	assert.Nil(t, resp)
	var qe *analytics.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, analytics.CodeInvalidRequest, qe.Code)

	resp, err = engine.Run(context.Background(), &analytics.BatchRequest{
		DateFrom: "2024-01-01", DateTo: "2024-01-31",
		Queries: queries,
	})
	require.NoError(t, err)
	require.Contains(t, resp.Errors, "bad")
	assert.Equal(t, analytics.CodeInvalidFilter, resp.Errors["bad"].Code)
	ok := resp.Items["ok"].(*analytics.FlatResult)
	assert.Equal(t, 2.0, ok.Totals["visitors"]["current"])
}

// A store failure in one query leaves the others intact.
func TestStoreFailureIsolated(t *testing.T) {
	engine, db := setupEngine(t, analytics.Options{})
	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)
	testsupport.CreateVisits(t, db, 3, store.Session{StartedAt: at("2024-02-02", 10), CountryCode: "US"}, home)
	require.NoError(t, db.Migrator().DropTable(&store.City{}))

	resp, err := engine.Run(context.Background(), &analytics.BatchRequest{
		DateFrom: "2024-02-01",
		DateTo:   "2024-02-29",
		Queries: []analytics.QuerySpec{
			{ID: "a", Sources: []string{"visitors"}, GroupBy: []string{"country"}},
			{ID: "b", Sources: []string{"visitors"}, GroupBy: []string{"city"}},
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	countries := tableItem(t, resp, "a")
	require.Len(t, countries.Data.Rows, 1)
	assert.Equal(t, 3.0, countries.Data.Rows[0]["visitors"])

	require.Contains(t, resp.Errors, "b")
	assert.Equal(t, analytics.CodeStoreUnavailable, resp.Errors["b"].Code)
	assert.NotContains(t, resp.Items, "b")
}

func TestFlatTotals(t *testing.T) {
	engine, db := setupEngine(t, analytics.Options{})
	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)
	about := testsupport.CreatePage(t, db, "/about", "About", "page", 2)

	visitor := uint(1)
	testsupport.CreateVisit(t, db, store.Session{VisitorID: &visitor, StartedAt: at("2024-05-02", 8), IsBounce: true, DurationSeconds: 0}, home)
	testsupport.CreateVisit(t, db, store.Session{VisitorID: &visitor, StartedAt: at("2024-05-03", 8), DurationSeconds: 120}, home, about, home)
	// no visitor id: counted by session
	testsupport.CreateVisit(t, db, store.Session{StartedAt: at("2024-05-04", 8), DurationSeconds: 60}, about)

	resp, err := engine.Run(context.Background(), &analytics.BatchRequest{
		DateFrom: "2024-05-01",
		DateTo:   "2024-05-31",
		Queries: []analytics.QuerySpec{{
			ID:      "tiles",
			Sources: []string{"visitors", "views", "sessions", "bounce_rate", "avg_session_duration"},
			GroupBy: []string{"country"},
			Format:  analytics.FormatFlat,
			Context: "overview",
		}},
	})
	require.NoError(t, err)

	result, ok := resp.Items["tiles"].(*analytics.FlatResult)
	require.True(t, ok)
	require.Len(t, result.Totals, 5)
	require.Len(t, result.Items, 5)

	assert.Equal(t, 2.0, result.Totals["visitors"]["current"])
	assert.Equal(t, 5.0, result.Totals["views"]["current"])
	assert.Equal(t, 3.0, result.Totals["sessions"]["current"])
	assert.InDelta(t, 1.0/3.0, result.Totals["bounce_rate"]["current"], 1e-9)
	assert.InDelta(t, 60.0, result.Totals["avg_session_duration"]["current"], 1e-9)
	assert.NotContains(t, result.Totals["visitors"], "previous")

	assert.Equal(t, "visitors", result.Items[0]["key"])
	assert.Equal(t, "Visitors", result.Items[0]["label"])
	assert.Equal(t, "overview", result.Meta.Context)
}

func TestZeroSessionRates(t *testing.T) {
	engine, db := setupEngine(t, analytics.Options{})
	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)

	// session started before the range, view inside it
	session := testsupport.CreateVisit(t, db, store.Session{StartedAt: at("2024-06-30", 23), CountryCode: "US"})
	require.NoError(t, db.Create(&store.View{SessionID: session.ID, ResourceURIID: home.ID, ViewedAt: at("2024-07-01", 0).Add(5 * time.Minute)}).Error)

	resp, err := engine.Run(context.Background(), &analytics.BatchRequest{
		DateFrom: "2024-07-01",
		DateTo:   "2024-07-31",
		Queries: []analytics.QuerySpec{
			{ID: "by_country", Sources: []string{"views", "bounce_rate", "avg_session_duration"}, GroupBy: []string{"country"}},
			{ID: "tiles", Sources: []string{"bounce_rate", "avg_session_duration"}, Format: analytics.FormatFlat},
		},
	})
	require.NoError(t, err)
	require.Empty(t, resp.Errors)

	byCountry := tableItem(t, resp, "by_country")
	require.Len(t, byCountry.Data.Rows, 1)
	row := byCountry.Data.Rows[0]
	assert.Equal(t, "US", row["country_code"])
	assert.Equal(t, 1.0, row["views"])
	assert.Equal(t, 0.0, row["bounce_rate"])
	assert.Equal(t, 0.0, row["avg_session_duration"])

	tiles := resp.Items["tiles"].(*analytics.FlatResult)
	assert.Equal(t, 0.0, tiles.Totals["bounce_rate"]["current"])
	assert.Equal(t, 0.0, tiles.Totals["avg_session_duration"]["current"])
}

func TestComparisonAlignment(t *testing.T) {
	engine, db := setupEngine(t, analytics.Options{})
	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)

	testsupport.CreateVisits(t, db, 4, store.Session{StartedAt: at("2024-02-10", 12), CountryCode: "US"}, home)
	testsupport.CreateVisits(t, db, 2, store.Session{StartedAt: at("2024-02-11", 12), CountryCode: "DE"}, home)
	testsupport.CreateVisits(t, db, 3, store.Session{StartedAt: at("2024-01-10", 12), CountryCode: "US"}, home)
	testsupport.CreateVisits(t, db, 5, store.Session{StartedAt: at("2024-01-12", 12), CountryCode: "FR"}, home)

	resp, err := engine.Run(context.Background(), &analytics.BatchRequest{
		DateFrom:         "2024-02-01",
		DateTo:           "2024-02-29",
		Compare:          true,
		PreviousDateFrom: "2024-01-01",
		PreviousDateTo:   "2024-01-29",
		Queries: []analytics.QuerySpec{
			{ID: "countries", Sources: []string{"visitors"}, GroupBy: []string{"country"}, ShowTotals: true},
			{ID: "tiles", Sources: []string{"visitors"}, Format: analytics.FormatFlat},
		},
	})
	require.NoError(t, err)

	result := tableItem(t, resp, "countries")
	require.Len(t, result.Data.Rows, 3)
	byCode := map[string]analytics.Row{}
	for _, row := range result.Data.Rows {
		byCode[row["country_code"].(string)] = row
	}

	assert.Equal(t, 4.0, byCode["US"]["visitors"])
	assert.Equal(t, analytics.Row{"visitors": 3.0}, byCode["US"]["previous"])

	assert.Equal(t, 2.0, byCode["DE"]["visitors"])
	assert.Equal(t, analytics.Row{"visitors": nil}, byCode["DE"]["previous"])

	assert.Nil(t, byCode["FR"]["visitors"])
	assert.Equal(t, analytics.Row{"visitors": 5.0}, byCode["FR"]["previous"])
	assert.Equal(t, "France", byCode["FR"]["country_name"])

	// groups absent from the current period sort last
	assert.Equal(t, "FR", result.Data.Rows[2]["country_code"])

	assert.Equal(t, 6.0, result.Data.Totals["visitors"])
	assert.Equal(t, analytics.Row{"visitors": 8.0}, result.Data.Totals["previous"])
	assert.Equal(t, "2024-01-01", result.Meta.PreviousDateFrom)

	tiles := resp.Items["tiles"].(*analytics.FlatResult)
	assert.Equal(t, 6.0, tiles.Totals["visitors"]["current"])
	assert.Equal(t, 8.0, tiles.Totals["visitors"]["previous"])
	assert.InDelta(t, -25.0, tiles.Totals["visitors"]["change"], 1e-9)
}

func TestDerivedPreviousPeriod(t *testing.T) {
	engine, db := setupEngine(t, analytics.Options{})
	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)
	testsupport.CreateVisits(t, db, 2, store.Session{StartedAt: at("2024-03-05", 12)}, home)
	testsupport.CreateVisits(t, db, 7, store.Session{StartedAt: at("2024-03-12", 12)}, home)

	compare := true
	resp, err := engine.Run(context.Background(), &analytics.BatchRequest{
		DateFrom: "2024-03-08",
		DateTo:   "2024-03-14",
		Queries: []analytics.QuerySpec{
			{ID: "tiles", Sources: []string{"visitors"}, Format: analytics.FormatFlat, Compare: &compare},
		},
	})
	require.NoError(t, err)

	tiles := resp.Items["tiles"].(*analytics.FlatResult)
	assert.Equal(t, "2024-03-01", tiles.Meta.PreviousDateFrom)
	assert.Equal(t, "2024-03-07", tiles.Meta.PreviousDateTo)
	assert.Equal(t, 7.0, tiles.Totals["visitors"]["current"])
	assert.Equal(t, 2.0, tiles.Totals["visitors"]["previous"])
	assert.InDelta(t, 250.0, tiles.Totals["visitors"]["change"], 1e-9)
}

func TestChartNullFill(t *testing.T) {
	engine, db := setupEngine(t, analytics.Options{})
	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)
	testsupport.CreateVisits(t, db, 2, store.Session{StartedAt: at("2024-04-01", 9)}, home)
	testsupport.CreateVisits(t, db, 1, store.Session{StartedAt: at("2024-04-03", 22)}, home, home)
	testsupport.CreateVisits(t, db, 4, store.Session{StartedAt: at("2024-03-26", 9)}, home)

	resp, err := engine.Run(context.Background(), &analytics.BatchRequest{
		DateFrom: "2024-04-01",
		DateTo:   "2024-04-05",
		Compare:  true,
		Queries: []analytics.QuerySpec{{
			ID:      "trend",
			Sources: []string{"visitors", "views"},
			GroupBy: []string{"date"},
			Format:  analytics.FormatChart,
		}},
	})
	require.NoError(t, err)
	require.Empty(t, resp.Errors)

	chart, ok := resp.Items["trend"].(*analytics.ChartResult)
	require.True(t, ok)

	assert.Equal(t, []string{"2024-04-01", "2024-04-02", "2024-04-03", "2024-04-04", "2024-04-05"}, chart.Labels)
	require.Len(t, chart.Datasets, 2)
	for _, ds := range chart.Datasets {
		assert.Len(t, ds.Data, len(chart.Labels), ds.Key)
		assert.Len(t, ds.Previous, len(chart.Labels), ds.Key)
	}

	visitors := chart.Datasets[0]
	assert.Equal(t, "visitors", visitors.Key)
	assert.Equal(t, 2.0, *visitors.Data[0])
	assert.Nil(t, visitors.Data[1])
	assert.Equal(t, 1.0, *visitors.Data[2])
	assert.Nil(t, visitors.Data[3])
	assert.Nil(t, visitors.Data[4])

	views := chart.Datasets[1]
	assert.Equal(t, 2.0, *views.Data[2])

	// previous window is 2024-03-27..2024-03-31 and nothing happened in it
	assert.Equal(t, []string{"2024-03-27", "2024-03-28", "2024-03-29", "2024-03-30", "2024-03-31"}, chart.PreviousLabels)
	for _, v := range visitors.Previous {
		assert.Nil(t, v)
	}
}

func TestChartPreviousPairsByPosition(t *testing.T) {
	engine, db := setupEngine(t, analytics.Options{})
	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)
	testsupport.CreateVisits(t, db, 3, store.Session{StartedAt: at("2024-01-02", 9)}, home)

	resp, err := engine.Run(context.Background(), &analytics.BatchRequest{
		DateFrom:         "2024-02-01",
		DateTo:           "2024-02-03",
		Compare:          true,
		PreviousDateFrom: "2024-01-01",
		PreviousDateTo:   "2024-01-03",
		Queries: []analytics.QuerySpec{{
			ID: "trend", Sources: []string{"visitors"}, GroupBy: []string{"date"}, Format: analytics.FormatChart,
		}},
	})
	require.NoError(t, err)

	chart := resp.Items["trend"].(*analytics.ChartResult)
	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-03"}, chart.PreviousLabels)
	prev := chart.Datasets[0].Previous
	require.Len(t, prev, 3)
	assert.Nil(t, prev[0])
	require.NotNil(t, prev[1])
	assert.Equal(t, 3.0, *prev[1])
	assert.Nil(t, prev[2])
}

func TestCategoricalChart(t *testing.T) {
	engine, db := setupEngine(t, analytics.Options{})
	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)
	testsupport.CreateVisits(t, db, 2, store.Session{StartedAt: at("2024-04-01", 9), DeviceType: "mobile"}, home)
	testsupport.CreateVisits(t, db, 5, store.Session{StartedAt: at("2024-04-01", 9), DeviceType: "desktop"}, home)

	resp, err := engine.Run(context.Background(), &analytics.BatchRequest{
		DateFrom: "2024-04-01",
		DateTo:   "2024-04-30",
		Queries: []analytics.QuerySpec{{
			ID: "devices", Sources: []string{"visitors"}, GroupBy: []string{"device"}, Format: analytics.FormatChart,
		}},
	})
	require.NoError(t, err)

	chart := resp.Items["devices"].(*analytics.ChartResult)
	assert.Equal(t, []string{"Desktop", "Mobile"}, chart.Labels)
	assert.Equal(t, 5.0, *chart.Datasets[0].Data[0])
	assert.Equal(t, 2.0, *chart.Datasets[0].Data[1])
	assert.Nil(t, chart.PreviousLabels)
}

func TestPaginationRoundTrip(t *testing.T) {
	engine, db := setupEngine(t, analytics.Options{})
	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)
	for i := 0; i < 23; i++ {
		testsupport.CreateVisits(t, db, i%5+1, store.Session{StartedAt: at("2024-08-10", 10), Browser: fmt.Sprintf("browser-%02d", i)}, home)
	}

	query := func(page, perPage int) *analytics.TableResult {
		resp, err := engine.Run(context.Background(), &analytics.BatchRequest{
			DateFrom: "2024-08-01",
			DateTo:   "2024-08-31",
			Queries: []analytics.QuerySpec{{
				ID: "browsers", Sources: []string{"visitors"}, GroupBy: []string{"browser"},
				Page: page, PerPage: perPage,
			}},
		})
		require.NoError(t, err)
		return tableItem(t, resp, "browsers")
	}

	all := query(1, 23)
	require.Equal(t, 23, all.Meta.TotalRows)
	require.Len(t, all.Data.Rows, 23)

	var paged []analytics.Row
	for page := 1; ; page++ {
		result := query(page, 10)
		assert.Equal(t, 3, result.Meta.TotalPages)
		if len(result.Data.Rows) == 0 {
			break
		}
		paged = append(paged, result.Data.Rows...)
	}

	assert.ElementsMatch(t, column(all.Data.Rows, "browser"), column(paged, "browser"))
	assert.Equal(t, column(all.Data.Rows, "browser"), column(paged, "browser"), "sort is stable across pages")

	// ties break on the browser id ascending
	assert.Equal(t, "browser-04", all.Data.Rows[0]["browser"])
	assert.Equal(t, "browser-09", all.Data.Rows[1]["browser"])
}

func TestIdempotentResults(t *testing.T) {
	engine, db := setupEngine(t, analytics.Options{})
	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)
	for i, browser := range []string{"chrome", "firefox", "safari", "edge"} {
		testsupport.CreateVisits(t, db, 3, store.Session{StartedAt: at("2024-09-0"+fmt.Sprint(i+1), 10), Browser: browser, CountryCode: "NL"}, home)
	}

	req := &analytics.BatchRequest{
		DateFrom: "2024-09-01",
		DateTo:   "2024-09-30",
		Compare:  true,
		Queries: []analytics.QuerySpec{
			{ID: "browsers", Sources: []string{"visitors", "views"}, GroupBy: []string{"browser"}, ShowTotals: true},
			{ID: "trend", Sources: []string{"visitors"}, GroupBy: []string{"week"}, Format: analytics.FormatChart},
			{ID: "tiles", Sources: []string{"visitors", "bounce_rate"}, Format: analytics.FormatFlat},
		},
	}

	first, err := engine.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := engine.Run(context.Background(), req)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestRollupSplitMatchesRawFacts(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	labeler, err := labels.New(db, testsupport.GetLogger())
	require.NoError(t, err)

	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)
	about := testsupport.CreatePage(t, db, "/about", "About", "page", 2)

	raw := map[string]int{}
	for day := 1; day <= 10; day++ {
		date := fmt.Sprintf("2024-01-%02d", day)
		testsupport.CreateVisits(t, db, day, store.Session{StartedAt: at(date, 12)}, home, about)
		raw[date] = day * 2
	}
	// rollups mirror the raw facts for the days before the horizon
	for day := 1; day <= 4; day++ {
		date := fmt.Sprintf("2024-01-%02d", day)
		testsupport.CreateRollup(t, db, date, home, day)
		testsupport.CreateRollup(t, db, date, about, day)
	}
	// a rollup on the horizon day itself must never be read
	testsupport.CreateRollup(t, db, "2024-01-05", home, 1000)

	now := func() time.Time { return at("2024-01-20", 8) }
	rawOnly := analytics.NewEngine(db, testsupport.GetLogger(), labeler, analytics.Options{Now: now})
	// horizon = 2024-01-05
	split := analytics.NewEngine(db, testsupport.GetLogger(), labeler, analytics.Options{Now: now, FactRetentionDays: 15})

	req := &analytics.BatchRequest{
		DateFrom: "2024-01-01",
		DateTo:   "2024-01-10",
		Queries: []analytics.QuerySpec{
			{ID: "tiles", Sources: []string{"views"}, Format: analytics.FormatFlat},
			{ID: "daily", Sources: []string{"views"}, GroupBy: []string{"date"}, Format: analytics.FormatChart},
			{ID: "pages", Sources: []string{"views"}, GroupBy: []string{"page"}, OrderBy: "uri", Order: "ASC"},
			{ID: "by_country", Sources: []string{"views"}, GroupBy: []string{"country"}},
		},
	}

	expected, err := rawOnly.Run(context.Background(), req)
	require.NoError(t, err)
	actual, err := split.Run(context.Background(), req)
	require.NoError(t, err)
	require.Empty(t, actual.Errors)

	expectedTiles := expected.Items["tiles"].(*analytics.FlatResult)
	actualTiles := actual.Items["tiles"].(*analytics.FlatResult)
	assert.Equal(t, 110.0, expectedTiles.Totals["views"]["current"])
	assert.Equal(t, expectedTiles.Totals["views"]["current"], actualTiles.Totals["views"]["current"])
	assert.False(t, expectedTiles.Meta.RollupApplied)
	assert.True(t, actualTiles.Meta.RollupApplied)
	assert.False(t, actualTiles.Meta.RollupSkipped)

	expectedDaily := expected.Items["daily"].(*analytics.ChartResult)
	actualDaily := actual.Items["daily"].(*analytics.ChartResult)
	for i, label := range actualDaily.Labels {
		require.NotNil(t, actualDaily.Datasets[0].Data[i], label)
		assert.Equal(t, float64(raw[label]), *actualDaily.Datasets[0].Data[i], label)
		assert.Equal(t, *expectedDaily.Datasets[0].Data[i], *actualDaily.Datasets[0].Data[i], label)
	}

	actualPages := tableItem(t, actual, "pages")
	require.Len(t, actualPages.Data.Rows, 2)
	assert.Equal(t, "/", actualPages.Data.Rows[0]["uri"])
	assert.Equal(t, 55.0, actualPages.Data.Rows[0]["views"])
	assert.Equal(t, 55.0, actualPages.Data.Rows[1]["views"])

	// country is not carried by rollups, so raw facts serve the whole range
	byCountry := tableItem(t, actual, "by_country")
	assert.False(t, byCountry.Meta.RollupApplied)
	assert.True(t, byCountry.Meta.RollupSkipped)
	// no split without a retention window, so nothing was skipped either
	assert.False(t, tableItem(t, expected, "by_country").Meta.RollupSkipped)
	assert.Equal(t, 110.0, byCountry.Data.Rows[0]["views"])
}

func TestRegionRequiresCountryFilter(t *testing.T) {
	engine, db := setupEngine(t, analytics.Options{})
	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)
	require.NoError(t, db.Create(&store.City{CityName: "Austin", RegionCode: "TX", RegionName: "Texas", CountryCode: "US"}).Error)
	testsupport.CreateVisits(t, db, 3, store.Session{StartedAt: at("2024-05-05", 10), CountryCode: "US", RegionCode: "TX"}, home)
	testsupport.CreateVisits(t, db, 1, store.Session{StartedAt: at("2024-05-05", 10), CountryCode: "US", RegionCode: "CA"}, home)
	testsupport.CreateVisits(t, db, 4, store.Session{StartedAt: at("2024-05-05", 10), CountryCode: "CA", RegionCode: "ON"}, home)

	spec := analytics.QuerySpec{ID: "regions", Sources: []string{"visitors"}, GroupBy: []string{"region"}}

	resp, err := engine.Run(context.Background(), &analytics.BatchRequest{
		DateFrom: "2024-05-01", DateTo: "2024-05-31",
		Queries: []analytics.QuerySpec{spec},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"regions"}, resp.Skipped)
	assert.Empty(t, resp.Errors)
	assert.Empty(t, resp.Items)

	resp, err = engine.Run(context.Background(), &analytics.BatchRequest{
		DateFrom: "2024-05-01", DateTo: "2024-05-31",
		Filters: map[string]map[string]any{"country": {"is": "us"}},
		Queries: []analytics.QuerySpec{spec},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Skipped)

	result := tableItem(t, resp, "regions")
	require.Len(t, result.Data.Rows, 2)
	assert.Equal(t, "TX", result.Data.Rows[0]["region_code"])
	assert.Equal(t, "Texas", result.Data.Rows[0]["region_name"])
	assert.Equal(t, 3.0, result.Data.Rows[0]["visitors"])
	assert.Equal(t, "CA", result.Data.Rows[1]["region_name"])
}

func TestPageDimensionCountsSessionsOnce(t *testing.T) {
	engine, db := setupEngine(t, analytics.Options{})
	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)
	shop := testsupport.CreatePage(t, db, "/shop", "Shop", "product", 2)

	testsupport.CreateVisit(t, db, store.Session{StartedAt: at("2024-06-01", 10)}, home, home, shop)
	testsupport.CreateVisit(t, db, store.Session{StartedAt: at("2024-06-02", 10), IsBounce: true}, home)

	resp, err := engine.Run(context.Background(), &analytics.BatchRequest{
		DateFrom: "2024-06-01",
		DateTo:   "2024-06-30",
		Queries: []analytics.QuerySpec{
			{ID: "pages", Sources: []string{"views", "sessions", "bounce_rate"}, GroupBy: []string{"page"}, OrderBy: "views"},
			{ID: "products", Sources: []string{"sessions"}, Format: analytics.FormatFlat, Filters: []analytics.FilterSpec{{Key: "post_type", Operator: "is", Value: "product"}}},
			{ID: "entries", Sources: []string{"sessions"}, GroupBy: []string{"entry_page"}},
		},
	})
	require.NoError(t, err)
	require.Empty(t, resp.Errors)

	pages := tableItem(t, resp, "pages")
	require.Len(t, pages.Data.Rows, 2)
	assert.Equal(t, "/", pages.Data.Rows[0]["uri"])
	assert.Equal(t, "Home", pages.Data.Rows[0]["title"])
	assert.Equal(t, int64(home.ID), pages.Data.Rows[0]["resource_uri_id"])
	assert.Equal(t, 3.0, pages.Data.Rows[0]["views"])
	assert.Equal(t, 2.0, pages.Data.Rows[0]["sessions"])
	assert.Equal(t, 0.5, pages.Data.Rows[0]["bounce_rate"])
	assert.Equal(t, 1.0, pages.Data.Rows[1]["sessions"])

	products := resp.Items["products"].(*analytics.FlatResult)
	assert.Equal(t, 1.0, products.Totals["sessions"]["current"])

	entries := tableItem(t, resp, "entries")
	require.Len(t, entries.Data.Rows, 1)
	assert.Equal(t, "Home", entries.Data.Rows[0]["entry_title"])
	assert.Equal(t, 2.0, entries.Data.Rows[0]["sessions"])
}

func TestFiltersAndProjection(t *testing.T) {
	engine, db := setupEngine(t, analytics.Options{})
	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)
	testsupport.CreateVisits(t, db, 3, store.Session{StartedAt: at("2024-10-01", 10), CountryCode: "US", ReferrerDomain: "www.google.com", ReferrerName: "google", SourceChannel: "search"}, home)
	testsupport.CreateVisits(t, db, 2, store.Session{StartedAt: at("2024-10-02", 10), CountryCode: "DE", ReferrerDomain: "duckduckgo.com", ReferrerName: "duckduckgo", SourceChannel: "search"}, home)
	testsupport.CreateVisits(t, db, 4, store.Session{StartedAt: at("2024-10-03", 10), CountryCode: "FR", ReferrerDomain: "news.ycombinator.com", SourceChannel: "referral"}, home)
	testsupport.CreateVisits(t, db, 6, store.Session{StartedAt: at("2024-10-04", 10), CountryCode: "FR"}, home)

	resp, err := engine.Run(context.Background(), &analytics.BatchRequest{
		DateFrom: "2024-10-01",
		DateTo:   "2024-10-31",
		Queries: []analytics.QuerySpec{
			{ID: "engines", Sources: []string{"visitors"}, GroupBy: []string{"search_engine"}},
			{ID: "referrers", Sources: []string{"visitors"}, GroupBy: []string{"referrer"}, Columns: []string{"referrer_name", "visitors"}},
			{ID: "not_fr", Sources: []string{"visitors"}, Format: analytics.FormatFlat, Filters: []analytics.FilterSpec{{Key: "country", Operator: "not", Value: []any{"fr"}}}},
			{ID: "days", Sources: []string{"visitors"}, Format: analytics.FormatFlat, Filters: []analytics.FilterSpec{{Key: "date", Operator: "between", Value: []any{"2024-10-02", "2024-10-03"}}}},
		},
	})
	require.NoError(t, err)
	require.Empty(t, resp.Errors)

	engines := tableItem(t, resp, "engines")
	assert.Equal(t, []any{"google", "duckduckgo"}, column(engines.Data.Rows, "search_engine"))
	assert.Equal(t, []any{"Google", "DuckDuckGo"}, column(engines.Data.Rows, "search_engine_name"))

	referrers := tableItem(t, resp, "referrers")
	require.Len(t, referrers.Data.Rows, 3)
	assert.Equal(t, analytics.Row{"referrer_name": "Hacker News", "visitors": 4.0}, referrers.Data.Rows[0])
	// search rows store the engine id and come back with its display name
	assert.Equal(t, []any{"Hacker News", "Google", "DuckDuckGo"}, column(referrers.Data.Rows, "referrer_name"))

	notFR := resp.Items["not_fr"].(*analytics.FlatResult)
	assert.Equal(t, 5.0, notFR.Totals["visitors"]["current"])

	days := resp.Items["days"].(*analytics.FlatResult)
	assert.Equal(t, 6.0, days.Totals["visitors"]["current"])
}

func TestCancelledBatch(t *testing.T) {
	engine, db := setupEngine(t, analytics.Options{})
	home := testsupport.CreatePage(t, db, "/", "Home", "page", 1)
	testsupport.CreateVisits(t, db, 2, store.Session{StartedAt: at("2024-01-02", 10)}, home)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := engine.Run(ctx, &analytics.BatchRequest{
		DateFrom: "2024-01-01",
		DateTo:   "2024-01-31",
		Queries: []analytics.QuerySpec{
			{ID: "a", Sources: []string{"visitors"}, Format: analytics.FormatFlat},
			{ID: "b", Sources: []string{"views"}, GroupBy: []string{"date"}},
		},
	})

	var qe *analytics.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, analytics.CodeCancelled, qe.Code)
	require.NotNil(t, resp)
	assert.Empty(t, resp.Items)
	for _, id := range []string{"a", "b"} {
		require.Contains(t, resp.Errors, id)
		assert.Equal(t, analytics.CodeCancelled, resp.Errors[id].Code)
	}
}
