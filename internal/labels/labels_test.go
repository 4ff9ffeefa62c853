package labels_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-statistics/wp-statistics-sub013/internal/labels"
	"github.com/wp-statistics/wp-statistics-sub013/internal/store"
	"github.com/wp-statistics/wp-statistics-sub013/internal/testsupport"
)

func newLabeler(t *testing.T) *labels.Labeler {
	t.Helper()
	db := testsupport.SetupTestDB(t)
	require.NoError(t, db.Create(&store.City{CityName: "Austin", RegionCode: "TX", RegionName: "Texas", CountryCode: "US"}).Error)

	l, err := labels.New(db, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	return l
}

func TestLabel(t *testing.T) {
	l := newLabeler(t)

	tests := []struct {
		name     string
		kind     labels.Kind
		value    string
		expected string
	}{
		{"country code", labels.KindCountry, "us", "United States"},
		{"unknown country", labels.KindCountry, "zz", "ZZ"},
		{"continent", labels.KindContinent, "EU", "Europe"},
		{"device", labels.KindDevice, "mobile", "Mobile"},
		{"browser from catalog", labels.KindBrowser, "samsung", "Samsung Internet"},
		{"browser not in catalog", labels.KindBrowser, "arc_browser", "Arc Browser"},
		{"platform", labels.KindPlatform, "macos", "macOS"},
		{"channel", labels.KindChannel, "search", "Organic Search"},
		{"referrer", labels.KindReferrer, "www.google.com", "Google"},
		{"search engine", labels.KindSearchEngine, "duckduckgo", "DuckDuckGo"},
		{"source", labels.KindSource, "bounce_rate", "Bounce Rate"},
		{"empty value", labels.KindBrowser, "", labels.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, l.Label(tt.kind, tt.value))
		})
	}
}

func TestRegionLabel(t *testing.T) {
	l := newLabeler(t)

	assert.Equal(t, "Texas", l.RegionLabel("us", "TX"))
	assert.Equal(t, "CA", l.RegionLabel("US", "CA"), "unknown region falls back to its code")
	assert.Equal(t, labels.Unknown, l.RegionLabel("US", ""))
}

func TestRegionLabelWithoutDatabase(t *testing.T) {
	l, err := labels.New(nil, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)

	assert.Equal(t, "TX", l.RegionLabel("US", "TX"))
}
