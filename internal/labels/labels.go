// Package labels turns stored dimension values into display names. Labels
// never affect aggregation; a value without a known name falls back to a
// title-cased version of itself.
package labels

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/karloscodes/cartridge/cache"
	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/wp-statistics/wp-statistics-sub013/internal/pkg/referrers"
)

// Kind selects the naming table for a value.
type Kind string

const (
	KindCountry      Kind = "country"
	KindRegion       Kind = "region"
	KindContinent    Kind = "continent"
	KindDevice       Kind = "device"
	KindBrowser      Kind = "browser"
	KindPlatform     Kind = "platform"
	KindChannel      Kind = "channel"
	KindReferrer     Kind = "referrer"
	KindSearchEngine Kind = "search_engine"
	KindSource       Kind = "source"
)

// Unknown is the label of an empty value.
const Unknown = "Unknown"

const regionCacheTTL = 10 * time.Minute

//go:embed catalog.yml
var catalogYAML []byte

type catalog struct {
	Continents map[string]string `yaml:"continents"`
	Devices    map[string]string `yaml:"devices"`
	Browsers   map[string]string `yaml:"browsers"`
	Platforms  map[string]string `yaml:"platforms"`
	Channels   map[string]string `yaml:"channels"`
	Sources    map[string]string `yaml:"sources"`
}

func (c catalog) table(kind Kind) map[string]string {
	switch kind {
	case KindContinent:
		return c.Continents
	case KindDevice:
		return c.Devices
	case KindBrowser:
		return c.Browsers
	case KindPlatform:
		return c.Platforms
	case KindChannel:
		return c.Channels
	case KindSource:
		return c.Sources
	}
	return nil
}

// Labeler resolves display names. Safe for concurrent use.
type Labeler struct {
	catalog   catalog
	countries *gountries.Query
	regions   *cache.Cache[string, string]
	logger    *slog.Logger
}

// New builds a Labeler. Region names are read from the cities table and
// cached; db may be nil, in which case regions are labelled by their code.
func New(db *gorm.DB, logger *slog.Logger) (*Labeler, error) {
	var c catalog
	if err := yaml.Unmarshal(catalogYAML, &c); err != nil {
		return nil, fmt.Errorf("error parsing label catalog: %w", err)
	}

	l := &Labeler{
		catalog:   c,
		countries: gountries.New(),
		logger:    logger,
	}

	if db != nil {
		fetch := func(key string) (string, error) {
			country, region, _ := strings.Cut(key, "/")
			var name string
			err := db.WithContext(context.Background()).
				Raw("SELECT region_name FROM cities WHERE country_code = ? AND region_code = ? AND region_name <> '' LIMIT 1", country, region).
				Scan(&name).Error
			if err != nil {
				return "", err
			}
			return name, nil
		}
		l.regions = cache.NewCache[string, string](logger, regionCacheTTL, fetch)
	}

	return l, nil
}

// Label returns the display name of value.
func (l *Labeler) Label(kind Kind, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return Unknown
	}

	switch kind {
	case KindCountry:
		return l.country(value)
	case KindReferrer:
		return referrers.FriendlyName(value)
	case KindSearchEngine:
		return referrers.SearchEngineName(value)
	}

	if table := l.catalog.table(kind); table != nil {
		if name, ok := table[strings.ToLower(value)]; ok {
			return name
		}
		if name, ok := table[strings.ToUpper(value)]; ok {
			return name
		}
	}
	return titleCase(value)
}

// RegionLabel names a region inside a country.
func (l *Labeler) RegionLabel(countryCode, regionCode string) string {
	if regionCode == "" {
		return Unknown
	}
	if l.regions == nil {
		return regionCode
	}
	name, err := l.regions.Get(strings.ToUpper(countryCode) + "/" + regionCode)
	if err != nil {
		l.logger.Warn("Failed to resolve region name",
			slog.String("country", countryCode),
			slog.String("region", regionCode),
			slog.Any("error", err))
		return regionCode
	}
	if name == "" {
		return regionCode
	}
	return name
}

func (l *Labeler) country(code string) string {
	country, err := l.countries.FindCountryByAlpha(strings.ToUpper(code))
	if err != nil {
		return strings.ToUpper(code)
	}
	return country.Name.Common
}

func titleCase(s string) string {
	// a Caser keeps state, so one per call
	caser := cases.Title(language.AmericanEnglish)
	return caser.String(strings.ReplaceAll(s, "_", " "))
}
