package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"github.com/wp-statistics/wp-statistics-sub013/internal/pkg/referrers"
	"github.com/wp-statistics/wp-statistics-sub013/internal/store"
	"github.com/wp-statistics/wp-statistics-sub013/internal/timeframe"
)

// Seeder fills the tracking tables with demo visits for local development.
type Seeder struct {
	DBManager    cartridge.DBManager
	Logger       *slog.Logger
	SessionCount int
	// Days is how far back visits are spread.
	Days int
	// RetentionDays mirrors the engine setting: days before the horizon
	// also get summary rows.
	RetentionDays int
	Now           func() time.Time
	rand          *rand.Rand
}

// NewSeeder creates a new seeder instance
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, sessionCount int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		DBManager:     dbManager,
		Logger:        logger,
		SessionCount:  sessionCount,
		Days:          90,
		RetentionDays: 60,
		Now:           time.Now,
		rand:          rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
}

// WithSeed makes the generated data reproducible.
func (s *Seeder) WithSeed(seed uint64) *Seeder {
	s.rand = rand.New(rand.NewPCG(seed, seed))
	return s
}

// Run executes the seeding process
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Starting database seeding...", slog.Int("sessions", s.SessionCount), slog.Int("days", s.Days))

	pages, err := s.seedPages()
	if err != nil {
		return fmt.Errorf("failed to seed pages: %w", err)
	}

	cities, err := s.seedCities()
	if err != nil {
		return fmt.Errorf("failed to seed cities: %w", err)
	}

	created, err := s.seedVisits(ctx, pages, cities)
	if err != nil {
		return fmt.Errorf("failed to seed visits: %w", err)
	}

	rollups, err := s.BuildRollups()
	if err != nil {
		return fmt.Errorf("failed to build rollups: %w", err)
	}

	s.Logger.Info("Seeding completed successfully",
		slog.Int("sessions", created),
		slog.Int64("rollup_rows", rollups),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

type pageSpec struct {
	uri          string
	title        string
	resourceType string
}

var demoPages = []pageSpec{
	{"/", "Home", "home"},
	{"/about", "About Us", "page"},
	{"/contact", "Contact", "page"},
	{"/pricing", "Pricing", "page"},
	{"/features", "Features", "page"},
	{"/blog", "Blog", "archive"},
	{"/blog/hello-world", "Hello World", "post"},
	{"/blog/release-notes", "Release Notes", "post"},
	{"/products", "Shop", "archive"},
	{"/products/widget-a", "Widget A", "product"},
	{"/products/gadget-b", "Gadget B", "product"},
	{"/docs/getting-started", "Getting Started", "page"},
	{"/signup", "Sign Up", "page"},
}

// journeyTemplates are realistic paths visitors take through the site.
var journeyTemplates = [][]string{
	{"/"},
	{"/blog/hello-world"},
	{"/", "/about", "/contact"},
	{"/", "/features", "/pricing", "/signup"},
	{"/", "/blog", "/blog/hello-world", "/signup"},
	{"/pricing", "/features", "/signup"},
	{"/", "/products", "/products/widget-a", "/products/gadget-b", "/pricing"},
	{"/", "/docs/getting-started"},
	{"/", "/blog", "/blog/hello-world", "/blog/release-notes"},
	{"/products", "/products/widget-a", "/pricing", "/signup"},
	{"/blog/release-notes", "/about", "/pricing", "/signup"},
}

// seedPages ensures every demo page has a resource and a URI.
func (s *Seeder) seedPages() (map[string]store.ResourceURI, error) {
	db := s.DBManager.GetConnection()
	pages := make(map[string]store.ResourceURI, len(demoPages))

	for i, spec := range demoPages {
		var uri store.ResourceURI
		if err := db.Where("uri = ?", spec.uri).First(&uri).Error; err == nil {
			pages[spec.uri] = uri
			continue
		}

		err := sqlite.PerformWrite(s.Logger, db, func(tx *gorm.DB) error {
			resource := store.Resource{ResourceType: spec.resourceType, ResourceID: uint(i + 1), CachedTitle: spec.title}
			if err := tx.Create(&resource).Error; err != nil {
				return err
			}
			uri = store.ResourceURI{ResourceID: resource.ID, URI: spec.uri}
			return tx.Create(&uri).Error
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create page %s: %w", spec.uri, err)
		}
		pages[spec.uri] = uri
	}

	s.Logger.Info("Pages ready", slog.Int("count", len(pages)))
	return pages, nil
}

type place struct {
	country, continent, region, regionName, city, timezone string
}

var demoPlaces = []place{
	{"US", "NA", "CA", "California", "San Francisco", "America/Los_Angeles"},
	{"US", "NA", "TX", "Texas", "Austin", "America/Chicago"},
	{"US", "NA", "NY", "New York", "New York", "America/New_York"},
	{"DE", "EU", "BE", "Berlin", "Berlin", "Europe/Berlin"},
	{"DE", "EU", "BY", "Bavaria", "Munich", "Europe/Berlin"},
	{"FR", "EU", "IDF", "Île-de-France", "Paris", "Europe/Paris"},
	{"GB", "EU", "ENG", "England", "London", "Europe/London"},
	{"JP", "AS", "13", "Tokyo", "Tokyo", "Asia/Tokyo"},
	{"BR", "SA", "SP", "São Paulo", "São Paulo", "America/Sao_Paulo"},
	{"CA", "NA", "ON", "Ontario", "Toronto", "America/Toronto"},
}

// seedCities stores one city per demo place, keyed by city name.
func (s *Seeder) seedCities() (map[string]store.City, error) {
	db := s.DBManager.GetConnection()
	cities := make(map[string]store.City, len(demoPlaces))

	for _, p := range demoPlaces {
		var city store.City
		err := db.Where("city_name = ? AND country_code = ?", p.city, p.country).First(&city).Error
		if err != nil {
			city = store.City{CityName: p.city, RegionCode: p.region, RegionName: p.regionName, CountryCode: p.country}
			if err := sqlite.PerformWrite(s.Logger, db, func(tx *gorm.DB) error {
				return tx.Create(&city).Error
			}); err != nil {
				return nil, fmt.Errorf("failed to create city %s: %w", p.city, err)
			}
		}
		cities[p.city] = city
	}
	return cities, nil
}

type client struct {
	device, browser, platform string
}

var demoClients = []client{
	{"desktop", "chrome", "windows"},
	{"desktop", "chrome", "macos"},
	{"desktop", "safari", "macos"},
	{"desktop", "firefox", "linux"},
	{"desktop", "edge", "windows"},
	{"mobile", "safari", "ios"},
	{"mobile", "chrome", "android"},
	{"mobile", "samsung", "android"},
	{"tablet", "safari", "ipados"},
}

const writeBatchSize = 200

// seedVisits generates sessions with their views in write batches.
func (s *Seeder) seedVisits(ctx context.Context, pages map[string]store.ResourceURI, cities map[string]store.City) (int, error) {
	db := s.DBManager.GetConnection()
	referrerPool := getReferrers()
	now := s.Now().UTC()

	// about a third of visits come from returning visitors
	visitorPool := s.SessionCount*2/3 + 1

	created := 0
	for created < s.SessionCount {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}

		batch := writeBatchSize
		if remaining := s.SessionCount - created; remaining < batch {
			batch = remaining
		}

		err := sqlite.PerformWrite(s.Logger, db, func(tx *gorm.DB) error {
			for i := 0; i < batch; i++ {
				journey := journeyTemplates[s.rand.IntN(len(journeyTemplates))]
				p := demoPlaces[s.rand.IntN(len(demoPlaces))]
				c := demoClients[s.rand.IntN(len(demoClients))]
				referrer := referrerPool[s.rand.IntN(len(referrerPool))]

				startedAt := now.Add(-time.Duration(s.rand.IntN(s.Days*24*60*60)) * time.Second)
				visitor := uint(s.rand.IntN(visitorPool) + 1)
				city := cities[p.city]

				session := store.Session{
					VisitorID:     &visitor,
					StartedAt:     startedAt,
					CountryCode:   p.country,
					RegionCode:    p.region,
					CityID:        &city.ID,
					Continent:     p.continent,
					TimezoneID:    p.timezone,
					DeviceType:    c.device,
					Browser:       c.browser,
					Platform:      c.platform,
					SourceChannel: "direct",
					IsBounce:      len(journey) == 1,
				}
				applyReferrer(&session, referrer)

				if err := tx.Create(&session).Error; err != nil {
					return err
				}

				viewedAt := startedAt
				var entryID uint
				for idx, path := range journey {
					if idx > 0 {
						viewedAt = viewedAt.Add(time.Duration(s.rand.IntN(110)+10) * time.Second)
					}
					view := store.View{SessionID: session.ID, ResourceURIID: pages[path].ID, ViewedAt: viewedAt}
					if err := tx.Create(&view).Error; err != nil {
						return err
					}
					if idx == 0 {
						entryID = view.ID
					}
				}

				duration := int(viewedAt.Sub(startedAt).Seconds())
				if err := tx.Model(&session).Updates(map[string]any{
					"initial_view_id":  entryID,
					"duration_seconds": duration,
				}).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return created, err
		}
		created += batch
		s.Logger.Debug("Seeded visit batch", slog.Int("created", created))
	}
	return created, nil
}

// applyReferrer fills the referrer columns the way the tracker records
// them: search sessions carry the engine id as referrer name.
func applyReferrer(session *store.Session, referrer string) {
	if referrer == "" {
		return
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Hostname() == "" {
		return
	}
	host := u.Hostname()
	session.ReferrerDomain = host

	channel, ok := referrers.ChannelOf(host)
	if !ok {
		session.SourceChannel = string(referrers.ChannelReferral)
		return
	}
	session.SourceChannel = string(channel)
	if channel == referrers.ChannelSearch {
		id, _, _ := strings.Cut(strings.TrimPrefix(host, "www."), ".")
		session.ReferrerName = id
	}
}

// BuildRollups writes daily summary rows for every day before the retention
// horizon, replacing rows already there. Raw views are kept.
func (s *Seeder) BuildRollups() (int64, error) {
	horizon, ok := timeframe.Horizon(s.Now().UTC(), s.RetentionDays)
	if !ok {
		return 0, nil
	}

	db := s.DBManager.GetConnection()
	var affected int64
	err := sqlite.PerformWrite(s.Logger, db, func(tx *gorm.DB) error {
		result := tx.Exec(`
			INSERT INTO summary (date, resource_uri_id, views)
			SELECT strftime('%Y-%m-%d', v.viewed_at), v.resource_uri_id, COUNT(*)
			FROM views v
			WHERE v.viewed_at < ?
			GROUP BY strftime('%Y-%m-%d', v.viewed_at), v.resource_uri_id
			ON CONFLICT (date, resource_uri_id) DO UPDATE SET views = excluded.views`, horizon)
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, err
	}

	s.Logger.Info("Rollups built", slog.Time("horizon", horizon), slog.Int64("rows", affected))
	return affected, nil
}

// getReferrers returns a list of common referrer URLs
func getReferrers() []string {
	return []string{
		"", // Direct visit
		"",
		"https://www.google.com/",
		"https://www.google.com/",
		"https://www.bing.com/",
		"https://duckduckgo.com/",
		"https://www.facebook.com/",
		"https://twitter.com/",
		"https://www.linkedin.com/feed/",
		"https://github.com/",
		"https://news.ycombinator.com/item?id=1",
		"https://some-other-website.com/blog/post",
	}
}
