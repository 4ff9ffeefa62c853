package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wp-statistics/wp-statistics-sub013/internal/store"
)

// testDBCache caches test databases by root test name so subtests share
// the database their parent seeded
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// SetupTestDB creates an in-memory test database with the tracking schema
// migrated. Uses a named in-memory database with cache=shared so every pool
// connection sees the same data.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", rootName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	// shared-cache tables lock per connection; one connection keeps reads
	// from concurrent sub-queries deterministic
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(store.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// GetLogger returns a logger that only prints errors.
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// Date parses a YYYY-MM-DD date at midnight UTC, panicking on bad input.
func Date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// CreatePage creates a resource with one URI and returns the URI row.
func CreatePage(t *testing.T, db *gorm.DB, uri, title, postType string, resourceID uint) store.ResourceURI {
	t.Helper()

	resource := store.Resource{ResourceType: postType, ResourceID: resourceID, CachedTitle: title}
	if err := db.Create(&resource).Error; err != nil {
		t.Fatalf("testsupport: failed to create resource: %v", err)
	}
	resourceURI := store.ResourceURI{ResourceID: resource.ID, URI: uri}
	if err := db.Create(&resourceURI).Error; err != nil {
		t.Fatalf("testsupport: failed to create resource uri: %v", err)
	}
	return resourceURI
}

// CreateVisit stores session and one view per page, a minute apart,
// starting at session.StartedAt. The first page becomes the entry page.
func CreateVisit(t *testing.T, db *gorm.DB, session store.Session, pages ...store.ResourceURI) store.Session {
	t.Helper()

	if session.SourceChannel == "" {
		session.SourceChannel = "direct"
	}
	if err := db.Create(&session).Error; err != nil {
		t.Fatalf("testsupport: failed to create session: %v", err)
	}

	for i, page := range pages {
		view := store.View{
			SessionID:     session.ID,
			ResourceURIID: page.ID,
			ViewedAt:      session.StartedAt.Add(time.Duration(i) * time.Minute),
		}
		if err := db.Create(&view).Error; err != nil {
			t.Fatalf("testsupport: failed to create view: %v", err)
		}
		if i == 0 {
			session.InitialViewID = &view.ID
			if err := db.Model(&session).Update("initial_view_id", view.ID).Error; err != nil {
				t.Fatalf("testsupport: failed to set entry page: %v", err)
			}
		}
	}
	return session
}

// CreateVisits stores n single-page visits with distinct visitors.
func CreateVisits(t *testing.T, db *gorm.DB, n int, template store.Session, pages ...store.ResourceURI) {
	t.Helper()

	var maxVisitor uint
	db.Raw("SELECT COALESCE(MAX(visitor_id), 0) FROM sessions").Scan(&maxVisitor)

	for i := 0; i < n; i++ {
		session := template
		visitor := maxVisitor + uint(i) + 1
		session.VisitorID = &visitor
		CreateVisit(t, db, session, pages...)
	}
}

// CreateRollup stores a daily summary row.
func CreateRollup(t *testing.T, db *gorm.DB, date string, page store.ResourceURI, views int) {
	t.Helper()

	row := store.SummaryRollup{Date: date, ResourceURIID: page.ID, Views: views}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("testsupport: failed to create rollup: %v", err)
	}
}
