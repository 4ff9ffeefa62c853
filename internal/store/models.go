// Package store holds the tracking schema the query engine reads. Rows are
// written by the ingestion pipeline; nothing in this module writes them
// outside of tests and seeding.
package store

import (
	"time"
)

// Session is one recorded visit.
type Session struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	VisitorID       *uint     `gorm:"index"`
	StartedAt       time.Time `gorm:"index;type:datetime;not null"`
	CountryCode     string    `gorm:"size:2;index;not null;default:''"`
	RegionCode      string    `gorm:"not null;default:''"`
	CityID          *uint     `gorm:"index"`
	Continent       string    `gorm:"size:2;not null;default:''"`
	TimezoneID      string    `gorm:"not null;default:''"`
	DeviceType      string    `gorm:"not null;default:''"`
	Browser         string    `gorm:"not null;default:''"`
	Platform        string    `gorm:"not null;default:''"`
	ReferrerDomain  string    `gorm:"index;not null;default:''"`
	ReferrerName    string    `gorm:"not null;default:''"`
	SourceChannel   string    `gorm:"not null;default:'direct'"`
	IsBounce        bool      `gorm:"not null;default:false"`
	DurationSeconds int       `gorm:"not null;default:0"`
	InitialViewID   *uint
}

func (Session) TableName() string { return "sessions" }

// City is the label source for the city dimension.
type City struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	CityName    string `gorm:"not null"`
	RegionCode  string `gorm:"index:idx_city_region;not null;default:''"`
	RegionName  string `gorm:"not null;default:''"`
	CountryCode string `gorm:"index:idx_city_region;size:2;not null"`
}

func (City) TableName() string { return "cities" }

// Resource is a trackable content unit.
type Resource struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	ResourceType string `gorm:"index;not null"`
	ResourceID   uint   `gorm:"index;not null;default:0"`
	CachedTitle  string `gorm:"not null;default:''"`
	IsDeleted    bool   `gorm:"not null;default:false"`
}

func (Resource) TableName() string { return "resources" }

// ResourceURI is one URI a resource has been served under.
type ResourceURI struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	ResourceID uint   `gorm:"index;not null"`
	URI        string `gorm:"column:uri;index;not null"`
}

func (ResourceURI) TableName() string { return "resource_uris" }

// View is one page view, bound to the URI active when it was recorded.
type View struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	SessionID     uint      `gorm:"index;not null"`
	ResourceURIID uint      `gorm:"column:resource_uri_id;index;not null"`
	ViewedAt      time.Time `gorm:"index;type:datetime;not null"`
}

func (View) TableName() string { return "views" }

// SummaryRollup is the daily view count per URI kept once raw views age out.
type SummaryRollup struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	Date          string `gorm:"uniqueIndex:idx_summary_unique;size:10;not null"` // YYYY-MM-DD
	ResourceURIID uint   `gorm:"column:resource_uri_id;uniqueIndex:idx_summary_unique;not null"`
	Views         int    `gorm:"not null;default:0"`
}

func (SummaryRollup) TableName() string { return "summary" }

// Models lists every table for migrations.
func Models() []any {
	return []any{
		&Session{},
		&City{},
		&Resource{},
		&ResourceURI{},
		&View{},
		&SummaryRollup{},
	}
}
