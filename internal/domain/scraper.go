// Package domain provides the control-plane models shared by the
// repositories, the runtime and the API.
package domain

import (
	"fmt"
	"time"
)

// Scraper kinds. Informational only; routines decide how they collect.
const (
	ScraperTypeAPI = "api"
	ScraperTypeWeb = "web"
)

// SchemaPrefix prefixes every isolated scraper namespace.
const SchemaPrefix = "scraper_"

// Scraper is a registered collection routine with its configuration.
type Scraper struct {
	ID          int64  `db:"id"           json:"id"`
	Name        string `db:"name"         json:"name"`
	Description string `db:"description"  json:"description"`
	ScraperType string `db:"scraper_type" json:"scraper_type"`
	// Routine is the registry name of the routine implementation.
	Routine    string   `db:"routine"     json:"routine"`
	Config     JSONBMap `db:"config"      json:"config"`
	Headers    JSONBMap `db:"headers"     json:"headers"`
	SchemaName string   `db:"schema_name" json:"schema_name"`
	IsActive   bool     `db:"is_active"   json:"is_active"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the scraper was soft-deleted.
func (s *Scraper) IsDeleted() bool {
	return s.DeletedAt != nil
}

// SchemaNameFor returns the isolated namespace name of a scraper id.
func SchemaNameFor(scraperID int64) string {
	return fmt.Sprintf("%s%d", SchemaPrefix, scraperID)
}

// ScraperFilter narrows scraper listings.
type ScraperFilter struct {
	IncludeDeleted bool
	ActiveOnly     bool
	Limit          int
	Offset         int
}
