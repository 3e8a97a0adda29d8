// Package domain defines the persistence models for the coverage backend.
// These types are mapped with GORM and form the core data layer of the
// service.
package domain

import (
	"time"
)

// CoverageArea represents a serviceable address associated with a postal
// code (CEP). A row exists for a given code if and only if the external
// lookup for that code succeeded and the upsert committed; the importer is
// the sole writer, all other components only read.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - PostalCode: normalized 8-digit CEP; unique, the upsert key.
//   - Street / Neighborhood / City / StateCode: address fields from the
//     lookup response. Absent fields are stored as empty strings, never
//     NULL; an upsert replaces all four wholesale.
//   - CreatedAt: set once at first insert, preserved across later upserts
//     of the same code.
//   - UpdatedAt: timestamp managed by GORM, bumped on every upsert.
type CoverageArea struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	PostalCode   string    `json:"postal_code"   gorm:"type:char(8);not null;uniqueIndex:ux_coverage_postal_code"`
	Street       string    `json:"street"        gorm:"type:varchar(255);not null;default:''"`
	Neighborhood string    `json:"neighborhood"  gorm:"type:varchar(255);not null;default:''"`
	City         string    `json:"city"          gorm:"type:varchar(255);not null;default:''"`
	StateCode    string    `json:"state_code"    gorm:"type:varchar(2);not null;default:''"`
	CreatedAt    time.Time `json:"created_at"    gorm:"index:idx_coverage_created"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for CoverageArea.
func (CoverageArea) TableName() string { return "coverage_areas" }
