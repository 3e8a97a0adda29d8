// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// CoverageArea model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a coverage area is not found, functions return
//     gorm.ErrRecordNotFound (also exported here as ErrNotFound).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// The importer is the sole writer of this table; every other caller
// (viability check, recent/listing views) only reads.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hajastudio/westcontrol-coverage/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// UpsertCoverageArea inserts a coverage row keyed by postal code, or fully
// replaces the address fields of an existing row for the same code.
//
// The replace is wholesale: street, neighborhood, city, and state_code are
// all overwritten with the candidate's values (empty strings included),
// never merged with prior values. created_at is set once at first insert
// and preserved on conflict; updated_at is bumped on every write.
// Last-writer-wins is the concurrency policy.
//
// On success, it returns the persisted row. On failure, a DB error.
func UpsertCoverageArea(ctx context.Context, db *gorm.DB, area *domain.CoverageArea) (*domain.CoverageArea, error) {
	row := &domain.CoverageArea{
		ID:           uuid.NewString(),
		PostalCode:   area.PostalCode,
		Street:       area.Street,
		Neighborhood: area.Neighborhood,
		City:         area.City,
		StateCode:    area.StateCode,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "postal_code"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"street", "neighborhood", "city", "state_code", "updated_at",
			}),
		}).
		Create(row).Error
	if err != nil {
		return nil, err
	}
	// On conflict the insert's ID/CreatedAt were discarded; read back the
	// canonical row so callers always see stored values.
	return GetCoverageArea(ctx, db, area.PostalCode)
}

// GetCoverageArea fetches a single coverage area by its canonical postal
// code. If the record does not exist, it returns ErrNotFound. On other DB
// errors, the raw error is returned.
func GetCoverageArea(ctx context.Context, db *gorm.DB, postalCode string) (*domain.CoverageArea, error) {
	var a domain.CoverageArea
	err := db.WithContext(ctx).
		Where("postal_code = ?", postalCode).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListRecentCoverageAreas returns the n most recently created coverage
// areas, newest first. Used for the post-import sanity view on the
// dashboard. On DB error, it returns the error.
func ListRecentCoverageAreas(ctx context.Context, db *gorm.DB, n int) ([]domain.CoverageArea, error) {
	var out []domain.CoverageArea
	err := db.WithContext(ctx).
		Order("created_at desc").
		Limit(n).
		Find(&out).Error
	return out, err
}

// CountCoverageAreas returns the total number of coverage rows.
// On DB error, it returns the error.
func CountCoverageAreas(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.CoverageArea{}).
		Count(&total).Error
	return total, err
}

// ListCoverageAreasPage returns a paginated slice of coverage areas,
// ordered by postal code ascending for a stable browse order. Use
// CountCoverageAreas to obtain the total for pagination metadata.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListCoverageAreasPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.CoverageArea, error) {
	var out []domain.CoverageArea
	err := db.WithContext(ctx).
		Order("postal_code asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
