// Package services – CoverageService
//
// This file implements CoverageService, the read side of the coverage
// table: single-code viability checks for the checkout funnel, the
// latest-coverage view for the dashboard, and paginated browsing for the
// admin surface. The importer is the only writer; this service never
// mutates rows.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hajastudio/westcontrol-coverage/internal/cep"
	"github.com/hajastudio/westcontrol-coverage/internal/domain"
)

// CoverageService provides read operations over stored coverage areas.
type CoverageService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the coverage repository used by this service.
	Repo CoverageRepo

	// RecentLimit caps the default size of the latest-coverage view.
	RecentLimit int
}

// NewCoverageService constructs a CoverageService with defaults.
func NewCoverageService(db *gorm.DB, repo CoverageRepo) *CoverageService {
	return &CoverageService{DB: db, Repo: repo, RecentLimit: defaultRecentLimit}
}

// Check normalizes a single user-typed postal code and reports whether the
// address is serviceable. It returns ErrInvalidPostalCode for input that
// does not strip to 8 digits, and ErrCoverageNotFound when no coverage row
// exists for the code.
func (s *CoverageService) Check(ctx context.Context, raw string) (*domain.CoverageArea, error) {
	tr := otel.Tracer("services/CoverageService")
	ctx, span := tr.Start(ctx, "Check",
		trace.WithAttributes(attribute.String("coverage.code", raw)),
	)
	defer span.End()

	code, ok := cep.Canonical(raw)
	if !ok {
		return nil, ErrInvalidPostalCode
	}

	area, err := s.Repo.GetCoverageArea(ctx, s.DB, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCoverageNotFound
		}
		return nil, err
	}
	return area, nil
}

// Recent returns the n most recently created coverage areas, newest
// first. Non-positive n falls back to the configured default.
func (s *CoverageService) Recent(ctx context.Context, n int) ([]domain.CoverageArea, error) {
	if n < 1 {
		n = s.RecentLimit
	}
	if n < 1 {
		n = defaultRecentLimit
	}
	return s.Repo.ListRecentCoverageAreas(ctx, s.DB, n)
}

// ListPage returns a page of coverage areas ordered by postal code and
// the total row count. It applies defaults for invalid page/pageSize.
func (s *CoverageService) ListPage(ctx context.Context, page, pageSize int) ([]domain.CoverageArea, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountCoverageAreas(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.CoverageArea{}, 0, nil
	}

	items, err := s.Repo.ListCoverageAreasPage(ctx, s.DB, offset, pageSize)
	return items, total, err
}
