// Coverage HTTP handlers.
//
// This file exposes REST endpoints for coverage-area resources:
//   - GET /coverage/check/{code}  (check serviceability of one postal code)
//   - GET /coverage          (list, paginated, ETag support)
//   - GET /coverage/recent   (most recently registered areas)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hajastudio/westcontrol-coverage/internal/cep"
	"github.com/hajastudio/westcontrol-coverage/internal/domain"
	"github.com/hajastudio/westcontrol-coverage/internal/repo"
	"github.com/hajastudio/westcontrol-coverage/internal/services"
	"github.com/hajastudio/westcontrol-coverage/internal/utils"
)

//
// Service contracts (context-aware)
//

// CoverageService defines coverage read operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type CoverageService interface {
	// Check resolves a raw postal code to a stored coverage area, if any.
	Check(ctx context.Context, raw string) (*domain.CoverageArea, error)
	// Recent returns the n most recently registered coverage areas.
	Recent(ctx context.Context, n int) ([]domain.CoverageArea, error)
	// ListPage returns a page of coverage areas and the total count.
	ListPage(ctx context.Context, page, pageSize int) ([]domain.CoverageArea, int64, error)
}

// ImportService defines bulk-import operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use.
type ImportService interface {
	// Start normalizes the raw payload and launches an asynchronous import run.
	Start(ctx context.Context, raw string) (*services.ImportRun, error)
	// Get returns a point-in-time snapshot of a known import run.
	Get(runID string) (services.RunSnapshot, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for coverage checks and bulk imports.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	covSvc CoverageService
	impSvc ImportService

	// maxImportBytes caps the accepted import payload size. Zero means the
	// built-in default applies.
	maxImportBytes int64
}

// New constructs and returns a Handlers instance bound to the given services.
func New(covSvc CoverageService, impSvc ImportService) *Handlers {
	return &Handlers{covSvc: covSvc, impSvc: impSvc}
}

// WithMaxImportBytes sets the import payload cap and returns the receiver for
// chaining during router setup.
func (h *Handlers) WithMaxImportBytes(n int64) *Handlers {
	h.maxImportBytes = n
	return h
}

//
// DTOs
//

// CoverageAreaView is the public JSON shape of a stored coverage area.
type CoverageAreaView struct {
	// PostalCode in display form, e.g. "01001-000".
	PostalCode string `json:"postal_code" example:"01001-000"`
	Street     string `json:"street" example:"Praça da Sé"`
	// Neighborhood (bairro) of the address.
	Neighborhood string `json:"neighborhood" example:"Sé"`
	City         string `json:"city" example:"São Paulo"`
	// StateCode is the two-letter federative unit, e.g. "SP".
	StateCode string `json:"state_code" example:"SP"`
	CreatedAt string `json:"created_at" example:"2025-01-15T10:30:00Z"`
}

// CheckCoverageResponse reports whether a postal code is serviceable.
type CheckCoverageResponse struct {
	Viable bool              `json:"viable"`
	Area   *CoverageAreaView `json:"area"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListCoverageResponse wraps a page of coverage areas and pagination information.
type ListCoverageResponse struct {
	Areas      []CoverageAreaView `json:"areas"`
	Pagination Pagination         `json:"pagination"`
}

// RecentCoverageResponse wraps the most recently registered coverage areas.
type RecentCoverageResponse struct {
	Areas []CoverageAreaView `json:"areas"`
}

//
// Helpers
//

// areaView converts a stored coverage area into its public JSON shape.
func areaView(a *domain.CoverageArea) *CoverageAreaView {
	if a == nil {
		return nil
	}
	return &CoverageAreaView{
		PostalCode:   cep.Format(a.PostalCode),
		Street:       a.Street,
		Neighborhood: a.Neighborhood,
		City:         a.City,
		StateCode:    a.StateCode,
		CreatedAt:    a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// areaViews converts a slice of stored areas, preserving order.
func areaViews(items []domain.CoverageArea) []CoverageAreaView {
	out := make([]CoverageAreaView, 0, len(items))
	for i := range items {
		out = append(out, *areaView(&items[i]))
	}
	return out
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// coverageDB returns the underlying *gorm.DB when the concrete coverage
// service is in use, enabling best-effort conditional responses.
func (h *Handlers) coverageDB() *gorm.DB {
	if svc, ok := h.covSvc.(*services.CoverageService); ok {
		return svc.DB
	}
	return nil
}

//
// Handlers
//

// CheckCoverage godoc
// @ID          checkCoverage
// @Summary     Check serviceability of a postal code
// @Description Normalizes the given postal code and reports whether the area is covered.
// @Tags        Coverage
// @Produce     json
//
// @Param       code  path  string  true  "Postal code (digits, hyphen allowed)"  example(01001-000)
//
// @Success     200  {object}  handlers.CheckCoverageResponse  "Area is serviceable"
// @Failure     400  {object}  handlers.ErrorResponse          "Malformed postal code"
// @Failure     404  {object}  handlers.ErrorResponse          "No coverage for this code"
// @Failure     500  {object}  handlers.ErrorResponse          "Internal error"
// @Router      /coverage/check/{code} [get]
func (h *Handlers) CheckCoverage(c *gin.Context) {
	ctx := c.Request.Context()

	area, err := h.covSvc.Check(ctx, c.Param("code"))
	if err != nil {
		switch err {
		case services.ErrInvalidPostalCode:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "postal code must have exactly 8 digits")
		case services.ErrCoverageNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotServiceable, "no coverage for this postal code")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, CheckCoverageResponse{Viable: true, Area: areaView(area)})
}

// ListCoverage godoc
// @ID          listCoverage
// @Summary     List coverage areas
// @Description Returns a page of registered coverage areas ordered by postal code. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Coverage
// @Produce     json
//
// @Param       page           query   int     false "Page number"                 minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"              minimum(1) maximum(100) default(20)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
//
// @Success     200  {object} handlers.ListCoverageResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /coverage [get]
func (h *Handlers) ListCoverage(c *gin.Context) {
	ctx := c.Request.Context()

	// ETag pre-check (best effort).
	if db := h.coverageDB(); db != nil {
		count, maxTS, err := repo.CoverageStats(ctx, db)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"coverage:%d:%d"`, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.covSvc.ListPage(ctx, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListCoverageResponse{
		Areas: areaViews(items),
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// RecentCoverage godoc
// @ID          recentCoverage
// @Summary     List recently registered coverage areas
// @Description Returns the most recently registered coverage areas, newest first.
// @Tags        Coverage
// @Produce     json
//
// @Param       limit  query  int  false "Maximum number of areas"  minimum(1) maximum(50)
//
// @Success     200  {object} handlers.RecentCoverageResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /coverage/recent [get]
func (h *Handlers) RecentCoverage(c *gin.Context) {
	ctx := c.Request.Context()

	const maxLimit = 50
	limit := utils.AtoiDefault(c.Query("limit"), 0)
	if limit < 0 {
		limit = 0
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	items, err := h.covSvc.Recent(ctx, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, RecentCoverageResponse{Areas: areaViews(items)})
}
