// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, compression,
// CORS, security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/hajastudio/westcontrol-coverage/internal/config"
	"github.com/hajastudio/westcontrol-coverage/internal/domain"
	"github.com/hajastudio/westcontrol-coverage/internal/http/handlers"
	"github.com/hajastudio/westcontrol-coverage/internal/http/middleware"
	"github.com/hajastudio/westcontrol-coverage/internal/lookup"
	"github.com/hajastudio/westcontrol-coverage/internal/repo"
	"github.com/hajastudio/westcontrol-coverage/internal/services"
)

// coverageRepoShim adapts the repository free functions to the
// services.CoverageRepo interface expected by both services. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type coverageRepoShim struct{}

// UpsertCoverageArea proxies repo.UpsertCoverageArea.
func (coverageRepoShim) UpsertCoverageArea(ctx context.Context, db *gorm.DB, area *domain.CoverageArea) (*domain.CoverageArea, error) {
	return repo.UpsertCoverageArea(ctx, db, area)
}

// GetCoverageArea proxies repo.GetCoverageArea.
func (coverageRepoShim) GetCoverageArea(ctx context.Context, db *gorm.DB, postalCode string) (*domain.CoverageArea, error) {
	return repo.GetCoverageArea(ctx, db, postalCode)
}

// ListRecentCoverageAreas proxies repo.ListRecentCoverageAreas.
func (coverageRepoShim) ListRecentCoverageAreas(ctx context.Context, db *gorm.DB, n int) ([]domain.CoverageArea, error) {
	return repo.ListRecentCoverageAreas(ctx, db, n)
}

// CountCoverageAreas proxies repo.CountCoverageAreas (pagination support).
func (coverageRepoShim) CountCoverageAreas(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountCoverageAreas(ctx, db)
}

// ListCoverageAreasPage proxies repo.ListCoverageAreasPage (pagination support).
func (coverageRepoShim) ListCoverageAreasPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.CoverageArea, error) {
	return repo.ListCoverageAreasPage(ctx, db, offset, limit)
}

// NewImportService builds the bulk-import service wired to the repository
// shim and a ViaCEP-style lookup client, applying configuration knobs. The
// caller owns its lifecycle and must invoke Shutdown on exit.
func NewImportService(db *gorm.DB, cfg config.Config) *services.ImportService {
	client := lookup.NewClient(cfg.Lookup.BaseURL, cfg.Lookup.Timeout)
	svc := services.NewImportService(db, coverageRepoShim{}, client)
	if cfg.Import.BatchWidth > 0 {
		svc.Width = cfg.Import.BatchWidth
	}
	if cfg.Import.RunTTL > 0 {
		svc.RunTTL = cfg.Import.RunTTL
	}
	if cfg.RecentLimit > 0 {
		svc.RecentLimit = cfg.RecentLimit
	}
	return svc
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), compression and
// rate limiting, CORS and security headers, health and metrics endpoints,
// and then mounts the public API.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured request logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip compression
//  7. Metrics
//  8. Rate limiter (per client IP)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, impSvc *services.ImportService, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured request logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	maxBody := cfg.Import.MaxUploadBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	r.Use(limitBody(maxBody))

	// 6) Compress list-heavy responses
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Token-bucket rate limiter per client IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "If-None-Match"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "If-None-Match"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (optional, off in production by default)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db
	covSvc := services.NewCoverageService(db, coverageRepoShim{})
	if cfg.RecentLimit > 0 {
		covSvc.RecentLimit = cfg.RecentLimit
	}

	h := handlers.New(covSvc, impSvc).WithMaxImportBytes(maxBody)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Coverage reads
		api.GET("/coverage", h.ListCoverage)
		api.GET("/coverage/recent", h.RecentCoverage)
		api.GET("/coverage/check/:code", h.CheckCoverage)

		// Bulk imports
		api.POST("/coverage/imports", h.StartImport)
		api.GET("/coverage/imports/:id", h.GetImport)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
