// Package services – ImportService
//
// This file implements the bulk coverage import pipeline: it normalizes a
// raw postal-code submission, dispatches lookups in fixed-width chunks
// against the external CEP service, upserts resolved addresses into the
// coverage table, and tracks per-code outcomes plus live progress in an
// in-memory run registry that callers poll by run ID.
//
// Scheduling is batch-at-a-time: every code in a chunk runs in its own
// goroutine and the chunk joins before the next one starts. An individual
// failure never cancels its siblings or later chunks; it only becomes that
// code's outcome. Cancellation (service shutdown) is honored between
// chunks, never mid-chunk.
//
// Observability: runs are traced with OpenTelemetry and counted with
// Prometheus; per-run lifecycle events are logged with zerolog.
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hajastudio/westcontrol-coverage/internal/cep"
	"github.com/hajastudio/westcontrol-coverage/internal/domain"
	"github.com/hajastudio/westcontrol-coverage/internal/lookup"
)

const (
	// defaultBatchWidth bounds concurrent lookups per chunk so the
	// external service is not overwhelmed.
	defaultBatchWidth = 5

	// defaultRunTTL is how long finished runs remain pollable.
	defaultRunTTL = 30 * time.Minute

	// defaultRecentLimit sizes the refreshed latest-coverage view
	// attached to the final report.
	defaultRecentLimit = 5

	// messages surfaced to the failure list
	msgUnknownError = "unknown error"
	msgCanceled     = "import canceled"
)

var (
	importCodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_import_codes_total",
			Help: "Total postal codes processed by import runs, by result.",
		},
		[]string{"result"}, // resolved | not_found | error
	)

	importRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coverage_import_run_duration_seconds",
			Help:    "Wall-clock duration of import runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms .. ~3.5min
		},
	)

	importRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coverage_import_runs_total",
			Help: "Total import runs started.",
		},
	)
)

func init() {
	prometheus.MustRegister(importCodes, importRunDuration, importRuns)
}

// Resolver is the lookup contract required by ImportService. It resolves
// one canonical 8-digit postal code to an address, returning
// lookup.ErrNotFound when the service reports the code as unknown.
type Resolver interface {
	Resolve(ctx context.Context, code string) (*lookup.Address, error)
}

// CoverageRepo defines the repository contract shared by the coverage
// services. Implementations are responsible for persistence of coverage
// rows.
type CoverageRepo interface {
	// UpsertCoverageArea inserts or fully replaces a row keyed by postal code.
	UpsertCoverageArea(ctx context.Context, db *gorm.DB, area *domain.CoverageArea) (*domain.CoverageArea, error)

	// GetCoverageArea fetches a row by its canonical postal code.
	GetCoverageArea(ctx context.Context, db *gorm.DB, postalCode string) (*domain.CoverageArea, error)

	// ListRecentCoverageAreas returns the n most recently created rows.
	ListRecentCoverageAreas(ctx context.Context, db *gorm.DB, n int) ([]domain.CoverageArea, error)

	// CountCoverageAreas returns the total row count for pagination.
	CountCoverageAreas(ctx context.Context, db *gorm.DB) (int64, error)

	// ListCoverageAreasPage returns a page of rows.
	ListCoverageAreasPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.CoverageArea, error)
}

// ImportService owns the lifecycle of bulk coverage imports: starting
// runs, processing them asynchronously, and serving progress snapshots.
type ImportService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the coverage repository used by this service.
	Repo CoverageRepo
	// Lookup resolves individual postal codes.
	Lookup Resolver

	// Width is the chunk size (concurrent lookups per chunk).
	Width int
	// RunTTL is how long finished runs stay pollable before eviction.
	RunTTL time.Duration
	// RecentLimit sizes the refreshed latest-coverage view in reports.
	RecentLimit int

	mu   sync.Mutex
	runs map[string]*ImportRun

	// baseCtx drives background processing; canceling it (via Shutdown)
	// stops runs between chunks.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewImportService constructs an ImportService with sane defaults for
// batching and run retention.
func NewImportService(db *gorm.DB, repo CoverageRepo, lk Resolver) *ImportService {
	ctx, cancel := context.WithCancel(context.Background())
	return &ImportService{
		DB:          db,
		Repo:        repo,
		Lookup:      lk,
		Width:       defaultBatchWidth,
		RunTTL:      defaultRunTTL,
		RecentLimit: defaultRecentLimit,
		runs:        make(map[string]*ImportRun),
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// Shutdown stops background processing and waits for in-flight chunks to
// settle. Codes not yet dispatched are marked failed with a canceled
// message; the per-chunk join semantics are untouched.
func (s *ImportService) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

// Start normalizes raw submitted text and, when it yields at least one
// valid code, registers a run and begins processing it in the background.
//
// It returns ErrNoValidCodes (before any network activity) when
// normalization produces an empty list. The provided context scopes only
// this call; the run itself proceeds independently of it.
func (s *ImportService) Start(ctx context.Context, raw string) (*ImportRun, error) {
	tr := otel.Tracer("services/ImportService")
	_, span := tr.Start(ctx, "Start")
	defer span.End()

	codes, dropped := cep.NormalizeStats(raw)
	if dropped > 0 {
		log.Debug().Int("dropped_tokens", dropped).Msg("import: malformed tokens skipped")
	}
	if len(codes) == 0 {
		return nil, ErrNoValidCodes
	}

	run := newImportRun(uuid.NewString(), codes)
	span.SetAttributes(
		attribute.String("import.run_id", run.ID()),
		attribute.Int("import.codes", len(codes)),
	)

	s.mu.Lock()
	s.evictExpiredLocked(time.Now())
	s.runs[run.ID()] = run
	s.mu.Unlock()

	importRuns.Inc()
	log.Info().
		Str("run_id", run.ID()).
		Int("codes", len(codes)).
		Int("dropped_tokens", dropped).
		Msg("import run started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(s.baseCtx, run, codes)
	}()

	return run, nil
}

// Get returns a snapshot of the run with the given ID, or ErrRunNotFound
// when it never existed or was evicted after its retention window.
func (s *ImportService) Get(runID string) (RunSnapshot, error) {
	s.mu.Lock()
	s.evictExpiredLocked(time.Now())
	run, ok := s.runs[runID]
	s.mu.Unlock()

	if !ok {
		return RunSnapshot{}, ErrRunNotFound
	}
	return run.Snapshot(), nil
}

// process walks the code list in consecutive chunks of width items. Every
// item in a chunk runs concurrently; the chunk joins before the next one
// begins. Chunk N+1 never starts while any item of chunk N is in flight.
func (s *ImportService) process(ctx context.Context, run *ImportRun, codes []string) {
	tr := otel.Tracer("services/ImportService")
	ctx, span := tr.Start(ctx, "process",
		trace.WithAttributes(
			attribute.String("import.run_id", run.ID()),
			attribute.Int("import.codes", len(codes)),
		),
	)
	defer span.End()

	start := time.Now()
	width := s.Width
	if width < 1 {
		width = defaultBatchWidth
	}

	// Items already dispatched run to completion even when the service is
	// shutting down; cancellation is only consulted between chunks.
	itemCtx := context.WithoutCancel(ctx)

	for lo := 0; lo < len(codes); lo += width {
		// Cancellation is only consulted between chunks.
		if ctx.Err() != nil {
			for i := lo; i < len(codes); i++ {
				run.settle(i, ImportOutcome{PostalCode: codes[i], Err: msgCanceled})
				importCodes.WithLabelValues("error").Inc()
			}
			break
		}

		hi := lo + width
		if hi > len(codes) {
			hi = len(codes)
		}

		var wg sync.WaitGroup
		for i := lo; i < hi; i++ {
			wg.Add(1)
			go func(i int, code string) {
				defer wg.Done()
				run.settle(i, s.processOne(itemCtx, code))
			}(i, codes[i])
		}
		wg.Wait()
	}

	// Refresh the latest-coverage view for the report. Best effort: a
	// failure here does not taint the run itself.
	limit := s.RecentLimit
	if limit < 1 {
		limit = defaultRecentLimit
	}
	recent, err := s.Repo.ListRecentCoverageAreas(itemCtx, s.DB, limit)
	if err != nil {
		log.Warn().Err(err).Str("run_id", run.ID()).Msg("import: refresh of recent coverage failed")
		recent = nil
	}

	run.finish(recent)
	importRunDuration.Observe(time.Since(start).Seconds())

	snap := run.Snapshot()
	log.Info().
		Str("run_id", run.ID()).
		Int("total", snap.Report.Total).
		Int("succeeded", snap.Report.Succeeded).
		Int("failed", snap.Report.Failed).
		Dur("took", time.Since(start)).
		Msg("import run finished")
}

// processOne resolves and persists a single code. Every failure mode is
// converted into the outcome's error message; nothing propagates.
func (s *ImportService) processOne(ctx context.Context, code string) ImportOutcome {
	addr, err := s.Lookup.Resolve(ctx, code)
	if err != nil {
		if errors.Is(err, lookup.ErrNotFound) {
			importCodes.WithLabelValues("not_found").Inc()
			return ImportOutcome{PostalCode: code, Err: lookup.ErrNotFound.Error()}
		}
		importCodes.WithLabelValues("error").Inc()
		return ImportOutcome{PostalCode: code, Err: errMessage(err)}
	}

	area, err := s.Repo.UpsertCoverageArea(ctx, s.DB, &domain.CoverageArea{
		PostalCode:   addr.PostalCode,
		Street:       addr.Street,
		Neighborhood: addr.Neighborhood,
		City:         addr.City,
		StateCode:    addr.StateCode,
	})
	if err != nil {
		importCodes.WithLabelValues("error").Inc()
		return ImportOutcome{PostalCode: code, Err: errMessage(err)}
	}

	importCodes.WithLabelValues("resolved").Inc()
	return ImportOutcome{PostalCode: code, Area: area}
}

// evictExpiredLocked drops finished runs older than the retention window.
// Caller must hold s.mu.
func (s *ImportService) evictExpiredLocked(now time.Time) {
	ttl := s.RunTTL
	if ttl <= 0 {
		ttl = defaultRunTTL
	}
	for id, run := range s.runs {
		if run.expired(now, ttl) {
			delete(s.runs, id)
		}
	}
}

// errMessage extracts a user-facing message from an error, falling back
// to a generic one when the error text is empty.
func errMessage(err error) string {
	if err == nil || err.Error() == "" {
		return msgUnknownError
	}
	return err.Error()
}
