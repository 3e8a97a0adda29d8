package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hajastudio/westcontrol-coverage/internal/domain"
)

func newCoverageDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("coverage_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestUpsertCoverageArea_Error_NoTable(t *testing.T) {
	db := newCoverageDB(t /* no migrations */)
	area, err := UpsertCoverageArea(context.Background(), db, &domain.CoverageArea{PostalCode: "01001000"})
	if err == nil || area != nil {
		t.Fatalf("expected error upserting without table, got area=%v err=%v", area, err)
	}
}

func TestUpsertCoverageArea_InsertSetsFields(t *testing.T) {
	db := newCoverageDB(t, &domain.CoverageArea{})

	start := time.Now().UTC().Add(-time.Minute)
	area, err := UpsertCoverageArea(context.Background(), db, &domain.CoverageArea{
		PostalCode:   "01001000",
		Street:       "Praça da Sé",
		Neighborhood: "Sé",
		City:         "São Paulo",
		StateCode:    "SP",
	})
	if err != nil {
		t.Fatalf("UpsertCoverageArea: %v", err)
	}
	if area.ID == "" || area.PostalCode != "01001000" || area.City != "São Paulo" {
		t.Fatalf("unexpected fields: %+v", area)
	}
	if area.CreatedAt.Before(start) {
		t.Fatalf("CreatedAt seems unset/really old: %v", area.CreatedAt)
	}
}

func TestUpsertCoverageArea_ConflictReplacesAllFields(t *testing.T) {
	db := newCoverageDB(t, &domain.CoverageArea{})
	ctx := context.Background()

	first, err := UpsertCoverageArea(ctx, db, &domain.CoverageArea{
		PostalCode:   "02002000",
		Street:       "Old Street",
		Neighborhood: "Old Hood",
		City:         "Old City",
		StateCode:    "SP",
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Second upsert for the same code with a partially empty candidate:
	// every address field must be overwritten, including the empty ones.
	second, err := UpsertCoverageArea(ctx, db, &domain.CoverageArea{
		PostalCode: "02002000",
		Street:     "New Street",
		City:       "New City",
		StateCode:  "RJ",
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("conflict should keep the original row, got new id %q vs %q", second.ID, first.ID)
	}
	if second.Street != "New Street" || second.City != "New City" || second.StateCode != "RJ" {
		t.Fatalf("address fields not replaced: %+v", second)
	}
	if second.Neighborhood != "" {
		t.Fatalf("absent candidate field must overwrite to empty, got %q", second.Neighborhood)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("CreatedAt must be preserved across upserts: %v vs %v", second.CreatedAt, first.CreatedAt)
	}

	// Exactly one row for the code.
	var n int64
	if err := db.Model(&domain.CoverageArea{}).Where("postal_code = ?", "02002000").Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected single row per code, got %d", n)
	}
}

func TestGetCoverageArea_NotFound(t *testing.T) {
	db := newCoverageDB(t, &domain.CoverageArea{})
	_, err := GetCoverageArea(context.Background(), db, "99999999")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestListRecentCoverageAreas_OrderAndLimit(t *testing.T) {
	db := newCoverageDB(t, &domain.CoverageArea{})

	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	for i, code := range []string{"01001000", "02002000", "03003000", "04004000"} {
		row := domain.CoverageArea{
			ID:         fmt.Sprintf("a%d", i),
			PostalCode: code,
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
			UpdatedAt:  base.Add(time.Duration(i) * time.Hour),
		}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("seed %s: %v", code, err)
		}
	}

	got, err := ListRecentCoverageAreas(context.Background(), db, 2)
	if err != nil {
		t.Fatalf("ListRecentCoverageAreas: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	// Newest first: 04004000 then 03003000.
	if got[0].PostalCode != "04004000" || got[1].PostalCode != "03003000" {
		t.Fatalf("unexpected order: %#v", got)
	}
}

func TestCountAndListCoverageAreasPage(t *testing.T) {
	db := newCoverageDB(t, &domain.CoverageArea{})
	ctx := context.Background()

	for i, code := range []string{"03003000", "01001000", "02002000"} {
		row := domain.CoverageArea{ID: fmt.Sprintf("p%d", i), PostalCode: code}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("seed %s: %v", code, err)
		}
	}

	total, err := CountCoverageAreas(ctx, db)
	if err != nil || total != 3 {
		t.Fatalf("CountCoverageAreas: total=%d err=%v", total, err)
	}

	page, err := ListCoverageAreasPage(ctx, db, 0, 2)
	if err != nil {
		t.Fatalf("ListCoverageAreasPage: %v", err)
	}
	if len(page) != 2 || page[0].PostalCode != "01001000" || page[1].PostalCode != "02002000" {
		t.Fatalf("page should be ordered by postal code: %#v", page)
	}

	rest, err := ListCoverageAreasPage(ctx, db, 2, 2)
	if err != nil || len(rest) != 1 || rest[0].PostalCode != "03003000" {
		t.Fatalf("second page wrong: %#v err=%v", rest, err)
	}
}

func TestCoverageStats(t *testing.T) {
	db := newCoverageDB(t, &domain.CoverageArea{})
	ctx := context.Background()

	count, maxTS, err := CoverageStats(ctx, db)
	if err != nil || count != 0 || maxTS != nil {
		t.Fatalf("empty table: count=%d maxTS=%v err=%v", count, maxTS, err)
	}

	newest := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []domain.CoverageArea{
		{ID: "s1", PostalCode: "01001000", UpdatedAt: newest.Add(-time.Hour)},
		{ID: "s2", PostalCode: "02002000", UpdatedAt: newest},
	}
	for _, r := range rows {
		if err := db.Create(&r).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	count, maxTS, err = CoverageStats(ctx, db)
	if err != nil {
		t.Fatalf("CoverageStats: %v", err)
	}
	if count != 2 || maxTS == nil || !maxTS.Equal(newest) {
		t.Fatalf("stats wrong: count=%d maxTS=%v", count, maxTS)
	}
}
