// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"courtbook/internal/database"
	"courtbook/internal/domain"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// OpenDB returns a migrated SQLite database in a per-test directory.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(filepath.Join(t.TempDir(), "courtbook.db"), nil)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, nil))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SeedMonth stores an all-free grid for venue/month covering courts from
// 08:00 to 22:00 in 30 minute slots.
func SeedMonth(t *testing.T, db *gorm.DB, venueID, month string, courts ...string) *domain.MonthlyAvailability {
	t.Helper()
	grid, err := domain.GenerateMonth(month, courts, "08:00", "22:00", domain.DefaultSlotGranularity)
	require.NoError(t, err)
	doc := &domain.MonthlyAvailability{VenueID: venueID, Month: month, Grid: grid}
	require.NoError(t, doc.Encode())
	require.NoError(t, db.Create(doc).Error)
	return doc
}
