package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/otpdeck/otpdeck/internal/database"
)

// Schema preparation levels, ordered: seeding implies migration.
const (
	prepNone = iota
	prepMigrate
	prepSeed
)

// TestDBOption adjusts how much schema preparation MustOpenTestDB performs.
type TestDBOption func(*int)

// WithAutoMigrate applies the schema migrations after opening.
func WithAutoMigrate() TestDBOption {
	return func(level *int) {
		*level = max(*level, prepMigrate)
	}
}

// WithSeedData migrates and inserts the baseline rows, matching what a
// fresh server boot produces.
func WithSeedData() TestDBOption {
	return func(level *int) {
		*level = max(*level, prepSeed)
	}
}

// MustOpenTestDB opens an in-memory SQLite database scoped to the test.
// The connection is closed via t.Cleanup.
func MustOpenTestDB(t *testing.T, opts ...TestDBOption) *gorm.DB {
	t.Helper()

	level := prepNone
	for _, opt := range opts {
		opt(&level)
	}

	db, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)

	switch level {
	case prepSeed:
		require.NoError(t, database.AutoMigrateAndSeed(db))
	case prepMigrate:
		require.NoError(t, database.AutoMigrate(db))
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}
