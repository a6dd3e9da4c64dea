package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otpdeck/otpdeck/internal/models"
)

func TestOpenSQLiteInMemory(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite"})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, sqlDB.Ping())
}

func TestOpenSQLiteCreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "vault.sqlite")

	db, err := Open(Config{Driver: "sqlite", Path: path})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, sqlDB.Ping())
	require.DirExists(t, filepath.Dir(path))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported database driver")
}

func TestAutoMigrateAndSeed(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite"})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrateAndSeed(db))

	for _, table := range []string{"entries", "settings", "system_settings", "audit_records"} {
		require.True(t, db.Migrator().HasTable(table), "expected table %s", table)
	}

	var setting models.Setting
	require.NoError(t, db.Take(&setting, "key = ?", models.PreferencesSettingKey).Error)
	require.JSONEq(t, `{}`, string(setting.Value))

	// seeding twice must not clobber a stored document
	setting.Value = []byte(`{"ui":{"language":"en"}}`)
	require.NoError(t, db.Save(&setting).Error)
	require.NoError(t, SeedData(db))

	var after models.Setting
	require.NoError(t, db.Take(&after, "key = ?", models.PreferencesSettingKey).Error)
	require.JSONEq(t, `{"ui":{"language":"en"}}`, string(after.Value))
}

func TestAutoMigrateAndSeedNilDB(t *testing.T) {
	require.Error(t, AutoMigrateAndSeed(nil))
}
