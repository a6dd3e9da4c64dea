package database

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openSQLite opens the vault file, creating its directory on first run.
// gorm's own query logging stays off; the access log middleware already
// covers request-level visibility.
func openSQLite(cfg Config) (*gorm.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		built, err := sqliteDSN(strings.TrimSpace(cfg.Path))
		if err != nil {
			return nil, err
		}
		dsn = built
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := enableForeignKeys(db); err != nil {
		return nil, err
	}
	return db, nil
}

// sqliteDSN builds the connection string for a vault file, or an in-memory
// database when no path is set. File databases run in WAL mode with a busy
// timeout so API writes and the snapshot scheduler do not trip over each
// other; in-memory databases share a cache so every pooled connection sees
// the same data.
func sqliteDSN(path string) (string, error) {
	if path == "" || strings.EqualFold(path, ":memory:") {
		return "file::memory:?cache=shared&_foreign_keys=1", nil
	}

	if err := ensureDir(path); err != nil {
		return "", err
	}

	pragmas := []string{"_foreign_keys=1", "_journal_mode=WAL", "_busy_timeout=5000"}
	return "file:" + filepath.ToSlash(path) + "?" + strings.Join(pragmas, "&"), nil
}

func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}

// enableForeignKeys turns referential integrity on for connections the DSN
// pragma did not reach, such as ones already open in the pool.
func enableForeignKeys(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	_, err = sqlDB.Exec("PRAGMA foreign_keys = ON")
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}
