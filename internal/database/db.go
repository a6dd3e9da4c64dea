package database

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Config contains database connection options.
type Config struct {
	Driver   string
	Path     string // SQLite database path when Driver == sqlite
	DSN      string // Optional DSN override
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	Options  map[string]string
}

// Open initialises a gorm.DB for the configured driver. An empty driver
// selects sqlite, the embedded default.
func Open(cfg Config) (*gorm.DB, error) {
	switch driver := strings.ToLower(cfg.Driver); driver {
	case "", "sqlite":
		return openSQLite(cfg)
	case "postgres", "postgresql":
		dsn, err := buildPostgresDSN(cfg)
		if err != nil {
			return nil, err
		}
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "mysql", "mariadb":
		dsn, err := buildMySQLDSN(cfg)
		if err != nil {
			return nil, err
		}
		return gorm.Open(mysql.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// AutoMigrateAndSeed prepares a freshly opened handle for serving: schema
// first, then the baseline settings rows.
func AutoMigrateAndSeed(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	if err := AutoMigrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := SeedData(db); err != nil {
		return fmt.Errorf("seed data: %w", err)
	}
	return nil
}

// sortedOptions renders option maps as key=value pairs in deterministic
// order so the assembled DSNs are stable.
func sortedOptions(options map[string]string) []string {
	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+options[key])
	}
	return pairs
}
