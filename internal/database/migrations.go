package database

import (
	"gorm.io/gorm"

	"github.com/otpdeck/otpdeck/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Entry{},
		&models.Setting{},
		&models.SystemSetting{},
		&models.AuditRecord{},
	)
}

// SeedData ensures baseline rows exist. The preferences document starts out
// empty; defaults are merged at read time so new preference keys do not
// require migrations.
func SeedData(db *gorm.DB) error {
	preferences := models.Setting{
		Key:   models.PreferencesSettingKey,
		Value: []byte(`{}`),
	}

	return db.Where(models.Setting{Key: preferences.Key}).
		Attrs(preferences).
		FirstOrCreate(&models.Setting{}).Error
}
