package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/otpdeck/otpdeck/internal/models"
)

// System setting keys used by the application itself.
const (
	VaultEncryptionKeySetting = "vault.encryption_key"
	PassphraseHashSetting     = "auth.passphrase_hash"
)

var errNilDB = errors.New("system settings: nil database handle")

// GetSystemSetting returns the stored value for key, or "" when the key is
// absent or migrations have not created the table yet.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", errNilDB
	}

	var setting models.SystemSetting
	err := db.WithContext(ctx).Take(&setting, "key = ?", key).Error
	switch {
	case err == nil:
		return setting.Value, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", nil
	case strings.Contains(err.Error(), "no such table"):
		// reads before the first migration behave like a missing key
		return "", nil
	default:
		return "", fmt.Errorf("system settings: get %q: %w", key, err)
	}
}

// UpsertSystemSetting stores or replaces a setting value.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	key = strings.TrimSpace(key)
	switch {
	case db == nil:
		return errNilDB
	case key == "":
		return errors.New("system settings: key must not be empty")
	}

	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.Assignments(map[string]any{"value": value, "updated_at": time.Now()}),
		}).
		Create(&models.SystemSetting{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("system settings: upsert %q: %w", key, err)
	}
	return nil
}

// ResolveVaultEncryptionKey returns the effective vault master key. A key
// configured explicitly wins and is persisted for visibility; otherwise the
// previously stored key is reused so encrypted secrets stay readable across
// restarts. The fallback is stored on first use.
func ResolveVaultEncryptionKey(ctx context.Context, db *gorm.DB, configured, fallback string) (string, error) {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		if err := UpsertSystemSetting(ctx, db, VaultEncryptionKeySetting, configured); err != nil {
			return "", err
		}
		return configured, nil
	}

	stored, err := GetSystemSetting(ctx, db, VaultEncryptionKeySetting)
	if err != nil {
		return "", err
	}
	if stored = strings.TrimSpace(stored); stored != "" {
		return stored, nil
	}

	fallback = strings.TrimSpace(fallback)
	if fallback == "" {
		return "", fmt.Errorf("system settings: no vault key available")
	}
	if err := UpsertSystemSetting(ctx, db, VaultEncryptionKeySetting, fallback); err != nil {
		return "", err
	}
	return fallback, nil
}
