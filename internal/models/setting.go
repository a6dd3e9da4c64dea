package models

import (
	"time"

	"gorm.io/datatypes"
)

// PreferencesSettingKey is the settings row holding the user preference document.
const PreferencesSettingKey = "preferences"

// Setting persists a named JSON document, currently only user preferences.
// Stored documents are sparse; defaults are merged in at read time.
type Setting struct {
	Key       string         `gorm:"primaryKey" json:"key"`
	Value     datatypes.JSON `gorm:"not null" json:"value"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
