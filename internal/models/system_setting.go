package models

import "time"

// SystemSetting persists internal values that must survive restarts, such
// as the generated vault master key and the unlock passphrase hash. User
// preferences live in Setting instead.
type SystemSetting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
