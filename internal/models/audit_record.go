package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditRecord captures a vault mutation or access attempt. OTPDeck is
// single-user, so records carry no actor beyond the remote address.
type AuditRecord struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	Action    string    `gorm:"not null;index" json:"action"`
	Resource  string    `gorm:"index" json:"resource"`
	Result    string    `gorm:"not null" json:"result"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Metadata  string    `gorm:"type:json" json:"metadata"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (a *AuditRecord) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
