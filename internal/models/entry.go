package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry types and parameter bounds accepted by the vault.
const (
	TypeTOTP = "totp"
	TypeHOTP = "hotp"

	MinPeriod uint = 5
	MaxPeriod uint = 300
)

// Entry represents one stored OTP credential. The secret column holds the
// AES-256-GCM ciphertext of the base32 seed and never leaves the process
// unencrypted except through the transfer exporters.
type Entry struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Label     string         `gorm:"type:varchar(128);not null;uniqueIndex" json:"label"`
	Issuer    string         `gorm:"type:varchar(128)" json:"issuer,omitempty"`
	Secret    string         `gorm:"not null" json:"-"`
	Type      string         `gorm:"type:varchar(8);not null;default:totp" json:"type"`
	Algorithm string         `gorm:"type:varchar(8);not null;default:SHA1" json:"algorithm"`
	Digits    int            `gorm:"not null;default:6" json:"digits"`
	Period    uint           `gorm:"not null;default:30" json:"period"`
	Counter   uint64         `gorm:"not null;default:0" json:"counter"`
	Tags      datatypes.JSON `json:"tags,omitempty"`
}

// BeforeCreate generates the identifier when one was not supplied.
func (e *Entry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// Normalise trims free-text fields and canonicalises enumerated ones.
func (e *Entry) Normalise() {
	e.Label = strings.TrimSpace(e.Label)
	e.Issuer = strings.TrimSpace(e.Issuer)
	e.Type = strings.ToLower(strings.TrimSpace(e.Type))
	if e.Type == "" {
		e.Type = TypeTOTP
	}
	e.Algorithm = strings.ToUpper(strings.TrimSpace(e.Algorithm))
	if e.Algorithm == "" {
		e.Algorithm = "SHA1"
	}
	if e.Digits == 0 {
		e.Digits = 6
	}
	if e.Period == 0 {
		e.Period = 30
	}
}

// TagList decodes the tags column. A missing or malformed column yields nil.
func (e *Entry) TagList() []string {
	if len(e.Tags) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(e.Tags, &tags); err != nil {
		return nil
	}
	return tags
}

// SetTagList stores a cleaned tag slice: trimmed, lower-cased, de-duplicated,
// empty values dropped. Order of first appearance is preserved.
func (e *Entry) SetTagList(tags []string) error {
	cleaned := NormaliseTags(tags)
	if len(cleaned) == 0 {
		e.Tags = nil
		return nil
	}

	raw, err := json.Marshal(cleaned)
	if err != nil {
		return err
	}
	e.Tags = datatypes.JSON(raw)
	return nil
}

// HasTag reports whether the entry carries the tag after normalisation.
func (e *Entry) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return false
	}
	for _, t := range e.TagList() {
		if t == tag {
			return true
		}
	}
	return false
}

// NormaliseTags cleans a raw tag slice the same way SetTagList does.
func NormaliseTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		cleaned = append(cleaned, tag)
	}
	return cleaned
}
