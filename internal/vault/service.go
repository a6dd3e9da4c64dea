package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/otpdeck/otpdeck/internal/audit"
	"github.com/otpdeck/otpdeck/internal/models"
	"github.com/otpdeck/otpdeck/internal/otpauth"
	"github.com/otpdeck/otpdeck/pkg/logger"
	"github.com/otpdeck/otpdeck/pkg/metrics"
)

var (
	// ErrEntryNotFound indicates the requested entry does not exist.
	ErrEntryNotFound = errors.New("vault: entry not found")
	// ErrDuplicateLabel indicates the label is already taken by another entry.
	ErrDuplicateLabel = errors.New("vault: label already in use")
)

const maxLabelSuffix = 999

// QR rendering bounds for per-entry PNG export.
const (
	DefaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024
)

// Service manages stored credentials. Secrets are encrypted with the vault
// key before they touch the database and decrypted on demand.
type Service struct {
	db     *gorm.DB
	crypto *Crypto
	audit  *audit.Service
	log    *zap.Logger
	now    func() time.Time
}

// ServiceOption customises the vault service.
type ServiceOption func(*Service)

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAudit wires an audit recorder so entry mutations leave a trail.
func WithAudit(recorder *audit.Service) ServiceOption {
	return func(s *Service) {
		s.audit = recorder
	}
}

// NewService constructs the vault service.
func NewService(db *gorm.DB, vaultCrypto *Crypto, opts ...ServiceOption) (*Service, error) {
	if db == nil {
		return nil, errors.New("vault service: db is required")
	}
	if vaultCrypto == nil {
		return nil, errors.New("vault service: crypto is required")
	}

	svc := &Service{
		db:     db,
		crypto: vaultCrypto,
		log:    logger.WithModule("vault"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Crypto exposes the key helper, used by the snapshot writer to stamp
// archives with the key fingerprint.
func (s *Service) Crypto() *Crypto {
	return s.crypto
}

// ListOptions controls how entries are filtered.
type ListOptions struct {
	Search string
	Tag    string
	Type   string
}

// CreateEntryInput captures the fields accepted when adding a credential.
type CreateEntryInput struct {
	Label     string
	Issuer    string
	Secret    string
	Type      string
	Algorithm string
	Digits    int
	Period    uint
	Counter   uint64
	Tags      []string

	// RenameOnConflict allocates "label (n)" instead of failing when the
	// label is taken. Imports set it; the create endpoint does not.
	RenameOnConflict bool
}

// UpdateEntryInput describes mutable entry fields. A nil pointer means no change.
type UpdateEntryInput struct {
	Label     *string
	Issuer    *string
	Secret    *string
	Type      *string
	Algorithm *string
	Digits    *int
	Period    *uint
	Counter   *uint64
	Tags      *[]string
}

// List retrieves entries ordered by label. Search matches a case-insensitive
// substring of label, issuer, or any tag.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]models.Entry, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.Entry{}).Order("LOWER(label)")
	if entryType := strings.ToLower(strings.TrimSpace(opts.Type)); entryType != "" {
		query = query.Where("type = ?", entryType)
	}

	var entries []models.Entry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("vault: list entries: %w", err)
	}

	search := strings.ToLower(strings.TrimSpace(opts.Search))
	tag := strings.ToLower(strings.TrimSpace(opts.Tag))
	if search == "" && tag == "" {
		return entries, nil
	}

	// tags live in a JSON column, so substring and tag matching happen here
	// rather than in vendor-specific SQL
	filtered := entries[:0]
	for _, entry := range entries {
		if tag != "" && !entry.HasTag(tag) {
			continue
		}
		if search != "" && !matchesSearch(&entry, search) {
			continue
		}
		filtered = append(filtered, entry)
	}
	return filtered, nil
}

// Get retrieves an entry by identifier.
func (s *Service) Get(ctx context.Context, id string) (*models.Entry, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrEntryNotFound
	}

	var entry models.Entry
	if err := s.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("vault: get entry: %w", err)
	}
	return &entry, nil
}

// Count reports how many entries the vault holds.
func (s *Service) Count(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Entry{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("vault: count entries: %w", err)
	}
	return total, nil
}

// Create validates, encrypts, and persists a new credential.
func (s *Service) Create(ctx context.Context, input CreateEntryInput) (*models.Entry, error) {
	ctx = ensureContext(ctx)

	entry := models.Entry{
		Label:     input.Label,
		Issuer:    input.Issuer,
		Type:      input.Type,
		Algorithm: input.Algorithm,
		Digits:    input.Digits,
		Period:    input.Period,
		Counter:   input.Counter,
	}
	entry.Normalise()

	if entry.Label == "" {
		return nil, errors.New("vault: label is required")
	}
	if err := entry.SetTagList(input.Tags); err != nil {
		return nil, fmt.Errorf("vault: encode tags: %w", err)
	}

	secret := otpauth.NormalizeSecret(input.Secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: secret is empty", otpauth.ErrInvalidSecret)
	}
	if err := otpauth.ProbeSecret(secret, paramsFor(&entry)); err != nil {
		return nil, err
	}

	taken, err := s.labelTaken(ctx, entry.Label, "")
	if err != nil {
		return nil, err
	}
	if taken {
		if !input.RenameOnConflict {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateLabel, entry.Label)
		}
		allocated, err := s.allocateLabel(ctx, entry.Label)
		if err != nil {
			return nil, err
		}
		entry.Label = allocated
	}

	encrypted, err := s.crypto.Encrypt([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("vault: encrypt secret: %w", err)
	}
	entry.Secret = encrypted

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("vault: create entry: %w", err)
	}

	s.refreshEntriesGauge(ctx)
	s.recordAudit(ctx, "entry.created", entry.Label, nil)
	return &entry, nil
}

// Update applies the provided changes to an existing entry. Parameter or
// secret changes are re-probed before anything is written.
func (s *Service) Update(ctx context.Context, id string, input UpdateEntryInput) (*models.Entry, error) {
	ctx = ensureContext(ctx)

	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	previousLabel := entry.Label

	if input.Label != nil {
		entry.Label = *input.Label
	}
	if input.Issuer != nil {
		entry.Issuer = *input.Issuer
	}
	if input.Type != nil {
		entry.Type = *input.Type
	}
	if input.Algorithm != nil {
		entry.Algorithm = *input.Algorithm
	}
	if input.Digits != nil {
		entry.Digits = *input.Digits
	}
	if input.Period != nil {
		entry.Period = *input.Period
	}
	if input.Counter != nil {
		entry.Counter = *input.Counter
	}
	entry.Normalise()

	if entry.Label == "" {
		return nil, errors.New("vault: label is required")
	}
	if input.Tags != nil {
		if err := entry.SetTagList(*input.Tags); err != nil {
			return nil, fmt.Errorf("vault: encode tags: %w", err)
		}
	}

	if !strings.EqualFold(entry.Label, previousLabel) {
		taken, err := s.labelTaken(ctx, entry.Label, entry.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateLabel, entry.Label)
		}
	}

	secret := ""
	if input.Secret != nil {
		secret = otpauth.NormalizeSecret(*input.Secret)
		if secret == "" {
			return nil, fmt.Errorf("%w: secret is empty", otpauth.ErrInvalidSecret)
		}
	} else {
		secret, err = s.Secret(entry)
		if err != nil {
			return nil, err
		}
	}
	if err := otpauth.ProbeSecret(secret, paramsFor(entry)); err != nil {
		return nil, err
	}

	if input.Secret != nil {
		encrypted, err := s.crypto.Encrypt([]byte(secret))
		if err != nil {
			return nil, fmt.Errorf("vault: encrypt secret: %w", err)
		}
		entry.Secret = encrypted
	}

	if err := s.db.WithContext(ctx).Save(entry).Error; err != nil {
		return nil, fmt.Errorf("vault: update entry: %w", err)
	}

	s.recordAudit(ctx, "entry.updated", entry.Label, map[string]any{"previous_label": previousLabel})
	return entry, nil
}

// Delete removes an entry by identifier.
func (s *Service) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEntryNotFound
	}

	entry, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&models.Entry{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("vault: delete entry: %w", err)
	}

	s.refreshEntriesGauge(ctx)
	s.recordAudit(ctx, "entry.deleted", entry.Label, nil)
	return nil
}

// Secret decrypts and returns the entry's base32 seed.
func (s *Service) Secret(entry *models.Entry) (string, error) {
	if entry == nil {
		return "", ErrEntryNotFound
	}
	plaintext, err := s.crypto.Decrypt(entry.Secret)
	if err != nil {
		return "", fmt.Errorf("vault: decrypt secret for %q: %w", entry.Label, err)
	}
	return string(plaintext), nil
}

// URI renders the entry as an otpauth:// URI with the decrypted secret.
func (s *Service) URI(entry *models.Entry) (string, error) {
	secret, err := s.Secret(entry)
	if err != nil {
		return "", err
	}
	return otpauth.BuildURI(otpauth.Parsed{
		Type:      entry.Type,
		Label:     entry.Label,
		Issuer:    entry.Issuer,
		Secret:    secret,
		Algorithm: entry.Algorithm,
		Digits:    entry.Digits,
		Period:    entry.Period,
		Counter:   entry.Counter,
	}), nil
}

// QRPNG renders the entry's otpauth URI as a PNG QR code. Size is clamped
// to sane bounds; zero means DefaultQRSize.
func (s *Service) QRPNG(entry *models.Entry, size int) ([]byte, error) {
	uri, err := s.URI(entry)
	if err != nil {
		return nil, err
	}

	if size <= 0 {
		size = DefaultQRSize
	}
	if size < minQRSize {
		size = minQRSize
	}
	if size > maxQRSize {
		size = maxQRSize
	}

	png, err := qrcode.Encode(uri, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("vault: encode qr: %w", err)
	}
	return png, nil
}

// CodeResult is one generated code with its countdown state.
type CodeResult struct {
	EntryID     string    `json:"entry_id"`
	Label       string    `json:"label"`
	Issuer      string    `json:"issuer,omitempty"`
	Type        string    `json:"type"`
	Code        string    `json:"code,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Period      uint      `json:"period,omitempty"`
	Remaining   int       `json:"remaining,omitempty"`
	Progress    float64   `json:"progress,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	Counter     uint64    `json:"counter,omitempty"`
}

// Code generates the current code for one entry. HOTP advances the stored
// counter, and the advance is persisted before the code is handed out so a
// crash cannot reissue a counter value.
func (s *Service) Code(ctx context.Context, id string) (*CodeResult, error) {
	ctx = ensureContext(ctx)

	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	secret, err := s.Secret(entry)
	if err != nil {
		return nil, err
	}

	at := s.now()
	code, err := otpauth.GenerateCode(secret, paramsFor(entry), at)
	if err != nil {
		return nil, err
	}

	result := &CodeResult{
		EntryID:     entry.ID,
		Label:       entry.Label,
		Issuer:      entry.Issuer,
		Type:        entry.Type,
		Code:        code,
		GeneratedAt: at,
	}

	switch entry.Type {
	case models.TypeHOTP:
		next := entry.Counter + 1
		if err := s.db.WithContext(ctx).Model(entry).Update("counter", next).Error; err != nil {
			return nil, fmt.Errorf("vault: advance counter: %w", err)
		}
		entry.Counter = next
		result.Counter = next
	default:
		result.Period = entry.Period
		result.Remaining = otpauth.Remaining(entry.Period, at)
		result.Progress = otpauth.Progress(entry.Period, at)
		result.ExpiresAt = at.Add(time.Duration(result.Remaining) * time.Second)
	}

	metrics.CodesGenerated.WithLabelValues(entry.Type).Inc()
	return result, nil
}

// Codes returns the current code for every TOTP entry. HOTP entries appear
// without a code: generating one advances the counter, so they are produced
// only through Code.
func (s *Service) Codes(ctx context.Context) ([]CodeResult, error) {
	ctx = ensureContext(ctx)

	entries, err := s.List(ctx, ListOptions{})
	if err != nil {
		return nil, err
	}

	at := s.now()
	results := make([]CodeResult, 0, len(entries))
	for i := range entries {
		entry := &entries[i]
		result := CodeResult{
			EntryID:     entry.ID,
			Label:       entry.Label,
			Issuer:      entry.Issuer,
			Type:        entry.Type,
			GeneratedAt: at,
		}

		if entry.Type == models.TypeHOTP {
			result.Counter = entry.Counter
			results = append(results, result)
			continue
		}

		secret, err := s.Secret(entry)
		if err != nil {
			s.log.Warn("skipping undecryptable entry", zap.String("label", entry.Label), zap.Error(err))
			continue
		}
		code, err := otpauth.GenerateCode(secret, paramsFor(entry), at)
		if err != nil {
			s.log.Warn("skipping entry with unusable secret", zap.String("label", entry.Label), zap.Error(err))
			continue
		}

		result.Code = code
		result.Period = entry.Period
		result.Remaining = otpauth.Remaining(entry.Period, at)
		result.Progress = otpauth.Progress(entry.Period, at)
		result.ExpiresAt = at.Add(time.Duration(result.Remaining) * time.Second)
		results = append(results, result)
	}
	return results, nil
}

// RefreshEntriesGauge publishes the current entry count, called at startup
// and after mutations.
func (s *Service) RefreshEntriesGauge(ctx context.Context) {
	s.refreshEntriesGauge(ensureContext(ctx))
}

func (s *Service) refreshEntriesGauge(ctx context.Context) {
	total, err := s.Count(ctx)
	if err != nil {
		s.log.Warn("refresh entries gauge", zap.Error(err))
		return
	}
	metrics.VaultEntries.Set(float64(total))
}

func (s *Service) recordAudit(ctx context.Context, action, resource string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, audit.Event{
		Action:   action,
		Resource: resource,
		Result:   audit.ResultSuccess,
		Metadata: metadata,
	}); err != nil {
		s.log.Warn("record audit event", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) labelTaken(ctx context.Context, label, excludeID string) (bool, error) {
	query := s.db.WithContext(ctx).Model(&models.Entry{}).Where("LOWER(label) = LOWER(?)", label)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("vault: check label: %w", err)
	}
	return count > 0, nil
}

func (s *Service) allocateLabel(ctx context.Context, base string) (string, error) {
	for i := 1; i <= maxLabelSuffix; i++ {
		candidate := fmt.Sprintf("%s (%d)", base, i)
		taken, err := s.labelTaken(ctx, candidate, "")
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("vault: no free label variant for %q", base)
}

func matchesSearch(entry *models.Entry, needle string) bool {
	if strings.Contains(strings.ToLower(entry.Label), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(entry.Issuer), needle) {
		return true
	}
	for _, tag := range entry.TagList() {
		if strings.Contains(tag, needle) {
			return true
		}
	}
	return false
}

func paramsFor(entry *models.Entry) otpauth.Params {
	return otpauth.Params{
		Type:      entry.Type,
		Algorithm: entry.Algorithm,
		Digits:    entry.Digits,
		Period:    entry.Period,
		Counter:   entry.Counter,
	}
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
