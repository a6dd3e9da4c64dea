package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/otpdeck/otpdeck/internal/audit"
	"github.com/otpdeck/otpdeck/internal/models"
	apperrors "github.com/otpdeck/otpdeck/pkg/errors"
)

// Preferences is the effective user preference document served to the UI.
type Preferences struct {
	UI            UIPreferences           `json:"ui"`
	Backup        BackupPreferences       `json:"backup"`
	Notifications NotificationPreferences `json:"notifications"`
}

// UIPreferences holds appearance and interaction settings.
type UIPreferences struct {
	Language     string `json:"language"`
	Theme        string `json:"theme"`
	ShowProgress bool   `json:"show_progress"`
	AutoCopy     bool   `json:"auto_copy"`
}

// BackupPreferences mirrors the automatic snapshot controls the UI exposes.
type BackupPreferences struct {
	Auto bool `json:"auto"`
	Keep int  `json:"keep"`
}

// NotificationPreferences tunes browser notification behaviour.
type NotificationPreferences struct {
	Enabled bool `json:"enabled"`
	Sound   bool `json:"sound"`
}

// Defaults returns the canonical preference document applied when nothing
// has been stored yet.
func Defaults() Preferences {
	return Preferences{
		UI: UIPreferences{
			Language:     "zh-TW",
			Theme:        "dark",
			ShowProgress: true,
			AutoCopy:     false,
		},
		Backup: BackupPreferences{
			Auto: true,
			Keep: 10,
		},
		Notifications: NotificationPreferences{
			Enabled: true,
			Sound:   false,
		},
	}
}

var defaultLanguages = []string{"en", "zh-TW"}

// Service persists the preference document as a sparse JSON row and merges
// it recursively over the defaults at read time.
type Service struct {
	db        *gorm.DB
	audit     *audit.Service
	languages []string
}

// Option customises the Service.
type Option func(*Service)

// WithAudit wires the audit trail for preference changes.
func WithAudit(recorder *audit.Service) Option {
	return func(s *Service) {
		s.audit = recorder
	}
}

// WithLanguages overrides the set of languages accepted for ui.language,
// normally the catalogs the i18n bundle actually ships.
func WithLanguages(languages []string) Option {
	return func(s *Service) {
		if len(languages) > 0 {
			s.languages = languages
		}
	}
}

// NewService constructs the preferences service.
func NewService(db *gorm.DB, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("settings service: db is required")
	}

	svc := &Service{
		db:        db,
		languages: defaultLanguages,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Get returns the effective preferences: stored document merged over defaults.
func (s *Service) Get(ctx context.Context) (Preferences, error) {
	raw, err := s.load(ctx)
	if err != nil {
		return Defaults(), err
	}
	return s.effective(raw), nil
}

// Language returns the effective UI language.
func (s *Service) Language(ctx context.Context) string {
	prefs, err := s.Get(ctx)
	if err != nil {
		return Defaults().UI.Language
	}
	return prefs.UI.Language
}

// Replace overwrites the whole preference document.
func (s *Service) Replace(ctx context.Context, prefs Preferences) (Preferences, error) {
	ctx = ensureContext(ctx)

	sanitised, err := s.sanitise(prefs)
	if err != nil {
		return Defaults(), err
	}

	payload, err := json.Marshal(sanitised)
	if err != nil {
		return Defaults(), fmt.Errorf("settings service: marshal preferences: %w", err)
	}

	if err := s.store(ctx, payload); err != nil {
		return Defaults(), err
	}

	s.recordAudit(ctx, "settings.replaced", map[string]any{
		"language": sanitised.UI.Language,
		"theme":    sanitised.UI.Theme,
	})
	return sanitised, nil
}

// Apply performs dot-path updates ("ui.language": "en") against the stored
// document. All paths are validated first; nothing is written when any of
// them is rejected.
func (s *Service) Apply(ctx context.Context, updates map[string]any) (Preferences, error) {
	ctx = ensureContext(ctx)

	if len(updates) == 0 {
		return s.Get(ctx)
	}

	paths := make([]string, 0, len(updates))
	for path := range updates {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := s.validatePath(path, updates[path]); err != nil {
			return Defaults(), err
		}
	}

	raw, err := s.load(ctx)
	if err != nil {
		return Defaults(), err
	}
	if raw == nil {
		raw = map[string]any{}
	}

	for _, path := range paths {
		if err := setPath(raw, path, updates[path]); err != nil {
			return Defaults(), apperrors.NewBadRequest(err.Error())
		}
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return Defaults(), fmt.Errorf("settings service: marshal preferences: %w", err)
	}
	if err := s.store(ctx, payload); err != nil {
		return Defaults(), err
	}

	s.recordAudit(ctx, "settings.updated", map[string]any{"paths": paths})
	return s.effective(raw), nil
}

func (s *Service) load(ctx context.Context) (map[string]any, error) {
	ctx = ensureContext(ctx)

	var row models.Setting
	err := s.db.WithContext(ctx).
		Where("key = ?", models.PreferencesSettingKey).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings service: load preferences: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(row.Value, &raw); err != nil {
		// a corrupt row falls back to defaults rather than wedging the UI
		return nil, nil
	}
	return raw, nil
}

func (s *Service) store(ctx context.Context, payload []byte) error {
	row := models.Setting{
		Key:   models.PreferencesSettingKey,
		Value: datatypes.JSON(payload),
	}

	err := s.db.WithContext(ctx).
		Where("key = ?", models.PreferencesSettingKey).
		Assign(map[string]any{"value": datatypes.JSON(payload)}).
		FirstOrCreate(&row).Error
	if err != nil {
		return fmt.Errorf("settings service: store preferences: %w", err)
	}
	return nil
}

// effective merges the raw stored document over the defaults and coerces the
// result into the typed structure, repairing invalid stored values.
func (s *Service) effective(raw map[string]any) Preferences {
	prefs := Defaults()
	if len(raw) == 0 {
		return prefs
	}

	defaultsDoc := map[string]any{}
	if data, err := json.Marshal(prefs); err == nil {
		_ = json.Unmarshal(data, &defaultsDoc)
	}
	merged := mergeMaps(defaultsDoc, raw)

	data, err := json.Marshal(merged)
	if err != nil {
		return prefs
	}
	if err := json.Unmarshal(data, &prefs); err != nil {
		return Defaults()
	}

	if !s.validLanguage(prefs.UI.Language) {
		prefs.UI.Language = Defaults().UI.Language
	}
	prefs.UI.Theme = normaliseTheme(prefs.UI.Theme)
	if prefs.Backup.Keep <= 0 {
		prefs.Backup.Keep = Defaults().Backup.Keep
	}
	return prefs
}

func (s *Service) sanitise(prefs Preferences) (Preferences, error) {
	prefs.UI.Language = strings.TrimSpace(prefs.UI.Language)
	if prefs.UI.Language == "" {
		prefs.UI.Language = Defaults().UI.Language
	}
	if !s.validLanguage(prefs.UI.Language) {
		return Defaults(), apperrors.NewBadRequest(fmt.Sprintf("unsupported language %q", prefs.UI.Language))
	}

	prefs.UI.Theme = normaliseTheme(prefs.UI.Theme)
	if prefs.Backup.Keep <= 0 {
		prefs.Backup.Keep = Defaults().Backup.Keep
	}
	return prefs, nil
}

func (s *Service) validLanguage(language string) bool {
	for _, candidate := range s.languages {
		if strings.EqualFold(candidate, language) {
			return true
		}
	}
	return false
}

// validatePath checks known leaf paths against their expected types. Unknown
// paths are rejected so a typo in the UI surfaces instead of silently
// writing dead keys.
func (s *Service) validatePath(path string, value any) error {
	switch path {
	case "ui.language":
		language, ok := value.(string)
		if !ok || !s.validLanguage(strings.TrimSpace(language)) {
			return apperrors.NewBadRequest(fmt.Sprintf("unsupported language %v", value))
		}
	case "ui.theme":
		if _, ok := value.(string); !ok {
			return apperrors.NewBadRequest("ui.theme must be a string")
		}
	case "ui.show_progress", "ui.auto_copy", "backup.auto", "notifications.enabled", "notifications.sound":
		if _, ok := value.(bool); !ok {
			return apperrors.NewBadRequest(fmt.Sprintf("%s must be a boolean", path))
		}
	case "backup.keep":
		keep, ok := asInt(value)
		if !ok || keep < 1 {
			return apperrors.NewBadRequest("backup.keep must be a positive integer")
		}
	default:
		return apperrors.NewBadRequest(fmt.Sprintf("unknown setting %q", path))
	}
	return nil
}

// setPath writes value at a dot path, creating intermediate objects. A
// non-object in the middle of the path is an error, not an overwrite.
func setPath(doc map[string]any, path string, value any) error {
	keys := strings.Split(path, ".")
	current := doc
	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key]
		if !ok || next == nil {
			child := map[string]any{}
			current[key] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("setting %q: %q is not an object", path, key)
		}
		current = child
	}
	current[keys[len(keys)-1]] = value
	return nil
}

// mergeMaps overlays loaded onto base recursively; loaded values win for
// scalars, nested objects merge key by key.
func mergeMaps(base, loaded map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(loaded))
	for key, value := range base {
		result[key] = value
	}
	for key, value := range loaded {
		baseChild, baseOK := result[key].(map[string]any)
		loadedChild, loadedOK := value.(map[string]any)
		if baseOK && loadedOK {
			result[key] = mergeMaps(baseChild, loadedChild)
			continue
		}
		result[key] = value
	}
	return result
}

func normaliseTheme(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dark":
		return "dark"
	case "light":
		return "light"
	case "system", "auto":
		return "system"
	default:
		return "dark"
	}
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(parsed), true
	default:
		return 0, false
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, audit.Event{
		Action:   action,
		Resource: models.PreferencesSettingKey,
		Result:   audit.ResultSuccess,
		Metadata: metadata,
	})
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
