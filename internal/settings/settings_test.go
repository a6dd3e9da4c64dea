package settings

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/otpdeck/otpdeck/internal/database/testutil"
	"github.com/otpdeck/otpdeck/internal/models"
	apperrors "github.com/otpdeck/otpdeck/pkg/errors"
)

func newTestSettings(t *testing.T, opts ...Option) *Service {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewService(db, opts...)
	require.NoError(t, err)
	return svc
}

func TestSettingsDefaults(t *testing.T) {
	svc := newTestSettings(t)
	ctx := context.Background()

	prefs, err := svc.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, Defaults(), prefs)
	require.Equal(t, "zh-TW", prefs.UI.Language)
	require.Equal(t, "dark", prefs.UI.Theme)
	require.True(t, prefs.UI.ShowProgress)
	require.False(t, prefs.UI.AutoCopy)
	require.Equal(t, 10, prefs.Backup.Keep)

	require.Equal(t, "zh-TW", svc.Language(ctx))
}

func TestSettingsApplyDotPaths(t *testing.T) {
	svc := newTestSettings(t)
	ctx := context.Background()

	prefs, err := svc.Apply(ctx, map[string]any{
		"ui.language": "en",
		"ui.theme":    "light",
		"backup.keep": 25,
	})
	require.NoError(t, err)
	require.Equal(t, "en", prefs.UI.Language)
	require.Equal(t, "light", prefs.UI.Theme)
	require.Equal(t, 25, prefs.Backup.Keep)

	// untouched panels keep their defaults
	require.True(t, prefs.UI.ShowProgress)
	require.True(t, prefs.Notifications.Enabled)

	// changes survive a fresh read
	reloaded, err := svc.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, prefs, reloaded)
	require.Equal(t, "en", svc.Language(ctx))

	// JSON numbers arrive as float64 through the PATCH body
	prefs, err = svc.Apply(ctx, map[string]any{"backup.keep": float64(3)})
	require.NoError(t, err)
	require.Equal(t, 3, prefs.Backup.Keep)
}

func TestSettingsApplyRejectsBadInput(t *testing.T) {
	svc := newTestSettings(t)
	ctx := context.Background()

	cases := map[string]map[string]any{
		"unknown path":     {"ui.font_size": 12},
		"bad language":     {"ui.language": "xx"},
		"non-string theme": {"ui.theme": 7},
		"non-bool flag":    {"ui.show_progress": "yes"},
		"zero keep":        {"backup.keep": 0},
		"fractional keep":  {"backup.keep": 2.5},
		"non-bool sound":   {"notifications.sound": "loud"},
		"deep unknown":     {"ui.language.region": "TW"},
	}
	for name, updates := range cases {
		_, err := svc.Apply(ctx, updates)
		require.Error(t, err, name)

		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr, name)
		require.Equal(t, apperrors.ErrBadRequest.Code, appErr.Code, name)
	}

	// a batch with one bad path writes nothing
	_, err := svc.Apply(ctx, map[string]any{
		"ui.theme": "light",
		"ui.bogus": true,
	})
	require.Error(t, err)

	prefs, err := svc.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, Defaults(), prefs)
}

func TestSettingsReplace(t *testing.T) {
	svc := newTestSettings(t)
	ctx := context.Background()

	_, err := svc.Replace(ctx, Preferences{UI: UIPreferences{Language: "xx"}})
	require.Error(t, err)

	prefs, err := svc.Replace(ctx, Preferences{
		UI:            UIPreferences{Language: "en", Theme: "AUTO", ShowProgress: false, AutoCopy: true},
		Backup:        BackupPreferences{Auto: false, Keep: 0},
		Notifications: NotificationPreferences{Enabled: false, Sound: true},
	})
	require.NoError(t, err)
	require.Equal(t, "en", prefs.UI.Language)
	require.Equal(t, "system", prefs.UI.Theme)
	require.False(t, prefs.UI.ShowProgress)
	require.True(t, prefs.UI.AutoCopy)
	require.Equal(t, 10, prefs.Backup.Keep)
	require.True(t, prefs.Notifications.Sound)

	reloaded, err := svc.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, prefs, reloaded)
}

func TestSettingsPreservesUnknownKeys(t *testing.T) {
	svc := newTestSettings(t)
	ctx := context.Background()

	stored := models.Setting{
		Key:   models.PreferencesSettingKey,
		Value: datatypes.JSON(`{"ui":{"language":"en"},"future":{"flag":true}}`),
	}
	require.NoError(t, svc.db.Create(&stored).Error)

	prefs, err := svc.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "en", prefs.UI.Language)

	_, err = svc.Apply(ctx, map[string]any{"ui.theme": "light"})
	require.NoError(t, err)

	var row models.Setting
	require.NoError(t, svc.db.Where("key = ?", models.PreferencesSettingKey).First(&row).Error)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(row.Value, &raw))
	require.Contains(t, raw, "future")

	ui, ok := raw["ui"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "light", ui["theme"])
	require.Equal(t, "en", ui["language"])
}

func TestSettingsRepairsCorruptRow(t *testing.T) {
	svc := newTestSettings(t)
	ctx := context.Background()

	stored := models.Setting{
		Key:   models.PreferencesSettingKey,
		Value: datatypes.JSON(`{"ui": not json`),
	}
	require.NoError(t, svc.db.Create(&stored).Error)

	prefs, err := svc.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, Defaults(), prefs)
}

func TestSettingsRepairsInvalidStoredValues(t *testing.T) {
	svc := newTestSettings(t)
	ctx := context.Background()

	stored := models.Setting{
		Key:   models.PreferencesSettingKey,
		Value: datatypes.JSON(`{"ui":{"language":"removed-locale","theme":"neon"},"backup":{"keep":-4}}`),
	}
	require.NoError(t, svc.db.Create(&stored).Error)

	prefs, err := svc.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "zh-TW", prefs.UI.Language)
	require.Equal(t, "dark", prefs.UI.Theme)
	require.Equal(t, 10, prefs.Backup.Keep)
}
