package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otpdeck/otpdeck/internal/handlers/testutil"
	"github.com/otpdeck/otpdeck/internal/vault"
)

func TestBackupHandler_SnapshotLifecycle(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedEntry(vault.CreateEntryInput{Label: "alice@example.com"})

	created := env.Request(http.MethodPost, "/api/backups", nil, "")
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	var snapshot map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, created).Data, &snapshot)
	name := snapshot["name"].(string)
	require.Regexp(t, `^vault-\d{8}-\d{6}(-\d+)?\.json$`, name)
	require.Equal(t, float64(1), snapshot["entries"])

	// Drift the vault past the snapshot.
	env.SeedEntry(vault.CreateEntryInput{Label: "bob@example.com"})

	list := env.Request(http.MethodGet, "/api/backups", nil, "")
	require.Equal(t, http.StatusOK, list.Code)
	var snapshots []map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, list).Data, &snapshots)
	require.Len(t, snapshots, 1)
	require.Equal(t, name, snapshots[0]["name"])

	restored := env.Request(http.MethodPost, "/api/backups/restore", map[string]string{"name": name}, "")
	require.Equal(t, http.StatusOK, restored.Code, restored.Body.String())
	var result map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, restored).Data, &result)
	require.Equal(t, name, result["snapshot"])
	require.Equal(t, float64(1), result["restored"])
	require.NotEmpty(t, result["pre_restore_snapshot"])

	var entries []map[string]any
	listEntries := env.Request(http.MethodGet, "/api/entries", nil, "")
	testutil.DecodeInto(t, testutil.DecodeResponse(t, listEntries).Data, &entries)
	require.Len(t, entries, 1)
	require.Equal(t, "alice@example.com", entries[0]["label"])
}

func TestBackupHandler_RestoreNewestWhenNameOmitted(t *testing.T) {
	env := testutil.NewEnv(t)
	entry := env.SeedEntry(vault.CreateEntryInput{Label: "alice@example.com"})

	created := env.Request(http.MethodPost, "/api/backups", nil, "")
	require.Equal(t, http.StatusCreated, created.Code)

	del := env.Request(http.MethodDelete, "/api/entries/"+entry.ID, nil, "")
	require.Equal(t, http.StatusOK, del.Code)

	restored := env.Request(http.MethodPost, "/api/backups/restore", map[string]string{}, "")
	require.Equal(t, http.StatusOK, restored.Code, restored.Body.String())
	var result map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, restored).Data, &result)
	require.Equal(t, float64(1), result["restored"])

	var entries []map[string]any
	list := env.Request(http.MethodGet, "/api/entries", nil, "")
	testutil.DecodeInto(t, testutil.DecodeResponse(t, list).Data, &entries)
	require.Len(t, entries, 1)
}

func TestBackupHandler_DeleteAndErrors(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedEntry(vault.CreateEntryInput{Label: "alice@example.com"})

	created := env.Request(http.MethodPost, "/api/backups", nil, "")
	require.Equal(t, http.StatusCreated, created.Code)
	var snapshot map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, created).Data, &snapshot)
	name := snapshot["name"].(string)

	deleted := env.Request(http.MethodDelete, "/api/backups/"+name, nil, "")
	require.Equal(t, http.StatusOK, deleted.Code)

	// Restoring the deleted snapshot reports not found.
	missing := env.Request(http.MethodPost, "/api/backups/restore", map[string]string{"name": name}, "")
	require.Equal(t, http.StatusNotFound, missing.Code)
	require.Equal(t, "backup.snapshot_not_found", testutil.DecodeResponse(t, missing).Error.Code)

	// Restore with nothing on disk reports not found as well.
	empty := env.Request(http.MethodPost, "/api/backups/restore", map[string]string{}, "")
	require.Equal(t, http.StatusNotFound, empty.Code)

	// Names outside the snapshot scheme are rejected outright.
	badName := env.Request(http.MethodDelete, "/api/backups/notes.txt", nil, "")
	require.Equal(t, http.StatusBadRequest, badName.Code)
	require.Equal(t, "BAD_REQUEST", testutil.DecodeResponse(t, badName).Error.Code)
}
