package handlers_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otpdeck/otpdeck/internal/handlers/testutil"
	"github.com/otpdeck/otpdeck/internal/vault"
)

func TestTransferHandler_ImportURI(t *testing.T) {
	env := testutil.NewEnv(t)

	payload := map[string]string{
		"uri": "otpauth://totp/Example:alice@example.com?secret=JBSWY3DPEHPK3PXP&issuer=Example",
	}
	imported := env.Request(http.MethodPost, "/api/import/uri", payload, "")
	require.Equal(t, http.StatusOK, imported.Code, imported.Body.String())

	var result map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, imported).Data, &result)
	labels := result["imported"].([]any)
	require.Len(t, labels, 1)
	require.Equal(t, "alice@example.com", labels[0])

	bad := env.Request(http.MethodPost, "/api/import/uri", map[string]string{"uri": "https://example.com/not-otp"}, "")
	require.Equal(t, http.StatusBadRequest, bad.Code)
	require.Equal(t, "transfer.invalid_uri", testutil.DecodeResponse(t, bad).Error.Code)
}

func TestTransferHandler_JSONRoundTrip(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedEntry(vault.CreateEntryInput{Label: "alice@example.com", Issuer: "GitHub"})
	env.SeedEntry(vault.CreateEntryInput{Label: "door-token", Type: "hotp", Counter: 7})

	export := env.Request(http.MethodGet, "/api/export/json", nil, "")
	require.Equal(t, http.StatusOK, export.Code)
	require.Equal(t, "application/json", export.Header().Get("Content-Type"))
	require.Regexp(t, `^attachment; filename="otpdeck-\d{8}-\d{6}\.json"$`, export.Header().Get("Content-Disposition"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(export.Body.Bytes(), &doc))
	require.Equal(t, "2.0", doc["version"])
	require.Len(t, doc["entries"], 2)

	// Wipe the vault, then restore it from the exported document.
	var entries []map[string]any
	list := env.Request(http.MethodGet, "/api/entries", nil, "")
	testutil.DecodeInto(t, testutil.DecodeResponse(t, list).Data, &entries)
	for _, entry := range entries {
		del := env.Request(http.MethodDelete, "/api/entries/"+entry["id"].(string), nil, "")
		require.Equal(t, http.StatusOK, del.Code)
	}

	restored := env.RawRequest(http.MethodPost, "/api/import/json", "application/json", export.Body.Bytes(), "")
	require.Equal(t, http.StatusOK, restored.Code, restored.Body.String())

	var result map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, restored).Data, &result)
	require.Len(t, result["imported"], 2)

	list = env.Request(http.MethodGet, "/api/entries", nil, "")
	testutil.DecodeInto(t, testutil.DecodeResponse(t, list).Data, &entries)
	require.Len(t, entries, 2)
}

func TestTransferHandler_ImportURIListReportsPartialFailures(t *testing.T) {
	env := testutil.NewEnv(t)

	body := []byte("otpauth://totp/Example:alice@example.com?secret=JBSWY3DPEHPK3PXP&issuer=Example\n" +
		"otpauth://totp/broken?secret=!!!not-base32!!!\n")
	resp := env.RawRequest(http.MethodPost, "/api/import/uris", "text/plain", body, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var result map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &result)
	require.Len(t, result["imported"], 1)
	require.Len(t, result["failures"], 1)
}

func TestTransferHandler_QRImageRoundTrip(t *testing.T) {
	env := testutil.NewEnv(t)
	entry := env.SeedEntry(vault.CreateEntryInput{Label: "alice@example.com", Issuer: "Example"})

	qr := env.Request(http.MethodGet, "/api/entries/"+entry.ID+"/qr", nil, "")
	require.Equal(t, http.StatusOK, qr.Code)
	png := qr.Body.Bytes()

	del := env.Request(http.MethodDelete, "/api/entries/"+entry.ID, nil, "")
	require.Equal(t, http.StatusOK, del.Code)

	// Raw body upload, curl style.
	imported := env.RawRequest(http.MethodPost, "/api/import/image", "image/png", png, "")
	require.Equal(t, http.StatusOK, imported.Code, imported.Body.String())
	var result map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, imported).Data, &result)
	labels := result["imported"].([]any)
	require.Len(t, labels, 1)
	require.Equal(t, "alice@example.com", labels[0])

	// The same payload as a browser multipart upload. The label is taken, so
	// the importer allocates a numbered variant instead of failing.
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("images", "qr.png")
	require.NoError(t, err)
	_, err = part.Write(png)
	require.NoError(t, err)
	require.NoError(t, form.Close())

	again := env.RawRequest(http.MethodPost, "/api/import/image", form.FormDataContentType(), buf.Bytes(), "")
	require.Equal(t, http.StatusOK, again.Code, again.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, again).Data, &result)
	require.Equal(t, float64(1), result["renamed"])
}

func TestTransferHandler_EmptyVaultAndBadPayloads(t *testing.T) {
	env := testutil.NewEnv(t)

	// Text formats export fine when empty, the QR archive refuses.
	emptyJSON := env.Request(http.MethodGet, "/api/export/json", nil, "")
	require.Equal(t, http.StatusOK, emptyJSON.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(emptyJSON.Body.Bytes(), &doc))
	require.Empty(t, doc["entries"])

	emptyQR := env.Request(http.MethodGet, "/api/export/qr.zip", nil, "")
	require.Equal(t, http.StatusBadRequest, emptyQR.Code)

	garbage := env.RawRequest(http.MethodPost, "/api/import/image", "image/png", []byte("definitely not a png"), "")
	require.Equal(t, http.StatusBadRequest, garbage.Code)
	require.Equal(t, "transfer.unreadable_image", testutil.DecodeResponse(t, garbage).Error.Code)

	malformed := env.RawRequest(http.MethodPost, "/api/import/json", "application/json", []byte("{broken"), "")
	require.Equal(t, http.StatusBadRequest, malformed.Code)
	require.Equal(t, "transfer.malformed_backup", testutil.DecodeResponse(t, malformed).Error.Code)

	empty := env.RawRequest(http.MethodPost, "/api/import/csv", "text/csv", nil, "")
	require.Equal(t, http.StatusBadRequest, empty.Code)
}
