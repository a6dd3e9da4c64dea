package otpauth

import (
	"encoding/base64"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/otpdeck/otpdeck/internal/models"
)

type migrationFixture struct {
	secret    []byte
	name      string
	issuer    string
	algorithm uint64
	digits    uint64
	otpType   uint64
	counter   uint64
}

func encodeMigrationURI(t *testing.T, fixtures ...migrationFixture) string {
	t.Helper()

	var payload []byte
	for _, f := range fixtures {
		var param []byte
		param = protowire.AppendTag(param, parameterFieldSecret, protowire.BytesType)
		param = protowire.AppendBytes(param, f.secret)
		param = protowire.AppendTag(param, parameterFieldName, protowire.BytesType)
		param = protowire.AppendBytes(param, []byte(f.name))
		if f.issuer != "" {
			param = protowire.AppendTag(param, parameterFieldIssuer, protowire.BytesType)
			param = protowire.AppendBytes(param, []byte(f.issuer))
		}
		param = protowire.AppendTag(param, parameterFieldAlgorithm, protowire.VarintType)
		param = protowire.AppendVarint(param, f.algorithm)
		param = protowire.AppendTag(param, parameterFieldDigits, protowire.VarintType)
		param = protowire.AppendVarint(param, f.digits)
		param = protowire.AppendTag(param, parameterFieldType, protowire.VarintType)
		param = protowire.AppendVarint(param, f.otpType)
		if f.counter > 0 {
			param = protowire.AppendTag(param, parameterFieldCounter, protowire.VarintType)
			param = protowire.AppendVarint(param, f.counter)
		}

		payload = protowire.AppendTag(payload, migrationFieldParameters, protowire.BytesType)
		payload = protowire.AppendBytes(payload, param)
	}

	// trailing metadata fields exporters include (version, batch size/index)
	payload = protowire.AppendTag(payload, 2, protowire.VarintType)
	payload = protowire.AppendVarint(payload, 1)
	payload = protowire.AppendTag(payload, 3, protowire.VarintType)
	payload = protowire.AppendVarint(payload, 1)
	payload = protowire.AppendTag(payload, 4, protowire.VarintType)
	payload = protowire.AppendVarint(payload, 0)

	data := base64.StdEncoding.EncodeToString(payload)
	return "otpauth-migration://offline?data=" + url.QueryEscape(data)
}

func TestDecodeMigrationSingleEntry(t *testing.T) {
	uri := encodeMigrationURI(t, migrationFixture{
		secret:    []byte("Hello!\xde\xad\xbe\xef"),
		name:      "Example:alice@google.com",
		issuer:    "Example",
		algorithm: 1,
		digits:    1,
		otpType:   2,
	})

	entries, err := DecodeMigration(uri)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	require.Equal(t, "JBSWY3DPEHPK3PXP", entry.Secret)
	require.Equal(t, "alice@google.com", entry.Label)
	require.Equal(t, "Example", entry.Issuer)
	require.Equal(t, "SHA1", entry.Algorithm)
	require.Equal(t, 6, entry.Digits)
	require.Equal(t, models.TypeTOTP, entry.Type)
}

func TestDecodeMigrationMultipleEntries(t *testing.T) {
	uri := encodeMigrationURI(t,
		migrationFixture{
			secret:    []byte("12345678901234567890"),
			name:      "first",
			algorithm: 2,
			digits:    2,
			otpType:   2,
		},
		migrationFixture{
			secret:  []byte("Hello!\xde\xad\xbe\xef"),
			name:    "vpn",
			issuer:  "Work",
			otpType: 1,
			counter: 99,
		},
	)

	entries, err := DecodeMigration(uri)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, "SHA256", entries[0].Algorithm)
	require.Equal(t, 8, entries[0].Digits)
	require.Equal(t, models.TypeTOTP, entries[0].Type)
	require.Equal(t, "first", entries[0].Label)

	require.Equal(t, models.TypeHOTP, entries[1].Type)
	require.Equal(t, uint64(99), entries[1].Counter)
	require.Equal(t, "Work", entries[1].Issuer)
}

func TestDecodeMigrationSplitsIssuerFromName(t *testing.T) {
	uri := encodeMigrationURI(t, migrationFixture{
		secret:  []byte("Hello!\xde\xad\xbe\xef"),
		name:    "GitHub:octocat",
		otpType: 2,
	})

	entries, err := DecodeMigration(uri)
	require.NoError(t, err)
	require.Equal(t, "GitHub", entries[0].Issuer)
	require.Equal(t, "octocat", entries[0].Label)
}

func TestDecodeMigrationSecretsGenerateCodes(t *testing.T) {
	uri := encodeMigrationURI(t, migrationFixture{
		secret:    []byte("12345678901234567890"),
		name:      "rfc",
		algorithm: 1,
		digits:    1,
		otpType:   2,
	})

	entries, err := DecodeMigration(uri)
	require.NoError(t, err)
	require.NoError(t, ProbeSecret(entries[0].Secret, entries[0].Params()))
}

func TestDecodeMigrationRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		uri  string
	}{
		{"wrong scheme", "otpauth://totp/x?secret=A"},
		{"missing data", "otpauth-migration://offline"},
		{"bad base64", "otpauth-migration://offline?data=%%%"},
		{"not protobuf", "otpauth-migration://offline?data=" + base64.StdEncoding.EncodeToString([]byte{0xff, 0xff, 0xff})},
		{"empty payload", "otpauth-migration://offline?data="},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeMigration(tc.uri)
			require.Error(t, err)
		})
	}
}

func TestDecodeMigrationTruncatedPayload(t *testing.T) {
	var payload []byte
	payload = protowire.AppendTag(payload, migrationFieldParameters, protowire.BytesType)
	payload = protowire.AppendVarint(payload, 100) // claims 100 bytes, delivers none

	uri := "otpauth-migration://offline?data=" + url.QueryEscape(base64.StdEncoding.EncodeToString(payload))
	_, err := DecodeMigration(uri)
	require.ErrorIs(t, err, ErrInvalidMigration)
}

func TestDecodeMigrationCredentialWithoutSecret(t *testing.T) {
	var param []byte
	param = protowire.AppendTag(param, parameterFieldName, protowire.BytesType)
	param = protowire.AppendBytes(param, []byte("nameless"))

	var payload []byte
	payload = protowire.AppendTag(payload, migrationFieldParameters, protowire.BytesType)
	payload = protowire.AppendBytes(payload, param)

	uri := "otpauth-migration://offline?data=" + url.QueryEscape(base64.StdEncoding.EncodeToString(payload))
	_, err := DecodeMigration(uri)
	require.ErrorIs(t, err, ErrInvalidMigration)
}
