package vault

import (
	"context"
	"encoding/base32"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/otpdeck/otpdeck/internal/database/testutil"
	"github.com/otpdeck/otpdeck/internal/models"
	"github.com/otpdeck/otpdeck/internal/otpauth"
	"github.com/otpdeck/otpdeck/pkg/crypto"
)

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	// light KDF parameters keep the suite fast
	vaultCrypto, err := NewCrypto([]byte("test-master-key"), WithArgon2Parameters(crypto.Argon2Parameters{
		Time:      1,
		Memory:    64,
		Threads:   1,
		KeyLength: 32,
	}))
	require.NoError(t, err)

	svc, err := NewService(db, vaultCrypto, opts...)
	require.NoError(t, err)
	return svc
}

func rfcSeed(t *testing.T) string {
	t.Helper()
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString([]byte("12345678901234567890"))
}

func TestVaultService_CreateEncryptsSecret(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateEntryInput{
		Label:  "GitHub",
		Issuer: "GitHub",
		Secret: "jbsw y3dp ehpk 3pxp",
		Tags:   []string{"Work", "work", " dev "},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, models.TypeTOTP, created.Type)
	require.Equal(t, "SHA1", created.Algorithm)
	require.Equal(t, 6, created.Digits)
	require.Equal(t, uint(30), created.Period)
	require.Equal(t, []string{"work", "dev"}, created.TagList())

	// ciphertext at rest, plaintext on demand
	require.NotEqual(t, "JBSWY3DPEHPK3PXP", created.Secret)
	secret, err := svc.Secret(created)
	require.NoError(t, err)
	require.Equal(t, "JBSWY3DPEHPK3PXP", secret)

	fetched, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.Label, fetched.Label)
}

func TestVaultService_CreateRejectsBadInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateEntryInput{Label: "bad", Secret: "not base32 at all!!!"})
	require.ErrorIs(t, err, otpauth.ErrInvalidSecret)

	_, err = svc.Create(ctx, CreateEntryInput{Label: "bad", Secret: ""})
	require.ErrorIs(t, err, otpauth.ErrInvalidSecret)

	_, err = svc.Create(ctx, CreateEntryInput{Secret: "JBSWY3DPEHPK3PXP"})
	require.Error(t, err)

	_, err = svc.Create(ctx, CreateEntryInput{Label: "bad", Secret: "JBSWY3DPEHPK3PXP", Digits: 7})
	require.ErrorIs(t, err, otpauth.ErrInvalidDigits)

	_, err = svc.Create(ctx, CreateEntryInput{Label: "bad", Secret: "JBSWY3DPEHPK3PXP", Period: 3})
	require.ErrorIs(t, err, otpauth.ErrInvalidPeriod)
}

func TestVaultService_DuplicateLabels(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateEntryInput{Label: "github", Secret: "JBSWY3DPEHPK3PXP"})
	require.NoError(t, err)

	// duplicate detection is case-insensitive
	_, err = svc.Create(ctx, CreateEntryInput{Label: "GitHub", Secret: "JBSWY3DPEHPK3PXP"})
	require.ErrorIs(t, err, ErrDuplicateLabel)

	renamed, err := svc.Create(ctx, CreateEntryInput{
		Label:            "GitHub",
		Secret:           "JBSWY3DPEHPK3PXP",
		RenameOnConflict: true,
	})
	require.NoError(t, err)
	require.Equal(t, "GitHub (1)", renamed.Label)

	again, err := svc.Create(ctx, CreateEntryInput{
		Label:            "github",
		Secret:           "JBSWY3DPEHPK3PXP",
		RenameOnConflict: true,
	})
	require.NoError(t, err)
	require.Equal(t, "github (2)", again.Label)
}

func TestVaultService_ListFiltersAndOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, input := range []CreateEntryInput{
		{Label: "Zeta", Secret: "JBSWY3DPEHPK3PXP"},
		{Label: "alpha", Secret: "JBSWY3DPEHPK3PXP", Tags: []string{"work"}},
		{Label: "GitHub", Issuer: "GitHub", Secret: "JBSWY3DPEHPK3PXP", Tags: []string{"work", "dev"}},
	} {
		_, err := svc.Create(ctx, input)
		require.NoError(t, err)
	}

	all, err := svc.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "alpha", all[0].Label)
	require.Equal(t, "GitHub", all[1].Label)
	require.Equal(t, "Zeta", all[2].Label)

	found, err := svc.List(ctx, ListOptions{Search: "git"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "GitHub", found[0].Label)

	tagged, err := svc.List(ctx, ListOptions{Tag: "work"})
	require.NoError(t, err)
	require.Len(t, tagged, 2)

	// search also reaches into tags
	byTag, err := svc.List(ctx, ListOptions{Search: "dev"})
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	require.Equal(t, "GitHub", byTag[0].Label)

	none, err := svc.List(ctx, ListOptions{Search: "missing"})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestVaultService_UpdateRenameAware(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateEntryInput{Label: "first", Secret: "JBSWY3DPEHPK3PXP"})
	require.NoError(t, err)
	second, err := svc.Create(ctx, CreateEntryInput{Label: "second", Secret: "JBSWY3DPEHPK3PXP"})
	require.NoError(t, err)

	conflicting := first.Label
	_, err = svc.Update(ctx, second.ID, UpdateEntryInput{Label: &conflicting})
	require.ErrorIs(t, err, ErrDuplicateLabel)

	// changing only the case of its own label is not a conflict
	recased := "SECOND"
	updated, err := svc.Update(ctx, second.ID, UpdateEntryInput{Label: &recased})
	require.NoError(t, err)
	require.Equal(t, "SECOND", updated.Label)
}

func TestVaultService_UpdateReplacesSecret(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateEntryInput{Label: "rotate", Secret: "JBSWY3DPEHPK3PXP"})
	require.NoError(t, err)
	previousCiphertext := created.Secret

	newSecret := rfcSeed(t)
	updated, err := svc.Update(ctx, created.ID, UpdateEntryInput{Secret: &newSecret})
	require.NoError(t, err)
	require.NotEqual(t, previousCiphertext, updated.Secret)

	plaintext, err := svc.Secret(updated)
	require.NoError(t, err)
	require.Equal(t, newSecret, plaintext)

	bad := "!!!"
	_, err = svc.Update(ctx, created.ID, UpdateEntryInput{Secret: &bad})
	require.ErrorIs(t, err, otpauth.ErrInvalidSecret)
}

func TestVaultService_UpdateRevalidatesParameters(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateEntryInput{Label: "params", Secret: "JBSWY3DPEHPK3PXP"})
	require.NoError(t, err)

	badDigits := 9
	_, err = svc.Update(ctx, created.ID, UpdateEntryInput{Digits: &badDigits})
	require.ErrorIs(t, err, otpauth.ErrInvalidDigits)

	goodDigits := 8
	updated, err := svc.Update(ctx, created.ID, UpdateEntryInput{Digits: &goodDigits})
	require.NoError(t, err)
	require.Equal(t, 8, updated.Digits)
}

func TestVaultService_Delete(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateEntryInput{Label: "gone", Secret: "JBSWY3DPEHPK3PXP"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID))

	_, err = svc.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrEntryNotFound)
	require.ErrorIs(t, svc.Delete(ctx, created.ID), ErrEntryNotFound)
}

func TestVaultService_CodeMatchesRFCVector(t *testing.T) {
	svc := newTestService(t, WithClock(func() time.Time {
		return time.Unix(59, 0).UTC()
	}))
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateEntryInput{
		Label:  "rfc6238",
		Secret: rfcSeed(t),
		Digits: 8,
	})
	require.NoError(t, err)

	result, err := svc.Code(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "94287082", result.Code)
	require.Equal(t, 1, result.Remaining)
	require.Equal(t, time.Unix(60, 0).UTC(), result.ExpiresAt)
}

func TestVaultService_CodeHOTPPersistsCounter(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateEntryInput{
		Label:  "hardware-token",
		Secret: rfcSeed(t),
		Type:   models.TypeHOTP,
	})
	require.NoError(t, err)
	require.Zero(t, created.Counter)

	first, err := svc.Code(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "755224", first.Code)
	require.EqualValues(t, 1, first.Counter)

	second, err := svc.Code(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "287082", second.Code)
	require.EqualValues(t, 2, second.Counter)

	stored, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, stored.Counter)
}

func TestVaultService_CodesLeavesHOTPAlone(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateEntryInput{Label: "clock", Secret: "JBSWY3DPEHPK3PXP"})
	require.NoError(t, err)
	hotpEntry, err := svc.Create(ctx, CreateEntryInput{Label: "counter", Secret: rfcSeed(t), Type: models.TypeHOTP})
	require.NoError(t, err)

	results, err := svc.Codes(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, models.TypeTOTP, results[0].Type)
	require.Len(t, results[0].Code, 6)
	require.Greater(t, results[0].Remaining, 0)

	require.Equal(t, models.TypeHOTP, results[1].Type)
	require.Empty(t, results[1].Code)

	// bulk views must not burn counter values
	stored, err := svc.Get(ctx, hotpEntry.ID)
	require.NoError(t, err)
	require.Zero(t, stored.Counter)
}

func TestVaultService_URIAndQR(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateEntryInput{
		Label:  "alice@example.com",
		Issuer: "Example",
		Secret: "JBSWY3DPEHPK3PXP",
	})
	require.NoError(t, err)

	uri, err := svc.URI(created)
	require.NoError(t, err)

	parsed, err := otpauth.ParseURI(uri)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", parsed.Label)
	require.Equal(t, "Example", parsed.Issuer)
	require.Equal(t, "JBSWY3DPEHPK3PXP", parsed.Secret)

	png, err := svc.QRPNG(created, 0)
	require.NoError(t, err)
	require.Greater(t, len(png), 100)
	require.Equal(t, []byte("\x89PNG"), png[:4])
}
