package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/otpdeck/otpdeck/pkg/crypto"
)

func newTestGuard(t *testing.T, passphrase string, clock func() time.Time) *Guard {
	t.Helper()

	var hash string
	if passphrase != "" {
		var err error
		hash, err = crypto.HashPassphrase(passphrase)
		require.NoError(t, err)
	}

	return NewGuard(GuardConfig{
		PassphraseHash:   hash,
		LockoutThreshold: 3,
		LockoutDuration:  10 * time.Minute,
		Clock:            clock,
	})
}

func TestGuardUnlock(t *testing.T) {
	guard := newTestGuard(t, "open sesame", nil)

	require.True(t, guard.Required())
	require.NoError(t, guard.Unlock("open sesame"))
	require.ErrorIs(t, guard.Unlock("wrong"), ErrInvalidPassphrase)
	require.NoError(t, guard.Unlock("open sesame"))

	status := guard.Status()
	require.True(t, status.PassphraseSet)
	require.False(t, status.LockedOut)
	require.Zero(t, status.FailedAttempts)
}

func TestGuardWithoutPassphrase(t *testing.T) {
	guard := newTestGuard(t, "", nil)

	require.False(t, guard.Required())
	require.ErrorIs(t, guard.Unlock("anything"), ErrPassphraseNotSet)
	require.False(t, guard.Status().PassphraseSet)
}

func TestGuardLockout(t *testing.T) {
	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	guard := newTestGuard(t, "open sesame", func() time.Time { return current })

	require.ErrorIs(t, guard.Unlock("a"), ErrInvalidPassphrase)
	require.ErrorIs(t, guard.Unlock("b"), ErrInvalidPassphrase)
	require.ErrorIs(t, guard.Unlock("c"), ErrVaultLocked)

	// even the right passphrase bounces while locked out
	require.ErrorIs(t, guard.Unlock("open sesame"), ErrVaultLocked)

	status := guard.Status()
	require.True(t, status.LockedOut)
	require.Equal(t, 3, status.FailedAttempts)
	require.Equal(t, 10*time.Minute, status.RetryAfter)

	// window elapses, counters reset
	current = current.Add(10*time.Minute + time.Second)
	require.NoError(t, guard.Unlock("open sesame"))
	require.False(t, guard.Status().LockedOut)
	require.Zero(t, guard.Status().FailedAttempts)
}

func TestGuardLockAdvancesEpoch(t *testing.T) {
	guard := newTestGuard(t, "open sesame", nil)

	first := guard.Epoch()
	require.True(t, guard.ValidEpoch(first))

	guard.Lock()
	require.False(t, guard.ValidEpoch(first))
	require.True(t, guard.ValidEpoch(guard.Epoch()))
	require.Equal(t, first+1, guard.Epoch())
}

func TestGuardDefaults(t *testing.T) {
	guard := NewGuard(GuardConfig{})
	require.Equal(t, 5, guard.threshold)
	require.Equal(t, 15*time.Minute, guard.duration)
	require.EqualValues(t, 1, guard.Epoch())
}
