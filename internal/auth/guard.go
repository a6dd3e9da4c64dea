package auth

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/otpdeck/otpdeck/pkg/crypto"
	"github.com/otpdeck/otpdeck/pkg/logger"
	"github.com/otpdeck/otpdeck/pkg/metrics"
)

var (
	// ErrInvalidPassphrase is returned when the supplied passphrase is wrong.
	ErrInvalidPassphrase = errors.New("auth: invalid passphrase")
	// ErrVaultLocked signals that failed attempts exceeded the lockout threshold.
	ErrVaultLocked = errors.New("auth: too many failed attempts")
	// ErrPassphraseNotSet is returned when unlock is called without a configured passphrase.
	ErrPassphraseNotSet = errors.New("auth: passphrase not configured")
)

// GuardConfig defines tunable behaviour for the unlock guard.
type GuardConfig struct {
	PassphraseHash   string
	LockoutThreshold int
	LockoutDuration  time.Duration
	Clock            func() time.Time
}

// GuardStatus is a point-in-time view of the lock state for the status endpoint.
type GuardStatus struct {
	PassphraseSet  bool          `json:"passphrase_set"`
	LockedOut      bool          `json:"locked_out"`
	FailedAttempts int           `json:"failed_attempts"`
	RetryAfter     time.Duration `json:"-"`
}

// Guard verifies the vault passphrase with lockout controls. There is
// exactly one credential, so the failure counter lives in memory rather
// than on a user row.
type Guard struct {
	mu        sync.Mutex
	hash      string
	threshold int
	duration  time.Duration
	now       func() time.Time
	log       *zap.Logger

	failures    int
	lockedUntil time.Time
	epoch       int64
}

// NewGuard builds a guard with sane defaults.
func NewGuard(cfg GuardConfig) *Guard {
	threshold := cfg.LockoutThreshold
	if threshold <= 0 {
		threshold = 5
	}

	duration := cfg.LockoutDuration
	if duration <= 0 {
		duration = 15 * time.Minute
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &Guard{
		hash:      cfg.PassphraseHash,
		threshold: threshold,
		duration:  duration,
		now:       now,
		log:       logger.WithModule("auth"),
		epoch:     1,
	}
}

// Required reports whether a passphrase is configured at all. When it is
// not, the auth middleware passes every request through.
func (g *Guard) Required() bool {
	return g.hash != ""
}

// Unlock verifies the passphrase. Failures count toward the lockout
// threshold; once locked, attempts are rejected until the window elapses.
func (g *Guard) Unlock(passphrase string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.hash == "" {
		return ErrPassphraseNotSet
	}

	now := g.now()
	if g.lockedUntil.After(now) {
		metrics.UnlockAttempts.WithLabelValues("lockout").Inc()
		return ErrVaultLocked
	}

	// Reset the counter once a lockout window has elapsed.
	if !g.lockedUntil.IsZero() {
		g.lockedUntil = time.Time{}
		g.failures = 0
	}

	if passphrase == "" || !crypto.VerifyPassphrase(g.hash, passphrase) {
		g.failures++
		metrics.UnlockAttempts.WithLabelValues("failure").Inc()
		if g.failures >= g.threshold {
			g.lockedUntil = now.Add(g.duration)
			g.log.Warn("unlock lockout engaged",
				zap.Int("failures", g.failures),
				zap.Time("until", g.lockedUntil))
			return ErrVaultLocked
		}
		return ErrInvalidPassphrase
	}

	g.failures = 0
	metrics.UnlockAttempts.WithLabelValues("success").Inc()
	return nil
}

// Lock advances the token epoch, invalidating every outstanding unlock token.
func (g *Guard) Lock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.epoch++
}

// Epoch returns the current token generation.
func (g *Guard) Epoch() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.epoch
}

// ValidEpoch reports whether a token issued at the supplied generation is
// still acceptable.
func (g *Guard) ValidEpoch(epoch int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return epoch == g.epoch
}

// Status reports the current lock state.
func (g *Guard) Status() GuardStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	status := GuardStatus{
		PassphraseSet:  g.hash != "",
		FailedAttempts: g.failures,
	}
	if g.lockedUntil.After(now) {
		status.LockedOut = true
		status.RetryAfter = g.lockedUntil.Sub(now)
	}
	return status
}
