package app

import (
	"time"

	"github.com/otpdeck/otpdeck/internal/auth"
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 15 * time.Minute
)

// JWTServiceConfig maps the auth section onto the token service settings.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	cfg := auth.JWTConfig{Secret: c.JWT.Secret, Issuer: c.JWT.Issuer, TTL: c.JWT.TTL}
	if cfg.TTL <= 0 {
		cfg.TTL = auth.DefaultUnlockTTL
	}
	return cfg
}

// GuardConfig maps the auth section onto the unlock guard settings.
func (c AuthConfig) GuardConfig() auth.GuardConfig {
	cfg := auth.GuardConfig{
		PassphraseHash:   c.Passphrase.Hash,
		LockoutThreshold: c.Lockout.Threshold,
		LockoutDuration:  c.Lockout.Duration,
	}
	if cfg.LockoutThreshold <= 0 {
		cfg.LockoutThreshold = defaultLockoutThreshold
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = defaultLockoutDuration
	}
	return cfg
}
