package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/otpdeck/otpdeck/pkg/crypto"
)

// minSaltLength is the shortest salt accepted for key derivation.
const minSaltLength = 16

var errNoKey = errors.New("vault: crypto used before a key was derived")

// Crypto seals and opens vault secrets. The master key never touches the
// cipher directly: Argon2id stretches it into the AES-256-GCM data key.
type Crypto struct {
	dataKey []byte
	salt    []byte
	params  crypto.Argon2Parameters
}

// Option adjusts key derivation.
type Option func(*Crypto)

// WithSalt supplies an explicit derivation salt. Values shorter than 16
// bytes fail in NewCrypto.
func WithSalt(salt []byte) Option {
	return func(c *Crypto) {
		c.salt = append([]byte(nil), salt...)
	}
}

// WithArgon2Parameters overrides the derivation cost parameters. Tests use
// this to trade derivation cost for speed.
func WithArgon2Parameters(params crypto.Argon2Parameters) Option {
	return func(c *Crypto) {
		c.params = params
	}
}

// NewCrypto stretches masterKey into the vault data key. When no salt is
// supplied one is derived from the master key itself, so the same key
// reaches the same derivation across restarts.
func NewCrypto(masterKey []byte, opts ...Option) (*Crypto, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("vault: master key must not be empty")
	}

	c := &Crypto{params: crypto.DefaultArgon2Params()}
	for _, opt := range opts {
		opt(c)
	}

	switch {
	case len(c.salt) == 0:
		c.salt = deriveSalt(masterKey)
	case len(c.salt) < minSaltLength:
		return nil, fmt.Errorf("vault: derivation salt needs at least %d bytes, got %d", minSaltLength, len(c.salt))
	}

	key, err := crypto.DeriveKeyArgon2id(masterKey, c.salt, c.params)
	if err != nil {
		return nil, fmt.Errorf("vault: derive data key: %w", err)
	}
	c.dataKey = key
	return c, nil
}

// Encrypt seals plaintext under the derived key.
func (c *Crypto) Encrypt(plaintext []byte) (string, error) {
	if len(c.dataKey) == 0 {
		return "", errNoKey
	}
	return crypto.Encrypt(plaintext, c.dataKey)
}

// Decrypt opens a payload produced by Encrypt.
func (c *Crypto) Decrypt(ciphertext string) ([]byte, error) {
	if len(c.dataKey) == 0 {
		return nil, errNoKey
	}
	return crypto.Decrypt(ciphertext, c.dataKey)
}

// Key hands out a copy of the derived data key.
func (c *Crypto) Key() []byte {
	return append([]byte(nil), c.dataKey...)
}

// Salt hands out a copy of the salt the key was derived with.
func (c *Crypto) Salt() []byte {
	return append([]byte(nil), c.salt...)
}

// Fingerprint identifies the derived key without exposing it. Snapshots
// carry it so a restore against a different key fails up front instead of
// producing entries that no longer decrypt.
func (c *Crypto) Fingerprint() string {
	sum := sha256.Sum256(c.dataKey)
	return hex.EncodeToString(sum[:8])
}

// deriveSalt pins the fallback salt to the master key itself, so nothing
// extra has to be stored for restarts to rebuild the same data key.
func deriveSalt(masterKey []byte) []byte {
	sum := sha256.Sum256(masterKey)
	return sum[:minSaltLength]
}
