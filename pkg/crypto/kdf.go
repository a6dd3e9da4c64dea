package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// minSaltBytes is the smallest salt DeriveKeyArgon2id accepts, 128 bits.
const minSaltBytes = 16

// Argon2Parameters are the Argon2id cost factors used to stretch the vault
// master key into an AES key.
type Argon2Parameters struct {
	Time      uint32 // iterations
	Memory    uint32 // KiB
	Threads   uint8  // lanes
	KeyLength uint32 // derived key size in bytes
}

// DefaultArgon2Params suits an interactive unlock on desktop hardware: two
// passes over 64 MiB keeps derivation quick locally while staying expensive
// for offline guessing.
func DefaultArgon2Params() Argon2Parameters {
	return Argon2Parameters{
		Time:      2,
		Memory:    64 * 1024,
		Threads:   4,
		KeyLength: 32,
	}
}

// Validate rejects cost factors the argon2 implementation would refuse or
// that produce keys AES cannot use.
func (p Argon2Parameters) Validate() error {
	switch {
	case p.Time == 0:
		return errors.New("argon2: time cost must be at least 1")
	case p.Threads == 0:
		return errors.New("argon2: at least one lane is required")
	case p.Memory < 8*uint32(p.Threads):
		// the reference implementation needs 8 KiB of working memory per lane
		return errors.New("argon2: memory cost must be at least 8 KiB per lane")
	}

	switch p.KeyLength {
	case 16, 24, 32:
		return nil
	}
	return fmt.Errorf("argon2: derived key must be 16, 24, or 32 bytes, not %d", p.KeyLength)
}

// DeriveKeyArgon2id stretches secret into a key of params.KeyLength bytes.
func DeriveKeyArgon2id(secret, salt []byte, params Argon2Parameters) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, errors.New("argon2: secret must not be empty")
	}
	if len(salt) < minSaltBytes {
		return nil, fmt.Errorf("argon2: salt must carry at least %d bytes, got %d", minSaltBytes, len(salt))
	}
	return argon2.IDKey(secret, salt, params.Time, params.Memory, params.Threads, params.KeyLength), nil
}
