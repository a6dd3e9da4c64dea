package app

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/otpdeck/otpdeck/pkg/crypto"
)

// Byte sizes for generated runtime secrets. The vault key decodes to 32
// bytes so the entry cipher is always AES-256-GCM.
const (
	jwtSecretBytes   = 48
	vaultSecretBytes = 32
)

// ApplyRuntimeDefaults fills in the secrets a first boot is missing: the
// unlock-token signing secret and the vault master key. The returned map
// names what was generated so startup can log the event without leaking
// values. Reconciling the generated key against one stored by an earlier
// run happens later, once the database is open.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	generated := make(map[string]bool)

	if missing(cfg.Auth.JWT.Secret) {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate auth.jwt.secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	if missing(cfg.Vault.EncryptionKey) {
		key := make([]byte, vaultSecretBytes)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate vault.encryption_key: %w", err)
		}
		cfg.Vault.EncryptionKey = hex.EncodeToString(key)
		generated["vault.encryption_key"] = true
	}

	return generated, nil
}

func missing(value string) bool {
	return strings.TrimSpace(value) == ""
}
