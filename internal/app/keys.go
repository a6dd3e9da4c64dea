package app

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// DecodeKey decodes the vault master key from hex or base64 to raw bytes.
// Hex is tried first since runtime defaults emit hex; base64 variants come
// next, and anything else is treated as raw key material.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("key value is empty")
	}
	return decodeKeyMaterial(v), nil
}

// KeyByteLength returns the decoded byte length of a key string without
// exposing the material itself, for startup validation logs.
func KeyByteLength(value string) int {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0
	}
	return len(decodeKeyMaterial(v))
}

func decodeKeyMaterial(v string) []byte {
	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded
		}
	}

	if decoded, err := base64.StdEncoding.DecodeString(v); err == nil {
		return decoded
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(v); err == nil {
		return decoded
	}

	return []byte(v)
}
