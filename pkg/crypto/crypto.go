package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/bcrypt"
)

// HashPassphrase returns a bcrypt hash of the unlock passphrase. bcrypt
// keeps its own salt inside the hash string, so nothing extra is stored.
func HashPassphrase(passphrase string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassphrase reports whether the candidate matches the stored hash.
func VerifyPassphrase(hashedPassphrase, passphrase string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassphrase), []byte(passphrase)) == nil
}

// newGCM builds the AEAD for the given key. The key length selects the AES
// variant; vault keys are 32 bytes, so AES-256.
func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with AES-GCM and returns base64 text. The random
// nonce is prepended to the ciphertext so Decrypt can recover it.
func Encrypt(plaintext, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a base64 payload produced by Encrypt. Tampered or
// truncated payloads fail authentication.
func Decrypt(ciphertext string, key []byte) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(data) < gcm.NonceSize() {
		return nil, errors.New("ciphertext shorter than nonce")
	}

	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}

// GenerateToken returns length random bytes encoded as URL-safe base64,
// suitable for runtime-generated secrets.
func GenerateToken(length int) (string, error) {
	raw := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
