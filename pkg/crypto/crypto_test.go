package crypto

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"
)

func TestHashAndVerifyPassphrase(t *testing.T) {
	hash, err := HashPassphrase("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassphrase returned error: %v", err)
	}

	if !strings.HasPrefix(hash, "$2") {
		t.Fatalf("expected bcrypt hash, got %s", hash)
	}

	if !VerifyPassphrase(hash, "correct horse battery staple") {
		t.Fatal("expected passphrase to verify")
	}
	if VerifyPassphrase(hash, "wrong") {
		t.Fatal("expected wrong passphrase to fail")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	plaintext := []byte("JBSWY3DPEHPK3PXP")
	ciphertext, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if ciphertext == string(plaintext) {
		t.Fatal("ciphertext equals plaintext")
	}

	decrypted, err := Decrypt(ciphertext, key)
	if err != nil {
		t.Fatalf("Decrypt returned error: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("round trip mismatch: %q", decrypted)
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	key := make([]byte, 32)
	other := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	if _, err := rand.Read(other); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	ciphertext, err := Encrypt([]byte("secret"), key)
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}

	if _, err := Decrypt(ciphertext, other); err == nil {
		t.Fatal("expected decryption with wrong key to fail")
	}
}

func TestDecryptRejectsTruncatedPayload(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	if _, err := Decrypt("c2hvcnQ", key); err == nil {
		t.Fatal("expected short ciphertext to fail")
	}
}

func TestGenerateTokenLengths(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 8; i++ {
		token, err := GenerateToken(32)
		if err != nil {
			t.Fatalf("GenerateToken returned error: %v", err)
		}
		if token == "" {
			t.Fatal("expected non-empty token")
		}
		if seen[token] {
			t.Fatal("expected tokens to be unique")
		}
		seen[token] = true
	}
}
