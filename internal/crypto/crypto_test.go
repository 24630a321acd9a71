package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
}

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewTokenEncryptor(testKey())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sealed, err := enc.Encrypt("webhook-secret")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if sealed == "webhook-secret" {
		t.Fatal("expected ciphertext to differ from plaintext")
	}

	again, _ := enc.Encrypt("webhook-secret")
	if again == sealed {
		t.Error("expected random nonce to produce different ciphertexts")
	}

	plain, err := enc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if plain != "webhook-secret" {
		t.Errorf("expected webhook-secret, got %s", plain)
	}
}

func TestEmptyValuesPassThrough(t *testing.T) {
	enc, _ := NewTokenEncryptor(testKey())

	if out, err := enc.Encrypt(""); err != nil || out != "" {
		t.Errorf("expected empty ciphertext, got %q (%v)", out, err)
	}
	if out, err := enc.Decrypt(""); err != nil || out != "" {
		t.Errorf("expected empty plaintext, got %q (%v)", out, err)
	}
}

func TestNewTokenEncryptorRejectsBadKeys(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"not base64": "%%%",
		"short":      base64.StdEncoding.EncodeToString([]byte("short")),
	}
	for name, key := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewTokenEncryptor(key); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecryptTooShort(t *testing.T) {
	enc, _ := NewTokenEncryptor(testKey())
	_, err := enc.Decrypt(base64.StdEncoding.EncodeToString([]byte("abc")))
	if !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(a))
	}
	b, _ := GenerateSecret(16)
	if a == b {
		t.Error("expected distinct secrets")
	}
}
