package crypto

import (
	"errors"
	"strings"
	"testing"
)

func newTestEncryptor(t *testing.T) *FieldEncryptor {
	t.Helper()
	fe, err := NewFieldEncryptor([]byte("unit-test-master-secret"), "daraja-credentials")
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}
	return fe
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	fe := newTestEncryptor(t)

	for _, plaintext := range []string{"", "consumer-key-123", "p@ss/key+with=symbols", strings.Repeat("x", 512)} {
		stored, err := fe.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}
		if !IsEncrypted(stored) {
			t.Fatalf("expected prefix on %q", stored)
		}
		got, err := fe.Decrypt(stored)
		if err != nil {
			t.Fatalf("decrypt failed: %v", err)
		}
		if got != plaintext {
			t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
		}
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	fe := newTestEncryptor(t)

	a, err := fe.Encrypt("same-input")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	b, err := fe.Encrypt("same-input")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct ciphertexts for the same plaintext")
	}
}

func TestDecryptPlaintextPassthrough(t *testing.T) {
	fe := newTestEncryptor(t)

	got, err := fe.Decrypt("legacy-plaintext-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "legacy-plaintext-secret" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestDecryptCorruptCiphertext(t *testing.T) {
	fe := newTestEncryptor(t)

	tests := []string{
		"enc:v1:not-base64!!!",
		"enc:v1:QUJD", // valid base64, shorter than a nonce
	}
	for _, stored := range tests {
		if _, err := fe.Decrypt(stored); !errors.Is(err, ErrCorruptCiphertext) {
			t.Fatalf("Decrypt(%q): expected ErrCorruptCiphertext, got %v", stored, err)
		}
	}

	// Tampered but well-formed ciphertext must also fail authentication.
	stored, err := fe.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	tampered := stored[:len(stored)-2] + "AA"
	if tampered == stored {
		tampered = stored[:len(stored)-2] + "BB"
	}
	if _, err := fe.Decrypt(tampered); !errors.Is(err, ErrCorruptCiphertext) {
		t.Fatalf("expected ErrCorruptCiphertext for tampered value, got %v", err)
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	fe := newTestEncryptor(t)
	other, err := NewFieldEncryptor([]byte("a-different-master-secret"), "daraja-credentials")
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	stored, err := fe.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := other.Decrypt(stored); !errors.Is(err, ErrCorruptCiphertext) {
		t.Fatalf("expected ErrCorruptCiphertext, got %v", err)
	}
}

func TestMask(t *testing.T) {
	tests := []struct {
		in      string
		visible int
		want    string
	}{
		{"AbCdEfGhIjKl", 4, "AbCd••••IjKl"},
		{"short", 4, "•••••"},
		{"12345678", 4, "••••••••"},
		{"1234567890", 3, "123••••890"},
	}
	for _, tt := range tests {
		if got := Mask(tt.in, tt.visible); got != tt.want {
			t.Errorf("Mask(%q, %d) = %q, want %q", tt.in, tt.visible, got, tt.want)
		}
	}
}
