// Package crypto provides application-level encryption for per-landlord
// Daraja credentials using AES-256-GCM.
//
// Encrypted values are stored as "enc:v1:<base64(nonce+ciphertext)>" so they
// can coexist with legacy plaintext rows during migration.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/Carey99/RentEase-sub000/pkg/config"
	"github.com/Carey99/RentEase-sub000/pkg/logging"
)

const prefix = "enc:v1:"

// devFallbackKey is only ever used outside production, and loudly.
const devFallbackKey = "rentease-dev-only-encryption-key"

// ErrCorruptCiphertext is returned when a value carries the encryption prefix
// but cannot be decrypted. Callers on read paths may fall back to the stored
// value once (legacy-row migration) but must log a warning.
var ErrCorruptCiphertext = errors.New("crypto: corrupt ciphertext")

// FieldEncryptor encrypts and decrypts credential fields at the application
// level. Safe for concurrent use.
type FieldEncryptor struct {
	gcm cipher.AEAD
}

// NewFieldEncryptor derives an AES-256 key from the master secret using HKDF.
// The purpose string isolates this derived key from other uses of the same
// master secret.
func NewFieldEncryptor(masterSecret []byte, purpose string) (*FieldEncryptor, error) {
	hkdfReader := hkdf.New(sha256.New, masterSecret, []byte("rentease-field-encryption"), []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, fmt.Errorf("crypto: HKDF derivation failed: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return &FieldEncryptor{gcm: gcm}, nil
}

// NewFieldEncryptorFromEnv builds an encryptor from ENCRYPTION_KEY.
// A missing key is fatal in production; in development a fixed fallback key is
// used with a loud warning so local setups still work.
func NewFieldEncryptorFromEnv(logger logging.Logger) (*FieldEncryptor, error) {
	key := config.GetEnv("ENCRYPTION_KEY", "")
	if key == "" {
		if config.IsProduction() {
			return nil, errors.New("crypto: ENCRYPTION_KEY is required in production")
		}
		logger.Warn("ENCRYPTION_KEY not set; using insecure development default. Do NOT run like this in production")
		key = devFallbackKey
	}
	return NewFieldEncryptor([]byte(key), "daraja-credentials")
}

// Encrypt encrypts plaintext and returns a prefixed string suitable for DB storage.
func (fe *FieldEncryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, fe.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}
	ciphertext := fe.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a value previously produced by Encrypt.
// Values without the "enc:v1:" prefix are returned as-is (plaintext
// passthrough for legacy rows). Prefixed values that fail to decrypt return
// ErrCorruptCiphertext.
func (fe *FieldEncryptor) Decrypt(stored string) (string, error) {
	if !strings.HasPrefix(stored, prefix) {
		return stored, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, prefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrCorruptCiphertext, err)
	}
	nonceSize := fe.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrCorruptCiphertext)
	}
	plaintext, err := fe.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptCiphertext, err)
	}
	return string(plaintext), nil
}

// IsEncrypted returns true if the stored value has the encryption prefix.
func IsEncrypted(stored string) bool {
	return strings.HasPrefix(stored, prefix)
}

// Mask returns a display-safe form of a secret: the first and last `visible`
// characters with bullets in between. Short values are masked entirely.
func Mask(s string, visible int) string {
	if visible <= 0 {
		visible = 4
	}
	if len(s) <= visible*2 {
		return strings.Repeat("•", len(s))
	}
	return s[:visible] + strings.Repeat("•", len(s)-visible*2) + s[len(s)-visible:]
}
