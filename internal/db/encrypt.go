package db

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// encryptionKey is the package-level AES-256 key used by EncryptedString.
// It must be initialized once at startup via InitEncryption before any
// database operation involving encrypted fields.
var encryptionKey []byte

// devFallbackPassphrase is used when no secret key is configured. Callers of
// InitEncryptionFromEnvValue must log a prominent warning when it is active —
// it exists so a development instance works out of the box, nothing more.
const devFallbackPassphrase = "runfleet-insecure-dev-key"

// InitEncryption sets the AES-256 key used to encrypt and decrypt sensitive
// fields at rest. key must be exactly 32 bytes (AES-256).
//
// Call this once during application startup, before opening the database.
func InitEncryption(key []byte) error {
	if len(key) != 32 {
		return fmt.Errorf("db: encryption key must be exactly 32 bytes, got %d", len(key))
	}
	encryptionKey = make([]byte, 32)
	copy(encryptionKey, key)
	return nil
}

// DeriveKey turns an operator-supplied passphrase of arbitrary length into
// a 32-byte AES-256 key. An empty passphrase falls back to the built-in
// development key; the second return value reports whether the fallback was
// used so the caller can warn about it.
func DeriveKey(passphrase string) (key []byte, devFallback bool) {
	if passphrase == "" {
		passphrase = devFallbackPassphrase
		devFallback = true
	}
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:], devFallback
}

// EncryptedString is a string type that is transparently encrypted with
// AES-256-GCM before being written to the database, and decrypted after
// being read. Use it for any sensitive field (private keys, passwords,
// API tokens).
//
// The value stored in the database is a base64-encoded string in the format:
//
//	base64(nonce + ciphertext)
//
// An empty EncryptedString is stored as an empty string without encryption.
//
// Reads are tolerant of legacy plaintext: if the stored value does not
// decode or does not authenticate under the current key, Scan returns the
// raw stored value unchanged instead of failing. Callers that feed the
// result into a parser (e.g. the SSH key loader) detect corruption there.
type EncryptedString string

// Value implements driver.Valuer. Called by GORM before writing to the
// database. Encrypts the string value with AES-256-GCM and encodes it as
// base64. Unlike reads, a write that cannot encrypt fails hard — a secret
// must never reach the database in plaintext.
func (e EncryptedString) Value() (driver.Value, error) {
	if e == "" {
		return "", nil
	}
	if encryptionKey == nil {
		return nil, errors.New("db: encryption key not initialized, call db.InitEncryption first")
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("db: failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("db: failed to create GCM: %w", err)
	}

	// A unique nonce per encryption is critical for GCM security — never
	// reuse a nonce with the same key.
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("db: failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(e), nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Scan implements sql.Scanner. Called by GORM after reading from the
// database. Decodes the base64 string and decrypts it with AES-256-GCM.
// Any decryption failure (not base64, truncated, wrong key) yields the raw
// stored value rather than an error, so rows written before encryption was
// enabled — or under a rotated key — remain readable as-is.
func (e *EncryptedString) Scan(value interface{}) error {
	if value == nil {
		*e = ""
		return nil
	}

	str, ok := value.(string)
	if !ok {
		if b, isBytes := value.([]byte); isBytes {
			str = string(b)
		} else {
			return fmt.Errorf("db: EncryptedString.Scan: expected string, got %T", value)
		}
	}
	if str == "" {
		*e = ""
		return nil
	}
	if encryptionKey == nil {
		return errors.New("db: encryption key not initialized, call db.InitEncryption first")
	}

	data, err := base64.StdEncoding.DecodeString(str)
	if err != nil {
		*e = EncryptedString(str)
		return nil
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return fmt.Errorf("db: failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("db: failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		*e = EncryptedString(str)
		return nil
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		*e = EncryptedString(str)
		return nil
	}

	*e = EncryptedString(plaintext)
	return nil
}
