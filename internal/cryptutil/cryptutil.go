// Package cryptutil implements the field-level encryption and blind-index
// primitives used to store personally identifying data without ever putting
// plaintext into SQL.
package cryptutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Sentinel prefixes every ciphertext produced by Encryptor.Encrypt.
const Sentinel = "ENC$"

const (
	keySize   = 32 // AES-256
	nonceSize = 12 // 96-bit GCM nonce
)

// ErrPiiDecrypt is returned when a sentinel-prefixed value fails GCM
// authentication: the ciphertext is corrupt or was sealed under a different
// key.
var ErrPiiDecrypt = errors.New("cryptutil: pii decrypt failed")

// Encryptor seals and opens PII fields with AES-256-GCM, framing ciphertext
// behind the ENC$ sentinel so legacy plaintext rows remain readable.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor builds an Encryptor from a 32-byte master key.
func NewEncryptor(masterKey []byte) (*Encryptor, error) {
	if len(masterKey) != keySize {
		return nil, fmt.Errorf("cryptutil: master key must be %d bytes, got %d", keySize, len(masterKey))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("cryptutil: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptutil: new gcm: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt seals plaintext, returning it unchanged if empty or already
// sentinel-prefixed, so a value can never be double-encrypted.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || strings.HasPrefix(plaintext, Sentinel) {
		return plaintext, nil
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cryptutil: read nonce: %w", err)
	}
	sealed := e.aead.Seal(nil, nonce, []byte(plaintext), nil)
	buf := make([]byte, 0, len(nonce)+len(sealed))
	buf = append(buf, nonce...)
	buf = append(buf, sealed...)
	return Sentinel + base64.StdEncoding.EncodeToString(buf), nil
}

// Decrypt opens a sentinel-prefixed ciphertext. Empty input returns empty.
// Input without the sentinel is returned unchanged — a legacy plaintext row
// predating encryption. A present-but-corrupt sentinel value yields
// ErrPiiDecrypt.
func (e *Encryptor) Decrypt(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	if !strings.HasPrefix(stored, Sentinel) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, Sentinel))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPiiDecrypt, err)
	}
	if len(raw) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrPiiDecrypt)
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plain, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPiiDecrypt, err)
	}
	return string(plain), nil
}

// IsEncrypted reports whether stored carries the sentinel prefix.
func IsEncrypted(stored string) bool {
	return strings.HasPrefix(stored, Sentinel)
}

// Blinder computes deterministic HMAC-SHA-256 blind indexes so PII columns
// can be looked up by equality without decrypting them in SQL.
type Blinder struct {
	key []byte
}

// NewBlinder derives the blind-index key from the master key using a fixed
// domain separator, keeping it distinct from the encryption key.
func NewBlinder(masterKey []byte) *Blinder {
	mac := hmac.New(sha256.New, masterKey)
	mac.Write([]byte("agenthost:pii-blind-index:v1"))
	return &Blinder{key: mac.Sum(nil)}
}

// Blind returns the hex-encoded HMAC of plaintext under the derived key.
func (b *Blinder) Blind(plaintext string) string {
	mac := hmac.New(sha256.New, b.key)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}
