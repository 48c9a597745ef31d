// Package vault protects personally identifiable fields (phone numbers and
// national IDs) before they are stored.
//
// A Vault is built once at startup from a single 32-byte secret and passed to
// whatever needs it. Every function maps the empty string to the empty string
// without error, so absent fields flow through unchanged.
package vault

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
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the required length of the master secret.
const KeySize = 32

// MaskRune replaces hidden characters in masked output.
const MaskRune = '✱'

var (
	ErrKeySize   = fmt.Errorf("vault key must be %d bytes", KeySize)
	ErrMalformed = errors.New("malformed ciphertext")
)

// Vault encrypts, hashes and masks PII with keys derived from one secret.
type Vault struct {
	aead    cipher.AEAD
	hashKey []byte
}

// New creates a Vault from a 32-byte secret. The secret is used directly as
// the AES-256-GCM key; a separate lookup-hash key is derived from it with HKDF.
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	hashKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, []byte("pii-lookup-hash")), hashKey); err != nil {
		return nil, fmt.Errorf("derive hash key: %w", err)
	}

	return &Vault{aead: aead, hashKey: hashKey}, nil
}

// NewFromBase64 decodes a standard base64 secret and calls New.
func NewFromBase64(encoded string) (*Vault, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode vault key: %w", err)
	}
	return New(key)
}

// Encrypt seals value with a fresh random nonce and returns
// base64(nonce || ciphertext || tag).
func (v *Vault) Encrypt(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(value), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Anything that is not a valid, authentic
// encoding produced by this vault's key returns ErrMalformed.
func (v *Vault) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformed
	}
	ns := v.aead.NonceSize()
	if len(data) < ns+v.aead.Overhead() {
		return "", ErrMalformed
	}

	plain, err := v.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", ErrMalformed
	}
	return string(plain), nil
}

// Hash returns a keyed one-way digest (hex HMAC-SHA256) of the trimmed
// value, usable for equality lookups.
func (v *Vault) Hash(value string) string {
	return v.digest(strings.TrimSpace(value))
}

// HashPhone is Hash for phone numbers. Numbers are normalised to digits
// first so formatting differences hash identically.
func (v *Vault) HashPhone(value string) string {
	return v.digest(normalizeDigits(strings.TrimSpace(value)))
}

func (v *Vault) digest(value string) string {
	if value == "" {
		return ""
	}
	mac := hmac.New(sha256.New, v.hashKey)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// MaskPhone keeps a three character prefix and suffix and hides the middle.
// Values of six characters or fewer are hidden entirely.
func MaskPhone(value string) string {
	if value == "" {
		return ""
	}
	r := []rune(strings.TrimSpace(value))
	if len(r) <= 6 {
		return strings.Repeat(string(MaskRune), len(r))
	}
	var b strings.Builder
	b.WriteString(string(r[:3]))
	b.WriteString(strings.Repeat(string(MaskRune), len(r)-6))
	b.WriteString(string(r[len(r)-3:]))
	return b.String()
}

// MaskNationalID keeps only the last four characters.
func MaskNationalID(value string) string {
	if value == "" {
		return ""
	}
	r := []rune(strings.TrimSpace(value))
	if len(r) <= 4 {
		return strings.Repeat(string(MaskRune), len(r))
	}
	return strings.Repeat(string(MaskRune), len(r)-4) + string(r[len(r)-4:])
}

// IsMasked reports whether a displayed value has been redacted.
func IsMasked(value string) bool {
	return strings.ContainsRune(value, MaskRune) || strings.Contains(value, "****")
}

func normalizeDigits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return value
	}
	return b.String()
}
