// ABOUTME: Reversible encryption of per-user provider credentials at rest
// ABOUTME: AES-256-GCM with a data key derived from the process-wide key via HKDF

package secrets

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
)

// MinKeyLength is the minimum length of the configured key material.
const MinKeyLength = 16

// ciphertextPrefix tags the wire format so a future format can coexist.
const ciphertextPrefix = "v1:"

// hkdfInfo binds the derived key to this use.
const hkdfInfo = "coven-keyring credential encryption v1"

var (
	// ErrDecryption is returned for every decrypt failure. Callers treat it as
	// "credential unavailable"; it deliberately carries no detail.
	ErrDecryption = errors.New("credential could not be decrypted")

	// ErrKeyTooShort is returned when the key material is below MinKeyLength.
	ErrKeyTooShort = fmt.Errorf("encryption key must be at least %d bytes", MinKeyLength)
)

// Cipher encrypts and decrypts secret strings under one process-wide key.
// It is immutable after construction and safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives an AES-256 key from the given key material and returns a
// Cipher bound to it.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	dataKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, []byte(hkdfInfo)), dataKey); err != nil {
		return nil, fmt.Errorf("deriving data key: %w", err)
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("creating block cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce.
// An empty plaintext returns an empty string without touching the cipher.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return ciphertextPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt under the same key.
// An empty ciphertext returns an empty string. Any other failure is ErrDecryption.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	encoded, ok := strings.CutPrefix(ciphertext, ciphertextPrefix)
	if !ok {
		return "", ErrDecryption
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecryption
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", ErrDecryption
	}

	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryption
	}

	return string(plaintext), nil
}

// Encrypt is a one-shot helper that builds a Cipher for key and encrypts plaintext.
func Encrypt(plaintext string, key []byte) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	c, err := NewCipher(key)
	if err != nil {
		return "", err
	}
	return c.Encrypt(plaintext)
}

// Decrypt is a one-shot helper that builds a Cipher for key and decrypts ciphertext.
func Decrypt(ciphertext string, key []byte) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	c, err := NewCipher(key)
	if err != nil {
		return "", err
	}
	return c.Decrypt(ciphertext)
}
