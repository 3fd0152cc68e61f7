// ABOUTME: Tests for credential encryption and decryption
// ABOUTME: Covers round trips, wrong keys, tampering, and the empty-string short circuit

package secrets

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKey  = []byte("test-encryption-key-material-0001")
	otherKey = []byte("other-encryption-key-material-02")
)

func newTestCipher(t *testing.T, key []byte) *Cipher {
	t.Helper()
	c, err := NewCipher(key)
	require.NoError(t, err)
	return c
}

func TestCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t, testKey)

	secrets := []string{
		"sk-proj-abc123",
		"a",
		"unicode ключ 🔑",
		strings.Repeat("x", 4096),
	}

	for _, s := range secrets {
		ct, err := c.Encrypt(s)
		require.NoError(t, err)
		assert.NotEqual(t, s, ct)
		assert.True(t, strings.HasPrefix(ct, ciphertextPrefix))

		pt, err := c.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, s, pt)
	}
}

func TestCipher_FreshNonceEachTime(t *testing.T) {
	c := newTestCipher(t, testKey)

	a, err := c.Encrypt("sk-same")
	require.NoError(t, err)
	b, err := c.Encrypt("sk-same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestCipher_WrongKeyFails(t *testing.T) {
	ct, err := newTestCipher(t, testKey).Encrypt("sk-proj-abc123")
	require.NoError(t, err)

	pt, err := newTestCipher(t, otherKey).Decrypt(ct)
	assert.ErrorIs(t, err, ErrDecryption)
	assert.Empty(t, pt)
}

func TestCipher_SameKeyMaterialIsDeterministic(t *testing.T) {
	ct, err := newTestCipher(t, testKey).Encrypt("sk-proj-abc123")
	require.NoError(t, err)

	// A second Cipher built from the same material (e.g. after restart) must read it.
	pt, err := newTestCipher(t, testKey).Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "sk-proj-abc123", pt)
}

func TestCipher_EmptyShortCircuits(t *testing.T) {
	c := newTestCipher(t, testKey)

	ct, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", ct)

	pt, err := c.Decrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", pt)
}

func TestCipher_GarbageFailsUniformly(t *testing.T) {
	c := newTestCipher(t, testKey)

	valid, err := c.Encrypt("sk-proj-abc123")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(valid, ciphertextPrefix))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := ciphertextPrefix + base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name       string
		ciphertext string
	}{
		{"plaintext", "sk-proj-abc123"},
		{"missing prefix", strings.TrimPrefix(valid, ciphertextPrefix)},
		{"bad base64", ciphertextPrefix + "!!!not base64!!!"},
		{"too short", ciphertextPrefix + base64.StdEncoding.EncodeToString([]byte("short"))},
		{"tampered tag", tampered},
		{"legacy cryptojs", "U2FsdGVkX1+abcdefghijklmnopqrstuv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pt, err := c.Decrypt(tt.ciphertext)
			if !errors.Is(err, ErrDecryption) {
				t.Fatalf("Decrypt() error = %v, want ErrDecryption", err)
			}
			if pt != "" {
				t.Errorf("Decrypt() = %q, want empty", pt)
			}
		})
	}
}

func TestNewCipher_ShortKey(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.ErrorIs(t, err, ErrKeyTooShort)
}

func TestPackageHelpers(t *testing.T) {
	ct, err := Encrypt("sk-ant-xyz", testKey)
	require.NoError(t, err)

	pt, err := Decrypt(ct, testKey)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-xyz", pt)

	pt, err = Decrypt(ct, otherKey)
	assert.ErrorIs(t, err, ErrDecryption)
	assert.NotEqual(t, "sk-ant-xyz", pt)

	ct, err = Encrypt("", []byte("short"))
	require.NoError(t, err)
	assert.Empty(t, ct)
}
