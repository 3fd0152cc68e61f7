// ABOUTME: Tests for bcrypt password hashing
// ABOUTME: Covers cost bounds, verification, and the 72-byte limit

package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func TestHasher_HashAndVerify(t *testing.T) {
	h := newTestHasher(t)

	tests := []struct {
		name     string
		password string
	}{
		{"simple", "hunter2"},
		{"with symbols", "securePassword123!"},
		{"unicode", "пароль-🔒"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := h.Hash(tt.password)
			require.NoError(t, err)
			assert.NotEqual(t, tt.password, hash)

			assert.True(t, h.Verify(tt.password, hash))
			assert.False(t, h.Verify(tt.password+"x", hash))
			assert.False(t, h.Verify("", hash))
		})
	}
}

func TestHasher_SaltedHashesDiffer(t *testing.T) {
	h := newTestHasher(t)

	a, err := h.Hash("same-password")
	require.NoError(t, err)
	b, err := h.Hash("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, h.Verify("same-password", a))
	assert.True(t, h.Verify("same-password", b))
}

func TestHasher_EmptyPassword(t *testing.T) {
	_, err := newTestHasher(t).Hash("")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestHasher_PrimitiveFailureIsHashingError(t *testing.T) {
	// bcrypt rejects inputs longer than 72 bytes.
	_, err := newTestHasher(t).Hash(strings.Repeat("a", 73))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHashing)
	assert.ErrorIs(t, err, bcrypt.ErrPasswordTooLong)
}

func TestHasher_VerifyRejectsBadHashes(t *testing.T) {
	h := newTestHasher(t)

	assert.False(t, h.Verify("hunter2", ""))
	assert.False(t, h.Verify("hunter2", "not-a-bcrypt-hash"))
	// A plaintext stored by mistake must never verify against itself.
	assert.False(t, h.Verify("hunter2", "hunter2"))
}

func TestNewHasher_Cost(t *testing.T) {
	h, err := NewHasher(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultCost, h.Cost())

	_, err = NewHasher(bcrypt.MinCost - 1)
	assert.ErrorIs(t, err, ErrInvalidCost)

	_, err = NewHasher(bcrypt.MaxCost + 1)
	assert.ErrorIs(t, err, ErrInvalidCost)

	hash, err := newTestHasher(t).Hash("hunter2")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
}
