// ABOUTME: One-way salted password hashing and verification
// ABOUTME: bcrypt with a configurable work factor

package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when none is configured.
const DefaultCost = 10

var (
	// ErrHashing wraps any failure of the underlying hash primitive.
	ErrHashing = errors.New("password hashing failed")

	// ErrEmptyPassword is returned when asked to hash an empty password.
	ErrEmptyPassword = errors.New("password must not be empty")

	// ErrInvalidCost is returned for a work factor bcrypt does not accept.
	ErrInvalidCost = fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
)

// Hasher hashes and verifies passwords. Safe for concurrent use.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher with the given bcrypt cost. Zero selects DefaultCost.
func NewHasher(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, ErrInvalidCost
	}
	return &Hasher{cost: cost}, nil
}

// Cost returns the configured work factor.
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash returns a salted bcrypt hash of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrHashing, err)
	}
	return string(hash), nil
}

// Verify reports whether plaintext matches hash. The comparison is delegated to
// bcrypt and does not leak how much of the guess was correct.
func (h *Hasher) Verify(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
