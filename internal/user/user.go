// ABOUTME: User record holding identity, password hash, and encrypted provider keys
// ABOUTME: Tracks pending field changes so only modified secrets are re-protected

package user

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Field names a protected or projectable part of a User.
type Field string

const (
	// FieldPassword is the password hash.
	FieldPassword Field = "password"
	// FieldCredentials is the whole credentials map (projection only).
	FieldCredentials Field = "credentials"
)

// CredentialField returns the pending-change key for one provider's credential.
func CredentialField(p Provider) Field {
	return Field("credentials." + string(p))
}

var (
	// ErrUnprotected is returned when a record with pending plaintext changes
	// is about to leave the process boundary.
	ErrUnprotected = errors.New("record has unprotected pending changes")

	// ErrFieldNotLoaded is returned when mutating a field the record was
	// loaded without.
	ErrFieldNotLoaded = errors.New("field was excluded from the loaded record")

	// ErrInvalidUser is returned by Validate.
	ErrInvalidUser = errors.New("invalid user")
)

// Encrypter seals a credential for storage.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Decrypter opens a stored credential.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// PasswordHasher produces a one-way password hash.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
}

// PasswordVerifier checks a candidate against a stored hash.
type PasswordVerifier interface {
	Verify(plaintext, hash string) bool
}

// Protector bundles the primitives BeforeSave needs.
type Protector struct {
	Hasher PasswordHasher
	Cipher Encrypter
}

// User is a tenant account. Identity fields are plain; the password hash and
// credentials are only reachable through methods that keep them protected.
type User struct {
	ID                string
	Name              string
	Email             string
	PreferredProvider Provider
	CreatedAt         time.Time

	passwordHash string
	credentials  map[Provider]string
	pending      map[Field]struct{}
	omitted      map[Field]struct{}
}

// Stored is the persisted form of a User. Every non-empty credential is
// ciphertext and PasswordHash is a hash.
type Stored struct {
	ID                string
	Name              string
	Email             string
	PasswordHash      string
	Credentials       map[Provider]string
	PreferredProvider Provider
	CreatedAt         time.Time

	// Omit lists fields that were not loaded and must not be written back.
	Omit []Field
}

// New returns an unsaved user with a pending plaintext password.
func New(name, email, password string) *User {
	u := &User{
		Name:              name,
		Email:             email,
		PreferredProvider: DefaultProvider,
		credentials:       emptyCredentials(),
		pending:           make(map[Field]struct{}),
		omitted:           make(map[Field]struct{}),
	}
	u.SetPassword(password)
	return u
}

// Restore rebuilds a User from its stored form with no pending changes.
// Fields listed in s.Omit are treated as not loaded.
func Restore(s Stored) *User {
	u := &User{
		ID:                s.ID,
		Name:              s.Name,
		Email:             s.Email,
		PreferredProvider: s.PreferredProvider,
		CreatedAt:         s.CreatedAt,
		passwordHash:      s.PasswordHash,
		credentials:       emptyCredentials(),
		pending:           make(map[Field]struct{}),
		omitted:           make(map[Field]struct{}),
	}
	if u.PreferredProvider == "" {
		u.PreferredProvider = DefaultProvider
	}
	for p, v := range s.Credentials {
		if p.Valid() {
			u.credentials[p] = v
		}
	}
	for _, f := range s.Omit {
		u.omitted[f] = struct{}{}
		switch f {
		case FieldPassword:
			u.passwordHash = ""
		case FieldCredentials:
			u.credentials = emptyCredentials()
		}
	}
	return u
}

func emptyCredentials() map[Provider]string {
	creds := make(map[Provider]string, len(Providers))
	for _, p := range Providers {
		creds[p] = ""
	}
	return creds
}

// SetPassword assigns a new plaintext password. It is hashed by BeforeSave.
func (u *User) SetPassword(plaintext string) {
	u.passwordHash = plaintext
	u.pending[FieldPassword] = struct{}{}
	delete(u.omitted, FieldPassword)
}

// SetCredential assigns a plaintext key for provider. An empty value clears it.
// The value is encrypted by BeforeSave.
func (u *User) SetCredential(provider, plaintext string) error {
	p, err := ParseProvider(provider)
	if err != nil {
		return err
	}
	if _, ok := u.omitted[FieldCredentials]; ok {
		return fmt.Errorf("setting %s credential: %w", p, ErrFieldNotLoaded)
	}
	u.credentials[p] = plaintext
	u.pending[CredentialField(p)] = struct{}{}
	return nil
}

// SetPreferredProvider changes the preferred provider.
func (u *User) SetPreferredProvider(provider string) error {
	p, err := ParseProvider(provider)
	if err != nil {
		return err
	}
	u.PreferredProvider = p
	return nil
}

// PasswordHash returns the stored hash, or "" if it was not loaded.
func (u *User) PasswordHash() string {
	if u.Modified(FieldPassword) {
		return ""
	}
	return u.passwordHash
}

// Credential returns the stored ciphertext for p ("" if none or pending).
func (u *User) Credential(p Provider) string {
	if u.Modified(CredentialField(p)) {
		return ""
	}
	return u.credentials[p]
}

// HasCredential reports whether a key is stored or pending for p.
func (u *User) HasCredential(p Provider) bool {
	return u.credentials[p] != ""
}

// Modified reports whether f has a pending change.
func (u *User) Modified(f Field) bool {
	_, ok := u.pending[f]
	return ok
}

// Pending returns the fields with pending changes, sorted.
func (u *User) Pending() []Field {
	return slices.Sorted(maps.Keys(u.pending))
}

// Omitted reports whether f was excluded when the record was loaded.
func (u *User) Omitted(f Field) bool {
	_, ok := u.omitted[f]
	return ok
}

// Validate checks the identity attributes required before persistence.
func (u *User) Validate() error {
	if u.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidUser)
	}
	if u.Email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidUser)
	}
	if !u.PreferredProvider.Valid() {
		return fmt.Errorf("%w: preferred provider %q", ErrInvalidUser, u.PreferredProvider)
	}
	if u.passwordHash == "" && !u.Omitted(FieldPassword) {
		return fmt.Errorf("%w: password is required", ErrInvalidUser)
	}
	return nil
}

// BeforeSave protects every pending field: credentials are encrypted and the
// password is hashed. Untouched fields pass through, so ciphertext is never
// re-encrypted and a hash is never re-hashed. On error the record is left
// exactly as it was and the caller must abort the write.
func (u *User) BeforeSave(p Protector) error {
	if len(u.pending) == 0 {
		return nil
	}

	sealed := make(map[Provider]string)
	for _, prov := range Providers {
		if !u.Modified(CredentialField(prov)) {
			continue
		}
		value := u.credentials[prov]
		if value == "" {
			sealed[prov] = ""
			continue
		}
		if p.Cipher == nil {
			return fmt.Errorf("encrypting %s credential: no cipher configured", prov)
		}
		ct, err := p.Cipher.Encrypt(value)
		if err != nil {
			return fmt.Errorf("encrypting %s credential: %w", prov, err)
		}
		sealed[prov] = ct
	}

	hash := u.passwordHash
	if u.Modified(FieldPassword) {
		if p.Hasher == nil {
			return errors.New("hashing password: no hasher configured")
		}
		h, err := p.Hasher.Hash(u.passwordHash)
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}
		hash = h
	}

	for prov, ct := range sealed {
		u.credentials[prov] = ct
	}
	u.passwordHash = hash
	clear(u.pending)
	return nil
}

// Snapshot returns the persisted form. It fails with ErrUnprotected if any
// change is still pending, so plaintext can never reach the store.
func (u *User) Snapshot() (Stored, error) {
	if len(u.pending) > 0 {
		return Stored{}, fmt.Errorf("%w: %v", ErrUnprotected, u.Pending())
	}
	return Stored{
		ID:                u.ID,
		Name:              u.Name,
		Email:             u.Email,
		PasswordHash:      u.passwordHash,
		Credentials:       maps.Clone(u.credentials),
		PreferredProvider: u.PreferredProvider,
		CreatedAt:         u.CreatedAt,
		Omit:              slices.Sorted(maps.Keys(u.omitted)),
	}, nil
}

// MatchPassword reports whether candidate matches the stored hash. It is false
// when the hash was not loaded or a new password is still pending.
func (u *User) MatchPassword(h PasswordVerifier, candidate string) bool {
	hash := u.PasswordHash()
	if hash == "" {
		return false
	}
	return h.Verify(candidate, hash)
}

// DecryptedCredential returns the plaintext key for provider, or "" if none is
// stored. Decrypt failures are returned as-is; callers treat them as
// "credential unavailable". The plaintext is never written back.
func (u *User) DecryptedCredential(c Decrypter, provider string) (string, error) {
	p, err := ParseProvider(provider)
	if err != nil {
		return "", err
	}
	if u.Modified(CredentialField(p)) {
		return "", fmt.Errorf("reading %s credential: %w", p, ErrUnprotected)
	}
	stored := u.credentials[p]
	if stored == "" {
		return "", nil
	}
	return c.Decrypt(stored)
}
