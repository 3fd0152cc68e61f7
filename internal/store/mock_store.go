// ABOUTME: Mock UserStore implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping protection and projections

package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-keyring/internal/user"
)

// MockStore is an in-memory UserStore implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	users     map[string]user.Stored // keyed by user ID
	byEmail   map[string]string      // keyed by email -> user ID
	audit     []AuditEntry           // append order
	protector user.Protector

	// FindErr, when set, is returned by every lookup.
	FindErr error
	// Lookups counts FindByID and FindByEmail calls.
	Lookups int
}

// NewMockStore creates a new MockStore.
func NewMockStore(protector user.Protector) *MockStore {
	return &MockStore{
		users:     make(map[string]user.Stored),
		byEmail:   make(map[string]string),
		protector: protector,
	}
}

// CreateUser stores a new user after protecting it.
func (m *MockStore) CreateUser(ctx context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byEmail[u.Email]; taken {
		return ErrDuplicateEmail
	}

	origID, origCreated := u.ID, u.CreatedAt
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	stored, err := prepareWrite(u, m.protector)
	if err != nil {
		u.ID, u.CreatedAt = origID, origCreated
		return err
	}

	stored.Omit = nil
	m.users[stored.ID] = stored
	m.byEmail[stored.Email] = stored.ID
	return nil
}

// SaveUser protects pending changes and replaces the stored copy.
func (m *MockStore) SaveUser(ctx context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	if ownerID, taken := m.byEmail[u.Email]; taken && ownerID != u.ID {
		return ErrDuplicateEmail
	}

	stored, err := prepareWrite(u, m.protector)
	if err != nil {
		return err
	}

	for _, f := range stored.Omit {
		switch f {
		case user.FieldPassword:
			stored.PasswordHash = existing.PasswordHash
		case user.FieldCredentials:
			stored.Credentials = existing.Credentials
		}
	}
	stored.Omit = nil
	stored.CreatedAt = existing.CreatedAt

	delete(m.byEmail, existing.Email)
	m.users[stored.ID] = stored
	m.byEmail[stored.Email] = stored.ID
	return nil
}

func (m *MockStore) project(stored user.Stored, opts []FindOption) *user.User {
	o := resolveFindOptions(opts)
	stored.Credentials = maps.Clone(stored.Credentials)
	stored.Omit = o.omitted()
	return user.Restore(stored)
}

// FindByID retrieves a user by ID.
func (m *MockStore) FindByID(ctx context.Context, id string, opts ...FindOption) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Lookups++

	if m.FindErr != nil {
		return nil, m.FindErr
	}
	stored, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.project(stored, opts), nil
}

// FindByEmail retrieves a user by email.
func (m *MockStore) FindByEmail(ctx context.Context, email string, opts ...FindOption) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Lookups++

	if m.FindErr != nil {
		return nil, m.FindErr
	}
	id, ok := m.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return m.project(m.users[id], opts), nil
}

// ListUsers returns users ordered by creation time without secrets.
func (m *MockStore) ListUsers(ctx context.Context, limit int) ([]*user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]user.Stored, 0, len(m.users))
	for _, s := range m.users {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	limit = clampLimit(limit)
	if len(all) > limit {
		all = all[:limit]
	}

	users := make([]*user.User, 0, len(all))
	for _, s := range all {
		users = append(users, m.project(s, []FindOption{Exclude(user.FieldPassword, user.FieldCredentials)}))
	}
	return users, nil
}

// DeleteUser removes a user.
func (m *MockStore) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	delete(m.byEmail, stored.Email)
	return nil
}

// Stored returns the raw persisted form of a user, for assertions.
func (m *MockStore) Stored(id string) (user.Stored, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.users[id]
	s.Credentials = maps.Clone(s.Credentials)
	return s, ok
}

// AppendAuditLog records an audit entry.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prepareAuditEntry(e)
	entry := *e
	entry.Detail = maps.Clone(e.Detail)
	m.audit = append(m.audit, entry)
	return nil
}

// ListAuditLog returns matching entries newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := []AuditEntry{}
	for _, e := range slices.Backward(m.audit) {
		if !f.matches(e) {
			continue
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Truncate(time.Second).After(entries[j].Timestamp.Truncate(time.Second))
	})

	if limit := normalizeAuditLimit(f.Limit); len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements UserStore.
var _ UserStore = (*MockStore)(nil)
var _ AuditLog = (*MockStore)(nil)
