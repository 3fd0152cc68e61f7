// ABOUTME: User persistence for SQLiteStore
// ABOUTME: Runs protection hooks before writes and honors field projections on reads

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-keyring/internal/user"
)

// prepareWrite validates and protects u, returning the form to persist.
// Nothing may be written if this fails.
func prepareWrite(u *user.User, protector user.Protector) (user.Stored, error) {
	if err := u.Validate(); err != nil {
		return user.Stored{}, err
	}
	if err := u.BeforeSave(protector); err != nil {
		return user.Stored{}, fmt.Errorf("protecting user: %w", err)
	}
	return u.Snapshot()
}

// encodeCredentials serializes the provider -> ciphertext map.
func encodeCredentials(creds map[user.Provider]string) (string, error) {
	out := make(map[string]string, len(creds))
	for p, v := range creds {
		if v != "" {
			out[string(p)] = v
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encoding credentials: %w", err)
	}
	return string(data), nil
}

// decodeCredentials parses credentials_json.
func decodeCredentials(raw string) (map[user.Provider]string, error) {
	if raw == "" {
		return nil, nil
	}
	var in map[string]string
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}
	creds := make(map[user.Provider]string, len(in))
	for k, v := range in {
		creds[user.Provider(k)] = v
	}
	return creds, nil
}

// CreateUser assigns an ID and creation time, protects the record, and inserts it.
// Returns ErrDuplicateEmail if the email is taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *user.User) error {
	origID, origCreated := u.ID, u.CreatedAt
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	stored, err := prepareWrite(u, s.protector)
	if err != nil {
		u.ID, u.CreatedAt = origID, origCreated
		return err
	}

	credsJSON, err := encodeCredentials(stored.Credentials)
	if err != nil {
		u.ID, u.CreatedAt = origID, origCreated
		return err
	}

	query := `
		INSERT INTO users (id, name, email, password_hash, credentials_json, preferred_provider, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, query,
		stored.ID,
		stored.Name,
		stored.Email,
		stored.PasswordHash,
		credsJSON,
		string(stored.PreferredProvider),
		stored.CreatedAt.UTC().Format(time.RFC3339),
		now,
	)
	if err != nil {
		u.ID, u.CreatedAt = origID, origCreated
		if isDuplicateEmail(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", stored.ID)
	return nil
}

// SaveUser protects pending changes and updates the record.
// Fields the record was loaded without are left untouched in the database.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) SaveUser(ctx context.Context, u *user.User) error {
	if u.ID == "" {
		return ErrNotFound
	}

	stored, err := prepareWrite(u, s.protector)
	if err != nil {
		return err
	}

	sets := []string{"name = ?", "email = ?", "preferred_provider = ?", "updated_at = ?"}
	args := []any{
		stored.Name,
		stored.Email,
		string(stored.PreferredProvider),
		time.Now().UTC().Format(time.RFC3339),
	}

	omit := make(map[user.Field]bool, len(stored.Omit))
	for _, f := range stored.Omit {
		omit[f] = true
	}
	if !omit[user.FieldPassword] {
		sets = append(sets, "password_hash = ?")
		args = append(args, stored.PasswordHash)
	}
	if !omit[user.FieldCredentials] {
		credsJSON, err := encodeCredentials(stored.Credentials)
		if err != nil {
			return err
		}
		sets = append(sets, "credentials_json = ?")
		args = append(args, credsJSON)
	}
	args = append(args, stored.ID)

	query := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE id = ?"

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isDuplicateEmail(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("updating user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated user", "id", stored.ID)
	return nil
}

// selectColumns builds the projection for a lookup. Excluded columns are
// replaced by empty literals so hash material never leaves the database.
func selectColumns(o findOptions) string {
	pw := "password_hash"
	if o.excluded[user.FieldPassword] {
		pw = "''"
	}
	creds := "credentials_json"
	if o.excluded[user.FieldCredentials] {
		creds = "'{}'"
	}
	return "id, name, email, " + pw + ", " + creds + ", preferred_provider, created_at"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, o findOptions) (*user.User, error) {
	var stored user.Stored
	var credsJSON, preferred, createdAt string

	if err := row.Scan(
		&stored.ID,
		&stored.Name,
		&stored.Email,
		&stored.PasswordHash,
		&credsJSON,
		&preferred,
		&createdAt,
	); err != nil {
		return nil, err
	}

	creds, err := decodeCredentials(credsJSON)
	if err != nil {
		return nil, err
	}
	stored.Credentials = creds
	stored.PreferredProvider = user.Provider(preferred)

	if parsed, err := time.Parse(time.RFC3339, createdAt); err != nil {
		slog.Warn("failed to parse user created_at", "id", stored.ID, "error", err)
	} else {
		stored.CreatedAt = parsed
	}

	stored.Omit = o.omitted()
	return user.Restore(stored), nil
}

// FindByID retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) FindByID(ctx context.Context, id string, opts ...FindOption) (*user.User, error) {
	o := resolveFindOptions(opts)
	query := "SELECT " + selectColumns(o) + " FROM users WHERE id = ?"

	u, err := scanUser(s.db.QueryRowContext(ctx, query, id), o)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// FindByEmail retrieves a user by exact email.
// Returns ErrNotFound if no user has that email.
func (s *SQLiteStore) FindByEmail(ctx context.Context, email string, opts ...FindOption) (*user.User, error) {
	o := resolveFindOptions(opts)
	query := "SELECT " + selectColumns(o) + " FROM users WHERE email = ?"

	u, err := scanUser(s.db.QueryRowContext(ctx, query, email), o)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by email: %w", err)
	}
	return u, nil
}

// ListUsers returns users ordered by creation time, without password hashes
// or credentials.
func (s *SQLiteStore) ListUsers(ctx context.Context, limit int) ([]*user.User, error) {
	o := resolveFindOptions([]FindOption{Exclude(user.FieldPassword, user.FieldCredentials)})
	query := "SELECT " + selectColumns(o) + " FROM users ORDER BY created_at, id LIMIT ?"

	rows, err := s.db.QueryContext(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*user.User
	for rows.Next() {
		u, err := scanUser(rows, o)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}

	return users, nil
}

// DeleteUser removes a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted user", "id", id)
	return nil
}
