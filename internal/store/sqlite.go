// ABOUTME: SQLite implementation of the UserStore interface using modernc.org/sqlite
// ABOUTME: Provides user persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/coven-keyring/internal/user"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the UserStore interface using SQLite
type SQLiteStore struct {
	db        *sql.DB
	protector user.Protector
	logger    *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
// The protector is applied to every record before it is written.
func NewSQLiteStore(path string, protector user.Protector) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to :memory: is a separate database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:        db,
		protector: protector,
		logger:    logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id                 TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			email              TEXT NOT NULL UNIQUE,
			password_hash      TEXT NOT NULL,
			credentials_json   TEXT NOT NULL DEFAULT '{}',
			preferred_provider TEXT NOT NULL DEFAULT 'openai',
			created_at         TEXT NOT NULL,
			updated_at         TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_created ON users(created_at);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id    TEXT PRIMARY KEY,
			actor       TEXT NOT NULL,
			action      TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			ts          TEXT NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_user_ts ON audit_log(user_id, ts);
		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isDuplicateEmail reports whether err is the UNIQUE violation on users.email.
// Other constraint failures, such as a primary key clash, are not matched.
func isDuplicateEmail(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed: users.email")
}

// Ensure SQLiteStore implements UserStore.
var _ UserStore = (*SQLiteStore)(nil)
