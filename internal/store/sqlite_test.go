// ABOUTME: Tests for SQLite store construction and on-disk persistence
// ABOUTME: Covers file and directory creation, schema reuse across reopen, and key mismatch

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/2389/coven-keyring/internal/secrets"
	"github.com/2389/coven-keyring/internal/user"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath, newTestDeps(t).protector())
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath, newTestDeps(t).protector())
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created in the nested directory
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestSQLiteStore_ReopenKeepsRecords(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "keyring.db")
	deps := newTestDeps(t)
	ctx := context.Background()

	first, err := NewSQLiteStore(dbPath, deps.protector())
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	u := user.New("Ada", "ada@example.com", "hunter2")
	if err := u.SetCredential("gemini", "AIza-gemini-key"); err != nil {
		t.Fatalf("SetCredential failed: %v", err)
	}
	if err := first.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := first.AppendAuditLog(ctx, &AuditEntry{Actor: ActorOperator, Action: AuditCreateUser, UserID: u.ID}); err != nil {
		t.Fatalf("AppendAuditLog failed: %v", err)
	}
	first.Close()

	second, err := NewSQLiteStore(dbPath, deps.protector())
	if err != nil {
		t.Fatalf("reopening store failed: %v", err)
	}
	defer second.Close()

	loaded, err := second.FindByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("FindByEmail failed: %v", err)
	}
	got, err := loaded.DecryptedCredential(deps.cipher, "gemini")
	if err != nil {
		t.Fatalf("DecryptedCredential failed: %v", err)
	}
	if got != "AIza-gemini-key" {
		t.Errorf("credential = %q, want %q", got, "AIza-gemini-key")
	}

	entries, err := second.ListAuditLog(ctx, AuditFilter{UserID: &u.ID})
	if err != nil {
		t.Fatalf("ListAuditLog failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d audit entries, want 1", len(entries))
	}
}

func TestSQLiteStore_WrongKeyCannotDecrypt(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "keyring.db")
	ctx := context.Background()

	writer, err := NewSQLiteStore(dbPath, newTestDeps(t).protector())
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	u := user.New("Ada", "ada@example.com", "hunter2")
	if err := u.SetCredential("grok", "xai-grok-key"); err != nil {
		t.Fatalf("SetCredential failed: %v", err)
	}
	if err := writer.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	writer.Close()

	other, err := secrets.NewCipher([]byte("a-completely-different-key-00002"))
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}
	reader, err := NewSQLiteStore(dbPath, user.Protector{Hasher: newTestDeps(t).hasher, Cipher: other})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer reader.Close()

	loaded, err := reader.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	_, err = loaded.DecryptedCredential(other, "grok")
	if !errors.Is(err, secrets.ErrDecryption) {
		t.Errorf("DecryptedCredential error = %v, want ErrDecryption", err)
	}
}

func TestSQLiteStore_IDClashIsNotDuplicateEmail(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	first := user.New("Ada", "ada@example.com", "hunter2")
	if err := s.CreateUser(ctx, first); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	clash := user.New("Grace", "grace@example.com", "hunter3")
	clash.ID = first.ID
	err := s.CreateUser(ctx, clash)
	if err == nil {
		t.Fatal("expected primary key clash to fail")
	}
	if errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("primary key clash reported as duplicate email: %v", err)
	}
}

func TestIsDuplicateEmail(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"email unique", errors.New("constraint failed: UNIQUE constraint failed: users.email (2067)"), true},
		{"primary key", errors.New("constraint failed: UNIQUE constraint failed: users.id (1555)"), false},
		{"not null", errors.New("constraint failed: NOT NULL constraint failed: users.name (1299)"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isDuplicateEmail(tt.err); got != tt.want {
				t.Errorf("isDuplicateEmail() = %v, want %v", got, tt.want)
			}
		})
	}
}
