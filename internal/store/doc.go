// Package store provides persistent storage for coven-keyring users using SQLite.
//
// # Architecture
//
// UserStore is the only interface: the rest of the system treats the data
// store as an opaque keyed record store. SQLiteStore is the production
// implementation; MockStore is an in-memory implementation with the same
// protection and projection behavior.
//
// # Protection
//
// Both implementations are constructed with a user.Protector. CreateUser and
// SaveUser call User.BeforeSave before any write, so a pending plaintext
// password is hashed and pending plaintext credentials are encrypted. If
// protection fails the write is aborted; a record is never persisted with a
// plaintext password or credential.
//
// # Projections
//
// Lookups accept FindOptions:
//
//	u, err := s.FindByID(ctx, id, store.Exclude(user.FieldPassword))
//
// Excluded columns are never selected. A record loaded without a field
// remembers that, and SaveUser leaves the column untouched instead of
// overwriting it with an empty value.
//
// # Audit Log
//
// AuditLog records who changed what on which user. Actors are user IDs for
// self-service changes and ActorOperator for CLI commands. Detail carries
// identifiers such as provider names and never key material. ListAuditLog
// returns entries newest first; entries in the same second keep insertion
// order.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//
// Credentials live in a single JSON column keyed by provider name, so adding
// a provider needs no schema change.
//
// # Error Handling
//
//   - ErrNotFound: Requested user does not exist
//   - ErrDuplicateEmail: Email already registered
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore(protector) for unit tests and NewSQLiteStore(path, protector)
// with a t.TempDir() path for integration tests with real SQLite.
package store
