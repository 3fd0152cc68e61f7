// ABOUTME: Store interface and projection options for coven-keyring persistence
// ABOUTME: Treats the data store as an opaque keyed record store of users

package store

import (
	"context"
	"errors"

	"github.com/2389/coven-keyring/internal/user"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when an email is already used by another user
var ErrDuplicateEmail = errors.New("email already registered")

// UserStore defines the interface for user persistence.
// Create and Save run the record's protection hooks before anything is written.
type UserStore interface {
	CreateUser(ctx context.Context, u *user.User) error
	SaveUser(ctx context.Context, u *user.User) error
	FindByID(ctx context.Context, id string, opts ...FindOption) (*user.User, error)
	FindByEmail(ctx context.Context, email string, opts ...FindOption) (*user.User, error)
	ListUsers(ctx context.Context, limit int) ([]*user.User, error)
	DeleteUser(ctx context.Context, id string) error

	// Close releases any resources held by the store
	Close() error
}

// FindOption shapes the projection returned by a lookup.
type FindOption func(*findOptions)

type findOptions struct {
	excluded map[user.Field]bool
}

// Exclude leaves the given fields out of the returned record. Only
// user.FieldPassword and user.FieldCredentials are projectable; other
// fields are always returned.
func Exclude(fields ...user.Field) FindOption {
	return func(o *findOptions) {
		for _, f := range fields {
			o.excluded[f] = true
		}
	}
}

func resolveFindOptions(opts []FindOption) findOptions {
	o := findOptions{excluded: make(map[user.Field]bool)}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// omitted returns the excluded projectable fields in a stable order.
func (o findOptions) omitted() []user.Field {
	var fields []user.Field
	for _, f := range []user.Field{user.FieldCredentials, user.FieldPassword} {
		if o.excluded[f] {
			fields = append(fields, f)
		}
	}
	return fields
}

// clampLimit bounds list queries.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
