// Package store defines the data access boundary for worker credentials
// and cached access tokens. Concrete drivers (sqlite for the durable tier,
// memory for the ephemeral tier and tests) implement Store.
package store

import (
	"context"
	"errors"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
)

var (
	ErrNotFound = errors.New("store: not found")
)

// Store is the root data access interface.
type Store interface {
	Credentials() Credentials
	Tokens() Tokens

	// ApplyMigrations brings the schema up to date. A no-op for drivers
	// without one.
	ApplyMigrations() error

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error
}

// Credentials manages worker-credential records, keyed by environment id.
// Records are replaced wholesale; a reader never observes a half-written
// record (drivers make each write atomic with respect to reads).
type Credentials interface {
	// SaveCredential inserts or wholesale-replaces the record for the
	// credential's environment. Replacing a credential drops any token
	// cached under the old one.
	SaveCredential(ctx context.Context, cred domain.WorkerCredential) error

	// GetCredential returns the record for an environment.
	GetCredential(ctx context.Context, environmentID string) (domain.WorkerCredential, error)

	// ListCredentials returns all records, most recently updated first.
	ListCredentials(ctx context.Context) ([]domain.WorkerCredential, error)

	// DeleteCredential removes a record and its cached token. Deleting a
	// missing record returns ErrNotFound.
	DeleteCredential(ctx context.Context, environmentID string) error
}

// Tokens caches the access token derived from each environment's credential.
type Tokens interface {
	SaveToken(ctx context.Context, environmentID string, token domain.AccessToken) error
	GetToken(ctx context.Context, environmentID string) (domain.AccessToken, error)
	DeleteToken(ctx context.Context, environmentID string) error
}
