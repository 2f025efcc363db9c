// Package memory provides an in-memory Store driver: the ephemeral tier
// used when the console runs without a database, and the default in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
	"github.com/curtismu7/mfa-console/internal/mfa/store"
)

type Store struct {
	mu          sync.RWMutex
	credentials map[string]domain.WorkerCredential
	tokens      map[string]domain.AccessToken
}

func NewStore() *Store {
	return &Store{
		credentials: make(map[string]domain.WorkerCredential),
		tokens:      make(map[string]domain.AccessToken),
	}
}

func (s *Store) Credentials() store.Credentials { return (*credentialsRepo)(s) }
func (s *Store) Tokens() store.Tokens           { return (*tokensRepo)(s) }

func (s *Store) ApplyMigrations() error       { return nil }
func (s *Store) Ping(_ context.Context) error { return nil }
func (s *Store) Close() error                 { return nil }

type credentialsRepo Store

func (r *credentialsRepo) SaveCredential(_ context.Context, cred domain.WorkerCredential) error {
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = time.Now().UTC()
	}
	cred.Scopes = append([]string(nil), cred.Scopes...)

	r.mu.Lock()
	defer r.mu.Unlock()

	// Replacement invalidates any token cached under the old credential.
	r.credentials[cred.EnvironmentID] = cred
	delete(r.tokens, cred.EnvironmentID)
	return nil
}

func (r *credentialsRepo) GetCredential(_ context.Context, environmentID string) (domain.WorkerCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cred, ok := r.credentials[environmentID]
	if !ok {
		return domain.WorkerCredential{}, store.ErrNotFound
	}
	cred.Scopes = append([]string(nil), cred.Scopes...)
	return cred, nil
}

func (r *credentialsRepo) ListCredentials(_ context.Context) ([]domain.WorkerCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.WorkerCredential, 0, len(r.credentials))
	for _, cred := range r.credentials {
		cred.Scopes = append([]string(nil), cred.Scopes...)
		out = append(out, cred)
	}

	// Most recently updated first, matching the sqlite driver.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].EnvironmentID < out[j].EnvironmentID
	})
	return out, nil
}

func (r *credentialsRepo) DeleteCredential(_ context.Context, environmentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.credentials[environmentID]; !ok {
		return store.ErrNotFound
	}
	delete(r.credentials, environmentID)
	delete(r.tokens, environmentID)
	return nil
}

type tokensRepo Store

func (r *tokensRepo) SaveToken(_ context.Context, environmentID string, token domain.AccessToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tokens[environmentID] = token
	return nil
}

func (r *tokensRepo) GetToken(_ context.Context, environmentID string) (domain.AccessToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	token, ok := r.tokens[environmentID]
	if !ok {
		return domain.AccessToken{}, store.ErrNotFound
	}
	return token, nil
}

func (r *tokensRepo) DeleteToken(_ context.Context, environmentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[environmentID]; !ok {
		return store.ErrNotFound
	}
	delete(r.tokens, environmentID)
	return nil
}
