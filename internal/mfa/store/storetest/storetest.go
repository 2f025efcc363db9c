// Package storetest holds the contract every Store driver must satisfy.
// Driver packages run it from their own tests so both tiers stay
// behaviourally identical.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
	"github.com/curtismu7/mfa-console/internal/mfa/store"
)

func sampleCredential(env string) domain.WorkerCredential {
	return domain.WorkerCredential{
		EnvironmentID: env,
		ClientID:      "client-" + env,
		Secret:        "secret-" + env,
		AuthMethod:    domain.AuthMethodSecretPost,
		Scopes:        []string{"mfa:read", "mfa:update"},
		Region:        "eu",
		UpdatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

// Run exercises the Store contract against a fresh store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("credential round trip", func(t *testing.T) {
		s := newStore(t)
		cred := sampleCredential("env-a")

		require.NoError(t, s.Credentials().SaveCredential(ctx, cred))

		got, err := s.Credentials().GetCredential(ctx, "env-a")
		require.NoError(t, err)
		require.Equal(t, cred.ClientID, got.ClientID)
		require.Equal(t, cred.Secret, got.Secret)
		require.Equal(t, cred.AuthMethod, got.AuthMethod)
		require.Equal(t, cred.Scopes, got.Scopes)
		require.Equal(t, cred.Region, got.Region)
	})

	t.Run("missing credential", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Credentials().GetCredential(ctx, "nope")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("wholesale replacement drops cached token", func(t *testing.T) {
		s := newStore(t)
		cred := sampleCredential("env-b")
		require.NoError(t, s.Credentials().SaveCredential(ctx, cred))
		require.NoError(t, s.Tokens().SaveToken(ctx, "env-b", domain.AccessToken{
			Value:     "tok-1",
			IssuedAt:  time.Now().UTC().Truncate(time.Second),
			ExpiresAt: time.Now().UTC().Add(time.Hour).Truncate(time.Second),
		}))

		replacement := sampleCredential("env-b")
		replacement.ClientID = "rotated-client"
		replacement.Secret = "rotated-secret"
		require.NoError(t, s.Credentials().SaveCredential(ctx, replacement))

		got, err := s.Credentials().GetCredential(ctx, "env-b")
		require.NoError(t, err)
		require.Equal(t, "rotated-client", got.ClientID)
		require.Equal(t, "rotated-secret", got.Secret)

		_, err = s.Tokens().GetToken(ctx, "env-b")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("token round trip", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Credentials().SaveCredential(ctx, sampleCredential("env-c")))

		issued := time.Now().UTC().Truncate(time.Second)
		tok := domain.AccessToken{
			Value:     "tok-xyz",
			IssuedAt:  issued,
			ExpiresAt: issued.Add(55 * time.Minute),
		}
		require.NoError(t, s.Tokens().SaveToken(ctx, "env-c", tok))

		got, err := s.Tokens().GetToken(ctx, "env-c")
		require.NoError(t, err)
		require.Equal(t, tok.Value, got.Value)
		require.True(t, tok.IssuedAt.Equal(got.IssuedAt))
		require.True(t, tok.ExpiresAt.Equal(got.ExpiresAt))

		// Overwrite on renewal.
		tok.Value = "tok-renewed"
		tok.ExpiresAt = issued.Add(2 * time.Hour)
		require.NoError(t, s.Tokens().SaveToken(ctx, "env-c", tok))

		got, err = s.Tokens().GetToken(ctx, "env-c")
		require.NoError(t, err)
		require.Equal(t, "tok-renewed", got.Value)
	})

	t.Run("delete credential cascades", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Credentials().SaveCredential(ctx, sampleCredential("env-d")))
		require.NoError(t, s.Tokens().SaveToken(ctx, "env-d", domain.AccessToken{
			Value:     "tok",
			IssuedAt:  time.Now().UTC(),
			ExpiresAt: time.Now().UTC().Add(time.Hour),
		}))

		require.NoError(t, s.Credentials().DeleteCredential(ctx, "env-d"))

		_, err := s.Credentials().GetCredential(ctx, "env-d")
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.Tokens().GetToken(ctx, "env-d")
		require.ErrorIs(t, err, store.ErrNotFound)

		require.ErrorIs(t, s.Credentials().DeleteCredential(ctx, "env-d"), store.ErrNotFound)
	})

	t.Run("list newest first", func(t *testing.T) {
		s := newStore(t)

		older := sampleCredential("env-old")
		older.UpdatedAt = time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
		newer := sampleCredential("env-new")
		newer.UpdatedAt = time.Now().UTC().Truncate(time.Second)

		require.NoError(t, s.Credentials().SaveCredential(ctx, older))
		require.NoError(t, s.Credentials().SaveCredential(ctx, newer))

		list, err := s.Credentials().ListCredentials(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, "env-new", list[0].EnvironmentID)
		require.Equal(t, "env-old", list[1].EnvironmentID)
	})
}
