package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
	"github.com/curtismu7/mfa-console/internal/mfa/provider"
	"github.com/curtismu7/mfa-console/internal/mfa/store"
	"github.com/curtismu7/mfa-console/internal/mfa/store/drivers/memory"
)

const testEnv = "env-test"

// tokenFake is an httptest token endpoint counting requests. The
// manager derives the endpoint URL from the credential, so the
// credential's custom domain points at this server.
type tokenFake struct {
	srv      *httptest.Server
	requests atomic.Int32

	mu       sync.Mutex
	lastForm map[string]string
	lastAuth string
}

func newTokenFake(t *testing.T, accessToken string, expiresIn int) *tokenFake {
	t.Helper()

	f := &tokenFake{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		require.NoError(t, r.ParseForm())

		f.mu.Lock()
		f.lastForm = map[string]string{}
		for k := range r.PostForm {
			f.lastForm[k] = r.PostForm.Get(k)
		}
		f.lastAuth = r.Header.Get("Authorization")
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": accessToken,
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *tokenFake) form(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastForm[key]
}

func (f *tokenFake) authHeader() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

// domain host of the fake, usable as the credential's custom domain.
func (f *tokenFake) host() string {
	return strings.TrimPrefix(f.srv.URL, "http://")
}

func newManagerWithFake(t *testing.T, f *tokenFake, method domain.AuthMethod, secret string) (*TokenManager, store.Store) {
	t.Helper()

	st := memory.NewStore()
	cred := domain.WorkerCredential{
		EnvironmentID: testEnv,
		ClientID:      "worker-client",
		Secret:        secret,
		AuthMethod:    method,
		Scopes:        []string{"mfa:read", "mfa:update"},
		CustomDomain:  f.host(),
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, st.Credentials().SaveCredential(context.Background(), cred))

	m := NewTokenManager(TokenManagerConfig{
		EnvironmentID: testEnv,
		AutoRenew:     true,
	}, st, newInsecureTransport(f.srv), nil)
	return m, st
}

// newInsecureTransport builds a transport whose client follows the fake
// server. Endpoints produce https URLs; the fake client rewrites them
// to the test listener.
func newInsecureTransport(srv *httptest.Server) *provider.Transport {
	client := &http.Client{
		Transport: rewriteToServer{inner: srv.Client().Transport, target: srv},
		Timeout:   5 * time.Second,
	}
	return provider.NewTransport(client, nil, 1)
}

// rewriteToServer redirects every request to the httptest listener over
// plain http, preserving path and query.
type rewriteToServer struct {
	inner  http.RoundTripper
	target *httptest.Server
}

func (rt rewriteToServer) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = "http"
	clone.URL.Host = strings.TrimPrefix(rt.target.URL, "http://")
	return rt.inner.RoundTrip(clone)
}

func TestGetValidTokenRenewsOnFirstUse(t *testing.T) {
	t.Parallel()

	f := newTokenFake(t, "tok-1", 3600)
	m, st := newManagerWithFake(t, f, domain.AuthMethodSecretPost, "shh")

	token, err := m.GetValidToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", token.Value)
	require.Equal(t, int32(1), f.requests.Load())

	require.Equal(t, "client_credentials", f.form("grant_type"))
	require.Equal(t, "worker-client", f.form("client_id"))
	require.Equal(t, "shh", f.form("client_secret"))
	require.Equal(t, "mfa:read mfa:update", f.form("scope"))

	// Renewed token is persisted.
	saved, err := st.Tokens().GetToken(context.Background(), testEnv)
	require.NoError(t, err)
	require.Equal(t, "tok-1", saved.Value)
}

func TestGetValidTokenCacheHitNoNetwork(t *testing.T) {
	t.Parallel()

	f := newTokenFake(t, "tok-1", 3600)
	m, _ := newManagerWithFake(t, f, domain.AuthMethodSecretPost, "shh")

	_, err := m.GetValidToken(context.Background())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := m.GetValidToken(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), f.requests.Load())
}

func TestGetValidTokenSingleFlight(t *testing.T) {
	t.Parallel()

	f := newTokenFake(t, "tok-1", 3600)
	m, _ := newManagerWithFake(t, f, domain.AuthMethodSecretPost, "shh")

	const callers = 20
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.GetValidToken(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), f.requests.Load())
}

func TestGetValidTokenBasicAuth(t *testing.T) {
	t.Parallel()

	f := newTokenFake(t, "tok-1", 3600)
	m, _ := newManagerWithFake(t, f, domain.AuthMethodSecretBasic, "shh")

	_, err := m.GetValidToken(context.Background())
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(f.authHeader(), "Basic "))
	require.Empty(t, f.form("client_secret"))
}

func TestGetValidTokenPrivateKeyJWT(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	f := newTokenFake(t, "tok-1", 3600)
	m, _ := newManagerWithFake(t, f, domain.AuthMethodPrivateKeyJWT, string(pemKey))

	_, err = m.GetValidToken(context.Background())
	require.NoError(t, err)

	require.Equal(t,
		"urn:ietf:params:oauth:client-assertion-type:jwt-bearer",
		f.form("client_assertion_type"),
	)
	assertion := f.form("client_assertion")
	require.NotEmpty(t, assertion)

	// Assertion verifies against the key with the client as issuer.
	parsed, err := jwt.Parse(assertion, func(tok *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	iss, err := parsed.Claims.GetIssuer()
	require.NoError(t, err)
	require.Equal(t, "worker-client", iss)
}

func TestGetValidTokenCredentialsMissing(t *testing.T) {
	t.Parallel()

	f := newTokenFake(t, "tok-1", 3600)
	st := memory.NewStore()
	m := NewTokenManager(TokenManagerConfig{
		EnvironmentID: testEnv,
		AutoRenew:     true,
	}, st, newInsecureTransport(f.srv), nil)

	_, err := m.GetValidToken(context.Background())
	require.ErrorIs(t, err, ErrCredentialsMissing)
	require.Equal(t, int32(0), f.requests.Load())
}

func TestGetValidTokenRenewalFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	st := memory.NewStore()
	require.NoError(t, st.Credentials().SaveCredential(context.Background(), domain.WorkerCredential{
		EnvironmentID: testEnv,
		ClientID:      "worker-client",
		Secret:        "bad",
		AuthMethod:    domain.AuthMethodSecretPost,
		CustomDomain:  strings.TrimPrefix(srv.URL, "http://"),
	}))

	m := NewTokenManager(TokenManagerConfig{
		EnvironmentID: testEnv,
		AutoRenew:     true,
	}, st, newInsecureTransport(srv), nil)

	_, err := m.GetValidToken(context.Background())
	var renewal *RenewalError
	require.ErrorAs(t, err, &renewal)
	require.Contains(t, renewal.Cause.Error(), "invalid_client")
}

func TestGetValidTokenAutoRenewDisabledReturnsExpiring(t *testing.T) {
	t.Parallel()

	f := newTokenFake(t, "tok-never-requested", 3600)
	m, st := newManagerWithFake(t, f, domain.AuthMethodSecretPost, "shh")
	m.cfg.AutoRenew = false

	// Seed a token inside the renewal threshold but not yet expired.
	expiring := domain.AccessToken{
		Value:     "tok-expiring",
		IssuedAt:  time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(20 * time.Second),
	}
	require.NoError(t, st.Tokens().SaveToken(context.Background(), testEnv, expiring))

	token, err := m.GetValidToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-expiring", token.Value)
	require.Equal(t, int32(0), f.requests.Load())
}

func TestObserversNotifiedOnRenewal(t *testing.T) {
	t.Parallel()

	f := newTokenFake(t, "tok-1", 3600)
	m, _ := newManagerWithFake(t, f, domain.AuthMethodSecretPost, "shh")

	notified := make(chan domain.TokenStatus, 1)
	m.Subscribe(func(status domain.TokenStatus) {
		notified <- status
	})

	_, err := m.GetValidToken(context.Background())
	require.NoError(t, err)

	select {
	case status := <-notified:
		require.True(t, status.Present)
		require.Greater(t, status.SecondsLeft, int64(3000))
	case <-time.After(2 * time.Second):
		t.Fatal("observer was not notified")
	}
}

func TestEstimateExpiry(t *testing.T) {
	t.Parallel()

	issued := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	t.Run("expires_in preferred", func(t *testing.T) {
		got := EstimateExpiry("opaque-token", 1800, issued)
		require.Equal(t, issued.Add(30*time.Minute), got)
	})

	t.Run("jwt exp fallback", func(t *testing.T) {
		exp := time.Date(2026, 2, 1, 13, 30, 0, 0, time.UTC)
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		})
		signed, err := tok.SignedString([]byte("test-key"))
		require.NoError(t, err)

		got := EstimateExpiry(signed, 0, issued)
		require.True(t, got.Equal(exp))
	})

	t.Run("conservative default", func(t *testing.T) {
		got := EstimateExpiry("not-a-jwt", 0, issued)
		require.Equal(t, issued.Add(5*time.Minute), got)
	})
}

func TestStatusRedactsToken(t *testing.T) {
	t.Parallel()

	f := newTokenFake(t, "tok-secret-value", 3600)
	m, _ := newManagerWithFake(t, f, domain.AuthMethodSecretPost, "shh")

	require.False(t, m.Status(context.Background()).Present)

	_, err := m.GetValidToken(context.Background())
	require.NoError(t, err)

	status := m.Status(context.Background())
	require.True(t, status.Present)
	require.NotContains(t, status.Fingerprint, "tok-secret-value")
	require.Greater(t, status.SecondsLeft, int64(0))
}
