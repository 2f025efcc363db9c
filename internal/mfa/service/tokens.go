// Package service implements the console's protocol core: the worker
// token lifecycle, the device authentication flow client, and the
// challenge poller.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
	"github.com/curtismu7/mfa-console/internal/mfa/provider"
	"github.com/curtismu7/mfa-console/internal/mfa/store"
	"github.com/curtismu7/mfa-console/pkg/cryptox"
	"github.com/curtismu7/mfa-console/pkg/jwtx"
)

// DefaultRenewalThreshold is the remaining lifetime below which a cached
// token is renewed instead of handed out.
const DefaultRenewalThreshold = 60 * time.Second

// ErrCredentialsMissing reports that no worker credential is configured
// for the environment.
var ErrCredentialsMissing = errors.New("service: worker credentials missing")

// RenewalError wraps a failed token renewal so callers can tell it apart
// from credential absence.
type RenewalError struct {
	Cause error
}

func (e *RenewalError) Error() string { return "token renewal failed: " + e.Cause.Error() }
func (e *RenewalError) Unwrap() error { return e.Cause }

// TokenObserver receives token status changes. Notifications are
// fire-and-forget; observers must not block for long.
type TokenObserver func(domain.TokenStatus)

// TokenManagerConfig tunes a TokenManager.
type TokenManagerConfig struct {
	EnvironmentID    string
	RenewalThreshold time.Duration

	// AutoRenew disabled means an expiring token is returned as-is with
	// a warning instead of being renewed.
	AutoRenew bool
}

// TokenManager keeps one environment's worker access token valid.
// Safe for concurrent use; renewal is single-flight so overlapping
// callers share one token endpoint request.
type TokenManager struct {
	cfg       TokenManagerConfig
	creds     store.Credentials
	tokens    store.Tokens
	transport *provider.Transport
	logger    *slog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	cached    domain.AccessToken
	haveCache bool
	observers []TokenObserver

	// now is swappable for tests.
	now func() time.Time
}

func NewTokenManager(
	cfg TokenManagerConfig,
	st store.Store,
	transport *provider.Transport,
	logger *slog.Logger,
) *TokenManager {
	if cfg.RenewalThreshold <= 0 {
		cfg.RenewalThreshold = DefaultRenewalThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenManager{
		cfg:       cfg,
		creds:     st.Credentials(),
		tokens:    st.Tokens(),
		transport: transport,
		logger:    logger,
		now:       time.Now,
	}
}

// Subscribe registers an observer for token changes.
func (m *TokenManager) Subscribe(fn TokenObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// GetValidToken returns a token whose remaining lifetime exceeds the
// renewal threshold, renewing against the token endpoint when needed.
// The common path is a cache hit with no network traffic.
func (m *TokenManager) GetValidToken(ctx context.Context) (domain.AccessToken, error) {
	now := m.now()

	if token, ok := m.cachedToken(ctx); ok && !token.NeedsRenewal(now, m.cfg.RenewalThreshold) {
		return token, nil
	}

	if !m.cfg.AutoRenew {
		if token, ok := m.cachedToken(ctx); ok && token.Remaining(now) > 0 {
			m.logger.Warn("returning soon-to-expire token, auto-renew disabled",
				"environment_id", m.cfg.EnvironmentID,
				"expires_at", token.ExpiresAt,
			)
			return token, nil
		}
	}

	result, err, _ := m.group.Do("renew", func() (any, error) {
		// Re-check inside the flight: a caller that queued behind the
		// winner must not trigger a second renewal.
		if token, ok := m.cachedToken(ctx); ok && !token.NeedsRenewal(m.now(), m.cfg.RenewalThreshold) {
			return token, nil
		}
		return m.renew(ctx)
	})
	if err != nil {
		return domain.AccessToken{}, err
	}

	return result.(domain.AccessToken), nil
}

// Status reports the redacted cached token state for the UI.
func (m *TokenManager) Status(ctx context.Context) domain.TokenStatus {
	token, ok := m.cachedToken(ctx)
	if !ok || token.Value == "" {
		return domain.TokenStatus{}
	}

	secondsLeft := int64(token.Remaining(m.now()) / time.Second)
	if secondsLeft < 0 {
		secondsLeft = 0
	}
	return domain.TokenStatus{
		Present:     true,
		ExpiresAt:   token.ExpiresAt,
		SecondsLeft: secondsLeft,
		Fingerprint: cryptox.FingerprintToken(token.Value),
	}
}

// Invalidate drops the cached token, in memory and in the store. The
// next GetValidToken renews.
func (m *TokenManager) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	m.cached = domain.AccessToken{}
	m.haveCache = true
	m.mu.Unlock()

	if err := m.tokens.DeleteToken(ctx, m.cfg.EnvironmentID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// cachedToken reads the in-memory token, falling back to the store once
// per process (tokens persisted by an earlier run survive restarts).
func (m *TokenManager) cachedToken(ctx context.Context) (domain.AccessToken, bool) {
	m.mu.RLock()
	if m.haveCache {
		token := m.cached
		m.mu.RUnlock()
		return token, token.Value != ""
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.haveCache {
		return m.cached, m.cached.Value != ""
	}

	m.haveCache = true
	token, err := m.tokens.GetToken(ctx, m.cfg.EnvironmentID)
	if err != nil {
		return domain.AccessToken{}, false
	}
	m.cached = token
	return token, token.Value != ""
}

func (m *TokenManager) renew(ctx context.Context) (domain.AccessToken, error) {
	cred, err := m.creds.GetCredential(ctx, m.cfg.EnvironmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.AccessToken{}, ErrCredentialsMissing
		}
		return domain.AccessToken{}, err
	}

	endpoints := provider.EndpointsFor(cred)
	token, err := m.requestToken(ctx, cred, endpoints.TokenURL())
	if err != nil {
		return domain.AccessToken{}, &RenewalError{Cause: err}
	}

	m.mu.Lock()
	m.cached = token
	m.haveCache = true
	m.mu.Unlock()

	if err := m.tokens.SaveToken(ctx, m.cfg.EnvironmentID, token); err != nil {
		m.logger.Warn("failed to persist renewed token", "error", err)
	}

	m.notify(token)

	m.logger.Info("worker token renewed",
		"environment_id", m.cfg.EnvironmentID,
		"expires_at", token.ExpiresAt,
	)
	return token, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (m *TokenManager) requestToken(
	ctx context.Context,
	cred domain.WorkerCredential,
	tokenURL string,
) (domain.AccessToken, error) {
	data := url.Values{
		"grant_type": {"client_credentials"},
	}
	if len(cred.Scopes) > 0 {
		data.Set("scope", strings.Join(cred.Scopes, " "))
	}

	headers := map[string]string{}

	switch cred.AuthMethod {
	case domain.AuthMethodSecretPost:
		data.Set("client_id", cred.ClientID)
		data.Set("client_secret", cred.Secret)

	case domain.AuthMethodSecretBasic:
		basic := base64.StdEncoding.EncodeToString([]byte(cred.ClientID + ":" + cred.Secret))
		headers["Authorization"] = "Basic " + basic

	case domain.AuthMethodPrivateKeyJWT:
		signer, err := jwtx.NewAssertionSigner([]byte(cred.Secret), cred.KeyID)
		if err != nil {
			return domain.AccessToken{}, err
		}
		assertion, err := signer.Sign(cred.ClientID, tokenURL, jwtx.DefaultAssertionTTL)
		if err != nil {
			return domain.AccessToken{}, err
		}
		data.Set("client_id", cred.ClientID)
		data.Set("client_assertion_type", "urn:ietf:params:oauth:client-assertion-type:jwt-bearer")
		data.Set("client_assertion", assertion)

	default:
		return domain.AccessToken{}, fmt.Errorf("unknown auth method %q", cred.AuthMethod)
	}

	reply, err := m.transport.DoForm(ctx, http.MethodPost, tokenURL, headers, data)
	if err != nil {
		return domain.AccessToken{}, err
	}
	if !reply.OK() {
		return domain.AccessToken{}, fmt.Errorf(
			"token request failed with status %d: %s", reply.Status, string(reply.Body),
		)
	}

	var resp tokenResponse
	if err := reply.Decode(&resp); err != nil {
		return domain.AccessToken{}, err
	}
	if resp.AccessToken == "" {
		return domain.AccessToken{}, errors.New("token response missing access_token")
	}

	issued := m.now()
	return domain.AccessToken{
		Value:     resp.AccessToken,
		IssuedAt:  issued,
		ExpiresAt: EstimateExpiry(resp.AccessToken, resp.ExpiresIn, issued),
	}, nil
}

// EstimateExpiry computes when a token stops being usable. The server's
// expires_in is authoritative; decoding the token's own exp claim is a
// fallback for tokens restored without a recorded lifetime, and the
// final fallback is a conservative fixed window.
func EstimateExpiry(token string, expiresIn int, issued time.Time) time.Time {
	if expiresIn > 0 {
		return issued.Add(time.Duration(expiresIn) * time.Second)
	}
	if exp, ok := jwtx.PeekExpiry(token); ok {
		return exp
	}
	return issued.Add(5 * time.Minute)
}

func (m *TokenManager) notify(token domain.AccessToken) {
	m.mu.RLock()
	observers := make([]TokenObserver, len(m.observers))
	copy(observers, m.observers)
	m.mu.RUnlock()

	secondsLeft := int64(token.Remaining(m.now()) / time.Second)
	status := domain.TokenStatus{
		Present:     true,
		ExpiresAt:   token.ExpiresAt,
		SecondsLeft: secondsLeft,
		Fingerprint: cryptox.FingerprintToken(token.Value),
	}

	for _, fn := range observers {
		go fn(status)
	}
}
