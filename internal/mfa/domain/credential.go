package domain

import (
	"fmt"
	"time"
)

// AuthMethod is how the worker client authenticates to the token endpoint.
type AuthMethod string

const (
	// AuthMethodSecretPost sends the client secret in the form body.
	AuthMethodSecretPost AuthMethod = "client_secret_post"

	// AuthMethodSecretBasic sends the client secret in a Basic Authorization header.
	AuthMethodSecretBasic AuthMethod = "client_secret_basic"

	// AuthMethodPrivateKeyJWT signs a client assertion with an RSA private key
	// instead of sending a shared secret.
	AuthMethodPrivateKeyJWT AuthMethod = "private_key_jwt"
)

// ParseAuthMethod validates a wire string into an AuthMethod.
func ParseAuthMethod(s string) (AuthMethod, error) {
	switch AuthMethod(s) {
	case AuthMethodSecretPost, AuthMethodSecretBasic, AuthMethodPrivateKeyJWT:
		return AuthMethod(s), nil
	default:
		return "", fmt.Errorf("unknown auth method %q", s)
	}
}

// WorkerCredential is the service-level client identity the console uses to
// call protected identity-provider APIs. Created once by the operator and
// only ever replaced wholesale, never field-patched.
type WorkerCredential struct {
	EnvironmentID string
	ClientID      string

	// Secret holds the shared secret, or the PEM-encoded RSA private key
	// when AuthMethod is private_key_jwt.
	Secret string

	// KeyID is the optional registered key id for private_key_jwt.
	KeyID string

	AuthMethod   AuthMethod
	Scopes       []string
	Region       string
	CustomDomain string // optional, overrides the regional hosts
	UpdatedAt    time.Time
}

// Validate checks the credential is complete enough to request tokens.
func (c WorkerCredential) Validate() error {
	if c.EnvironmentID == "" {
		return &ValidationError{Field: "environmentId", Reason: "required"}
	}
	if c.ClientID == "" {
		return &ValidationError{Field: "clientId", Reason: "required"}
	}
	if c.Secret == "" {
		return &ValidationError{Field: "secret", Reason: "required"}
	}
	if _, err := ParseAuthMethod(string(c.AuthMethod)); err != nil {
		return &ValidationError{Field: "authMethod", Reason: err.Error()}
	}
	if c.Region == "" && c.CustomDomain == "" {
		return &ValidationError{Field: "region", Reason: "region or customDomain required"}
	}
	return nil
}

// AccessToken is a cached bearer token derived from a WorkerCredential.
type AccessToken struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Remaining returns the lifetime left at now. Negative once expired.
func (t AccessToken) Remaining(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

// NeedsRenewal reports whether the token should be renewed before use.
// Tokens are treated as expired once remaining lifetime drops below the
// threshold, so in-flight calls do not race against hard expiry.
func (t AccessToken) NeedsRenewal(now time.Time, threshold time.Duration) bool {
	return t.Value == "" || t.Remaining(now) <= threshold
}

// TokenStatus is the redacted view of the cached token exposed to the UI.
type TokenStatus struct {
	Present     bool      `json:"present"`
	ExpiresAt   time.Time `json:"expiresAt,omitzero"`
	SecondsLeft int64     `json:"secondsLeft"`
	Fingerprint string    `json:"fingerprint,omitempty"`
}
