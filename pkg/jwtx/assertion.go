package jwtx

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/curtismu7/mfa-console/pkg/cryptox"
)

// DefaultAssertionTTL bounds the lifetime of a signed client assertion.
// Assertions are minted per token request, so a short window is plenty.
const DefaultAssertionTTL = 60 * time.Second

// AssertionSigner signs RFC 7523 client assertions for the private_key_jwt
// token endpoint auth method using RSA SHA-256.
type AssertionSigner struct {
	key *rsa.PrivateKey
	kid string
}

// NewAssertionSigner loads an RSA private key from PEM bytes. Handles both
// PKCS1 and PKCS8 because otherwise we will be chasing a bug for longer
// than we would be willing to admit. kid is optional and, when set, is
// placed in the JOSE header so the provider can pick the registered key.
func NewAssertionSigner(pemKey []byte, kid string) (*AssertionSigner, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwtx: invalid PEM for RSA key")
	}

	var key *rsa.PrivateKey

	switch block.Type {
	case "RSA PRIVATE KEY":
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("jwtx: parse PKCS1: %w", err)
		}
		key = k
	case "PRIVATE KEY":
		priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("jwtx: parse PKCS8: %w", err)
		}
		rk, ok := priv.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("jwtx: not RSA private key")
		}
		key = rk
	default:
		return nil, fmt.Errorf("jwtx: unsupported PEM type %q", block.Type)
	}

	return &AssertionSigner{key: key, kid: kid}, nil
}

// Sign produces a signed client assertion where the worker client is both
// issuer and subject and the audience is the provider's token endpoint.
func (s *AssertionSigner) Sign(clientID, audience string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultAssertionTTL
	}

	jti, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", fmt.Errorf("jwtx: generate jti: %w", err)
	}

	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    clientID,
		Subject:   clientID,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        jti,
	})
	if s.kid != "" {
		t.Header["kid"] = s.kid
	}

	return t.SignedString(s.key)
}

// Validate does a quick sanity check to make sure we actually have a key.
func (s *AssertionSigner) Validate() error {
	if s.key == nil {
		return errors.New("jwtx: nil RSA key")
	}
	return nil
}
