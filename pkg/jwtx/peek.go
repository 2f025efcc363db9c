package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PeekExpiry extracts the "exp" claim from a JWT access token without
// verifying its signature. The console never trusts tokens it receives, it
// only needs a renewal hint, so an unverified parse is acceptable here.
//
// Returns false for opaque (non-JWT) tokens or tokens without an exp claim,
// in which case the caller should rely on the provider-reported lifetime.
func PeekExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser()

	var claims jwt.RegisteredClaims
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}

	return claims.ExpiresAt.Time, true
}
