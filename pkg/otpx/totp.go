package otpx

import (
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// ErrInvalidSecret reports a TOTP secret that is not valid base32.
var ErrInvalidSecret = errors.New("otpx: invalid TOTP secret")

// Period is the TOTP time step in seconds.
const Period int64 = 30

// GenerateCode computes the current 6-digit TOTP code for a base32 secret.
// The console uses this to answer TOTP challenges for devices whose secret
// was captured at enrollment time, so an operator can drive an entire flow
// without a separate authenticator app.
func GenerateCode(secret string, at time.Time) (string, error) {
	secret = normalizeSecret(secret)
	if secret == "" {
		return "", ErrInvalidSecret
	}

	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", ErrInvalidSecret
	}
	return code, nil
}

// Validate reports whether code is correct for secret at the current time,
// allowing one period of clock skew either side.
func Validate(secret, code string) bool {
	ok, err := totp.ValidateCustom(code, normalizeSecret(secret), time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// normalizeSecret strips whitespace and uppercases, the form authenticator
// exports usually arrive in.
func normalizeSecret(secret string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
}
