package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
	"github.com/curtismu7/mfa-console/pkg/httpx"
	"github.com/curtismu7/mfa-console/pkg/otpx"
)

// OTPHandler generates TOTP codes locally so an operator can answer a
// TOTP challenge for a device whose secret they seeded.
type OTPHandler struct{}

// HandleTOTP handles POST /v1/otp/totp. The secret never leaves the
// process; only the current code is returned.
func (h *OTPHandler) HandleTOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	if req.Secret == "" {
		writeError(w, r, &domain.ValidationError{Field: "secret", Reason: "required"})
		return
	}

	now := time.Now()
	code, err := otpx.GenerateCode(req.Secret, now)
	if err != nil {
		if errors.Is(err, otpx.ErrInvalidSecret) {
			writeError(w, r, &domain.ValidationError{Field: "secret", Reason: "not a valid base32 TOTP secret"})
			return
		}
		writeError(w, r, err)
		return
	}

	remaining := otpx.Period - now.Unix()%otpx.Period

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"code":      code,
		"validFor":  remaining,
		"expiresAt": time.Unix(now.Unix()+remaining, 0).UTC(),
	})
}
