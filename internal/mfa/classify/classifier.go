// Package classify maps raw identity-provider failures (HTTP status plus
// JSON body) into the closed ClassifiedError taxonomy. It performs no I/O
// and never panics on unknown shapes; anything it does not recognize
// degrades to the generic protocol error.
package classify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
)

// Provider error codes the classifier recognizes.
const (
	codeNoUsableDevices  = "NO_USABLE_DEVICES"
	codeLimitExceeded    = "LIMIT_EXCEEDED"
	codeNotSupported     = "CHANNEL_NOT_SUPPORTED"
	codeDeviceNotAllowed = "DEVICE_NOT_ALLOWED"
	codeInvalidOTP       = "INVALID_OTP"
	codeInvalidValue     = "INVALID_VALUE"
)

// rawError is the loose superset of error body shapes the provider emits.
// Field presence, not body shape, decides the classification.
type rawError struct {
	Error            string          `json:"error"`
	Code             string          `json:"code"`
	Message          string          `json:"message"`
	ErrorDescription string          `json:"error_description"`
	Details          json.RawMessage `json:"details"`

	UnavailableDevices []rawUnavailableDevice `json:"unavailableDevices"`
}

type rawDetail struct {
	Code       string   `json:"code"`
	Target     string   `json:"target"`
	Message    string   `json:"message"`
	InnerError rawInner `json:"innerError"`
}

type rawInner struct {
	DeliveryMethod     string                    `json:"deliveryMethod"`
	CoolDownExpiresAt  json.RawMessage           `json:"coolDownExpiresAt"`
	AllowedDevices     []domain.DeviceDescriptor `json:"allowedDevices"`
	AttemptsRemaining  *int                      `json:"attemptsRemaining"`
	FailuresRemaining  *int                      `json:"failuresRemaining"`
	UnavailableDevices []rawUnavailableDevice    `json:"unavailableDevices"`
}

type rawUnavailableDevice struct {
	domain.DeviceDescriptor
	Reason string `json:"reason"`
}

// rule pairs a predicate with the kind it produces. Rules are evaluated in
// declaration order; the first match wins.
type rule struct {
	name  string
	match func(status int, raw rawError, details []rawDetail) *domain.ClassifiedError
}

var rules = []rule{
	{name: "no_usable_devices", match: matchNoUsableDevices},
	{name: "delivery_rate_limited", match: matchDeliveryRateLimited},
	{name: "channel_not_supported", match: matchChannelNotSupported},
	{name: "device_not_allowed", match: matchDeviceNotAllowed},
	{name: "attempts_remaining", match: matchAttemptsRemaining},
}

// Classify maps an upstream failure into the closed taxonomy. body may be
// empty, truncated, or non-JSON; the result is then the generic kind.
func Classify(status int, body []byte) *domain.ClassifiedError {
	var raw rawError
	_ = json.Unmarshal(body, &raw) // malformed bodies fall through to generic

	details := decodeDetails(raw.Details)

	for _, r := range rules {
		if ce := r.match(status, raw, details); ce != nil {
			ce.HTTPStatus = status
			if ce.Message == "" {
				ce.Message = bestMessage(status, raw, details)
			}
			return ce
		}
	}

	return &domain.ClassifiedError{
		Kind:       domain.KindProtocol,
		HTTPStatus: status,
		Message:    bestMessage(status, raw, details),
	}
}

func matchNoUsableDevices(_ int, raw rawError, details []rawDetail) *domain.ClassifiedError {
	code := firstNonEmpty(raw.Error, raw.Code)
	unavailable := raw.UnavailableDevices

	if code != codeNoUsableDevices {
		found := false
		for _, d := range details {
			if d.Code == codeNoUsableDevices {
				found = true
				if len(unavailable) == 0 {
					unavailable = d.InnerError.UnavailableDevices
				}
				break
			}
		}
		if !found {
			return nil
		}
	}

	ce := &domain.ClassifiedError{Kind: domain.KindNoUsableDevices}
	for _, d := range unavailable {
		ce.UnavailableDevices = append(ce.UnavailableDevices, domain.UnavailableDevice{
			Device: d.DeviceDescriptor,
			Reason: d.Reason,
		})
	}
	return ce
}

func matchDeliveryRateLimited(_ int, _ rawError, details []rawDetail) *domain.ClassifiedError {
	for _, d := range details {
		if d.Code != codeLimitExceeded {
			continue
		}
		ce := &domain.ClassifiedError{
			Kind:    domain.KindDeliveryRateLimited,
			Channel: domain.Channel(d.InnerError.DeliveryMethod),
			Message: d.Message,
		}
		if t, ok := parseTimestamp(d.InnerError.CoolDownExpiresAt); ok {
			ce.RetryAfter = &t
		}
		return ce
	}
	return nil
}

func matchChannelNotSupported(_ int, _ rawError, details []rawDetail) *domain.ClassifiedError {
	for _, d := range details {
		if d.Code == codeNotSupported {
			return &domain.ClassifiedError{
				Kind:    domain.KindChannelNotSupported,
				Channel: domain.Channel(d.InnerError.DeliveryMethod),
				Message: d.Message,
			}
		}
	}
	return nil
}

func matchDeviceNotAllowed(_ int, _ rawError, details []rawDetail) *domain.ClassifiedError {
	for _, d := range details {
		// Some provider versions report this as a generic INVALID_VALUE on
		// the device field; the allowed set in innerError disambiguates.
		if d.Code == codeDeviceNotAllowed ||
			(d.Code == codeInvalidValue && len(d.InnerError.AllowedDevices) > 0) {
			return &domain.ClassifiedError{
				Kind:           domain.KindDeviceNotAllowed,
				AllowedDevices: d.InnerError.AllowedDevices,
				Message:        d.Message,
			}
		}
	}
	return nil
}

func matchAttemptsRemaining(_ int, _ rawError, details []rawDetail) *domain.ClassifiedError {
	for _, d := range details {
		remaining := d.InnerError.AttemptsRemaining
		if remaining == nil {
			remaining = d.InnerError.FailuresRemaining
		}
		if d.Code == codeInvalidOTP ||
			(d.Code == codeInvalidValue && strings.EqualFold(d.Target, "otp")) {
			return &domain.ClassifiedError{
				Kind:              domain.KindAttemptsRemaining,
				AttemptsRemaining: remaining,
				Message:           d.Message,
			}
		}
	}
	return nil
}

// decodeDetails accepts both wire layouts: a bare details array, and an
// object wrapping a nested details array.
func decodeDetails(raw json.RawMessage) []rawDetail {
	if len(raw) == 0 {
		return nil
	}

	var details []rawDetail
	if err := json.Unmarshal(raw, &details); err == nil {
		return details
	}

	var wrapped struct {
		Details []rawDetail `json:"details"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return wrapped.Details
	}
	return nil
}

// parseTimestamp accepts epoch milliseconds, epoch seconds, or RFC3339.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		// Anything past the year 33658 in seconds is milliseconds.
		if n > 1_000_000_000_000 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), true
		}
		// Some responses carry a bare epoch in a string.
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			if n > 1_000_000_000_000 {
				return time.UnixMilli(n).UTC(), true
			}
			return time.Unix(n, 0).UTC(), true
		}
	}
	return time.Time{}, false
}

func bestMessage(status int, raw rawError, details []rawDetail) string {
	if raw.Message != "" {
		return raw.Message
	}
	if raw.ErrorDescription != "" {
		return raw.ErrorDescription
	}
	for _, d := range details {
		if d.Message != "" {
			return d.Message
		}
	}
	if raw.Error != "" {
		return raw.Error
	}
	return fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
