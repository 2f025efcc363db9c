package domain

import (
	"fmt"
	"time"
)

// Channel is a delivery mechanism for a one-time code or challenge.
type Channel string

const (
	ChannelSMS      Channel = "SMS"
	ChannelEmail    Channel = "EMAIL"
	ChannelVoice    Channel = "VOICE"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelTOTP     Channel = "TOTP"
	ChannelPush     Channel = "PUSH"
	ChannelFIDO2    Channel = "FIDO2"
)

// ErrorKind is the closed taxonomy every upstream failure collapses into.
// Anything the classifier does not recognize degrades to KindProtocol.
type ErrorKind string

const (
	KindNoUsableDevices     ErrorKind = "NO_USABLE_DEVICES"
	KindDeliveryRateLimited ErrorKind = "DELIVERY_CHANNEL_RATE_LIMITED"
	KindChannelNotSupported ErrorKind = "CHANNEL_NOT_SUPPORTED_BY_POLICY"
	KindDeviceNotAllowed    ErrorKind = "DEVICE_NOT_ALLOWED_BY_POLICY"
	KindAttemptsRemaining   ErrorKind = "ATTEMPTS_REMAINING"
	KindProtocol            ErrorKind = "PROTOCOL_ERROR"
)

// UnavailableDevice explains why a specific device failed policy.
type UnavailableDevice struct {
	Device DeviceDescriptor `json:"device"`
	Reason string           `json:"reason,omitempty"`
}

// ClassifiedError is the sole failure artifact handed to the UI layer. It
// carries enough structured data (cool-down expiry, allowed device set) for
// the UI to drive recovery without another round trip.
type ClassifiedError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"httpStatus,omitempty"`

	// RetryAfter is set for KindDeliveryRateLimited: the cool-down expiry.
	RetryAfter *time.Time `json:"retryAfter,omitempty"`

	// Channel is set for channel-scoped failures.
	Channel Channel `json:"channel,omitempty"`

	// AttemptsRemaining is set for KindAttemptsRemaining when reported.
	AttemptsRemaining *int `json:"attemptsRemaining,omitempty"`

	// UnavailableDevices accompanies KindNoUsableDevices.
	UnavailableDevices []UnavailableDevice `json:"unavailableDevices,omitempty"`

	// AllowedDevices accompanies KindDeviceNotAllowed.
	AllowedDevices []DeviceDescriptor `json:"allowedDevices,omitempty"`
}

func (e *ClassifiedError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Recoverable reports whether the UI can act on the error without operator
// intervention (retry later, pick another channel).
func (e *ClassifiedError) Recoverable() bool {
	switch e.Kind {
	case KindDeliveryRateLimited, KindChannelNotSupported,
		KindDeviceNotAllowed, KindAttemptsRemaining:
		return true
	}
	return false
}

// ValidationError is a local pre-flight failure: the request was never sent.
// Kept distinct from server-reported errors so the UI can tell "never sent"
// from "sent and rejected".
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ActionUnavailableError reports an attempt to perform an operation whose
// action link is absent from the session. Raised locally, no network call.
type ActionUnavailableError struct {
	Action Action `json:"action"`
}

func (e *ActionUnavailableError) Error() string {
	return fmt.Sprintf("action %q not available on session", e.Action)
}

// RequiredAddressField returns the one-time initialization field a channel
// needs, or "" for channels that carry no delivery address.
func RequiredAddressField(ch Channel) string {
	switch ch {
	case ChannelSMS, ChannelVoice, ChannelWhatsApp:
		return "phone"
	case ChannelEmail:
		return "email"
	default:
		return ""
	}
}
