package domain

import (
	"encoding/json"
	"sort"
)

// SessionStatus is the server-declared state of a device authentication
// session. The client never invents transitions, it only reflects these.
type SessionStatus string

const (
	StatusDeviceSelectionRequired  SessionStatus = "DEVICE_SELECTION_REQUIRED"
	StatusOTPRequired              SessionStatus = "OTP_REQUIRED"
	StatusPushConfirmationRequired SessionStatus = "PUSH_CONFIRMATION_REQUIRED"
	StatusPushConfirmationTimedOut SessionStatus = "PUSH_CONFIRMATION_TIMED_OUT"
	StatusAssertionRequired        SessionStatus = "ASSERTION_REQUIRED"
	StatusCompleted                SessionStatus = "COMPLETED"
	StatusFailed                   SessionStatus = "FAILED"
	StatusCanceled                 SessionStatus = "CANCELED"
	StatusExpired                  SessionStatus = "EXPIRED"
)

// Terminal reports whether the session can make no further progress.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled, StatusExpired,
		StatusPushConfirmationTimedOut:
		return true
	}
	return false
}

// Action names a server-granted capability on a session. An action is only
// attemptable while the server includes its link in the latest response.
type Action string

const (
	ActionOTPCheck       Action = "otp.check"
	ActionChallengePoll  Action = "challenge.poll"
	ActionDeviceUpdate   Action = "device.update"
	ActionAssertionCheck Action = "assertion.check"
	ActionComplete       Action = "session.complete"
	ActionCancel         Action = "session.cancel"
)

// ActionLinks is the capability set carried on every server response: a map
// from action to the URL the action must be issued against. Absence of a
// key means the operation is illegal right now.
type ActionLinks map[Action]string

// Has reports whether the action is currently legal.
func (l ActionLinks) Has(a Action) bool {
	_, ok := l[a]
	return ok
}

// URL returns the link for an action, if granted.
func (l ActionLinks) URL(a Action) (string, bool) {
	u, ok := l[a]
	return u, ok
}

// Actions returns the granted action names in stable order.
func (l ActionLinks) Actions() []Action {
	out := make([]Action, 0, len(l))
	for a := range l {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DeviceType identifies the authentication mechanism a device provides.
type DeviceType string

const (
	DeviceSMS         DeviceType = "SMS"
	DeviceEmail       DeviceType = "EMAIL"
	DeviceVoice       DeviceType = "VOICE"
	DeviceWhatsApp    DeviceType = "WHATSAPP"
	DeviceTOTP        DeviceType = "TOTP"
	DeviceMobile      DeviceType = "MOBILE" // push notification
	DeviceFIDO2       DeviceType = "FIDO2"
	DevicePlatform    DeviceType = "PLATFORM"
	DeviceSecurityKey DeviceType = "SECURITY_KEY"
)

// DeviceDescriptor is an immutable snapshot of a user's device as returned
// inside a session.
type DeviceDescriptor struct {
	ID       string     `json:"id"`
	Type     DeviceType `json:"type"`
	Nickname string     `json:"nickname,omitempty"`
	Status   string     `json:"status,omitempty"`
}

// Session is a single device authentication attempt. Every field is
// populated from server responses; local code never mutates Status,
// NextStep or Links on its own.
type Session struct {
	ID               string             `json:"id"`
	Status           SessionStatus      `json:"status"`
	NextStep         string             `json:"nextStep,omitempty"`
	Devices          []DeviceDescriptor `json:"devices,omitempty"`
	SelectedDeviceID string             `json:"selectedDeviceId,omitempty"`
	ChallengeID      string             `json:"challengeId,omitempty"`
	Links            ActionLinks        `json:"links,omitempty"`
}

// SelectionRequired reports whether the server is waiting on a device choice.
func (s *Session) SelectionRequired() bool {
	return s.Status == StatusDeviceSelectionRequired
}

// DeviceByID finds a candidate device on the session.
func (s *Session) DeviceByID(id string) (DeviceDescriptor, bool) {
	for _, d := range s.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return DeviceDescriptor{}, false
}

// CompletionResult is the final payload a COMPLETED session exchanges into.
type CompletionResult struct {
	Status      SessionStatus   `json:"status"`
	AccessToken string          `json:"accessToken,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// User is the resolved target identity for a flow.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Locked   bool   `json:"locked"`
	Status   string `json:"status,omitempty"`
}
