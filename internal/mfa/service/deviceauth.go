package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/curtismu7/mfa-console/internal/mfa/classify"
	"github.com/curtismu7/mfa-console/internal/mfa/domain"
	"github.com/curtismu7/mfa-console/internal/mfa/provider"
	"github.com/curtismu7/mfa-console/internal/mfa/store"
)

// Resolver looks up a flow target by username.
type Resolver interface {
	LookupByUsername(ctx context.Context, endpoints provider.Endpoints, username string) (domain.User, error)
}

// InitializeParams starts a flow against a registered device set.
type InitializeParams struct {
	// Exactly one of UserID and Username must be set.
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`

	// DeviceID skips device selection when the caller already knows the
	// target device.
	DeviceID string `json:"deviceId,omitempty"`

	// VerifyLock pre-checks the user's lock state and fails locally
	// instead of issuing a call that is certain to be rejected. Only
	// effective when the target is given by username.
	VerifyLock bool `json:"verifyLock,omitempty"`
}

// OneTimeParams starts a flow against a delivery address that is not a
// registered device.
type OneTimeParams struct {
	UserID   string         `json:"userId,omitempty"`
	Username string         `json:"username,omitempty"`
	Channel  domain.Channel `json:"channel"`
	Phone    string         `json:"phone,omitempty"`
	Email    string         `json:"email,omitempty"`
}

// ResendStrategy names which fallback path a resend took.
type ResendStrategy string

const (
	// ResendCancelReinitialize cancels the session and starts a fresh
	// one. The reliable path: the server must issue a new challenge.
	ResendCancelReinitialize ResendStrategy = "cancel_reinitialize"

	// ResendReselect re-issues the device selection on the live session.
	// Best effort only; the server may resubmit the same challenge.
	ResendReselect ResendStrategy = "reselect"
)

// ResendError reports a failed resend along with the strategy that ran,
// so callers never mistake a best-effort fallback for a guarantee.
type ResendError struct {
	Strategy ResendStrategy
	Cause    error
}

func (e *ResendError) Error() string {
	return fmt.Sprintf("resend via %s failed: %v", e.Strategy, e.Cause)
}
func (e *ResendError) Unwrap() error { return e.Cause }

// ResendResult is a successful resend and the session it left behind.
type ResendResult struct {
	Strategy ResendStrategy  `json:"strategy"`
	Session  *domain.Session `json:"session"`
}

// FlowClient drives the device authentication protocol. It is stateless
// across calls; every transition is dictated by the server's latest
// response and its action links.
type FlowClient struct {
	environmentID string
	creds         store.Credentials
	tokens        provider.TokenSource
	transport     *provider.Transport
	resolver      Resolver
	logger        *slog.Logger
}

func NewFlowClient(
	environmentID string,
	creds store.Credentials,
	tokens provider.TokenSource,
	transport *provider.Transport,
	resolver Resolver,
	logger *slog.Logger,
) *FlowClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlowClient{
		environmentID: environmentID,
		creds:         creds,
		tokens:        tokens,
		transport:     transport,
		resolver:      resolver,
		logger:        logger,
	}
}

// Initialize resolves the target user, optionally pre-checks their lock
// state, and creates a session. A caller-specified device id skips the
// selection step server-side.
func (c *FlowClient) Initialize(ctx context.Context, params InitializeParams) (*domain.Session, error) {
	if params.UserID == "" && params.Username == "" {
		return nil, &domain.ValidationError{Field: "user", Reason: "userId or username required"}
	}

	endpoints, err := c.endpoints(ctx)
	if err != nil {
		return nil, err
	}

	userID := params.UserID
	if userID == "" {
		user, err := c.resolver.LookupByUsername(ctx, endpoints, params.Username)
		if err != nil {
			return nil, err
		}
		if params.VerifyLock && user.Locked {
			return nil, &domain.ValidationError{Field: "user", Reason: "account is locked"}
		}
		userID = user.ID
	}

	body := map[string]any{
		"user": map[string]string{"id": userID},
	}
	if params.DeviceID != "" {
		body["selectedDevice"] = map[string]string{"id": params.DeviceID}
	}

	return c.postSession(ctx, endpoints.DeviceAuthenticationsURL(), body)
}

// InitializeOneTime starts a flow that delivers the challenge to an
// address not registered as a device. The address field the channel
// needs must be present before anything goes on the wire.
func (c *FlowClient) InitializeOneTime(ctx context.Context, params OneTimeParams) (*domain.Session, error) {
	if params.UserID == "" && params.Username == "" {
		return nil, &domain.ValidationError{Field: "user", Reason: "userId or username required"}
	}

	device := map[string]string{"type": string(params.Channel)}
	switch domain.RequiredAddressField(params.Channel) {
	case "phone":
		if params.Phone == "" {
			return nil, &domain.ValidationError{Field: "phone", Reason: fmt.Sprintf("required for channel %s", params.Channel)}
		}
		device["phone"] = params.Phone
	case "email":
		if params.Email == "" {
			return nil, &domain.ValidationError{Field: "email", Reason: fmt.Sprintf("required for channel %s", params.Channel)}
		}
		device["email"] = params.Email
	default:
		return nil, &domain.ValidationError{Field: "channel", Reason: fmt.Sprintf("channel %s cannot be used one-time", params.Channel)}
	}

	endpoints, err := c.endpoints(ctx)
	if err != nil {
		return nil, err
	}

	userID := params.UserID
	if userID == "" {
		user, err := c.resolver.LookupByUsername(ctx, endpoints, params.Username)
		if err != nil {
			return nil, err
		}
		userID = user.ID
	}

	body := map[string]any{
		"user":          map[string]string{"id": userID},
		"oneTimeDevice": device,
	}
	return c.postSession(ctx, endpoints.DeviceAuthenticationsURL(), body)
}

// ReadStatus re-fetches the session's current state.
func (c *FlowClient) ReadStatus(ctx context.Context, sessionID string) (*domain.Session, error) {
	endpoints, err := c.endpoints(ctx)
	if err != nil {
		return nil, err
	}
	return c.getSession(ctx, endpoints.DeviceAuthenticationURL(sessionID))
}

// SelectDevice posts a device choice. When the session is waiting on a
// selection and carries candidates, the choice is validated locally so a
// wrong device id fails precisely without a doomed round trip.
func (c *FlowClient) SelectDevice(ctx context.Context, session *domain.Session, deviceID string) (*domain.Session, error) {
	if deviceID == "" {
		return nil, &domain.ValidationError{Field: "deviceId", Reason: "required"}
	}

	if session.SelectionRequired() && len(session.Devices) > 0 {
		if _, ok := session.DeviceByID(deviceID); !ok {
			return nil, &domain.ClassifiedError{
				Kind:           domain.KindDeviceNotAllowed,
				Message:        fmt.Sprintf("device %s is not among the session's candidate devices", deviceID),
				AllowedDevices: session.Devices,
			}
		}
	}

	target, ok := session.Links.URL(domain.ActionDeviceUpdate)
	if !ok {
		// Selection does not depend on a granted link; fall back to the
		// session resource itself.
		endpoints, err := c.endpoints(ctx)
		if err != nil {
			return nil, err
		}
		target = endpoints.DeviceAuthenticationURL(session.ID)
	}

	body := map[string]any{"device": map[string]string{"id": deviceID}}
	return c.postSession(ctx, target, body)
}

// ValidateOTP submits a one-time code. The session's own otpCheck link
// is preferred; a constructed endpoint is used only when the server did
// not hand one out but the session still expects an OTP.
func (c *FlowClient) ValidateOTP(ctx context.Context, session *domain.Session, code string) (*domain.Session, error) {
	if code == "" {
		return nil, &domain.ValidationError{Field: "otp", Reason: "required"}
	}

	target, ok := session.Links.URL(domain.ActionOTPCheck)
	if !ok {
		if session.Status != domain.StatusOTPRequired {
			return nil, &domain.ActionUnavailableError{Action: domain.ActionOTPCheck}
		}
		endpoints, err := c.endpoints(ctx)
		if err != nil {
			return nil, err
		}
		target = endpoints.DeviceAuthenticationURL(session.ID) + "/otp"
	}

	return c.postSession(ctx, target, map[string]string{"otp": code})
}

// CheckAssertion submits a WebAuthn assertion for verification.
func (c *FlowClient) CheckAssertion(
	ctx context.Context,
	session *domain.Session,
	assertion domain.Assertion,
	origin domain.OriginContext,
) (*domain.Session, error) {
	if err := assertion.Validate(); err != nil {
		return nil, err
	}
	if origin.Origin == "" {
		return nil, &domain.ValidationError{Field: "origin", Reason: "required"}
	}

	target, ok := session.Links.URL(domain.ActionAssertionCheck)
	if !ok {
		return nil, &domain.ActionUnavailableError{Action: domain.ActionAssertionCheck}
	}

	body := map[string]any{
		"assertion": assertion,
		"origin":    origin.Origin,
	}
	if origin.RPID != "" {
		body["rpId"] = origin.RPID
	}
	return c.postSession(ctx, target, body)
}

// PollChallenge follows the session's challenge-poll link once.
func (c *FlowClient) PollChallenge(ctx context.Context, session *domain.Session) (*domain.Session, error) {
	target, ok := session.Links.URL(domain.ActionChallengePoll)
	if !ok {
		return nil, &domain.ActionUnavailableError{Action: domain.ActionChallengePoll}
	}
	return c.getSession(ctx, target)
}

// Complete exchanges a finished session for its final result payload.
func (c *FlowClient) Complete(ctx context.Context, session *domain.Session) (*domain.CompletionResult, error) {
	target, ok := session.Links.URL(domain.ActionComplete)
	if !ok {
		return nil, &domain.ActionUnavailableError{Action: domain.ActionComplete}
	}

	reply, err := c.do(ctx, http.MethodPost, target, nil)
	if err != nil {
		return nil, err
	}

	var result domain.CompletionResult
	if err := reply.Decode(&result); err != nil {
		return nil, err
	}
	result.Raw = reply.Body
	return &result, nil
}

// Cancel terminates the session explicitly.
func (c *FlowClient) Cancel(ctx context.Context, session *domain.Session) (*domain.Session, error) {
	target, ok := session.Links.URL(domain.ActionCancel)
	if !ok {
		return nil, &domain.ActionUnavailableError{Action: domain.ActionCancel}
	}
	return c.postSession(ctx, target, nil)
}

// Resend re-triggers challenge delivery. The protocol has no native
// resend, so this cancels and reinitializes when the session grants
// cancel, and otherwise falls back to re-selecting the current device,
// which may or may not produce a fresh challenge.
func (c *FlowClient) Resend(
	ctx context.Context,
	session *domain.Session,
	init InitializeParams,
) (*ResendResult, error) {
	if session.Links.Has(domain.ActionCancel) {
		if _, err := c.Cancel(ctx, session); err != nil {
			return nil, &ResendError{Strategy: ResendCancelReinitialize, Cause: err}
		}
		fresh, err := c.Initialize(ctx, init)
		if err != nil {
			return nil, &ResendError{Strategy: ResendCancelReinitialize, Cause: err}
		}
		return &ResendResult{Strategy: ResendCancelReinitialize, Session: fresh}, nil
	}

	deviceID := session.SelectedDeviceID
	if deviceID == "" {
		deviceID = init.DeviceID
	}
	if deviceID == "" {
		return nil, &ResendError{
			Strategy: ResendReselect,
			Cause:    errors.New("session has no cancel capability and no selected device"),
		}
	}

	c.logger.Warn("resend falling back to device re-selection, delivery of a fresh challenge is not guaranteed",
		"session_id", session.ID,
		"device_id", deviceID,
	)

	updated, err := c.SelectDevice(ctx, session, deviceID)
	if err != nil {
		return nil, &ResendError{Strategy: ResendReselect, Cause: err}
	}
	return &ResendResult{Strategy: ResendReselect, Session: updated}, nil
}

func (c *FlowClient) endpoints(ctx context.Context) (provider.Endpoints, error) {
	cred, err := c.creds.GetCredential(ctx, c.environmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return provider.Endpoints{}, ErrCredentialsMissing
		}
		return provider.Endpoints{}, err
	}
	return provider.EndpointsFor(cred), nil
}

func (c *FlowClient) do(ctx context.Context, method, target string, body any) (*provider.Reply, error) {
	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	reply, err := c.transport.DoJSON(ctx, method, target, map[string]string{
		"Authorization": "Bearer " + token.Value,
	}, body)
	if err != nil {
		return nil, err
	}
	if !reply.OK() {
		return nil, classify.Classify(reply.Status, reply.Body)
	}
	return reply, nil
}

func (c *FlowClient) postSession(ctx context.Context, target string, body any) (*domain.Session, error) {
	reply, err := c.do(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, err
	}
	return parseSession(reply.Body)
}

func (c *FlowClient) getSession(ctx context.Context, target string) (*domain.Session, error) {
	reply, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return parseSession(reply.Body)
}
