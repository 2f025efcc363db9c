package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
	"github.com/curtismu7/mfa-console/internal/mfa/provider"
	"github.com/curtismu7/mfa-console/internal/mfa/store/drivers/memory"
)

type fixedTokens struct{}

func (fixedTokens) GetValidToken(context.Context) (domain.AccessToken, error) {
	return domain.AccessToken{
		Value:     "tok-worker",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

type stubResolver struct {
	user  domain.User
	err   error
	calls atomic.Int32
}

func (r *stubResolver) LookupByUsername(context.Context, provider.Endpoints, string) (domain.User, error) {
	r.calls.Add(1)
	return r.user, r.err
}

// newFlowHarness wires a FlowClient whose every outbound request lands
// on the mux, regardless of the host the URL names.
func newFlowHarness(t *testing.T, mux *http.ServeMux) (*FlowClient, *stubResolver, *atomic.Int32) {
	t.Helper()

	var requests atomic.Int32
	counting := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		require.Equal(t, "Bearer tok-worker", r.Header.Get("Authorization"))
		mux.ServeHTTP(w, r)
	})
	srv := httptest.NewServer(counting)
	t.Cleanup(srv.Close)

	st := memory.NewStore()
	require.NoError(t, st.Credentials().SaveCredential(context.Background(), domain.WorkerCredential{
		EnvironmentID: testEnv,
		ClientID:      "worker-client",
		Secret:        "shh",
		AuthMethod:    domain.AuthMethodSecretPost,
		Region:        "na",
	}))

	resolver := &stubResolver{user: domain.User{ID: "user-1", Username: "alice"}}
	client := NewFlowClient(testEnv, st.Credentials(), fixedTokens{}, newInsecureTransport(srv), resolver, nil)
	return client, resolver, &requests
}

func writeSession(w http.ResponseWriter, session map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(session)
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func TestInitializeByUserID(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/environments/env-test/deviceAuthentications", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		require.Equal(t, map[string]any{"id": "user-1"}, body["user"])
		require.NotContains(t, body, "selectedDevice")

		writeSession(w, map[string]any{
			"id":     "sess-1",
			"status": "DEVICE_SELECTION_REQUIRED",
			"_embedded": map[string]any{
				"devices": []map[string]any{
					{"id": "dev-1", "type": "SMS", "nickname": "phone"},
					{"id": "dev-2", "type": "TOTP"},
				},
			},
			"_links": map[string]any{
				"device.update":  map[string]string{"href": "https://api.pingone.com/sess-1/device"},
				"session.cancel": map[string]string{"href": "https://api.pingone.com/sess-1/cancel"},
			},
		})
	})

	client, _, _ := newFlowHarness(t, mux)
	session, err := client.Initialize(context.Background(), InitializeParams{UserID: "user-1"})
	require.NoError(t, err)
	require.Equal(t, "sess-1", session.ID)
	require.True(t, session.SelectionRequired())
	require.Len(t, session.Devices, 2)
	require.ElementsMatch(t,
		[]domain.Action{domain.ActionDeviceUpdate, domain.ActionCancel},
		session.Links.Actions(),
	)
}

func TestInitializeRequiresTarget(t *testing.T) {
	t.Parallel()

	client, _, requests := newFlowHarness(t, http.NewServeMux())
	_, err := client.Initialize(context.Background(), InitializeParams{})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, int32(0), requests.Load())
}

func TestInitializeLockPreCheck(t *testing.T) {
	t.Parallel()

	client, resolver, requests := newFlowHarness(t, http.NewServeMux())
	resolver.user = domain.User{ID: "user-2", Username: "bob", Locked: true, Status: "LOCKED"}

	_, err := client.Initialize(context.Background(), InitializeParams{Username: "bob", VerifyLock: true})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "user", verr.Field)
	require.Equal(t, int32(1), resolver.calls.Load())
	require.Equal(t, int32(0), requests.Load())
}

func TestInitializeWithDeviceSkipsSelection(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/environments/env-test/deviceAuthentications", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		require.Equal(t, map[string]any{"id": "dev-1"}, body["selectedDevice"])
		writeSession(w, map[string]any{
			"id": "sess-2", "status": "OTP_REQUIRED",
			"selectedDevice": map[string]any{"id": "dev-1"},
			"_links": map[string]any{
				"otp.check": map[string]string{"href": "https://api.pingone.com/sess-2/otp"},
			},
		})
	})

	client, _, _ := newFlowHarness(t, mux)
	session, err := client.Initialize(context.Background(), InitializeParams{UserID: "user-1", DeviceID: "dev-1"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusOTPRequired, session.Status)
	require.Equal(t, "dev-1", session.SelectedDeviceID)
}

func TestInitializeOneTimeAddressValidation(t *testing.T) {
	t.Parallel()

	client, _, requests := newFlowHarness(t, http.NewServeMux())

	tests := []struct {
		name   string
		params OneTimeParams
		field  string
	}{
		{"sms without phone", OneTimeParams{UserID: "u", Channel: domain.ChannelSMS}, "phone"},
		{"email without address", OneTimeParams{UserID: "u", Channel: domain.ChannelEmail}, "email"},
		{"voice without phone", OneTimeParams{UserID: "u", Channel: domain.ChannelVoice}, "phone"},
		{"totp has no address", OneTimeParams{UserID: "u", Channel: domain.ChannelTOTP}, "channel"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.InitializeOneTime(context.Background(), tc.params)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
		})
	}
	require.Equal(t, int32(0), requests.Load())
}

func TestInitializeOneTimeSMS(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/environments/env-test/deviceAuthentications", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		require.Equal(t, map[string]any{"type": "SMS", "phone": "+61400000000"}, body["oneTimeDevice"])
		writeSession(w, map[string]any{"id": "sess-ot", "status": "OTP_REQUIRED"})
	})

	client, _, _ := newFlowHarness(t, mux)
	session, err := client.InitializeOneTime(context.Background(), OneTimeParams{
		UserID:  "user-1",
		Channel: domain.ChannelSMS,
		Phone:   "+61400000000",
	})
	require.NoError(t, err)
	require.Equal(t, "sess-ot", session.ID)
}

func TestSelectDeviceLocalPreValidation(t *testing.T) {
	t.Parallel()

	client, _, requests := newFlowHarness(t, http.NewServeMux())
	session := &domain.Session{
		ID:     "sess-1",
		Status: domain.StatusDeviceSelectionRequired,
		Devices: []domain.DeviceDescriptor{
			{ID: "dev-1", Type: domain.DeviceSMS},
		},
	}

	_, err := client.SelectDevice(context.Background(), session, "dev-unknown")
	var classified *domain.ClassifiedError
	require.ErrorAs(t, err, &classified)
	require.Equal(t, domain.KindDeviceNotAllowed, classified.Kind)
	require.Equal(t, session.Devices, classified.AllowedDevices)
	require.Equal(t, int32(0), requests.Load())
}

func TestSelectDeviceUsesLink(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sess-1/device", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		require.Equal(t, map[string]any{"id": "dev-1"}, body["device"])
		writeSession(w, map[string]any{"id": "sess-1", "status": "OTP_REQUIRED"})
	})

	client, _, _ := newFlowHarness(t, mux)
	session := &domain.Session{
		ID:      "sess-1",
		Status:  domain.StatusDeviceSelectionRequired,
		Devices: []domain.DeviceDescriptor{{ID: "dev-1", Type: domain.DeviceSMS}},
		Links: domain.ActionLinks{
			domain.ActionDeviceUpdate: "https://api.pingone.com/sess-1/device",
		},
	}

	updated, err := client.SelectDevice(context.Background(), session, "dev-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusOTPRequired, updated.Status)
}

func TestValidateOTPPrefersLink(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sess-1/otp-link", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		require.Equal(t, "123456", body["otp"])
		writeSession(w, map[string]any{"id": "sess-1", "status": "COMPLETED",
			"_links": map[string]any{
				"session.complete": map[string]string{"href": "https://api.pingone.com/sess-1/complete"},
			},
		})
	})

	client, _, _ := newFlowHarness(t, mux)
	session := &domain.Session{
		ID:     "sess-1",
		Status: domain.StatusOTPRequired,
		Links: domain.ActionLinks{
			domain.ActionOTPCheck: "https://api.pingone.com/sess-1/otp-link",
		},
	}

	updated, err := client.ValidateOTP(context.Background(), session, "123456")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, updated.Status)
	require.True(t, updated.Links.Has(domain.ActionComplete))
}

func TestValidateOTPConstructedFallback(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/environments/env-test/deviceAuthentications/sess-1/otp", func(w http.ResponseWriter, r *http.Request) {
		writeSession(w, map[string]any{"id": "sess-1", "status": "COMPLETED"})
	})

	client, _, _ := newFlowHarness(t, mux)
	session := &domain.Session{ID: "sess-1", Status: domain.StatusOTPRequired}

	updated, err := client.ValidateOTP(context.Background(), session, "123456")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, updated.Status)
}

func TestValidateOTPUnavailableWithoutLinkOrState(t *testing.T) {
	t.Parallel()

	client, _, requests := newFlowHarness(t, http.NewServeMux())
	session := &domain.Session{ID: "sess-1", Status: domain.StatusPushConfirmationRequired}

	_, err := client.ValidateOTP(context.Background(), session, "123456")
	var unavailable *domain.ActionUnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.Equal(t, domain.ActionOTPCheck, unavailable.Action)
	require.Equal(t, int32(0), requests.Load())
}

func TestValidateOTPAttemptsRemaining(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sess-1/otp-link", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{
			"code": "INVALID_DATA",
			"details": [{"code": "INVALID_VALUE", "target": "otp",
				"innerError": {"attemptsRemaining": 2}}]
		}`))
	})

	client, _, _ := newFlowHarness(t, mux)
	session := &domain.Session{
		ID:     "sess-1",
		Status: domain.StatusOTPRequired,
		Links:  domain.ActionLinks{domain.ActionOTPCheck: "https://api.pingone.com/sess-1/otp-link"},
	}

	_, err := client.ValidateOTP(context.Background(), session, "000000")
	var classified *domain.ClassifiedError
	require.ErrorAs(t, err, &classified)
	require.Equal(t, domain.KindAttemptsRemaining, classified.Kind)
	require.NotNil(t, classified.AttemptsRemaining)
	require.Equal(t, 2, *classified.AttemptsRemaining)
}

func TestCheckAssertionValidatesShapeFirst(t *testing.T) {
	t.Parallel()

	client, _, requests := newFlowHarness(t, http.NewServeMux())
	session := &domain.Session{
		ID:     "sess-1",
		Status: domain.StatusAssertionRequired,
		Links:  domain.ActionLinks{domain.ActionAssertionCheck: "https://api.pingone.com/sess-1/assertion"},
	}

	_, err := client.CheckAssertion(context.Background(), session, domain.Assertion{ID: "only-id"}, domain.OriginContext{Origin: "https://console.example"})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, int32(0), requests.Load())
}

func TestCheckAssertionRequiresLink(t *testing.T) {
	t.Parallel()

	client, _, requests := newFlowHarness(t, http.NewServeMux())
	session := &domain.Session{ID: "sess-1", Status: domain.StatusAssertionRequired}

	assertion := domain.Assertion{
		ID: "a", RawID: "a", ClientDataJSON: "e30", AuthenticatorData: "x", Signature: "sig",
	}
	_, err := client.CheckAssertion(context.Background(), session, assertion, domain.OriginContext{Origin: "https://console.example"})
	var unavailable *domain.ActionUnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.Equal(t, int32(0), requests.Load())
}

func TestCompleteRequiresLink(t *testing.T) {
	t.Parallel()

	client, _, requests := newFlowHarness(t, http.NewServeMux())
	session := &domain.Session{ID: "sess-1", Status: domain.StatusCompleted}

	_, err := client.Complete(context.Background(), session)
	var unavailable *domain.ActionUnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.Equal(t, domain.ActionComplete, unavailable.Action)
	require.Equal(t, int32(0), requests.Load())
}

func TestCompleteParsesResult(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sess-1/complete", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "COMPLETED", "accessToken": "final-token"}`))
	})

	client, _, _ := newFlowHarness(t, mux)
	session := &domain.Session{
		ID:     "sess-1",
		Status: domain.StatusCompleted,
		Links:  domain.ActionLinks{domain.ActionComplete: "https://api.pingone.com/sess-1/complete"},
	}

	result, err := client.Complete(context.Background(), session)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, result.Status)
	require.Equal(t, "final-token", result.AccessToken)
	require.NotEmpty(t, result.Raw)
}

func TestResendCancelThenReinitialize(t *testing.T) {
	t.Parallel()

	var cancels, inits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sess-1/cancel", func(w http.ResponseWriter, r *http.Request) {
		cancels.Add(1)
		writeSession(w, map[string]any{"id": "sess-1", "status": "CANCELED"})
	})
	mux.HandleFunc("POST /v1/environments/env-test/deviceAuthentications", func(w http.ResponseWriter, r *http.Request) {
		inits.Add(1)
		require.Equal(t, int32(1), cancels.Load(), "cancel must run before reinitialize")
		writeSession(w, map[string]any{"id": "sess-fresh", "status": "OTP_REQUIRED"})
	})

	client, _, _ := newFlowHarness(t, mux)
	session := &domain.Session{
		ID:     "sess-1",
		Status: domain.StatusOTPRequired,
		Links:  domain.ActionLinks{domain.ActionCancel: "https://api.pingone.com/sess-1/cancel"},
	}

	result, err := client.Resend(context.Background(), session, InitializeParams{UserID: "user-1", DeviceID: "dev-1"})
	require.NoError(t, err)
	require.Equal(t, ResendCancelReinitialize, result.Strategy)
	require.Equal(t, "sess-fresh", result.Session.ID)
	require.Equal(t, int32(1), inits.Load())
}

func TestResendFallsBackToReselect(t *testing.T) {
	t.Parallel()

	var selections atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/environments/env-test/deviceAuthentications/sess-1", func(w http.ResponseWriter, r *http.Request) {
		selections.Add(1)
		body := decodeBody(t, r)
		require.Equal(t, map[string]any{"id": "dev-1"}, body["device"])
		writeSession(w, map[string]any{"id": "sess-1", "status": "OTP_REQUIRED",
			"selectedDevice": map[string]any{"id": "dev-1"},
		})
	})

	client, _, _ := newFlowHarness(t, mux)
	session := &domain.Session{
		ID:               "sess-1",
		Status:           domain.StatusOTPRequired,
		SelectedDeviceID: "dev-1",
	}

	result, err := client.Resend(context.Background(), session, InitializeParams{UserID: "user-1"})
	require.NoError(t, err)
	require.Equal(t, ResendReselect, result.Strategy)
	require.Equal(t, int32(1), selections.Load())
}

func TestResendFailureCarriesStrategy(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sess-1/cancel", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"SESSION_EXPIRED"}`))
	})

	client, _, _ := newFlowHarness(t, mux)
	session := &domain.Session{
		ID:     "sess-1",
		Status: domain.StatusOTPRequired,
		Links:  domain.ActionLinks{domain.ActionCancel: "https://api.pingone.com/sess-1/cancel"},
	}

	_, err := client.Resend(context.Background(), session, InitializeParams{UserID: "user-1"})
	var resendErr *ResendError
	require.ErrorAs(t, err, &resendErr)
	require.Equal(t, ResendCancelReinitialize, resendErr.Strategy)
}

func TestSessionLinkRoundTrip(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"id": "sess-1",
		"status": "OTP_REQUIRED",
		"_links": {
			"self":           {"href": "https://api.pingone.com/sess-1"},
			"otp.check":      {"href": "https://api.pingone.com/sess-1/otp"},
			"session.cancel": {"href": "https://api.pingone.com/sess-1/cancel"}
		}
	}`)

	session, err := parseSession(body)
	require.NoError(t, err)

	// Every link key the server sent is present, none invented.
	require.ElementsMatch(t,
		[]domain.Action{"self", domain.ActionOTPCheck, domain.ActionCancel},
		session.Links.Actions(),
	)

	reencoded, err := json.Marshal(session)
	require.NoError(t, err)
	var decoded domain.Session
	require.NoError(t, json.Unmarshal(reencoded, &decoded))
	require.ElementsMatch(t, session.Links.Actions(), decoded.Links.Actions())
}

func TestClassifiedErrorOnProtocolFailure(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/environments/env-test/deviceAuthentications", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{
			"code": "NO_USABLE_DEVICES",
			"message": "no devices satisfy policy",
			"unavailableDevices": [
				{"id": "dev-1", "type": "SMS", "reason": "BLOCKED"}
			]
		}`))
	})

	client, _, _ := newFlowHarness(t, mux)
	_, err := client.Initialize(context.Background(), InitializeParams{UserID: "user-1"})
	var classified *domain.ClassifiedError
	require.ErrorAs(t, err, &classified)
	require.Equal(t, domain.KindNoUsableDevices, classified.Kind)
	require.Len(t, classified.UnavailableDevices, 1)
}
