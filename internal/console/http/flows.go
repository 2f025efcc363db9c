package http

import (
	"encoding/json"
	"net/http"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
	"github.com/curtismu7/mfa-console/internal/mfa/service"
	"github.com/curtismu7/mfa-console/internal/mfa/store"
	"github.com/curtismu7/mfa-console/pkg/httpx"
	"github.com/curtismu7/mfa-console/pkg/slogx"
)

// FlowsHandler drives device authentication flows on behalf of the UI.
type FlowsHandler struct {
	Hub   *service.Hub
	Flows *flowRegistry
}

type initializeRequest struct {
	EnvironmentID string `json:"environmentId,omitempty"`
	service.InitializeParams
}

type oneTimeRequest struct {
	EnvironmentID string `json:"environmentId,omitempty"`
	service.OneTimeParams
}

// flowView is a session plus the flat action list the UI renders as
// buttons. The link map itself stays authoritative.
type flowView struct {
	Session *domain.Session `json:"session"`
	Actions []domain.Action `json:"actions"`
}

func viewOfSession(session *domain.Session) flowView {
	return flowView{Session: session, Actions: session.Links.Actions()}
}

func (h *FlowsHandler) environment(r *http.Request, bodyEnv string) (string, error) {
	if bodyEnv != "" {
		return bodyEnv, nil
	}
	if q := r.URL.Query().Get("environmentId"); q != "" {
		return q, nil
	}
	return h.Hub.DefaultEnvironment(r.Context())
}

// HandleInitialize handles POST /v1/flows.
func (h *FlowsHandler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	environmentID, err := h.environment(r, req.EnvironmentID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.Hub.Flows(environmentID).Initialize(ctx, req.InitializeParams)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Flows.put(&flowEntry{
		EnvironmentID: environmentID,
		Session:       session,
		Init:          req.InitializeParams,
	})

	log.Info("flow initialized",
		"session_id", session.ID,
		"status", session.Status,
	)
	httpx.WriteJSON(w, http.StatusCreated, viewOfSession(session))
}

// HandleInitializeOneTime handles POST /v1/flows/one-time.
func (h *FlowsHandler) HandleInitializeOneTime(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req oneTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	environmentID, err := h.environment(r, req.EnvironmentID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.Hub.Flows(environmentID).InitializeOneTime(ctx, req.OneTimeParams)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Flows.put(&flowEntry{
		EnvironmentID: environmentID,
		Session:       session,
		Init: service.InitializeParams{
			UserID:   req.UserID,
			Username: req.Username,
		},
	})

	httpx.WriteJSON(w, http.StatusCreated, viewOfSession(session))
}

// entry fetches the tracked flow for a path id.
func (h *FlowsHandler) entry(w http.ResponseWriter, r *http.Request) (*flowEntry, bool) {
	entry, ok := h.Flows.get(r.PathValue("id"))
	if !ok {
		writeError(w, r, store.ErrNotFound)
		return nil, false
	}
	return entry, true
}

// HandleReadStatus handles GET /v1/flows/{id}: a fresh read from the
// provider, not the local snapshot.
func (h *FlowsHandler) HandleReadStatus(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.entry(w, r)
	if !ok {
		return
	}

	session, err := h.Hub.Flows(entry.EnvironmentID).ReadStatus(r.Context(), entry.Session.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Flows.update(entry, session)
	httpx.WriteJSON(w, http.StatusOK, viewOfSession(session))
}

// HandleSelectDevice handles POST /v1/flows/{id}/device.
func (h *FlowsHandler) HandleSelectDevice(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.entry(w, r)
	if !ok {
		return
	}

	var req struct {
		DeviceID string `json:"deviceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	session, err := h.Hub.Flows(entry.EnvironmentID).SelectDevice(r.Context(), entry.Session, req.DeviceID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Flows.update(entry, session)
	httpx.WriteJSON(w, http.StatusOK, viewOfSession(session))
}

// HandleValidateOTP handles POST /v1/flows/{id}/otp.
func (h *FlowsHandler) HandleValidateOTP(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.entry(w, r)
	if !ok {
		return
	}

	var req struct {
		OTP string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	session, err := h.Hub.Flows(entry.EnvironmentID).ValidateOTP(r.Context(), entry.Session, req.OTP)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Flows.update(entry, session)
	httpx.WriteJSON(w, http.StatusOK, viewOfSession(session))
}

// HandleCheckAssertion handles POST /v1/flows/{id}/assertion.
func (h *FlowsHandler) HandleCheckAssertion(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.entry(w, r)
	if !ok {
		return
	}

	var req struct {
		Assertion domain.Assertion `json:"assertion"`
		Origin    string           `json:"origin"`
		RPID      string           `json:"rpId,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	session, err := h.Hub.Flows(entry.EnvironmentID).CheckAssertion(
		r.Context(), entry.Session, req.Assertion,
		domain.OriginContext{Origin: req.Origin, RPID: req.RPID},
	)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Flows.update(entry, session)
	httpx.WriteJSON(w, http.StatusOK, viewOfSession(session))
}

// HandleResend handles POST /v1/flows/{id}/resend.
func (h *FlowsHandler) HandleResend(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.entry(w, r)
	if !ok {
		return
	}

	result, err := h.Hub.Flows(entry.EnvironmentID).Resend(r.Context(), entry.Session, entry.Init)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Flows.update(entry, result.Session)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"strategy": result.Strategy,
		"session":  result.Session,
		"actions":  result.Session.Links.Actions(),
	})
}

// HandleComplete handles POST /v1/flows/{id}/complete.
func (h *FlowsHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.entry(w, r)
	if !ok {
		return
	}

	result, err := h.Hub.Flows(entry.EnvironmentID).Complete(r.Context(), entry.Session)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, result)
}

// HandleCancel handles POST /v1/flows/{id}/cancel.
func (h *FlowsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.entry(w, r)
	if !ok {
		return
	}

	session, err := h.Hub.Flows(entry.EnvironmentID).Cancel(r.Context(), entry.Session)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Flows.update(entry, session)
	httpx.WriteJSON(w, http.StatusOK, viewOfSession(session))
}

// HandlePoll handles GET /v1/flows/{id}/poll: one poll step, not a
// loop. The browser drives repetition and stops by closing the flow.
func (h *FlowsHandler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.entry(w, r)
	if !ok {
		return
	}

	session, err := h.Hub.Flows(entry.EnvironmentID).PollChallenge(r.Context(), entry.Session)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Flows.update(entry, session)
	httpx.WriteJSON(w, http.StatusOK, viewOfSession(session))
}
