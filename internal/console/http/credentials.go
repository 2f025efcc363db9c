package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
	"github.com/curtismu7/mfa-console/internal/mfa/service"
	"github.com/curtismu7/mfa-console/internal/mfa/store"
	"github.com/curtismu7/mfa-console/pkg/httpx"
	"github.com/curtismu7/mfa-console/pkg/slogx"
)

// CredentialsHandler manages worker credentials and the cached token view.
type CredentialsHandler struct {
	Store store.Store
	Hub   *service.Hub
}

type credentialRequest struct {
	EnvironmentID string   `json:"environmentId"`
	ClientID      string   `json:"clientId"`
	Secret        string   `json:"secret"`
	KeyID         string   `json:"keyId,omitempty"`
	AuthMethod    string   `json:"authMethod"`
	Scopes        []string `json:"scopes,omitempty"`
	Region        string   `json:"region,omitempty"`
	CustomDomain  string   `json:"customDomain,omitempty"`
}

// credentialView is the redacted representation served back to the UI.
type credentialView struct {
	EnvironmentID string            `json:"environmentId"`
	ClientID      string            `json:"clientId"`
	AuthMethod    domain.AuthMethod `json:"authMethod"`
	Scopes        []string          `json:"scopes,omitempty"`
	Region        string            `json:"region,omitempty"`
	CustomDomain  string            `json:"customDomain,omitempty"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

func viewOf(cred domain.WorkerCredential) credentialView {
	return credentialView{
		EnvironmentID: cred.EnvironmentID,
		ClientID:      cred.ClientID,
		AuthMethod:    cred.AuthMethod,
		Scopes:        cred.Scopes,
		Region:        cred.Region,
		CustomDomain:  cred.CustomDomain,
		UpdatedAt:     cred.UpdatedAt,
	}
}

// HandlePut handles PUT /v1/credentials. The record is replaced
// wholesale; any token cached under the previous credential is dropped.
func (h *CredentialsHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	method, err := domain.ParseAuthMethod(req.AuthMethod)
	if err != nil {
		writeError(w, r, &domain.ValidationError{Field: "authMethod", Reason: err.Error()})
		return
	}

	cred := domain.WorkerCredential{
		EnvironmentID: req.EnvironmentID,
		ClientID:      req.ClientID,
		Secret:        req.Secret,
		KeyID:         req.KeyID,
		AuthMethod:    method,
		Scopes:        req.Scopes,
		Region:        req.Region,
		CustomDomain:  req.CustomDomain,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := cred.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Store.Credentials().SaveCredential(ctx, cred); err != nil {
		writeError(w, r, err)
		return
	}

	// The in-memory manager may hold a token minted by the old secret.
	h.Hub.Reset(cred.EnvironmentID)

	log.Info("worker credential replaced",
		"environment_id", cred.EnvironmentID,
		"auth_method", cred.AuthMethod,
	)
	httpx.WriteJSON(w, http.StatusOK, viewOf(cred))
}

// HandleList handles GET /v1/credentials. Secrets never leave the store.
func (h *CredentialsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	creds, err := h.Store.Credentials().ListCredentials(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	views := make([]credentialView, 0, len(creds))
	for _, cred := range creds {
		views = append(views, viewOf(cred))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"credentials": views})
}

// HandleDelete handles DELETE /v1/credentials/{environmentId}.
func (h *CredentialsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	environmentID := r.PathValue("environmentId")

	if err := h.Store.Credentials().DeleteCredential(r.Context(), environmentID); err != nil {
		writeError(w, r, err)
		return
	}
	h.Hub.Reset(environmentID)

	w.WriteHeader(http.StatusNoContent)
}

// HandleTokenStatus handles GET /v1/token/status. Reads the cache only;
// it never triggers a renewal.
func (h *CredentialsHandler) HandleTokenStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	environmentID := r.URL.Query().Get("environmentId")
	if environmentID == "" {
		var err error
		environmentID, err = h.Hub.DefaultEnvironment(ctx)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	status := h.Hub.Tokens(environmentID).Status(ctx)
	httpx.WriteJSON(w, http.StatusOK, status)
}
