package http

import (
	"errors"
	"net/http"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
	"github.com/curtismu7/mfa-console/internal/mfa/provider"
	"github.com/curtismu7/mfa-console/internal/mfa/service"
	"github.com/curtismu7/mfa-console/internal/mfa/store"
	"github.com/curtismu7/mfa-console/pkg/httpx"
	"github.com/curtismu7/mfa-console/pkg/slogx"
)

// classifiedBody is the JSON shape a ClassifiedError is served as. The
// structured fields let the UI drive recovery without another call.
type classifiedBody struct {
	Error string `json:"error"`
	*domain.ClassifiedError
}

// localBody reports a failure raised before anything touched the
// network. never_sent distinguishes it from a provider rejection.
type localBody struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Action    string `json:"action,omitempty"`
	NeverSent bool   `json:"never_sent"`
}

// writeError maps a typed failure onto an HTTP response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := slogx.FromContext(r.Context())

	// A ResendError wraps its cause, so it must be matched before the
	// cause's own type; otherwise a provider-classified failure inside a
	// resend loses the strategy the caller needs for recovery.
	var resendErr *service.ResendError
	if errors.As(err, &resendErr) {
		log.Warn("resend failed", "strategy", resendErr.Strategy, "err", resendErr.Cause)
		httpx.WriteJSON(w, http.StatusBadGateway, map[string]any{
			"error":    "resend_failed",
			"strategy": resendErr.Strategy,
			"message":  resendErr.Cause.Error(),
		})
		return
	}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		httpx.WriteJSON(w, http.StatusBadRequest, localBody{
			Error:     "validation_failed",
			Field:     verr.Field,
			Reason:    verr.Reason,
			NeverSent: true,
		})
		return
	}

	var unavailable *domain.ActionUnavailableError
	if errors.As(err, &unavailable) {
		httpx.WriteJSON(w, http.StatusConflict, localBody{
			Error:     "action_unavailable",
			Action:    string(unavailable.Action),
			NeverSent: true,
		})
		return
	}

	var classified *domain.ClassifiedError
	if errors.As(err, &classified) {
		status := classified.HTTPStatus
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		httpx.WriteJSON(w, status, classifiedBody{
			Error:           "provider_error",
			ClassifiedError: classified,
		})
		return
	}

	switch {
	case errors.Is(err, service.ErrCredentialsMissing):
		httpx.WriteJSON(w, http.StatusConflict, map[string]string{
			"error":             "credentials_missing",
			"error_description": "No worker credential is configured for this environment.",
		})

	case errors.Is(err, provider.ErrUserNotFound):
		httpx.WriteJSON(w, http.StatusNotFound, map[string]string{
			"error":             "user_not_found",
			"error_description": err.Error(),
		})

	case errors.Is(err, store.ErrNotFound):
		httpx.WriteJSON(w, http.StatusNotFound, map[string]string{
			"error": "not_found",
		})

	default:
		var renewal *service.RenewalError
		if errors.As(err, &renewal) {
			log.Error("token renewal failed", "err", renewal.Cause)
			httpx.WriteJSON(w, http.StatusBadGateway, map[string]string{
				"error":             "token_renewal_failed",
				"error_description": "Could not obtain a worker access token from the provider.",
			})
			return
		}

		log.Error("request failed", "err", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal_error",
		})
	}
}
