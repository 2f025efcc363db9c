package http

import (
	"net/http"
	"strconv"

	"github.com/curtismu7/mfa-console/internal/mfa/tracker"
	"github.com/curtismu7/mfa-console/pkg/httpx"
)

// CallsHandler serves the recorded provider API calls.
type CallsHandler struct {
	Track tracker.Tracker
}

// HandleList handles GET /v1/calls, newest first. limit caps the count.
func (h *CallsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_request",
				"error_description": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	calls := h.Track.Recent(limit)
	if calls == nil {
		calls = []tracker.Call{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"calls": calls})
}
