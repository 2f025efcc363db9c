// Package http exposes the console's core operations to the browser UI
// as a JSON API.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/curtismu7/mfa-console/internal/mfa/service"
	"github.com/curtismu7/mfa-console/internal/mfa/store"
	"github.com/curtismu7/mfa-console/internal/mfa/tracker"
	"github.com/curtismu7/mfa-console/pkg/httpx"
	"github.com/curtismu7/mfa-console/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store store.Store
	hub   *service.Hub
	track tracker.Tracker
	flows *flowRegistry
}

func NewRouter(
	hub *service.Hub,
	st store.Store,
	track tracker.Tracker,
	buildVersion string,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		store:        st,
		hub:          hub,
		track:        track,
		flows:        newFlowRegistry(),
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerCredentials()
	r.registerFlows()
	r.registerOTP()
	r.registerSystem()
}

// ServeHTTP implements http.Handler and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerCredentials() {
	h := &CredentialsHandler{Store: r.store, Hub: r.hub}

	r.Mux.Handle("PUT /v1/credentials",
		httpx.Chain(http.HandlerFunc(h.HandlePut),
			httpx.RateLimitByIP(httpx.LocalLimit),
		),
	)
	r.Mux.Handle("GET /v1/credentials",
		httpx.Chain(http.HandlerFunc(h.HandleList),
			httpx.RateLimitByIP(httpx.LocalLimit),
		),
	)
	r.Mux.Handle("DELETE /v1/credentials/{environmentId}",
		httpx.Chain(http.HandlerFunc(h.HandleDelete),
			httpx.RateLimitByIP(httpx.LocalLimit),
		),
	)

	// Token status is served from the cache, never triggering a renewal.
	r.Mux.Handle("GET /v1/token/status",
		httpx.Chain(http.HandlerFunc(h.HandleTokenStatus),
			httpx.RateLimitByIP(httpx.LocalLimit),
		),
	)
}

func (r *Router) registerFlows() {
	h := &FlowsHandler{Hub: r.hub, Flows: r.flows}

	// Everything below proxies the identity provider; keep the tighter
	// limit so a looping UI cannot burn the provider quota.
	flow := func(handler http.HandlerFunc) http.Handler {
		return httpx.Chain(handler, httpx.RateLimitByIP(httpx.FlowLimit))
	}

	r.Mux.Handle("POST /v1/flows", flow(h.HandleInitialize))
	r.Mux.Handle("POST /v1/flows/one-time", flow(h.HandleInitializeOneTime))
	r.Mux.Handle("GET /v1/flows/{id}", flow(h.HandleReadStatus))
	r.Mux.Handle("POST /v1/flows/{id}/device", flow(h.HandleSelectDevice))
	r.Mux.Handle("POST /v1/flows/{id}/otp", flow(h.HandleValidateOTP))
	r.Mux.Handle("POST /v1/flows/{id}/assertion", flow(h.HandleCheckAssertion))
	r.Mux.Handle("POST /v1/flows/{id}/resend", flow(h.HandleResend))
	r.Mux.Handle("POST /v1/flows/{id}/complete", flow(h.HandleComplete))
	r.Mux.Handle("POST /v1/flows/{id}/cancel", flow(h.HandleCancel))
	r.Mux.Handle("GET /v1/flows/{id}/poll", flow(h.HandlePoll))
}

func (r *Router) registerOTP() {
	h := &OTPHandler{}
	r.Mux.Handle("POST /v1/otp/totp",
		httpx.Chain(http.HandlerFunc(h.HandleTOTP),
			httpx.RateLimitByIP(httpx.LocalLimit),
		),
	)
}

func (r *Router) registerSystem() {
	callsHandler := &CallsHandler{Track: r.track}
	r.Mux.Handle("GET /v1/calls",
		httpx.Chain(http.HandlerFunc(callsHandler.HandleList),
			httpx.RateLimitByIP(httpx.LocalLimit),
		),
	)

	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LocalLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store),
			httpx.RateLimitByIP(httpx.LocalLimit),
		),
	)
}
