package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/curtismu7/mfa-console/internal/mfa/provider"
	"github.com/curtismu7/mfa-console/internal/mfa/store"
)

// HubConfig carries the settings every per-environment manager inherits.
type HubConfig struct {
	RenewalThreshold time.Duration
	AutoRenew        bool
}

// Hub hands out the token manager and flow client for an environment,
// building them lazily and reusing them across requests. Replacing a
// credential resets that environment so the next call picks up the new
// secret.
type Hub struct {
	cfg       HubConfig
	store     store.Store
	transport *provider.Transport
	logger    *slog.Logger

	mu       sync.Mutex
	managers map[string]*TokenManager
	flows    map[string]*FlowClient
}

func NewHub(cfg HubConfig, st store.Store, transport *provider.Transport, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:       cfg,
		store:     st,
		transport: transport,
		logger:    logger,
		managers:  make(map[string]*TokenManager),
		flows:     make(map[string]*FlowClient),
	}
}

// Tokens returns the token manager for an environment.
func (h *Hub) Tokens(environmentID string) *TokenManager {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokensLocked(environmentID)
}

func (h *Hub) tokensLocked(environmentID string) *TokenManager {
	if m, ok := h.managers[environmentID]; ok {
		return m
	}
	m := NewTokenManager(TokenManagerConfig{
		EnvironmentID:    environmentID,
		RenewalThreshold: h.cfg.RenewalThreshold,
		AutoRenew:        h.cfg.AutoRenew,
	}, h.store, h.transport, h.logger)
	h.managers[environmentID] = m
	return m
}

// Flows returns the flow client for an environment.
func (h *Hub) Flows(environmentID string) *FlowClient {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.flows[environmentID]; ok {
		return c
	}

	tokens := h.tokensLocked(environmentID)
	resolver := provider.NewUserResolver(h.transport, tokens)
	c := NewFlowClient(environmentID, h.store.Credentials(), tokens, h.transport, resolver, h.logger)
	h.flows[environmentID] = c
	return c
}

// Reset drops the environment's cached manager and client. Called after
// a credential replacement so stale in-memory tokens never outlive the
// credential that minted them.
func (h *Hub) Reset(environmentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.managers, environmentID)
	delete(h.flows, environmentID)
}

// DefaultEnvironment resolves the environment to act on when a request
// names none: the single stored credential. Ambiguous or empty stores
// surface ErrCredentialsMissing.
func (h *Hub) DefaultEnvironment(ctx context.Context) (string, error) {
	creds, err := h.store.Credentials().ListCredentials(ctx)
	if err != nil {
		return "", err
	}
	if len(creds) == 0 {
		return "", ErrCredentialsMissing
	}
	// Most recently updated credential wins when several are stored.
	return creds[0].EnvironmentID, nil
}
