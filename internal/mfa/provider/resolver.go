package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/curtismu7/mfa-console/internal/mfa/classify"
	"github.com/curtismu7/mfa-console/internal/mfa/domain"
)

// ErrUserNotFound reports that a username lookup matched no user.
var ErrUserNotFound = errors.New("provider: user not found")

// TokenSource supplies a usable access token for outbound calls.
type TokenSource interface {
	GetValidToken(ctx context.Context) (domain.AccessToken, error)
}

// UserResolver looks up users by username for flow initialization and
// lock pre-checks.
type UserResolver struct {
	transport *Transport
	tokens    TokenSource
}

func NewUserResolver(transport *Transport, tokens TokenSource) *UserResolver {
	return &UserResolver{transport: transport, tokens: tokens}
}

type userEnvelope struct {
	Embedded struct {
		Users []userRecord `json:"users"`
	} `json:"_embedded"`
}

type userRecord struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Enabled  *bool  `json:"enabled"`
	Account  *struct {
		CanAuthenticate *bool  `json:"canAuthenticate"`
		Status          string `json:"status"`
	} `json:"account"`
}

// LookupByUsername resolves a username inside an environment to the
// user's id, lock state, and account status.
func (r *UserResolver) LookupByUsername(
	ctx context.Context,
	endpoints Endpoints,
	username string,
) (domain.User, error) {
	filter := fmt.Sprintf("username eq %q", username)
	return r.lookupAt(ctx, endpoints.UsersURL(filter), username)
}

func (r *UserResolver) lookupAt(ctx context.Context, lookupURL, username string) (domain.User, error) {
	token, err := r.tokens.GetValidToken(ctx)
	if err != nil {
		return domain.User{}, err
	}

	reply, err := r.transport.DoJSON(ctx, http.MethodGet, lookupURL, map[string]string{
		"Authorization": "Bearer " + token.Value,
	}, nil)
	if err != nil {
		return domain.User{}, err
	}
	if !reply.OK() {
		return domain.User{}, classify.Classify(reply.Status, reply.Body)
	}

	var envelope userEnvelope
	if err := reply.Decode(&envelope); err != nil {
		return domain.User{}, err
	}

	for _, rec := range envelope.Embedded.Users {
		if !strings.EqualFold(rec.Username, username) {
			continue
		}
		return domain.User{
			ID:       rec.ID,
			Username: rec.Username,
			Locked:   rec.locked(),
			Status:   rec.status(),
		}, nil
	}

	return domain.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, username)
}

func (rec userRecord) locked() bool {
	if rec.Account != nil {
		if strings.EqualFold(rec.Account.Status, "LOCKED") {
			return true
		}
		if rec.Account.CanAuthenticate != nil && !*rec.Account.CanAuthenticate {
			return true
		}
	}
	return rec.Enabled != nil && !*rec.Enabled
}

func (rec userRecord) status() string {
	if rec.Account != nil && rec.Account.Status != "" {
		return rec.Account.Status
	}
	if rec.Enabled != nil && !*rec.Enabled {
		return "DISABLED"
	}
	return "OK"
}
