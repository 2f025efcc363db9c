package provider

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
)

// Endpoints builds identity-platform URLs for one environment. The
// auth host serves the token endpoint and honours a custom domain; the
// api host serves management and device-authentication resources.
type Endpoints struct {
	EnvironmentID string
	Region        string
	CustomDomain  string
}

// EndpointsFor derives the endpoint set recorded on a credential.
func EndpointsFor(cred domain.WorkerCredential) Endpoints {
	return Endpoints{
		EnvironmentID: cred.EnvironmentID,
		Region:        cred.Region,
		CustomDomain:  cred.CustomDomain,
	}
}

var regionTLDs = map[string]string{
	"na": "com",
	"eu": "eu",
	"ca": "ca",
	"ap": "asia",
}

func (e Endpoints) tld() string {
	if tld, ok := regionTLDs[strings.ToLower(e.Region)]; ok {
		return tld
	}
	return "com"
}

func (e Endpoints) authHost() string {
	if e.CustomDomain != "" {
		return e.CustomDomain
	}
	return "auth.pingone." + e.tld()
}

func (e Endpoints) apiHost() string {
	return "api.pingone." + e.tld()
}

// TokenURL is the OAuth2 token endpoint for the environment.
func (e Endpoints) TokenURL() string {
	return fmt.Sprintf("https://%s/%s/as/token", e.authHost(), e.EnvironmentID)
}

// DeviceAuthenticationsURL creates sessions.
func (e Endpoints) DeviceAuthenticationsURL() string {
	return fmt.Sprintf("https://%s/v1/environments/%s/deviceAuthentications", e.apiHost(), e.EnvironmentID)
}

// DeviceAuthenticationURL addresses one session by id.
func (e Endpoints) DeviceAuthenticationURL(sessionID string) string {
	return e.DeviceAuthenticationsURL() + "/" + url.PathEscape(sessionID)
}

// UsersURL lists users matching a SCIM-style filter expression.
func (e Endpoints) UsersURL(filter string) string {
	return fmt.Sprintf(
		"https://%s/v1/environments/%s/users?filter=%s",
		e.apiHost(), e.EnvironmentID, url.QueryEscape(filter),
	)
}
