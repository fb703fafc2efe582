package config

import (
	"strconv"
	"strings"
	"time"
)

const (
	DefaultScopes          = "openid fhirUser launch launch/patient patient/*.read user/DocumentReference.write offline_access"
	DefaultRedirectPath    = "/smart/callback"
	DefaultRefreshBuffer   = 300 * time.Second
	DefaultHTTPTimeout     = 15 * time.Second
	DefaultPostConnectPath = "/"
)

// SmartConfig holds the SMART on FHIR client registration and flow settings.
type SmartConfig interface {
	GetClientID() string
	GetClientSecret() string
	GetScopes() []string
	GetIssuer() string
	GetRedirectPath() string
	GetPublicBaseURL() string
	GetPostConnectPath() string
	GetOAuth2PathHosts() []string
	GetRefreshBuffer() time.Duration
	GetHTTPTimeout() time.Duration
	TrustForwardedHeaders() bool
}

type Smart struct{}

var _ SmartConfig = Smart{}

func (Smart) GetClientID() string {
	return GetEnv("SMART_CLIENT_ID", "")
}

func (Smart) GetClientSecret() string {
	return GetEnv("SMART_CLIENT_SECRET", "")
}

func (Smart) GetScopes() []string {
	return strings.Fields(GetEnv("SMART_SCOPES", DefaultScopes))
}

// GetIssuer is the optional authorization server override. When set the
// authorize and token endpoints are derived from it verbatim.
func (Smart) GetIssuer() string {
	return strings.TrimRight(GetEnv("SMART_ISSUER", ""), "/")
}

func (Smart) GetRedirectPath() string {
	return GetEnv("SMART_REDIRECT_PATH", DefaultRedirectPath)
}

func (Smart) GetPublicBaseURL() string {
	return strings.TrimRight(GetEnv("SMART_PUBLIC_BASE_URL", ""), "/")
}

func (Smart) GetPostConnectPath() string {
	return GetEnv("SMART_POST_CONNECT_PATH", DefaultPostConnectPath)
}

// GetOAuth2PathHosts lists extra FHIR hosts whose OAuth endpoints live under
// /oauth2 next to the FHIR API path.
func (Smart) GetOAuth2PathHosts() []string {
	var hosts []string
	for _, h := range strings.Split(GetEnv("SMART_OAUTH2_PATH_HOSTS", ""), ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, strings.ToLower(h))
		}
	}
	return hosts
}

func (Smart) GetRefreshBuffer() time.Duration {
	return GetEnvDuration("SMART_REFRESH_BUFFER", DefaultRefreshBuffer)
}

func (Smart) GetHTTPTimeout() time.Duration {
	return GetEnvDuration("SMART_HTTP_TIMEOUT", DefaultHTTPTimeout)
}

// TrustForwardedHeaders reports whether X-Forwarded-Host and X-Forwarded-Proto
// come from a trusted reverse proxy. Off by default.
func (Smart) TrustForwardedHeaders() bool {
	trust, err := strconv.ParseBool(GetEnv("SMART_TRUST_FORWARDED_HEADERS", "false"))
	return err == nil && trust
}
