// Package smart implements the SMART on FHIR client flows: building the
// authorization request, exchanging the callback code and reporting whether
// a browser session is connected.
package smart

import (
	"net/http"
	"strings"
)

const (
	ScopeOpenID = "openid"
	ScopeLaunch = "launch"
)

// Config is the SMART client registration.
type Config struct {
	ClientID      string
	ClientSecret  string
	Scopes        []string
	Issuer        string
	RedirectPath  string
	PublicBaseURL string
}

// RequestOrigin returns scheme://host of the request as the browser sees it.
// Forwarded headers are only read when trustForwarded is set, since any
// client can send them.
func RequestOrigin(r *http.Request, trustForwarded bool) string {
	host := r.Host
	if forwarded := r.Header.Get("X-Forwarded-Host"); trustForwarded && forwarded != "" {
		host = forwarded
	}
	return getScheme(r, trustForwarded) + "://" + strings.TrimSpace(strings.Split(host, ",")[0])
}

func getScheme(r *http.Request, trustForwarded bool) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); trustForwarded && scheme != "" {
		return strings.ToLower(strings.TrimSpace(strings.Split(scheme, ",")[0]))
	}
	return "http"
}
