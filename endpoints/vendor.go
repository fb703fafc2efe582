package endpoints

import (
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// HostPattern matches a host exactly or, with a leading "*.", any subdomain.
type HostPattern string

func (p HostPattern) Match(host string) bool {
	host = strings.ToLower(host)
	pattern := strings.ToLower(string(p))
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(host, "."+suffix)
	}
	return host == pattern
}

// OAuth2PathStrategy handles servers whose OAuth endpoints live next to the
// FHIR API rather than under it, e.g.
// https://host/prefix/api/FHIR/R4 -> https://host/prefix/oauth2/authorize.
type OAuth2PathStrategy struct {
	name  string
	hosts []HostPattern
}

func NewOAuth2PathStrategy(name string, hosts ...string) *OAuth2PathStrategy {
	s := &OAuth2PathStrategy{name: StrategyOAuth2 + ":" + name}
	for _, h := range hosts {
		s.hosts = append(s.hosts, HostPattern(h))
	}
	return s
}

// Epic covers Epic's public sandbox and customer-hosted interconnect instances.
func Epic() *OAuth2PathStrategy {
	return NewOAuth2PathStrategy("epic", "fhir.epic.com", "*.epic.com")
}

func (s *OAuth2PathStrategy) Name() string { return s.name }

func (s *OAuth2PathStrategy) Matches(base *url.URL) bool {
	host := base.Hostname()
	for _, p := range s.hosts {
		if p.Match(host) {
			return true
		}
	}
	return false
}

func (s *OAuth2PathStrategy) Endpoint(base *url.URL) oauth2.Endpoint {
	root := base.Scheme + "://" + base.Host + apiPrefix(base.EscapedPath())
	return oauth2.Endpoint{
		AuthURL:  root + "/oauth2/authorize",
		TokenURL: root + "/oauth2/token",
	}
}

// apiPrefix returns the part of path before the FHIR API segment
// ("/api/FHIR" or, failing that, "/FHIR").
func apiPrefix(path string) string {
	lower := strings.ToLower(path)
	for _, marker := range []string{"/api/fhir", "/fhir"} {
		if idx := strings.Index(lower, marker); idx >= 0 {
			rest := lower[idx+len(marker):]
			if rest == "" || rest[0] == '/' {
				return strings.TrimRight(path[:idx], "/")
			}
		}
	}
	return ""
}
