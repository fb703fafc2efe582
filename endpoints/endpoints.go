// Package endpoints derives the OAuth2 authorize and token endpoints of a
// FHIR server's authorization server from its FHIR base URL.
//
// Resolution order: configured issuer, then the first registered vendor
// strategy matching the host, then the generic SMART layout.
package endpoints

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/jrsteele09/go-ehr-connect/internal/errors"
	"golang.org/x/oauth2"
)

const (
	StrategyIssuer  = "issuer"
	StrategyDefault = "smart-default"
	StrategyOAuth2  = "oauth2-path"
)

// Strategy maps a FHIR base URL to its OAuth2 endpoints.
type Strategy interface {
	Name() string
	Matches(base *url.URL) bool
	Endpoint(base *url.URL) oauth2.Endpoint
}

// Resolution is the outcome of resolving one FHIR base.
type Resolution struct {
	Strategy string          `json:"strategy"`
	Endpoint oauth2.Endpoint `json:"-"`
}

func (r Resolution) AuthURL() string  { return r.Endpoint.AuthURL }
func (r Resolution) TokenURL() string { return r.Endpoint.TokenURL }

type Resolver struct {
	issuer string

	mu         sync.RWMutex
	strategies []Strategy
	fallback   Strategy
}

// NewResolver builds a resolver. An empty issuer disables the override tier.
func NewResolver(issuer string, strategies ...Strategy) *Resolver {
	return &Resolver{
		issuer:     strings.TrimRight(issuer, "/"),
		strategies: strategies,
		fallback:   DefaultStrategy{},
	}
}

// NewDefaultResolver registers the known vendor layouts plus any extra hosts
// whose OAuth endpoints sit under /oauth2 beside the FHIR API path.
func NewDefaultResolver(issuer string, extraOAuth2Hosts ...string) *Resolver {
	r := NewResolver(issuer, Epic())
	if len(extraOAuth2Hosts) > 0 {
		r.Register(NewOAuth2PathStrategy("configured", extraOAuth2Hosts...))
	}
	return r
}

// Register adds a vendor strategy. Strategies are consulted in registration order.
func (r *Resolver) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = append(r.strategies, s)
}

func (r *Resolver) Resolve(fhirBase string) (Resolution, error) {
	base, err := ParseBase(fhirBase)
	if err != nil {
		return Resolution{}, err
	}

	if r.issuer != "" {
		return Resolution{
			Strategy: StrategyIssuer,
			Endpoint: oauth2.Endpoint{
				AuthURL:  r.issuer + "/authorize",
				TokenURL: r.issuer + "/token",
			},
		}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.strategies {
		if s.Matches(base) {
			return Resolution{Strategy: s.Name(), Endpoint: s.Endpoint(base)}, nil
		}
	}
	return Resolution{Strategy: r.fallback.Name(), Endpoint: r.fallback.Endpoint(base)}, nil
}

// ParseBase validates an absolute http(s) FHIR base URL.
func ParseBase(fhirBase string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(fhirBase))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidFHIRBase, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q must be an absolute http(s) URL", errors.ErrInvalidFHIRBase, fhirBase)
	}
	return u, nil
}

// DefaultStrategy follows the generic SMART layout: <base>/auth/authorize.
type DefaultStrategy struct{}

func (DefaultStrategy) Name() string { return StrategyDefault }

func (DefaultStrategy) Matches(*url.URL) bool { return true }

func (DefaultStrategy) Endpoint(base *url.URL) oauth2.Endpoint {
	trimmed := strings.TrimRight(base.Scheme+"://"+base.Host+base.EscapedPath(), "/")
	return oauth2.Endpoint{
		AuthURL:  trimmed + "/auth/authorize",
		TokenURL: trimmed + "/auth/token",
	}
}
