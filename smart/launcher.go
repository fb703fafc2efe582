package smart

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/jrsteele09/go-ehr-connect/endpoints"
	"github.com/jrsteele09/go-ehr-connect/internal/errors"
	"github.com/jrsteele09/go-ehr-connect/pkce"
	"github.com/jrsteele09/go-ehr-connect/refresh"
	"github.com/jrsteele09/go-ehr-connect/session"
	"golang.org/x/oauth2"
)

type LaunchRequest struct {
	FHIRBase      string
	Launch        string
	RequestOrigin string
}

// Authorization is everything computed for one launch. It doubles as the
// debug echo, so it deliberately includes the verifier.
type Authorization struct {
	AuthorizationURL  string            `json:"authorizationUrl"`
	Strategy          string            `json:"strategy"`
	AuthorizeEndpoint string            `json:"authorizeEndpoint"`
	TokenEndpoint     string            `json:"tokenEndpoint"`
	RedirectURI       string            `json:"redirectUri"`
	Scopes            []string          `json:"scopes"`
	Flow              session.FlowState `json:"flow"`
	CodeChallenge     string            `json:"codeChallenge"`
}

type Launcher struct {
	cfg      Config
	resolver *endpoints.Resolver
}

func NewLauncher(cfg Config, resolver *endpoints.Resolver) *Launcher {
	return &Launcher{cfg: cfg, resolver: resolver}
}

func (l *Launcher) BuildAuthorization(req LaunchRequest) (*Authorization, error) {
	if strings.TrimSpace(l.cfg.ClientID) == "" {
		return nil, errors.ErrMissingClientID
	}

	res, err := l.resolver.Resolve(req.FHIRBase)
	if err != nil {
		return nil, err
	}

	params, err := pkce.Generate()
	if err != nil {
		return nil, err
	}

	redirectURI, err := RedirectURI(l.cfg.PublicBaseURL, l.cfg.RedirectPath, req.RequestOrigin)
	if err != nil {
		return nil, err
	}

	scopes := FilterScopes(l.cfg.Scopes, req.Launch != "")
	flow := session.FlowState{
		CodeVerifier: params.CodeVerifier,
		FHIRBase:     req.FHIRBase,
		State:        params.State,
		RedirectURI:  redirectURI,
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(params.CodeVerifier),
		oauth2.SetAuthURLParam("aud", req.FHIRBase),
	}
	if req.Launch != "" {
		opts = append(opts, oauth2.SetAuthURLParam("launch", req.Launch))
	}
	if slices.Contains(scopes, ScopeOpenID) {
		flow.Nonce = params.Nonce
		opts = append(opts, oauth2.SetAuthURLParam("nonce", params.Nonce))
	}

	cfg := refresh.OAuth2Config(l.cfg.ClientID, l.cfg.ClientSecret, res.Endpoint, redirectURI, scopes)
	return &Authorization{
		AuthorizationURL:  cfg.AuthCodeURL(params.State, opts...),
		Strategy:          res.Strategy,
		AuthorizeEndpoint: res.AuthURL(),
		TokenEndpoint:     res.TokenURL(),
		RedirectURI:       redirectURI,
		Scopes:            scopes,
		Flow:              flow,
		CodeChallenge:     params.CodeChallenge,
	}, nil
}

// FilterScopes drops launch-context scopes unless a launch token is present
// and removes duplicates, keeping first-seen order.
func FilterScopes(scopes []string, hasLaunch bool) []string {
	seen := make(map[string]bool, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" || seen[scope] {
			continue
		}
		if !hasLaunch && (scope == ScopeLaunch || strings.HasPrefix(scope, ScopeLaunch+"/")) {
			continue
		}
		seen[scope] = true
		out = append(out, scope)
	}
	return out
}

// RedirectURI joins the redirect path to the public base URL, or the
// request origin when none is configured. The result always carries the
// request's scheme and host so it matches the page that started the flow.
func RedirectURI(publicBaseURL, redirectPath, requestOrigin string) (string, error) {
	if redirectPath == "" {
		redirectPath = "/smart/callback"
	}
	if !strings.HasPrefix(redirectPath, "/") {
		redirectPath = "/" + redirectPath
	}

	base := strings.TrimRight(publicBaseURL, "/")
	if base == "" {
		base = strings.TrimRight(requestOrigin, "/")
	}
	u, err := url.Parse(base + redirectPath)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid redirect base %q", base)
	}

	if requestOrigin == "" {
		return u.String(), nil
	}
	origin, err := url.Parse(requestOrigin)
	if err != nil || origin.Host == "" {
		return "", fmt.Errorf("invalid request origin %q", requestOrigin)
	}
	if u.Scheme != origin.Scheme || u.Host != origin.Host {
		u.Scheme = origin.Scheme
		u.Host = origin.Host
	}
	return u.String(), nil
}
