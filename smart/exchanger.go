package smart

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-ehr-connect/cookies"
	"github.com/jrsteele09/go-ehr-connect/endpoints"
	"github.com/jrsteele09/go-ehr-connect/internal/errors"
	"github.com/jrsteele09/go-ehr-connect/refresh"
	"github.com/jrsteele09/go-ehr-connect/session"
	"golang.org/x/oauth2"
)

// CallbackParams are the query parameters the IdP redirects back with.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// AuthorizationError is an error reported by the IdP on the redirect.
type AuthorizationError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *AuthorizationError) Error() string {
	if e.Description == "" {
		return "authorization failed: " + e.Code
	}
	return fmt.Sprintf("authorization failed: %s - %s", e.Code, e.Description)
}

type idTokenClaims struct {
	Nonce    string `json:"nonce"`
	FHIRUser string `json:"fhirUser"`
	Profile  string `json:"profile"`
}

type Exchanger struct {
	cfg        Config
	resolver   *endpoints.Resolver
	httpClient *http.Client
	now        func() time.Time

	verifierLock sync.RWMutex
	verifier     *oidc.IDTokenVerifier
}

func NewExchanger(cfg Config, resolver *endpoints.Resolver, httpClient *http.Client) *Exchanger {
	return &Exchanger{
		cfg:        cfg,
		resolver:   resolver,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Exchange checks the callback against the stored flow and redeems the code.
// No network call is made unless state matches.
func (e *Exchanger) Exchange(ctx context.Context, flow *session.FlowState, params CallbackParams) (*session.TokenSet, error) {
	if params.Error != "" {
		return nil, &AuthorizationError{Code: params.Error, Description: params.ErrorDescription}
	}
	if flow == nil || flow.CodeVerifier == "" || flow.State == "" || flow.FHIRBase == "" {
		return nil, errors.ErrMissingFlowState
	}
	if params.Code == "" {
		return nil, errors.ErrMissingCode
	}
	if !cookies.StateMatches(flow.State, params.State) {
		return nil, errors.ErrStateMismatch
	}
	if e.cfg.ClientID == "" {
		return nil, errors.ErrMissingClientID
	}

	res, err := e.resolver.Resolve(flow.FHIRBase)
	if err != nil {
		return nil, err
	}
	ctx = e.clientContext(ctx)

	cfg := refresh.OAuth2Config(e.cfg.ClientID, e.cfg.ClientSecret, res.Endpoint, flow.RedirectURI, nil)
	tok, err := cfg.Exchange(ctx, params.Code, oauth2.VerifierOption(flow.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrTokenExchange, err)
	}

	lc := session.LaunchContext{
		Patient:      extraString(tok, "patient"),
		Practitioner: extraString(tok, "practitioner"),
		Encounter:    extraString(tok, "encounter"),
		FHIRUser:     extraString(tok, "fhirUser"),
	}

	rawIDToken := extraString(tok, "id_token")
	if rawIDToken != "" {
		claims, err := e.idTokenClaims(ctx, rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("%w: id_token: %w", errors.ErrTokenExchange, err)
		}
		if flow.Nonce != "" && !cookies.StateMatches(flow.Nonce, claims.Nonce) {
			return nil, errors.ErrNonceMismatch
		}
		if lc.FHIRUser == "" {
			lc.FHIRUser = claims.FHIRUser
		}
		if lc.FHIRUser == "" {
			lc.FHIRUser = claims.Profile
		}
	}
	if lc.Practitioner == "" && session.ResourceType(lc.FHIRUser) == "Practitioner" {
		lc.Practitioner = session.TrimToRelative(lc.FHIRUser)
	}

	now := e.now()
	return &session.TokenSet{
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		TokenType:     tok.TokenType,
		Scope:         extraString(tok, "scope"),
		IDToken:       rawIDToken,
		ExpiresAt:     refresh.TokenExpiry(tok, now),
		FHIRBase:      flow.FHIRBase,
		LaunchContext: lc,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (e *Exchanger) clientContext(ctx context.Context) context.Context {
	if e.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
}

// idTokenClaims verifies the ID token against the configured issuer. Without
// an issuer there are no keys to check against, so the claims are only decoded.
func (e *Exchanger) idTokenClaims(ctx context.Context, raw string) (*idTokenClaims, error) {
	var claims idTokenClaims
	if e.cfg.Issuer == "" {
		mapClaims := jwtlib.MapClaims{}
		if _, _, err := jwtlib.NewParser().ParseUnverified(raw, mapClaims); err != nil {
			return nil, err
		}
		claims.Nonce, _ = mapClaims["nonce"].(string)
		claims.FHIRUser, _ = mapClaims["fhirUser"].(string)
		claims.Profile, _ = mapClaims["profile"].(string)
		return &claims, nil
	}

	verifier, err := e.oidcVerifier(ctx)
	if err != nil {
		return nil, err
	}
	idToken, err := verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (e *Exchanger) oidcVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	e.verifierLock.RLock()
	verifier := e.verifier
	e.verifierLock.RUnlock()
	if verifier != nil {
		return verifier, nil
	}

	provider, err := oidc.NewProvider(ctx, strings.TrimRight(e.cfg.Issuer, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	verifier = provider.Verifier(&oidc.Config{ClientID: e.cfg.ClientID})

	e.verifierLock.Lock()
	e.verifier = verifier
	e.verifierLock.Unlock()
	return verifier, nil
}

func extraString(tok *oauth2.Token, key string) string {
	v, _ := tok.Extra(key).(string)
	return strings.TrimSpace(v)
}
