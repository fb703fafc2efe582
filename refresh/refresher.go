package refresh

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-ehr-connect/endpoints"
	"github.com/jrsteele09/go-ehr-connect/session"
	"golang.org/x/oauth2"
)

// Exchanger performs the network half of a refresh.
type Exchanger interface {
	Refresh(ctx context.Context, ts *session.TokenSet) (*oauth2.Token, error)
}

// OAuth2Refresher redeems refresh tokens at the token endpoint resolved for
// the session's FHIR base.
type OAuth2Refresher struct {
	clientID     string
	clientSecret string
	resolver     *endpoints.Resolver
	httpClient   *http.Client
}

var _ Exchanger = (*OAuth2Refresher)(nil)

func NewOAuth2Refresher(clientID, clientSecret string, resolver *endpoints.Resolver, httpClient *http.Client) *OAuth2Refresher {
	return &OAuth2Refresher{
		clientID:     clientID,
		clientSecret: clientSecret,
		resolver:     resolver,
		httpClient:   httpClient,
	}
}

// OAuth2Config builds the client configuration for a FHIR base. Public
// clients (no secret) send client_id in the request body.
func OAuth2Config(clientID, clientSecret string, endpoint oauth2.Endpoint, redirectURL string, scopes []string) *oauth2.Config {
	if clientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoint,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
	}
}

func (o *OAuth2Refresher) Refresh(ctx context.Context, ts *session.TokenSet) (*oauth2.Token, error) {
	res, err := o.resolver.Resolve(ts.FHIRBase)
	if err != nil {
		return nil, err
	}
	cfg := OAuth2Config(o.clientID, o.clientSecret, res.Endpoint, "", nil)
	if o.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
	}

	// No access token, so the source goes straight to the refresh grant.
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: ts.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("[OAuth2Refresher] %s: %w", res.TokenURL(), err)
	}
	return tok, nil
}
