package smart_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-ehr-connect/endpoints"
	"github.com/jrsteele09/go-ehr-connect/internal/errors"
	"github.com/jrsteele09/go-ehr-connect/session"
	"github.com/jrsteele09/go-ehr-connect/smart"
	"github.com/stretchr/testify/require"
)

type tokenServer struct {
	*httptest.Server
	calls atomic.Int32
}

func newTokenServer(t *testing.T, response map[string]interface{}, status int) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		require.Equal(t, "/auth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		require.Equal(t, "code-1", r.PostForm.Get("code"))
		require.Equal(t, "verifier-1", r.PostForm.Get("code_verifier"))
		require.Equal(t, "https://app.example/smart/callback", r.PostForm.Get("redirect_uri"))
		require.Equal(t, "client-1", r.PostForm.Get("client_id"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func unsignedIDToken(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("not-checked"))
	require.NoError(t, err)
	return raw
}

func testFlow(fhirBase string) *session.FlowState {
	return &session.FlowState{
		CodeVerifier: "verifier-1",
		FHIRBase:     fhirBase,
		State:        "state-1",
		RedirectURI:  "https://app.example/smart/callback",
		Nonce:        "nonce-1",
	}
}

func testExchanger(srv *tokenServer, issuer string) *smart.Exchanger {
	return smart.NewExchanger(smart.Config{ClientID: "client-1", Issuer: issuer}, endpoints.NewResolver(issuer), srv.Client())
}

func TestExchanger_Success(t *testing.T) {
	srv := newTokenServer(t, map[string]interface{}{
		"access_token":  "access-1",
		"refresh_token": "refresh-1",
		"token_type":    "Bearer",
		"expires_in":    3600,
		"scope":         "openid patient/*.read",
		"patient":       "p-1",
		"encounter":     "e-1",
		"id_token": unsignedIDToken(t, jwtlib.MapClaims{
			"nonce":    "nonce-1",
			"fhirUser": "https://ehr.example/fhir/Practitioner/dr-1",
		}),
	}, http.StatusOK)

	before := time.Now()
	ts, err := testExchanger(srv, "").Exchange(context.Background(), testFlow(srv.URL), smart.CallbackParams{Code: "code-1", State: "state-1"})
	require.NoError(t, err)

	require.Equal(t, "access-1", ts.AccessToken)
	require.Equal(t, "refresh-1", ts.RefreshToken)
	require.Equal(t, "openid patient/*.read", ts.Scope)
	require.Equal(t, srv.URL, ts.FHIRBase)
	require.NotEmpty(t, ts.IDToken)
	require.WithinDuration(t, before.Add(time.Hour), ts.ExpiresAt, time.Minute)
	require.Equal(t, session.LaunchContext{
		Patient:      "p-1",
		Encounter:    "e-1",
		FHIRUser:     "https://ehr.example/fhir/Practitioner/dr-1",
		Practitioner: "Practitioner/dr-1",
	}, ts.LaunchContext)
}

func TestExchanger_StateMismatchMakesNoCall(t *testing.T) {
	srv := newTokenServer(t, map[string]interface{}{"access_token": "a"}, http.StatusOK)

	_, err := testExchanger(srv, "").Exchange(context.Background(), testFlow(srv.URL), smart.CallbackParams{Code: "code-1", State: "forged"})
	require.ErrorIs(t, err, errors.ErrStateMismatch)
	require.Zero(t, srv.calls.Load())
}

func TestExchanger_RejectsBeforeExchange(t *testing.T) {
	srv := newTokenServer(t, map[string]interface{}{"access_token": "a"}, http.StatusOK)
	ex := testExchanger(srv, "")

	_, err := ex.Exchange(context.Background(), nil, smart.CallbackParams{Code: "code-1", State: "state-1"})
	require.ErrorIs(t, err, errors.ErrMissingFlowState)

	_, err = ex.Exchange(context.Background(), testFlow(srv.URL), smart.CallbackParams{State: "state-1"})
	require.ErrorIs(t, err, errors.ErrMissingCode)

	_, err = ex.Exchange(context.Background(), testFlow(srv.URL), smart.CallbackParams{Error: "access_denied", ErrorDescription: "user said no"})
	var authErr *smart.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, "access_denied", authErr.Code)

	require.Zero(t, srv.calls.Load())
}

func TestExchanger_NonceMismatch(t *testing.T) {
	srv := newTokenServer(t, map[string]interface{}{
		"access_token": "access-1",
		"token_type":   "Bearer",
		"id_token":     unsignedIDToken(t, jwtlib.MapClaims{"nonce": "replayed"}),
	}, http.StatusOK)

	_, err := testExchanger(srv, "").Exchange(context.Background(), testFlow(srv.URL), smart.CallbackParams{Code: "code-1", State: "state-1"})
	require.ErrorIs(t, err, errors.ErrNonceMismatch)
}

func TestExchanger_TokenEndpointError(t *testing.T) {
	srv := newTokenServer(t, map[string]interface{}{"error": "invalid_grant"}, http.StatusBadRequest)

	_, err := testExchanger(srv, "").Exchange(context.Background(), testFlow(srv.URL), smart.CallbackParams{Code: "code-1", State: "state-1"})
	require.ErrorIs(t, err, errors.ErrTokenExchange)
}

func TestExchanger_UnverifiableIDTokenFailsClosed(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-1",
			"token_type":   "Bearer",
			"id_token":     unsignedIDToken(t, jwtlib.MapClaims{"nonce": "nonce-1"}),
		})
	})

	ex := smart.NewExchanger(smart.Config{ClientID: "client-1", Issuer: srv.URL}, endpoints.NewResolver(srv.URL), srv.Client())
	flow := testFlow("https://fhir.example/R4")
	_, err := ex.Exchange(context.Background(), flow, smart.CallbackParams{Code: "code-1", State: "state-1"})
	require.ErrorIs(t, err, errors.ErrTokenExchange)
}
