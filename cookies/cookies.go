// Package cookies reads and writes the SMART flow and session cookies. Flow
// values are sealed; the session cookie carries a signed handle to the
// server-side TokenSet, never token values.
package cookies

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-ehr-connect/internal/errors"
	"github.com/jrsteele09/go-ehr-connect/internal/seal"
	"github.com/jrsteele09/go-ehr-connect/session"
)

const (
	// Flow cookies, deleted once the callback completes.
	CodeVerifier = "smart_code_verifier"
	FHIRBase     = "smart_fhir_base"
	State        = "smart_state"
	RedirectURI  = "smart_redirect_uri"
	Nonce        = "smart_nonce"

	// Session cookies, deleted on disconnect. AccessToken holds the signed
	// session handle.
	AccessToken  = "smart_access_token"
	Patient      = "smart_patient"
	Practitioner = "smart_practitioner"
	Encounter    = "smart_encounter"
	FHIRUser     = "smart_fhir_user"

	handleIssuer = "ehr-connect"
)

var (
	flowCookies    = []string{CodeVerifier, FHIRBase, State, RedirectURI, Nonce}
	sessionCookies = []string{AccessToken, FHIRBase, Patient, Practitioner, Encounter, FHIRUser}
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

type Jar struct {
	sealer     *seal.Sealer
	signingKey []byte
	secure     bool
	flowTTL    time.Duration
	sessionTTL time.Duration
}

type Options struct {
	Secret     []byte
	Secure     bool
	FlowTTL    time.Duration
	SessionTTL time.Duration
}

func NewJar(opts Options) (*Jar, error) {
	sealer, err := seal.New(opts.Secret, "cookies")
	if err != nil {
		return nil, fmt.Errorf("[cookies NewJar] %w", err)
	}
	signingKey, err := seal.DeriveKey(opts.Secret, "session-handle", 32)
	if err != nil {
		return nil, fmt.Errorf("[cookies NewJar] %w", err)
	}
	if opts.FlowTTL <= 0 {
		opts.FlowTTL = 10 * time.Minute
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 12 * time.Hour
	}
	return &Jar{
		sealer:     sealer,
		signingKey: signingKey,
		secure:     opts.Secure,
		flowTTL:    opts.FlowTTL,
		sessionTTL: opts.SessionTTL,
	}, nil
}

func (j *Jar) SessionTTL() time.Duration { return j.sessionTTL }

func (j *Jar) set(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})
}

func (j *Jar) clear(w http.ResponseWriter, names ...string) {
	for _, name := range names {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			Secure:   j.secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
		})
	}
}

func (j *Jar) setSealed(w http.ResponseWriter, name, value string, maxAge time.Duration) error {
	sealed, err := j.sealer.Seal([]byte(value))
	if err != nil {
		return err
	}
	j.set(w, name, sealed, maxAge)
	return nil
}

func (j *Jar) readSealed(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", errors.ErrMissingFlowState
	}
	plain, err := j.sealer.Open(c.Value)
	if err != nil {
		return "", fmt.Errorf("%w: cookie %s: %v", errors.ErrMissingFlowState, name, err)
	}
	return string(plain), nil
}

// WriteFlow persists the launch state for the callback.
func (j *Jar) WriteFlow(w http.ResponseWriter, flow session.FlowState) error {
	values := map[string]string{
		CodeVerifier: flow.CodeVerifier,
		FHIRBase:     flow.FHIRBase,
		State:        flow.State,
		RedirectURI:  flow.RedirectURI,
	}
	if flow.Nonce != "" {
		values[Nonce] = flow.Nonce
	}
	for _, name := range flowCookies {
		v, ok := values[name]
		if !ok {
			continue
		}
		if err := j.setSealed(w, name, v, j.flowTTL); err != nil {
			return fmt.Errorf("[cookies WriteFlow] %s: %w", name, err)
		}
	}
	return nil
}

// ReadFlow restores the launch state. The nonce cookie is optional.
func (j *Jar) ReadFlow(r *http.Request) (*session.FlowState, error) {
	var flow session.FlowState
	var err error
	if flow.CodeVerifier, err = j.readSealed(r, CodeVerifier); err != nil {
		return nil, err
	}
	if flow.FHIRBase, err = j.readSealed(r, FHIRBase); err != nil {
		return nil, err
	}
	if flow.State, err = j.readSealed(r, State); err != nil {
		return nil, err
	}
	if flow.RedirectURI, err = j.readSealed(r, RedirectURI); err != nil {
		return nil, err
	}
	if nonce, err := j.readSealed(r, Nonce); err == nil {
		flow.Nonce = nonce
	}
	return &flow, nil
}

// ClearFlow deletes the flow cookies. FHIRBase is shared with the session
// set and survives while r carries a valid session handle.
func (j *Jar) ClearFlow(w http.ResponseWriter, r *http.Request) {
	if _, err := j.ReadSession(r); err != nil {
		j.clear(w, flowCookies...)
		return
	}
	for _, name := range flowCookies {
		if name != FHIRBase {
			j.clear(w, name)
		}
	}
}

// WriteFHIRBase resets the session's FHIRBase cookie, which a launch started
// while connected overwrites with its sealed flow value.
func (j *Jar) WriteFHIRBase(w http.ResponseWriter, fhirBase string) {
	j.set(w, FHIRBase, fhirBase, j.sessionTTL)
}

// StateMatches compares the IdP-returned state with the stored one in
// constant time.
func StateMatches(stored, returned string) bool {
	if stored == "" || returned == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(returned)) == 1
}

type handleClaims struct {
	jwtlib.RegisteredClaims
}

// WriteSession issues the signed session handle and the launch context cookies.
func (j *Jar) WriteSession(w http.ResponseWriter, sessionID string, ts *session.TokenSet) error {
	now := NowTimeFunc()
	claims := handleClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    handleIssuer,
			Subject:   sessionID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(j.sessionTTL)),
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(j.signingKey)
	if err != nil {
		return fmt.Errorf("[cookies WriteSession] sign: %w", err)
	}
	j.set(w, AccessToken, signed, j.sessionTTL)
	j.set(w, FHIRBase, ts.FHIRBase, j.sessionTTL)

	lc := ts.LaunchContext
	for name, value := range map[string]string{
		Patient:      lc.Patient,
		Practitioner: lc.Practitioner,
		Encounter:    lc.Encounter,
		FHIRUser:     lc.FHIRUser,
	} {
		if value != "" {
			j.set(w, name, value, j.sessionTTL)
		}
	}
	return nil
}

// ReadSession verifies the session handle and returns the session ID.
func (j *Jar) ReadSession(r *http.Request) (string, error) {
	c, err := r.Cookie(AccessToken)
	if err != nil || c.Value == "" {
		return "", errors.ErrSessionNotFound
	}

	var claims handleClaims
	_, err = jwtlib.ParseWithClaims(c.Value, &claims, func(t *jwtlib.Token) (interface{}, error) {
		return j.signingKey, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(handleIssuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(NowTimeFunc),
	)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return "", errors.ErrSessionExpired
		}
		return "", fmt.Errorf("%w: %v", errors.ErrInvalidHandle, err)
	}
	if claims.Subject == "" {
		return "", errors.ErrInvalidHandle
	}
	return claims.Subject, nil
}

// ClearSession deletes the session handle and context cookies.
func (j *Jar) ClearSession(w http.ResponseWriter) {
	j.clear(w, sessionCookies...)
}
