package server

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jrsteele09/go-ehr-connect/cookies"
	"github.com/jrsteele09/go-ehr-connect/endpoints"
	"github.com/jrsteele09/go-ehr-connect/fhir"
	"github.com/jrsteele09/go-ehr-connect/internal/config"
	"github.com/jrsteele09/go-ehr-connect/notes"
	"github.com/jrsteele09/go-ehr-connect/refresh"
	"github.com/jrsteele09/go-ehr-connect/session"
	"github.com/jrsteele09/go-ehr-connect/smart"
	"github.com/rs/zerolog/log"
)

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

// Dependencies are the stores and clients the server is built on. Nil
// members fall back to in-memory implementations.
type Dependencies struct {
	Store      session.Store
	Locker     refresh.Locker
	Notes      notes.Store
	HTTPClient *http.Client
	Checks     map[string]HealthCheck
}

type Server struct {
	env    string
	mux    *http.ServeMux
	routes []string
	config config.Config

	jar       *cookies.Jar
	store     session.Store
	notes     notes.Store
	launcher  *smart.Launcher
	exchanger *smart.Exchanger
	status    *smart.StatusService
	manager   *refresh.Manager
	fhir      *fhir.Client
	validate  *validator.Validate
	checks    map[string]HealthCheck
}

func New(cfg config.Config, deps Dependencies) (*Server, error) {
	secret, err := sessionSecret(cfg)
	if err != nil {
		return nil, fmt.Errorf("[Server New] %w", err)
	}
	jar, err := cookies.NewJar(cookies.Options{
		Secret:     secret,
		Secure:     !cfg.IsLocalDevelopment(),
		FlowTTL:    cfg.GetFlowTTL(),
		SessionTTL: cfg.GetSessionTTL(),
	})
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to create cookie jar: %w", err)
	}

	if deps.Store == nil {
		deps.Store = session.NewMemoryStore()
	}
	if deps.Notes == nil {
		deps.Notes = notes.NewMemoryStore()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: cfg.GetHTTPTimeout()}
	}

	smartCfg := smart.Config{
		ClientID:      cfg.GetClientID(),
		ClientSecret:  cfg.GetClientSecret(),
		Scopes:        cfg.GetScopes(),
		Issuer:        cfg.GetIssuer(),
		RedirectPath:  cfg.GetRedirectPath(),
		PublicBaseURL: cfg.GetPublicBaseURL(),
	}
	resolver := endpoints.NewDefaultResolver(cfg.GetIssuer(), cfg.GetOAuth2PathHosts()...)

	manager := refresh.NewManager(
		deps.Store,
		refresh.NewOAuth2Refresher(smartCfg.ClientID, smartCfg.ClientSecret, resolver, deps.HTTPClient),
		deps.Locker,
		refresh.Options{
			Buffer:     cfg.GetRefreshBuffer(),
			SessionTTL: cfg.GetSessionTTL(),
			OnFailure:  onRefreshFailure,
		},
	)

	s := &Server{
		env:       cfg.GetEnv(),
		mux:       http.NewServeMux(),
		config:    cfg,
		jar:       jar,
		store:     deps.Store,
		notes:     deps.Notes,
		launcher:  smart.NewLauncher(smartCfg, resolver),
		exchanger: smart.NewExchanger(smartCfg, resolver, deps.HTTPClient),
		status:    smart.NewStatusService(deps.Store, manager),
		manager:   manager,
		fhir:      fhir.NewClient(deps.HTTPClient),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		checks:    deps.Checks,
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close stops every refresh timer.
func (s *Server) Close() {
	s.manager.Close()
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != config.EnvDevelopment {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	log.Info().Msgf("[%-19s] %s", color+paddedMethod+ResetColor, path)
}

// sessionSecret requires SESSION_SECRET in production. Elsewhere a missing
// secret is replaced by a random one, which logs everyone out on restart.
func sessionSecret(cfg config.Config) ([]byte, error) {
	if secret := cfg.GetSessionSecret(); secret != "" {
		return []byte(secret), nil
	}
	if cfg.IsProduction() {
		return nil, fmt.Errorf("SESSION_SECRET is required in production")
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	log.Warn().Msg("SESSION_SECRET not set, using an ephemeral key")
	return secret, nil
}

func onRefreshFailure(sessionID string, err error) {
	log.Err(err).Str("session", sessionID).Msg("[Server] background refresh failed")
}

