package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-ehr-connect/internal/errors"
	"github.com/jrsteele09/go-ehr-connect/internal/metrics"
	"github.com/jrsteele09/go-ehr-connect/refresh"
	"github.com/jrsteele09/go-ehr-connect/smart"
	"github.com/rs/zerolog/log"
)

type RefreshResponse struct {
	OK        bool   `json:"ok"`
	ExpiresIn int64  `json:"expiresIn,omitempty"`
	Error     string `json:"error,omitempty"`
	Reconnect bool   `json:"reconnect,omitempty"`
}

func (s *Server) SmartLaunchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		q := LaunchQuery{
			FHIRBase: query.Get("fhirBase"),
			Launch:   query.Get("launch"),
			Debug:    query.Get("debug"),
		}
		if err := s.validate.Struct(q); err != nil {
			writeJSONError(w, "invalid_request", validationMessage(err), http.StatusBadRequest)
			return
		}

		auth, err := s.launcher.BuildAuthorization(smart.LaunchRequest{
			FHIRBase:      q.FHIRBase,
			Launch:        q.Launch,
			RequestOrigin: smart.RequestOrigin(r, s.config.TrustForwardedHeaders()),
		})
		if err != nil {
			metrics.Launches.WithLabelValues("", "failure").Inc()
			log.Err(err).Str("fhirBase", q.FHIRBase).Msg("[SmartLaunchHandler] launch failed")
			writeError(w, err)
			return
		}

		if err := s.jar.WriteFlow(w, auth.Flow); err != nil {
			metrics.Launches.WithLabelValues(auth.Strategy, "failure").Inc()
			writeError(w, err)
			return
		}
		metrics.Launches.WithLabelValues(auth.Strategy, "success").Inc()

		// The debug echo exposes the verifier, so production ignores the flag.
		if q.DebugRequested() && !s.config.IsProduction() {
			writeJSON(w, http.StatusOK, auth)
			return
		}
		http.Redirect(w, r, auth.AuthorizationURL, http.StatusFound)
	}
}

func (s *Server) SmartCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		params := smart.CallbackParams{
			Code:             query.Get("code"),
			State:            query.Get("state"),
			Error:            query.Get("error"),
			ErrorDescription: query.Get("error_description"),
		}

		// The flow is single use whatever the outcome.
		flow, err := s.jar.ReadFlow(r)
		if err != nil {
			log.Debug().Err(err).Msg("[SmartCallbackHandler] flow cookies unreadable")
		}
		s.jar.ClearFlow(w, r)

		tokens, err := s.exchanger.Exchange(r.Context(), flow, params)
		if err != nil {
			metrics.Exchanges.WithLabelValues("failure").Inc()
			log.Err(err).Msg("[SmartCallbackHandler] exchange failed")
			s.restoreSessionFHIRBase(w, r)
			writeError(w, err)
			return
		}

		sessionID := uuid.NewString()
		if err := s.store.Put(r.Context(), sessionID, tokens, s.jar.SessionTTL()); err != nil {
			metrics.Exchanges.WithLabelValues("failure").Inc()
			writeError(w, err)
			return
		}
		if err := s.jar.WriteSession(w, sessionID, tokens); err != nil {
			metrics.Exchanges.WithLabelValues("failure").Inc()
			writeError(w, err)
			return
		}
		s.manager.Schedule(sessionID, tokens)
		metrics.Exchanges.WithLabelValues("success").Inc()

		log.Info().Str("session", sessionID).Str("fhirBase", tokens.FHIRBase).Msg("[SmartCallbackHandler] connected")
		http.Redirect(w, r, s.config.GetPostConnectPath(), http.StatusFound)
	}
}

// restoreSessionFHIRBase puts back the FHIRBase cookie of a session that
// stays connected after a failed re-launch.
func (s *Server) restoreSessionFHIRBase(w http.ResponseWriter, r *http.Request) {
	sessionID, err := s.jar.ReadSession(r)
	if err != nil {
		return
	}
	ts, err := s.store.Get(r.Context(), sessionID)
	if err != nil {
		return
	}
	s.jar.WriteFHIRBase(w, ts.FHIRBase)
}

func (s *Server) SmartStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := s.jar.ReadSession(r)
		if err != nil {
			writeJSON(w, http.StatusOK, smart.Status{})
			return
		}
		writeJSON(w, http.StatusOK, s.status.Status(r.Context(), sessionID))
	}
}

func (s *Server) SmartRefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := RefreshRequest{Reason: refresh.ReasonManual}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, RefreshResponse{Error: "invalid request body"})
			return
		}
		if req.Reason == "" {
			req.Reason = refresh.ReasonManual
		}
		if err := s.validate.Struct(req); err != nil {
			writeJSON(w, http.StatusBadRequest, RefreshResponse{Error: validationMessage(err)})
			return
		}

		sessionID, err := s.jar.ReadSession(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, RefreshResponse{Error: "not connected", Reconnect: true})
			return
		}

		tokens, err := s.manager.Refresh(r.Context(), sessionID, req.Reason)
		if err != nil {
			status, resp := refreshFailure(err)
			writeJSON(w, status, resp)
			return
		}
		writeJSON(w, http.StatusOK, RefreshResponse{
			OK:        true,
			ExpiresIn: int64(tokens.ExpiresIn(timeNow()).Seconds()),
		})
	}
}

// refreshFailure tells the UI whether a retry can help or the user must
// reconnect.
func refreshFailure(err error) (int, RefreshResponse) {
	switch {
	case apperrors.Is(err, apperrors.ErrRefreshInProgress):
		return http.StatusConflict, RefreshResponse{Error: err.Error()}
	case apperrors.Is(err, apperrors.ErrInvalidGrant),
		apperrors.Is(err, apperrors.ErrNoRefreshToken),
		apperrors.Is(err, apperrors.ErrSessionNotFound):
		return http.StatusUnauthorized, RefreshResponse{Error: err.Error(), Reconnect: true}
	default:
		return http.StatusBadGateway, RefreshResponse{Error: err.Error()}
	}
}

func (s *Server) SmartDisconnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sessionID, err := s.jar.ReadSession(r); err == nil {
			s.manager.Cancel(sessionID)
			if err := s.store.Delete(r.Context(), sessionID); err != nil {
				log.Err(err).Str("session", sessionID).Msg("[SmartDisconnectHandler] delete session")
			}
		}
		s.jar.ClearSession(w)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (s *Server) PreflightHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}
