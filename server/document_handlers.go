package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/jrsteele09/go-ehr-connect/fhir"
	apperrors "github.com/jrsteele09/go-ehr-connect/internal/errors"
	"github.com/jrsteele09/go-ehr-connect/internal/metrics"
	"github.com/jrsteele09/go-ehr-connect/notes"
	"github.com/jrsteele09/go-ehr-connect/refresh"
	"github.com/rs/zerolog/log"
)

var timeNow = time.Now

const reconnectRequired = "reconnect required"

func (s *Server) PostDocumentReferenceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeSubmitFailure(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		doc, status, msg := s.documentFromRequest(r, body)
		if doc == nil {
			writeSubmitFailure(w, status, msg)
			return
		}
		// Reject before touching the session so a bad document never costs
		// a token refresh.
		if err := fhir.Validate(doc); err != nil {
			metrics.Submissions.WithLabelValues("invalid").Inc()
			writeSubmitFailure(w, http.StatusBadRequest, err.Error())
			return
		}

		sessionID, err := s.jar.ReadSession(r)
		if err != nil {
			writeSubmitFailure(w, http.StatusUnauthorized, reconnectRequired)
			return
		}
		tokens, err := s.status.Tokens(r.Context(), sessionID, refresh.ReasonSubmit)
		if err != nil {
			log.Err(err).Str("session", sessionID).Msg("[PostDocumentReferenceHandler] no usable token")
			writeSubmitFailure(w, http.StatusUnauthorized, reconnectRequired)
			return
		}

		if err := fhir.Prepare(doc, tokens.LaunchContext); err != nil {
			metrics.Submissions.WithLabelValues("invalid").Inc()
			writeSubmitFailure(w, http.StatusBadRequest, err.Error())
			return
		}

		result, err := s.fhir.CreateDocumentReference(r.Context(), tokens.FHIRBase, tokens.AccessToken, doc)
		if err != nil {
			metrics.Submissions.WithLabelValues("error").Inc()
			log.Err(err).Str("session", sessionID).Msg("[PostDocumentReferenceHandler] submission failed")
			writeSubmitFailure(w, http.StatusBadGateway, err.Error())
			return
		}

		if result.WWWAuthenticate != "" {
			w.Header().Set("WWW-Authenticate", result.WWWAuthenticate)
		}
		if !result.OK {
			metrics.Submissions.WithLabelValues("rejected").Inc()
			writeJSON(w, result.Status, result)
			return
		}
		metrics.Submissions.WithLabelValues("success").Inc()
		writeJSON(w, http.StatusOK, result)
	}
}

// documentFromRequest accepts a DocumentReference or a {reportId} pointing
// at a stored note. On failure it returns a status and message instead.
func (s *Server) documentFromRequest(r *http.Request, body []byte) (*fhir.DocumentReference, int, string) {
	var req SubmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, http.StatusBadRequest, "request body must be a JSON object"
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, http.StatusBadRequest, validationMessage(err)
	}

	if req.ResourceType != "" {
		var doc fhir.DocumentReference
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, http.StatusBadRequest, "invalid DocumentReference: " + err.Error()
		}
		return &doc, 0, ""
	}

	note, err := s.notes.Lookup(r.Context(), req.ReportID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, http.StatusNotFound, "report not found"
		}
		log.Err(err).Str("reportId", req.ReportID).Msg("[PostDocumentReferenceHandler] note lookup")
		return nil, http.StatusInternalServerError, "note lookup failed"
	}
	return notes.ToDocumentReference(note), 0, ""
}

func writeSubmitFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, fhir.SubmitResult{
		Status:  status,
		Message: message,
	})
}
