package server

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-ehr-connect/internal/errors"
	"github.com/jrsteele09/go-ehr-connect/smart"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeJSON = "application/json"
	maxBodyBytes    = 5 << 20
)

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Err(err).Msg("failed to encode response")
	}
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}

// writeError maps a flow error onto its status code and error code.
func writeError(w http.ResponseWriter, err error) {
	var authErr *smart.AuthorizationError
	switch {
	case errors.As(err, &authErr):
		writeJSON(w, http.StatusBadRequest, authErr)
	case errors.Is(err, errors.ErrMissingClientID):
		writeJSONError(w, "configuration_error", err.Error(), http.StatusInternalServerError)
	case errors.Is(err, errors.ErrInvalidFHIRBase),
		errors.Is(err, errors.ErrMissingCode):
		writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, errors.ErrMissingFlowState),
		errors.Is(err, errors.ErrStateMismatch),
		errors.Is(err, errors.ErrNonceMismatch):
		writeJSONError(w, "invalid_state", err.Error(), http.StatusBadRequest)
	case errors.Is(err, errors.ErrTokenExchange):
		writeJSONError(w, "token_exchange_failed", err.Error(), http.StatusBadGateway)
	case errors.Is(err, errors.ErrProfileValidation):
		writeJSONError(w, "profile_validation", err.Error(), http.StatusBadRequest)
	case errors.Is(err, errors.ErrNotFound):
		writeJSONError(w, "not_found", err.Error(), http.StatusNotFound)
	default:
		log.Err(err).Msg("unhandled error")
		writeJSONError(w, "server_error", "internal server error", http.StatusInternalServerError)
	}
}
