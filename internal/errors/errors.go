package errors

import (
	"errors"
	"fmt"
)

// Common error types for the EHR connection manager
var (
	// Configuration errors
	ErrMissingClientID = errors.New("SMART client id is not configured")
	ErrInvalidFHIRBase = errors.New("invalid FHIR base URL")

	// Anti-forgery errors
	ErrMissingFlowState = errors.New("authorization flow state not found")
	ErrMissingCode      = errors.New("authorization code missing")
	ErrStateMismatch    = errors.New("state parameter does not match")
	ErrNonceMismatch    = errors.New("nonce does not match")

	// IdP errors
	ErrRandomUnavailable = errors.New("secure random source unavailable")
	ErrTokenExchange     = errors.New("token exchange failed")
	ErrRefreshFailed     = errors.New("token refresh failed")
	ErrRefreshInProgress = errors.New("token refresh already in progress")
	ErrNoRefreshToken    = errors.New("no refresh token available")
	ErrInvalidGrant      = errors.New("refresh token rejected")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrInvalidHandle   = errors.New("invalid session handle")

	// FHIR errors
	ErrProfileValidation = errors.New("document does not satisfy profile")
	ErrRemoteRejected    = errors.New("FHIR server rejected request")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join combines errors, see errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
