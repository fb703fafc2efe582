package session

import (
	"strings"
	"time"
)

// FlowState is the ephemeral state of one authorization attempt. It lives in
// sealed cookies between launch and callback and is used at most once.
type FlowState struct {
	CodeVerifier string `json:"codeVerifier"`
	FHIRBase     string `json:"fhirBase"`
	State        string `json:"state"`
	RedirectURI  string `json:"redirectUri"`
	Nonce        string `json:"nonce,omitempty"`
}

// LaunchContext holds the EHR identifiers captured at callback. It is set once
// per session and never modified by a refresh.
type LaunchContext struct {
	Patient      string `json:"patient,omitempty"`
	Practitioner string `json:"practitioner,omitempty"`
	Encounter    string `json:"encounter,omitempty"`
	FHIRUser     string `json:"fhirUser,omitempty"`
}

// PatientReference returns the patient as a relative FHIR reference.
func (lc LaunchContext) PatientReference() string {
	return relativeReference("Patient", lc.Patient)
}

// EncounterReference returns the encounter as a relative FHIR reference.
func (lc LaunchContext) EncounterReference() string {
	return relativeReference("Encounter", lc.Encounter)
}

// PractitionerReference prefers the explicit practitioner, then a fhirUser
// that points at a Practitioner resource.
func (lc LaunchContext) PractitionerReference() string {
	if lc.Practitioner != "" {
		return relativeReference("Practitioner", lc.Practitioner)
	}
	if ResourceType(lc.FHIRUser) == "Practitioner" {
		return TrimToRelative(lc.FHIRUser)
	}
	return ""
}

// ResourceType returns the type segment of a relative or absolute reference,
// e.g. "Practitioner" for "https://ehr/fhir/Practitioner/123".
func ResourceType(reference string) string {
	parts := strings.Split(strings.Trim(TrimToRelative(reference), "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[0]
}

// TrimToRelative reduces an absolute reference to its last "Type/id" pair.
func TrimToRelative(reference string) string {
	parts := strings.Split(strings.Trim(reference, "/"), "/")
	if len(parts) < 2 {
		return reference
	}
	for i := len(parts) - 4; i >= 0; i-- {
		if parts[i+2] == "_history" {
			return parts[i] + "/" + parts[i+1]
		}
	}
	return parts[len(parts)-2] + "/" + parts[len(parts)-1]
}

func relativeReference(resourceType, value string) string {
	if value == "" {
		return ""
	}
	if strings.Contains(value, "/") {
		return TrimToRelative(value)
	}
	return resourceType + "/" + value
}

// TokenSet is the server-side record of a connected EHR session.
type TokenSet struct {
	AccessToken   string        `json:"accessToken"`
	RefreshToken  string        `json:"refreshToken,omitempty"`
	TokenType     string        `json:"tokenType,omitempty"`
	Scope         string        `json:"scope,omitempty"`
	IDToken       string        `json:"idToken,omitempty"`
	ExpiresAt     time.Time     `json:"expiresAt"`
	FHIRBase      string        `json:"fhirBase"`
	LaunchContext LaunchContext `json:"launchContext"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Expired reports whether the access token is absent or past its expiry.
func (t *TokenSet) Expired(now time.Time) bool {
	return t == nil || t.AccessToken == "" || !now.Before(t.ExpiresAt)
}

// ExpiresIn is the remaining access token lifetime, never negative.
func (t *TokenSet) ExpiresIn(now time.Time) time.Duration {
	if t == nil {
		return 0
	}
	d := t.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (t *TokenSet) CanRefresh() bool {
	return t != nil && t.RefreshToken != ""
}

func (t *TokenSet) Clone() *TokenSet {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
