package session_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-ehr-connect/session"
	"github.com/stretchr/testify/require"
)

func TestLaunchContext_References(t *testing.T) {
	t.Run("bare ids become relative references", func(t *testing.T) {
		lc := session.LaunchContext{Patient: "123", Encounter: "enc-1", Practitioner: "pr-9"}
		require.Equal(t, "Patient/123", lc.PatientReference())
		require.Equal(t, "Encounter/enc-1", lc.EncounterReference())
		require.Equal(t, "Practitioner/pr-9", lc.PractitionerReference())
	})

	t.Run("practitioner from fhirUser", func(t *testing.T) {
		lc := session.LaunchContext{FHIRUser: "https://ehr.example/fhir/Practitioner/abc"}
		require.Equal(t, "Practitioner/abc", lc.PractitionerReference())
	})

	t.Run("patient fhirUser is not an author", func(t *testing.T) {
		lc := session.LaunchContext{FHIRUser: "Patient/abc"}
		require.Empty(t, lc.PractitionerReference())
	})

	t.Run("empty", func(t *testing.T) {
		require.Empty(t, session.LaunchContext{}.PatientReference())
	})
}

func TestTrimToRelative(t *testing.T) {
	require.Equal(t, "Practitioner/1", session.TrimToRelative("https://x.example/fhir/Practitioner/1/_history/2"))
	require.Equal(t, "Patient/7", session.TrimToRelative("Patient/7"))
	require.Equal(t, "Practitioner", session.ResourceType("https://x.example/R4/Practitioner/1"))
	require.Empty(t, session.ResourceType("nothing"))
}

func TestTokenSet_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ts := &session.TokenSet{AccessToken: "at", ExpiresAt: now.Add(200 * time.Second)}

	require.False(t, ts.Expired(now))
	require.Equal(t, 200*time.Second, ts.ExpiresIn(now))
	require.True(t, ts.Expired(now.Add(200*time.Second)))
	require.Zero(t, ts.ExpiresIn(now.Add(time.Hour)))

	var missing *session.TokenSet
	require.True(t, missing.Expired(now))
	require.False(t, missing.CanRefresh())
	require.True(t, (&session.TokenSet{}).Expired(now))
}
