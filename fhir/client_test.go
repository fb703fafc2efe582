package fhir_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-ehr-connect/fhir"
	"github.com/stretchr/testify/require"
)

func testDoc() *fhir.DocumentReference {
	return &fhir.DocumentReference{
		ResourceType: fhir.ResourceTypeDocumentReference,
		Status:       fhir.DocumentStatusCurrent,
		Subject:      &fhir.Reference{Reference: "Patient/p-1"},
		Content:      []fhir.DocumentReferenceContent{{Attachment: fhir.Attachment{ContentType: "text/plain", Data: "aGk="}}},
	}
}

func TestClient_CreateDocumentReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/R4/DocumentReference", r.URL.Path)
		require.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		require.Equal(t, fhir.ContentTypeFHIRJSON, r.Header.Get("Content-Type"))
		require.Equal(t, fhir.ContentTypeFHIRJSON, r.Header.Get("Accept"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &got))
		require.Equal(t, "DocumentReference", got["resourceType"])

		w.Header().Set("Content-Type", fhir.ContentTypeFHIRJSON)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"resourceType":"DocumentReference","id":"doc-42"}`))
	}))
	defer srv.Close()

	res, err := fhir.NewClient(srv.Client()).CreateDocumentReference(context.Background(), srv.URL+"/R4/", "access-1", testDoc())
	require.NoError(t, err)
	require.True(t, res.OK)
	require.True(t, res.Posted)
	require.Equal(t, http.StatusCreated, res.Status)
	require.Equal(t, "doc-42", res.ResourceID)
}

func TestClient_ResourceIDFromLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://ehr.example/fhir/DocumentReference/77/_history/1")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	res, err := fhir.NewClient(srv.Client()).CreateDocumentReference(context.Background(), srv.URL, "t", testDoc())
	require.NoError(t, err)
	require.Equal(t, "77", res.ResourceID)
}

func TestClient_OperationOutcomeDiagnostics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", fhir.ContentTypeFHIRJSON)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"resourceType":"OperationOutcome","issue":[
			{"severity":"error","code":"required","diagnostics":"subject is required"},
			{"severity":"error","code":"value","diagnostics":"type.coding is invalid"}
		]}`))
	}))
	defer srv.Close()

	res, err := fhir.NewClient(srv.Client()).CreateDocumentReference(context.Background(), srv.URL, "t", testDoc())
	require.NoError(t, err)
	require.False(t, res.OK)
	require.True(t, res.Posted)
	require.Equal(t, http.StatusUnprocessableEntity, res.Status)
	require.Equal(t, "subject is required; type.coding is invalid", res.Message)
	require.Len(t, res.OperationOutcome.Issue, 2)
}

func TestClient_RawBodyFallbackAndWWWAuthenticate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="expired"`)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("token expired\n"))
	}))
	defer srv.Close()

	res, err := fhir.NewClient(srv.Client()).CreateDocumentReference(context.Background(), srv.URL, "t", testDoc())
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, "token expired", res.Message)
	require.Nil(t, res.OperationOutcome)
	require.Equal(t, `Bearer error="invalid_token", error_description="expired"`, res.WWWAuthenticate)
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := fhir.NewClient(nil).CreateDocumentReference(context.Background(), url, "t", testDoc())
	require.Error(t, err)
}

func TestOperationOutcome_Message(t *testing.T) {
	oo := &fhir.OperationOutcome{
		ResourceType: fhir.ResourceTypeOperationOutcome,
		Issue: []fhir.OperationOutcomeIssue{
			{Severity: fhir.IssueSeverityError, Code: "invalid", Details: &fhir.CodeableConcept{Text: "bad reference"}},
			{Severity: fhir.IssueSeverityWarning, Code: "informational"},
			{Severity: fhir.IssueSeverityError, Code: "invalid", Diagnostics: "  missing content  "},
		},
	}
	require.Equal(t, "bad reference; missing content", oo.Message())

	_, ok := fhir.ParseOperationOutcome([]byte(`{"resourceType":"Bundle"}`))
	require.False(t, ok)
	_, ok = fhir.ParseOperationOutcome([]byte(`<html>`))
	require.False(t, ok)
}
