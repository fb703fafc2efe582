package fhir_test

import (
	"encoding/json"
	"testing"

	"github.com/jrsteele09/go-ehr-connect/fhir"
	"github.com/jrsteele09/go-ehr-connect/internal/errors"
	"github.com/jrsteele09/go-ehr-connect/session"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `{
	"resourceType": "DocumentReference",
	"status": "current",
	"meta": {"profile": ["http://hl7.org/fhir/us/core/StructureDefinition/us-core-documentreference"]},
	"identifier": [{"system": "urn:notes", "value": "r-1"}],
	"content": [{"attachment": {"contentType": "text/plain", "data": "aGVsbG8="}}],
	"context": {"period": {"start": "2026-01-01T10:00:00Z"}}
}`

func TestDocumentReference_PreservesUnknownMembers(t *testing.T) {
	var doc fhir.DocumentReference
	require.NoError(t, json.Unmarshal([]byte(sampleDoc), &doc))

	_, ok := doc.Extra("identifier")
	require.True(t, ok)

	require.NoError(t, fhir.Prepare(&doc, session.LaunchContext{Patient: "p-1", Encounter: "e-1"}))

	out, err := json.Marshal(doc)
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &wire))
	require.Contains(t, wire, "meta")
	require.Contains(t, wire, "identifier")

	ctx := wire["context"].(map[string]interface{})
	require.Contains(t, ctx, "period")
	require.Equal(t, "Encounter/e-1", ctx["encounter"].([]interface{})[0].(map[string]interface{})["reference"])
}

func TestPrepare_FillsFromLaunchContext(t *testing.T) {
	doc := &fhir.DocumentReference{
		Content: []fhir.DocumentReferenceContent{{Attachment: fhir.Attachment{ContentType: "text/plain", Data: "aGk="}}},
	}
	lc := session.LaunchContext{
		Patient:   "p-1",
		Encounter: "Encounter/e-9",
		FHIRUser:  "https://ehr.example/fhir/Practitioner/dr-1",
	}

	require.NoError(t, fhir.Prepare(doc, lc))
	require.Equal(t, fhir.ResourceTypeDocumentReference, doc.ResourceType)
	require.Equal(t, fhir.DocumentStatusCurrent, doc.Status)
	require.Empty(t, doc.DocStatus)
	require.Equal(t, "Patient/p-1", doc.Subject.Reference)
	require.Equal(t, []fhir.Reference{{Reference: "Practitioner/dr-1"}}, doc.Author)
	require.Equal(t, []fhir.Reference{{Reference: "Encounter/e-9"}}, doc.Context.Encounter)
	require.Equal(t, []fhir.Coding{{System: fhir.LOINCSystem, Code: fhir.LOINCProgressNote, Display: fhir.LOINCProgressDisplay}}, doc.Type.Coding)
}

func TestPrepare_KeepsCallerValues(t *testing.T) {
	doc := &fhir.DocumentReference{
		ResourceType: "DocumentReference",
		Status:       "superseded",
		Subject:      &fhir.Reference{Reference: "Patient/mine"},
		Author:       []fhir.Reference{{Reference: "Practitioner/mine"}},
		Type:         &fhir.CodeableConcept{Coding: []fhir.Coding{{System: fhir.LOINCSystem, Code: "34117-2"}}},
		Context:      &fhir.DocumentReferenceContext{Encounter: []fhir.Reference{{Reference: "Encounter/mine"}}},
		Content:      []fhir.DocumentReferenceContent{{Attachment: fhir.Attachment{URL: "Binary/1"}}},
	}
	require.NoError(t, fhir.Prepare(doc, session.LaunchContext{Patient: "p", Practitioner: "dr", Encounter: "e"}))

	require.Equal(t, "superseded", doc.Status)
	require.Equal(t, "Patient/mine", doc.Subject.Reference)
	require.Equal(t, "Practitioner/mine", doc.Author[0].Reference)
	require.Len(t, doc.Context.Encounter, 1)
	require.Equal(t, "34117-2", doc.Type.Coding[0].Code)
}

func TestPrepare_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  *fhir.DocumentReference
	}{
		{name: "nil document", doc: nil},
		{name: "empty content", doc: &fhir.DocumentReference{Content: []fhir.DocumentReferenceContent{}}},
		{name: "attachment without data", doc: &fhir.DocumentReference{Content: []fhir.DocumentReferenceContent{{Attachment: fhir.Attachment{ContentType: "text/plain"}}}}},
		{name: "wrong resource type", doc: &fhir.DocumentReference{ResourceType: "Observation", Content: []fhir.DocumentReferenceContent{{Attachment: fhir.Attachment{Data: "eA=="}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, fhir.Validate(tt.doc), errors.ErrProfileValidation)
			require.ErrorIs(t, fhir.Prepare(tt.doc, session.LaunchContext{Patient: "p"}), errors.ErrProfileValidation)
		})
	}
}

func TestValidate_LeavesLaunchContextFieldsAlone(t *testing.T) {
	doc := &fhir.DocumentReference{
		Content: []fhir.DocumentReferenceContent{{Attachment: fhir.Attachment{URL: "https://files.example/n.txt"}}},
	}
	require.NoError(t, fhir.Validate(doc))
	require.Equal(t, fhir.ResourceTypeDocumentReference, doc.ResourceType)
	require.Nil(t, doc.Subject)
	require.Empty(t, doc.Status)
}

func TestPrepare_PractitionerOnlyFromPractitionerFHIRUser(t *testing.T) {
	doc := &fhir.DocumentReference{
		Content: []fhir.DocumentReferenceContent{{Attachment: fhir.Attachment{Data: "eA=="}}},
	}
	require.NoError(t, fhir.Prepare(doc, session.LaunchContext{Patient: "p", FHIRUser: "Patient/p"}))
	require.Empty(t, doc.Author)
}
