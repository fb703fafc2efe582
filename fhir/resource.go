// Package fhir holds the FHIR R4 types used for DocumentReference submission
// and the client that posts them.
package fhir

import (
	"bytes"
	"encoding/json"
)

const (
	ContentTypeFHIRJSON = "application/fhir+json"

	ResourceTypeDocumentReference = "DocumentReference"
	ResourceTypeOperationOutcome  = "OperationOutcome"

	LOINCSystem          = "http://loinc.org"
	LOINCProgressNote    = "11506-3"
	LOINCProgressDisplay = "Progress note"
)

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

func (r *Reference) IsEmpty() bool {
	return r == nil || r.Reference == ""
}

type Attachment struct {
	ContentType string `json:"contentType,omitempty"`
	Language    string `json:"language,omitempty"`
	Data        string `json:"data,omitempty"`
	URL         string `json:"url,omitempty"`
	Size        *int64 `json:"size,omitempty"`
	Hash        string `json:"hash,omitempty"`
	Title       string `json:"title,omitempty"`
	Creation    string `json:"creation,omitempty"`
}

// extraFields keeps JSON members a typed struct does not model so they
// survive a decode/encode round trip.
type extraFields map[string]json.RawMessage

// decodeWithExtras decodes data into v (an alias type without custom
// methods) and returns the members whose names are not in known.
func decodeWithExtras(data []byte, v interface{}, known ...string) (extraFields, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, name := range known {
		delete(all, name)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// encodeWithExtras encodes v and merges extras in. Modelled members win over
// extras of the same name.
func encodeWithExtras(v interface{}, extras extraFields) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extras) == 0 {
		return data, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for name, raw := range extras {
		if _, ok := merged[name]; !ok {
			merged[name] = raw
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(merged); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
