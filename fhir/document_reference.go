package fhir

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-ehr-connect/internal/errors"
	"github.com/jrsteele09/go-ehr-connect/session"
)

const (
	DocumentStatusCurrent = "current"
)

type DocumentReferenceContent struct {
	Attachment Attachment `json:"attachment"`
	Format     *Coding    `json:"format,omitempty"`
}

// DocumentReferenceContext is the clinical context of the document. Members
// other than encounter are passed through untouched.
type DocumentReferenceContext struct {
	Encounter []Reference `json:"encounter,omitempty"`

	extras extraFields
}

type documentReferenceContextJSON DocumentReferenceContext

func (c *DocumentReferenceContext) UnmarshalJSON(data []byte) error {
	var aux documentReferenceContextJSON
	extras, err := decodeWithExtras(data, &aux, "encounter")
	if err != nil {
		return err
	}
	*c = DocumentReferenceContext(aux)
	c.extras = extras
	return nil
}

func (c DocumentReferenceContext) MarshalJSON() ([]byte, error) {
	return encodeWithExtras(documentReferenceContextJSON(c), c.extras)
}

// DocumentReference is the subset of the FHIR R4 resource this service reads
// or repairs. Any other member sent by a caller is kept and re-sent.
type DocumentReference struct {
	ResourceType string                     `json:"resourceType"`
	ID           string                     `json:"id,omitempty"`
	Status       string                     `json:"status,omitempty"`
	DocStatus    string                     `json:"docStatus,omitempty"`
	Type         *CodeableConcept           `json:"type,omitempty"`
	Category     []CodeableConcept          `json:"category,omitempty"`
	Subject      *Reference                 `json:"subject,omitempty"`
	Date         string                     `json:"date,omitempty"`
	Author       []Reference                `json:"author,omitempty"`
	Description  string                     `json:"description,omitempty"`
	Content      []DocumentReferenceContent `json:"content"`
	Context      *DocumentReferenceContext  `json:"context,omitempty"`

	extras extraFields
}

type documentReferenceJSON DocumentReference

var documentReferenceMembers = []string{
	"resourceType", "id", "status", "docStatus", "type", "category", "subject",
	"date", "author", "description", "content", "context",
}

func (d *DocumentReference) UnmarshalJSON(data []byte) error {
	var aux documentReferenceJSON
	extras, err := decodeWithExtras(data, &aux, documentReferenceMembers...)
	if err != nil {
		return err
	}
	*d = DocumentReference(aux)
	d.extras = extras
	return nil
}

func (d DocumentReference) MarshalJSON() ([]byte, error) {
	return encodeWithExtras(documentReferenceJSON(d), d.extras)
}

// Extra returns a passthrough member by name.
func (d *DocumentReference) Extra(name string) (json.RawMessage, bool) {
	raw, ok := d.extras[name]
	return raw, ok
}

// Validate checks what can be checked without a session: the resource type
// and non-empty content whose attachments carry data or a url. A missing
// resourceType is set.
func Validate(doc *DocumentReference) error {
	if doc == nil {
		return fmt.Errorf("%w: document is required", errors.ErrProfileValidation)
	}
	if doc.ResourceType == "" {
		doc.ResourceType = ResourceTypeDocumentReference
	}
	if doc.ResourceType != ResourceTypeDocumentReference {
		return fmt.Errorf("%w: resourceType %q is not %s", errors.ErrProfileValidation, doc.ResourceType, ResourceTypeDocumentReference)
	}
	if len(doc.Content) == 0 {
		return fmt.Errorf("%w: content must not be empty", errors.ErrProfileValidation)
	}
	for i, c := range doc.Content {
		if c.Attachment.Data == "" && c.Attachment.URL == "" {
			return fmt.Errorf("%w: content[%d].attachment needs data or url", errors.ErrProfileValidation, i)
		}
	}
	return nil
}

// Prepare validates doc and repairs it in place from the session's launch
// context.
func Prepare(doc *DocumentReference, lc session.LaunchContext) error {
	if err := Validate(doc); err != nil {
		return err
	}

	if doc.Status == "" {
		doc.Status = DocumentStatusCurrent
	}

	if doc.Subject.IsEmpty() {
		if ref := lc.PatientReference(); ref != "" {
			doc.Subject = &Reference{Reference: ref}
		}
	}

	if len(doc.Author) == 0 {
		if ref := lc.PractitionerReference(); ref != "" {
			doc.Author = []Reference{{Reference: ref}}
		}
	}

	if ref := lc.EncounterReference(); ref != "" && !hasAnyEncounter(doc) {
		if doc.Context == nil {
			doc.Context = &DocumentReferenceContext{}
		}
		doc.Context.Encounter = append(doc.Context.Encounter, Reference{Reference: ref})
	}

	if doc.Type == nil || len(doc.Type.Coding) == 0 {
		if doc.Type == nil {
			doc.Type = &CodeableConcept{}
		}
		doc.Type.Coding = []Coding{{
			System:  LOINCSystem,
			Code:    LOINCProgressNote,
			Display: LOINCProgressDisplay,
		}}
		if doc.Type.Text == "" {
			doc.Type.Text = LOINCProgressDisplay
		}
	}

	return nil
}

func hasAnyEncounter(doc *DocumentReference) bool {
	if doc.Context == nil {
		return false
	}
	for _, enc := range doc.Context.Encounter {
		if strings.TrimSpace(enc.Reference) != "" {
			return true
		}
	}
	return false
}
