package fhir

import (
	"encoding/json"
	"strings"
)

// MessageDelimiter joins the diagnostics of several issues.
const MessageDelimiter = "; "

const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

// ParseOperationOutcome decodes body when it is an OperationOutcome with at
// least one issue.
func ParseOperationOutcome(body []byte) (*OperationOutcome, bool) {
	var oo OperationOutcome
	if err := json.Unmarshal(body, &oo); err != nil {
		return nil, false
	}
	if oo.ResourceType != ResourceTypeOperationOutcome || len(oo.Issue) == 0 {
		return nil, false
	}
	return &oo, true
}

// Message joins each issue's diagnostics, or its details text when there
// are none, in issue order.
func (o *OperationOutcome) Message() string {
	if o == nil {
		return ""
	}
	parts := make([]string, 0, len(o.Issue))
	for _, issue := range o.Issue {
		text := strings.TrimSpace(issue.Diagnostics)
		if text == "" && issue.Details != nil {
			text = strings.TrimSpace(issue.Details.Text)
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, MessageDelimiter)
}
