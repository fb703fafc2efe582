package fhir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-ehr-connect/session"
	"github.com/rs/zerolog/log"
)

const maxResponseBody = 1 << 20

// SubmitResult is the caller-facing outcome of a submission. Posted is true
// once the FHIR server answered, whatever the status.
type SubmitResult struct {
	OK               bool              `json:"ok"`
	Posted           bool              `json:"posted"`
	Status           int               `json:"status"`
	ResourceID       string            `json:"resourceId,omitempty"`
	Message          string            `json:"message,omitempty"`
	OperationOutcome *OperationOutcome `json:"operationOutcome,omitempty"`
	WWWAuthenticate  string            `json:"wwwAuthenticate,omitempty"`
}

type Client struct {
	httpClient *http.Client
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient}
}

// CreateDocumentReference posts doc to <fhirBase>/DocumentReference. A
// non-2xx answer is reported in the result, not as an error.
func (c *Client) CreateDocumentReference(ctx context.Context, fhirBase, accessToken string, doc *DocumentReference) (*SubmitResult, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("[fhir Client] encode DocumentReference: %w", err)
	}

	endpoint := strings.TrimRight(fhirBase, "/") + "/" + ResourceTypeDocumentReference
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("[fhir Client] build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", ContentTypeFHIRJSON)
	req.Header.Set("Accept", ContentTypeFHIRJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("[fhir Client] POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("[fhir Client] read response: %w", err)
	}

	result := &SubmitResult{
		Posted:          true,
		Status:          resp.StatusCode,
		WWWAuthenticate: resp.Header.Get("WWW-Authenticate"),
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.OK = true
		result.ResourceID = resourceID(respBody, resp.Header.Get("Location"))
		log.Debug().Int("status", resp.StatusCode).Str("resourceId", result.ResourceID).Msg("[fhir Client] DocumentReference created")
		return result, nil
	}

	if oo, ok := ParseOperationOutcome(respBody); ok {
		result.OperationOutcome = oo
		result.Message = oo.Message()
	}
	if result.Message == "" {
		result.Message = strings.TrimSpace(string(respBody))
	}
	if result.Message == "" {
		result.Message = http.StatusText(resp.StatusCode)
	}
	log.Warn().Int("status", resp.StatusCode).Str("message", result.Message).Msg("[fhir Client] DocumentReference rejected")
	return result, nil
}

// resourceID takes the id from the response body, else from a Location of
// the form [base/]DocumentReference/<id>[/_history/<vid>].
func resourceID(body []byte, location string) string {
	var created struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(body, &created) == nil && created.ID != "" {
		return created.ID
	}
	if location == "" {
		return ""
	}
	rel := session.TrimToRelative(location)
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		return rel[i+1:]
	}
	return ""
}
