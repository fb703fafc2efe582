// Package notes looks up locally stored clinical notes so a legacy
// submission that only names a report can be turned into a DocumentReference.
package notes

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/jrsteele09/go-ehr-connect/fhir"
	"github.com/jrsteele09/go-ehr-connect/internal/utils"
)

const plainTextUTF8 = "text/plain; charset=utf-8"

type Note struct {
	ID        string    `db:"id" json:"id"`
	ReportID  string    `db:"report_id" json:"reportId"`
	Title     string    `db:"title" json:"title"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Store finds the latest note for a report. Missing reports return
// errors.ErrNotFound.
type Store interface {
	Lookup(ctx context.Context, reportID string) (*Note, error)
}

// ToDocumentReference wraps the note body as a base64 text/plain attachment.
// Subject, author and type are left for fhir.Prepare.
func ToDocumentReference(n *Note) *fhir.DocumentReference {
	date := ""
	if !n.CreatedAt.IsZero() {
		date = n.CreatedAt.UTC().Format(time.RFC3339)
	}
	return &fhir.DocumentReference{
		ResourceType: fhir.ResourceTypeDocumentReference,
		Status:       fhir.DocumentStatusCurrent,
		Date:         date,
		Description:  n.Title,
		Content: []fhir.DocumentReferenceContent{{
			Attachment: fhir.Attachment{
				ContentType: plainTextUTF8,
				Data:        base64.StdEncoding.EncodeToString([]byte(n.Body)),
				Size:        utils.Ptr(int64(len(n.Body))),
				Title:       n.Title,
				Creation:    date,
			},
		}},
	}
}
