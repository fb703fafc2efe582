package server

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jrsteele09/go-ehr-connect/refresh"
)

type LaunchQuery struct {
	FHIRBase string `validate:"required,http_url"`
	Launch   string `validate:"omitempty,max=4096"`
	Debug    string `validate:"omitempty,oneof=0 1 true false"`
}

func (q LaunchQuery) DebugRequested() bool {
	return q.Debug == "1" || q.Debug == "true"
}

type RefreshRequest struct {
	Reason refresh.Reason `json:"reason" validate:"omitempty,oneof=manual visibility"`
}

// SubmitRequest distinguishes a full resource from a legacy note reference.
type SubmitRequest struct {
	ResourceType string `json:"resourceType"`
	ReportID     string `json:"reportId" validate:"required_without=ResourceType,max=256"`
}

// validationMessage flattens validator errors into one line.
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
