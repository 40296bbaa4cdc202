package handler

import (
	"strings"

	"permguard/internal/permission/models"
	dErrors "permguard/pkg/domain-errors"
)

// SetPermissionRequest is the body of the grant endpoints.
type SetPermissionRequest struct {
	Resource  string `json:"resource"`
	Action    string `json:"action"`
	HasAccess *bool  `json:"has_access"`

	// Parsed values (populated by Validate)
	parsedAction models.Action
}

// Validate implements httputil.Validatable.
func (r *SetPermissionRequest) Validate() error {
	r.Resource = strings.TrimSpace(r.Resource)
	if r.Resource == "" {
		return dErrors.New(dErrors.CodeValidation, "resource is required")
	}
	if len(r.Resource) > 200 {
		return dErrors.New(dErrors.CodeValidation, "resource must be at most 200 characters")
	}
	action, err := models.ParseAction(r.Action)
	if err != nil {
		return err
	}
	if r.HasAccess == nil {
		return dErrors.New(dErrors.CodeValidation, "has_access is required")
	}
	r.parsedAction = action
	return nil
}
