package handler

import (
	"time"

	"permguard/internal/permission/models"
)

type EffectivePermissionResponse struct {
	SubjectKind string    `json:"subject_kind"`
	SubjectID   string    `json:"subject_id"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	HasAccess   bool      `json:"has_access"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
}

type PermissionListResponse struct {
	Permissions []EffectivePermissionResponse `json:"permissions"`
}

type AuditResponse struct {
	ID          string    `json:"id"`
	SubjectKind string    `json:"subject_kind"`
	SubjectID   string    `json:"subject_id"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	OldValue    bool      `json:"old_value"`
	NewValue    bool      `json:"new_value"`
	FirstGrant  bool      `json:"first_grant"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
}

type AuditListResponse struct {
	Audits []AuditResponse `json:"audits"`
}

type MutationResponse struct {
	Changed bool           `json:"changed"`
	Audit   *AuditResponse `json:"audit,omitempty"`
}

type CheckResponse struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Allowed  bool   `json:"allowed"`
}

type DataAccessLogResponse struct {
	ID               string    `json:"id"`
	AccessedUserID   string    `json:"accessed_user_id"`
	AccessedByUserID string    `json:"accessed_by_user_id"`
	Action           string    `json:"action"`
	DataCategory     string    `json:"data_category"`
	AccessGroupID    string    `json:"access_group_id"`
	CreatedAt        time.Time `json:"created_at"`
	Anonymized       bool      `json:"anonymized"`
}

type DataAccessLogListResponse struct {
	Entries []DataAccessLogResponse `json:"entries"`
}

type DescriptionResponse struct {
	Resource       string   `json:"resource"`
	Action         string   `json:"action"`
	ActionLabel    string   `json:"action_label"`
	ActionCategory string   `json:"action_category"`
	Description    string   `json:"description"`
	DataCategories []string `json:"data_categories"`
}

type CatalogueResponse struct {
	Permissions []DescriptionResponse `json:"permissions"`
}

func fromEffective(perms []models.EffectivePermission) PermissionListResponse {
	out := make([]EffectivePermissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, EffectivePermissionResponse{
			SubjectKind: string(p.Subject.Kind),
			SubjectID:   p.Subject.ID,
			Resource:    p.Resource,
			Action:      string(p.Action),
			HasAccess:   p.HasAccess,
			CreatedAt:   p.CreatedAt,
			CreatedBy:   p.CreatedBy.String(),
		})
	}
	return PermissionListResponse{Permissions: out}
}

func fromAudit(a models.AuditRecord) AuditResponse {
	return AuditResponse{
		ID:          a.ID.String(),
		SubjectKind: string(a.Subject.Kind),
		SubjectID:   a.Subject.ID,
		Resource:    a.Resource,
		Action:      string(a.Action),
		OldValue:    a.OldValue,
		NewValue:    a.NewValue,
		FirstGrant:  a.FirstGrant,
		CreatedAt:   a.CreatedAt,
		CreatedBy:   a.CreatedBy.String(),
	}
}

func fromAudits(audits []models.AuditRecord) AuditListResponse {
	out := make([]AuditResponse, 0, len(audits))
	for _, a := range audits {
		out = append(out, fromAudit(a))
	}
	return AuditListResponse{Audits: out}
}

func fromMutation(res models.MutationResult) MutationResponse {
	resp := MutationResponse{Changed: res.Changed}
	if res.Audit != nil {
		a := fromAudit(*res.Audit)
		resp.Audit = &a
	}
	return resp
}

func fromDataAccess(entries []models.DataAccessLogEntry) DataAccessLogListResponse {
	out := make([]DataAccessLogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, DataAccessLogResponse{
			ID:               e.ID.String(),
			AccessedUserID:   e.AccessedUserID.String(),
			AccessedByUserID: e.AccessedByUserID.String(),
			Action:           string(e.Action),
			DataCategory:     string(e.DataCategory),
			AccessGroupID:    e.AccessGroupID.String(),
			CreatedAt:        e.CreatedAt,
			Anonymized:       e.Anonymized,
		})
	}
	return DataAccessLogListResponse{Entries: out}
}

func fromDescriptions(descs []models.Description) CatalogueResponse {
	out := make([]DescriptionResponse, 0, len(descs))
	for _, d := range descs {
		cats := make([]string, 0, len(d.DataCategories()))
		for _, c := range d.DataCategories() {
			cats = append(cats, string(c))
		}
		out = append(out, DescriptionResponse{
			Resource:       d.Resource,
			Action:         string(d.Action),
			ActionLabel:    d.Action.Label(),
			ActionCategory: string(d.Action.Category()),
			Description:    d.Text,
			DataCategories: cats,
		})
	}
	return CatalogueResponse{Permissions: out}
}
