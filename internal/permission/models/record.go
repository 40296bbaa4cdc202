package models

import (
	"time"

	"github.com/google/uuid"

	id "permguard/pkg/domain"
)

// Record is a stored grant. At most one live record exists per
// (subject, resource, action); a change replaces the row.
type Record struct {
	ID        uuid.UUID
	Subject   Subject
	Resource  string
	Action    Action
	HasAccess bool
	CreatedAt time.Time
	CreatedBy id.UserID
}

// Key returns the (resource, action) the record applies to.
func (r Record) Key() PermissionKey {
	return PermissionKey{Resource: r.Resource, Action: r.Action}
}

// Effective strips the storage identity from r.
func (r Record) Effective() EffectivePermission {
	return EffectivePermission{
		Subject:   r.Subject,
		Resource:  r.Resource,
		Action:    r.Action,
		HasAccess: r.HasAccess,
		CreatedAt: r.CreatedAt,
		CreatedBy: r.CreatedBy,
	}
}

// EffectivePermission is one entry of a resolved permission set. Subject
// tells whether the decision came from a user override or from a role.
type EffectivePermission struct {
	Subject   Subject   `json:"subject"`
	Resource  string    `json:"resource"`
	Action    Action    `json:"action"`
	HasAccess bool      `json:"has_access"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy id.UserID `json:"created_by"`
}

func (p EffectivePermission) Key() PermissionKey {
	return PermissionKey{Resource: p.Resource, Action: p.Action}
}

// Grants reports whether p allows the operation identified by key.
func (p EffectivePermission) Grants(key PermissionKey) bool {
	return p.HasAccess && p.Key() == key
}
