package models

import (
	id "permguard/pkg/domain"
	dErrors "permguard/pkg/domain-errors"
)

// SubjectKind discriminates user-level from role-level grants.
type SubjectKind string

const (
	SubjectKindUser SubjectKind = "user"
	SubjectKindRole SubjectKind = "role"
)

// Subject is the holder of a grant: exactly one user or one role.
type Subject struct {
	Kind SubjectKind `json:"kind"`
	ID   string      `json:"id"`
}

func UserSubject(userID id.UserID) Subject {
	return Subject{Kind: SubjectKindUser, ID: userID.String()}
}

func RoleSubject(roleID id.RoleID) Subject {
	return Subject{Kind: SubjectKindRole, ID: roleID.String()}
}

func (s Subject) IsUser() bool { return s.Kind == SubjectKindUser }
func (s Subject) IsRole() bool { return s.Kind == SubjectKindRole }

// CacheKey is the namespaced key for the subject's resolved permissions.
func (s Subject) CacheKey() string {
	return string(s.Kind) + ":" + s.ID
}

func (s Subject) String() string { return s.CacheKey() }

// Validate rejects subjects a caller should never have built.
func (s Subject) Validate() error {
	if s.Kind != SubjectKindUser && s.Kind != SubjectKindRole {
		return dErrors.New(dErrors.CodeInvariantViolation, "subject kind must be user or role")
	}
	if s.ID == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "subject id is required")
	}
	return nil
}
