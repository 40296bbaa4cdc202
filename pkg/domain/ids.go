// Package domain holds identifier primitives shared across the permission
// packages. Identifiers are parsed once at trust boundaries so downstream code
// never sees an empty or malformed value.
package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "permguard/pkg/domain-errors"
)

// maxNameLength bounds account and role names; directory services cap
// sAMAccountName and group names well below this.
const maxNameLength = 256

// UserID identifies a user by account name.
type UserID string

// RoleID identifies a role (directory group) by name.
type RoleID string

// AccessGroupID ties together the data-access log rows of one request.
type AccessGroupID uuid.UUID

// AuditID identifies a policy audit record.
type AuditID uuid.UUID

func (id UserID) String() string { return string(id) }
func (id UserID) IsZero() bool   { return id == "" }

func (id RoleID) String() string { return string(id) }
func (id RoleID) IsZero() bool   { return id == "" }

func (id AccessGroupID) String() string { return uuid.UUID(id).String() }
func (id AccessGroupID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id AuditID) String() string { return uuid.UUID(id).String() }
func (id AuditID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// NewAccessGroupID returns a fresh random access group id.
func NewAccessGroupID() AccessGroupID { return AccessGroupID(uuid.New()) }

// NewAuditID returns a fresh random audit id.
func NewAuditID() AuditID { return AuditID(uuid.New()) }

// ParseUserID validates an account name.
func ParseUserID(s string) (UserID, error) {
	name, err := parseName(s, "user id")
	if err != nil {
		return "", err
	}
	return UserID(name), nil
}

// ParseRoleID validates a role name.
func ParseRoleID(s string) (RoleID, error) {
	name, err := parseName(s, "role id")
	if err != nil {
		return "", err
	}
	return RoleID(name), nil
}

// ParseAccessGroupID parses a UUID access group id.
func ParseAccessGroupID(s string) (AccessGroupID, error) {
	u, err := parseUUID(s, "access group id")
	if err != nil {
		return AccessGroupID{}, err
	}
	return AccessGroupID(u), nil
}

func parseName(s, label string) (string, error) {
	if !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeValidation, label+" must be valid UTF-8")
	}
	name := strings.TrimSpace(s)
	if name == "" {
		return "", dErrors.New(dErrors.CodeValidation, label+" is required")
	}
	if len(name) > maxNameLength {
		return "", dErrors.New(dErrors.CodeValidation, label+" is too long")
	}
	if strings.ContainsFunc(name, func(r rune) bool { return r < 0x20 || r == 0x7f }) {
		return "", dErrors.New(dErrors.CodeValidation, label+" contains control characters")
	}
	return name, nil
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, label+" cannot be nil")
	}
	return u, nil
}
