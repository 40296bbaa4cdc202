package domain

import "slices"

// Principal is the authenticated caller as supplied by the identity provider.
// It carries identity only; effective permissions are resolved per request and
// never attached here.
type Principal struct {
	ID          UserID
	AccountName string
	Roles       []RoleID
}

// InAnyRole reports whether the principal is a member of any of roles. Role
// names match exactly, as they do for stored grants and directory lookups.
func (p Principal) InAnyRole(roles []RoleID) bool {
	for _, have := range p.Roles {
		if slices.Contains(roles, have) {
			return true
		}
	}
	return false
}
