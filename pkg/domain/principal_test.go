package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrincipal_InAnyRole(t *testing.T) {
	p := Principal{ID: "jdoe", Roles: []RoleID{"Sales", "HR-Admins"}}

	assert.True(t, p.InAnyRole([]RoleID{"Domain Admins", "HR-Admins"}))
	assert.False(t, p.InAnyRole([]RoleID{"hr-admins"}), "role names are case-sensitive")
	assert.False(t, p.InAnyRole([]RoleID{"Domain Admins"}))
	assert.False(t, p.InAnyRole(nil))
	assert.False(t, Principal{ID: "x"}.InAnyRole([]RoleID{"Sales"}))
}
