package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "permguard/pkg/domain-errors"
)

func TestAction(t *testing.T) {
	t.Run("every action has a category", func(t *testing.T) {
		for _, a := range Actions() {
			assert.True(t, a.IsValid(), a)
			assert.NotEmpty(t, a.Category(), a)
		}
	})

	t.Run("categories", func(t *testing.T) {
		assert.Equal(t, ActionCategoryRead, ActionViewDetails.Category())
		assert.Equal(t, ActionCategoryWrite, ActionDelete.Category())
		assert.Equal(t, ActionCategoryTransfer, ActionExport.Category())
		assert.Equal(t, ActionCategoryWorkflow, ActionToggle.Category())
	})

	t.Run("parse is case-insensitive", func(t *testing.T) {
		a, err := ParseAction(" View_Details ")
		require.NoError(t, err)
		assert.Equal(t, ActionViewDetails, a)
	})

	t.Run("parse rejects unknown actions", func(t *testing.T) {
		_, err := ParseAction("launch")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("data exposing actions", func(t *testing.T) {
		for _, a := range []Action{ActionViewIndex, ActionViewDetails, ActionExport, ActionDownload} {
			assert.True(t, a.ExposesData(), a)
		}
		for _, a := range []Action{ActionCreate, ActionUpdate, ActionUpload, ActionApprove} {
			assert.False(t, a.ExposesData(), a)
		}
	})
}

func TestDescription(t *testing.T) {
	t.Run("categories are deduplicated and copied on read", func(t *testing.T) {
		d := NewDescription("Employee", ActionViewDetails, "View employee",
			DataCategoryPersonalIdentity, DataCategoryContactInformation, DataCategoryPersonalIdentity)

		cats := d.DataCategories()
		assert.Equal(t, []DataCategory{DataCategoryPersonalIdentity, DataCategoryContactInformation}, cats)

		cats[0] = DataCategorySickDays
		assert.Equal(t, DataCategoryPersonalIdentity, d.DataCategories()[0])
		assert.True(t, d.ContainsPersonalData())
	})

	t.Run("no categories means no personal data", func(t *testing.T) {
		d := NewDescription("Item", ActionCreate, "Create item")
		assert.False(t, d.ContainsPersonalData())
		assert.Empty(t, d.DataCategories())
		assert.Equal(t, PermissionKey{Resource: "Item", Action: ActionCreate}, d.Key())
	})
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "user:jdoe", UserSubject("jdoe").CacheKey())
	assert.Equal(t, "role:Sales", RoleSubject("Sales").CacheKey())
	assert.NotEqual(t, UserSubject("x").CacheKey(), RoleSubject("x").CacheKey())

	require.NoError(t, UserSubject("jdoe").Validate())

	err := UserSubject("").Validate()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	err = Subject{Kind: "group", ID: "x"}.Validate()
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestEffectivePermission_Grants(t *testing.T) {
	key := PermissionKey{Resource: "Item", Action: ActionCreate}
	assert.True(t, EffectivePermission{Resource: "Item", Action: ActionCreate, HasAccess: true}.Grants(key))
	assert.False(t, EffectivePermission{Resource: "Item", Action: ActionCreate}.Grants(key))
	assert.False(t, EffectivePermission{Resource: "Item", Action: ActionUpdate, HasAccess: true}.Grants(key))
}
