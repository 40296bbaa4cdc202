package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "permguard/pkg/domain-errors"
)

// TestParseUserID_Invariants validates the parsing invariant:
// "names are non-empty, trimmed, printable and bounded".
func TestParseUserID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseUserID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects whitespace only", func(t *testing.T) {
		_, err := ParseUserID("   ")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects control characters", func(t *testing.T) {
		_, err := ParseUserID("jdoe\x00admin")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects oversized names", func(t *testing.T) {
		_, err := ParseRoleID(strings.Repeat("r", maxNameLength+1))
		require.Error(t, err)
	})

	t.Run("trims surrounding whitespace", func(t *testing.T) {
		id, err := ParseUserID("  jdoe ")
		require.NoError(t, err)
		assert.Equal(t, UserID("jdoe"), id)
	})
}

func TestParseAccessGroupID(t *testing.T) {
	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseAccessGroupID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseAccessGroupID("not-a-uuid")
		require.Error(t, err)
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		u := uuid.New()
		id, err := ParseAccessGroupID(u.String())
		require.NoError(t, err)
		assert.Equal(t, AccessGroupID(u), id)
		assert.False(t, id.IsNil())
	})
}

// TestTypeDistinction documents that user and role ids do not mix.
func TestTypeDistinction(t *testing.T) {
	userID := UserID("ops")
	roleID := RoleID("ops")

	// var _ UserID = roleID // compile error
	assert.Equal(t, userID.String(), roleID.String())
}
