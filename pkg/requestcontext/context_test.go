package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "permguard/pkg/domain"
)

func TestPrincipal(t *testing.T) {
	t.Run("absent principal", func(t *testing.T) {
		_, ok := Principal(context.Background())
		assert.False(t, ok)
		assert.True(t, UserID(context.Background()).IsZero())
	})

	t.Run("stored principal is isolated from caller mutation", func(t *testing.T) {
		roles := []id.RoleID{"Sales"}
		ctx := WithPrincipal(context.Background(), id.Principal{ID: "jdoe", Roles: roles})
		roles[0] = "Domain Admins"

		p, ok := Principal(ctx)
		require.True(t, ok)
		assert.Equal(t, id.UserID("jdoe"), UserID(ctx))
		assert.Equal(t, []id.RoleID{"Sales"}, p.Roles)
	})
}

func TestNow(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, fixed, Now(WithTime(context.Background(), fixed)))
	assert.WithinDuration(t, time.Now(), Now(context.Background()), time.Second)
}

func TestRequestID(t *testing.T) {
	assert.Empty(t, RequestID(context.Background()))
	assert.Equal(t, "req-1", RequestID(WithRequestID(context.Background(), "req-1")))
}
