// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets values; services read them. Keeping this package free of
// net/http lets the permission services depend on it without pulling in
// transport code.
//
//	principal, ok := requestcontext.Principal(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests inject values directly:
//
//	ctx = requestcontext.WithPrincipal(ctx, domain.Principal{ID: "jdoe"})
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "permguard/pkg/domain"
)

type (
	principalKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyPrincipal   = principalKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Principal
// -----------------------------------------------------------------------------

// Principal returns the authenticated caller, if any.
func Principal(ctx context.Context) (*id.Principal, bool) {
	p, ok := ctx.Value(ContextKeyPrincipal).(*id.Principal)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}

// WithPrincipal injects the authenticated caller. The value is copied so a
// later mutation of the caller's struct cannot leak into this request.
func WithPrincipal(ctx context.Context, p id.Principal) context.Context {
	roles := append([]id.RoleID(nil), p.Roles...)
	p.Roles = roles
	return context.WithValue(ctx, ContextKeyPrincipal, &p)
}

// UserID returns the authenticated user id or the zero value.
func UserID(ctx context.Context) id.UserID {
	if p, ok := Principal(ctx); ok {
		return p.ID
	}
	return ""
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
