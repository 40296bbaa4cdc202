package testutil

import (
	"net/http"
	"time"

	id "permguard/pkg/domain"
	"permguard/pkg/requestcontext"
)

// AsPrincipal authenticates req as the given user, the way the auth
// middleware would after validating a bearer token.
func AsPrincipal(req *http.Request, userID string, roles ...string) *http.Request {
	p := id.Principal{ID: id.UserID(userID), AccountName: userID}
	for _, r := range roles {
		p.Roles = append(p.Roles, id.RoleID(r))
	}
	return req.WithContext(requestcontext.WithPrincipal(req.Context(), p))
}

// AtTime pins the request time read by requestcontext.Now.
func AtTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
