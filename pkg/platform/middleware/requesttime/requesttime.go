// Package requesttime pins one "now" per request, so audit records, grants
// and data-access entries written while serving it share a timestamp.
package requesttime

import (
	"net/http"
	"time"

	"permguard/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
