// Package httpmiddleware provides the HTTP middleware chain for the coupon
// API: panic recovery, request identification, request logging, CORS, and
// rate limiting.
package httpmiddleware

import "net/http"

// Middleware wraps an http.Handler with additional behaviour.
type Middleware func(http.Handler) http.Handler

// Wrap applies middlewares to h in reverse order, so the first middleware in
// the list is the outermost one.
func Wrap(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
