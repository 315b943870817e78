// Package middleware adapts the engine's request filter to net/http.
//
// Authenticate runs the filter on every request and attaches the resolved
// principal to the request context. It never rejects. RequireAuthenticated
// and RequireRole are the downstream guards that turn an anonymous or
// under-privileged request into 401 or 403.
package middleware
