// Package httpapi exposes the engine over HTTP with gin.
//
// Every request first passes the engine's request filter, which attaches the
// bearer identity to the request context when a valid token is present.
// Handlers of protected routes are wrapped in requireAuth, which rejects
// anonymous callers with 401.
package httpapi
