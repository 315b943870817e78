// Package identity is the authentication and credential-lifecycle engine of
// the identity service: bearer token issuance and validation, TOTP second
// factor enrollment and verification, single-use password reset tokens, and
// the per-request filter that resolves a bearer token into a [Principal].
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// identity is the public surface. It exposes [Engine], [Builder], [Config],
// the store and mailer interfaces, and value types. Flow orchestration, rate
// limiting, audit dispatch and the store implementations live under internal/.
//
// # What this package must NOT do
//
//   - Log reset tokens, reset links or bearer tokens.
//   - Reveal through Login or RequestPasswordReset whether an email is registered.
//   - Issue a token before every required factor has verified.
//   - Import any sub-package that re-imports identity (no import cycles).
package identity
