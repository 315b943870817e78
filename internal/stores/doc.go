// Package stores implements the identity, MFA record and reset-token stores.
//
// Two backends are provided: Memory, guarded by a single mutex, and Manager,
// which runs over database/sql against PostgreSQL (pgx) or SQLite (modernc).
// The SQL schema enforces at most one MFA record and one reset token per
// identity with UNIQUE(user_id), and reset-token consumption is a
// compare-and-set inside the same transaction as the password update.
//
// Lookups that miss return identity.ErrNotFound.
package stores
