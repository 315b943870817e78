// Package rate counts failed or repeated attempts per key.
//
// Two implementations share the [Limiter] interface:
//
//   - [Redis]: fixed-window counters, INCR plus EXPIRE on the first hit, so
//     several service replicas share one budget.
//   - [Local]: in-process token buckets from golang.org/x/time/rate, for
//     single-instance deployments without Redis.
//
// Keys are built by the caller from a scope and an identifier; this package
// applies its prefix and knows nothing about logins or resets.
package rate
