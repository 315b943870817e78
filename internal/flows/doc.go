// Package flows holds the orchestration of the engine's multi-step operations.
//
// Each Run* function takes a typed dependency struct built once by the root
// engine and returns results without side effects beyond those dependencies.
// Stores, the token codec, the limiter, audit and metrics stay owned by the
// engine; flows only sequence calls to them.
//
// This package must not import the root identity package and keeps no state
// between calls.
package flows
