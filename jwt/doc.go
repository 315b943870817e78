// Package jwt encodes and decodes the service bearer token: a signed, time-bounded
// assertion carrying the subject email, the role set and the numeric user id.
//
// Two read paths exist. [Manager.Verify] checks signature and expiry and is what the
// request filter uses. [Manager.Extract] checks the signature only, so a refresh
// endpoint can read an expired but untampered token and mint a new one.
//
// No clock-skew leeway is applied to expiry.
package jwt
