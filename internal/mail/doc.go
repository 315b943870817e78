// Package mail delivers the password reset email and renders its HTML body.
package mail
