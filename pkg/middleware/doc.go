// Package middleware provides the HTTP middleware chain for the API
// server: request-ID assignment, request logging, panic recovery, caller
// identification from the trusted gateway header, and per-caller rate
// limiting.
package middleware
