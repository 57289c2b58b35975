// Package middleware provides HTTP middleware for the API surface:
// CORS and per-IP / global rate limiting.
package middleware
