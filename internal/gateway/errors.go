package gateway

import "errors"

// Sentinel errors driving the HTTP status mapping in respond.go, per the
// error taxonomy of spec.md §7.
var (
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrNotFound     = errors.New("not found")
)
