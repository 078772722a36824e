package apikey

import "errors"

var (
	// ErrNotFound is returned when no key matches the requested hash or id.
	ErrNotFound = errors.New("api key not found")
	// ErrInactive is returned for keys that are revoked or expired.
	ErrInactive = errors.New("api key is revoked or expired")
)
