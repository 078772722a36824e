package auth

import "errors"

var (
	// ErrUnauthorized means no valid credential was presented. Callers must not reveal which
	// check failed.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the principal lacks the capability a route requires.
	ErrForbidden = errors.New("forbidden")
)
