package totp

import "errors"

// ErrSecretNotFound is returned when a user has not enrolled a second factor.
var ErrSecretNotFound = errors.New("totp secret not found")
