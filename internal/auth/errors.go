package auth

import "errors"

var (
	// ErrMissingToken is returned when the request carries no session token.
	ErrMissingToken = errors.New("session token required")

	// ErrInvalidToken is returned when the token fails signature or claim checks.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrEmptySecret is returned by NewIssuer when no signing secret is configured.
	ErrEmptySecret = errors.New("session secret must not be empty")
)
