package session

import "errors"

var (
	// ErrInvalidToken is returned when a token fails signature, issuer or claim checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when a well-signed token is past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
