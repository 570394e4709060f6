package token

import "errors"

// Public, stable errors for callers.
var (
	ErrMalformedToken = errors.New("malformed token")
)
