package invite

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrExpired      = errors.New("invite expired")
	ErrAlreadyUsed  = errors.New("invite already used")
	ErrRevoked      = errors.New("invite revoked")
	ErrNotPending   = errors.New("invite awaiting invitee registration")
)
