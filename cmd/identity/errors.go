package identity

import (
	"errors"
	"strings"
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// - Kind MUST be one of the sentinel kinds.
// - Reason is an optional finer-grained sentinel owned by the failing package.
// - Msg is human-readable and must not include secrets.
type OpError struct {
	Op     string
	Kind   error
	Reason error
	Msg    string
}

func (e OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Kind != nil {
		b.WriteString(": ")
		b.WriteString(e.Kind.Error())
	}
	if e.Reason != nil {
		b.WriteString(": ")
		b.WriteString(e.Reason.Error())
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

// Unwrap exposes both Kind and Reason to errors.Is / errors.As.
func (e OpError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Reason != nil {
		out = append(out, e.Reason)
	}
	return out
}

// Message returns the caller-facing text: Msg when set, otherwise the reason.
func (e OpError) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Reason != nil {
		return e.Reason.Error()
	}
	if e.Kind != nil {
		return e.Kind.Error()
	}
	return "error"
}

// ConflictError reports a uniqueness/constraint conflict for a specific logical field.
// Field should be a stable logical name: "email", "invite_code", "membership", ...
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return e.Op + ": " + ErrConflict.Error()
	}
	return e.Op + ": " + ErrConflict.Error() + ": " + e.Field
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing referenced resource (e.g., FK violation) or missing row.
type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return e.Op + ": " + ErrNotFound.Error()
	}
	return e.Op + ": " + ErrNotFound.Error() + ": " + e.Resource
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// IsConflict reports whether err represents ErrConflict (including ConflictError).
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err represents ErrNotFound (including NotFoundError).
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsForbidden reports whether err represents ErrForbidden.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsBadRequest reports whether err represents ErrBadRequest.
func IsBadRequest(err error) bool { return errors.Is(err, ErrBadRequest) }

// IsUnauthorized reports whether err represents ErrUnauthorized.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }
