package family

import (
	"errors"

	"hearth/cmd/identity"
	"hearth/cmd/internal/invite"
)

// Reasons carried in identity.OpError.Reason. Match with errors.Is.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotVerified   = errors.New("email verification required")
	ErrInvalidSession     = errors.New("invalid or expired session")
	ErrAlreadyInFamily    = errors.New("user already belongs to a family")
	ErrAlreadyMember      = errors.New("already a member of this family")
	ErrFamilyFull         = errors.New("family is full")
	ErrNotMember          = errors.New("not a member of this family")
	ErrNotAdmin           = errors.New("admin role required")
	ErrNoActiveFamily     = errors.New("no active family")
	ErrInviteCodeTaken    = errors.New("family invite code already in use")

	ErrInvalidInviteCode    = errors.New("invalid invite code")
	ErrInviteExpired        = invite.ErrExpired
	ErrInviteAlreadyUsed    = invite.ErrAlreadyUsed
	ErrInviteRevoked        = invite.ErrRevoked
	ErrInviteNotPending     = invite.ErrNotPending
	ErrInviteEmailMismatch  = errors.New("invite email mismatch")
	ErrDuplicateInvite      = errors.New("a pending invite already exists for this email")
	ErrUseEncryptedInvite   = errors.New("invitee already registered; use an encrypted invite")
	ErrInvalidToken         = errors.New("invalid verification token")
	ErrTokenExpired         = errors.New("verification token expired")
	ErrTokenUsed            = errors.New("verification token already used")
	ErrRateLimited          = errors.New("too many requests")
	ErrCannotRemoveSelf     = errors.New("cannot remove yourself; use account deletion instead")
	ErrCannotRemoveAdmin    = errors.New("cannot remove another admin")
	ErrAlreadyDeleted       = errors.New("account already deleted")
	ErrUserNotFound         = errors.New("user not found")
	ErrMembershipNotFound   = errors.New("membership not found")
	ErrFamilyNotFound       = errors.New("family not found")
	ErrInvalidPublicKey     = identity.ErrInvalidPublicKey
	ErrDecryptInviteeFailed = errors.New("invitee email could not be decrypted")
)

// VerificationRequiredError rejects login (and family creation) for an
// unverified address. It carries the email so the client can offer a resend.
type VerificationRequiredError struct {
	Op    string
	Email string
}

func (e VerificationRequiredError) Error() string {
	return e.Op + ": " + identity.ErrForbidden.Error() + ": " + ErrEmailNotVerified.Error()
}

func (e VerificationRequiredError) Unwrap() []error {
	return []error{identity.ErrForbidden, ErrEmailNotVerified}
}

func fail(op string, kind, reason error) error {
	return identity.OpError{Op: op, Kind: kind, Reason: reason}
}

func failMsg(op string, kind, reason error, msg string) error {
	return identity.OpError{Op: op, Kind: kind, Reason: reason, Msg: msg}
}

func badRequest(op string, reason error) error   { return fail(op, identity.ErrBadRequest, reason) }
func unauthorized(op string, reason error) error { return fail(op, identity.ErrUnauthorized, reason) }
func forbidden(op string, reason error) error    { return fail(op, identity.ErrForbidden, reason) }
func conflict(op string, reason error) error     { return fail(op, identity.ErrConflict, reason) }
func notFound(op string, reason error) error     { return fail(op, identity.ErrNotFound, reason) }

// inviteCheckError maps invite.Check / CheckAcceptable results to typed failures.
func inviteCheckError(op string, err error) error {
	switch {
	case errors.Is(err, invite.ErrExpired),
		errors.Is(err, invite.ErrAlreadyUsed),
		errors.Is(err, invite.ErrRevoked),
		errors.Is(err, invite.ErrNotPending):
		return badRequest(op, err)
	}
	return err
}
