package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"hearth/cmd/identity"
	"hearth/cmd/internal/chat"
	"hearth/cmd/internal/family"
	"hearth/cmd/security/password"
)

// reasonCodes gives each domain reason a stable wire code. First match wins.
var reasonCodes = []struct {
	reason error
	code   string
}{
	{family.ErrEmailTaken, "email_taken"},
	{family.ErrInvalidCredentials, "invalid_credentials"},
	{family.ErrEmailNotVerified, "email_not_verified"},
	{family.ErrInvalidSession, "invalid_session"},
	{chat.ErrInvalidSession, "invalid_session"},
	{family.ErrAlreadyInFamily, "already_in_family"},
	{family.ErrAlreadyMember, "already_member"},
	{family.ErrFamilyFull, "family_full"},
	{family.ErrNotMember, "not_member"},
	{chat.ErrNotMember, "not_member"},
	{family.ErrNotAdmin, "not_admin"},
	{family.ErrNoActiveFamily, "no_active_family"},
	{family.ErrInviteCodeTaken, "invite_code_taken"},
	{family.ErrInvalidInviteCode, "invalid_invite_code"},
	{family.ErrInviteExpired, "invite_expired"},
	{family.ErrInviteAlreadyUsed, "invite_used"},
	{family.ErrInviteRevoked, "invite_revoked"},
	{family.ErrInviteNotPending, "invite_not_pending"},
	{family.ErrInviteEmailMismatch, "invite_email_mismatch"},
	{family.ErrDuplicateInvite, "duplicate_invite"},
	{family.ErrUseEncryptedInvite, "use_encrypted_invite"},
	{family.ErrInvalidToken, "invalid_token"},
	{family.ErrTokenExpired, "token_expired"},
	{family.ErrTokenUsed, "token_used"},
	{family.ErrCannotRemoveSelf, "cannot_remove_self"},
	{family.ErrCannotRemoveAdmin, "cannot_remove_admin"},
	{family.ErrAlreadyDeleted, "already_deleted"},
	{family.ErrUserNotFound, "user_not_found"},
	{family.ErrMembershipNotFound, "membership_not_found"},
	{family.ErrFamilyNotFound, "family_not_found"},
	{chat.ErrChannelNotFound, "channel_not_found"},
	{family.ErrInvalidPublicKey, "invalid_public_key"},
	{password.ErrPasswordTooShort, "password_too_short"},
	{password.ErrPasswordTooLong, "password_too_long"},
	{password.ErrWeakPassword, "weak_password"},
	{family.ErrInvalidInput, "invalid_input"},
	{chat.ErrInvalidInput, "invalid_input"},
}

func statusForKind(kind error) int {
	switch kind {
	case identity.ErrBadRequest:
		return http.StatusBadRequest
	case identity.ErrUnauthorized:
		return http.StatusUnauthorized
	case identity.ErrForbidden:
		return http.StatusForbidden
	case identity.ErrNotFound:
		return http.StatusNotFound
	case identity.ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func codeFor(err error, kind error) string {
	for _, rc := range reasonCodes {
		if errors.Is(err, rc.reason) {
			return rc.code
		}
	}
	return kind.Error()
}

func messageFor(err error, kind error) string {
	var op identity.OpError
	if errors.As(err, &op) {
		return op.Message()
	}
	return kind.Error()
}

// writeServiceError renders a service failure. Unclassified errors are logged
// and answered with a generic 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, family.ErrRateLimited) || errors.Is(err, chat.ErrRateLimited) {
		writeRateLimited(w, 0)
		return
	}

	var vre family.VerificationRequiredError
	if errors.As(err, &vre) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: apiError{
			Code:    "email_not_verified",
			Message: family.ErrEmailNotVerified.Error(),
			Email:   vre.Email,
		}})
		return
	}

	kind := identity.KindOf(err)
	if kind == nil {
		h.log.Error("api.request.fail", "method", r.Method, "route", routePattern(r), "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeError(w, statusForKind(kind), codeFor(err, kind), messageFor(err, kind))
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
