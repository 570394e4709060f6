package family

import (
	"context"
	"strings"

	"hearth/cmd/identity"
	"hearth/cmd/internal/store"
)

// RemovalResult summarizes a removal cascade.
type RemovalResult struct {
	UserID         string `json:"userId"`
	FamilyID       string `json:"familyId,omitempty"`
	RevokedInvites int    `json:"revokedInvites"`
	Memberships    int    `json:"removedMemberships"`
}

// RemoveFamilyMember lets an ADMIN drop a non-admin member. The membership,
// the target's active family pointer (when it is this family) and the open
// invites to the target in this family go together.
func (s *Service) RemoveFamilyMember(ctx context.Context, callerID, targetID, familyID string) (RemovalResult, error) {
	const op = "family.RemoveFamilyMember"

	familyID = strings.TrimSpace(familyID)
	targetID = strings.TrimSpace(targetID)
	if familyID == "" || targetID == "" {
		return RemovalResult{}, badRequest(op, ErrInvalidInput)
	}
	if callerID == targetID {
		return RemovalResult{}, badRequest(op, ErrCannotRemoveSelf)
	}

	now := s.now()
	out := RemovalResult{UserID: targetID, FamilyID: familyID}
	err := s.store.InTx(ctx, func(r store.Repo) error {
		if _, err := liveCaller(ctx, r, op, callerID, false); err != nil {
			return err
		}
		cm, err := r.GetMembership(ctx, callerID, familyID)
		if err != nil {
			if identity.IsNotFound(err) {
				return forbidden(op, ErrNotAdmin)
			}
			return err
		}
		if cm.Role != identity.RoleAdmin {
			return forbidden(op, ErrNotAdmin)
		}

		tm, err := r.GetMembership(ctx, targetID, familyID)
		if err != nil {
			if identity.IsNotFound(err) {
				return notFound(op, ErrMembershipNotFound)
			}
			return err
		}
		if tm.Role == identity.RoleAdmin {
			return forbidden(op, ErrCannotRemoveAdmin)
		}
		target, err := r.GetUserForUpdate(ctx, targetID)
		if err != nil {
			if identity.IsNotFound(err) {
				return notFound(op, ErrUserNotFound)
			}
			return err
		}

		if err := r.DeleteMembership(ctx, targetID, familyID); err != nil {
			return err
		}
		out.Memberships = 1
		if _, err := r.ClearActiveFamilyIf(ctx, targetID, familyID, now); err != nil {
			return err
		}
		n, err := r.RevokeOpenInvites(ctx, target.Email, &familyID)
		if err != nil {
			return err
		}
		out.RevokedInvites = n
		return nil
	})
	if err != nil {
		s.metrics.Event("family.remove_member", "fail")
		return RemovalResult{}, err
	}

	s.metrics.Event("family.remove_member", "ok")
	s.log.Info("family.remove_member.ok",
		"caller_id", callerID,
		"user_id", targetID,
		"family_id", familyID,
		"revoked_invites", out.RevokedInvites,
	)
	return out, nil
}

// DeregisterSelf soft-deletes the caller, drops every membership and revokes
// every open invite addressed to them. Authored messages stay in place.
func (s *Service) DeregisterSelf(ctx context.Context, userID string) (RemovalResult, error) {
	const op = "family.DeregisterSelf"

	now := s.now()
	out := RemovalResult{UserID: userID}
	err := s.store.InTx(ctx, func(r store.Repo) error {
		u, err := r.GetUserForUpdate(ctx, userID)
		if err != nil {
			if identity.IsNotFound(err) {
				return unauthorized(op, ErrInvalidSession)
			}
			return err
		}
		if u.Deleted() {
			return badRequest(op, ErrAlreadyDeleted)
		}

		ok, err := r.SoftDeleteUser(ctx, u.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return badRequest(op, ErrAlreadyDeleted)
		}
		if out.Memberships, err = r.DeleteMembershipsByUser(ctx, u.ID); err != nil {
			return err
		}
		if out.RevokedInvites, err = r.RevokeOpenInvites(ctx, u.Email, nil); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		s.metrics.Event("user.deregister", "fail")
		return RemovalResult{}, err
	}

	s.metrics.Event("user.deregister", "ok")
	s.log.Info("user.deregister.ok",
		"user_id", userID,
		"memberships", out.Memberships,
		"revoked_invites", out.RevokedInvites,
	)
	return out, nil
}
