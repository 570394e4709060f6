package family

import (
	"context"
	"strings"
	"time"

	"hearth/cmd/identity"
	"hearth/cmd/internal/invite"
	"hearth/cmd/internal/store"
)

// maxCodeAttempts bounds legacy code regeneration on collision.
const maxCodeAttempts = 5

// CreateFamily makes a verified, family-less caller the ADMIN of a new family.
// inviteCode, when set, must be a legacy-shaped code not used by another family.
func (s *Service) CreateFamily(ctx context.Context, userID, name string, inviteCode *string) (AuthResult, error) {
	const op = "family.CreateFamily"

	name, err := checkName(op, name)
	if err != nil {
		return AuthResult{}, err
	}
	var code string
	if inviteCode != nil && strings.TrimSpace(*inviteCode) != "" {
		code = invite.NormalizeCode(*inviteCode)
		if !invite.IsLegacyCode(code) {
			return AuthResult{}, failMsg(op, identity.ErrBadRequest, ErrInvalidInput, "invite code must look like INV-XXXX-XXXX-XXXX")
		}
	}

	now := s.now()
	var (
		u   identity.User
		fam *FamilyView
	)
	err = s.store.InTx(ctx, func(r store.Repo) error {
		var err error
		if u, err = liveCaller(ctx, r, op, userID, true); err != nil {
			return err
		}
		if !u.EmailVerified {
			return VerificationRequiredError{Op: op, Email: u.Email}
		}
		ms, err := r.ListMembershipsByUser(ctx, u.ID)
		if err != nil {
			return err
		}
		if len(ms) > 0 {
			return conflict(op, ErrAlreadyInFamily)
		}
		f, err := s.insertFamily(ctx, r, op, &u, name, code, now)
		if err != nil {
			return err
		}
		fam = familyView(f, identity.RoleAdmin)
		return nil
	})
	if err != nil {
		s.metrics.Event("family.create", "fail")
		return AuthResult{}, err
	}

	s.metrics.Event("family.create", "ok")
	s.log.Info("family.create.ok", "user_id", u.ID, "family_id", fam.ID)
	return s.signIn(u, fam, now)
}

// insertFamily writes a family with creator as ADMIN, points the creator at it
// and opens the default channel. code == "" generates a legacy code.
func (s *Service) insertFamily(ctx context.Context, r store.Repo, op string, creator *identity.User, name, code string, now time.Time) (identity.Family, error) {
	if code == "" {
		var err error
		if code, err = s.freeLegacyCode(ctx, r); err != nil {
			return identity.Family{}, err
		}
	} else {
		_, err := r.GetFamilyByInviteCode(ctx, code)
		switch {
		case err == nil:
			return identity.Family{}, conflict(op, ErrInviteCodeTaken)
		case !identity.IsNotFound(err):
			return identity.Family{}, err
		}
	}

	id, err := identity.NewULID(now)
	if err != nil {
		return identity.Family{}, err
	}
	f := identity.Family{
		ID:         id,
		Name:       name,
		InviteCode: code,
		MaxMembers: s.maxMembers,
		CreatedBy:  creator.ID,
		CreatedAt:  now,
	}
	if err := r.CreateFamily(ctx, f); err != nil {
		if identity.IsConflict(err) {
			return identity.Family{}, conflict(op, ErrInviteCodeTaken)
		}
		return identity.Family{}, err
	}
	if err := r.CreateMembership(ctx, identity.Membership{
		UserID:   creator.ID,
		FamilyID: f.ID,
		Role:     identity.RoleAdmin,
		JoinedAt: now,
	}); err != nil {
		return identity.Family{}, err
	}
	if err := r.SetUserRole(ctx, creator.ID, identity.RoleAdmin, now); err != nil {
		return identity.Family{}, err
	}
	if err := r.SetActiveFamily(ctx, creator.ID, &f.ID, now); err != nil {
		return identity.Family{}, err
	}

	chID, err := identity.NewULID(now)
	if err != nil {
		return identity.Family{}, err
	}
	if err := r.CreateChannel(ctx, identity.Channel{
		ID:        chID,
		FamilyID:  f.ID,
		Name:      identity.DefaultChannelName,
		CreatedBy: creator.ID,
		CreatedAt: now,
	}); err != nil {
		return identity.Family{}, err
	}

	fid := f.ID
	creator.Role = identity.RoleAdmin
	creator.ActiveFamilyID = &fid
	creator.UpdatedAt = now
	return f, nil
}

// freeLegacyCode generates legacy codes until one is unused.
// Collisions are checked up front because a failed insert aborts a Postgres transaction.
func (s *Service) freeLegacyCode(ctx context.Context, r store.Repo) (string, error) {
	var lastErr error
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := s.minter.LegacyCode()
		if err != nil {
			return "", err
		}
		_, err = r.GetFamilyByInviteCode(ctx, code)
		if identity.IsNotFound(err) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
		lastErr = identity.ConflictError{Op: "family.freeLegacyCode", Field: "invite_code"}
	}
	return "", lastErr
}

// JoinFamilyInput is the new-account join path.
type JoinFamilyInput struct {
	Email      string
	Password   string
	Name       string
	InviteCode string
	PublicKey  *string
}

// joinTarget is a resolved invite code. bound is set for email-bound invites.
type joinTarget struct {
	familyID string
	bound    *invite.FamilyInvite
}

// resolveJoinCode looks the code up as an email-bound invite first and as a
// family's shared legacy code only when no email-bound invite matches.
// The email-bound row stays locked until the transaction ends so concurrent
// joins on one code queue behind the winner and then see it redeemed.
func (s *Service) resolveJoinCode(ctx context.Context, r store.Repo, op, code, email string, now time.Time) (joinTarget, error) {
	code = invite.NormalizeCode(code)
	if code == "" {
		return joinTarget{}, unauthorized(op, ErrInvalidInviteCode)
	}

	fi, err := r.GetFamilyInviteByHashForUpdate(ctx, invite.HashCode(code))
	switch {
	case err == nil:
		if err := invite.Check(fi, now); err != nil {
			return joinTarget{}, inviteCheckError(op, err)
		}
		ok, err := s.minter.MatchesInvitee(fi, email)
		if err != nil {
			s.log.Error("family.invite.decrypt.fail", "invite_id", fi.ID, "err", err)
			return joinTarget{}, identity.OpError{Op: op, Reason: ErrDecryptInviteeFailed}
		}
		if !ok {
			return joinTarget{}, forbidden(op, ErrInviteEmailMismatch)
		}
		return joinTarget{familyID: fi.FamilyID, bound: &fi}, nil
	case !identity.IsNotFound(err):
		return joinTarget{}, err
	}

	f, err := r.GetFamilyByInviteCode(ctx, code)
	if err != nil {
		if identity.IsNotFound(err) {
			return joinTarget{}, unauthorized(op, ErrInvalidInviteCode)
		}
		return joinTarget{}, err
	}
	return joinTarget{familyID: f.ID}, nil
}

// redeemBound flips the email-bound invite to redeemed. A lost race is
// reported as already used (or expired, if that is what the row now says).
func redeemBound(ctx context.Context, r store.Repo, op string, fi invite.FamilyInvite, userID string, now time.Time) error {
	ok, err := r.RedeemFamilyInvite(ctx, fi.ID, userID, now)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	cur, err := r.GetFamilyInviteByHash(ctx, fi.CodeHash)
	if err != nil {
		return err
	}
	if cerr := invite.Check(cur, now); cerr != nil {
		return inviteCheckError(op, cerr)
	}
	return badRequest(op, ErrInviteAlreadyUsed)
}

// JoinFamily registers a new account straight into the family behind inviteCode.
func (s *Service) JoinFamily(ctx context.Context, in JoinFamilyInput) (AuthResult, error) {
	const op = "family.JoinFamily"

	email, name, err := checkAccountInput(op, in.Email, in.Name)
	if err != nil {
		return AuthResult{}, err
	}
	pub, err := checkPublicKey(op, in.PublicKey)
	if err != nil {
		return AuthResult{}, err
	}
	hash, err := s.hashPassword(op, in.Password)
	if err != nil {
		return AuthResult{}, err
	}

	now := s.now()
	userID, err := identity.NewULID(now)
	if err != nil {
		return AuthResult{}, err
	}
	u := identity.User{
		ID:           userID,
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		PublicKey:    pub,
		Role:         identity.RoleMember,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var (
		fam   *FamilyView
		plain string
		via   = invite.VariantLegacy
	)
	err = s.store.InTx(ctx, func(r store.Repo) error {
		target, err := s.resolveJoinCode(ctx, r, op, in.InviteCode, email, now)
		if err != nil {
			return err
		}
		if err := ensureEmailFree(ctx, r, op, email); err != nil {
			return err
		}
		if err := r.CreateUser(ctx, u); err != nil {
			if identity.IsConflict(err) {
				return conflict(op, ErrEmailTaken)
			}
			return err
		}
		if target.bound != nil {
			via = invite.VariantEmailBound
			if err := redeemBound(ctx, r, op, *target.bound, u.ID, now); err != nil {
				return err
			}
		}
		f, err := admitMember(ctx, r, op, u.ID, target.familyID, identity.RoleMember, now)
		if err != nil {
			return err
		}
		if err := r.SetActiveFamily(ctx, u.ID, &f.ID, now); err != nil {
			return err
		}
		fid := f.ID
		u.ActiveFamilyID = &fid
		fam = familyView(f, identity.RoleMember)

		vt, p, err := newVerificationToken(u.ID, nil, now)
		if err != nil {
			return err
		}
		plain = p
		return r.CreateVerificationToken(ctx, vt)
	})
	if err != nil {
		s.metrics.Event("family.join", "fail")
		return AuthResult{}, err
	}

	s.metrics.Event("family.join", "ok")
	s.log.Info("family.join.ok", "user_id", u.ID, "family_id", fam.ID, "via", string(via))
	s.notify.Verification(ctx, u.Email, plain)

	return s.signIn(u, fam, now)
}

// JoinFamilyAsMember adds an existing account to another family. The caller's
// active family is only set when it had none.
func (s *Service) JoinFamilyAsMember(ctx context.Context, userID, inviteCode string) (*FamilyView, error) {
	const op = "family.JoinFamilyAsMember"

	now := s.now()
	var fam *FamilyView
	err := s.store.InTx(ctx, func(r store.Repo) error {
		u, err := liveCaller(ctx, r, op, userID, true)
		if err != nil {
			return err
		}
		target, err := s.resolveJoinCode(ctx, r, op, inviteCode, u.Email, now)
		if err != nil {
			return err
		}
		if _, err := r.GetMembership(ctx, u.ID, target.familyID); err == nil {
			return conflict(op, ErrAlreadyMember)
		} else if !identity.IsNotFound(err) {
			return err
		}
		if target.bound != nil {
			if err := redeemBound(ctx, r, op, *target.bound, u.ID, now); err != nil {
				return err
			}
		}
		f, err := admitMember(ctx, r, op, u.ID, target.familyID, identity.RoleMember, now)
		if err != nil {
			return err
		}
		if u.ActiveFamilyID == nil {
			if err := r.SetActiveFamily(ctx, u.ID, &f.ID, now); err != nil {
				return err
			}
		}
		fam = familyView(f, identity.RoleMember)
		return nil
	})
	if err != nil {
		s.metrics.Event("family.join_member", "fail")
		return nil, err
	}
	s.metrics.Event("family.join_member", "ok")
	s.log.Info("family.join_member.ok", "user_id", userID, "family_id", fam.ID)
	return fam, nil
}

// SwitchActiveFamily points the caller at one of their families and re-issues tokens.
func (s *Service) SwitchActiveFamily(ctx context.Context, userID, familyID string) (AuthResult, error) {
	const op = "family.SwitchActiveFamily"

	familyID = strings.TrimSpace(familyID)
	if familyID == "" {
		return AuthResult{}, badRequest(op, ErrInvalidInput)
	}

	now := s.now()
	var (
		u   identity.User
		fam *FamilyView
	)
	err := s.store.InTx(ctx, func(r store.Repo) error {
		var err error
		if u, err = liveCaller(ctx, r, op, userID, true); err != nil {
			return err
		}
		m, err := requireMember(ctx, r, op, u.ID, familyID)
		if err != nil {
			return err
		}
		f, err := r.GetFamily(ctx, familyID)
		if err != nil {
			if identity.IsNotFound(err) {
				return notFound(op, ErrFamilyNotFound)
			}
			return err
		}
		if err := r.SetActiveFamily(ctx, u.ID, &f.ID, now); err != nil {
			return err
		}
		fid := f.ID
		u.ActiveFamilyID = &fid
		fam = familyView(f, m.Role)
		return nil
	})
	if err != nil {
		return AuthResult{}, err
	}
	return s.signIn(u, fam, now)
}

// ListFamilies returns every family the caller belongs to.
func (s *Service) ListFamilies(ctx context.Context, userID string) ([]FamilyView, error) {
	const op = "family.ListFamilies"

	var out []FamilyView
	err := s.store.View(ctx, func(r store.Repo) error {
		u, err := liveCaller(ctx, r, op, userID, false)
		if err != nil {
			return err
		}
		ms, err := r.ListMembershipsByUser(ctx, u.ID)
		if err != nil {
			return err
		}
		out = make([]FamilyView, 0, len(ms))
		for _, m := range ms {
			f, err := r.GetFamily(ctx, m.FamilyID)
			if err != nil {
				return err
			}
			out = append(out, *familyView(f, m.Role))
		}
		return nil
	})
	return out, err
}
