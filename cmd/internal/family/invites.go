package family

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"hearth/cmd/identity"
	"hearth/cmd/internal/invite"
	"hearth/cmd/internal/notify"
	"hearth/cmd/internal/store"
)

// InviteView is an invite as shown to members of the inviting family.
type InviteView struct {
	ID           string         `json:"id"`
	FamilyID     string         `json:"familyId"`
	InviterID    string         `json:"inviterId"`
	InviteeEmail string         `json:"inviteeEmail"`
	Variant      invite.Variant `json:"variant"`
	Status       invite.Status  `json:"status"`
	Code         string         `json:"inviteCode,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	AcceptedAt   *time.Time     `json:"acceptedAt,omitempty"`
}

func addressedView(inv invite.Invite, now time.Time) InviteView {
	st := inv.Status
	if st.Open() && inv.Expired(now) {
		st = invite.StatusExpired
	}
	return InviteView{
		ID:           inv.ID,
		FamilyID:     inv.FamilyID,
		InviterID:    inv.InviterID,
		InviteeEmail: inv.InviteeEmail,
		Variant:      inv.Kind(),
		Status:       st,
		Code:         inv.Code,
		CreatedAt:    inv.CreatedAt,
		ExpiresAt:    inv.ExpiresAt,
		AcceptedAt:   inv.AcceptedAt,
	}
}

// EncryptedInviteInput carries client-encrypted family key material for an invitee.
type EncryptedInviteInput struct {
	InviterID          string
	FamilyID           string
	InviteeEmail       string
	EncryptedFamilyKey string
	Nonce              string
}

// CreateEncryptedInvite invites a registered user with key material they can open.
// An open pending-registration invite to the same address is upgraded in place.
func (s *Service) CreateEncryptedInvite(ctx context.Context, in EncryptedInviteInput) (InviteView, error) {
	const op = "family.CreateEncryptedInvite"

	email := identity.NormalizeEmail(in.InviteeEmail)
	if !identity.ValidEmail(email) || strings.TrimSpace(in.FamilyID) == "" {
		return InviteView{}, badRequest(op, ErrInvalidInput)
	}
	key := invite.KeyMaterial{
		EncryptedFamilyKey: strings.TrimSpace(in.EncryptedFamilyKey),
		Nonce:              strings.TrimSpace(in.Nonce),
	}
	if key.EncryptedFamilyKey == "" || key.Nonce == "" {
		return InviteView{}, failMsg(op, identity.ErrBadRequest, ErrInvalidInput, "encrypted family key and nonce are required")
	}

	now := s.now()
	var (
		inv  invite.Invite
		mail notify.Invitation
	)
	err := s.store.InTx(ctx, func(r store.Repo) error {
		inviter, f, err := s.inviterInFamily(ctx, r, op, in.InviterID, in.FamilyID)
		if err != nil {
			return err
		}
		if err := rejectExistingMember(ctx, r, op, email, f.ID); err != nil {
			return err
		}

		open, found, err := openInvite(ctx, r, f.ID, email, now)
		if err != nil {
			return err
		}
		switch {
		case found && open.Status == invite.StatusPendingRegistration:
			exp := now.Add(invite.EncryptedTTL)
			ok, err := r.UpgradeInvite(ctx, open.ID, key, exp)
			if err != nil {
				return err
			}
			if !ok {
				return conflict(op, ErrDuplicateInvite)
			}
			k := key
			open.Key, open.Status, open.ExpiresAt = &k, invite.StatusPending, exp
			inv = open
		case found:
			return conflict(op, ErrDuplicateInvite)
		default:
			if inv, err = s.mintAddressed(ctx, r, invite.AddressedInput{
				FamilyID:     f.ID,
				InviterID:    inviter.ID,
				InviteeEmail: email,
				Key:          &key,
				Now:          now,
			}); err != nil {
				return err
			}
		}
		mail = notify.Invitation{To: email, Code: inv.Code, FamilyName: f.Name, InviterName: inviter.Name}
		return nil
	})
	if err != nil {
		s.metrics.Event("invite.encrypted", "fail")
		return InviteView{}, err
	}

	s.metrics.Event("invite.encrypted", "ok")
	s.log.Info("invite.encrypted.ok", "invite_id", inv.ID, "family_id", inv.FamilyID)
	s.notify.Invite(ctx, mail)
	return addressedView(inv, now), nil
}

// CreatePendingInvite invites an address that has no key on file yet.
func (s *Service) CreatePendingInvite(ctx context.Context, inviterID, familyID, inviteeEmail string) (InviteView, error) {
	const op = "family.CreatePendingInvite"

	email := identity.NormalizeEmail(inviteeEmail)
	if !identity.ValidEmail(email) || strings.TrimSpace(familyID) == "" {
		return InviteView{}, badRequest(op, ErrInvalidInput)
	}

	now := s.now()
	var (
		inv  invite.Invite
		mail notify.Invitation
	)
	err := s.store.InTx(ctx, func(r store.Repo) error {
		inviter, f, err := s.inviterInFamily(ctx, r, op, inviterID, familyID)
		if err != nil {
			return err
		}
		invitee, err := r.GetLiveUserByEmail(ctx, email)
		switch {
		case err == nil && invitee.HasPublicKey():
			return badRequest(op, ErrUseEncryptedInvite)
		case err != nil && !identity.IsNotFound(err):
			return err
		}
		if err := rejectExistingMember(ctx, r, op, email, f.ID); err != nil {
			return err
		}
		if _, found, err := openInvite(ctx, r, f.ID, email, now); err != nil {
			return err
		} else if found {
			return conflict(op, ErrDuplicateInvite)
		}

		if inv, err = s.mintAddressed(ctx, r, invite.AddressedInput{
			FamilyID:     f.ID,
			InviterID:    inviter.ID,
			InviteeEmail: email,
			Now:          now,
		}); err != nil {
			return err
		}
		mail = notify.Invitation{To: email, Code: inv.Code, FamilyName: f.Name, InviterName: inviter.Name}
		return nil
	})
	if err != nil {
		s.metrics.Event("invite.pending", "fail")
		return InviteView{}, err
	}

	s.metrics.Event("invite.pending", "ok")
	s.log.Info("invite.pending.ok", "invite_id", inv.ID, "family_id", inv.FamilyID)
	s.notify.Invite(ctx, mail)
	return addressedView(inv, now), nil
}

// CreatedInvite is returned once when an email-bound invite is minted.
// Code is the only plaintext copy; the server keeps its hash.
type CreatedInvite struct {
	ID        string    `json:"id"`
	FamilyID  string    `json:"familyId"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CreateInvite mints an email-bound invite for the caller's active family.
func (s *Service) CreateInvite(ctx context.Context, inviterID, inviteeEmail string) (CreatedInvite, error) {
	const op = "family.CreateInvite"

	email := identity.NormalizeEmail(inviteeEmail)
	if !identity.ValidEmail(email) {
		return CreatedInvite{}, badRequest(op, ErrInvalidInput)
	}

	now := s.now()
	var (
		fi   invite.FamilyInvite
		mail notify.Invitation
	)
	err := s.store.InTx(ctx, func(r store.Repo) error {
		u, err := liveCaller(ctx, r, op, inviterID, false)
		if err != nil {
			return err
		}
		if u.ActiveFamilyID == nil {
			return badRequest(op, ErrNoActiveFamily)
		}
		inviter, f, err := s.inviterInFamily(ctx, r, op, u.ID, *u.ActiveFamilyID)
		if err != nil {
			return err
		}
		if err := rejectExistingMember(ctx, r, op, email, f.ID); err != nil {
			return err
		}

		fi, err = s.minter.EmailBound(invite.EmailBoundInput{
			FamilyID:     f.ID,
			InviterID:    inviter.ID,
			InviteeEmail: email,
			Now:          now,
		})
		if err != nil {
			return err
		}
		if err := r.CreateFamilyInvite(ctx, fi); err != nil {
			return err
		}
		mail = notify.Invitation{To: email, Code: fi.Code, FamilyName: f.Name, InviterName: inviter.Name}
		return nil
	})
	if err != nil {
		s.metrics.Event("invite.email_bound", "fail")
		return CreatedInvite{}, err
	}

	s.metrics.Event("invite.email_bound", "ok")
	s.log.Info("invite.email_bound.ok", "invite_id", fi.ID, "family_id", fi.FamilyID)
	s.notify.Invite(ctx, mail)
	return CreatedInvite{ID: fi.ID, FamilyID: fi.FamilyID, Code: fi.Code, ExpiresAt: fi.ExpiresAt}, nil
}

// AcceptedInvite hands the new member what they need to open the family key.
type AcceptedInvite struct {
	Family             FamilyView `json:"family"`
	EncryptedFamilyKey *string    `json:"encryptedFamilyKey"`
	Nonce              *string    `json:"nonce"`
	InviterPublicKey   *string    `json:"inviterPublicKey"`
}

// AcceptInvite redeems an addressed invite for the authenticated caller.
// An open invite found past its expiry is durably marked EXPIRED before the
// caller gets the error.
func (s *Service) AcceptInvite(ctx context.Context, userID, code string) (AcceptedInvite, error) {
	const op = "family.AcceptInvite"

	code = invite.NormalizeCode(code)
	if code == "" {
		return AcceptedInvite{}, unauthorized(op, ErrInvalidInviteCode)
	}

	now := s.now()
	var (
		out      AcceptedInvite
		stale    *invite.Invite
		inviteID string
	)
	err := s.store.InTx(ctx, func(r store.Repo) error {
		u, err := liveCaller(ctx, r, op, userID, true)
		if err != nil {
			return err
		}
		inv, err := r.GetInviteByCode(ctx, code)
		if err != nil {
			if identity.IsNotFound(err) {
				return unauthorized(op, ErrInvalidInviteCode)
			}
			return err
		}
		if err := inv.CheckAcceptable(now); err != nil {
			if errors.Is(err, invite.ErrExpired) && inv.Status.Open() {
				stale = &inv
			}
			return inviteCheckError(op, err)
		}
		if u.Email != inv.InviteeEmail {
			return forbidden(op, ErrInviteEmailMismatch)
		}
		if _, err := r.GetMembership(ctx, u.ID, inv.FamilyID); err == nil {
			return conflict(op, ErrAlreadyMember)
		} else if !identity.IsNotFound(err) {
			return err
		}

		ok, err := r.TransitionInvite(ctx, inv.ID, invite.StatusPending, invite.StatusAccepted, &now)
		if err != nil {
			return err
		}
		if !ok {
			cur, err := r.GetInviteByCode(ctx, code)
			if err != nil {
				return err
			}
			if cerr := cur.CheckAcceptable(now); cerr != nil {
				return inviteCheckError(op, cerr)
			}
			return badRequest(op, ErrInviteAlreadyUsed)
		}

		f, err := admitMember(ctx, r, op, u.ID, inv.FamilyID, identity.RoleMember, now)
		if err != nil {
			return err
		}
		if u.ActiveFamilyID == nil {
			if err := r.SetActiveFamily(ctx, u.ID, &f.ID, now); err != nil {
				return err
			}
		}

		out = AcceptedInvite{Family: *familyView(f, identity.RoleMember)}
		if inv.Key != nil {
			k, n := inv.Key.EncryptedFamilyKey, inv.Key.Nonce
			out.EncryptedFamilyKey, out.Nonce = &k, &n
		}
		inviter, err := r.GetUser(ctx, inv.InviterID)
		switch {
		case err == nil:
			if !inviter.Deleted() && inviter.HasPublicKey() {
				pk := *inviter.PublicKey
				out.InviterPublicKey = &pk
			}
		case !identity.IsNotFound(err):
			return err
		}
		inviteID = inv.ID
		return nil
	})
	if stale != nil {
		s.expireInvite(ctx, *stale)
	}
	if err != nil {
		s.metrics.Event("invite.accept", "fail")
		return AcceptedInvite{}, err
	}

	s.metrics.Event("invite.accept", "ok")
	s.log.Info("invite.accept.ok", "invite_id", inviteID, "user_id", userID, "family_id", out.Family.ID)
	return out, nil
}

// expireInvite persists EXPIRED for an open invite whose clock ran out.
func (s *Service) expireInvite(ctx context.Context, inv invite.Invite) {
	err := s.store.InTx(ctx, func(r store.Repo) error {
		_, err := r.TransitionInvite(ctx, inv.ID, inv.Status, invite.StatusExpired, nil)
		return err
	})
	if err != nil {
		s.log.Warn("invite.expire.fail", "invite_id", inv.ID, "err", err)
	}
}

// PendingInvite is an invite waiting on the caller.
type PendingInvite struct {
	ID                 string    `json:"id"`
	Code               string    `json:"inviteCode"`
	FamilyID           string    `json:"familyId"`
	FamilyName         string    `json:"familyName"`
	InviterName        string    `json:"inviterName"`
	EncryptedFamilyKey *string   `json:"encryptedFamilyKey"`
	Nonce              *string   `json:"nonce"`
	CreatedAt          time.Time `json:"createdAt"`
	ExpiresAt          time.Time `json:"expiresAt"`
}

// GetPendingInvites lists unexpired PENDING invites addressed to the caller.
func (s *Service) GetPendingInvites(ctx context.Context, userID string) ([]PendingInvite, error) {
	const op = "family.GetPendingInvites"

	now := s.now()
	out := make([]PendingInvite, 0)
	err := s.store.View(ctx, func(r store.Repo) error {
		u, err := liveCaller(ctx, r, op, userID, false)
		if err != nil {
			return err
		}
		invs, err := r.ListInvitesByEmail(ctx, u.Email, invite.StatusPending)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(invs))
		for _, inv := range invs {
			ids = append(ids, inv.InviterID)
		}
		inviters, err := r.GetUsers(ctx, ids)
		if err != nil {
			return err
		}
		families := map[string]identity.Family{}

		for _, inv := range invs {
			if inv.Expired(now) {
				continue
			}
			f, ok := families[inv.FamilyID]
			if !ok {
				if f, err = r.GetFamily(ctx, inv.FamilyID); err != nil {
					return err
				}
				families[f.ID] = f
			}
			p := PendingInvite{
				ID:          inv.ID,
				Code:        inv.Code,
				FamilyID:    f.ID,
				FamilyName:  f.Name,
				InviterName: identity.RemovedUserName,
				CreatedAt:   inv.CreatedAt,
				ExpiresAt:   inv.ExpiresAt,
			}
			if inviter, ok := inviters[inv.InviterID]; ok {
				p.InviterName = identity.AuthorDisplayName(&inviter)
			}
			if inv.Key != nil {
				k, n := inv.Key.EncryptedFamilyKey, inv.Key.Nonce
				p.EncryptedFamilyKey, p.Nonce = &k, &n
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetFamilyInvites lists every invite of a family, newest first. Email-bound
// invitee addresses are decrypted for the listing; their codes are never shown.
func (s *Service) GetFamilyInvites(ctx context.Context, callerID, familyID string) ([]InviteView, error) {
	const op = "family.GetFamilyInvites"

	now := s.now()
	out := make([]InviteView, 0)
	err := s.store.View(ctx, func(r store.Repo) error {
		u, err := liveCaller(ctx, r, op, callerID, false)
		if err != nil {
			return err
		}
		if _, err := requireMember(ctx, r, op, u.ID, familyID); err != nil {
			return err
		}

		invs, err := r.ListInvitesByFamily(ctx, familyID)
		if err != nil {
			return err
		}
		for _, inv := range invs {
			out = append(out, addressedView(inv, now))
		}

		bound, err := r.ListFamilyInvites(ctx, familyID)
		if err != nil {
			return err
		}
		for _, fi := range bound {
			email, err := s.minter.InviteeEmail(fi)
			if err != nil {
				s.log.Warn("invite.decrypt.fail", "invite_id", fi.ID, "err", err)
				email = ""
			}
			v := InviteView{
				ID:           fi.ID,
				FamilyID:     fi.FamilyID,
				InviterID:    fi.InviterID,
				InviteeEmail: email,
				Variant:      fi.Kind(),
				Status:       fi.DerivedStatus(now),
				CreatedAt:    fi.CreatedAt,
				ExpiresAt:    fi.ExpiresAt,
				AcceptedAt:   fi.RedeemedAt,
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ---- helpers ----

// inviterInFamily loads a live inviter who is a member of familyID, and the family.
func (s *Service) inviterInFamily(ctx context.Context, r store.Repo, op, inviterID, familyID string) (identity.User, identity.Family, error) {
	u, err := liveCaller(ctx, r, op, inviterID, false)
	if err != nil {
		return identity.User{}, identity.Family{}, err
	}
	if _, err := requireMember(ctx, r, op, u.ID, familyID); err != nil {
		return identity.User{}, identity.Family{}, err
	}
	f, err := r.GetFamily(ctx, familyID)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.User{}, identity.Family{}, notFound(op, ErrFamilyNotFound)
		}
		return identity.User{}, identity.Family{}, err
	}
	return u, f, nil
}

func rejectExistingMember(ctx context.Context, r store.Repo, op, email, familyID string) error {
	member, err := isMemberByEmail(ctx, r, email, familyID)
	if err != nil {
		return err
	}
	if member {
		return conflict(op, ErrAlreadyMember)
	}
	return nil
}

// openInvite returns the open invite for (familyID, email). One whose clock has
// run out is moved to EXPIRED and reported as absent.
func openInvite(ctx context.Context, r store.Repo, familyID, email string, now time.Time) (invite.Invite, bool, error) {
	inv, err := r.GetOpenInvite(ctx, familyID, email)
	if err != nil {
		if identity.IsNotFound(err) {
			return invite.Invite{}, false, nil
		}
		return invite.Invite{}, false, err
	}
	if !inv.Expired(now) {
		return inv, true, nil
	}
	if _, err := r.TransitionInvite(ctx, inv.ID, inv.Status, invite.StatusExpired, nil); err != nil {
		return invite.Invite{}, false, err
	}
	return invite.Invite{}, false, nil
}

// mintAddressed mints an addressed invite with a code not used by any other invite and stores it.
func (s *Service) mintAddressed(ctx context.Context, r store.Repo, in invite.AddressedInput) (invite.Invite, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		inv, err := s.minter.Addressed(in)
		if err != nil {
			return invite.Invite{}, err
		}
		_, err = r.GetInviteByCode(ctx, inv.Code)
		if err == nil {
			continue
		}
		if !identity.IsNotFound(err) {
			return invite.Invite{}, err
		}
		if err := r.CreateInvite(ctx, inv); err != nil {
			return invite.Invite{}, err
		}
		return inv, nil
	}
	return invite.Invite{}, identity.ConflictError{Op: "family.mintAddressed", Field: "invite_code"}
}
