package store

import (
	"context"
	"time"

	"hearth/cmd/identity"
	"hearth/cmd/internal/invite"

	"github.com/jackc/pgx/v5"
)

// ---- verification tokens ----

const tokenColumns = `id, user_id, token_hash, expires_at, used_at, pending_invite_code, created_at`

func scanToken(row pgx.Row) (identity.VerificationToken, error) {
	var t identity.VerificationToken
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.PendingInviteCode, &t.CreatedAt)
	return t, err
}

func (r *pgRepo) CreateVerificationToken(ctx context.Context, t identity.VerificationToken) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO `+r.table("email_verification_tokens")+` (`+tokenColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.UsedAt, t.PendingInviteCode, t.CreatedAt)
	return pgErr("store.CreateVerificationToken", "user", err)
}

func (r *pgRepo) GetVerificationTokenByHash(ctx context.Context, hash string) (identity.VerificationToken, error) {
	t, err := scanToken(r.db.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM `+r.table("email_verification_tokens")+` WHERE token_hash = $1`, hash))
	return t, pgErr("store.GetVerificationTokenByHash", "verification_token", err)
}

func (r *pgRepo) UseVerificationToken(ctx context.Context, id string, at time.Time) (bool, error) {
	return pgExecChanged(r.db.Exec(ctx,
		`UPDATE `+r.table("email_verification_tokens")+` SET used_at = $2
		  WHERE id = $1 AND used_at IS NULL AND expires_at > $2`,
		id, at))
}

// ---- addressed invites ----

const inviteColumns = `id, family_id, inviter_id, invitee_email, invite_code,
	encrypted_family_key, nonce, status, created_at, expires_at, accepted_at`

func scanInvite(row pgx.Row) (invite.Invite, error) {
	var (
		inv        invite.Invite
		key, nonce *string
		status     string
	)
	err := row.Scan(
		&inv.ID,
		&inv.FamilyID,
		&inv.InviterID,
		&inv.InviteeEmail,
		&inv.Code,
		&key,
		&nonce,
		&status,
		&inv.CreatedAt,
		&inv.ExpiresAt,
		&inv.AcceptedAt,
	)
	if err != nil {
		return invite.Invite{}, err
	}
	inv.Status = invite.Status(status)
	if key != nil && nonce != nil {
		inv.Key = &invite.KeyMaterial{EncryptedFamilyKey: *key, Nonce: *nonce}
	}
	return inv, nil
}

func (r *pgRepo) CreateInvite(ctx context.Context, inv invite.Invite) error {
	var key, nonce *string
	if inv.Key != nil {
		key, nonce = &inv.Key.EncryptedFamilyKey, &inv.Key.Nonce
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO `+r.table("invites")+` (`+inviteColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		inv.ID,
		inv.FamilyID,
		inv.InviterID,
		inv.InviteeEmail,
		inv.Code,
		key,
		nonce,
		string(inv.Status),
		inv.CreatedAt,
		inv.ExpiresAt,
		inv.AcceptedAt,
	)
	return pgErr("store.CreateInvite", "family", err)
}

func (r *pgRepo) GetInviteByCode(ctx context.Context, code string) (invite.Invite, error) {
	inv, err := scanInvite(r.db.QueryRow(ctx,
		`SELECT `+inviteColumns+` FROM `+r.table("invites")+` WHERE invite_code = $1`, code))
	return inv, pgErr("store.GetInviteByCode", "invite", err)
}

func (r *pgRepo) GetOpenInvite(ctx context.Context, familyID, email string) (invite.Invite, error) {
	inv, err := scanInvite(r.db.QueryRow(ctx,
		`SELECT `+inviteColumns+` FROM `+r.table("invites")+`
		  WHERE family_id = $1 AND invitee_email = $2 AND status = ANY($3)`,
		familyID, email, statusStrings(invite.OpenStatuses)))
	return inv, pgErr("store.GetOpenInvite", "invite", err)
}

func (r *pgRepo) ListInvitesByFamily(ctx context.Context, familyID string) ([]invite.Invite, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+inviteColumns+` FROM `+r.table("invites")+`
		  WHERE family_id = $1 ORDER BY id DESC`,
		familyID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanInvite)
}

func (r *pgRepo) ListInvitesByEmail(ctx context.Context, email string, statuses ...invite.Status) ([]invite.Invite, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = r.db.Query(ctx,
			`SELECT `+inviteColumns+` FROM `+r.table("invites")+`
			  WHERE invitee_email = $1 ORDER BY id DESC`,
			email)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+inviteColumns+` FROM `+r.table("invites")+`
			  WHERE invitee_email = $1 AND status = ANY($2) ORDER BY id DESC`,
			email, statusStrings(statuses))
	}
	if err != nil {
		return nil, err
	}
	return collect(rows, scanInvite)
}

func (r *pgRepo) TransitionInvite(ctx context.Context, id string, from, to invite.Status, acceptedAt *time.Time) (bool, error) {
	return pgExecChanged(r.db.Exec(ctx,
		`UPDATE `+r.table("invites")+`
		    SET status = $3, accepted_at = COALESCE($4, accepted_at)
		  WHERE id = $1 AND status = $2`,
		id, string(from), string(to), acceptedAt))
}

func (r *pgRepo) UpgradeInvite(ctx context.Context, id string, key invite.KeyMaterial, expiresAt time.Time) (bool, error) {
	return pgExecChanged(r.db.Exec(ctx,
		`UPDATE `+r.table("invites")+`
		    SET encrypted_family_key = $2, nonce = $3, status = $4, expires_at = $5
		  WHERE id = $1 AND status = $6`,
		id, key.EncryptedFamilyKey, key.Nonce,
		string(invite.StatusPending), expiresAt, string(invite.StatusPendingRegistration)))
}

func (r *pgRepo) RevokeOpenInvites(ctx context.Context, email string, familyID *string) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE `+r.table("invites")+` SET status = $2
		  WHERE invitee_email = $1 AND status = ANY($3)
		    AND ($4::text IS NULL OR family_id = $4)`,
		email, string(invite.StatusRevoked), statusStrings(invite.OpenStatuses), familyID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ---- email-bound invites ----

const familyInviteColumns = `id, family_id, inviter_id, code_hash, invitee_email_encrypted,
	created_at, expires_at, redeemed_at, redeemed_by_user_id`

func scanFamilyInvite(row pgx.Row) (invite.FamilyInvite, error) {
	var fi invite.FamilyInvite
	err := row.Scan(
		&fi.ID,
		&fi.FamilyID,
		&fi.InviterID,
		&fi.CodeHash,
		&fi.InviteeEmailEncrypted,
		&fi.CreatedAt,
		&fi.ExpiresAt,
		&fi.RedeemedAt,
		&fi.RedeemedByUserID,
	)
	return fi, err
}

func (r *pgRepo) CreateFamilyInvite(ctx context.Context, fi invite.FamilyInvite) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO `+r.table("family_invites")+` (`+familyInviteColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		fi.ID,
		fi.FamilyID,
		fi.InviterID,
		fi.CodeHash,
		fi.InviteeEmailEncrypted,
		fi.CreatedAt,
		fi.ExpiresAt,
		fi.RedeemedAt,
		fi.RedeemedByUserID,
	)
	return pgErr("store.CreateFamilyInvite", "family", err)
}

func (r *pgRepo) GetFamilyInviteByHash(ctx context.Context, codeHash string) (invite.FamilyInvite, error) {
	fi, err := scanFamilyInvite(r.db.QueryRow(ctx,
		`SELECT `+familyInviteColumns+` FROM `+r.table("family_invites")+` WHERE code_hash = $1`, codeHash))
	return fi, pgErr("store.GetFamilyInviteByHash", "family_invite", err)
}

func (r *pgRepo) GetFamilyInviteByHashForUpdate(ctx context.Context, codeHash string) (invite.FamilyInvite, error) {
	fi, err := scanFamilyInvite(r.db.QueryRow(ctx,
		`SELECT `+familyInviteColumns+` FROM `+r.table("family_invites")+` WHERE code_hash = $1 FOR UPDATE`, codeHash))
	return fi, pgErr("store.GetFamilyInviteByHashForUpdate", "family_invite", err)
}

func (r *pgRepo) ListFamilyInvites(ctx context.Context, familyID string) ([]invite.FamilyInvite, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+familyInviteColumns+` FROM `+r.table("family_invites")+`
		  WHERE family_id = $1 ORDER BY id DESC`,
		familyID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanFamilyInvite)
}

func (r *pgRepo) RedeemFamilyInvite(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	return pgExecChanged(r.db.Exec(ctx,
		`UPDATE `+r.table("family_invites")+`
		    SET redeemed_at = $3, redeemed_by_user_id = $2
		  WHERE id = $1 AND redeemed_at IS NULL AND expires_at > $3`,
		id, userID, at))
}

func statusStrings(in []invite.Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
