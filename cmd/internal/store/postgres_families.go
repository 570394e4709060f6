package store

import (
	"context"

	"hearth/cmd/identity"

	"github.com/jackc/pgx/v5"
)

const familyColumns = `id, name, invite_code, max_members, created_by, created_at`

func scanFamily(row pgx.Row) (identity.Family, error) {
	var f identity.Family
	err := row.Scan(&f.ID, &f.Name, &f.InviteCode, &f.MaxMembers, &f.CreatedBy, &f.CreatedAt)
	return f, err
}

func scanMembership(row pgx.Row) (identity.Membership, error) {
	var (
		m    identity.Membership
		role string
	)
	err := row.Scan(&m.UserID, &m.FamilyID, &role, &m.JoinedAt)
	m.Role = identity.Role(role)
	return m, err
}

func (r *pgRepo) CreateFamily(ctx context.Context, f identity.Family) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO `+r.table("families")+` (`+familyColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.Name, f.InviteCode, f.MaxMembers, f.CreatedBy, f.CreatedAt)
	return pgErr("store.CreateFamily", "family", err)
}

func (r *pgRepo) GetFamily(ctx context.Context, id string) (identity.Family, error) {
	f, err := scanFamily(r.db.QueryRow(ctx,
		`SELECT `+familyColumns+` FROM `+r.table("families")+` WHERE id = $1`, id))
	return f, pgErr("store.GetFamily", "family", err)
}

func (r *pgRepo) GetFamilyForUpdate(ctx context.Context, id string) (identity.Family, error) {
	f, err := scanFamily(r.db.QueryRow(ctx,
		`SELECT `+familyColumns+` FROM `+r.table("families")+` WHERE id = $1 FOR UPDATE`, id))
	return f, pgErr("store.GetFamilyForUpdate", "family", err)
}

func (r *pgRepo) GetFamilyByInviteCode(ctx context.Context, code string) (identity.Family, error) {
	f, err := scanFamily(r.db.QueryRow(ctx,
		`SELECT `+familyColumns+` FROM `+r.table("families")+` WHERE invite_code = $1`, code))
	return f, pgErr("store.GetFamilyByInviteCode", "family", err)
}

func (r *pgRepo) CreateMembership(ctx context.Context, m identity.Membership) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO `+r.table("family_memberships")+` (user_id, family_id, role, joined_at)
		 VALUES ($1, $2, $3, $4)`,
		m.UserID, m.FamilyID, string(m.Role), m.JoinedAt)
	return pgErr("store.CreateMembership", "membership", err)
}

func (r *pgRepo) GetMembership(ctx context.Context, userID, familyID string) (identity.Membership, error) {
	m, err := scanMembership(r.db.QueryRow(ctx,
		`SELECT user_id, family_id, role, joined_at FROM `+r.table("family_memberships")+`
		  WHERE user_id = $1 AND family_id = $2`,
		userID, familyID))
	return m, pgErr("store.GetMembership", "membership", err)
}

func (r *pgRepo) ListMembershipsByUser(ctx context.Context, userID string) ([]identity.Membership, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id, family_id, role, joined_at FROM `+r.table("family_memberships")+`
		  WHERE user_id = $1 ORDER BY joined_at, family_id`,
		userID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanMembership)
}

func (r *pgRepo) ListMembershipsByFamily(ctx context.Context, familyID string) ([]identity.Membership, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id, family_id, role, joined_at FROM `+r.table("family_memberships")+`
		  WHERE family_id = $1 ORDER BY joined_at, user_id`,
		familyID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanMembership)
}

func (r *pgRepo) CountMembers(ctx context.Context, familyID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM `+r.table("family_memberships")+` WHERE family_id = $1`,
		familyID).Scan(&n)
	return n, err
}

func (r *pgRepo) DeleteMembership(ctx context.Context, userID, familyID string) error {
	const op = "store.DeleteMembership"
	tag, err := r.db.Exec(ctx,
		`DELETE FROM `+r.table("family_memberships")+` WHERE user_id = $1 AND family_id = $2`,
		userID, familyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return identity.NotFoundError{Op: op, Resource: "membership"}
	}
	return nil
}

func (r *pgRepo) DeleteMembershipsByUser(ctx context.Context, userID string) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM `+r.table("family_memberships")+` WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
