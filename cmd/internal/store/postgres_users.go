package store

import (
	"context"
	"encoding/json"
	"time"

	"hearth/cmd/identity"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, name, password_hash, public_key, email_verified, email_verified_at,
	role, active_family_id, preferences, created_at, updated_at, deleted_at`

func scanUser(row pgx.Row) (identity.User, error) {
	var (
		u    identity.User
		role string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&u.PublicKey,
		&u.EmailVerified,
		&u.EmailVerifiedAt,
		&role,
		&u.ActiveFamilyID,
		&u.Preferences,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.DeletedAt,
	)
	u.Role = identity.Role(role)
	return u, err
}

func (r *pgRepo) CreateUser(ctx context.Context, u identity.User) error {
	const op = "store.CreateUser"
	prefs := u.Preferences
	if len(prefs) == 0 {
		prefs = json.RawMessage(`{}`)
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO `+r.table("users")+` (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		u.ID,
		u.Email,
		u.Name,
		u.PasswordHash,
		u.PublicKey,
		u.EmailVerified,
		u.EmailVerifiedAt,
		string(u.Role),
		u.ActiveFamilyID,
		prefs,
		u.CreatedAt,
		u.UpdatedAt,
		u.DeletedAt,
	)
	return pgErr(op, "user", err)
}

func (r *pgRepo) GetUser(ctx context.Context, id string) (identity.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+r.table("users")+` WHERE id = $1`, id))
	return u, pgErr("store.GetUser", "user", err)
}

func (r *pgRepo) GetUserForUpdate(ctx context.Context, id string) (identity.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+r.table("users")+` WHERE id = $1 FOR UPDATE`, id))
	return u, pgErr("store.GetUserForUpdate", "user", err)
}

func (r *pgRepo) GetLiveUserByEmail(ctx context.Context, email string) (identity.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+r.table("users")+`
		  WHERE email = $1 AND deleted_at IS NULL`, email))
	return u, pgErr("store.GetLiveUserByEmail", "user", err)
}

func (r *pgRepo) GetUsers(ctx context.Context, ids []string) (map[string]identity.User, error) {
	out := make(map[string]identity.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+userColumns+` FROM `+r.table("users")+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	users, err := collect(rows, scanUser)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func (r *pgRepo) SetActiveFamily(ctx context.Context, userID string, familyID *string, now time.Time) error {
	const op = "store.SetActiveFamily"
	tag, err := r.db.Exec(ctx,
		`UPDATE `+r.table("users")+` SET active_family_id = $2, updated_at = $3 WHERE id = $1`,
		userID, familyID, now)
	if err != nil {
		return pgErr(op, "family", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

func (r *pgRepo) ClearActiveFamilyIf(ctx context.Context, userID, familyID string, now time.Time) (bool, error) {
	return pgExecChanged(r.db.Exec(ctx,
		`UPDATE `+r.table("users")+` SET active_family_id = NULL, updated_at = $3
		  WHERE id = $1 AND active_family_id = $2`,
		userID, familyID, now))
}

func (r *pgRepo) SetUserRole(ctx context.Context, userID string, role identity.Role, now time.Time) error {
	return r.updateUserOrNotFound(ctx, "store.SetUserRole",
		`UPDATE `+r.table("users")+` SET role = $2, updated_at = $3 WHERE id = $1`,
		userID, string(role), now)
}

func (r *pgRepo) SetPasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	return r.updateUserOrNotFound(ctx, "store.SetPasswordHash",
		`UPDATE `+r.table("users")+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, hash, now)
}

func (r *pgRepo) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	return r.updateUserOrNotFound(ctx, "store.MarkEmailVerified",
		`UPDATE `+r.table("users")+`
		    SET email_verified = true, email_verified_at = $2, updated_at = $2
		  WHERE id = $1`,
		userID, at)
}

func (r *pgRepo) SoftDeleteUser(ctx context.Context, userID string, at time.Time) (bool, error) {
	return pgExecChanged(r.db.Exec(ctx,
		`UPDATE `+r.table("users")+`
		    SET deleted_at = $2, active_family_id = NULL, updated_at = $2
		  WHERE id = $1 AND deleted_at IS NULL`,
		userID, at))
}

func (r *pgRepo) updateUserOrNotFound(ctx context.Context, op, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return pgErr(op, "user", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}
