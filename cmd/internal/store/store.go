// Package store is the persistence boundary for Hearth.
//
// Services talk to a Store and receive a Repo inside View (reads) or InTx
// (atomic read-modify-write). Single-use transitions are expressed as
// conditional updates that report whether a row changed; a false result
// means another writer got there first.
//
// Errors: identity.NotFoundError for missing rows, identity.ConflictError
// for uniqueness violations.
package store

import (
	"context"
	"time"

	"hearth/cmd/identity"
	"hearth/cmd/internal/invite"
)

// Store opens units of work over a Repo.
type Store interface {
	// View runs fn against a non-transactional Repo.
	View(ctx context.Context, fn func(Repo) error) error
	// InTx runs fn in a transaction; fn's error rolls everything back.
	InTx(ctx context.Context, fn func(Repo) error) error
	// Ping checks backend reachability.
	Ping(ctx context.Context) error
	Close()
}

// Repo is the set of persistence operations available within a unit of work.
type Repo interface {
	UserRepo
	FamilyRepo
	TokenRepo
	InviteRepo
	ChatRepo
}

// UserRepo persists accounts. "Live" means deleted_at IS NULL.
type UserRepo interface {
	CreateUser(ctx context.Context, u identity.User) error
	GetUser(ctx context.Context, id string) (identity.User, error)
	// GetUserForUpdate locks the row until the transaction ends.
	GetUserForUpdate(ctx context.Context, id string) (identity.User, error)
	GetLiveUserByEmail(ctx context.Context, email string) (identity.User, error)
	GetUsers(ctx context.Context, ids []string) (map[string]identity.User, error)
	SetActiveFamily(ctx context.Context, userID string, familyID *string, now time.Time) error
	// ClearActiveFamilyIf clears active_family_id only when it equals familyID.
	ClearActiveFamilyIf(ctx context.Context, userID, familyID string, now time.Time) (bool, error)
	SetUserRole(ctx context.Context, userID string, role identity.Role, now time.Time) error
	SetPasswordHash(ctx context.Context, userID, hash string, now time.Time) error
	MarkEmailVerified(ctx context.Context, userID string, at time.Time) error
	// SoftDeleteUser sets deleted_at and clears active_family_id; false if already deleted.
	SoftDeleteUser(ctx context.Context, userID string, at time.Time) (bool, error)
}

// FamilyRepo persists families and memberships.
type FamilyRepo interface {
	CreateFamily(ctx context.Context, f identity.Family) error
	GetFamily(ctx context.Context, id string) (identity.Family, error)
	// GetFamilyForUpdate serializes capacity checks on the family.
	GetFamilyForUpdate(ctx context.Context, id string) (identity.Family, error)
	GetFamilyByInviteCode(ctx context.Context, code string) (identity.Family, error)

	CreateMembership(ctx context.Context, m identity.Membership) error
	GetMembership(ctx context.Context, userID, familyID string) (identity.Membership, error)
	ListMembershipsByUser(ctx context.Context, userID string) ([]identity.Membership, error)
	ListMembershipsByFamily(ctx context.Context, familyID string) ([]identity.Membership, error)
	CountMembers(ctx context.Context, familyID string) (int, error)
	DeleteMembership(ctx context.Context, userID, familyID string) error
	DeleteMembershipsByUser(ctx context.Context, userID string) (int, error)
}

// TokenRepo persists email verification tokens.
type TokenRepo interface {
	CreateVerificationToken(ctx context.Context, t identity.VerificationToken) error
	GetVerificationTokenByHash(ctx context.Context, hash string) (identity.VerificationToken, error)
	// UseVerificationToken sets used_at if still unused and unexpired at `at`.
	UseVerificationToken(ctx context.Context, id string, at time.Time) (bool, error)
}

// InviteRepo persists addressed and email-bound invites.
type InviteRepo interface {
	CreateInvite(ctx context.Context, inv invite.Invite) error
	GetInviteByCode(ctx context.Context, code string) (invite.Invite, error)
	GetOpenInvite(ctx context.Context, familyID, email string) (invite.Invite, error)
	ListInvitesByFamily(ctx context.Context, familyID string) ([]invite.Invite, error)
	ListInvitesByEmail(ctx context.Context, email string, statuses ...invite.Status) ([]invite.Invite, error)
	// TransitionInvite moves status from -> to; acceptedAt is stored when non-nil.
	TransitionInvite(ctx context.Context, id string, from, to invite.Status, acceptedAt *time.Time) (bool, error)
	// UpgradeInvite attaches key material to a PENDING_REGISTRATION invite and makes it PENDING.
	UpgradeInvite(ctx context.Context, id string, key invite.KeyMaterial, expiresAt time.Time) (bool, error)
	// RevokeOpenInvites revokes open invites to email; familyID nil means every family.
	RevokeOpenInvites(ctx context.Context, email string, familyID *string) (int, error)

	CreateFamilyInvite(ctx context.Context, fi invite.FamilyInvite) error
	GetFamilyInviteByHash(ctx context.Context, codeHash string) (invite.FamilyInvite, error)
	// GetFamilyInviteByHashForUpdate locks the invite row until the transaction ends.
	GetFamilyInviteByHashForUpdate(ctx context.Context, codeHash string) (invite.FamilyInvite, error)
	ListFamilyInvites(ctx context.Context, familyID string) ([]invite.FamilyInvite, error)
	// RedeemFamilyInvite marks an unredeemed, unexpired invite as redeemed by userID.
	RedeemFamilyInvite(ctx context.Context, id, userID string, at time.Time) (bool, error)
}

// ChatRepo persists channels and messages.
type ChatRepo interface {
	CreateChannel(ctx context.Context, c identity.Channel) error
	GetChannel(ctx context.Context, id string) (identity.Channel, error)
	ListChannels(ctx context.Context, familyID string) ([]identity.Channel, error)
	CreateMessage(ctx context.Context, m identity.Message) error
	// ListMessages returns up to limit messages older than cur, newest first.
	ListMessages(ctx context.Context, channelID string, cur MessageCursor, limit int) ([]identity.Message, error)
}

// MessageCursor is a (created_at, id) keyset position in a channel's history.
// An empty BeforeID excludes every message created at Before; a zero Before means now.
type MessageCursor struct {
	Before   time.Time
	BeforeID string
}

// Includes reports whether m is strictly older than the cursor position.
func (c MessageCursor) Includes(m identity.Message) bool {
	if m.CreatedAt.Before(c.Before) {
		return true
	}
	return m.CreatedAt.Equal(c.Before) && c.BeforeID != "" && m.ID < c.BeforeID
}
