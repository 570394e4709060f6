package identity

import (
	"encoding/json"
	"time"
)

// Role is a family-scoped role.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleAdmin || r == RoleMember }

// User is an account. Email is stored normalized (see NormalizeEmail).
type User struct {
	ID              string
	Email           string
	Name            string
	PasswordHash    string
	PublicKey       *string
	EmailVerified   bool
	EmailVerifiedAt *time.Time
	Role            Role
	ActiveFamilyID  *string
	Preferences     json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// Deleted reports whether the account is soft-deleted.
func (u User) Deleted() bool { return u.DeletedAt != nil }

// HasPublicKey reports whether the user has uploaded a key.
func (u User) HasPublicKey() bool { return u.PublicKey != nil && *u.PublicKey != "" }

// Family is a bounded-size group.
type Family struct {
	ID         string
	Name       string
	InviteCode string
	MaxMembers int
	CreatedBy  string
	CreatedAt  time.Time
}

// Membership joins a user to a family with a family-scoped role.
type Membership struct {
	UserID   string
	FamilyID string
	Role     Role
	JoinedAt time.Time
}

// VerificationToken gates login until the email is confirmed. Only the hash is stored.
type VerificationToken struct {
	ID                string
	UserID            string
	TokenHash         string
	ExpiresAt         time.Time
	UsedAt            *time.Time
	PendingInviteCode *string
	CreatedAt         time.Time
}
