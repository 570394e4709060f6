package invite

import "time"

// Status is the lifecycle state of an addressed invite.
type Status string

const (
	StatusPending             Status = "PENDING"
	StatusPendingRegistration Status = "PENDING_REGISTRATION"
	StatusAccepted            Status = "ACCEPTED"
	StatusExpired             Status = "EXPIRED"
	StatusRevoked             Status = "REVOKED"
)

// Open reports whether the invite still counts against the one-open-invite rule.
func (s Status) Open() bool { return s == StatusPending || s == StatusPendingRegistration }

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPendingRegistration, StatusAccepted, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

// OpenStatuses lists statuses considered open.
var OpenStatuses = []Status{StatusPending, StatusPendingRegistration}

// Variant tags the concrete invite shape.
type Variant string

const (
	VariantLegacy              Variant = "LEGACY"
	VariantEncrypted           Variant = "ENCRYPTED"
	VariantPendingRegistration Variant = "PENDING_REGISTRATION"
	VariantEmailBound          Variant = "EMAIL_BOUND"
)

// Lifetimes per variant.
const (
	EncryptedTTL           = 7 * 24 * time.Hour
	PendingRegistrationTTL = 30 * 24 * time.Hour
	EmailBoundTTL          = 14 * 24 * time.Hour
)

// Redeemable is the capability shared by single-use invites.
type Redeemable interface {
	Kind() Variant
	Expired(now time.Time) bool
	Redeemed() bool
}

// Check applies the shared redemption rules in order: expired, then already used.
func Check(r Redeemable, now time.Time) error {
	if r.Expired(now) {
		return ErrExpired
	}
	if r.Redeemed() {
		return ErrAlreadyUsed
	}
	return nil
}

// KeyMaterial is the client-encrypted family key. The server never opens it.
type KeyMaterial struct {
	EncryptedFamilyKey string
	Nonce              string
}

// Invite is an addressed invite (Encrypted or PendingRegistration variant).
type Invite struct {
	ID           string
	FamilyID     string
	InviterID    string
	InviteeEmail string
	Code         string
	Key          *KeyMaterial
	Status       Status
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AcceptedAt   *time.Time
}

// Kind derives the variant from the presence of key material.
func (i Invite) Kind() Variant {
	if i.Key != nil {
		return VariantEncrypted
	}
	return VariantPendingRegistration
}

// Expired reports whether the invite timed out, either by status or by clock.
func (i Invite) Expired(now time.Time) bool {
	return i.Status == StatusExpired || !i.ExpiresAt.After(now)
}

// Redeemed reports whether the invite was accepted.
func (i Invite) Redeemed() bool { return i.Status == StatusAccepted || i.AcceptedAt != nil }

// CheckAcceptable extends Check with the status rules for acceptInvite.
// ErrExpired is returned for open invites whose clock ran out; callers persist EXPIRED for those.
func (i Invite) CheckAcceptable(now time.Time) error {
	switch i.Status {
	case StatusRevoked:
		return ErrRevoked
	case StatusAccepted:
		return ErrAlreadyUsed
	case StatusExpired:
		return ErrExpired
	}
	if err := Check(i, now); err != nil {
		return err
	}
	if i.Status != StatusPending {
		return ErrNotPending
	}
	return nil
}

// FamilyInvite is the email-bound variant. Code is only populated right after minting.
type FamilyInvite struct {
	ID                    string
	FamilyID              string
	InviterID             string
	Code                  string
	CodeHash              string
	InviteeEmailEncrypted string
	CreatedAt             time.Time
	ExpiresAt             time.Time
	RedeemedAt            *time.Time
	RedeemedByUserID      *string
}

func (f FamilyInvite) Kind() Variant { return VariantEmailBound }

func (f FamilyInvite) Expired(now time.Time) bool { return !f.ExpiresAt.After(now) }

func (f FamilyInvite) Redeemed() bool { return f.RedeemedAt != nil }

// DerivedStatus maps the email-bound lifecycle onto addressed statuses for listings.
func (f FamilyInvite) DerivedStatus(now time.Time) Status {
	switch {
	case f.Redeemed():
		return StatusAccepted
	case f.Expired(now):
		return StatusExpired
	default:
		return StatusPending
	}
}

var (
	_ Redeemable = Invite{}
	_ Redeemable = FamilyInvite{}
)
