package invite

import (
	"strings"
	"time"

	"hearth/cmd/identity"
	"hearth/cmd/security/token"
)

// Sealer encrypts invitee emails at rest (see security/envelope).
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(envelope string) (string, error)
}

// Minter builds new invite records. It does not persist anything.
type Minter struct {
	sealer Sealer
	genTok func() (string, error)
	genLeg func() (string, error)
}

// Option configures the Minter.
type Option func(*Minter) error

// WithCodeGenerators overrides code generation (tests only need this for collisions).
func WithCodeGenerators(emailBound, legacy func() (string, error)) Option {
	return func(m *Minter) error {
		if emailBound == nil || legacy == nil {
			return ErrInvalidInput
		}
		m.genTok = emailBound
		m.genLeg = legacy
		return nil
	}
}

// NewMinter constructs a Minter with safe defaults.
func NewMinter(sealer Sealer, opts ...Option) (*Minter, error) {
	if sealer == nil {
		return nil, ErrInvalidInput
	}
	m := &Minter{sealer: sealer, genTok: token.Generate, genLeg: GenerateLegacyCode}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddressedInput describes an addressed invite. A nil Key yields a PendingRegistration invite.
type AddressedInput struct {
	FamilyID     string
	InviterID    string
	InviteeEmail string
	Key          *KeyMaterial
	Now          time.Time
}

// Addressed mints an Encrypted (Key set) or PendingRegistration (Key nil) invite.
func (m *Minter) Addressed(in AddressedInput) (Invite, error) {
	email := identity.NormalizeEmail(in.InviteeEmail)
	if strings.TrimSpace(in.FamilyID) == "" || strings.TrimSpace(in.InviterID) == "" || email == "" {
		return Invite{}, ErrInvalidInput
	}
	if in.Key != nil && (strings.TrimSpace(in.Key.EncryptedFamilyKey) == "" || strings.TrimSpace(in.Key.Nonce) == "") {
		return Invite{}, ErrInvalidInput
	}
	now := nowOr(in.Now)

	id, err := identity.NewULID(now)
	if err != nil {
		return Invite{}, err
	}
	code, err := m.genLeg()
	if err != nil {
		return Invite{}, err
	}

	inv := Invite{
		ID:           id,
		FamilyID:     in.FamilyID,
		InviterID:    in.InviterID,
		InviteeEmail: email,
		Code:         code,
		Key:          in.Key,
		CreatedAt:    now,
	}
	if in.Key != nil {
		inv.Status = StatusPending
		inv.ExpiresAt = now.Add(EncryptedTTL)
	} else {
		inv.Status = StatusPendingRegistration
		inv.ExpiresAt = now.Add(PendingRegistrationTTL)
	}
	return inv, nil
}

// EmailBoundInput describes an email-bound invite.
type EmailBoundInput struct {
	FamilyID     string
	InviterID    string
	InviteeEmail string
	Now          time.Time
}

// EmailBound mints an email-bound invite. The returned Code is the only copy of the plaintext.
func (m *Minter) EmailBound(in EmailBoundInput) (FamilyInvite, error) {
	email := identity.NormalizeEmail(in.InviteeEmail)
	if strings.TrimSpace(in.FamilyID) == "" || strings.TrimSpace(in.InviterID) == "" || email == "" {
		return FamilyInvite{}, ErrInvalidInput
	}
	now := nowOr(in.Now)

	id, err := identity.NewULID(now)
	if err != nil {
		return FamilyInvite{}, err
	}
	code, err := m.genTok()
	if err != nil {
		return FamilyInvite{}, err
	}
	sealed, err := m.sealer.Encrypt(email)
	if err != nil {
		return FamilyInvite{}, err
	}

	return FamilyInvite{
		ID:                    id,
		FamilyID:              in.FamilyID,
		InviterID:             in.InviterID,
		Code:                  code,
		CodeHash:              token.HashSHA256Hex(code),
		InviteeEmailEncrypted: sealed,
		CreatedAt:             now,
		ExpiresAt:             now.Add(EmailBoundTTL),
	}, nil
}

// InviteeEmail opens the envelope of an email-bound invite.
func (m *Minter) InviteeEmail(f FamilyInvite) (string, error) {
	return m.sealer.Decrypt(f.InviteeEmailEncrypted)
}

// MatchesInvitee compares email against the sealed invitee email, case-insensitively.
func (m *Minter) MatchesInvitee(f FamilyInvite, email string) (bool, error) {
	sealed, err := m.InviteeEmail(f)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(sealed), strings.TrimSpace(email)), nil
}

// LegacyCode mints a shared family code.
func (m *Minter) LegacyCode() (string, error) { return m.genLeg() }

// HashCode returns the lookup hash for an email-bound code.
func HashCode(code string) string { return token.HashSHA256Hex(code) }

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
