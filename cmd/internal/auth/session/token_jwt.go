package session

import (
	"errors"
	"time"

	"hearth/cmd/identity"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the identity envelope carried by access tokens.
type AccessClaims struct {
	jwt.RegisteredClaims
	FamilyID *string `json:"familyId,omitempty"`
}

// RefreshClaims carries only the subject.
type RefreshClaims struct {
	jwt.RegisteredClaims
}

// Pair is the result of Issue.
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Manager signs and verifies access/refresh tokens.
type Manager struct {
	cfg     Config
	access  []byte
	refresh []byte
}

// NewManager validates cfg and builds a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:     cfg,
		access:  []byte(cfg.AccessSecret),
		refresh: []byte(cfg.RefreshSecret),
	}, nil
}

// Issue mints a token pair for userID. familyID is the active family and may be nil.
func (m *Manager) Issue(userID string, familyID *string, now time.Time) (Pair, error) {
	if userID == "" {
		return Pair{}, ErrInvalidToken
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	accessExp := now.Add(m.cfg.AccessTTL)
	refreshExp := now.Add(m.cfg.RefreshTTL)

	accessID, err := identity.NewULID(now)
	if err != nil {
		return Pair{}, err
	}
	refreshID, err := identity.NewULID(now)
	if err != nil {
		return Pair{}, err
	}

	var fam *string
	if familyID != nil && *familyID != "" {
		v := *familyID
		fam = &v
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		RegisteredClaims: m.registered(userID, accessID, now, accessExp),
		FamilyID:         fam,
	}).SignedString(m.access)
	if err != nil {
		return Pair{}, err
	}

	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{
		RegisteredClaims: m.registered(userID, refreshID, now, refreshExp),
	}).SignedString(m.refresh)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (m *Manager) registered(sub, id string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    m.cfg.Issuer,
		Subject:   sub,
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

// VerifyAccess checks an access token at now.
func (m *Manager) VerifyAccess(token string, now time.Time) (AccessClaims, error) {
	var claims AccessClaims
	if err := m.parse(token, &claims, m.access, now); err != nil {
		return AccessClaims{}, err
	}
	return claims, nil
}

// VerifyRefresh checks a refresh token at now. Access tokens fail here
// because they are signed with the other secret.
func (m *Manager) VerifyRefresh(token string, now time.Time) (RefreshClaims, error) {
	var claims RefreshClaims
	if err := m.parse(token, &claims, m.refresh, now); err != nil {
		return RefreshClaims{}, err
	}
	return claims, nil
}

func (m *Manager) parse(token string, claims jwt.Claims, key []byte, now time.Time) error {
	if token == "" {
		return ErrInvalidToken
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.cfg.ClockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	parsed, err := p.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return key, nil })
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrInvalidToken
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return ErrInvalidToken
	}
	return nil
}
