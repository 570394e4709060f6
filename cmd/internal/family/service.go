package family

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"hearth/cmd/identity"
	"hearth/cmd/internal/auth/session"
	"hearth/cmd/internal/invite"
	"hearth/cmd/internal/metrics"
	"hearth/cmd/internal/notify"
	"hearth/cmd/internal/ratelimit"
	"hearth/cmd/internal/store"
	"hearth/cmd/security/password"
	"hearth/cmd/security/token"
)

// DefaultMaxMembers caps families created without an explicit limit.
const DefaultMaxMembers = 10

// VerificationTokenTTL is the lifetime of an email verification token.
const VerificationTokenTTL = 24 * time.Hour

// ResendMessage is returned by ResendVerificationEmail whatever the outcome.
const ResendMessage = "If an unverified account exists for this email, a new verification link has been sent."

// TokenIssuer mints and checks bearer tokens (see auth/session).
type TokenIssuer interface {
	Issue(userID string, familyID *string, now time.Time) (session.Pair, error)
	VerifyRefresh(token string, now time.Time) (session.RefreshClaims, error)
}

// Service orchestrates registration, families, invites and removal.
type Service struct {
	store   store.Store
	hasher  password.Hasher
	tokens  TokenIssuer
	minter  *invite.Minter
	limiter ratelimit.Limiter
	notify  *notify.Dispatcher
	metrics *metrics.Metrics
	log     *slog.Logger

	now        func() time.Time
	maxMembers int

	// dummyHash is verified against on logins for unknown accounts.
	dummyHash string
}

// Option configures Service.
type Option func(*Service) error

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return errors.New("family: nil clock")
		}
		s.now = now
		return nil
	}
}

// WithMaxMembers sets the capacity given to new families.
func WithMaxMembers(n int) Option {
	return func(s *Service) error {
		if n < 1 {
			return errors.New("family: max members must be >= 1")
		}
		s.maxMembers = n
		return nil
	}
}

// WithLimiter sets the resend limiter (default: in-process 5 per 15 minutes).
func WithLimiter(l ratelimit.Limiter) Option {
	return func(s *Service) error {
		if l == nil {
			return errors.New("family: nil limiter")
		}
		s.limiter = l
		return nil
	}
}

// WithDispatcher sets the after-commit notification dispatcher.
func WithDispatcher(d *notify.Dispatcher) Option {
	return func(s *Service) error {
		s.notify = d
		return nil
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) error {
		s.metrics = m
		return nil
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// NewService constructs a Service.
func NewService(st store.Store, hasher password.Hasher, tokens TokenIssuer, minter *invite.Minter, opts ...Option) (*Service, error) {
	if st == nil || hasher == nil || tokens == nil || minter == nil {
		return nil, errors.New("family: missing dependency")
	}
	s := &Service{
		store:      st,
		hasher:     hasher,
		tokens:     tokens,
		minter:     minter,
		limiter:    ratelimit.NewFixedWindow(ratelimit.DefaultLimit, ratelimit.DefaultWindow),
		log:        slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
		maxMembers: DefaultMaxMembers,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	dummy, err := token.Generate()
	if err != nil {
		return nil, err
	}
	if s.dummyHash, err = hasher.Hash(dummy); err != nil {
		return nil, err
	}
	return s, nil
}

// UserView is the public shape of an account.
type UserView struct {
	ID             string        `json:"id"`
	Email          string        `json:"email"`
	Name           string        `json:"name"`
	Role           identity.Role `json:"role"`
	EmailVerified  bool          `json:"emailVerified"`
	PublicKey      *string       `json:"publicKey"`
	ActiveFamilyID *string       `json:"activeFamilyId"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// FamilyView is a family as seen by one of its members.
type FamilyView struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	InviteCode string        `json:"inviteCode"`
	MaxMembers int           `json:"maxMembers"`
	CreatedBy  string        `json:"createdBy"`
	Role       identity.Role `json:"role"`
}

// AuthResult ends every flow that signs a user in.
type AuthResult struct {
	User   UserView     `json:"user"`
	Family *FamilyView  `json:"family,omitempty"`
	Tokens session.Pair `json:"-"`
}

func userView(u identity.User) UserView {
	return UserView{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		Role:           u.Role,
		EmailVerified:  u.EmailVerified,
		PublicKey:      u.PublicKey,
		ActiveFamilyID: u.ActiveFamilyID,
		CreatedAt:      u.CreatedAt,
	}
}

func familyView(f identity.Family, role identity.Role) *FamilyView {
	return &FamilyView{
		ID:         f.ID,
		Name:       f.Name,
		InviteCode: f.InviteCode,
		MaxMembers: f.MaxMembers,
		CreatedBy:  f.CreatedBy,
		Role:       role,
	}
}

// signIn issues tokens for u. fam, when non-nil, is included in the result.
func (s *Service) signIn(u identity.User, fam *FamilyView, now time.Time) (AuthResult, error) {
	pair, err := s.tokens.Issue(u.ID, u.ActiveFamilyID, now)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{User: userView(u), Family: fam, Tokens: pair}, nil
}

// activeFamilyView loads the caller's active family, if any.
func (s *Service) activeFamilyView(ctx context.Context, r store.Repo, u identity.User) (*FamilyView, error) {
	if u.ActiveFamilyID == nil {
		return nil, nil
	}
	f, err := r.GetFamily(ctx, *u.ActiveFamilyID)
	if err != nil {
		if identity.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	m, err := r.GetMembership(ctx, u.ID, f.ID)
	if err != nil {
		if identity.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return familyView(f, m.Role), nil
}

// liveCaller loads an authenticated caller. Missing or deleted accounts are Unauthorized.
func liveCaller(ctx context.Context, r store.Repo, op, userID string, forUpdate bool) (identity.User, error) {
	var (
		u   identity.User
		err error
	)
	if forUpdate {
		u, err = r.GetUserForUpdate(ctx, userID)
	} else {
		u, err = r.GetUser(ctx, userID)
	}
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.User{}, unauthorized(op, ErrInvalidSession)
		}
		return identity.User{}, err
	}
	if u.Deleted() {
		return identity.User{}, unauthorized(op, ErrInvalidSession)
	}
	return u, nil
}

// requireMember returns the caller's membership in familyID or Forbidden.
func requireMember(ctx context.Context, r store.Repo, op, userID, familyID string) (identity.Membership, error) {
	m, err := r.GetMembership(ctx, userID, familyID)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.Membership{}, forbidden(op, ErrNotMember)
		}
		return identity.Membership{}, err
	}
	return m, nil
}

// isMemberByEmail reports whether a live account with email belongs to familyID.
func isMemberByEmail(ctx context.Context, r store.Repo, email, familyID string) (bool, error) {
	u, err := r.GetLiveUserByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if _, err := r.GetMembership(ctx, u.ID, familyID); err != nil {
		if identity.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// admitMember locks the family, enforces capacity and uniqueness, and inserts the membership.
func admitMember(ctx context.Context, r store.Repo, op, userID, familyID string, role identity.Role, now time.Time) (identity.Family, error) {
	f, err := r.GetFamilyForUpdate(ctx, familyID)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.Family{}, notFound(op, ErrFamilyNotFound)
		}
		return identity.Family{}, err
	}
	n, err := r.CountMembers(ctx, familyID)
	if err != nil {
		return identity.Family{}, err
	}
	if n >= f.MaxMembers {
		return identity.Family{}, conflict(op, ErrFamilyFull)
	}
	err = r.CreateMembership(ctx, identity.Membership{UserID: userID, FamilyID: familyID, Role: role, JoinedAt: now})
	if err != nil {
		if identity.IsConflict(err) {
			return identity.Family{}, conflict(op, ErrAlreadyMember)
		}
		return identity.Family{}, err
	}
	return f, nil
}

// newVerificationToken builds a token row and returns the plaintext for the email.
func newVerificationToken(userID string, pendingInviteCode *string, now time.Time) (identity.VerificationToken, string, error) {
	plain, err := token.Generate()
	if err != nil {
		return identity.VerificationToken{}, "", err
	}
	id, err := identity.NewULID(now)
	if err != nil {
		return identity.VerificationToken{}, "", err
	}
	return identity.VerificationToken{
		ID:                id,
		UserID:            userID,
		TokenHash:         token.HashSHA256Hex(plain),
		ExpiresAt:         now.Add(VerificationTokenTTL),
		PendingInviteCode: pendingInviteCode,
		CreatedAt:         now,
	}, plain, nil
}
