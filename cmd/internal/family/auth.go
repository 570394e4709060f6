package family

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"hearth/cmd/identity"
	"hearth/cmd/internal/auth/session"
	"hearth/cmd/internal/invite"
	"hearth/cmd/internal/store"
	"hearth/cmd/security/password"
	"hearth/cmd/security/token"
)

const maxNameLen = 100

// RegisterInput creates an account. FamilyName, when set, also creates a
// family with the new user as ADMIN. PendingInviteCode is carried onto the
// verification token and echoed back by VerifyEmail.
type RegisterInput struct {
	Email             string
	Password          string
	Name              string
	PublicKey         *string
	FamilyName        *string
	PendingInviteCode *string
}

// Register creates an unverified account, sends a verification email and signs the user in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	const op = "family.Register"

	email, name, err := checkAccountInput(op, in.Email, in.Name)
	if err != nil {
		return AuthResult{}, err
	}
	pub, err := checkPublicKey(op, in.PublicKey)
	if err != nil {
		return AuthResult{}, err
	}
	var familyName string
	if in.FamilyName != nil {
		if familyName, err = checkName(op, *in.FamilyName); err != nil {
			return AuthResult{}, err
		}
	}
	var pendingCode *string
	if in.PendingInviteCode != nil {
		if c := invite.NormalizeCode(*in.PendingInviteCode); c != "" {
			pendingCode = &c
		}
	}
	hash, err := s.hashPassword(op, in.Password)
	if err != nil {
		return AuthResult{}, err
	}

	now := s.now()
	userID, err := identity.NewULID(now)
	if err != nil {
		return AuthResult{}, err
	}
	u := identity.User{
		ID:           userID,
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		PublicKey:    pub,
		Role:         identity.RoleMember,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var (
		fam   *FamilyView
		plain string
	)
	err = s.store.InTx(ctx, func(r store.Repo) error {
		if err := ensureEmailFree(ctx, r, op, email); err != nil {
			return err
		}
		if err := r.CreateUser(ctx, u); err != nil {
			if identity.IsConflict(err) {
				return conflict(op, ErrEmailTaken)
			}
			return err
		}
		if familyName != "" {
			f, err := s.insertFamily(ctx, r, op, &u, familyName, "", now)
			if err != nil {
				return err
			}
			fam = familyView(f, identity.RoleAdmin)
		}

		vt, p, err := newVerificationToken(u.ID, pendingCode, now)
		if err != nil {
			return err
		}
		plain = p
		return r.CreateVerificationToken(ctx, vt)
	})
	if err != nil {
		s.metrics.Event("user.register", "fail")
		return AuthResult{}, err
	}

	s.metrics.Event("user.register", "ok")
	s.log.Info("user.register.ok", "user_id", u.ID, "with_family", fam != nil)
	s.notify.Verification(ctx, u.Email, plain)

	return s.signIn(u, fam, now)
}

// Login checks credentials. Unverified accounts get a VerificationRequiredError.
func (s *Service) Login(ctx context.Context, email, pw string) (AuthResult, error) {
	const op = "family.Login"

	email = identity.NormalizeEmail(email)
	if email == "" || pw == "" {
		return AuthResult{}, unauthorized(op, ErrInvalidCredentials)
	}

	var (
		u   identity.User
		fam *FamilyView
	)
	err := s.store.View(ctx, func(r store.Repo) error {
		var err error
		u, err = r.GetLiveUserByEmail(ctx, email)
		if err != nil {
			if identity.IsNotFound(err) {
				_, _ = s.hasher.Verify(s.dummyHash, pw)
				return unauthorized(op, ErrInvalidCredentials)
			}
			return err
		}
		ok, err := s.hasher.Verify(u.PasswordHash, pw)
		if err != nil || !ok {
			return unauthorized(op, ErrInvalidCredentials)
		}
		if !u.EmailVerified {
			return VerificationRequiredError{Op: op, Email: u.Email}
		}
		fam, err = s.activeFamilyView(ctx, r, u)
		return err
	})
	if err != nil {
		s.metrics.Event("user.login", "fail")
		return AuthResult{}, err
	}

	now := s.now()
	s.rehashIfNeeded(ctx, u, pw, now)
	s.metrics.Event("user.login", "ok")
	return s.signIn(u, fam, now)
}

func (s *Service) rehashIfNeeded(ctx context.Context, u identity.User, pw string, now time.Time) {
	if !s.hasher.NeedsRehash(u.PasswordHash) {
		return
	}
	h, err := s.hasher.Hash(pw)
	if err != nil {
		s.log.Warn("user.rehash.skip", "user_id", u.ID, "err", err)
		return
	}
	if err := s.store.InTx(ctx, func(r store.Repo) error {
		return r.SetPasswordHash(ctx, u.ID, h, now)
	}); err != nil {
		s.log.Warn("user.rehash.fail", "user_id", u.ID, "err", err)
	}
}

// RefreshSession exchanges a refresh token for a new pair carrying the current active family.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (AuthResult, error) {
	const op = "family.RefreshSession"

	now := s.now()
	claims, err := s.tokens.VerifyRefresh(refreshToken, now)
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) || errors.Is(err, session.ErrTokenExpired) {
			return AuthResult{}, unauthorized(op, ErrInvalidSession)
		}
		return AuthResult{}, err
	}

	var (
		u   identity.User
		fam *FamilyView
	)
	err = s.store.View(ctx, func(r store.Repo) error {
		var err error
		if u, err = liveCaller(ctx, r, op, claims.Subject, false); err != nil {
			return err
		}
		fam, err = s.activeFamilyView(ctx, r, u)
		return err
	})
	if err != nil {
		return AuthResult{}, err
	}
	return s.signIn(u, fam, now)
}

// VerifyEmailResult reports the account that was verified.
type VerifyEmailResult struct {
	UserID            string  `json:"userId"`
	Email             string  `json:"email"`
	PendingInviteCode *string `json:"pendingInviteCode,omitempty"`
}

// VerifyEmail consumes a verification token exactly once.
func (s *Service) VerifyEmail(ctx context.Context, plain string) (VerifyEmailResult, error) {
	const op = "family.VerifyEmail"

	plain, err := token.Parse(plain)
	if err != nil {
		return VerifyEmailResult{}, badRequest(op, ErrInvalidToken)
	}
	hash := token.HashSHA256Hex(plain)
	now := s.now()

	var out VerifyEmailResult
	err = s.store.InTx(ctx, func(r store.Repo) error {
		vt, err := r.GetVerificationTokenByHash(ctx, hash)
		if err != nil {
			if identity.IsNotFound(err) {
				return badRequest(op, ErrInvalidToken)
			}
			return err
		}
		if vt.UsedAt != nil {
			return badRequest(op, ErrTokenUsed)
		}
		if !vt.ExpiresAt.After(now) {
			return badRequest(op, ErrTokenExpired)
		}

		u, err := r.GetUserForUpdate(ctx, vt.UserID)
		if err != nil {
			if identity.IsNotFound(err) {
				return badRequest(op, ErrInvalidToken)
			}
			return err
		}
		if u.Deleted() {
			return badRequest(op, ErrInvalidToken)
		}

		used, err := r.UseVerificationToken(ctx, vt.ID, now)
		if err != nil {
			return err
		}
		if !used {
			return badRequest(op, ErrTokenUsed)
		}
		if !u.EmailVerified {
			if err := r.MarkEmailVerified(ctx, u.ID, now); err != nil {
				return err
			}
		}
		out = VerifyEmailResult{UserID: u.ID, Email: u.Email, PendingInviteCode: vt.PendingInviteCode}
		return nil
	})
	if err != nil {
		s.metrics.Event("user.verify_email", "fail")
		return VerifyEmailResult{}, err
	}
	s.metrics.Event("user.verify_email", "ok")
	s.log.Info("user.verify_email.ok", "user_id", out.UserID)
	return out, nil
}

// ResendVerificationEmail issues a fresh token when the address belongs to an
// unverified live account. The reply is ResendMessage in every non-throttled
// case so the endpoint cannot be used to probe for accounts.
func (s *Service) ResendVerificationEmail(ctx context.Context, email string) (string, error) {
	const op = "family.ResendVerificationEmail"

	email = identity.NormalizeEmail(email)
	if !identity.ValidEmail(email) {
		return "", badRequest(op, ErrInvalidInput)
	}

	now := s.now()
	allowed, err := s.limiter.Allow(ctx, "resend:"+email, now)
	if err != nil {
		return "", err
	}
	if !allowed {
		s.metrics.RateLimited("resend_verification")
		return "", badRequest(op, ErrRateLimited)
	}

	var (
		plain string
		to    string
	)
	err = s.store.InTx(ctx, func(r store.Repo) error {
		u, err := r.GetLiveUserByEmail(ctx, email)
		if err != nil {
			if identity.IsNotFound(err) {
				return nil
			}
			return err
		}
		if u.EmailVerified {
			return nil
		}
		vt, p, err := newVerificationToken(u.ID, nil, now)
		if err != nil {
			return err
		}
		if err := r.CreateVerificationToken(ctx, vt); err != nil {
			return err
		}
		plain, to = p, u.Email
		return nil
	})
	if err != nil {
		return "", err
	}

	if plain != "" {
		s.notify.Verification(ctx, to, plain)
	}
	return ResendMessage, nil
}

// GetUserPublicKey returns the public key of a live account, or nil.
func (s *Service) GetUserPublicKey(ctx context.Context, email string) (*string, error) {
	email = identity.NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	var out *string
	err := s.store.View(ctx, func(r store.Repo) error {
		u, err := r.GetLiveUserByEmail(ctx, email)
		if err != nil {
			if identity.IsNotFound(err) {
				return nil
			}
			return err
		}
		if u.HasPublicKey() {
			k := *u.PublicKey
			out = &k
		}
		return nil
	})
	return out, err
}

// ---- input helpers ----

func checkAccountInput(op, email, name string) (string, string, error) {
	email = identity.NormalizeEmail(email)
	if !identity.ValidEmail(email) {
		return "", "", failMsg(op, identity.ErrBadRequest, ErrInvalidInput, "invalid email")
	}
	n, err := checkName(op, name)
	if err != nil {
		return "", "", err
	}
	return email, n, nil
}

func checkName(op, name string) (string, error) {
	n := identity.NormalizeName(name)
	if n == "" || utf8.RuneCountInString(n) > maxNameLen {
		return "", failMsg(op, identity.ErrBadRequest, ErrInvalidInput, "invalid name")
	}
	return n, nil
}

func checkPublicKey(op string, pub *string) (*string, error) {
	if pub == nil || strings.TrimSpace(*pub) == "" {
		return nil, nil
	}
	k := strings.TrimSpace(*pub)
	if err := identity.ValidatePublicKey(k); err != nil {
		return nil, badRequest(op, ErrInvalidPublicKey)
	}
	return &k, nil
}

func (s *Service) hashPassword(op, pw string) (string, error) {
	h, err := s.hasher.Hash(pw)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort),
			errors.Is(err, password.ErrPasswordTooLong),
			errors.Is(err, password.ErrWeakPassword):
			return "", badRequest(op, err)
		}
		return "", err
	}
	return h, nil
}

func ensureEmailFree(ctx context.Context, r store.Repo, op, email string) error {
	_, err := r.GetLiveUserByEmail(ctx, email)
	switch {
	case err == nil:
		return conflict(op, ErrEmailTaken)
	case identity.IsNotFound(err):
		return nil
	default:
		return err
	}
}
