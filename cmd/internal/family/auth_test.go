package family

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearth/cmd/identity"
	"hearth/cmd/internal/invite"
	"hearth/cmd/internal/store"
	"hearth/cmd/security/password"
)

func TestRegister_SendsVerificationAndIssuesTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Register(ctx, RegisterInput{
		Email:    "  Alice@Example.COM ",
		Password: testPassword,
		Name:     " Alice ",
	})
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", res.User.Email)
	assert.Equal(t, "Alice", res.User.Name)
	assert.False(t, res.User.EmailVerified)
	assert.Equal(t, identity.RoleMember, res.User.Role)
	assert.Nil(t, res.Family)

	claims, err := h.tokens.VerifyAccess(res.Tokens.AccessToken, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.Subject)
	assert.Nil(t, claims.FamilyID)

	last, ok := h.rec.Last("verification")
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", last.To)
	assert.Len(t, last.Token, 22)
}

func TestRegister_RejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   RegisterInput
	}{
		{"bad email", RegisterInput{Email: "nope", Password: testPassword, Name: "A"}},
		{"empty name", RegisterInput{Email: "a@example.com", Password: testPassword, Name: "  "}},
		{"short password", RegisterInput{Email: "a@example.com", Password: "short", Name: "A"}},
		{"weak password", RegisterInput{Email: "a@example.com", Password: "password123", Name: "A"}},
		{"bad public key", RegisterInput{Email: "a@example.com", Password: testPassword, Name: "A", PublicKey: strPtr("abc")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Register(ctx, tc.in)
			requireKind(t, err, identity.ErrBadRequest, nil)
		})
	}
	assert.Empty(t, h.rec.Sent())
}

func TestRegister_DuplicateEmailConflict(t *testing.T) {
	h := newHarness(t)
	h.register(t, "bob@example.com", "Bob", nil)

	_, err := h.svc.Register(context.Background(), RegisterInput{
		Email:    "BOB@example.com",
		Password: testPassword,
		Name:     "Other Bob",
	})
	requireKind(t, err, identity.ErrConflict, ErrEmailTaken)
}

func TestRegister_WithFamilyName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Register(ctx, RegisterInput{
		Email:             "carol@example.com",
		Password:          testPassword,
		Name:              "Carol",
		FamilyName:        strPtr("The Carols"),
		PendingInviteCode: strPtr(" inv-abcd-efgh-jkmn "),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Family)
	assert.Equal(t, identity.RoleAdmin, res.Family.Role)
	assert.Equal(t, DefaultMaxMembers, res.Family.MaxMembers)
	assert.True(t, invite.IsLegacyCode(res.Family.InviteCode))
	assert.Equal(t, identity.RoleAdmin, res.User.Role)
	require.NotNil(t, res.User.ActiveFamilyID)
	assert.Equal(t, res.Family.ID, *res.User.ActiveFamilyID)

	claims, err := h.tokens.VerifyAccess(res.Tokens.AccessToken, h.clock.Now())
	require.NoError(t, err)
	require.NotNil(t, claims.FamilyID)
	assert.Equal(t, res.Family.ID, *claims.FamilyID)

	var channels []identity.Channel
	require.NoError(t, h.st.View(ctx, func(r store.Repo) error {
		var err error
		channels, err = r.ListChannels(ctx, res.Family.ID)
		return err
	}))
	require.Len(t, channels, 1)
	assert.Equal(t, identity.DefaultChannelName, channels[0].Name)

	v := h.verifyLast(t, "carol@example.com")
	require.NotNil(t, v.PendingInviteCode)
	assert.Equal(t, "INV-ABCD-EFGH-JKMN", *v.PendingInviteCode)
}

func TestLogin_RequiresVerifiedEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "dan@example.com", "Dan", nil)

	_, err := h.svc.Login(ctx, "dan@example.com", testPassword)
	var vr VerificationRequiredError
	require.True(t, errors.As(err, &vr))
	assert.Equal(t, "dan@example.com", vr.Email)
	assert.ErrorIs(t, err, identity.ErrForbidden)
	assert.ErrorIs(t, err, ErrEmailNotVerified)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)

	h.verifyLast(t, "dan@example.com")
	res, err := h.svc.Login(ctx, "DAN@example.com", testPassword)
	require.NoError(t, err)
	assert.True(t, res.User.EmailVerified)
	assert.NotEmpty(t, res.Tokens.RefreshToken)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerVerified(t, "erin@example.com", "Erin", nil)

	_, err := h.svc.Login(ctx, "erin@example.com", "wrong password here")
	requireKind(t, err, identity.ErrUnauthorized, ErrInvalidCredentials)

	_, err = h.svc.Login(ctx, "nobody@example.com", testPassword)
	requireKind(t, err, identity.ErrUnauthorized, ErrInvalidCredentials)
}

type countingHasher struct {
	password.Config
	mu       sync.Mutex
	verifies int
}

func (c *countingHasher) Verify(encodedHash, pw string) (bool, error) {
	c.mu.Lock()
	c.verifies++
	c.mu.Unlock()
	return c.Config.Verify(encodedHash, pw)
}

func (c *countingHasher) take() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.verifies
	c.verifies = 0
	return n
}

func TestLogin_UnknownAccountsPayHashCost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerVerified(t, "ivy@example.com", "Ivy", nil)
	gone := h.registerVerified(t, "jon@example.com", "Jon", nil)
	_, err := h.svc.DeregisterSelf(ctx, gone.ID)
	require.NoError(t, err)

	hasher := &countingHasher{Config: cheapPasswords()}
	svc, err := NewService(h.st, hasher, h.tokens, h.minter, WithClock(h.clock.Now))
	require.NoError(t, err)

	for _, email := range []string{"ivy@example.com", "nobody@example.com", "jon@example.com"} {
		_, err := svc.Login(ctx, email, "wrong password here")
		requireKind(t, err, identity.ErrUnauthorized, ErrInvalidCredentials)
		assert.Equal(t, 1, hasher.take(), email)
	}
}

func TestLogin_UpgradesOutdatedHash(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.registerVerified(t, "fay@example.com", "Fay", nil)

	weak := cheapPasswords()
	weak.Params.MemoryKiB = 512
	old, err := weak.Hash(testPassword)
	require.NoError(t, err)
	require.NoError(t, h.st.InTx(ctx, func(r store.Repo) error {
		return r.SetPasswordHash(ctx, u.ID, old, h.clock.Now())
	}))

	_, err = h.svc.Login(ctx, "fay@example.com", testPassword)
	require.NoError(t, err)

	after := h.user(t, u.ID)
	assert.NotEqual(t, old, after.PasswordHash)
	assert.False(t, cheapPasswords().NeedsRehash(after.PasswordHash))
}

func TestSoftDeletedUser_IsInvisible(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.registerVerified(t, "gus@example.com", "Gus", strPtr(testPublicKey))

	pk, err := h.svc.GetUserPublicKey(ctx, "GUS@example.com")
	require.NoError(t, err)
	require.NotNil(t, pk)
	assert.Equal(t, testPublicKey, *pk)

	_, err = h.svc.DeregisterSelf(ctx, u.ID)
	require.NoError(t, err)

	_, err = h.svc.Login(ctx, "gus@example.com", testPassword)
	requireKind(t, err, identity.ErrUnauthorized, ErrInvalidCredentials)

	pk, err = h.svc.GetUserPublicKey(ctx, "gus@example.com")
	require.NoError(t, err)
	assert.Nil(t, pk)

	// The address is free again.
	h.register(t, "gus@example.com", "Gus Again", nil)
}

func TestGetUserPublicKey_MissingOrKeyless(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "hal@example.com", "Hal", nil)

	for _, email := range []string{"hal@example.com", "unknown@example.com", ""} {
		pk, err := h.svc.GetUserPublicKey(ctx, email)
		require.NoError(t, err)
		assert.Nil(t, pk, email)
	}
}

func TestRefreshSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u, fam := h.founder(t, "ivy@example.com")

	login, err := h.svc.Login(ctx, u.Email, testPassword)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	res, err := h.svc.RefreshSession(ctx, login.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, res.User.ID)
	require.NotNil(t, res.Family)
	assert.Equal(t, fam.ID, res.Family.ID)

	claims, err := h.tokens.VerifyAccess(res.Tokens.AccessToken, h.clock.Now())
	require.NoError(t, err)
	require.NotNil(t, claims.FamilyID)
	assert.Equal(t, fam.ID, *claims.FamilyID)

	_, err = h.svc.RefreshSession(ctx, login.Tokens.AccessToken)
	requireKind(t, err, identity.ErrUnauthorized, ErrInvalidSession)

	_, err = h.svc.RefreshSession(ctx, "garbage")
	requireKind(t, err, identity.ErrUnauthorized, ErrInvalidSession)

	_, err = h.svc.DeregisterSelf(ctx, u.ID)
	require.NoError(t, err)
	_, err = h.svc.RefreshSession(ctx, login.Tokens.RefreshToken)
	requireKind(t, err, identity.ErrUnauthorized, ErrInvalidSession)
}

func TestVerifyEmail_SingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.register(t, "jo@example.com", "Jo", nil)

	last, ok := h.rec.Last("verification")
	require.True(t, ok)

	v, err := h.svc.VerifyEmail(ctx, last.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, v.UserID)
	assert.Nil(t, v.PendingInviteCode)
	assert.True(t, h.user(t, res.User.ID).EmailVerified)

	_, err = h.svc.VerifyEmail(ctx, last.Token)
	requireKind(t, err, identity.ErrBadRequest, ErrTokenUsed)
}

func TestVerifyEmail_ExpiredAndMalformed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.register(t, "kim@example.com", "Kim", nil)
	last, _ := h.rec.Last("verification")

	h.clock.Advance(VerificationTokenTTL + time.Second)
	_, err := h.svc.VerifyEmail(ctx, last.Token)
	requireKind(t, err, identity.ErrBadRequest, ErrTokenExpired)
	assert.False(t, h.user(t, res.User.ID).EmailVerified)

	_, err = h.svc.VerifyEmail(ctx, "not a token")
	requireKind(t, err, identity.ErrBadRequest, ErrInvalidToken)

	_, err = h.svc.VerifyEmail(ctx, "AAAAAAAAAAAAAAAAAAAAAA")
	requireKind(t, err, identity.ErrBadRequest, ErrInvalidToken)
}

func TestResendVerification_RateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "lou@example.com", "Lou", nil)
	require.Equal(t, 1, h.count("verification"))

	for i := 0; i < 5; i++ {
		msg, err := h.svc.ResendVerificationEmail(ctx, "lou@example.com")
		require.NoError(t, err, "attempt %d", i+1)
		assert.Equal(t, ResendMessage, msg)
		h.clock.Advance(time.Minute)
	}
	assert.Equal(t, 6, h.count("verification"))

	_, err := h.svc.ResendVerificationEmail(ctx, "LOU@example.com")
	requireKind(t, err, identity.ErrBadRequest, ErrRateLimited)
	assert.Equal(t, 6, h.count("verification"))

	h.clock.Advance(15 * time.Minute)
	msg, err := h.svc.ResendVerificationEmail(ctx, "lou@example.com")
	require.NoError(t, err)
	assert.Equal(t, ResendMessage, msg)
	assert.Equal(t, 7, h.count("verification"))

	// Any of the resent tokens still verifies.
	h.verifyLast(t, "lou@example.com")
}

func TestResendVerification_NoEnumeration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerVerified(t, "mo@example.com", "Mo", nil)
	before := h.count("verification")

	for _, email := range []string{"mo@example.com", "ghost@example.com"} {
		msg, err := h.svc.ResendVerificationEmail(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, ResendMessage, msg)
	}
	assert.Equal(t, before, h.count("verification"))
}

func TestNotifierFailure_DoesNotFailRegistration(t *testing.T) {
	h := newHarness(t)
	h.rec.Fail = errors.New("smtp down")

	res, err := h.svc.Register(context.Background(), RegisterInput{
		Email:    "ned@example.com",
		Password: testPassword,
		Name:     "Ned",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Tokens.AccessToken)
	assert.Equal(t, res.User.ID, h.user(t, res.User.ID).ID)
}
