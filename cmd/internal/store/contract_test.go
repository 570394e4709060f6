package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"hearth/cmd/identity"
	"hearth/cmd/internal/invite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runRepoContract exercises behavior every Store implementation must share.
func runRepoContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("families", func(t *testing.T) { testFamilies(t, newStore(t)) })
	t.Run("tokens", func(t *testing.T) { testTokens(t, newStore(t)) })
	t.Run("invites", func(t *testing.T) { testInvites(t, newStore(t)) })
	t.Run("family invites", func(t *testing.T) { testFamilyInvites(t, newStore(t)) })
	t.Run("chat", func(t *testing.T) { testChat(t, newStore(t)) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newID(t *testing.T) string {
	t.Helper()
	id, err := identity.NewULID(testNow)
	require.NoError(t, err)
	return id
}

func mkUser(t *testing.T, st Store, email string) identity.User {
	t.Helper()
	u := identity.User{
		ID:           newID(t),
		Email:        email,
		Name:         "Test " + email,
		PasswordHash: "hash",
		Role:         identity.RoleMember,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	require.NoError(t, st.InTx(context.Background(), func(r Repo) error {
		return r.CreateUser(context.Background(), u)
	}))
	return u
}

func mkFamily(t *testing.T, st Store, creator identity.User) identity.Family {
	t.Helper()
	f := identity.Family{
		ID:         newID(t),
		Name:       "Family",
		InviteCode: legacyCode(t),
		MaxMembers: 10,
		CreatedBy:  creator.ID,
		CreatedAt:  testNow,
	}
	require.NoError(t, st.InTx(context.Background(), func(r Repo) error {
		if err := r.CreateFamily(context.Background(), f); err != nil {
			return err
		}
		return r.CreateMembership(context.Background(), identity.Membership{
			UserID: creator.ID, FamilyID: f.ID, Role: identity.RoleAdmin, JoinedAt: testNow,
		})
	}))
	return f
}

func testUsers(t *testing.T, st Store) {
	ctx := context.Background()
	u := mkUser(t, st, "ann@example.com")

	err := st.InTx(ctx, func(r Repo) error {
		dup := u
		dup.ID = newID(t)
		return r.CreateUser(ctx, dup)
	})
	require.True(t, identity.IsConflict(err), "got %v", err)

	require.NoError(t, st.InTx(ctx, func(r Repo) error {
		ok, err := r.SoftDeleteUser(ctx, u.ID, testNow)
		require.True(t, ok)
		if err != nil {
			return err
		}
		ok, err = r.SoftDeleteUser(ctx, u.ID, testNow)
		assert.False(t, ok, "second delete is a no-op")
		return err
	}))

	require.NoError(t, st.View(ctx, func(r Repo) error {
		_, err := r.GetLiveUserByEmail(ctx, u.Email)
		assert.True(t, identity.IsNotFound(err))
		got, err := r.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, got.Deleted())
		return nil
	}))

	// The email is free again once the holder is soft-deleted.
	again := mkUser(t, st, "ann@example.com")
	require.NoError(t, st.View(ctx, func(r Repo) error {
		got, err := r.GetLiveUserByEmail(ctx, "ann@example.com")
		require.NoError(t, err)
		assert.Equal(t, again.ID, got.ID)

		users, err := r.GetUsers(ctx, []string{u.ID, again.ID, newID(t)})
		require.NoError(t, err)
		assert.Len(t, users, 2)
		return nil
	}))

	require.NoError(t, st.InTx(ctx, func(r Repo) error {
		require.NoError(t, r.MarkEmailVerified(ctx, again.ID, testNow))
		require.NoError(t, r.SetUserRole(ctx, again.ID, identity.RoleAdmin, testNow))
		return r.SetPasswordHash(ctx, again.ID, "rehashed", testNow)
	}))
	require.NoError(t, st.View(ctx, func(r Repo) error {
		got, err := r.GetUser(ctx, again.ID)
		require.NoError(t, err)
		assert.True(t, got.EmailVerified)
		assert.Equal(t, identity.RoleAdmin, got.Role)
		assert.Equal(t, "rehashed", got.PasswordHash)
		return nil
	}))

	err = st.InTx(ctx, func(r Repo) error {
		return r.SetUserRole(ctx, newID(t), identity.RoleAdmin, testNow)
	})
	assert.True(t, identity.IsNotFound(err))
}

func testFamilies(t *testing.T, st Store) {
	ctx := context.Background()
	admin := mkUser(t, st, "admin@example.com")
	member := mkUser(t, st, "member@example.com")
	f := mkFamily(t, st, admin)

	require.NoError(t, st.InTx(ctx, func(r Repo) error {
		if err := r.CreateMembership(ctx, identity.Membership{
			UserID: member.ID, FamilyID: f.ID, Role: identity.RoleMember, JoinedAt: testNow.Add(time.Minute),
		}); err != nil {
			return err
		}
		return r.SetActiveFamily(ctx, member.ID, &f.ID, testNow)
	}))

	err := st.InTx(ctx, func(r Repo) error {
		return r.CreateMembership(ctx, identity.Membership{UserID: member.ID, FamilyID: f.ID, Role: identity.RoleMember, JoinedAt: testNow})
	})
	assert.True(t, identity.IsConflict(err), "got %v", err)

	require.NoError(t, st.View(ctx, func(r Repo) error {
		n, err := r.CountMembers(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		ms, err := r.ListMembershipsByFamily(ctx, f.ID)
		require.NoError(t, err)
		require.Len(t, ms, 2)
		assert.Equal(t, admin.ID, ms[0].UserID)

		byCode, err := r.GetFamilyByInviteCode(ctx, f.InviteCode)
		require.NoError(t, err)
		assert.Equal(t, f.ID, byCode.ID)
		return nil
	}))

	require.NoError(t, st.InTx(ctx, func(r Repo) error {
		other := "01ARZ3NDEKTSV4RRFFQ69G5FAV"
		cleared, err := r.ClearActiveFamilyIf(ctx, member.ID, other, testNow)
		require.NoError(t, err)
		assert.False(t, cleared)

		cleared, err = r.ClearActiveFamilyIf(ctx, member.ID, f.ID, testNow)
		require.NoError(t, err)
		assert.True(t, cleared)

		require.NoError(t, r.DeleteMembership(ctx, member.ID, f.ID))
		return nil
	}))

	err = st.InTx(ctx, func(r Repo) error { return r.DeleteMembership(ctx, member.ID, f.ID) })
	assert.True(t, identity.IsNotFound(err))

	require.NoError(t, st.InTx(ctx, func(r Repo) error {
		n, err := r.DeleteMembershipsByUser(ctx, admin.ID)
		assert.Equal(t, 1, n)
		return err
	}))
}

func testTokens(t *testing.T, st Store) {
	ctx := context.Background()
	u := mkUser(t, st, "tok@example.com")
	code := "INV-AAAA-BBBB-CCCC"
	tok := identity.VerificationToken{
		ID:                newID(t),
		UserID:            u.ID,
		TokenHash:         "a0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1",
		ExpiresAt:         testNow.Add(24 * time.Hour),
		PendingInviteCode: &code,
		CreatedAt:         testNow,
	}
	require.NoError(t, st.InTx(ctx, func(r Repo) error { return r.CreateVerificationToken(ctx, tok) }))

	require.NoError(t, st.InTx(ctx, func(r Repo) error {
		got, err := r.GetVerificationTokenByHash(ctx, tok.TokenHash)
		require.NoError(t, err)
		require.NotNil(t, got.PendingInviteCode)
		assert.Equal(t, code, *got.PendingInviteCode)

		ok, err := r.UseVerificationToken(ctx, tok.ID, testNow.Add(48*time.Hour))
		require.NoError(t, err)
		assert.False(t, ok, "expired token cannot be used")

		ok, err = r.UseVerificationToken(ctx, tok.ID, testNow.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = r.UseVerificationToken(ctx, tok.ID, testNow.Add(2*time.Hour))
		require.NoError(t, err)
		assert.False(t, ok, "single use")
		return nil
	}))
}

func testInvites(t *testing.T, st Store) {
	ctx := context.Background()
	admin := mkUser(t, st, "inviter@example.com")
	f := mkFamily(t, st, admin)

	pending := invite.Invite{
		ID:           newID(t),
		FamilyID:     f.ID,
		InviterID:    admin.ID,
		InviteeEmail: "guest@example.com",
		Code:         legacyCode(t),
		Status:       invite.StatusPendingRegistration,
		CreatedAt:    testNow,
		ExpiresAt:    testNow.Add(invite.PendingRegistrationTTL),
	}
	require.NoError(t, st.InTx(ctx, func(r Repo) error { return r.CreateInvite(ctx, pending) }))

	dup := pending
	dup.ID = newID(t)
	dup.Code = legacyCode(t)
	err := st.InTx(ctx, func(r Repo) error { return r.CreateInvite(ctx, dup) })
	assert.True(t, identity.IsConflict(err), "one open invite per family and email: %v", err)

	key := invite.KeyMaterial{EncryptedFamilyKey: "ZmFtaWx5LWtleQ==", Nonce: "bm9uY2U="}
	require.NoError(t, st.InTx(ctx, func(r Repo) error {
		ok, err := r.UpgradeInvite(ctx, pending.ID, key, testNow.Add(invite.EncryptedTTL))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = r.UpgradeInvite(ctx, pending.ID, key, testNow.Add(invite.EncryptedTTL))
		require.NoError(t, err)
		assert.False(t, ok, "already upgraded")
		return nil
	}))

	require.NoError(t, st.View(ctx, func(r Repo) error {
		got, err := r.GetInviteByCode(ctx, pending.Code)
		require.NoError(t, err)
		assert.Equal(t, invite.StatusPending, got.Status)
		require.NotNil(t, got.Key)
		assert.Equal(t, key, *got.Key)
		assert.Equal(t, invite.VariantEncrypted, got.Kind())

		open, err := r.GetOpenInvite(ctx, f.ID, "guest@example.com")
		require.NoError(t, err)
		assert.Equal(t, pending.ID, open.ID)

		list, err := r.ListInvitesByEmail(ctx, "guest@example.com", invite.StatusPending)
		require.NoError(t, err)
		assert.Len(t, list, 1)
		return nil
	}))

	at := testNow.Add(time.Hour)
	require.NoError(t, st.InTx(ctx, func(r Repo) error {
		ok, err := r.TransitionInvite(ctx, pending.ID, invite.StatusPending, invite.StatusAccepted, &at)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = r.TransitionInvite(ctx, pending.ID, invite.StatusPending, invite.StatusAccepted, &at)
		require.NoError(t, err)
		assert.False(t, ok, "compare-and-set loses the second time")
		return nil
	}))

	// Accepted invites no longer block a new open invite.
	require.NoError(t, st.InTx(ctx, func(r Repo) error { return r.CreateInvite(ctx, dup) }))

	require.NoError(t, st.InTx(ctx, func(r Repo) error {
		n, err := r.RevokeOpenInvites(ctx, "guest@example.com", &f.ID)
		assert.Equal(t, 1, n)
		return err
	}))
	require.NoError(t, st.View(ctx, func(r Repo) error {
		all, err := r.ListInvitesByFamily(ctx, f.ID)
		require.NoError(t, err)
		require.Len(t, all, 2)
		statuses := map[invite.Status]int{}
		for _, inv := range all {
			statuses[inv.Status]++
		}
		assert.Equal(t, map[invite.Status]int{invite.StatusAccepted: 1, invite.StatusRevoked: 1}, statuses)
		return nil
	}))
}

func testFamilyInvites(t *testing.T, st Store) {
	ctx := context.Background()
	admin := mkUser(t, st, "fi-admin@example.com")
	joiner := mkUser(t, st, "fi-joiner@example.com")
	f := mkFamily(t, st, admin)

	fi := invite.FamilyInvite{
		ID:                    newID(t),
		FamilyID:              f.ID,
		InviterID:             admin.ID,
		Code:                  "plaintext-never-stored",
		CodeHash:              "f0e1d2c3b4a5968778695a4b3c2d1e0ff0e1d2c3b4a5968778695a4b3c2d1e0f",
		InviteeEmailEncrypted: "ciphertext",
		CreatedAt:             testNow,
		ExpiresAt:             testNow.Add(invite.EmailBoundTTL),
	}
	require.NoError(t, st.InTx(ctx, func(r Repo) error { return r.CreateFamilyInvite(ctx, fi) }))

	require.NoError(t, st.InTx(ctx, func(r Repo) error {
		got, err := r.GetFamilyInviteByHash(ctx, fi.CodeHash)
		require.NoError(t, err)
		assert.Empty(t, got.Code)

		ok, err := r.RedeemFamilyInvite(ctx, fi.ID, joiner.ID, testNow.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = r.RedeemFamilyInvite(ctx, fi.ID, admin.ID, testNow.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))

	require.NoError(t, st.View(ctx, func(r Repo) error {
		list, err := r.ListFamilyInvites(ctx, f.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.NotNil(t, list[0].RedeemedByUserID)
		assert.Equal(t, joiner.ID, *list[0].RedeemedByUserID)
		return nil
	}))
}

func testChat(t *testing.T, st Store) {
	ctx := context.Background()
	admin := mkUser(t, st, "chat@example.com")
	f := mkFamily(t, st, admin)
	ch := identity.Channel{ID: newID(t), FamilyID: f.ID, Name: identity.DefaultChannelName, CreatedBy: admin.ID, CreatedAt: testNow}

	require.NoError(t, st.InTx(ctx, func(r Repo) error {
		if err := r.CreateChannel(ctx, ch); err != nil {
			return err
		}
		for i := 0; i < 3; i++ {
			if err := r.CreateMessage(ctx, identity.Message{
				ID:        newID(t),
				ChannelID: ch.ID,
				AuthorID:  admin.ID,
				Body:      string(rune('a' + i)),
				CreatedAt: testNow.Add(time.Duration(i) * time.Second),
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, st.View(ctx, func(r Repo) error {
		chans, err := r.ListChannels(ctx, f.ID)
		require.NoError(t, err)
		require.Len(t, chans, 1)

		msgs, err := r.ListMessages(ctx, ch.ID, MessageCursor{Before: testNow.Add(time.Hour)}, 2)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "c", msgs[0].Body)
		assert.Equal(t, "b", msgs[1].Body)

		older, err := r.ListMessages(ctx, ch.ID, MessageCursor{Before: msgs[1].CreatedAt}, 10)
		require.NoError(t, err)
		require.Len(t, older, 1)
		assert.Equal(t, "a", older[0].Body)
		return nil
	}))

	// A run of messages sharing one timestamp pages through the id tiebreak.
	same := testNow.Add(time.Minute)
	var burst []string
	require.NoError(t, st.InTx(ctx, func(r Repo) error {
		for i := 0; i < 5; i++ {
			m := identity.Message{ID: newID(t), ChannelID: ch.ID, AuthorID: admin.ID, Body: "burst", CreatedAt: same}
			if err := r.CreateMessage(ctx, m); err != nil {
				return err
			}
			burst = append(burst, m.ID)
		}
		return nil
	}))

	var seen []string
	cur := MessageCursor{Before: same.Add(time.Second)}
	for {
		var page []identity.Message
		require.NoError(t, st.View(ctx, func(r Repo) error {
			var err error
			page, err = r.ListMessages(ctx, ch.ID, cur, 2)
			return err
		}))
		for _, m := range page {
			if m.CreatedAt.Equal(same) {
				seen = append(seen, m.ID)
			}
		}
		if len(page) < 2 {
			break
		}
		last := page[len(page)-1]
		cur = MessageCursor{Before: last.CreatedAt, BeforeID: last.ID}
	}
	assert.ElementsMatch(t, burst, seen)
}

func testRollback(t *testing.T, st Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	u := identity.User{
		ID: newID(t), Email: "rollback@example.com", Name: "R", PasswordHash: "h",
		Role: identity.RoleMember, CreatedAt: testNow, UpdatedAt: testNow,
	}

	err := st.InTx(ctx, func(r Repo) error {
		if err := r.CreateUser(ctx, u); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, st.View(ctx, func(r Repo) error {
		_, err := r.GetUser(ctx, u.ID)
		assert.True(t, identity.IsNotFound(err), "write must not survive a failed transaction")
		return nil
	}))
}

func legacyCode(t *testing.T) string {
	t.Helper()
	code, err := invite.GenerateLegacyCode()
	require.NoError(t, err)
	return code
}

func testFamilyInviteRow(t *testing.T, familyID, inviterID string) invite.FamilyInvite {
	t.Helper()
	return invite.FamilyInvite{
		ID:                    newID(t),
		FamilyID:              familyID,
		InviterID:             inviterID,
		CodeHash:              "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		InviteeEmailEncrypted: "ciphertext",
		CreatedAt:             testNow,
		ExpiresAt:             testNow.Add(invite.EmailBoundTTL),
	}
}
