package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AccessSecret = strings.Repeat("a", 32)
	cfg.RefreshSecret = strings.Repeat("r", 32)
	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func TestManager_IssueAndVerify(t *testing.T) {
	t.Parallel()

	m := testManager(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fam := "01HZX0000000000000000FAMLY"

	pair, err := m.Issue("user-1", &fam, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(7*24*time.Hour), pair.AccessExpiresAt)
	assert.Equal(t, now.Add(30*24*time.Hour), pair.RefreshExpiresAt)

	ac, err := m.VerifyAccess(pair.AccessToken, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "user-1", ac.Subject)
	require.NotNil(t, ac.FamilyID)
	assert.Equal(t, fam, *ac.FamilyID)

	rc, err := m.VerifyRefresh(pair.RefreshToken, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "user-1", rc.Subject)
}

func TestManager_NoFamilyOmitsClaim(t *testing.T) {
	t.Parallel()

	m := testManager(t)
	now := time.Now().UTC()
	pair, err := m.Issue("user-2", nil, now)
	require.NoError(t, err)

	ac, err := m.VerifyAccess(pair.AccessToken, now)
	require.NoError(t, err)
	assert.Nil(t, ac.FamilyID)

	// The payload must not carry a familyId key at all.
	parts := strings.Split(pair.AccessToken, ".")
	require.Len(t, parts, 3)
	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "familyId")
}

func TestManager_SecretsAreNotInterchangeable(t *testing.T) {
	t.Parallel()

	m := testManager(t)
	now := time.Now().UTC()
	pair, err := m.Issue("user-3", nil, now)
	require.NoError(t, err)

	_, err = m.VerifyRefresh(pair.AccessToken, now)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.VerifyAccess(pair.RefreshToken, now)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_Expired(t *testing.T) {
	t.Parallel()

	m := testManager(t)
	now := time.Now().UTC()
	pair, err := m.Issue("user-4", nil, now)
	require.NoError(t, err)

	_, err = m.VerifyAccess(pair.AccessToken, now.Add(8*24*time.Hour))
	assert.True(t, errors.Is(err, ErrTokenExpired), "got %v", err)

	_, err = m.VerifyRefresh(pair.RefreshToken, now.Add(31*24*time.Hour))
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestManager_RejectsForeignAlgAndGarbage(t *testing.T) {
	t.Parallel()

	m := testManager(t)
	now := time.Now().UTC()

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    "hearth",
		Subject:   "user-5",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for _, tok := range []string{"", "garbage", "a.b.c", none} {
		_, err := m.VerifyAccess(tok, now)
		assert.ErrorIs(t, err, ErrInvalidToken, tok)
	}
}

func TestManager_WrongIssuer(t *testing.T) {
	t.Parallel()

	m := testManager(t)
	other := DefaultConfig()
	other.Issuer = "someone-else"
	other.AccessSecret = strings.Repeat("a", 32)
	other.RefreshSecret = strings.Repeat("r", 32)
	om, err := NewManager(other)
	require.NoError(t, err)

	now := time.Now().UTC()
	pair, err := om.Issue("user-6", nil, now)
	require.NoError(t, err)

	_, err = m.VerifyAccess(pair.AccessToken, now)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
