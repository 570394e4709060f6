package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// cheapConfig keeps tests fast; bounds checks still apply.
func cheapConfig() Config {
	cfg := DefaultConfig()
	cfg.Params = Argon2idParams{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	return cfg
}

func TestHashAndVerify_OK(t *testing.T) {
	cfg := cheapConfig()

	h, err := cfg.Hash("this is a strong password 123!")
	require.NoError(t, err)
	assert.Contains(t, h, "$argon2id$v=19$m=1024,t=1,p=1$")

	ok, err := cfg.Verify(h, "this is a strong password 123!")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cfg.Verify(h, "wrong password")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_InvalidHash(t *testing.T) {
	cfg := cheapConfig()

	for _, h := range []string{"not-a-hash", "$argon2id$v=18$m=1,t=1,p=1$AA$AA", "$2a$bogus"} {
		ok, err := cfg.Verify(h, "whatever")
		assert.ErrorIs(t, err, ErrInvalidHash, h)
		assert.False(t, ok)
	}
}

func TestVerify_RejectsOversizedParams(t *testing.T) {
	small := cheapConfig()
	big := cheapConfig()
	big.Params.MemoryKiB = small.Params.MemoryKiB * 4

	h, err := big.Hash("correct horse battery")
	require.NoError(t, err)

	_, err = small.Verify(h, "correct horse battery")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestVerify_LegacyBcrypt(t *testing.T) {
	cfg := cheapConfig()

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-secret-pw"), bcrypt.MinCost)
	require.NoError(t, err)

	ok, err := cfg.Verify(string(legacy), "legacy-secret-pw")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cfg.Verify(string(legacy), "nope-nope-nope")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, cfg.NeedsRehash(string(legacy)))
}

func TestNeedsRehash_Argon(t *testing.T) {
	cfg := cheapConfig()
	h, err := cfg.Hash("a fine password")
	require.NoError(t, err)
	assert.False(t, cfg.NeedsRehash(h))

	stronger := cfg
	stronger.Params.Iterations = 2
	assert.True(t, stronger.NeedsRehash(h))
}

func TestValidate_MinMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	assert.ErrorIs(t, cfg.Validate("short"), ErrPasswordTooShort)
	assert.ErrorIs(t, cfg.Validate("this password is definitely too long"), ErrPasswordTooLong)
	assert.NoError(t, cfg.Validate("goodpassw0rd!"))
}

func TestPolicy_RejectVeryWeak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.RejectVeryWeak = true
	cfg.Policy.MinLength = 6

	for _, pw := range []string{"password", "11111111", "family123", "12345678"} {
		assert.ErrorIs(t, cfg.Validate(pw), ErrWeakPassword, pw)
	}
	assert.NoError(t, cfg.Validate("a-very-ok-pass"))
}
