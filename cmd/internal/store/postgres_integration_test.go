package store

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"hearth/cmd/identity"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests are enabled when HEARTH_DATABASE_URL is set.
// Outside CI, an unreachable Postgres skips them.

func TestPostgresStore_Contract(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	runRepoContract(t, func(t *testing.T) Store {
		schema := mustMigratedSchema(t, pool)
		st, err := NewPostgresStore(pool, WithSchema(schema))
		require.NoError(t, err)
		return st
	})
}

func TestPostgresStore_ConcurrentRedeemSingleWinner(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustMigratedSchema(t, pool)
	st, err := NewPostgresStore(pool, WithSchema(schema))
	require.NoError(t, err)

	ctx := context.Background()
	admin := mkUser(t, st, "cas-admin@example.com")
	f := mkFamily(t, st, admin)

	fi := testFamilyInviteRow(t, f.ID, admin.ID)
	require.NoError(t, st.InTx(ctx, func(r Repo) error { return r.CreateFamilyInvite(ctx, fi) }))

	const n = 8
	joiners := make([]identity.User, n)
	for i := range joiners {
		joiners[i] = mkUser(t, st, "cas-"+string(rune('a'+i))+"@example.com")
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(u identity.User) {
			defer wg.Done()
			_ = st.InTx(ctx, func(r Repo) error {
				ok, err := r.RedeemFamilyInvite(ctx, fi.ID, u.ID, testNow.Add(time.Minute))
				if ok {
					mu.Lock()
					won++
					mu.Unlock()
				}
				return err
			})
		}(joiners[i])
	}
	wg.Wait()
	assert.Equal(t, 1, won)
}

func TestMigrate_Idempotent(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustMigratedSchema(t, pool)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, Migrate(ctx, pool, schema))
}

func TestWithSchema_RejectsBadIdentifier(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "  ", "bad-name", "1abc", `x"; DROP`} {
		st := &PostgresStore{}
		assert.Error(t, WithSchema(in)(st), in)
	}
}

func TestPgErr_Classification(t *testing.T) {
	t.Parallel()

	err := pgErr("op", "user", pgx.ErrNoRows)
	assert.True(t, identity.IsNotFound(err))

	plain := errors.New("plain")
	assert.Same(t, plain, pgErr("op", "user", plain))

	assert.Equal(t, "open_invite", pgConflictField("uq_invites_open_per_email"))
	assert.Equal(t, "email", pgConflictField("uq_users_email_live"))
	assert.Equal(t, "code_hash", pgConflictField("uq_family_invites_code_hash"))
	assert.Equal(t, "invite_code", pgConflictField("uq_families_invite_code"))
	assert.Equal(t, "membership", pgConflictField("family_memberships_pkey"))
	assert.Equal(t, "family", pgFKResource("family_memberships_family_id_fkey"))
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("HEARTH_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: HEARTH_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse HEARTH_DATABASE_URL: %v", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("ping: %v", err)
	}
	return pool
}

func shouldSkipIntegration(err error) bool {
	if err == nil || os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}

func mustMigratedSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "hearth_it_" + strings.ToLower(newID(t))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, Migrate(ctx, pool, schema))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})
	return schema
}
