package ratelimit

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Enabled when HEARTH_REDIS_URL is set.
func TestRedisLimiter_FiveThenReject(t *testing.T) {
	raw := strings.TrimSpace(os.Getenv("HEARTH_REDIS_URL"))
	if raw == "" {
		t.Skip("integration test skipped: HEARTH_REDIS_URL is not set")
	}
	opts, err := redis.ParseURL(raw)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil && os.Getenv("CI") == "" {
		t.Skipf("integration test skipped: redis unreachable: %v", err)
	}

	prefix := "hearth:test:" + time.Now().UTC().Format("20060102150405.000000000")
	l, err := NewRedisLimiter(client, prefix, 5, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { client.Del(context.Background(), prefix+":k") })

	for i := 0; i < 5; i++ {
		ok, err := l.Allow(ctx, "k", time.Time{})
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "k", time.Time{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRedisLimiter_NilClient(t *testing.T) {
	t.Parallel()
	_, err := NewRedisLimiter(nil, "", 5, time.Minute)
	assert.Error(t, err)
}
