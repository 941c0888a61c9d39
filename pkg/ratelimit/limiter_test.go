package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewLimiter(client, cfg, nil), mr
}

func TestLimiter_FixedWindow(t *testing.T) {
	limiter, mr := setupLimiter(t, DefaultConfig())
	ctx := context.Background()

	for i := 1; i <= 100; i++ {
		require.True(t, limiter.IsAllowed(ctx, "ip:10.0.0.1", "/auth/login"), "request %d", i)
	}
	assert.False(t, limiter.IsAllowed(ctx, "ip:10.0.0.1", "/auth/login"), "request 101")
	assert.False(t, limiter.IsAllowed(ctx, "ip:10.0.0.1", "/auth/login"), "request 102")

	mr.FastForward(30 * time.Second)
	assert.False(t, limiter.IsAllowed(ctx, "ip:10.0.0.1", "/auth/login"), "still inside the window")

	mr.FastForward(31 * time.Second)
	assert.True(t, limiter.IsAllowed(ctx, "ip:10.0.0.1", "/auth/login"), "next window")
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter, mr := setupLimiter(t, Config{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	assert.True(t, limiter.IsAllowed(ctx, "user:1", "/posts"))
	assert.False(t, limiter.IsAllowed(ctx, "user:1", "/posts"))
	assert.True(t, limiter.IsAllowed(ctx, "user:2", "/posts"))
	assert.True(t, limiter.IsAllowed(ctx, "user:1", "/comments"))

	assert.True(t, mr.Exists("ratelimit:user:1:/posts"))
	assert.Equal(t, time.Minute, mr.TTL("ratelimit:user:1:/posts"))
}

func TestLimiter_CheckDecision(t *testing.T) {
	limiter, mr := setupLimiter(t, Config{Limit: 3, Window: time.Minute})
	ctx := context.Background()

	d := limiter.Check(ctx, "user:7", "/feed")
	assert.Equal(t, Allowed, d.Outcome)
	assert.Equal(t, int64(1), d.Count)
	assert.Equal(t, 2, d.Remaining)
	assert.Equal(t, 3, d.Limit)
	assert.Equal(t, time.Minute, d.ResetIn)

	mr.FastForward(20 * time.Second)
	limiter.Check(ctx, "user:7", "/feed")
	limiter.Check(ctx, "user:7", "/feed")
	d = limiter.Check(ctx, "user:7", "/feed")
	assert.Equal(t, Denied, d.Outcome)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 40*time.Second, d.ResetIn)
	assert.NoError(t, d.Err)
}

func TestLimiter_FailsOpen(t *testing.T) {
	limiter, mr := setupLimiter(t, Config{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	mr.SetError("ERR connection lost")

	d := limiter.Check(ctx, "ip:1.2.3.4", "/auth/login")
	assert.Equal(t, StoreUnavailable, d.Outcome)
	assert.Error(t, d.Err)

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.IsAllowed(ctx, "ip:1.2.3.4", "/auth/login"))
	}
}

func TestLimiter_FailsOpenWhenStoreClosed(t *testing.T) {
	limiter, mr := setupLimiter(t, DefaultConfig())
	mr.Close()

	assert.True(t, limiter.IsAllowed(context.Background(), "ip:1.2.3.4", "/auth/login"))
}

func TestLimiter_RepairsMissingExpiry(t *testing.T) {
	limiter, mr := setupLimiter(t, Config{Limit: 5, Window: time.Minute})
	ctx := context.Background()

	key := Key("user:9", "/posts")
	require.NoError(t, mr.Set(key, "50"))
	require.Zero(t, mr.TTL(key))

	assert.False(t, limiter.IsAllowed(ctx, "user:9", "/posts"))
	assert.Equal(t, time.Minute, mr.TTL(key))

	mr.FastForward(time.Minute)
	assert.True(t, limiter.IsAllowed(ctx, "user:9", "/posts"))
}

func TestLimiter_RemainingAndReset(t *testing.T) {
	limiter, _ := setupLimiter(t, Config{Limit: 10, Window: time.Minute})
	ctx := context.Background()

	left, err := limiter.Remaining(ctx, "user:3", "/x")
	require.NoError(t, err)
	assert.Equal(t, 10, left)

	limiter.Check(ctx, "user:3", "/x")
	limiter.Check(ctx, "user:3", "/x")
	left, err = limiter.Remaining(ctx, "user:3", "/x")
	require.NoError(t, err)
	assert.Equal(t, 8, left)

	require.NoError(t, limiter.Reset(ctx, "user:3", "/x"))
	left, err = limiter.Remaining(ctx, "user:3", "/x")
	require.NoError(t, err)
	assert.Equal(t, 10, left)
}

func TestNewLimiterDefaults(t *testing.T) {
	limiter := NewLimiter(nil, Config{}, nil)
	assert.Equal(t, DefaultLimit, limiter.Limit())
	assert.Equal(t, DefaultWindow, limiter.Window())
	assert.Equal(t, "ratelimit:ip:127.0.0.1:/auth/login", Key("ip:127.0.0.1", "/auth/login"))
	assert.Equal(t, "store_unavailable", StoreUnavailable.String())
}
