package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLookup struct {
	calls   int
	allowed bool
	err     error
}

func (c *countingLookup) Allowed(ctx context.Context, tenantID int64, roleID string, resource Resource, action Action) (bool, error) {
	c.calls++
	return c.allowed, c.err
}

func TestCachedLookup_CachesAnswers(t *testing.T) {
	next := &countingLookup{allowed: true}
	cache := NewCachedLookup(next, 16, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := cache.Allowed(ctx, 10, RoleMember, ResourcePost, ActionRead)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, next.calls)

	_, _ = cache.Allowed(ctx, 20, RoleMember, ResourcePost, ActionRead)
	assert.Equal(t, 2, next.calls, "tenants are cached separately")
	assert.Equal(t, 2, cache.Len())

	cache.Purge()
	_, _ = cache.Allowed(ctx, 10, RoleMember, ResourcePost, ActionRead)
	assert.Equal(t, 3, next.calls)
}

func TestCachedLookup_DoesNotCacheErrors(t *testing.T) {
	next := &countingLookup{err: errors.New("timeout")}
	cache := NewCachedLookup(next, 16, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := cache.Allowed(context.Background(), 10, RoleMember, ResourcePost, ActionRead)
		assert.Error(t, err)
	}
	assert.Equal(t, 2, next.calls)
	assert.Equal(t, 0, cache.Len())
}

func TestCachedLookup_Expires(t *testing.T) {
	next := &countingLookup{allowed: true}
	cache := NewCachedLookup(next, 16, 50*time.Millisecond)

	_, _ = cache.Allowed(context.Background(), 10, RoleMember, ResourcePost, ActionRead)
	assert.Eventually(t, func() bool {
		_, _ = cache.Allowed(context.Background(), 10, RoleMember, ResourcePost, ActionRead)
		return next.calls >= 2
	}, 2*time.Second, 20*time.Millisecond)
}
