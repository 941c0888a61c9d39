package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedLookup memoizes answers of another Lookup for a bounded time.
// Lookup errors are never cached.
type CachedLookup struct {
	next  Lookup
	cache *expirable.LRU[string, bool]
}

// NewCachedLookup wraps next with an LRU of size entries expiring after ttl
func NewCachedLookup(next Lookup, size int, ttl time.Duration) *CachedLookup {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedLookup{
		next:  next,
		cache: expirable.NewLRU[string, bool](size, nil, ttl),
	}
}

func cacheKey(tenantID int64, roleID string, resource Resource, action Action) string {
	return fmt.Sprintf("%d|%s|%s:%s", tenantID, roleID, resource, action)
}

// Allowed implements Lookup
func (c *CachedLookup) Allowed(ctx context.Context, tenantID int64, roleID string, resource Resource, action Action) (bool, error) {
	key := cacheKey(tenantID, roleID, resource, action)
	if allowed, ok := c.cache.Get(key); ok {
		return allowed, nil
	}
	allowed, err := c.next.Allowed(ctx, tenantID, roleID, resource, action)
	if err != nil {
		return false, err
	}
	c.cache.Add(key, allowed)
	return allowed, nil
}

// Purge drops every cached answer
func (c *CachedLookup) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached answers
func (c *CachedLookup) Len() int {
	return c.cache.Len()
}
