package orgs

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedDirectory keeps recently resolved organizations in memory.
// Lookup failures, including not found, are never cached.
type CachedDirectory struct {
	next  Directory
	cache *expirable.LRU[int64, Organization]
}

// NewCachedDirectory wraps next with an LRU of size entries expiring after ttl
func NewCachedDirectory(next Directory, size int, ttl time.Duration) *CachedDirectory {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedDirectory{
		next:  next,
		cache: expirable.NewLRU[int64, Organization](size, nil, ttl),
	}
}

// GetOrganization implements Directory. Callers receive a copy.
func (c *CachedDirectory) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	if org, ok := c.cache.Get(id); ok {
		return &org, nil
	}
	org, err := c.next.GetOrganization(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, *org)
	out := *org
	return &out, nil
}

// Invalidate drops a cached organization
func (c *CachedDirectory) Invalidate(id int64) {
	c.cache.Remove(id)
}
