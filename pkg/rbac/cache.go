package rbac

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/staykeeper/gatehouse/pkg/auth"
)

// RoleCache caches role records in front of the credential store. Role
// data is immutable during a request, so a short TTL cache removes the
// per-request store round trip; singleflight collapses concurrent loads
// of the same role into one store call.
type RoleCache struct {
	store auth.RoleLoader
	cache *lru.LRU[string, *auth.Role]
	group singleflight.Group
}

// NewRoleCache wraps the store with an expirable LRU of the given size
// and TTL.
func NewRoleCache(store auth.RoleLoader, size int, ttl time.Duration) *RoleCache {
	if size <= 0 {
		size = 128
	}
	return &RoleCache{
		store: store,
		cache: lru.NewLRU[string, *auth.Role](size, nil, ttl),
	}
}

// Role returns the cached role or loads it from the store.
func (c *RoleCache) Role(ctx context.Context, roleID string) (*auth.Role, error) {
	if role, ok := c.cache.Get(roleID); ok {
		return role, nil
	}

	v, err, _ := c.group.Do(roleID, func() (interface{}, error) {
		role, err := c.store.Role(ctx, roleID)
		if err != nil {
			return nil, err
		}
		c.cache.Add(roleID, role)
		return role, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*auth.Role), nil
}

// Invalidate drops a role from the cache, for use after role mutations.
func (c *RoleCache) Invalidate(roleID string) {
	c.cache.Remove(roleID)
}
