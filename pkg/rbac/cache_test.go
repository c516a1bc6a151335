package rbac

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staykeeper/gatehouse/pkg/auth"
)

// countingLoader counts store round trips.
type countingLoader struct {
	loads int64
	role  *auth.Role
	err   error
}

func (l *countingLoader) Role(ctx context.Context, roleID string) (*auth.Role, error) {
	atomic.AddInt64(&l.loads, 1)
	if l.err != nil {
		return nil, l.err
	}
	return l.role, nil
}

func TestRoleCache_CachesLoads(t *testing.T) {
	loader := &countingLoader{role: &auth.Role{ID: "role-1", Name: auth.RoleManager, Active: true}}
	cache := NewRoleCache(loader, 16, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		role, err := cache.Role(ctx, "role-1")
		require.NoError(t, err)
		assert.Equal(t, auth.RoleManager, role.Name)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&loader.loads))
}

func TestRoleCache_ErrorsAreNotCached(t *testing.T) {
	loader := &countingLoader{err: auth.ErrNotFound}
	cache := NewRoleCache(loader, 16, time.Minute)
	ctx := context.Background()

	_, err := cache.Role(ctx, "missing")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	_, err = cache.Role(ctx, "missing")
	assert.ErrorIs(t, err, auth.ErrNotFound)
	assert.Equal(t, int64(2), atomic.LoadInt64(&loader.loads))
}

func TestRoleCache_Invalidate(t *testing.T) {
	loader := &countingLoader{role: &auth.Role{ID: "role-1", Name: auth.RoleManager, Active: true}}
	cache := NewRoleCache(loader, 16, time.Minute)
	ctx := context.Background()

	_, err := cache.Role(ctx, "role-1")
	require.NoError(t, err)

	cache.Invalidate("role-1")

	_, err = cache.Role(ctx, "role-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&loader.loads))
}

// slowLoader blocks loads until released so concurrent callers pile up.
type slowLoader struct {
	loads   int64
	release chan struct{}
}

func (l *slowLoader) Role(ctx context.Context, roleID string) (*auth.Role, error) {
	atomic.AddInt64(&l.loads, 1)
	<-l.release
	return &auth.Role{ID: roleID, Name: auth.RoleManager, Active: true}, nil
}

func TestRoleCache_SingleflightCollapsesConcurrentLoads(t *testing.T) {
	loader := &slowLoader{release: make(chan struct{})}
	cache := NewRoleCache(loader, 16, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			role, err := cache.Role(ctx, "role-1")
			assert.NoError(t, err)
			assert.NotNil(t, role)
		}()
	}

	// Give the goroutines time to reach the loader before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(loader.release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&loader.loads))
}
