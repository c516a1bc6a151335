package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// setupRedisTest creates a miniredis instance and returns the store and cleanup function
func setupRedisTest(t *testing.T) (*RedisStore, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	store, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create redis revocation store: %v", err)
	}

	cleanup := func() {
		store.Close()
		mr.Close()
	}
	return store, mr, cleanup
}

func TestNewRedisStore_InvalidURL(t *testing.T) {
	if _, err := NewRedisStore("invalid://url"); err == nil {
		t.Fatal("Expected error for invalid redis URL")
	}
}

func TestRedisStore_RevokeAndLookup(t *testing.T) {
	store, _, cleanup := setupRedisTest(t)
	defer cleanup()
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "cred-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if revoked {
		t.Fatal("Expected unknown credential to not be revoked")
	}

	if err := store.Revoke(ctx, "cred-1", 10*time.Minute); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	revoked, err = store.IsRevoked(ctx, "cred-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !revoked {
		t.Fatal("Expected credential to be revoked")
	}
}

func TestRedisStore_EntryExpiresWithCredential(t *testing.T) {
	store, mr, cleanup := setupRedisTest(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Revoke(ctx, "cred-1", 5*time.Minute); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	mr.FastForward(6 * time.Minute)

	revoked, err := store.IsRevoked(ctx, "cred-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if revoked {
		t.Fatal("Expected entry to expire with the credential")
	}
}

func TestRedisStore_NonPositiveTTLIsNoop(t *testing.T) {
	store, mr, cleanup := setupRedisTest(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Revoke(ctx, "cred-1", 0); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := store.Revoke(ctx, "cred-2", -time.Minute); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if got := len(mr.Keys()); got != 0 {
		t.Fatalf("Expected no keys written, got %d", got)
	}
}

func TestRedisStore_RevokeIsIdempotent(t *testing.T) {
	store, _, cleanup := setupRedisTest(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.Revoke(ctx, "cred-1", time.Minute); err != nil {
			t.Fatalf("Revoke %d failed: %v", i, err)
		}
	}
	revoked, _ := store.IsRevoked(ctx, "cred-1")
	if !revoked {
		t.Fatal("Expected credential to stay revoked")
	}
}

func TestRedisStore_LookupFailsWhenServerGone(t *testing.T) {
	store, mr, cleanup := setupRedisTest(t)
	defer cleanup()
	ctx := context.Background()

	mr.Close()

	if _, err := store.IsRevoked(ctx, "cred-1"); err == nil {
		t.Fatal("Expected lookup error when redis is unreachable")
	}
}
