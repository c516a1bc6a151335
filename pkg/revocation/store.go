// Package revocation tracks invalidated credential identifiers.
//
// Entries carry a TTL equal to the credential's remaining validity so the
// store self-prunes and an entry never outlives the credential it revokes.
// Two implementations exist: a Redis-backed store shared across replicas
// and an in-process fallback. The choice is made once at construction and
// never switches mid-process.
//
// The Redis store is eventually consistent across replicas of a
// distributed deployment: a revocation written on one replica may be
// observed on another only after the replication lag. Callers treat lookup
// errors and timeouts as verification failures (fail closed), never as an
// assumed-valid credential.
package revocation

import (
	"context"
	"time"
)

// Store records revoked credential identifiers with automatic expiry.
type Store interface {
	// Revoke marks the identifier as revoked for the given TTL. A
	// non-positive TTL is a no-op: the credential is already expired and
	// needs no entry. Revoking the same identifier twice is a no-op.
	Revoke(ctx context.Context, id string, ttl time.Duration) error

	// IsRevoked reports whether the identifier is currently revoked.
	IsRevoked(ctx context.Context, id string) (bool, error)

	Close() error
}
