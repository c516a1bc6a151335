package auth

import (
	"context"
	"time"
)

// RoleLoader reads role records. Satisfied by CredentialStore and by the
// rbac role cache.
type RoleLoader interface {
	Role(ctx context.Context, roleID string) (*Role, error)
}

// CredentialStore is the boundary to the system of record for identities
// and roles. Reads are plain lookups; the only writes this layer performs
// are the renewal-session history and the last-authentication timestamp.
//
// RecordRenewal must be atomic per identity: concurrent issuance for the
// same identity must not lose history entries. Implementations back this
// with a single conditional append-and-trim statement or an equivalent
// exclusive section.
type CredentialStore interface {
	RoleLoader

	Identity(ctx context.Context, id string) (*Identity, error)
	IdentityByEmail(ctx context.Context, email string) (*Identity, error)

	// RecordRenewal appends renewalID to the identity's bounded history,
	// evicting the oldest entries beyond cap, and stamps the
	// last-authenticated time.
	RecordRenewal(ctx context.Context, identityID, renewalID string, cap int, at time.Time) error

	// RemoveRenewal drops renewalID from the identity's history. Removing
	// an absent identifier is a no-op.
	RemoveRenewal(ctx context.Context, identityID, renewalID string) error
}
