package auth

import "time"

// Status is the lifecycle state of an identity's account
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusPending   Status = "pending"
)

// Identity represents a staff account as read from the credential store.
// The gatekeeping layer reads everything and writes only RenewalIDs and
// LastAuthenticatedAt.
type Identity struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	SecretHash string `json:"-"` // never exposed
	RoleID     string `json:"role_id"`
	Status     Status `json:"status"`

	// SecretChangedAt invalidates access credentials issued before it.
	SecretChangedAt time.Time `json:"secret_changed_at"`

	// RenewalIDs is the bounded history of renewal credential identifiers,
	// oldest first. Its length is capped by the session ceiling.
	RenewalIDs []string `json:"-"`

	LastAuthenticatedAt *time.Time `json:"last_authenticated_at,omitempty"`
}

// HasRenewal reports whether the given renewal identifier is still in the
// identity's session history.
func (i *Identity) HasRenewal(renewalID string) bool {
	for _, id := range i.RenewalIDs {
		if id == renewalID {
			return true
		}
	}
	return false
}

// Role represents a named rank with its stored permission grants. Stored
// permissions only ever add to the static floor for the role name, they
// never remove from it.
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Authority   int      `json:"authority"`
	Permissions []string `json:"permissions"`
	Active      bool     `json:"active"`
}

// Well-known role names, ordered by ascending authority.
const (
	RoleHousekeeping = "housekeeping"
	RoleReceptionist = "receptionist"
	RoleManager      = "manager"
	RoleAdmin        = "admin"
)
