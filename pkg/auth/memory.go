package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process CredentialStore. It backs tests and local
// development; production wiring points at the real system of record.
type MemoryStore struct {
	mu         sync.Mutex
	identities map[string]*Identity
	byEmail    map[string]string
	roles      map[string]*Role
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[string]*Identity),
		byEmail:    make(map[string]string),
		roles:      make(map[string]*Role),
	}
}

// PutIdentity inserts or replaces an identity record.
func (s *MemoryStore) PutIdentity(identity *Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *identity
	cp.RenewalIDs = append([]string(nil), identity.RenewalIDs...)
	s.identities[cp.ID] = &cp
	s.byEmail[strings.ToLower(cp.Email)] = cp.ID
}

// PutRole inserts or replaces a role record.
func (s *MemoryStore) PutRole(role *Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *role
	cp.Permissions = append([]string(nil), role.Permissions...)
	s.roles[cp.ID] = &cp
}

// SetSecretChangedAt updates an identity's last-secret-change time, the
// event that invalidates previously issued access credentials.
func (s *MemoryStore) SetSecretChangedAt(identityID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[identityID]
	if !ok {
		return fmt.Errorf("set secret changed: %w", ErrNotFound)
	}
	identity.SecretChangedAt = at
	return nil
}

func (s *MemoryStore) Identity(ctx context.Context, id string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyIdentity(identity), nil
}

func (s *MemoryStore) IdentityByEmail(ctx context.Context, email string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	return copyIdentity(s.identities[id]), nil
}

func (s *MemoryStore) Role(ctx context.Context, roleID string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *role
	cp.Permissions = append([]string(nil), role.Permissions...)
	return &cp, nil
}

func (s *MemoryStore) RecordRenewal(ctx context.Context, identityID, renewalID string, cap int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[identityID]
	if !ok {
		return fmt.Errorf("record renewal: %w", ErrNotFound)
	}
	identity.RenewalIDs = append(identity.RenewalIDs, renewalID)
	if cap > 0 && len(identity.RenewalIDs) > cap {
		identity.RenewalIDs = identity.RenewalIDs[len(identity.RenewalIDs)-cap:]
	}
	t := at
	identity.LastAuthenticatedAt = &t
	return nil
}

func (s *MemoryStore) RemoveRenewal(ctx context.Context, identityID, renewalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[identityID]
	if !ok {
		return fmt.Errorf("remove renewal: %w", ErrNotFound)
	}
	kept := identity.RenewalIDs[:0]
	for _, id := range identity.RenewalIDs {
		if id != renewalID {
			kept = append(kept, id)
		}
	}
	identity.RenewalIDs = kept
	return nil
}

func copyIdentity(identity *Identity) *Identity {
	cp := *identity
	cp.RenewalIDs = append([]string(nil), identity.RenewalIDs...)
	if identity.LastAuthenticatedAt != nil {
		t := *identity.LastAuthenticatedAt
		cp.LastAuthenticatedAt = &t
	}
	return &cp
}
