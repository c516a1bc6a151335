package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresStore adapts a database/sql connection to the CredentialStore
// boundary. The history update runs as a single UPDATE so the
// append-and-trim is atomic per identity without application-side locking.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a credential store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const identityColumns = `id, email, secret_hash, role_id, status, secret_changed_at, renewal_ids, last_authenticated_at`

func (s *PostgresStore) Identity(ctx context.Context, id string) (*Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	return s.scanIdentity(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) IdentityByEmail(ctx context.Context, email string) (*Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE lower(email) = lower($1)`
	return s.scanIdentity(s.db.QueryRowContext(ctx, query, strings.TrimSpace(email)))
}

func (s *PostgresStore) Role(ctx context.Context, roleID string) (*Role, error) {
	query := `SELECT id, name, authority, permissions, active FROM roles WHERE id = $1`

	var role Role
	var permissions pq.StringArray
	err := s.db.QueryRowContext(ctx, query, roleID).Scan(
		&role.ID,
		&role.Name,
		&role.Authority,
		&permissions,
		&role.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load role: %w", err)
	}
	role.Permissions = permissions
	return &role, nil
}

func (s *PostgresStore) RecordRenewal(ctx context.Context, identityID, renewalID string, cap int, at time.Time) error {
	// Append-and-trim in one statement: the array slice keeps the newest
	// `cap` entries after the append.
	query := `
		UPDATE identities
		   SET renewal_ids = (array_append(renewal_ids, $2::text))[GREATEST(COALESCE(array_length(renewal_ids, 1), 0) + 2 - $3, 1):],
		       last_authenticated_at = $4
		 WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, identityID, renewalID, cap, at)
	if err != nil {
		return fmt.Errorf("record renewal: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("record renewal: %w", ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) RemoveRenewal(ctx context.Context, identityID, renewalID string) error {
	query := `UPDATE identities SET renewal_ids = array_remove(renewal_ids, $2) WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, identityID, renewalID); err != nil {
		return fmt.Errorf("remove renewal: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanIdentity(row *sql.Row) (*Identity, error) {
	var identity Identity
	var renewalIDs pq.StringArray
	var lastAuth sql.NullTime

	err := row.Scan(
		&identity.ID,
		&identity.Email,
		&identity.SecretHash,
		&identity.RoleID,
		&identity.Status,
		&identity.SecretChangedAt,
		&renewalIDs,
		&lastAuth,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	identity.RenewalIDs = renewalIDs
	if lastAuth.Valid {
		t := lastAuth.Time
		identity.LastAuthenticatedAt = &t
	}
	return &identity, nil
}
