// Package token issues, verifies, refreshes, and revokes the signed
// credentials that gate the back-office API.
//
// Every grant is a pair: a short-lived access credential presented on each
// request and a long-lived renewal credential exchanged for fresh pairs.
// The two are signed with distinct secrets, so one can never stand in for
// the other. Verification is stateless except for the revocation lookup
// and the identity snapshot read.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/staykeeper/gatehouse/pkg/audit"
	"github.com/staykeeper/gatehouse/pkg/auth"
	"github.com/staykeeper/gatehouse/pkg/observability"
	"github.com/staykeeper/gatehouse/pkg/revocation"
)

const (
	typeAccess  = "access"
	typeRenewal = "renewal"

	defaultAccessTTL     = 15 * time.Minute
	defaultRenewalTTL    = 30 * 24 * time.Hour
	defaultSessionCap    = 5
	defaultLookupTimeout = 2 * time.Second

	// renewalHintFraction of the access lifetime after which verification
	// suggests refreshing.
	renewalHintFraction = 0.75
)

type accessClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

type renewalClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Credential is one signed credential with its identifier and bounds.
type Credential struct {
	ID        string    `json:"id"`
	Raw       string    `json:"raw"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Pair is an access and renewal credential issued together. After a
// refresh without rotation, Renewal is the zero value and the caller keeps
// using the renewal credential it already holds.
type Pair struct {
	Access  Credential `json:"access"`
	Renewal Credential `json:"renewal,omitempty"`
}

// VerifiedIdentity is the result of a successful access verification.
type VerifiedIdentity struct {
	Identity *auth.Identity
	Role     *auth.Role

	CredentialID string
	IssuedAt     time.Time
	ExpiresAt    time.Time

	// RenewalSuggested is set when the credential is in the final quarter
	// of its lifetime. The boundary surfaces it as a hint header.
	RenewalSuggested bool
}

// Service implements the credential lifecycle.
type Service struct {
	store         auth.CredentialStore
	roles         auth.RoleLoader
	revocations   revocation.Store
	sink          audit.Sink
	metrics       *observability.Metrics
	logger        *observability.Logger
	now           func() time.Time
	accessSecret  []byte
	renewalSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	renewalTTL    time.Duration
	sessionCap    int
	rotateRenewal bool
	lookupTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAccessTTL sets the access credential lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) { s.accessTTL = ttl }
}

// WithRenewalTTL sets the renewal credential lifetime.
func WithRenewalTTL(ttl time.Duration) Option {
	return func(s *Service) { s.renewalTTL = ttl }
}

// WithIssuer sets the iss claim stamped on every credential.
func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = issuer }
}

// WithAudience sets the aud claim stamped on every credential.
func WithAudience(audience string) Option {
	return func(s *Service) { s.audience = audience }
}

// WithSessionCap bounds how many concurrent renewal credentials an
// identity may hold. Issuing past the cap evicts the oldest.
func WithSessionCap(cap int) Option {
	return func(s *Service) { s.sessionCap = cap }
}

// WithRotateRenewal makes every refresh mint a fresh renewal credential
// and retire the presented one.
func WithRotateRenewal(rotate bool) Option {
	return func(s *Service) { s.rotateRenewal = rotate }
}

// WithRoleLoader substitutes the role source, typically the caching
// resolver, in place of direct store reads.
func WithRoleLoader(roles auth.RoleLoader) Option {
	return func(s *Service) { s.roles = roles }
}

// WithAuditSink sets the sink receiving lifecycle events.
func WithAuditSink(sink audit.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithMetrics records lifecycle outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithServiceLogger reports store failures during verification.
func WithServiceLogger(logger *observability.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithLookupTimeout bounds the revocation lookup during verification.
func WithLookupTimeout(d time.Duration) Option {
	return func(s *Service) { s.lookupTimeout = d }
}

// NewService builds a credential service. The access and renewal secrets
// must be non-empty and distinct.
func NewService(store auth.CredentialStore, revocations revocation.Store, accessSecret, renewalSecret []byte, opts ...Option) (*Service, error) {
	if len(accessSecret) == 0 || len(renewalSecret) == 0 {
		return nil, errors.New("token: signing secrets must be non-empty")
	}
	if string(accessSecret) == string(renewalSecret) {
		return nil, errors.New("token: access and renewal secrets must differ")
	}

	s := &Service{
		store:         store,
		roles:         store,
		revocations:   revocations,
		sink:          audit.NopSink{},
		now:           time.Now,
		accessSecret:  accessSecret,
		renewalSecret: renewalSecret,
		issuer:        "gatehouse",
		audience:      "staykeeper-backoffice",
		accessTTL:     defaultAccessTTL,
		renewalTTL:    defaultRenewalTTL,
		sessionCap:    defaultSessionCap,
		lookupTimeout: defaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sessionCap <= 0 {
		return nil, errors.New("token: session cap must be positive")
	}
	return s, nil
}

// Issue mints a fresh credential pair for the identity and records the
// renewal identifier in its bounded session history, evicting the oldest
// entry past the cap. The caller has already authenticated the identity.
func (s *Service) Issue(ctx context.Context, identity *auth.Identity) (*Pair, error) {
	now := s.now()

	access, err := s.signAccess(identity, now)
	if err != nil {
		return nil, s.issueFailed(ctx, identity.ID, fmt.Errorf("sign access credential: %w", err))
	}
	renewal, err := s.signRenewal(identity, now)
	if err != nil {
		return nil, s.issueFailed(ctx, identity.ID, fmt.Errorf("sign renewal credential: %w", err))
	}

	if err := s.store.RecordRenewal(ctx, identity.ID, renewal.ID, s.sessionCap, now); err != nil {
		return nil, s.issueFailed(ctx, identity.ID, fmt.Errorf("record renewal session: %w", err))
	}

	s.countIssue("success")
	s.emit(ctx, audit.Event{
		Action:   audit.ActionTokenIssue,
		Outcome:  audit.OutcomeSuccess,
		ActorID:  identity.ID,
		Metadata: map[string]interface{}{"credential_id": access.ID},
	})
	return &Pair{Access: access, Renewal: renewal}, nil
}

// Verify validates a raw access credential and returns the live identity
// snapshot it authenticates. Checks run cheapest first: signature and
// expiry, then credential type, then revocation, then the identity read
// with its account, role, and secret-age gates. A revocation store failure
// is a verification failure, never an assumed-valid credential.
func (s *Service) Verify(ctx context.Context, raw string) (*VerifiedIdentity, error) {
	verified, err := s.verify(ctx, raw)
	s.countVerify(err)
	return verified, err
}

func (s *Service) verify(ctx context.Context, raw string) (*VerifiedIdentity, error) {
	claims := &accessClaims{}
	if err := s.parse(raw, claims, s.accessSecret); err != nil {
		return nil, err
	}
	if claims.TokenType != typeAccess {
		return nil, fmt.Errorf("token type %q: %w", claims.TokenType, auth.ErrInvalidCredential)
	}
	if claims.IssuedAt == nil {
		return nil, fmt.Errorf("missing iat claim: %w", auth.ErrInvalidCredential)
	}

	revoked, err := s.isRevoked(ctx, claims.ID)
	if err != nil {
		return nil, s.verifyFailed(ctx, claims.Subject, fmt.Errorf("revocation lookup: %w", auth.ErrStoreUnavailable))
	}
	if revoked {
		return nil, s.verifyFailed(ctx, claims.Subject, auth.ErrRevoked)
	}

	identity, err := s.store.Identity(ctx, claims.Subject)
	if err != nil {
		return nil, s.verifyFailed(ctx, claims.Subject, s.lookupFailed("identity", claims.Subject, err))
	}
	if identity.Status != auth.StatusActive {
		return nil, s.verifyFailed(ctx, identity.ID, auth.ErrAccountDisabled)
	}

	role, err := s.roles.Role(ctx, identity.RoleID)
	if err != nil {
		return nil, s.verifyFailed(ctx, identity.ID, s.lookupFailed("role", identity.RoleID, err))
	}
	if !role.Active {
		return nil, s.verifyFailed(ctx, identity.ID, auth.ErrRoleDisabled)
	}

	issuedAt := claims.IssuedAt.Time
	if issuedAt.Before(identity.SecretChangedAt) {
		return nil, s.verifyFailed(ctx, identity.ID, auth.ErrStale)
	}

	expiresAt := claims.ExpiresAt.Time
	lifetime := expiresAt.Sub(issuedAt)
	elapsed := s.now().Sub(issuedAt)

	return &VerifiedIdentity{
		Identity:         identity,
		Role:             role,
		CredentialID:     claims.ID,
		IssuedAt:         issuedAt,
		ExpiresAt:        expiresAt,
		RenewalSuggested: lifetime > 0 && elapsed >= time.Duration(float64(lifetime)*renewalHintFraction),
	}, nil
}

// OptionalVerify is Verify for endpoints that accept anonymous callers:
// any failure yields nil rather than an error, and the request proceeds
// unauthenticated.
func (s *Service) OptionalVerify(ctx context.Context, raw string) *VerifiedIdentity {
	if raw == "" {
		return nil
	}
	verified, err := s.Verify(ctx, raw)
	if err != nil {
		return nil
	}
	return verified
}

// Refresh exchanges a renewal credential for a fresh pair. The credential
// must verify against the renewal secret and still sit in the identity's
// session history; one evicted by the session cap or retired at logout is
// treated as revoked. With rotation off, the returned pair carries a zero
// Renewal and the presented credential stays valid.
func (s *Service) Refresh(ctx context.Context, rawRenewal string) (*Pair, error) {
	pair, err := s.refresh(ctx, rawRenewal)
	s.countRefresh(err)
	return pair, err
}

func (s *Service) refresh(ctx context.Context, rawRenewal string) (*Pair, error) {
	claims := &renewalClaims{}
	if err := s.parse(rawRenewal, claims, s.renewalSecret); err != nil {
		return nil, err
	}
	if claims.TokenType != typeRenewal {
		return nil, fmt.Errorf("token type %q: %w", claims.TokenType, auth.ErrInvalidCredential)
	}

	identity, err := s.store.Identity(ctx, claims.Subject)
	if err != nil {
		return nil, s.lookupFailed("identity", claims.Subject, err)
	}
	if identity.Status != auth.StatusActive {
		return nil, auth.ErrAccountDisabled
	}
	if !identity.HasRenewal(claims.ID) {
		return nil, auth.ErrRevoked
	}

	now := s.now()
	access, err := s.signAccess(identity, now)
	if err != nil {
		return nil, fmt.Errorf("sign access credential: %w", err)
	}

	pair := &Pair{Access: access}
	if s.rotateRenewal {
		renewal, err := s.signRenewal(identity, now)
		if err != nil {
			return nil, fmt.Errorf("sign renewal credential: %w", err)
		}
		if err := s.store.RecordRenewal(ctx, identity.ID, renewal.ID, s.sessionCap, now); err != nil {
			return nil, fmt.Errorf("record renewal session: %w", err)
		}
		if err := s.store.RemoveRenewal(ctx, identity.ID, claims.ID); err != nil {
			return nil, fmt.Errorf("retire renewal session: %w", err)
		}
		pair.Renewal = renewal
	}

	s.emit(ctx, audit.Event{
		Action:   audit.ActionTokenRefresh,
		Outcome:  audit.OutcomeSuccess,
		ActorID:  identity.ID,
		Metadata: map[string]interface{}{"credential_id": access.ID},
	})
	return pair, nil
}

// Revoke marks an access credential identifier revoked for its remaining
// validity. Revoking an already revoked or expired credential is a no-op.
func (s *Service) Revoke(ctx context.Context, credentialID string, expiresAt time.Time) error {
	remaining := expiresAt.Sub(s.now())
	if err := s.revocations.Revoke(ctx, credentialID, remaining); err != nil {
		return fmt.Errorf("revoke %s: %w", credentialID, auth.ErrStoreUnavailable)
	}
	if s.metrics != nil {
		s.metrics.TokenRevocationsTotal.Inc()
	}
	s.emit(ctx, audit.Event{
		Action:   audit.ActionTokenRevoke,
		Outcome:  audit.OutcomeSuccess,
		Metadata: map[string]interface{}{"credential_id": credentialID},
	})
	return nil
}

// RevokeRenewal retires a raw renewal credential by removing its
// identifier from the session history, ending that session. A credential
// that fails to parse or is already gone yields no error: logout is
// idempotent.
func (s *Service) RevokeRenewal(ctx context.Context, rawRenewal string) error {
	claims := &renewalClaims{}
	if err := s.parse(rawRenewal, claims, s.renewalSecret); err != nil {
		return nil
	}
	if claims.TokenType != typeRenewal {
		return nil
	}
	if err := s.store.RemoveRenewal(ctx, claims.Subject, claims.ID); err != nil {
		return fmt.Errorf("retire renewal session: %w", err)
	}
	return nil
}

// AccessTTL reports the configured access credential lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RenewalTTL reports the configured renewal credential lifetime.
func (s *Service) RenewalTTL() time.Duration { return s.renewalTTL }

func (s *Service) signAccess(identity *auth.Identity, now time.Time) (Credential, error) {
	id := uuid.NewString()
	expires := now.Add(s.accessTTL)
	claims := accessClaims{
		Role:      identity.RoleID,
		TokenType: typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   identity.ID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	if err != nil {
		return Credential{}, err
	}
	return Credential{ID: id, Raw: raw, IssuedAt: now, ExpiresAt: expires}, nil
}

func (s *Service) signRenewal(identity *auth.Identity, now time.Time) (Credential, error) {
	id := uuid.NewString()
	expires := now.Add(s.renewalTTL)
	claims := renewalClaims{
		TokenType: typeRenewal,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   identity.ID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.renewalSecret)
	if err != nil {
		return Credential{}, err
	}
	return Credential{ID: id, Raw: raw, IssuedAt: now, ExpiresAt: expires}, nil
}

// parse validates signature, algorithm, and time claims against the given
// secret. Expiry maps to ErrExpired, every other parse failure to
// ErrInvalidCredential.
func (s *Service) parse(raw string, claims jwt.Claims, secret []byte) error {
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.issuer), jwt.WithAudience(s.audience), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return auth.ErrExpired
		}
		return fmt.Errorf("parse credential: %w", auth.ErrInvalidCredential)
	}
	return nil
}

// isRevoked bounds the lookup with the service timeout and records its
// duration.
func (s *Service) isRevoked(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	start := s.now()
	revoked, err := s.revocations.IsRevoked(ctx, id)
	if s.metrics != nil {
		s.metrics.RevocationLookupDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.StoreErrorsTotal.WithLabelValues("revocation").Inc()
		}
	}
	return revoked, err
}

func (s *Service) issueFailed(ctx context.Context, actorID string, err error) error {
	s.countIssue("failure")
	s.emit(ctx, audit.Event{
		Action:  audit.ActionTokenIssue,
		Outcome: audit.OutcomeFailure,
		ActorID: actorID,
		Error:   err.Error(),
	})
	return err
}

// lookupFailed separates a missing record from a credential store outage.
// Lookups fail closed: an outage surfaces as a temporary failure, never as
// a not-found that sends the caller back to re-authenticate against a
// store that cannot answer.
func (s *Service) lookupFailed(kind, id string, err error) error {
	if errors.Is(err, auth.ErrNotFound) {
		return fmt.Errorf("load %s %s: %w", kind, id, auth.ErrNotFound)
	}
	if s.logger != nil {
		s.logger.WithError(err).WithField(kind, id).Error("credential store lookup failed")
	}
	if s.metrics != nil {
		s.metrics.StoreErrorsTotal.WithLabelValues("credential").Inc()
	}
	return fmt.Errorf("load %s %s: %w", kind, id, auth.ErrStoreUnavailable)
}

// verifyFailed audits a verification rejected after its signature checked
// out. Parse failures stay unaudited: they carry no trusted subject and
// the throttle layer already counts them.
func (s *Service) verifyFailed(ctx context.Context, subject string, err error) error {
	s.emit(ctx, audit.Event{
		Action:  audit.ActionTokenVerify,
		Outcome: audit.OutcomeFailure,
		ActorID: subject,
		Error:   err.Error(),
	})
	return err
}

// emit is fire and forget: audit failures never fail the operation, the
// sink counts them instead.
func (s *Service) emit(ctx context.Context, event audit.Event) {
	if event.Time.IsZero() {
		event.Time = s.now()
	}
	if err := s.sink.Emit(ctx, &event); err != nil && s.metrics != nil {
		s.metrics.AuditEmitFailuresTotal.Inc()
	}
}

func (s *Service) countIssue(outcome string) {
	if s.metrics != nil {
		s.metrics.TokensIssuedTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) countVerify(err error) {
	if s.metrics == nil {
		return
	}
	code := "ok"
	if err != nil {
		code = string(auth.CodeOf(err))
	}
	s.metrics.TokenVerificationsTotal.WithLabelValues(code).Inc()
}

func (s *Service) countRefresh(err error) {
	if s.metrics == nil {
		return
	}
	code := "ok"
	if err != nil {
		code = string(auth.CodeOf(err))
	}
	s.metrics.TokenRefreshesTotal.WithLabelValues(code).Inc()
}
