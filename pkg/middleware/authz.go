package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/staykeeper/gatehouse/pkg/audit"
	"github.com/staykeeper/gatehouse/pkg/auth"
	"github.com/staykeeper/gatehouse/pkg/observability"
	"github.com/staykeeper/gatehouse/pkg/rbac"
)

// Authorizer gates requests on resolved role permissions. It runs after
// the authenticator, so a missing identity here is a wiring bug and is
// rejected rather than assumed anonymous.
type Authorizer struct {
	resolver *rbac.Resolver
	metrics  *observability.Metrics
}

// NewAuthorizer wraps a permission resolver.
func NewAuthorizer(resolver *rbac.Resolver, metrics *observability.Metrics) *Authorizer {
	return &Authorizer{resolver: resolver, metrics: metrics}
}

// RequirePermissions rejects requests whose role does not hold the given
// permissions under the mode. Denials are audited with the missing
// requirement, never with the caller's full grant set.
func (a *Authorizer) RequirePermissions(mode rbac.Mode, permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verified := Identity(r)
			if verified == nil {
				WriteError(w, auth.ErrInvalidCredential)
				return
			}
			if !a.resolver.Authorize(verified.Role, permissions, mode) {
				a.deny(r, verified.Identity.ID, audit.ActionAccessDenied, map[string]interface{}{
					"required": permissions,
					"role":     verified.Role.Name,
				})
				WriteError(w, auth.ErrInsufficient)
				return
			}
			a.count("allowed")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuthority rejects requests whose role ranks below the floor role.
func (a *Authorizer) RequireAuthority(floorRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verified := Identity(r)
			if verified == nil {
				WriteError(w, auth.ErrInvalidCredential)
				return
			}
			if !a.resolver.MeetsAuthority(verified.Role.Name, floorRole) {
				a.deny(r, verified.Identity.ID, audit.ActionAccessDenied, map[string]interface{}{
					"required_authority": floorRole,
					"role":               verified.Role.Name,
				})
				WriteError(w, auth.ErrInsufficient)
				return
			}
			a.count("allowed")
			next.ServeHTTP(w, r)
		})
	}
}

// AuthorizeAssignment gates a role grant: the caller may only hand out a
// role strictly below their own authority, never their own level or above.
// Handlers that change an identity's role call this before writing.
// Denials are audited as escalation attempts.
func (a *Authorizer) AuthorizeAssignment(r *http.Request, requestedRole string) error {
	verified := Identity(r)
	if verified == nil {
		return auth.ErrInvalidCredential
	}
	if !a.resolver.CanAssign(verified.Role.Name, requestedRole) {
		a.deny(r, verified.Identity.ID, audit.ActionEscalation, map[string]interface{}{
			"requested_role": requestedRole,
			"role":           verified.Role.Name,
		})
		return fmt.Errorf("assign role %s: %w", requestedRole, auth.ErrEscalationDenied)
	}
	a.count("allowed")
	return nil
}

func (a *Authorizer) deny(r *http.Request, actorID string, action audit.Action, metadata map[string]interface{}) {
	a.count("denied")
	sink := audit.FromContext(r.Context())
	sink.Emit(r.Context(), &audit.Event{
		Time:       time.Now(),
		Action:     action,
		Outcome:    audit.OutcomeFailure,
		ActorID:    actorID,
		IP:         ClientIP(r),
		RequestID:  RequestID(r),
		TargetKind: "route",
		TargetID:   r.Method + " " + r.URL.Path,
		Metadata:   metadata,
	})
}

func (a *Authorizer) count(outcome string) {
	if a.metrics != nil {
		a.metrics.AuthorizationChecksTotal.WithLabelValues(outcome).Inc()
	}
}
